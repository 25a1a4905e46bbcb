package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	migrationTable = "schema_migrations"
	markerUp       = "-- +migrate Up"
	markerDown     = "-- +migrate Down"
)

// Migration is one versioned schema change. Files are named
// NNNN_name.sql and hold an Up and a Down section.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// LoadMigrations parses the embedded migration files in version order.
func LoadMigrations() ([]Migration, error) {
	return parseMigrations(migrationFS, "migrations")
}

func parseMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".sql")
		num, name, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(num)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("%w: bad migration file name %q", ErrMigrationFailed, e.Name())
		}

		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		up, down := splitMigration(string(body))
		if up == "" {
			return nil, fmt.Errorf("%w: %s has no up section", ErrMigrationFailed, e.Name())
		}
		out = append(out, Migration{Version: version, Name: name, UpSQL: up, DownSQL: down})
	}

	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("%w: duplicate version %d", ErrMigrationFailed, out[i].Version)
		}
	}
	return out, nil
}

// splitMigration returns the trimmed Up and Down sections. A file without
// markers is all Up.
func splitMigration(content string) (up, down string) {
	i := strings.Index(content, markerUp)
	if i < 0 {
		return strings.TrimSpace(content), ""
	}
	rest := content[i+len(markerUp):]
	up, down, _ = strings.Cut(rest, markerDown)
	return strings.TrimSpace(up), strings.TrimSpace(down)
}

// Migrator tracks applied versions in schema_migrations and applies each
// migration in its own transaction.
type Migrator struct {
	conn *Connection
	load func() ([]Migration, error)
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, load: LoadMigrations}
}

// Migrate applies every pending migration in version order.
func (m *Migrator) Migrate(ctx context.Context) error {
	all, applied, err := m.state(ctx)
	if err != nil {
		return err
	}
	for _, mig := range all {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO "+migrationTable+" (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %04d_%s: %w", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the highest applied migration. With nothing applied it
// does nothing.
func (m *Migrator) Rollback(ctx context.Context) error {
	all, applied, err := m.state(ctx)
	if err != nil {
		return err
	}

	var last *Migration
	for i := range all {
		if _, ok := applied[all[i].Version]; ok {
			last = &all[i]
		}
	}
	if last == nil {
		return nil
	}
	if last.DownSQL == "" {
		return fmt.Errorf("%w: %04d_%s has no down section", ErrMigrationFailed, last.Version, last.Name)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, last.DownSQL); err != nil {
			return fmt.Errorf("%w: revert %04d_%s: %w", ErrMigrationFailed, last.Version, last.Name, err)
		}
		_, err := tx.Exec(ctx, "DELETE FROM "+migrationTable+" WHERE version = $1", last.Version)
		return err
	})
}

// Status lists every known migration with its applied time.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	all, applied, err := m.state(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if at, ok := applied[all[i].Version]; ok {
			all[i].IsApplied, all[i].AppliedAt = true, at
		}
	}
	return all, nil
}

// state loads the migration files and the applied versions, creating the
// tracking table on first use.
func (m *Migrator) state(ctx context.Context) ([]Migration, map[int]time.Time, error) {
	all, err := m.load()
	if err != nil {
		return nil, nil, err
	}

	const create = `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`
	if _, err := m.conn.Exec(ctx, create); err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", migrationTable, err)
	}

	rows, err := m.conn.Query(ctx, "SELECT version, applied_at FROM "+migrationTable)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", migrationTable, err)
	}
	applied := make(map[int]time.Time)
	var (
		version int
		at      time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&version, &at}, func() error {
		applied[version] = at
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", migrationTable, err)
	}
	return all, applied, nil
}
