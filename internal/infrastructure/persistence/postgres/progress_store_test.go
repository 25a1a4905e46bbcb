package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// testDatabaseEnv names a disposable database for the integration tests.
const testDatabaseEnv = "PROGRESS_TEST_DATABASE_URL"

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "wrapped serialization failure", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40001"}), want: true},
		{name: "closed pool", err: ErrConnectionClosed, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "no rows", err: pgx.ErrNoRows, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsOutage(t *testing.T) {
	assert.False(t, isOutage(pgx.ErrNoRows))
	assert.False(t, isOutage(context.Canceled))
	assert.True(t, isOutage(errors.New("connection refused")))
}

func TestWrap(t *testing.T) {
	assert.ErrorIs(t, wrap("Progress", context.DeadlineExceeded), shared.ErrTimeout)
	assert.ErrorIs(t, wrap("Progress", errors.New("boom")), shared.ErrUnreachable)
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
		assert.NotContains(t, m.UpSQL, markerDown)
	}
	assert.Equal(t, "create_users", migrations[0].Name)
}

func TestParseMigrations(t *testing.T) {
	t.Run("sorted by version", func(t *testing.T) {
		fsys := fstest.MapFS{
			"m/0010_late.sql":  {Data: []byte("-- +migrate Up\nSELECT 10;\n-- +migrate Down\nSELECT -10;")},
			"m/0002_early.sql": {Data: []byte("SELECT 2;")},
			"m/README.md":      {Data: []byte("ignored")},
		}
		got, err := parseMigrations(fsys, "m")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, Migration{Version: 2, Name: "early", UpSQL: "SELECT 2;"}, got[0])
		assert.Equal(t, Migration{Version: 10, Name: "late", UpSQL: "SELECT 10;", DownSQL: "SELECT -10;"}, got[1])
	})

	bad := map[string]fstest.MapFS{
		"no version": {"m/create.sql": {Data: []byte("SELECT 1;")}},
		"duplicate":  {"m/0001_a.sql": {Data: []byte("SELECT 1;")}, "m/01_b.sql": {Data: []byte("SELECT 1;")}},
		"empty up":   {"m/0001_a.sql": {Data: []byte("-- +migrate Up\n-- +migrate Down\nDROP TABLE a;")}},
	}
	for name, fsys := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := parseMigrations(fsys, "m")
			assert.ErrorIs(t, err, ErrMigrationFailed)
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Integration
// ─────────────────────────────────────────────────────────────────────────────

func newIntegrationStore(t *testing.T) *ProgressStore {
	t.Helper()
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	ctx := context.Background()
	conn, err := Connect(ctx, url, DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, NewMigrator(conn).Migrate(ctx))
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `TRUNCATE users CASCADE`)
	})

	return NewProgressStore(conn, progress.DefaultCatalog, logger.Discard())
}

func TestProgressStore_RegisterAndSetFlag(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	id, err := progress.ParseIdentity("0x52908400098527886E0F7030069857D2E4169EE7")
	require.NoError(t, err)

	_, err = store.RegisteredAt(ctx, id)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	created, err := store.Register(ctx, id)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Register(ctx, id)
	require.NoError(t, err)
	assert.False(t, created)

	remote, err := store.Progress(ctx, id)
	require.NoError(t, err)
	assert.Len(t, remote.Flags, len(progress.DefaultCatalog.Modules()))
	for m, done := range remote.Flags {
		assert.False(t, done, m)
	}

	require.NoError(t, store.SetFlag(ctx, id, progress.ModuleLab1))
	require.NoError(t, store.SetFlag(ctx, id, progress.ModuleLab1))

	remote, err = store.Progress(ctx, id)
	require.NoError(t, err)
	assert.True(t, remote.Flags[progress.ModuleLab1])
	assert.False(t, remote.Flags[progress.ModuleLab2])

	// Registering again never resets a completed module.
	_, err = store.Register(ctx, id)
	require.NoError(t, err)
	remote, err = store.Progress(ctx, id)
	require.NoError(t, err)
	assert.True(t, remote.Flags[progress.ModuleLab1])

	registeredAt, err := store.RegisteredAt(ctx, id)
	require.NoError(t, err)
	assert.False(t, registeredAt.IsZero())
}

func TestProgressStore_SetFlagRegistersImplicitly(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	id, err := progress.ParseIdentity("0x000000000000000000000000000000000000dEaD")
	require.NoError(t, err)

	require.NoError(t, store.SetFlag(ctx, id, progress.ModuleFaucet))

	remote, err := store.Progress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[progress.ModuleName]bool{progress.ModuleFaucet: true}, remote.Flags)

	assert.ErrorIs(t, store.SetFlag(ctx, id, "quiz9"), shared.ErrUnknownModule)
}
