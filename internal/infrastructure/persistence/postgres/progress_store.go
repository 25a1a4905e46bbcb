package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/circuitbreaker"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
	"github.com/basecamp-labs/progress-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

var (
	_ progress.Store     = (*ProgressStore)(nil)
	_ progress.Registrar = (*ProgressStore)(nil)
)

// ProgressStore implements progress.Store and progress.Registrar over the
// users and user_progress tables.
type ProgressStore struct {
	conn    *Connection
	catalog *progress.Catalog
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(conn *Connection, catalog *progress.Catalog, l *slog.Logger) *ProgressStore {
	if catalog == nil {
		catalog = progress.DefaultCatalog
	}
	l = logger.OrDefault(l).With(logger.Component("postgres"))

	return &ProgressStore{
		conn:    conn,
		catalog: catalog,
		retrier: retry.DatabaseRetrier(retry.WithRetryIf(IsTransient)),
		breaker: circuitbreaker.DatabaseBreaker(func(name string, from, to circuitbreaker.State) {
			l.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}, circuitbreaker.WithIsFailure(isOutage)),
		logger: l,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// RegisteredAt returns when the identity registered.
// Returns shared.ErrNotFound if it never did.
func (s *ProgressStore) RegisteredAt(ctx context.Context, id progress.Identity) (time.Time, error) {
	query := `SELECT created_at FROM users WHERE wallet = $1`

	var createdAt time.Time
	err := s.run(ctx, func(ctx context.Context) error {
		return s.conn.QueryRow(ctx, query, id.String()).Scan(&createdAt)
	})
	if IsNoRows(err) {
		return time.Time{}, shared.NewDomainError("postgres", "RegisteredAt", shared.ErrNotFound, "wallet not registered: "+id.String())
	}
	if err != nil {
		return time.Time{}, wrap("RegisteredAt", err)
	}
	return createdAt.UTC(), nil
}

// Progress returns every stored flag for the identity. An unregistered
// identity has no rows and yields empty flags.
func (s *ProgressStore) Progress(ctx context.Context, id progress.Identity) (progress.RemoteProgress, error) {
	query := `SELECT module, done FROM user_progress WHERE wallet = $1`

	var flags map[progress.ModuleName]bool
	err := s.run(ctx, func(ctx context.Context) error {
		rows, err := s.conn.Query(ctx, query, id.String())
		if err != nil {
			return err
		}
		defer rows.Close()

		flags = make(map[progress.ModuleName]bool)
		for rows.Next() {
			var module string
			var done bool
			if err := rows.Scan(&module, &done); err != nil {
				return fmt.Errorf("failed to scan progress row: %w", err)
			}
			flags[progress.ModuleName(module)] = done
		}
		return rows.Err()
	})
	if err != nil {
		return progress.RemoteProgress{}, wrap("Progress", err)
	}

	return progress.RemoteProgress{
		Identity:  id,
		Flags:     flags,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// SetFlag marks the module complete. The upsert ORs the stored value so a
// flag that is already true never goes back.
func (s *ProgressStore) SetFlag(ctx context.Context, id progress.Identity, m progress.ModuleName) error {
	if err := s.catalog.ValidateModule(m); err != nil {
		return err
	}

	err := s.run(ctx, func(ctx context.Context) error {
		return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := ensureUser(ctx, tx, id); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO user_progress (wallet, module, done, updated_at)
				VALUES ($1, $2, TRUE, NOW())
				ON CONFLICT (wallet, module) DO UPDATE SET
					done = user_progress.done OR EXCLUDED.done,
					updated_at = NOW()
			`, id.String(), m.String())
			return err
		})
	})
	if err != nil {
		return wrap("SetFlag", err)
	}

	s.logger.Debug("flag stored", logger.Identity(id.Short()), logger.Module(m.String()))
	return nil
}

// Register creates the user row and an all-false flag row for every catalog
// module. Existing rows are left untouched.
func (s *ProgressStore) Register(ctx context.Context, id progress.Identity) (bool, error) {
	modules := make([]string, 0, len(s.catalog.Modules()))
	for _, m := range s.catalog.Modules() {
		modules = append(modules, m.String())
	}

	var created bool
	err := s.run(ctx, func(ctx context.Context) error {
		return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			if created, err = ensureUser(ctx, tx, id); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO user_progress (wallet, module, done)
				SELECT $1, module, FALSE FROM unnest($2::text[]) AS module
				ON CONFLICT (wallet, module) DO NOTHING
			`, id.String(), modules)
			return err
		})
	})
	if err != nil {
		return false, wrap("Register", err)
	}

	if created {
		s.logger.Info("user registered", logger.Identity(id.Short()))
	}
	return created, nil
}

// ensureUser inserts the user row if missing and reports whether it did.
func ensureUser(ctx context.Context, q Querier, id progress.Identity) (bool, error) {
	tag, err := q.Exec(ctx, `INSERT INTO users (wallet) VALUES ($1) ON CONFLICT (wallet) DO NOTHING`, id.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// run executes op under the circuit breaker, retrying transient failures.
func (s *ProgressStore) run(ctx context.Context, op func(ctx context.Context) error) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.retrier.Do(ctx, op)
	})
}

// wrap maps database failures onto progress error kinds.
func wrap(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("postgres", op, shared.ErrTimeout, "database timed out", err)
	default:
		return shared.WrapError("postgres", op, shared.ErrUnreachable, "database operation failed", err)
	}
}

// isOutage keeps empty results and caller cancellation out of the breaker.
func isOutage(err error) bool {
	return !IsNoRows(err) && !errors.Is(err, context.Canceled)
}
