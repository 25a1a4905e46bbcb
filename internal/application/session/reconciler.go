package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// Default remote call budgets.
const (
	DefaultRefreshTimeout = 8 * time.Second
	DefaultWriteTimeout   = 8 * time.Second
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS RECONCILER
// ══════════════════════════════════════════════════════════════════════════════

// Reconciler keeps the cache in line with the remote progress store.
// Reads and writes to the store both go through it.
type Reconciler struct {
	store        progress.Store
	cache        *Cache
	session      *SessionContext
	readTimeout  time.Duration
	writeTimeout time.Duration
	flight       singleflight.Group
	logger       *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(store progress.Store, cache *Cache, session *SessionContext, readTimeout, writeTimeout time.Duration, l *slog.Logger) *Reconciler {
	if readTimeout <= 0 {
		readTimeout = DefaultRefreshTimeout
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Reconciler{
		store:        store,
		cache:        cache,
		session:      session,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		logger:       logger.OrDefault(l).With(logger.Component("reconciler")),
	}
}

// Refresh fetches the authoritative flags for the identity and merges them
// into the cache.
//
// On ErrUnreachable, ErrMalformed or ErrTimeout the cache is left untouched
// and the stale snapshot is returned together with the error. Concurrent
// refreshes for one identity share a single request. If page is no longer
// current when the result arrives, the result is discarded and
// ErrPageClosed is returned.
func (r *Reconciler) Refresh(ctx context.Context, page *Page, id progress.Identity) (*progress.Snapshot, error) {
	ch := r.flight.DoChan(string(id), func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), id)
	})
	remote, err := await[progress.RemoteProgress](ctx, ch)

	if page != nil && !r.session.Current(page) {
		r.logger.Debug("discarding refresh for closed page",
			logger.Identity(id.Short()),
			logger.PageToken(page.Token.String()),
		)
		return nil, ErrPageClosed
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("refresh failed, keeping cached progress",
				logger.Identity(id.Short()),
				logger.Err(err),
			)
		}
		return r.cache.Get(ctx, id), err
	}

	snap, gained := r.cache.Merge(ctx, remote)
	if len(gained) > 0 {
		r.logger.Debug("remote progress merged",
			logger.Identity(id.Short()),
			logger.Modules(moduleStrings(gained)),
		)
	}
	return snap, nil
}

// fetch performs the shared store read and validates its shape.
func (r *Reconciler) fetch(ctx context.Context, id progress.Identity) (progress.RemoteProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	remote, err := r.store.Progress(ctx, id)
	if err != nil {
		return progress.RemoteProgress{}, classifyStoreError("Refresh", err)
	}
	if remote.Flags == nil {
		return progress.RemoteProgress{}, shared.NewDomainError("progress", "Refresh", shared.ErrMalformed, "response carries no progress object")
	}
	if !remote.Identity.IsZero() && remote.Identity != id {
		return progress.RemoteProgress{}, shared.NewDomainError("progress", "Refresh", shared.ErrMalformed, "response is for a different identity")
	}
	remote.Identity = id
	if remote.FetchedAt.IsZero() {
		remote.FetchedAt = time.Now().UTC()
	}
	return remote, nil
}

// Write sends one module flag to the store and confirms it in the cache.
// The call is bounded by the write timeout and survives cancellation of ctx.
func (r *Reconciler) Write(ctx context.Context, id progress.Identity, m progress.ModuleName) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.store.SetFlag(ctx, id, m); err != nil {
		return classifyStoreError("Write", err)
	}
	r.cache.Confirm(ctx, id, m)
	return nil
}

// RetryPending re-sends optimistic flags left unconfirmed by an earlier page
// load. Each module is tried once. It returns the modules still pending.
func (r *Reconciler) RetryPending(ctx context.Context, id progress.Identity, skip map[progress.ModuleName]bool) []progress.ModuleName {
	var still []progress.ModuleName
	for _, m := range r.cache.Get(ctx, id).PendingModules() {
		if skip[m] {
			continue
		}
		if err := r.Write(ctx, id, m); err != nil {
			r.logger.Warn("pending completion still not stored",
				logger.Identity(id.Short()),
				logger.Module(m.String()),
				logger.Err(err),
			)
			still = append(still, m)
		}
	}
	return still
}

// classifyStoreError maps store failures onto the stale-data kinds.
func classifyStoreError(op string, err error) error {
	switch {
	case errors.Is(err, shared.ErrMalformed), errors.Is(err, shared.ErrUnreachable), errors.Is(err, shared.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("progress", op, shared.ErrTimeout, "progress store timed out", err)
	default:
		return shared.WrapError("progress", op, shared.ErrUnreachable, "progress store failed", err)
	}
}

func moduleStrings(ms []progress.ModuleName) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}
