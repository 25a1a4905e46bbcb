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

// DefaultResolveTimeout bounds the wallet account prompt.
const DefaultResolveTimeout = 4 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// Resolver obtains the wallet identity once and caches it across page loads.
type Resolver struct {
	provider progress.IdentityProvider
	state    *LocalState
	session  *SessionContext
	timeout  time.Duration
	flight   singleflight.Group
	logger   *slog.Logger
}

// NewResolver creates a Resolver. provider may be nil when no wallet is
// installed; Resolve then fails with ErrNoProvider on a cache miss.
func NewResolver(provider progress.IdentityProvider, state *LocalState, session *SessionContext, timeout time.Duration, l *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Resolver{
		provider: provider,
		state:    state,
		session:  session,
		timeout:  timeout,
		logger:   logger.OrDefault(l).With(logger.Component("resolver")),
	}
}

// Resolve returns the current identity.
//
// The session and the persisted identity key are consulted first. Only on a
// miss is the provider prompted, and concurrent misses share one prompt.
func (r *Resolver) Resolve(ctx context.Context) (progress.Identity, error) {
	if id, ok := r.session.Identity(); ok {
		return id, nil
	}

	stored, err := r.state.LoadIdentity(ctx)
	if err != nil {
		r.logger.Warn("persisted identity unreadable, prompting provider", logger.Err(err))
	}
	if !stored.IsZero() {
		r.session.setIdentity(stored)
		return stored, nil
	}

	if r.provider == nil {
		return "", shared.ErrProviderMissing
	}

	ch := r.flight.DoChan("resolve", func() (any, error) {
		return r.request(context.WithoutCancel(ctx))
	})
	return await[progress.Identity](ctx, ch)
}

// request prompts the provider and records the result.
func (r *Resolver) request(ctx context.Context) (progress.Identity, error) {
	// A flight that finished just before this one started already has the answer.
	if id, ok := r.session.Identity(); ok {
		return id, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	accounts, err := r.provider.RequestAccounts(ctx)
	if err != nil {
		return "", classifyProviderError(err)
	}
	if len(accounts) == 0 {
		return "", shared.ErrProviderMissing
	}

	id, err := progress.ParseIdentity(accounts[0])
	if err != nil {
		return "", shared.WrapError("identity", "Resolve", shared.ErrNoProvider, "provider returned an unusable account", err)
	}

	if err := r.state.SaveIdentity(ctx, id); err != nil {
		r.logger.Warn("failed to persist identity", logger.Identity(id.Short()), logger.Err(err))
	}
	r.session.setIdentity(id)
	r.logger.Info("identity resolved", logger.Identity(id.Short()))
	return id, nil
}

// Invalidate forgets the identity for this session and for later ones.
func (r *Resolver) Invalidate(ctx context.Context) error {
	r.session.clearIdentity()
	r.flight.Forget("resolve")
	return r.state.ClearIdentity(ctx)
}

func classifyProviderError(err error) error {
	switch {
	case errors.Is(err, shared.ErrUserRejected):
		return shared.WrapError("identity", "Resolve", shared.ErrUserRejected, "user declined the account request", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shared.ErrTimeout):
		return shared.WrapError("identity", "Resolve", shared.ErrTimeout, "account request timed out", err)
	default:
		return shared.WrapError("identity", "Resolve", shared.ErrNoProvider, "wallet provider failed", err)
	}
}
