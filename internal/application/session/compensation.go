package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPENSATION POLICY
// Grants the practice group once when the wallet cannot reach the target
// network, so the learner is not blocked by their environment.
// ══════════════════════════════════════════════════════════════════════════════

// Outcome describes what Apply did.
type Outcome struct {
	// Triggered is true when the verdict was unsupported and no record existed.
	Triggered bool

	// Granted is true when every module is stored and the record was written.
	Granted bool

	// Written lists modules written to the store by this call.
	Written []progress.ModuleName

	// Skipped lists modules that were already confirmed and not rewritten.
	Skipped []progress.ModuleName
}

// PartialWriteError reports the modules a compensation grant could not store.
// The record stays unset so a later page load resumes with these modules.
type PartialWriteError struct {
	Identity progress.Identity
	Failed   []progress.ModuleName
	Errs     []error
}

// Error implements the error interface.
func (e *PartialWriteError) Error() string {
	names := make([]string, len(e.Failed))
	for i, m := range e.Failed {
		names[i] = m.String()
	}
	return fmt.Sprintf("compensation: %d module(s) not stored for %s: %s",
		len(e.Failed), e.Identity.Short(), strings.Join(names, ", "))
}

// Is matches shared.ErrPartialWrite.
func (e *PartialWriteError) Is(target error) bool {
	return target == shared.ErrPartialWrite
}

// Unwrap returns the individual write errors.
func (e *PartialWriteError) Unwrap() []error {
	return e.Errs
}

// Compensation applies the one-time practice grant.
type Compensation struct {
	group      progress.Group
	reconciler *Reconciler
	cache      *Cache
	state      *LocalState
	session    *SessionContext
	now        func() time.Time
	logger     *slog.Logger
}

// NewCompensation creates the policy for the catalog's practice group.
func NewCompensation(catalog *progress.Catalog, reconciler *Reconciler, cache *Cache, state *LocalState, session *SessionContext, l *slog.Logger) (*Compensation, error) {
	group, err := catalog.Lookup(progress.GroupPractice)
	if err != nil {
		return nil, err
	}
	return &Compensation{
		group:      group,
		reconciler: reconciler,
		cache:      cache,
		state:      state,
		session:    session,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.OrDefault(l).With(logger.Component("compensation")),
	}, nil
}

// Apply grants the practice group when verdict is unsupported and no
// CompensationRecord exists for the identity.
//
// Modules already confirmed true are not rewritten. Each remaining module
// is written independently; if any write fails a *PartialWriteError is
// returned and the record is left unset.
func (c *Compensation) Apply(ctx context.Context, id progress.Identity, verdict progress.Verdict) (Outcome, error) {
	if verdict != progress.VerdictUnsupported {
		return Outcome{}, nil
	}
	if c.Granted(ctx, id) {
		return Outcome{}, nil
	}

	out := Outcome{Triggered: true}
	partial := &PartialWriteError{Identity: id}

	for _, m := range c.group.Modules {
		changed, err := c.cache.SetOptimistic(ctx, id, m)
		if err != nil {
			return out, err
		}
		if !changed {
			out.Skipped = append(out.Skipped, m)
		}
	}

	snap := c.cache.Get(ctx, id)
	for _, m := range c.group.Modules {
		if snap.Confirmed(m) {
			continue
		}
		if err := c.reconciler.Write(ctx, id, m); err != nil {
			partial.Failed = append(partial.Failed, m)
			partial.Errs = append(partial.Errs, err)
			continue
		}
		out.Written = append(out.Written, m)
	}

	if len(partial.Failed) > 0 {
		c.logger.Warn("compensation incomplete, will resume on next load",
			logger.Identity(id.Short()),
			logger.Modules(moduleStrings(partial.Failed)),
		)
		return out, partial
	}

	rec := progress.CompensationRecord{Identity: id, GrantedAt: c.now()}
	if err := c.state.SaveCompensation(ctx, rec); err != nil {
		return out, shared.WrapError("compensation", "Apply", shared.ErrPartialWrite, "grant stored but record not saved", err)
	}
	c.session.setCompensation(&rec)
	out.Granted = true

	c.logger.Info("practice modules granted",
		logger.Identity(id.Short()),
		logger.Modules(moduleStrings(out.Written)),
	)
	return out, nil
}

// Granted reports whether the record already exists for the identity.
// An unreadable record counts as absent; re-applying only rewrites modules
// that are not yet confirmed.
func (c *Compensation) Granted(ctx context.Context, id progress.Identity) bool {
	if rec := c.session.Compensation(); rec != nil && rec.Identity == id {
		return true
	}
	rec, err := c.state.LoadCompensation(ctx, id)
	if err != nil {
		c.logger.Warn("compensation record unreadable", logger.Identity(id.Short()), logger.Err(err))
		return false
	}
	if rec == nil {
		return false
	}
	c.session.setCompensation(rec)
	return true
}
