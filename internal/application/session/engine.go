package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAGE STATE
// ══════════════════════════════════════════════════════════════════════════════

// NoticeKind classifies non-blocking notices shown next to the page.
type NoticeKind string

const (
	// NoticeIdentityUnavailable: no wallet identity this session.
	NoticeIdentityUnavailable NoticeKind = "identity_unavailable"
	// NoticeStale: remote progress could not be read; cached values shown.
	NoticeStale NoticeKind = "stale"
	// NoticeCompensationGranted: the practice group was granted this load.
	NoticeCompensationGranted NoticeKind = "compensation_granted"
	// NoticePendingWrites: some completions are not stored remotely yet.
	NoticePendingWrites NoticeKind = "pending_writes"
	// NoticeWelcome: the identity was registered for the first time.
	NoticeWelcome NoticeKind = "welcome"
)

// Notice is a single non-blocking message for the rendering layer.
type Notice struct {
	Kind    NoticeKind            `json:"kind"`
	Message string                `json:"message"`
	Modules []progress.ModuleName `json:"modules,omitempty"`
}

// PageState is everything a page needs to render.
type PageState struct {
	Token       uuid.UUID                  `json:"token"`
	Identity    progress.Identity          `json:"identity,omitempty"`
	Verdict     progress.Verdict           `json:"-"`
	Snapshot    *progress.Snapshot         `json:"snapshot,omitempty"`
	Percentages map[progress.GroupName]int `json:"percentages"`
	Rollup      progress.Rollup            `json:"rollup"`
	Notices     []Notice                   `json:"notices,omitempty"`
}

// HasNotice reports whether a notice of the given kind is present.
func (s *PageState) HasNotice(kind NoticeKind) bool {
	for _, n := range s.Notices {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

func (s *PageState) notice(kind NoticeKind, msg string, modules ...progress.ModuleName) {
	s.Notices = append(s.Notices, Notice{Kind: kind, Message: msg, Modules: modules})
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Config contains engine timing and network settings.
type Config struct {
	Target         progress.NetworkID
	ResolveTimeout time.Duration
	ProbeTimeout   time.Duration
	RefreshTimeout time.Duration
	WriteTimeout   time.Duration
	JoinTimeout    time.Duration
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		Target:         progress.BaseSepolia,
		ResolveTimeout: DefaultResolveTimeout,
		ProbeTimeout:   DefaultProbeTimeout,
		RefreshTimeout: DefaultRefreshTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		JoinTimeout:    5 * time.Second,
	}
}

// Dependencies are the collaborators the engine is built from.
type Dependencies struct {
	// Provider is the wallet connector. Nil means no wallet is installed.
	Provider progress.IdentityProvider
	// Checker optionally verifies the target network answers.
	Checker progress.NetworkChecker
	// Store is the remote progress store. Required.
	Store progress.Store
	// Local is the persisted local state backend. Required.
	Local progress.KeyValueStore
	// Catalog defaults to progress.DefaultCatalog.
	Catalog *progress.Catalog
	Logger  *slog.Logger
}

// Engine is the single accessor surface for the rendering layer.
type Engine struct {
	catalog      *progress.Catalog
	session      *SessionContext
	state        *LocalState
	provider     progress.IdentityProvider
	store        progress.Store
	resolver     *Resolver
	probe        *Probe
	cache        *Cache
	reconciler   *Reconciler
	compensation *Compensation
	config       Config
	logger       *slog.Logger

	mu    sync.Mutex
	page  *Page
	tasks *Tasks
}

// NewEngine wires the session components together.
func NewEngine(deps Dependencies, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("session: progress store is required")
	}
	if deps.Local == nil {
		return nil, errors.New("session: local state backend is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = progress.DefaultCatalog
	}
	if cfg.Target == "" {
		cfg.Target = progress.BaseSepolia
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultConfig().JoinTimeout
	}
	l := logger.OrDefault(deps.Logger)

	sc := NewSessionContext()
	state := NewLocalState(deps.Local)
	cache := NewCache(state, deps.Catalog, l)
	reconciler := NewReconciler(deps.Store, cache, sc, cfg.RefreshTimeout, cfg.WriteTimeout, l)
	compensation, err := NewCompensation(deps.Catalog, reconciler, cache, state, sc, l)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Engine{
		catalog:      deps.Catalog,
		session:      sc,
		state:        state,
		provider:     deps.Provider,
		store:        deps.Store,
		resolver:     NewResolver(deps.Provider, state, sc, cfg.ResolveTimeout, l),
		probe:        NewProbe(deps.Provider, deps.Checker, cfg.Target, sc, cfg.ProbeTimeout, l),
		cache:        cache,
		reconciler:   reconciler,
		compensation: compensation,
		config:       cfg,
		logger:       l.With(logger.Component("engine")),
		tasks:        NewTasks(l),
	}, nil
}

// Session returns the shared session context.
func (e *Engine) Session() *SessionContext {
	return e.session
}

// LoadPage runs one page load: resolve the identity, register it, probe
// capability and refresh progress concurrently, resume unfinished writes and
// apply compensation.
//
// The returned PageState is never nil. The error is non-nil only when no
// identity is available or the page was ended before loading finished;
// stale data and pending writes are reported as notices.
func (e *Engine) LoadPage(ctx context.Context) (*PageState, error) {
	page := e.beginPage(ctx)
	pctx := page.Context()
	st := &PageState{Token: page.Token, Verdict: progress.VerdictIndeterminate}

	id, err := e.resolver.Resolve(pctx)
	if err != nil && (!e.session.Current(page) || errors.Is(err, context.Canceled)) {
		e.fill(st, nil)
		return st, ErrPageClosed
	}
	if err != nil {
		st.notice(NoticeIdentityUnavailable, err.Error())
		e.fill(st, nil)
		return st, err
	}
	st.Identity = id

	if created := e.register(pctx, id); created {
		st.notice(NoticeWelcome, "welcome, your progress is now tracked")
	}

	var (
		verdict    progress.Verdict
		refreshErr error
	)
	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error {
		verdict = e.probe.Probe(gctx, id)
		return nil
	})
	g.Go(func() error {
		_, refreshErr = e.reconciler.Refresh(gctx, page, id)
		return nil
	})
	_ = g.Wait()

	if errors.Is(refreshErr, ErrPageClosed) || !e.session.Current(page) {
		return st, ErrPageClosed
	}
	st.Verdict = verdict
	if refreshErr != nil {
		st.notice(NoticeStale, "showing saved progress, the progress service did not answer")
	}

	var pending []progress.ModuleName
	outcome, compErr := e.compensation.Apply(pctx, id, verdict)
	var partial *PartialWriteError
	switch {
	case errors.As(compErr, &partial):
		pending = append(pending, partial.Failed...)
	case compErr != nil:
		e.logger.Warn("compensation failed", logger.Identity(id.Short()), logger.Err(compErr))
	case outcome.Granted:
		st.notice(NoticeCompensationGranted, "your wallet cannot use the test network, practice labs were credited", outcome.Written...)
	}

	// Modules the grant just tried are not sent a second time.
	skip := make(map[progress.ModuleName]bool)
	if outcome.Triggered {
		for _, m := range e.practiceModules() {
			skip[m] = true
		}
	}
	pending = append(pending, e.reconciler.RetryPending(pctx, id, skip)...)
	if len(pending) > 0 {
		progress.SortModules(pending)
		st.notice(NoticePendingWrites, "some completions are saved locally and will be sent later", pending...)
	}

	if !e.session.Current(page) {
		return st, ErrPageClosed
	}
	e.fill(st, e.cache.Get(pctx, id))
	return st, nil
}

// EndPage invalidates the current page and joins its background writes.
// Late results for the page are discarded.
func (e *Engine) EndPage(ctx context.Context) error {
	e.mu.Lock()
	page, tasks := e.page, e.tasks
	e.page = nil
	e.tasks = NewTasks(e.logger)
	e.mu.Unlock()

	e.session.EndPage(page)

	ctx, cancel := context.WithTimeout(ctx, e.config.JoinTimeout)
	defer cancel()
	return tasks.Wait(ctx)
}

// Percentage returns the completion percentage of a group for the current
// identity. Without an identity every group is at 0.
func (e *Engine) Percentage(ctx context.Context, group progress.GroupName) (int, error) {
	g, err := e.catalog.Lookup(group)
	if err != nil {
		return 0, err
	}
	return progress.Percentage(e.Snapshot(ctx), g), nil
}

// IsComplete reports whether the module is shown as completed.
func (e *Engine) IsComplete(ctx context.Context, m progress.ModuleName) bool {
	return e.Snapshot(ctx).IsComplete(m)
}

// Snapshot returns a copy of the current identity's snapshot, or nil
// without an identity.
func (e *Engine) Snapshot(ctx context.Context) *progress.Snapshot {
	id, ok := e.session.Identity()
	if !ok {
		return nil
	}
	return e.cache.Get(ctx, id)
}

// RecordCompletion marks the module complete locally and sends the remote
// write in the background. A failed write keeps the local flag pending; it
// is retried on the next page load.
func (e *Engine) RecordCompletion(ctx context.Context, m progress.ModuleName) error {
	id, ok := e.session.Identity()
	if !ok {
		return shared.NewDomainError("progress", "RecordCompletion", shared.ErrNoIdentity, "no identity resolved")
	}
	changed, err := e.cache.SetOptimistic(ctx, id, m)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	write := func() error {
		if err := e.reconciler.Write(ctx, id, m); err != nil {
			return fmt.Errorf("record %s for %s: %w", m, id.Short(), err)
		}
		return nil
	}

	e.mu.Lock()
	started := e.tasks.Go("record_completion", write)
	e.mu.Unlock()
	if !started {
		return write()
	}
	return nil
}

// SwitchNetwork asks the wallet to move to the target network. On success
// the memoized verdict is dropped so the next page load probes again.
func (e *Engine) SwitchNetwork(ctx context.Context) error {
	if e.provider == nil {
		return shared.ErrProviderMissing
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.ResolveTimeout)
	defer cancel()

	if err := e.provider.SwitchNetwork(ctx, e.probe.Target()); err != nil {
		return err
	}
	e.session.clearVerdict()
	return nil
}

// Forget drops the resolved identity and its local progress.
func (e *Engine) Forget(ctx context.Context) error {
	id, ok := e.session.Identity()
	if err := e.resolver.Invalidate(ctx); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	e.cache.Forget(id)
	return e.state.Forget(ctx, id)
}

func (e *Engine) beginPage(ctx context.Context) *Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.page != nil {
		e.session.EndPage(e.page)
	}
	e.page = e.session.BeginPage(ctx)
	return e.page
}

// register creates the identity in stores that need it. Failures are
// logged; the page still loads from whatever the store returns.
func (e *Engine) register(ctx context.Context, id progress.Identity) bool {
	reg, ok := e.store.(progress.Registrar)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
	defer cancel()

	created, err := reg.Register(ctx, id)
	if err != nil {
		e.logger.Warn("identity registration failed", logger.Identity(id.Short()), logger.Err(err))
		return false
	}
	return created
}

func (e *Engine) practiceModules() []progress.ModuleName {
	g, err := e.catalog.Lookup(progress.GroupPractice)
	if err != nil {
		return nil
	}
	return g.Modules
}

func (e *Engine) fill(st *PageState, snap *progress.Snapshot) {
	st.Snapshot = snap
	st.Percentages = make(map[progress.GroupName]int, len(e.catalog.Groups()))
	for _, g := range e.catalog.Groups() {
		st.Percentages[g.Name] = progress.Percentage(snap, g)
	}
	st.Rollup = progress.RollupOf(snap, e.catalog)
}
