package memory

import (
	"context"
	"sync"
	"time"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
)

var (
	_ progress.Store     = (*ProgressStore)(nil)
	_ progress.Registrar = (*ProgressStore)(nil)
)

// ProgressStore keeps users and their flags in memory. It mirrors the
// PostgreSQL store: writes are monotone and SetFlag registers implicitly.
type ProgressStore struct {
	catalog *progress.Catalog
	now     func() time.Time

	mu    sync.RWMutex
	users map[progress.Identity]time.Time
	flags map[progress.Identity]map[progress.ModuleName]bool
}

// NewProgressStore creates an empty store.
func NewProgressStore(catalog *progress.Catalog) *ProgressStore {
	if catalog == nil {
		catalog = progress.DefaultCatalog
	}
	return &ProgressStore{
		catalog: catalog,
		now:     time.Now,
		users:   make(map[progress.Identity]time.Time),
		flags:   make(map[progress.Identity]map[progress.ModuleName]bool),
	}
}

// RegisteredAt returns when the identity registered.
func (s *ProgressStore) RegisteredAt(_ context.Context, id progress.Identity) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.users[id]
	if !ok {
		return time.Time{}, shared.NewDomainError("memory", "RegisteredAt", shared.ErrNotFound, "wallet not registered: "+id.String())
	}
	return at, nil
}

// Progress returns a copy of the identity's flags.
func (s *ProgressStore) Progress(_ context.Context, id progress.Identity) (progress.RemoteProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags := make(map[progress.ModuleName]bool, len(s.flags[id]))
	for m, done := range s.flags[id] {
		flags[m] = done
	}
	return progress.RemoteProgress{Identity: id, Flags: flags, FetchedAt: s.now().UTC()}, nil
}

// SetFlag marks the module complete.
func (s *ProgressStore) SetFlag(_ context.Context, id progress.Identity, m progress.ModuleName) error {
	if err := s.catalog.ValidateModule(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id)
	s.flags[id][m] = true
	return nil
}

// Register creates the identity with every module false. Existing flags are
// kept.
func (s *ProgressStore) Register(_ context.Context, id progress.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := s.ensure(id)
	for _, m := range s.catalog.Modules() {
		if _, ok := s.flags[id][m]; !ok {
			s.flags[id][m] = false
		}
	}
	return created, nil
}

// ensure must be called with mu held.
func (s *ProgressStore) ensure(id progress.Identity) bool {
	if _, ok := s.users[id]; ok {
		return false
	}
	s.users[id] = s.now().UTC()
	s.flags[id] = make(map[progress.ModuleName]bool)
	return true
}
