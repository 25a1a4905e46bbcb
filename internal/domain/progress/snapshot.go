package progress

import (
	"sort"
	"time"
)

// RemoteProgress is the authoritative flag set as returned by a Store.
type RemoteProgress struct {
	Identity  Identity
	Flags     map[ModuleName]bool
	FetchedAt time.Time
}

// Normalize drops modules outside the catalog and fills missing modules
// with false.
func (r RemoteProgress) Normalize(c *Catalog) RemoteProgress {
	flags := make(map[ModuleName]bool, len(c.index))
	for _, m := range c.Modules() {
		flags[m] = r.Flags[m]
	}
	return RemoteProgress{Identity: r.Identity, Flags: flags, FetchedAt: r.FetchedAt}
}

// Snapshot is the locally known flag set for one identity.
//
// Flags holds every module observed true. Pending holds the subset that was
// set optimistically and has not been confirmed by the remote store yet.
type Snapshot struct {
	Identity  Identity            `json:"identity"`
	Flags     map[ModuleName]bool `json:"flags"`
	Pending   map[ModuleName]bool `json:"pending,omitempty"`
	FetchedAt time.Time           `json:"fetched_at,omitempty"`
}

// NewSnapshot returns an empty snapshot for the identity.
func NewSnapshot(id Identity) *Snapshot {
	return &Snapshot{
		Identity: id,
		Flags:    make(map[ModuleName]bool),
		Pending:  make(map[ModuleName]bool),
	}
}

// ensure initializes maps on snapshots decoded from storage.
func (s *Snapshot) ensure() {
	if s.Flags == nil {
		s.Flags = make(map[ModuleName]bool)
	}
	if s.Pending == nil {
		s.Pending = make(map[ModuleName]bool)
	}
}

// IsComplete reports whether the module is shown as completed.
func (s *Snapshot) IsComplete(m ModuleName) bool {
	if s == nil {
		return false
	}
	return s.Flags[m]
}

// Confirmed reports whether the module is true and acknowledged remotely.
func (s *Snapshot) Confirmed(m ModuleName) bool {
	if s == nil {
		return false
	}
	return s.Flags[m] && !s.Pending[m]
}

// SetOptimistic marks the module complete ahead of remote confirmation.
// It returns false when the module was already confirmed.
func (s *Snapshot) SetOptimistic(m ModuleName) bool {
	s.ensure()
	if s.Confirmed(m) {
		return false
	}
	s.Flags[m] = true
	s.Pending[m] = true
	return true
}

// Confirm records a successful remote write for the module.
func (s *Snapshot) Confirm(m ModuleName) {
	s.ensure()
	s.Flags[m] = true
	delete(s.Pending, m)
}

// Merge folds a remote flag set into the snapshot by logical OR.
// A remote true confirms a pending optimistic flag. It returns the modules
// that became visible as completed because of this merge.
func (s *Snapshot) Merge(remote RemoteProgress) []ModuleName {
	s.ensure()
	var gained []ModuleName
	for m, done := range remote.Flags {
		if !done {
			continue
		}
		if !s.Flags[m] {
			gained = append(gained, m)
		}
		s.Flags[m] = true
		delete(s.Pending, m)
	}
	if remote.FetchedAt.After(s.FetchedAt) {
		s.FetchedAt = remote.FetchedAt
	}
	SortModules(gained)
	return gained
}

// PendingModules returns the unconfirmed optimistic modules in name order.
func (s *Snapshot) PendingModules() []ModuleName {
	if s == nil {
		return nil
	}
	out := make([]ModuleName, 0, len(s.Pending))
	for m, pending := range s.Pending {
		if pending {
			out = append(out, m)
		}
	}
	SortModules(out)
	return out
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Identity:  s.Identity,
		Flags:     make(map[ModuleName]bool, len(s.Flags)),
		Pending:   make(map[ModuleName]bool, len(s.Pending)),
		FetchedAt: s.FetchedAt,
	}
	for m, v := range s.Flags {
		out.Flags[m] = v
	}
	for m, v := range s.Pending {
		out.Pending[m] = v
	}
	return out
}

// SortModules sorts module names in place.
func SortModules(ms []ModuleName) {
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
}
