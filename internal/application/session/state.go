package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
)

// LocalState is the typed view over the persisted local keys.
type LocalState struct {
	kv progress.KeyValueStore
}

// NewLocalState wraps a key-value backend.
func NewLocalState(kv progress.KeyValueStore) *LocalState {
	return &LocalState{kv: kv}
}

// LoadIdentity returns the persisted identity, or "" if none is stored.
func (s *LocalState) LoadIdentity(ctx context.Context) (progress.Identity, error) {
	raw, err := s.kv.Get(ctx, progress.KeyIdentity)
	if shared.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("local state: load identity: %w", err)
	}
	var stored string
	if err := json.Unmarshal(raw, &stored); err != nil {
		return "", fmt.Errorf("local state: decode identity: %w", err)
	}
	if stored == "" {
		return "", nil
	}
	return progress.ParseIdentity(stored)
}

// SaveIdentity persists the identity.
func (s *LocalState) SaveIdentity(ctx context.Context, id progress.Identity) error {
	return s.put(ctx, progress.KeyIdentity, id.String())
}

// ClearIdentity removes the persisted identity.
func (s *LocalState) ClearIdentity(ctx context.Context) error {
	return s.delete(ctx, progress.KeyIdentity)
}

// LoadCompensation returns the compensation record, or nil if none exists.
func (s *LocalState) LoadCompensation(ctx context.Context, id progress.Identity) (*progress.CompensationRecord, error) {
	var rec progress.CompensationRecord
	ok, err := s.get(ctx, progress.CompensationKey(id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// SaveCompensation persists the compensation record.
func (s *LocalState) SaveCompensation(ctx context.Context, rec progress.CompensationRecord) error {
	return s.put(ctx, progress.CompensationKey(rec.Identity), rec)
}

// LoadSnapshot returns the persisted snapshot, or nil if none exists.
func (s *LocalState) LoadSnapshot(ctx context.Context, id progress.Identity) (*progress.Snapshot, error) {
	snap := progress.NewSnapshot(id)
	ok, err := s.get(ctx, progress.SnapshotKey(id), snap)
	if err != nil || !ok {
		return nil, err
	}
	if snap.Identity != id {
		return nil, fmt.Errorf("local state: snapshot identity %q does not match %q", snap.Identity, id)
	}
	return snap, nil
}

// SaveSnapshot persists the snapshot.
func (s *LocalState) SaveSnapshot(ctx context.Context, snap *progress.Snapshot) error {
	return s.put(ctx, progress.SnapshotKey(snap.Identity), snap)
}

// Forget removes everything stored for the identity.
func (s *LocalState) Forget(ctx context.Context, id progress.Identity) error {
	if err := s.delete(ctx, progress.SnapshotKey(id)); err != nil {
		return err
	}
	return s.delete(ctx, progress.CompensationKey(id))
}

func (s *LocalState) get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if shared.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("local state: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("local state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *LocalState) put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("local state: encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("local state: put %s: %w", key, err)
	}
	return nil
}

func (s *LocalState) delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !shared.IsNotFound(err) {
		return fmt.Errorf("local state: delete %s: %w", key, err)
	}
	return nil
}
