// Package memory provides in-process local state and progress store
// backends. Contents live only as long as the process; they back tests,
// one-shot CLI runs and progressd in development without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
)

var _ progress.KeyValueStore = (*KV)(nil)

// KV is a concurrency-safe map-backed key-value store.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKV creates an empty store.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (kv *KV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	v, ok := kv.data[key]
	if !ok {
		return nil, shared.NewDomainError("localstate", "Get", shared.ErrNotFound, "key "+key+" not found")
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores a copy of value under key.
func (kv *KV) Put(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = v
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

// Len returns the number of stored keys.
func (kv *KV) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.data)
}

// Keys returns every stored key in sorted order.
func (kv *KV) Keys(_ context.Context) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
