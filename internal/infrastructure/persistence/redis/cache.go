// Package redis implements the local-state key/value store on Redis.
//
// Every key is namespaced under a configurable prefix so several wallets or
// environments can share one Redis database. Snapshot keys may carry a TTL
// unless they hold completions the remote store has not confirmed; identity
// and compensation records never expire.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config selects the Redis server and the key namespace.
type Config struct {
	Addr     string
	Password string
	DB       int

	Prefix      string        // prepended to every key, e.g. "basecamp:"
	SnapshotTTL time.Duration // expiry of fully confirmed progress_snapshot keys, 0 for none

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig targets a local Redis and keeps snapshots for a week.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Prefix:       "basecamp:",
		SnapshotTTL:  7 * 24 * time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrConnection = errors.New("localstate: redis connection failed")
	ErrKeyEmpty   = errors.New("localstate: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

var _ progress.KeyValueStore = (*Store)(nil)

// Store is a progress.KeyValueStore backed by Redis strings.
type Store struct {
	client *redis.Client
	config Config
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return &Store{client: client, config: cfg}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the value stored under key.
// Returns shared.ErrNotFound when the key is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.NewDomainError("localstate", "Get", shared.ErrNotFound, "no value for "+key)
	}
	if err != nil {
		return nil, shared.WrapError("localstate", "Get", shared.ErrUnreachable, "redis get failed", err)
	}
	return data, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrKeyEmpty
	}

	if err := s.client.Set(ctx, s.key(key), value, s.ttl(key, value)).Err(); err != nil {
		return shared.WrapError("localstate", "Put", shared.ErrUnreachable, "redis set failed", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyEmpty
	}

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return shared.WrapError("localstate", "Delete", shared.ErrUnreachable, "redis del failed", err)
	}
	return nil
}

// Keys lists the unprefixed keys in the namespace, in SCAN order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	iter := s.client.Scan(ctx, 0, s.config.Prefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.config.Prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, shared.WrapError("localstate", "Keys", shared.ErrUnreachable, "redis scan failed", err)
	}
	return keys, nil
}

func (s *Store) key(k string) string {
	return s.config.Prefix + k
}

// ttl is zero for snapshots with pending completions: the snapshot is the
// only record of them until the next page load resends them. A plain SET
// also clears a TTL left by an earlier confirmed version of the key.
func (s *Store) ttl(key string, value []byte) time.Duration {
	if s.config.SnapshotTTL <= 0 || !strings.HasPrefix(key, progress.KeySnapshotPrefix) {
		return 0
	}
	var snap progress.Snapshot
	if err := json.Unmarshal(value, &snap); err != nil || len(snap.PendingModules()) > 0 {
		return 0
	}
	return s.config.SnapshotTTL
}
