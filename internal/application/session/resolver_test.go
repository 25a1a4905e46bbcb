package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/persistence/memory"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

func newTestResolver(provider progress.IdentityProvider, kv progress.KeyValueStore, timeout time.Duration) *Resolver {
	return NewResolver(provider, NewLocalState(kv), NewSessionContext(), timeout, logger.Discard())
}

func TestResolver_ResolveTwicePromptsOnce(t *testing.T) {
	ctx := context.Background()
	provider := walletOn(progress.BaseSepolia)
	kv := memory.NewKV()
	r := newTestResolver(provider, kv, 0)

	first, err := r.Resolve(ctx)
	require.NoError(t, err)
	second, err := r.Resolve(ctx)
	require.NoError(t, err)

	assert.Equal(t, testWallet, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), provider.prompts.Load())

	// A new page load in the same browser reads the persisted key.
	next := newTestResolver(provider, kv, 0)
	third, err := next.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Equal(t, int32(1), provider.prompts.Load())
}

func TestResolver_ConcurrentResolvesShareOnePrompt(t *testing.T) {
	provider := walletOn(progress.BaseSepolia)
	provider.gate = make(chan struct{})
	r := newTestResolver(provider, memory.NewKV(), time.Second)

	var wg sync.WaitGroup
	results := make([]progress.Identity, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Resolve(context.Background())
			assert.NoError(t, err)
			results[i] = id
		}(i)
	}

	require.Eventually(t, func() bool { return provider.prompts.Load() == 1 }, defaultWait, tick)
	close(provider.gate)
	wg.Wait()

	assert.Equal(t, int32(1), provider.prompts.Load())
	for _, id := range results {
		assert.Equal(t, testWallet, id)
	}
}

func TestResolver_Failures(t *testing.T) {
	tests := []struct {
		name     string
		provider progress.IdentityProvider
		timeout  time.Duration
		want     error
	}{
		{
			name: "no provider",
			want: shared.ErrNoProvider,
		},
		{
			name:     "empty account list",
			provider: &fakeProvider{},
			want:     shared.ErrNoProvider,
		},
		{
			name:     "user rejected",
			provider: &fakeProvider{accountErr: shared.ErrUserRejected},
			want:     shared.ErrUserRejected,
		},
		{
			name:     "prompt never answered",
			provider: &fakeProvider{gate: make(chan struct{})},
			timeout:  20 * time.Millisecond,
			want:     shared.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := memory.NewKV()
			r := newTestResolver(tt.provider, kv, tt.timeout)

			id, err := r.Resolve(context.Background())
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, shared.IsIdentityUnavailable(err))
			var de *shared.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "identity", de.Domain)
			assert.Equal(t, "Resolve", de.Op)
			assert.True(t, id.IsZero())
			assert.Equal(t, 0, kv.Len(), "failed resolves must not persist anything")
		})
	}
}

func TestResolver_Invalidate(t *testing.T) {
	ctx := context.Background()
	provider := walletOn(progress.BaseSepolia)
	kv := memory.NewKV()
	r := newTestResolver(provider, kv, 0)

	_, err := r.Resolve(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Invalidate(ctx))

	_, ok := r.session.Identity()
	assert.False(t, ok)
	_, err = kv.Get(ctx, progress.KeyIdentity)
	assert.True(t, shared.IsNotFound(err))

	_, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.prompts.Load())
}
