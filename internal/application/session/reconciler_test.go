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

type reconcilerHarness struct {
	session    *SessionContext
	state      *LocalState
	cache      *Cache
	reconciler *Reconciler
}

func newReconcilerHarness(store progress.Store) *reconcilerHarness {
	sc := NewSessionContext()
	state := NewLocalState(memory.NewKV())
	cache := NewCache(state, progress.DefaultCatalog, logger.Discard())
	return &reconcilerHarness{
		session:    sc,
		state:      state,
		cache:      cache,
		reconciler: NewReconciler(store, cache, sc, time.Second, time.Second, logger.Discard()),
	}
}

func TestReconciler_RefreshSecurityScenario(t *testing.T) {
	store := newFakeStore()
	store.set(testWallet, map[progress.ModuleName]bool{
		progress.ModuleLab1: true,
		progress.ModuleLab2: false,
		progress.ModuleLab3: false,
		progress.ModuleLab4: false,
		progress.ModuleLab5: false,
	})
	h := newReconcilerHarness(store)

	snap, err := h.reconciler.Refresh(context.Background(), nil, testWallet)
	require.NoError(t, err)

	security, _ := progress.DefaultCatalog.Lookup(progress.GroupSecurity)
	assert.Equal(t, 20, progress.Percentage(snap, security))

	persisted, err := h.state.LoadSnapshot(context.Background(), testWallet)
	require.NoError(t, err)
	assert.True(t, persisted.IsComplete(progress.ModuleLab1))
}

func TestReconciler_UnreachableKeepsCache(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	h := newReconcilerHarness(store)
	h.cache.Confirm(ctx, testWallet, progress.ModuleTheory1)

	store.failReads(errUnreachable)
	snap, err := h.reconciler.Refresh(ctx, nil, testWallet)

	assert.ErrorIs(t, err, shared.ErrUnreachable)
	assert.True(t, shared.IsStale(err))
	require.NotNil(t, snap)
	assert.True(t, snap.IsComplete(progress.ModuleTheory1))
	assert.True(t, h.cache.Get(ctx, testWallet).IsComplete(progress.ModuleTheory1))
}

func TestReconciler_MalformedIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newReconcilerHarness(progressFunc(func(context.Context, progress.Identity) (progress.RemoteProgress, error) {
		return progress.RemoteProgress{}, nil
	}))
	h.cache.Confirm(ctx, testWallet, progress.ModuleSend)

	snap, err := h.reconciler.Refresh(ctx, nil, testWallet)
	assert.ErrorIs(t, err, shared.ErrMalformed)
	assert.True(t, snap.IsComplete(progress.ModuleSend))

	other := newReconcilerHarness(progressFunc(func(context.Context, progress.Identity) (progress.RemoteProgress, error) {
		return progress.RemoteProgress{Identity: "0xDEF", Flags: map[progress.ModuleName]bool{progress.ModuleMint: true}}, nil
	}))
	snap, err = other.reconciler.Refresh(ctx, nil, testWallet)
	assert.ErrorIs(t, err, shared.ErrMalformed)
	assert.False(t, snap.IsComplete(progress.ModuleMint))
}

func TestReconciler_ConcurrentRefreshesShareOneRequest(t *testing.T) {
	store := newFakeStore()
	store.set(testWallet, map[progress.ModuleName]bool{progress.ModuleFaucet: true})
	store.gate = make(chan struct{})
	h := newReconcilerHarness(store)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := h.reconciler.Refresh(context.Background(), nil, testWallet)
			assert.NoError(t, err)
			assert.True(t, snap.IsComplete(progress.ModuleFaucet))
		}()
	}

	require.Eventually(t, func() bool { return store.reads.Load() == 1 }, defaultWait, tick)
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.Equal(t, int32(1), store.reads.Load())
}

func TestReconciler_DiscardsResultForClosedPage(t *testing.T) {
	store := newFakeStore()
	store.set(testWallet, map[progress.ModuleName]bool{progress.ModuleLaunch: true})
	store.gate = make(chan struct{})
	h := newReconcilerHarness(store)

	page := h.session.BeginPage(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.reconciler.Refresh(page.Context(), page, testWallet)
		done <- err
	}()

	require.Eventually(t, func() bool { return store.reads.Load() == 1 }, defaultWait, tick)
	h.session.EndPage(page)
	close(store.gate)

	assert.ErrorIs(t, <-done, ErrPageClosed)
	assert.False(t, h.cache.Get(context.Background(), testWallet).IsComplete(progress.ModuleLaunch))
}

func TestReconciler_RetryPending(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	h := newReconcilerHarness(store)

	_, err := h.cache.SetOptimistic(ctx, testWallet, progress.ModuleMint)
	require.NoError(t, err)
	_, err = h.cache.SetOptimistic(ctx, testWallet, progress.ModuleLab2)
	require.NoError(t, err)
	store.failWrites(progress.ModuleLab2, errUnreachable)

	still := h.reconciler.RetryPending(ctx, testWallet, nil)
	assert.Equal(t, []progress.ModuleName{progress.ModuleLab2}, still)
	assert.True(t, store.stored(testWallet, progress.ModuleMint))

	snap := h.cache.Get(ctx, testWallet)
	assert.True(t, snap.Confirmed(progress.ModuleMint))
	assert.True(t, snap.IsComplete(progress.ModuleLab2), "failed writes keep the optimistic flag")
	assert.Equal(t, 1, store.writeCount(progress.ModuleLab2))
}

// progressFunc adapts a function to progress.Store for shape tests.
type progressFunc func(context.Context, progress.Identity) (progress.RemoteProgress, error)

func (f progressFunc) Progress(ctx context.Context, id progress.Identity) (progress.RemoteProgress, error) {
	return f(ctx, id)
}

func (progressFunc) SetFlag(context.Context, progress.Identity, progress.ModuleName) error {
	return nil
}
