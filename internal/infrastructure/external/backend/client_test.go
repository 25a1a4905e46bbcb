package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/circuitbreaker"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

const testWallet = "0x52908400098527886E0F7030069857D2E4169EE7"

func newTestClient(t *testing.T, handler http.Handler, attempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL)
	cfg.MaxAttempts = attempts
	cfg.Logger = logger.Discard()
	return NewClient(cfg)
}

func mustIdentity(t *testing.T) progress.Identity {
	t.Helper()
	id, err := progress.ParseIdentity(testWallet)
	require.NoError(t, err)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Progress(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathUserData, r.URL.Path)
		assert.Equal(t, testWallet, r.URL.Query().Get("wallet_address"))
		writeJSON(w, http.StatusOK, map[string]any{
			"info": map[string]any{"wallet": testWallet},
			"progress": map[string]any{
				"faucet":        true,
				"send":          nil,
				"theory1":       false,
				"wallet":        testWallet,
				"completed_all": false,
			},
		})
	}), 1)

	remote, err := client.Progress(context.Background(), mustIdentity(t))
	require.NoError(t, err)
	assert.Equal(t, mustIdentity(t), remote.Identity)
	assert.False(t, remote.FetchedAt.IsZero())
	assert.Equal(t, map[progress.ModuleName]bool{
		"faucet":  true,
		"send":    false,
		"theory1": false,
	}, remote.Flags)
}

func TestClient_ProgressNotFoundIsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorDTO{Detail: "User not found"})
	}), 1)

	remote, err := client.Progress(context.Background(), mustIdentity(t))
	require.NoError(t, err)
	assert.NotNil(t, remote.Flags)
	assert.Empty(t, remote.Flags)
}

func TestClient_ProgressMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>oops</html>"},
		{name: "missing progress", body: `{"info":{}}`},
		{name: "non boolean module", body: `{"progress":{"lab1":"yes"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}), 3)

			_, err := client.Progress(context.Background(), mustIdentity(t))
			assert.ErrorIs(t, err, shared.ErrMalformed)
			assert.Equal(t, int32(1), calls.Load(), "malformed responses are not retried")
		})
	}
}

func TestClient_RetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, ErrorDTO{Detail: "busy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}), 3)

	require.NoError(t, client.SetFlag(context.Background(), mustIdentity(t), progress.ModuleLab3))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_PermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, ErrorDTO{Detail: "Invalid field"})
	}), 3)

	err := client.SetFlag(context.Background(), mustIdentity(t), progress.ModuleLab3)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrUnreachable)
	assert.Contains(t, err.Error(), "Invalid field")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, client.BreakerState())
}

func TestClient_SetFlagBody(t *testing.T) {
	var got UpdateFieldRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathUpdateField, r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}), 1)

	require.NoError(t, client.SetFlag(context.Background(), mustIdentity(t), progress.ModuleMint))
	assert.Equal(t, UpdateFieldRequest{
		Wallet:    testWallet,
		TableName: TableUserProgress,
		FieldName: "mint",
		Value:     true,
	}, got)
}

func TestClient_Register(t *testing.T) {
	var created atomic.Bool
	created.Store(true)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathInitUser, r.URL.Path)
		var req InitUserRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testWallet, req.Wallet)
		writeJSON(w, http.StatusOK, InitUserResponse{Success: true, Created: created.Swap(false)})
	}), 1)

	first, err := client.Register(context.Background(), mustIdentity(t))
	require.NoError(t, err)
	assert.True(t, first)

	second, err := client.Register(context.Background(), mustIdentity(t))
	require.NoError(t, err)
	assert.False(t, second)
}

func TestClient_BreakerOpensOnOutage(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, ErrorDTO{Detail: "down"})
	}), 1)

	id := mustIdentity(t)
	for range 3 {
		_, err := client.Progress(context.Background(), id)
		assert.ErrorIs(t, err, shared.ErrUnreachable)
	}
	assert.Equal(t, circuitbreaker.StateOpen, client.BreakerState())

	_, err := client.Progress(context.Background(), id)
	assert.ErrorIs(t, err, shared.ErrUnreachable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Timeout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Progress(ctx, mustIdentity(t))
	assert.ErrorIs(t, err, shared.ErrTimeout)
}
