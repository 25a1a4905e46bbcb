package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCompositeHealthChecker(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		st := NewCompositeHealthChecker("v1").Check(context.Background())
		assert.True(t, st.Healthy)
		assert.Equal(t, "No health checks registered", st.Message)
		assert.Equal(t, "v1", st.Version)
	})

	t.Run("failures are listed sorted", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("redis", NewPingCheck(pinger{err: errors.New("refused")}))
		c.AddCheck("database", NewPingCheck(pinger{err: errors.New("timeout")}))
		c.AddCheck("wallet", NewPingCheck(pinger{}))

		st := c.Check(context.Background())
		assert.False(t, st.Healthy)
		assert.Equal(t, "Some checks failed: database, redis", st.Message)
		assert.True(t, st.Checks["wallet"].Healthy)
		assert.Equal(t, "refused", st.Checks["redis"].Message)
	})

	t.Run("slow check hits the timeout", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.SetTimeout(10 * time.Millisecond)
		c.AddCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		st := c.Check(context.Background())
		assert.False(t, st.Healthy)
		assert.Equal(t, context.DeadlineExceeded.Error(), st.Checks["slow"].Message)
	})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth("X-API-Key", []string{"", "secret"})
	require.True(t, auth.Enabled())
	h := auth.Middleware(okHandler())

	cases := []struct {
		name   string
		header http.Header
		status int
		detail string
	}{
		{"missing", http.Header{}, http.StatusUnauthorized, "API key is required"},
		{"wrong", http.Header{"X-Api-Key": {"nope"}}, http.StatusUnauthorized, "Invalid API key"},
		{"header", http.Header{"X-Api-Key": {"secret"}}, http.StatusNoContent, ""},
		{"bearer", http.Header{"Authorization": {"Bearer secret"}}, http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header = tc.header
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.detail != "" {
				assert.JSONEq(t, `{"detail":"`+tc.detail+`"}`, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuth_DisabledWithoutKeys(t *testing.T) {
	auth := NewAPIKeyAuth("X-API-Key", []string{""})
	assert.False(t, auth.Enabled())

	rec := httptest.NewRecorder()
	auth.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestSizeLimit(t *testing.T) {
	h := RequestSizeLimitMiddleware(4)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChainHandler_FirstRunsOutermost(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := ChainHandler(okHandler(), mark("a"), mark("b"), SecurityHeadersMiddleware)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
