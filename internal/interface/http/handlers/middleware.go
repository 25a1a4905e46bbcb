package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// MiddlewareFunc wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// ChainHandler applies middlewares so that the first one runs outermost.
func ChainHandler(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// APIKeyAuth checks a static key taken from a named header or, failing
// that, from an "Authorization: Bearer" header.
type APIKeyAuth struct {
	header string
	keys   [][]byte
}

// NewAPIKeyAuth ignores empty keys. With none left the middleware is a
// pass-through.
func NewAPIKeyAuth(header string, keys []string) *APIKeyAuth {
	a := &APIKeyAuth{header: header}
	for _, k := range keys {
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

func (a *APIKeyAuth) Enabled() bool { return len(a.keys) > 0 }

// IsValid compares key against every configured key in constant time.
func (a *APIKeyAuth) IsValid(key string) bool {
	ok := false
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), k) == 1 {
			ok = true
		}
	}
	return ok
}

func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(a.header)
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		switch {
		case key == "":
			writeDetail(w, http.StatusUnauthorized, "API key is required")
		case !a.IsValid(key):
			writeDetail(w, http.StatusUnauthorized, "Invalid API key")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// SecurityHeadersMiddleware forbids sniffing and framing.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimitMiddleware rejects declared oversize bodies with 413 and
// caps undeclared ones with http.MaxBytesReader.
func RequestSizeLimitMiddleware(maxBytes int64) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
