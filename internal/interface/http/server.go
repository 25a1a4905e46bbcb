// Package http implements progressd, the REST progress store that the
// progress engine's backend client talks to.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/interface/http/handlers"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config controls the listener, limits and access rules of progressd.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64 // 0 disables the body limit

	EnableCORS     bool
	AllowedOrigins []string // "*" allows any origin

	RateLimitPerMinute int // per client IP, 0 disables

	// APIKeys guard the write routes. Empty leaves them open.
	APIKeyHeader string
	APIKeys      []string
}

// DefaultConfig listens on :8080 with CORS open and 300 requests per minute
// per client.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       64 << 10,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 300,
		APIKeyHeader:       "X-API-Key",
	}
}

// Address is host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProgressStore is the persistence progressd serves.
type ProgressStore interface {
	progress.Store
	progress.Registrar

	// RegisteredAt returns shared.ErrNotFound for unknown identities.
	RegisteredAt(ctx context.Context, id progress.Identity) (time.Time, error)
}

type Dependencies struct {
	Store         ProgressStore
	Catalog       *progress.Catalog
	HealthChecker handlers.HealthChecker // nil reports healthy
	Logger        *slog.Logger
	Version       string
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the progressd HTTP server. It serves once; after Shutdown it
// cannot be restarted.
type Server struct {
	config  Config
	deps    Dependencies
	logger  *slog.Logger
	limiter *rateLimiter
	handler http.Handler
	srv     *http.Server
	serving atomic.Bool
}

// NewServer wires routes and middleware. It does not listen.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Catalog == nil {
		deps.Catalog = progress.DefaultCatalog
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: logger.OrDefault(deps.Logger).With(logger.Component("http")),
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.handler = s.middleware(s.routes())
	s.srv = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the routes wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// probes and discovery
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api", s.handleRoot)

	// progress API; only writes need a key
	auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys)
	mux.HandleFunc("GET /api/database/get-user-data", s.handleGetUserData)
	mux.Handle("POST /api/database/update_field", auth.Middleware(http.HandlerFunc(s.handleUpdateField)))
	mux.Handle("POST /api/database/init-user", auth.Middleware(http.HandlerFunc(s.handleInitUser)))
	return mux
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address(), err)
	}
	return s.Serve(ln)
}

// Serve blocks serving ln until Shutdown. A clean shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	if !s.serving.CompareAndSwap(false, true) {
		_ = ln.Close()
		return errors.New("server already running")
	}
	s.logger.Info("serving", slog.String("address", ln.Addr().String()))

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends. A Serve call that comes after Shutdown returns at once.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.serving.Load() {
		s.logger.Info("shutting down")
	}
	return s.srv.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the {"detail": "..."} body the backend client reads.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
