// Package backend implements the REST client for the remote progress store.
// It speaks the get-user-data / update_field / init-user API and maps every
// failure onto the progress error kinds.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/circuitbreaker"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
	"github.com/basecamp-labs/progress-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the backend client.
type ClientConfig struct {
	// BaseURL is the backend base URL, without a trailing slash.
	BaseURL string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// MaxAttempts bounds retries of temporary failures.
	MaxAttempts int

	// APIKey is sent as X-API-Key when set.
	APIKey string

	// Catalog decides which progress fields are module flags.
	Catalog *progress.Catalog

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		Catalog:     progress.DefaultCatalog,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

var (
	_ progress.Store     = (*Client)(nil)
	_ progress.Registrar = (*Client)(nil)
)

// Client is the progress backend REST client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a new backend client.
func NewClient(config ClientConfig) *Client {
	if config.Catalog == nil {
		config.Catalog = progress.DefaultCatalog
	}
	l := logger.OrDefault(config.Logger).With(logger.Component("backend"))

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     l,
	}
	c.retrier = retry.BackendRetrier(
		retry.WithMaxAttempts(config.MaxAttempts),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			l.Debug("retrying backend request",
				slog.Int("attempt", attempt),
				logger.Latency(delay),
				logger.Err(err),
			)
		}),
	)
	c.breaker = circuitbreaker.BackendBreaker(
		func(name string, from, to circuitbreaker.State) {
			l.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		circuitbreaker.WithIsFailure(isOutage),
	)
	return c
}

// Progress fetches the flags stored for the identity.
//
// A missing progress object or a non-boolean module value is ErrMalformed.
// A 404 means the identity has no row yet and yields all-false flags.
func (c *Client) Progress(ctx context.Context, id progress.Identity) (progress.RemoteProgress, error) {
	path := PathUserData + "?wallet_address=" + url.QueryEscape(id.String())

	var dto UserDataDTO
	err := c.do(ctx, http.MethodGet, path, nil, &dto)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return progress.RemoteProgress{Identity: id, Flags: map[progress.ModuleName]bool{}, FetchedAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return progress.RemoteProgress{}, c.classify("Progress", err)
	}

	flags, err := c.decodeFlags(dto)
	if err != nil {
		return progress.RemoteProgress{}, err
	}
	return progress.RemoteProgress{Identity: id, Flags: flags, FetchedAt: time.Now().UTC()}, nil
}

// SetFlag marks the module complete.
func (c *Client) SetFlag(ctx context.Context, id progress.Identity, m progress.ModuleName) error {
	body := UpdateFieldRequest{
		Wallet:    id.String(),
		TableName: TableUserProgress,
		FieldName: m.String(),
		Value:     true,
	}
	if err := c.do(ctx, http.MethodPost, PathUpdateField, body, nil); err != nil {
		return c.classify("SetFlag", err)
	}
	return nil
}

// Register creates the identity's rows on first visit.
func (c *Client) Register(ctx context.Context, id progress.Identity) (bool, error) {
	var resp InitUserResponse
	if err := c.do(ctx, http.MethodPost, PathInitUser, InitUserRequest{Wallet: id.String()}, &resp); err != nil {
		return false, c.classify("Register", err)
	}
	return resp.Success && resp.Created, nil
}

// BreakerState exposes the circuit state for diagnostics.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// decodeFlags validates the progress object against the catalog.
// Unknown fields are ignored; null counts as false.
func (c *Client) decodeFlags(dto UserDataDTO) (map[progress.ModuleName]bool, error) {
	if dto.Progress == nil {
		return nil, shared.NewDomainError("backend", "Progress", shared.ErrMalformed, "response has no progress object")
	}

	flags := make(map[progress.ModuleName]bool)
	for field, raw := range dto.Progress {
		m := progress.ModuleName(field)
		if !c.config.Catalog.Known(m) {
			continue
		}
		if string(raw) == "null" {
			flags[m] = false
			continue
		}
		var done bool
		if err := json.Unmarshal(raw, &done); err != nil {
			return nil, shared.WrapError("backend", "Progress", shared.ErrMalformed,
				fmt.Sprintf("field %s is not a boolean", field), err)
		}
		flags[m] = done
	}
	return flags, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// do runs one logical request under the circuit breaker and retrier.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, method, path, body, result)
		})
	})
}

// doSingleRequest performs a single HTTP request. Returned errors are
// marked retry.Retryable or retry.Permanent.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(fmt.Errorf("http request: %w", err))
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		statusErr := &StatusError{Code: resp.StatusCode}
		var apiErr ErrorDTO
		if json.Unmarshal(respBody, &apiErr) == nil {
			statusErr.Detail = apiErr.Detail
		}
		if statusErr.Temporary() {
			return retry.Retryable(statusErr)
		}
		return retry.Permanent(statusErr)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return retry.Permanent(shared.WrapError("backend", method+" "+path, shared.ErrMalformed, "response is not valid JSON", err))
		}
	}
	return nil
}

// classify maps transport failures onto progress error kinds.
func (c *Client) classify(op string, err error) error {
	switch {
	case errors.Is(err, shared.ErrMalformed):
		return err
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return shared.WrapError("backend", op, shared.ErrUnreachable, "backend circuit open", err)
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("backend", op, shared.ErrTimeout, "backend timed out", err)
	default:
		return shared.WrapError("backend", op, shared.ErrUnreachable, "backend request failed", err)
	}
}

// isOutage decides which errors count against the circuit breaker.
func isOutage(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, shared.ErrMalformed) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}
