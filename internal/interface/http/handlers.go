package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// tableUserProgress is the only table update_field writes to.
const tableUserProgress = "USER_PROGRESS"

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type errorResponse struct {
	Detail string `json:"detail"`
}

type userInfo struct {
	Wallet    string    `json:"wallet"`
	CreatedAt time.Time `json:"created_at"`
	progress.Rollup
}

type userDataResponse struct {
	Info     userInfo       `json:"info"`
	Progress map[string]any `json:"progress"`
}

type updateFieldRequest struct {
	Wallet    string `json:"wallet"`
	TableName string `json:"table_name"`
	FieldName string `json:"field_name"`
	Value     *bool  `json:"value"`
}

type initUserRequest struct {
	Wallet string `json:"wallet"`
}

type initUserResponse struct {
	Success bool `json:"success"`
	Created bool `json:"created"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth returns the composite health status.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"healthy": true,
			"message": "No health checker configured",
			"version": s.deps.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleLive answers liveness probes.
// GET /live
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleRoot returns API information.
// GET /
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "progressd",
		"version": s.deps.Version,
		"endpoints": []string{
			"GET /health",
			"GET /api/database/get-user-data?wallet_address=",
			"POST /api/database/update_field",
			"POST /api/database/init-user",
		},
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetUserData returns the registration info and every module flag.
// GET /api/database/get-user-data?wallet_address=0x...
func (s *Server) handleGetUserData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.parseWallet(w, r.URL.Query().Get("wallet_address"))
	if !ok {
		return
	}

	createdAt, err := s.deps.Store.RegisteredAt(ctx, id)
	if err != nil {
		s.writeStoreError(w, r, "get-user-data", err)
		return
	}

	remote, err := s.deps.Store.Progress(ctx, id)
	if err != nil {
		s.writeStoreError(w, r, "get-user-data", err)
		return
	}
	remote = remote.Normalize(s.deps.Catalog)

	snapshot := progress.NewSnapshot(id)
	snapshot.Merge(remote)

	flags := make(map[string]any, len(remote.Flags)+1)
	flags["wallet"] = id.String()
	for m, done := range remote.Flags {
		flags[m.String()] = done
	}

	writeJSON(w, http.StatusOK, userDataResponse{
		Info: userInfo{
			Wallet:    id.String(),
			CreatedAt: createdAt,
			Rollup:    progress.RollupOf(snapshot, s.deps.Catalog),
		},
		Progress: flags,
	})
}

// handleUpdateField sets one module flag to true.
// POST /api/database/update_field
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var req updateFieldRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, ok := s.parseWallet(w, req.Wallet)
	if !ok {
		return
	}
	if req.TableName != tableUserProgress {
		writeError(w, http.StatusBadRequest, "Unknown table: "+req.TableName)
		return
	}
	if req.Value == nil || !*req.Value {
		writeError(w, http.StatusBadRequest, "Only true may be written to a progress field")
		return
	}

	module := progress.ModuleName(req.FieldName)
	if err := s.deps.Catalog.ValidateModule(module); err != nil {
		writeError(w, http.StatusBadRequest, "Unknown field: "+req.FieldName)
		return
	}

	if err := s.deps.Store.SetFlag(r.Context(), id, module); err != nil {
		s.writeStoreError(w, r, "update_field", err)
		return
	}

	logger.FromContext(r.Context()).Info("progress updated",
		logger.Identity(id.Short()),
		logger.Module(module.String()),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleInitUser registers a wallet with all flags false.
// POST /api/database/init-user
func (s *Server) handleInitUser(w http.ResponseWriter, r *http.Request) {
	var req initUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, ok := s.parseWallet(w, req.Wallet)
	if !ok {
		return
	}

	created, err := s.deps.Store.Register(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, "init-user", err)
		return
	}

	writeJSON(w, http.StatusOK, initUserResponse{Success: true, Created: created})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) parseWallet(w http.ResponseWriter, raw string) (progress.Identity, bool) {
	if raw == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return "", false
	}
	id, err := progress.ParseIdentity(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid wallet: "+raw)
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeStoreError maps store failures to a status and a {"detail"} body.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("store operation failed",
			logger.Operation(op),
			logger.Err(err),
		)
	} else {
		logger.FromContext(r.Context()).Debug("request rejected",
			logger.Operation(op),
			slog.Int("status", status),
			logger.Err(err),
		)
	}
	writeError(w, status, detail)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrInvalidIdentity):
		return http.StatusBadRequest, "Invalid wallet"
	case errors.Is(err, shared.ErrUnknownModule):
		return http.StatusBadRequest, "Unknown field"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, shared.ErrTimeout):
		return http.StatusGatewayTimeout, "Database timed out"
	case errors.Is(err, shared.ErrUnreachable):
		return http.StatusServiceUnavailable, "Database unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
