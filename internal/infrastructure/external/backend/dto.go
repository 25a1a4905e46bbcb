package backend

import (
	"encoding/json"
	"fmt"
)

// Table and route names of the progress backend.
const (
	TableUserProgress = "USER_PROGRESS"

	PathUserData    = "/api/database/get-user-data"
	PathUpdateField = "/api/database/update_field"
	PathInitUser    = "/api/database/init-user"
)

// UserDataDTO is the get-user-data response.
// Progress keeps raw values so non-boolean flags can be rejected.
type UserDataDTO struct {
	Info     map[string]json.RawMessage `json:"info"`
	Progress map[string]json.RawMessage `json:"progress"`
}

// UpdateFieldRequest is the update_field request body.
type UpdateFieldRequest struct {
	Wallet    string `json:"wallet"`
	TableName string `json:"table_name"`
	FieldName string `json:"field_name"`
	Value     bool   `json:"value"`
}

// InitUserRequest is the init-user request body.
type InitUserRequest struct {
	Wallet string `json:"wallet"`
}

// InitUserResponse is the init-user response.
type InitUserResponse struct {
	Success bool `json:"success"`
	Created bool `json:"created"`
}

// ErrorDTO is the error body returned with non-2xx statuses.
type ErrorDTO struct {
	Detail string `json:"detail"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend status %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("backend status %d", e.Code)
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}
