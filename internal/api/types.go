// File: internal/api/types.go
package api

import (
	"fmt"

	"github.com/xkilldash9x/tabrelay/internal/session"
	"github.com/xkilldash9x/tabrelay/internal/strategy"
)

// CreateSessionRequest is the body of POST /session.
type CreateSessionRequest struct {
	URL string `json:"url"`
}

// CreateSessionResponse reports a freshly opened session.
type CreateSessionResponse struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	HandlerType string `json:"handler_type"`
	CurrentURL  string `json:"current_url"`
}

// ExecuteRequest is the body of POST /session/{id}/execute.
type ExecuteRequest struct {
	ActionID string `json:"action_id"`
	// Params accepts any JSON scalar; values are passed on as strings.
	Params map[string]interface{} `json:"params"`
}

// ActionRequest converts the wire form into a strategy request.
func (r ExecuteRequest) ActionRequest() strategy.ActionRequest {
	params := make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			params[k] = val
		default:
			params[k] = fmt.Sprint(val)
		}
	}
	return strategy.ActionRequest{ActionID: r.ActionID, Params: params}
}

// ExecuteResponse is returned for every execution against a live session.
// Handled failures set Success to false and carry Error instead of Result.
type ExecuteResponse struct {
	Success    bool        `json:"success"`
	Result     interface{} `json:"result,omitempty"`
	CurrentURL string      `json:"current_url,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       string      `json:"code,omitempty"`
}

// CloseSessionResponse acknowledges DELETE /session/{id}.
type CloseSessionResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// SessionsResponse lists the live sessions.
type SessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
