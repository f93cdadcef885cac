package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modelmux/modelmux/core/infra/logging"
	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
)

// errorBody is the envelope every classified failure is serialized
// into. Unclassified errors never reach this shape; they become a bare
// 500 so internal details stay out of responses.
type errorBody struct {
	Name    string        `json:"name"`
	Message string        `json:"message"`
	Service string        `json:"service,omitempty"`
	Code    provider.Code `json:"code,omitempty"`
}

func statusForCode(code provider.Code) int {
	switch code {
	case provider.CodeRateLimited:
		return http.StatusTooManyRequests
	case provider.CodeAuthFailed:
		return http.StatusUnauthorized
	case provider.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// writeError maps err onto the HTTP error contract: classified provider
// and workflow errors carry their envelope and status, ErrNotFound maps
// to 404, ErrShutdown to 503, anything else to an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var wfErr *workflow.WorkflowError
	if errors.As(err, &wfErr) {
		writeJSON(w, statusForCode(wfErr.Code), errorBody{
			Name:    "WorkflowError",
			Message: wfErr.Message,
			Service: wfErr.Service,
			Code:    wfErr.Code,
		})
		return
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		writeJSON(w, statusForCode(perr.Code), errorBody{
			Name:    "ProviderError",
			Message: perr.Message,
			Service: perr.Service,
			Code:    perr.Code,
		})
		return
	}
	if errors.Is(err, workflow.ErrNotFound) {
		writeNotFound(w, "workflow not found")
		return
	}
	if errors.Is(err, workflow.ErrShutdown) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Name:    "ShutdownError",
			Message: "gateway is shutting down",
		})
		return
	}
	logging.Error("gateway", "unhandled error", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusNotFound, errorBody{Name: "NotFoundError", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
