package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
)

// readAllBody reads and returns the full request body, capped at 1MiB.
func readAllBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeProviderError    = "PROVIDER_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeConflict         = "CONFLICT"
)

// domainStatus maps a ctlerr.Code to the HTTP status that best fits its
// taxonomy group (validation -> 400, authz -> 401/403, lifecycle/not-found
// -> 404/409, everything else -> 500).
func domainStatus(code ctlerr.Code) int {
	switch code {
	case ctlerr.CodeBadID, ctlerr.CodeBadPath, ctlerr.CodeBadTool, ctlerr.CodeBadMode,
		ctlerr.CodeBadSize, ctlerr.CodeMissingText, ctlerr.CodeMissingTask,
		ctlerr.CodeMissingWorkers, ctlerr.CodeInvalidCommandPayload, ctlerr.CodeUnknownCommand:
		return http.StatusBadRequest
	case ctlerr.CodeUnauthorized:
		return http.StatusUnauthorized
	case ctlerr.CodeCommandPolicyBlocked:
		return http.StatusForbidden
	case ctlerr.CodeSessionNotFound, ctlerr.CodeNotActive, ctlerr.CodeAttentionItemNotFound:
		return http.StatusNotFound
	case ctlerr.CodeSessionClosing, ctlerr.CodeOrchestrationLocked, ctlerr.CodeCooldown,
		ctlerr.CodeCollectOnly, ctlerr.CodeOrchestratorPendingAttn:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders err (a *ctlerr.Error if possible, otherwise a
// generic 500) as the API's standard error envelope.
func writeDomainError(w http.ResponseWriter, err error) {
	var de *ctlerr.Error
	if e, ok := err.(*ctlerr.Error); ok {
		de = e
	} else {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	status := domainStatus(de.Code)
	if len(de.Unmet) > 0 {
		writeErrorWithDetails(w, status, string(de.Code), de.Error(), map[string]any{"unmet": de.Unmet})
		return
	}
	writeError(w, status, string(de.Code), de.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// notImplemented writes a not implemented response.
func notImplemented(w http.ResponseWriter) {
	writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "This endpoint is not yet implemented")
}
