package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "grove/pkg/domain-errors"
	"grove/pkg/requestcontext"
)

// errorResponse is the OAuth-style error envelope every failing endpoint
// returns. Descriptions are the generic domain-error messages; the precise
// cause never leaves the server.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// wireError maps a domain code to the error token clients branch on. The
// device-flow polling codes pass through unchanged; RFC 8628 clients match
// them literally.
func wireError(code dErrors.Code) string {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return "invalid_request"
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeInvariantViolation:
		return "server_error"
	default:
		return string(code)
	}
}

// writeError renders a domain error as JSON. Server-side failures log full
// detail and surface nothing beyond a 5xx envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	resp := errorResponse{Error: wireError(code)}
	if status < http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.Description = de.Message
		}
	} else {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
