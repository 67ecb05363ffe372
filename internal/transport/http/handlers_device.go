package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"grove/internal/auth/models"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/requestcontext"
)

type deviceService interface {
	StartDeviceAuthorization(ctx context.Context, clientID, clientSecret string) (*models.DeviceAuthorizationResult, error)
	ApproveDevice(ctx context.Context, userCode string, userID id.UserID) error
	DenyDevice(ctx context.Context, userCode string, userID id.UserID) error
}

// handleDeviceCode starts an RFC 8628 flow for an input-constrained client.
func (h *Handler) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "malformed form body"))
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = basicID, basicSecret
	}

	result, err := h.svc.StartDeviceAuthorization(r.Context(), clientID, clientSecret)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, result)
}

// deviceVerifyRequest is the body posted from the verification page, where
// an already-authenticated user approves or denies the code shown on the
// constrained device.
type deviceVerifyRequest struct {
	UserCode string `json:"user_code"`
	Action   string `json:"action"`
}

// handleDeviceVerify resolves a pending device flow. Requires a bearer
// token; the approving identity is the one bound to the flow.
func (h *Handler) handleDeviceVerify(w http.ResponseWriter, r *http.Request) {
	var req deviceVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "malformed json body"))
		return
	}

	userID := requestcontext.UserID(r.Context())

	var (
		err    error
		status string
	)
	switch req.Action {
	case "approve":
		err = h.svc.ApproveDevice(r.Context(), req.UserCode, userID)
		status = "approved"
	case "deny":
		err = h.svc.DenyDevice(r.Context(), req.UserCode, userID)
		status = "denied"
	default:
		err = dErrors.New(dErrors.CodeBadRequest, "action must be approve or deny")
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
