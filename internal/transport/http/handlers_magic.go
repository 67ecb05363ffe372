package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"grove/internal/auth/models"
	"grove/internal/auth/service"
	"grove/internal/bridge"
	dErrors "grove/pkg/domain-errors"
)

type magicService interface {
	RequestMagicCode(ctx context.Context, address string) (*service.MagicIssue, error)
	VerifyMagicCode(ctx context.Context, address, code string) (*models.User, error)
}

// MagicSender is the email-delivery collaborator. Delivery transport is out
// of scope here; the handler hands over the issue and reports success to the
// caller either way, so the endpoint cannot confirm whether an address is
// registered.
type MagicSender interface {
	SendMagicCode(ctx context.Context, issue *service.MagicIssue) error
}

type magicRequestBody struct {
	Email string `json:"email"`
}

type magicVerifyBody struct {
	Email      string `json:"email"`
	Code       string `json:"code"`
	RedirectTo string `json:"redirect_to"`
}

// handleMagicRequest issues a one-time login code and hands it to email
// delivery. The response is identical for known and unknown addresses; only
// throttling is allowed to differ, per the security-signal contract.
func (h *Handler) handleMagicRequest(w http.ResponseWriter, r *http.Request) {
	var body magicRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "malformed json body"))
		return
	}

	issue, err := h.svc.RequestMagicCode(r.Context(), body.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.sender.SendMagicCode(r.Context(), issue); err != nil {
		// The code is burned either way when it expires. Delivery failure
		// is logged, not surfaced; surfacing it would leak address
		// validity.
		h.logger.ErrorContext(r.Context(), "magic code delivery failed", "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// handleMagicVerify consumes the (email, code) pair and, on success, runs
// the verified identity through the same bridged session path the authorize
// flow uses: register, fire the hook, collect the result, set the cookie.
func (h *Handler) handleMagicVerify(w http.ResponseWriter, r *http.Request) {
	var body magicVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "malformed json body"))
		return
	}

	user, err := h.svc.VerifyMagicCode(r.Context(), body.Email, body.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.bridge.Register(r, bridge.Registration{ClientID: "magic_link"})
	h.bridge.OnSessionCreated(r, user.ID)

	result, ok := h.bridge.TakeResult(r)
	if !ok || !result.Ok() {
		h.writeError(w, r, errAuthenticationFailed())
		return
	}

	h.setSessionCookie(w, result.SessionID.String())
	writeJSON(w, http.StatusOK, map[string]string{
		"redirect": h.redirects.Sanitize(body.RedirectTo),
	})
}
