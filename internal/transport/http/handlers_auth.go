package httptransport

import (
	"context"
	"crypto/subtle"
	"net/http"

	"grove/internal/auth/models"
	"grove/internal/auth/service"
	"grove/internal/bridge"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/requestcontext"
)

type authorizeService interface {
	ValidateAuthorize(ctx context.Context, req service.AuthorizeRequest) (*models.Client, error)
	IssueAuthorizationCode(ctx context.Context, req service.AuthorizeRequest, userID id.UserID, sessionID id.SessionID) (string, error)
}

type tokenService interface {
	Token(ctx context.Context, req *models.TokenRequest) (*models.TokenResult, error)
	GetUserInfo(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*service.UserInfo, error)
}

// errAuthenticationFailed is the only failure the authorize and magic-verify
// endpoints return once credential verification has started. Wrong password,
// unknown account, bridge failure and lost correlation all look the same.
func errAuthenticationFailed() error {
	return dErrors.New(dErrors.CodeUnauthorized, "authentication failed")
}

func authorizeRequestFromForm(get func(string) string) service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ClientID:            get("client_id"),
		RedirectURI:         get("redirect_uri"),
		State:               get("state"),
		CodeChallenge:       get("code_challenge"),
		CodeChallengeMethod: get("code_challenge_method"),
	}
}

// handleAuthorizeStart opens an authorize attempt: validates client and
// redirect URI, then parks the CSRF state (and, when the first-party login
// shell supplies one, the PKCE verifier) in host-only flow cookies for the
// completing POST. The login UI itself is rendered elsewhere.
func (h *Handler) handleAuthorizeStart(w http.ResponseWriter, r *http.Request) {
	req := authorizeRequestFromForm(r.FormValue)

	client, err := h.svc.ValidateAuthorize(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setFlowCookie(w, stateCookie, req.State)
	if verifier := r.FormValue("code_verifier"); verifier != "" {
		h.setFlowCookie(w, verifierCookie, verifier)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"client": client.Name,
		"state":  req.State,
	})
}

// handleAuthorize completes the attempt: re-validates, binds the browser via
// the state cookie, hands control to credential verification and collects
// the bridged session. Flow cookies are cleared on every outcome.
//
// Validation failures render an error here; redirecting to an unvalidated
// URI would turn the endpoint into an open redirector.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "malformed form body"))
		return
	}

	req := authorizeRequestFromForm(r.PostFormValue)

	if _, err := h.svc.ValidateAuthorize(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}

	// The state the browser carries must be the state the form presents;
	// a mismatch means the submission did not originate from our start
	// step.
	if cookie, err := r.Cookie(stateCookie); err != nil ||
		subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(req.State)) != 1 {
		h.clearFlowCookies(w)
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "state mismatch"))
		return
	}

	// Registration must precede verification: the session hook can fire at
	// any point inside Authenticate.
	h.bridge.Register(r, bridge.Registration{ClientID: req.ClientID})

	if err := h.auth.Authenticate(r); err != nil {
		h.logger.WarnContext(r.Context(), "credential verification failed",
			"client_id", req.ClientID,
			"error", err,
		)
		h.clearFlowCookies(w)
		h.writeError(w, r, errAuthenticationFailed())
		return
	}

	result, ok := h.bridge.TakeResult(r)
	if !ok || !result.Ok() {
		// No result means the hook never fired; an error result already
		// carries only the generic string. Neither sets a session cookie.
		h.clearFlowCookies(w)
		h.writeError(w, r, errAuthenticationFailed())
		return
	}

	code, err := h.svc.IssueAuthorizationCode(r.Context(), req, result.UserID, result.SessionID)
	if err != nil {
		h.clearFlowCookies(w)
		h.writeError(w, r, err)
		return
	}

	h.clearFlowCookies(w)
	h.setSessionCookie(w, result.SessionID.String())
	http.Redirect(w, r, service.CallbackURL(req.RedirectURI, code, req.State), http.StatusFound)
}

// handleToken serves POST /auth/token for all three grant types. Client
// credentials come from the form body or HTTP Basic auth.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "malformed form body"))
		return
	}

	req := &models.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		DeviceCode:   r.PostFormValue("device_code"),
	}
	if clientID, clientSecret, ok := r.BasicAuth(); ok {
		req.ClientID = clientID
		req.ClientSecret = clientSecret
	}

	result, err := h.svc.Token(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Token responses must never land in shared caches.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetUserInfo(r.Context(), requestcontext.UserID(r.Context()), requestcontext.SessionID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
