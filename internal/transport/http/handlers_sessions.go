package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"grove/internal/ledger"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/requestcontext"
)

type sessionService interface {
	ListSessions(ctx context.Context, userID id.UserID) ([]*ledger.Session, error)
	RevokeSession(ctx context.Context, userID id.UserID, sessionID id.SessionID) error
	Logout(ctx context.Context, userID id.UserID, sessionID id.SessionID) error
	LogoutAll(ctx context.Context, userID id.UserID, keep id.SessionID) (int, error)
}

// sessionView is the "active devices" list entry. Fingerprints and raw user
// agents stay server-side; the client gets the friendly name and the
// already-anonymized IP.
type sessionView struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"device_name"`
	IP         string    `json:"ip"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessions, err := h.svc.ListSessions(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	current := requestcontext.SessionID(ctx)
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:         s.ID.String(),
			DeviceName: s.DeviceName,
			IP:         s.IP,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
			Current:    s.ID == current,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleRevokeSession signs one device out remotely. The path ID must
// belong to the caller; the service enforces ownership.
func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "invalid session id"))
		return
	}

	if err := h.svc.RevokeSession(r.Context(), requestcontext.UserID(r.Context()), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// handleLogout ends the caller's own session and drops the session cookie.
// Idempotent toward the client.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.svc.Logout(ctx, requestcontext.UserID(ctx), requestcontext.SessionID(ctx)); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleLogoutAll revokes every other session, keeping the device the
// request came in on signed in.
func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	revoked, err := h.svc.LogoutAll(ctx, requestcontext.UserID(ctx), requestcontext.SessionID(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}
