package httptransport

import (
	"net/http"
	"time"
)

const (
	// sessionCookie carries the durable ledger session ID, scoped to the
	// shared parent domain so every first-party subdomain sees the
	// authenticated identity.
	sessionCookie = "grove_session"

	// Flow cookies live only for the duration of one authorize attempt.
	// Host-only: no Domain attribute, so subdomains never see them.
	stateCookie    = "grove_auth_state"
	verifierCookie = "grove_pkce_verifier"

	flowCookieTTL = 10 * time.Minute
)

// CookieConfig carries the attributes the session cookie is written with.
// Secure is dropped only in dev mode; browsers reject Secure cookies on
// plain-HTTP localhost.
type CookieConfig struct {
	Domain     string
	Secure     bool
	SessionTTL time.Duration
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   int(h.cookies.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(flowCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearFlowCookies removes the CSRF state and PKCE verifier cookies. Called
// on every authorize outcome, success or failure; flow cookies never outlive
// the attempt.
func (h *Handler) clearFlowCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookie, verifierCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cookies.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
