// Package httptransport exposes the auth service over HTTP: the authorize,
// token, device, magic-link and session-management endpoints, plus health and
// metrics. Handlers parse and render; every decision lives in the service
// layer. Error responses go through one writer so generic client messages
// stay generic.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"grove/internal/bridge"
	"grove/internal/platform/metrics"
	"grove/internal/platform/middleware"
	"grove/internal/redirect"
)

// AuthService is the orchestration surface the handlers call. Implemented by
// *service.Service; declared here so handler tests can stub single flows.
//
// Error Contract: methods return domain errors with generic client-safe
// messages.
type AuthService interface {
	authorizeService
	tokenService
	deviceService
	magicService
	sessionService
}

// Authenticator is the credential-verification boundary. Implementations
// check the user's password or passkey using the form fields on r and, on
// success, invoke the session-created hook with the same request pointer.
// The hook call is the only contract; the implementation's own session
// mechanism is ignored.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// Handler owns the HTTP surface.
type Handler struct {
	svc       AuthService
	bridge    *bridge.Bridge
	redirects *redirect.Validator
	auth      Authenticator
	sender    MagicSender
	tokens    middleware.TokenValidator

	cookies CookieConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	metricsHandler http.Handler
}

// New wires the Handler. metricsHandler serves GET /metrics; pass a
// promhttp handler in main and nil in tests that do not scrape.
func New(
	svc AuthService,
	b *bridge.Bridge,
	redirects *redirect.Validator,
	auth Authenticator,
	sender MagicSender,
	tokens middleware.TokenValidator,
	cookies CookieConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
	metricsHandler http.Handler,
) *Handler {
	return &Handler{
		svc:            svc,
		bridge:         b,
		redirects:      redirects,
		auth:           auth,
		sender:         sender,
		tokens:         tokens,
		cookies:        cookies,
		logger:         logger,
		metrics:        m,
		metricsHandler: metricsHandler,
	}
}

// Routes builds the router with the shared middleware chain. The bridge
// release middleware wraps every route so per-request correlation state is
// dropped no matter how the handler exits.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logger(h.logger))
	r.Use(h.timeRoutes)
	r.Use(h.bridge.ReleaseMiddleware)

	r.Get("/auth/authorize", h.handleAuthorizeStart)
	r.Post("/auth/authorize", h.handleAuthorize)
	r.Post("/auth/token", h.handleToken)

	r.Post("/device/code", h.handleDeviceCode)

	r.Post("/magic/request", h.handleMagicRequest)
	r.Post("/magic/verify", h.handleMagicVerify)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.tokens))

		r.Get("/auth/userinfo", h.handleUserInfo)
		r.Get("/auth/sessions", h.handleListSessions)
		r.Delete("/auth/sessions/{sessionID}", h.handleRevokeSession)
		r.Post("/auth/logout", h.handleLogout)
		r.Post("/auth/logout-all", h.handleLogoutAll)
		r.Post("/device/verify", h.handleDeviceVerify)
	})

	r.Get("/healthz", h.handleHealthz)
	if h.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}

	return r
}

// timeRoutes records request latency against the chi route pattern, never
// the raw path; raw paths would explode histogram cardinality.
func (h *Handler) timeRoutes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
