// Package bridge correlates the credential library's "session created" hook
// with the HTTP response for the same request. The hook fires deep inside the
// credential-verification call stack with no handle on the response writer,
// so the bridge keeps two request-keyed associations: a pending registration
// set before verification starts, and a bridge result set by the hook. Both
// are metadata about the request, never ownership; the release middleware
// drops them when the response has been written.
package bridge

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"grove/internal/audit"
	"grove/internal/device"
	"grove/internal/ledger"
	"grove/internal/platform/metrics"
	id "grove/pkg/domain"
	"grove/pkg/platform/privacy"
	"grove/pkg/requestcontext"
)

// genericError is the only error text a bridge result may carry. The result
// can surface toward the client, so the underlying failure detail stays in
// server logs only.
const genericError = "authentication failed"

// Registration is the context stored before control passes to credential
// verification: what the hook will need if it fires, plus the registration
// time for staleness checks.
type Registration struct {
	ClientID     string
	registeredAt time.Time
}

// Result is the outcome of a bridged authentication. Exactly one of
// (SessionID, UserID) or Err is set.
type Result struct {
	SessionID id.SessionID
	UserID    id.UserID
	Err       string
}

// Ok reports whether the bridge produced a session.
func (r Result) Ok() bool { return r.Err == "" }

// Bridge holds the per-request associations. Associations older than the
// staleness window are treated as lost correlations and fail closed: no
// session is bridged and the user re-authenticates.
type Bridge struct {
	mu      sync.Mutex
	pending map[*http.Request]Registration
	results map[*http.Request]Result

	ledger     *ledger.Ledger
	devices    *device.Service
	recorder   *audit.Recorder
	logger     *slog.Logger
	metrics    *metrics.Metrics
	staleness  time.Duration
	sessionTTL time.Duration
}

// New wires a Bridge.
func New(l *ledger.Ledger, devices *device.Service, recorder *audit.Recorder, logger *slog.Logger, m *metrics.Metrics, staleness, sessionTTL time.Duration) *Bridge {
	return &Bridge{
		pending:    make(map[*http.Request]Registration),
		results:    make(map[*http.Request]Result),
		ledger:     l,
		devices:    devices,
		recorder:   recorder,
		logger:     logger,
		metrics:    m,
		staleness:  staleness,
		sessionTTL: sessionTTL,
	}
}

// Register stores the pending registration for r. Call immediately before
// handing control to credential verification.
func (b *Bridge) Register(r *http.Request, reg Registration) {
	reg.registeredAt = requestcontext.Now(r.Context())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[r] = reg
}

// OnSessionCreated is the credential library's hook. It correlates the event
// back to the in-flight request, creates the durable ledger session and
// stores the bridge result for the response path to pick up.
//
// A missing or stale registration fails closed: trusting an uncorrelated
// request would risk attaching the session to the wrong user.
func (b *Bridge) OnSessionCreated(r *http.Request, userID id.UserID) {
	ctx := r.Context()
	now := requestcontext.Now(ctx)

	b.mu.Lock()
	reg, ok := b.pending[r]
	b.mu.Unlock()

	if !ok || now.Sub(reg.registeredAt) > b.staleness {
		b.metrics.BridgeOutcomes.WithLabelValues("stale_dropped").Inc()
		b.logger.WarnContext(ctx, "session hook without live registration, failing closed",
			"user_id", privacy.RedactIdentifier(userID.String()),
			"registration_found", ok)
		return
	}

	ip := requestcontext.ClientIP(ctx)
	userAgent := requestcontext.UserAgent(ctx)

	sessionID, err := b.ledger.CreateSession(ctx, userID, ledger.CreateParams{
		DeviceFingerprint: b.devices.Fingerprint(userAgent, ip),
		DeviceName:        device.ParseUserAgent(userAgent),
		IP:                privacy.AnonymizeIP(ip),
		UserAgent:         userAgent,
		TTL:               b.sessionTTL,
	}, now)
	if err != nil {
		b.metrics.BridgeOutcomes.WithLabelValues("error").Inc()
		b.logger.ErrorContext(ctx, "bridged session creation failed",
			"user_id", privacy.RedactIdentifier(userID.String()),
			"client_id", reg.ClientID,
			"error", err)
		b.setResult(r, Result{Err: genericError})
		return
	}

	b.metrics.BridgeOutcomes.WithLabelValues("completed").Inc()
	b.metrics.SessionsCreated.Inc()
	b.recorder.Record(ctx, audit.Event{
		Type:      audit.EventSessionCreated,
		UserID:    userID.String(),
		SessionID: sessionID.String(),
		ClientID:  reg.ClientID,
	})
	b.setResult(r, Result{SessionID: sessionID, UserID: userID})
}

func (b *Bridge) setResult(r *http.Request, result Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[r] = result
}

// TakeResult returns and clears the bridge result for r. Absence means the
// hook never fired, typically because authentication failed earlier; the
// caller must then set no session cookie.
func (b *Bridge) TakeResult(r *http.Request) (Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result, ok := b.results[r]
	delete(b.results, r)
	return result, ok
}

// Release drops both associations for r. Idempotent; safe regardless of
// whether the hook fired or the result was taken.
func (b *Bridge) Release(r *http.Request) {
	b.mu.Lock()
	_, unclaimed := b.results[r]
	delete(b.pending, r)
	delete(b.results, r)
	b.mu.Unlock()

	if unclaimed {
		b.metrics.BridgeOutcomes.WithLabelValues("unclaimed").Inc()
	}
}

// ReleaseMiddleware guarantees association cleanup after the handler chain,
// so bridge memory does not grow with traffic even when a handler forgets to
// consume its result.
func (b *Bridge) ReleaseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer b.Release(r)
		next.ServeHTTP(w, r)
	})
}

// Len reports the number of live associations, for tests and health checks.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) + len(b.results)
}
