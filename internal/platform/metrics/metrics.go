package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the auth service. Labels stay
// low-cardinality: grant types, flow names and outcome buckets only, never
// user or client identifiers.
type Metrics struct {
	TokensIssued     *prometheus.CounterVec
	GrantFailures    *prometheus.CounterVec
	DevicePolls      *prometheus.CounterVec
	MagicCodes       *prometheus.CounterVec
	SessionsCreated  prometheus.Counter
	SessionsRevoked  prometheus.Counter
	BridgeOutcomes   *prometheus.CounterVec
	AuditDropped     prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
	RefreshReuse     prometheus.Counter
}

// New creates and registers all Prometheus metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in main; tests use a fresh registry so
// parallel suites do not collide on registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grove_auth_tokens_issued_total",
			Help: "Access tokens issued, by grant type.",
		}, []string{"grant_type"}),
		GrantFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grove_auth_grant_failures_total",
			Help: "Failed token grants, by grant type.",
		}, []string{"grant_type"}),
		DevicePolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grove_auth_device_polls_total",
			Help: "Device-flow token polls, by outcome (pending, slow_down, issued, expired, denied, consumed).",
		}, []string{"outcome"}),
		MagicCodes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grove_auth_magic_codes_total",
			Help: "Magic-link codes, by stage (issued, verified, rejected, throttled).",
		}, []string{"stage"}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "grove_auth_sessions_created_total",
			Help: "Durable ledger sessions created.",
		}),
		SessionsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "grove_auth_sessions_revoked_total",
			Help: "Ledger sessions revoked.",
		}),
		BridgeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grove_auth_bridge_outcomes_total",
			Help: "Session bridge correlations, by outcome (completed, stale_dropped, error, unclaimed).",
		}, []string{"outcome"}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "grove_auth_audit_events_dropped_total",
			Help: "Audit events dropped because the worker queue was full.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grove_auth_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RefreshReuse: factory.NewCounter(prometheus.CounterOpts{
			Name: "grove_auth_refresh_token_reuse_total",
			Help: "Refresh token replay attempts that triggered family revocation.",
		}),
	}
}
