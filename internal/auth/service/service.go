// Package service orchestrates the three credential flows over one token
// core: authorization code with PKCE, RFC 8628 device grant, and magic-link
// codes. Transport concerns stay in the HTTP layer; persistence behind the
// store interfaces below.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"grove/internal/audit"
	"grove/internal/auth/models"
	devicecode "grove/internal/auth/store/device-code"
	"grove/internal/device"
	"grove/internal/ledger"
	"grove/internal/platform/metrics"
	"grove/internal/token"
	id "grove/pkg/domain"
)

// ClientStore resolves registered OAuth clients.
//
// Error Contract: implementations return sentinel errors.
type ClientStore interface {
	FindByOAuthClientID(ctx context.Context, oauthClientID string) (*models.Client, error)
}

// UserStore persists platform identities.
type UserStore interface {
	Save(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuthCodeStore persists one-time authorization codes. Consume is atomic:
// lookup, validation against the presented redirect URI and mark-used happen
// under one lock.
type AuthCodeStore interface {
	Create(ctx context.Context, code *models.AuthorizationCode) error
	Consume(ctx context.Context, code, redirectURI string, now time.Time) (*models.AuthorizationCode, error)
}

// DeviceCodeStore persists device-flow grants. Poll evaluates throttle and
// state atomically and returns exactly one OutcomeAuthorized per code.
type DeviceCodeStore interface {
	Create(ctx context.Context, code *models.DeviceCode) error
	Poll(ctx context.Context, deviceCodeHash string, now time.Time) (*models.DeviceCode, devicecode.PollOutcome, error)
	AuthorizeByUserCode(ctx context.Context, userCode string, userID id.UserID, now time.Time) (*models.DeviceCode, error)
	DenyByUserCode(ctx context.Context, userCode string, now time.Time) (*models.DeviceCode, error)
}

// MagicCodeStore persists magic-link codes. Consume is keyed by (email,
// code), never code alone.
type MagicCodeStore interface {
	Create(ctx context.Context, code *models.MagicCode) error
	Consume(ctx context.Context, email, code string, now time.Time) (*models.MagicCode, error)
}

// Config carries the flow parameters the service needs. TTLs are enforced
// here at issuance; stores enforce them again at consumption.
type Config struct {
	AuthCodeTTL        time.Duration
	DeviceCodeTTL      time.Duration
	MagicCodeTTL       time.Duration
	SessionTTL         time.Duration
	DevicePollInterval int // seconds, advertised to device clients
	VerificationURI    string
}

// Service wires the credential flows together.
type Service struct {
	cfg     Config
	clients ClientStore
	users   UserStore

	authCodes   AuthCodeStore
	deviceCodes DeviceCodeStore
	magicCodes  MagicCodeStore

	tokens  *token.Service
	ledger  *ledger.Ledger
	devices *device.Service

	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	magicLimiter *rateLimiter
}

// New constructs the auth service.
func New(
	cfg Config,
	clients ClientStore,
	users UserStore,
	authCodes AuthCodeStore,
	deviceCodes DeviceCodeStore,
	magicCodes MagicCodeStore,
	tokens *token.Service,
	sessions *ledger.Ledger,
	devices *device.Service,
	recorder *audit.Recorder,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		cfg:          cfg,
		clients:      clients,
		users:        users,
		authCodes:    authCodes,
		deviceCodes:  deviceCodes,
		magicCodes:   magicCodes,
		tokens:       tokens,
		ledger:       sessions,
		devices:      devices,
		recorder:     recorder,
		logger:       logger,
		metrics:      m,
		tracer:       otel.Tracer("grove/internal/auth/service"),
		magicLimiter: newRateLimiter(),
	}
}
