// Package config builds runtime configuration from the environment so main
// stays lean. Every knob has a development default; production overrides via
// env vars.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the auth service needs at startup.
type Config struct {
	Addr string

	// DevMode loosens the redirect allow-list to accept loopback hosts and
	// downgrades cookie Secure flags for local development.
	DevMode bool

	// JWTSigningKey signs access tokens (HS256). Must be overridden outside
	// development.
	JWTSigningKey string
	JWTIssuer     string

	// DeviceSecret salts device fingerprints so they cannot be recomputed
	// from request metadata alone.
	DeviceSecret string

	// CookieDomain is the shared parent domain the session cookie is scoped
	// to, so every first-party subdomain sees the authenticated identity.
	CookieDomain string

	// AllowedRedirectDomains are the production domains (and their
	// subdomains) the redirect validator accepts.
	AllowedRedirectDomains []string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	DeviceCodeTTL   time.Duration
	MagicCodeTTL    time.Duration
	SessionTTL      time.Duration

	// DevicePollInterval is the minimum seconds between device-flow polls
	// advertised to clients and enforced server-side.
	DevicePollInterval int

	// DeviceVerificationURI is the human-facing page where device-flow user
	// codes are entered.
	DeviceVerificationURI string

	// BridgeStaleness is the window after which an unclaimed pending bridge
	// registration is treated as lost and fails closed.
	BridgeStaleness time.Duration

	// WebClientID and WebClientSecret seed the first-party web client so a
	// fresh deployment can complete the authorization-code flow immediately.
	WebClientID     string
	WebClientSecret string
	WebRedirectURIs []string

	// DevUserEmail and DevUserPassword seed the development password account.
	// Ignored outside DevMode; production password sign-in goes through the
	// credential-verification library.
	DevUserEmail    string
	DevUserPassword string

	RedisURL     string
	PostgresURL  string
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:                  envOr("GROVE_AUTH_ADDR", ":8080"),
		DevMode:               os.Getenv("GROVE_DEV_MODE") == "true",
		JWTSigningKey:         envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:             envOr("JWT_ISSUER", "https://auth.grove.place"),
		DeviceSecret:          envOr("DEVICE_SECRET", "dev-device-secret"),
		CookieDomain:          envOr("COOKIE_DOMAIN", "grove.place"),
		AccessTokenTTL:        envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:       envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AuthCodeTTL:           envDuration("AUTH_CODE_TTL", 5*time.Minute),
		DeviceCodeTTL:         envDuration("DEVICE_CODE_TTL", 10*time.Minute),
		MagicCodeTTL:          envDuration("MAGIC_CODE_TTL", 10*time.Minute),
		SessionTTL:            envDuration("SESSION_TTL", 30*24*time.Hour),
		DevicePollInterval:    envInt("DEVICE_POLL_INTERVAL", 5),
		DeviceVerificationURI: envOr("DEVICE_VERIFICATION_URI", "https://auth.grove.place/device"),
		BridgeStaleness:       envDuration("BRIDGE_STALENESS", 30*time.Second),
		WebClientID:           envOr("GROVE_WEB_CLIENT_ID", "grove-web"),
		WebClientSecret:       envOr("GROVE_WEB_CLIENT_SECRET", "dev-web-client-secret"),
		DevUserEmail:          envOr("DEV_USER_EMAIL", "dev@grove.place"),
		DevUserPassword:       envOr("DEV_USER_PASSWORD", "dev-password"),
		RedisURL:              os.Getenv("REDIS_URL"),
		PostgresURL:           os.Getenv("POSTGRES_URL"),
		KafkaTopic:            envOr("KAFKA_AUDIT_TOPIC", "grove.auth.audit"),
	}

	cfg.AllowedRedirectDomains = splitList(envOr("ALLOWED_REDIRECT_DOMAINS", "grove.place"))
	cfg.WebRedirectURIs = splitList(envOr("GROVE_WEB_REDIRECT_URIS", "https://grove.place/auth/callback"))
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
