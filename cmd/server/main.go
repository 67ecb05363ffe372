// Command server runs the grove.place auth service. Storage backends are
// chosen from the environment: Redis-backed code and session stores when
// REDIS_URL is set, Postgres-backed client and audit storage when
// POSTGRES_URL is set, and in-memory fallbacks otherwise so a bare
// `go run ./cmd/server` works for local development.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"grove/internal/audit"
	"grove/internal/auth/credential"
	"grove/internal/auth/service"
	authcode "grove/internal/auth/store/authorization-code"
	clientstore "grove/internal/auth/store/client"
	devicecode "grove/internal/auth/store/device-code"
	magiccode "grove/internal/auth/store/magic-code"
	refreshtoken "grove/internal/auth/store/refresh-token"
	userstore "grove/internal/auth/store/user"
	"grove/internal/bridge"
	"grove/internal/device"
	"grove/internal/ledger"
	"grove/internal/platform/config"
	"grove/internal/platform/httpserver"
	"grove/internal/platform/logger"
	"grove/internal/platform/metrics"
	"grove/internal/platform/postgres"
	platformredis "grove/internal/platform/redis"
	"grove/internal/redirect"
	"grove/internal/token"
	httptransport "grove/internal/transport/http"
	"grove/pkg/platform/privacy"
)

const shutdownTimeout = 10 * time.Second

// clientStore is what main needs from client persistence: resolution for the
// service plus creation for startup seeding.
type clientStore interface {
	service.ClientStore
	clientstore.Store
}

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.DevMode)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	rdb, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	pool, err := postgres.New(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	var (
		clients     clientStore
		authCodes   service.AuthCodeStore
		deviceCodes service.DeviceCodeStore
		magicCodes  service.MagicCodeStore
		ledgerStore ledger.Store
	)
	if pool != nil {
		clients = clientstore.NewPostgres(pool)
	} else {
		clients = clientstore.New()
	}
	if rdb != nil {
		authCodes = authcode.NewRedisStore(rdb.Client)
		deviceCodes = devicecode.NewRedisStore(rdb.Client)
		magicCodes = magiccode.NewRedisStore(rdb.Client)
		ledgerStore = ledger.NewRedisStore(rdb.Client)
	} else {
		authCodes = authcode.New()
		deviceCodes = devicecode.New()
		magicCodes = magiccode.New()
		ledgerStore = ledger.NewMemoryStore()
	}
	users := userstore.New()

	specs := []clientstore.SeedSpec{{
		Name:            "Grove Web",
		OAuthClientID:   cfg.WebClientID,
		Secret:          cfg.WebClientSecret,
		RedirectURIs:    cfg.WebRedirectURIs,
		AllowedOrigins:  []string{"https://" + cfg.CookieDomain},
		InternalService: true,
	}}
	if err := clientstore.Seed(ctx, clients, specs, time.Now()); err != nil {
		return err
	}

	var sinks []audit.Sink
	if pool != nil {
		sinks = append(sinks, audit.NewPostgres(pool))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, audit.NewMemoryStore())
	}
	recorder := audit.NewRecorder(sinks, log, m, 1024)
	defer recorder.Close()

	signer := token.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer)
	tokens := token.NewService(signer, refreshtoken.New(), recorder, log, m, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	devices := device.NewService(cfg.DeviceSecret)

	sessions := ledger.New(ledgerStore, log)
	defer sessions.Close()

	br := bridge.New(sessions, devices, recorder, log, m, cfg.BridgeStaleness, cfg.SessionTTL)

	svc := service.New(service.Config{
		AuthCodeTTL:        cfg.AuthCodeTTL,
		DeviceCodeTTL:      cfg.DeviceCodeTTL,
		MagicCodeTTL:       cfg.MagicCodeTTL,
		SessionTTL:         cfg.SessionTTL,
		DevicePollInterval: cfg.DevicePollInterval,
		VerificationURI:    cfg.DeviceVerificationURI,
	}, clients, users, authCodes, deviceCodes, magicCodes, tokens, sessions, devices, recorder, log, m)

	var verifier credential.Verifier = credential.Disabled{}
	if cfg.DevMode {
		dev, err := credential.NewDevVerifier(ctx, users, cfg.DevUserEmail, cfg.DevUserPassword)
		if err != nil {
			return err
		}
		verifier = dev
		log.Info("dev password account enabled", "email", privacy.RedactIdentifier(cfg.DevUserEmail))
	}
	authenticator := credential.NewAuthenticator(verifier, br, log)

	handler := httptransport.New(
		svc,
		br,
		redirect.New(cfg.AllowedRedirectDomains, cfg.DevMode),
		authenticator,
		&magicLogSender{logger: log, revealCode: cfg.DevMode},
		token.NewMiddlewareAdapter(signer),
		httptransport.CookieConfig{
			Domain:     cfg.CookieDomain,
			Secure:     !cfg.DevMode,
			SessionTTL: cfg.SessionTTL,
		},
		log,
		m,
		promhttp.Handler(),
	)

	srv := httpserver.New(cfg.Addr, handler.Routes())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("auth service listening", "addr", cfg.Addr, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// magicLogSender stands in for the mail-delivery collaborator. In dev mode
// it logs the code so the flow can be exercised without an SMTP account; in
// production it reports the missing integration and drops the issue, which
// the transport already treats as non-fatal.
type magicLogSender struct {
	logger     *slog.Logger
	revealCode bool
}

func (s *magicLogSender) SendMagicCode(ctx context.Context, issue *service.MagicIssue) error {
	if s.revealCode {
		s.logger.InfoContext(ctx, "magic code issued",
			"email", issue.Email, "code", issue.Code, "expires_at", issue.ExpiresAt)
		return nil
	}
	s.logger.ErrorContext(ctx, "magic code dropped: mail delivery not configured",
		"email", privacy.RedactIdentifier(issue.Email))
	return errors.New("mail delivery not configured")
}
