package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"grove/internal/audit"
	"grove/internal/auth/models"
	devicecode "grove/internal/auth/store/device-code"
	"grove/internal/device"
	"grove/internal/ledger"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/platform/privacy"
	"grove/pkg/platform/sentinel"
	"grove/pkg/requestcontext"
)

// userCodeAlphabet avoids vowels and look-alike characters so the code
// survives being read aloud or typed from a TV screen.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

// hashDeviceCode derives the storage key for a raw device code. Only the
// hash is persisted.
func hashDeviceCode(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, 0, 9)
	for i, b := range buf {
		if i == 4 {
			code = append(code, '-')
		}
		code = append(code, userCodeAlphabet[int(b)%len(userCodeAlphabet)])
	}
	return string(code), nil
}

// StartDeviceAuthorization begins an RFC 8628 flow: mints the opaque device
// code (stored as a hash) and the short user code, and advertises the
// minimum poll interval.
func (s *Service) StartDeviceAuthorization(ctx context.Context, clientID, clientSecret string) (*models.DeviceAuthorizationResult, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)

	raw, err := randomToken(32)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate device code")
	}

	// User-code collisions among live flows are rare but possible; retry a
	// few times before giving up.
	for attempt := 0; attempt < 5; attempt++ {
		userCode, err := newUserCode()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate user code")
		}

		record := &models.DeviceCode{
			ID:                uuid.NewString(),
			DeviceCodeHash:    hashDeviceCode(raw),
			UserCode:          userCode,
			ClientID:          client.OAuthClientID,
			Status:            models.DeviceStatusPending,
			Interval:          s.cfg.DevicePollInterval,
			EffectiveInterval: s.cfg.DevicePollInterval,
			CreatedAt:         now,
			ExpiresAt:         now.Add(s.cfg.DeviceCodeTTL),
		}
		if err := s.deviceCodes.Create(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist device code")
		}

		s.recorder.Record(ctx, audit.Event{
			Type:     audit.EventDeviceStarted,
			ClientID: client.OAuthClientID,
		})

		return &models.DeviceAuthorizationResult{
			DeviceCode:              raw,
			UserCode:                userCode,
			VerificationURI:         s.cfg.VerificationURI,
			VerificationURIComplete: fmt.Sprintf("%s?user_code=%s", s.cfg.VerificationURI, url.QueryEscape(userCode)),
			ExpiresIn:               int(s.cfg.DeviceCodeTTL.Seconds()),
			Interval:                s.cfg.DevicePollInterval,
		}, nil
	}
	return nil, dErrors.New(dErrors.CodeInternal, "could not allocate a unique user code")
}

// ApproveDevice binds the authenticated user to the pending flow named by
// the user code. Every rejection shares one message so the verification page
// cannot be used to hunt for live codes.
func (s *Service) ApproveDevice(ctx context.Context, userCode string, userID id.UserID) error {
	now := requestcontext.Now(ctx)

	record, err := s.deviceCodes.AuthorizeByUserCode(ctx, userCode, userID, now)
	if err != nil {
		return translateVerifyError(err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:     audit.EventDeviceAuthorized,
		UserID:   userID.String(),
		ClientID: record.ClientID,
	})
	return nil
}

// DenyDevice records the user's refusal for the pending flow.
func (s *Service) DenyDevice(ctx context.Context, userCode string, userID id.UserID) error {
	now := requestcontext.Now(ctx)

	record, err := s.deviceCodes.DenyByUserCode(ctx, userCode, now)
	if err != nil {
		return translateVerifyError(err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:     audit.EventDeviceDenied,
		UserID:   userID.String(),
		ClientID: record.ClientID,
	})
	return nil
}

func translateVerifyError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound),
		errors.Is(err, sentinel.ErrExpired),
		errors.Is(err, sentinel.ErrInvalidState),
		errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeNotFound, "code not found or expired")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "update device code")
	}
}

// exchangeDeviceCode serves grant_type=device_code polls from the original
// client. One atomic store evaluation decides the outcome; tokens are issued
// on the single poll that observes the authorized state.
func (s *Service) exchangeDeviceCode(ctx context.Context, req *models.TokenRequest) (*models.TokenResult, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)

	record, outcome, err := s.deviceCodes.Poll(ctx, hashDeviceCode(req.DeviceCode), now)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "poll device code")
	}

	switch outcome {
	case devicecode.OutcomeAuthorized:
	case devicecode.OutcomePending:
		s.metrics.DevicePolls.WithLabelValues("pending").Inc()
		return nil, dErrors.New(dErrors.CodeAuthorizationPending, "authorization pending")
	case devicecode.OutcomeSlowDown:
		s.metrics.DevicePolls.WithLabelValues("slow_down").Inc()
		return nil, dErrors.New(dErrors.CodeSlowDown, "polling too fast")
	case devicecode.OutcomeDenied:
		s.metrics.DevicePolls.WithLabelValues("denied").Inc()
		return nil, dErrors.New(dErrors.CodeAccessDenied, "authorization denied")
	case devicecode.OutcomeExpired:
		s.metrics.DevicePolls.WithLabelValues("expired").Inc()
		return nil, dErrors.New(dErrors.CodeExpiredToken, "device code expired")
	case devicecode.OutcomeConsumed:
		s.metrics.DevicePolls.WithLabelValues("consumed").Inc()
		return nil, dErrors.New(dErrors.CodeExpiredToken, "device code expired")
	default:
		// Unknown device code.
		s.metrics.DevicePolls.WithLabelValues("unknown").Inc()
		return nil, errInvalidGrant()
	}

	if record.ClientID != client.OAuthClientID {
		return nil, errInvalidGrant()
	}

	// The polling device gets its own ledger session; the user approved from
	// a different, already-authenticated device.
	userAgent := requestcontext.UserAgent(ctx)
	ip := requestcontext.ClientIP(ctx)
	sessionID, err := s.ledger.CreateSession(ctx, record.UserID, ledger.CreateParams{
		DeviceFingerprint: s.devices.Fingerprint(userAgent, ip),
		DeviceName:        device.ParseUserAgent(userAgent),
		IP:                privacy.AnonymizeIP(ip),
		UserAgent:         userAgent,
		TTL:               s.cfg.SessionTTL,
	}, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create device session")
	}
	s.metrics.SessionsCreated.Inc()
	s.recorder.Record(ctx, audit.Event{
		Type:      audit.EventSessionCreated,
		UserID:    record.UserID.String(),
		SessionID: sessionID.String(),
		ClientID:  client.OAuthClientID,
	})

	pair, err := s.tokens.IssuePair(ctx, record.UserID, client.OAuthClientID, sessionID)
	if err != nil {
		return nil, err
	}

	s.metrics.DevicePolls.WithLabelValues("issued").Inc()
	s.recorder.Record(ctx, audit.Event{
		Type:      audit.EventTokenIssued,
		UserID:    record.UserID.String(),
		ClientID:  client.OAuthClientID,
		SessionID: sessionID.String(),
		GrantType: req.GrantType,
	})

	return &models.TokenResult{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.AccessExpiresIn),
		RefreshToken: pair.RefreshToken,
	}, nil
}
