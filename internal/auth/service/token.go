package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"grove/internal/audit"
	"grove/internal/auth/models"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/platform/privacy"
	"grove/pkg/platform/sentinel"
	"grove/pkg/requestcontext"
)

// errInvalidGrant is the single client-facing failure for every token-grant
// rejection. Unknown client, bad secret, expired code, PKCE mismatch and
// replayed code are indistinguishable from the outside; the precise cause
// goes to logs and the audit trail only.
func errInvalidGrant() error {
	return dErrors.New(dErrors.CodeInvalidGrant, "invalid grant")
}

// Token is the grant dispatch behind POST /auth/token.
func (s *Service) Token(ctx context.Context, req *models.TokenRequest) (*models.TokenResult, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "auth.token")
	span.SetAttributes(attribute.String("grant_type", req.GrantType))
	defer span.End()

	var (
		result *models.TokenResult
		err    error
	)
	switch models.GrantType(req.GrantType) {
	case models.GrantAuthorizationCode:
		result, err = s.exchangeAuthorizationCode(ctx, req)
	case models.GrantRefreshToken:
		result, err = s.refreshWithRefreshToken(ctx, req)
	case models.GrantDeviceCode:
		result, err = s.exchangeDeviceCode(ctx, req)
	default:
		err = dErrors.New(dErrors.CodeBadRequest, "unsupported grant_type")
	}

	if err != nil {
		s.metrics.GrantFailures.WithLabelValues(req.GrantType).Inc()
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	s.metrics.TokensIssued.WithLabelValues(req.GrantType).Inc()
	return result, nil
}

// authenticateClient resolves and verifies the caller's client credentials.
// Every failure collapses to the generic grant rejection; the distinction
// between "unknown client" and "wrong secret" is logged server-side only.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*models.Client, error) {
	client, err := s.clients.FindByOAuthClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "token grant from unknown client",
				"client_id", privacy.RedactIdentifier(clientID))
			return nil, errInvalidGrant()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve client")
	}
	if !client.VerifySecret(clientSecret) {
		s.logger.WarnContext(ctx, "token grant with wrong client secret",
			"client_id", privacy.RedactIdentifier(clientID))
		return nil, errInvalidGrant()
	}
	return client, nil
}

func (s *Service) exchangeAuthorizationCode(ctx context.Context, req *models.TokenRequest) (*models.TokenResult, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)

	// Atomic lookup-and-mark-used. A code presented twice, even concurrently,
	// succeeds for at most one caller.
	code, err := s.authCodes.Consume(ctx, req.Code, req.RedirectURI, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			// Double redemption is a token-theft indicator.
			s.logger.WarnContext(ctx, "authorization code replayed",
				"client_id", privacy.RedactIdentifier(req.ClientID))
			s.recorder.Record(ctx, audit.Event{
				Type:      audit.EventAuthFailed,
				ClientID:  client.OAuthClientID,
				GrantType: req.GrantType,
				Detail:    "authorization code replay",
			})
			return nil, errInvalidGrant()
		case errors.Is(err, sentinel.ErrNotFound),
			errors.Is(err, sentinel.ErrExpired),
			errors.Is(err, sentinel.ErrInvalidState):
			return nil, errInvalidGrant()
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "consume authorization code")
		}
	}

	// The code is burned at this point; a failed exchange cannot be retried
	// with a corrected verifier.
	if code.ClientID != client.OAuthClientID {
		s.logger.WarnContext(ctx, "authorization code presented by wrong client",
			"client_id", privacy.RedactIdentifier(req.ClientID))
		return nil, errInvalidGrant()
	}
	if err := code.VerifyPKCE(req.CodeVerifier); err != nil {
		s.logger.WarnContext(ctx, "PKCE verification failed",
			"client_id", privacy.RedactIdentifier(req.ClientID))
		return nil, errInvalidGrant()
	}

	pair, err := s.tokens.IssuePair(ctx, code.UserID, client.OAuthClientID, code.SessionID)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		Type:      audit.EventTokenIssued,
		UserID:    code.UserID.String(),
		ClientID:  client.OAuthClientID,
		SessionID: code.SessionID.String(),
		GrantType: req.GrantType,
	})

	return &models.TokenResult{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.AccessExpiresIn),
		RefreshToken: pair.RefreshToken,
	}, nil
}

func (s *Service) refreshWithRefreshToken(ctx context.Context, req *models.TokenRequest) (*models.TokenResult, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Rotate(ctx, req.RefreshToken)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidGrant) {
			s.recorder.Record(ctx, audit.Event{
				Type:      audit.EventAuthFailed,
				ClientID:  client.OAuthClientID,
				GrantType: req.GrantType,
				Detail:    "refresh token rejected",
			})
			return nil, errInvalidGrant()
		}
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		Type:      audit.EventTokenRefreshed,
		ClientID:  client.OAuthClientID,
		GrantType: req.GrantType,
	})

	return &models.TokenResult{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.AccessExpiresIn),
		RefreshToken: pair.RefreshToken,
	}, nil
}
