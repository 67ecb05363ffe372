package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"grove/internal/auth/models"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/platform/sentinel"
	"grove/pkg/requestcontext"
)

// AuthorizeRequest carries the validated query of GET|POST /auth/authorize.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorize checks the authorize request before credential
// verification starts. Redirect URIs match exactly against the client's
// registered set; no prefix or pattern matching. A failure here must render
// an error page, never redirect to the presented URI.
func (s *Service) ValidateAuthorize(ctx context.Context, req AuthorizeRequest) (*models.Client, error) {
	if req.ClientID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "redirect_uri is required")
	}
	if req.State == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "state is required")
	}

	switch models.CodeChallengeMethod(req.CodeChallengeMethod) {
	case "", models.ChallengeMethodS256, models.ChallengeMethodPlain:
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported code_challenge_method")
	}
	if req.CodeChallengeMethod != "" && req.CodeChallenge == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "code_challenge is required with code_challenge_method")
	}

	client, err := s.clients.FindByOAuthClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown client")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve client")
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "redirect_uri not registered for client")
	}
	return client, nil
}

// IssueAuthorizationCode mints the one-time code after authentication has
// succeeded, bound to (client, user, redirect URI, PKCE challenge).
func (s *Service) IssueAuthorizationCode(ctx context.Context, req AuthorizeRequest, userID id.UserID, sessionID id.SessionID) (string, error) {
	now := requestcontext.Now(ctx)

	raw, err := randomToken(32)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generate authorization code")
	}

	method := models.CodeChallengeMethod(req.CodeChallengeMethod)
	if req.CodeChallenge != "" && method == "" {
		method = models.ChallengeMethodS256
	}

	code := &models.AuthorizationCode{
		Code:                raw,
		ClientID:            req.ClientID,
		UserID:              userID,
		SessionID:           sessionID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.cfg.AuthCodeTTL),
	}
	if err := s.authCodes.Create(ctx, code); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "persist authorization code")
	}
	return raw, nil
}

// CallbackURL renders the post-authentication redirect carrying code and the
// caller's CSRF state.
func CallbackURL(redirectURI, code, state string) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%scode=%s&state=%s", redirectURI, sep, url.QueryEscape(code), url.QueryEscape(state))
}

func randomToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
