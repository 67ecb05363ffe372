package token

import (
	"grove/internal/platform/middleware"
	id "grove/pkg/domain"
)

// MiddlewareAdapter exposes the signer to the bearer-auth middleware without
// the middleware importing JWT types.
type MiddlewareAdapter struct {
	signer *Signer
}

// NewMiddlewareAdapter wraps a Signer for middleware use.
func NewMiddlewareAdapter(signer *Signer) *MiddlewareAdapter {
	return &MiddlewareAdapter{signer: signer}
}

func (a *MiddlewareAdapter) Validate(tokenString string) (*middleware.TokenClaims, error) {
	claims, err := a.signer.Validate(tokenString)
	if err != nil {
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	// Tokens issued before a session exists carry no sid; the zero session
	// ID is valid there.
	var sessionID id.SessionID
	if claims.SessionID != "" {
		sessionID, err = id.ParseSessionID(claims.SessionID)
		if err != nil {
			return nil, err
		}
	}

	return &middleware.TokenClaims{
		UserID:    userID,
		SessionID: sessionID,
		ClientID:  claims.ClientID,
	}, nil
}
