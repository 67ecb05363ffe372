package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
)

// Client is a registered first-party application.
//
// Invariants:
//   - Name is non-empty and at most 128 characters
//   - OAuthClientID is non-empty (the public client_id used in flows)
//   - RedirectURIs is non-empty
//   - The secret is stored only as a bcrypt hash
//   - Redirect URIs match exactly at exchange time; no prefix matching
type Client struct {
	ID               id.ClientID `json:"id"`
	Name             string      `json:"name"`
	OAuthClientID    string      `json:"client_id"`
	ClientSecretHash string      `json:"-"` // Never serialize - contains bcrypt hash
	RedirectURIs     []string    `json:"redirect_uris"`
	AllowedOrigins   []string    `json:"allowed_origins"`
	// InternalService marks platform-owned services that may call the token
	// endpoint without a user-interactive flow.
	InternalService bool      `json:"internal_service"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewClient constructs a Client, hashing the plaintext secret. The plaintext
// is never retained.
func NewClient(name, oauthClientID, secret string, redirectURIs, allowedOrigins []string, internalService bool, now time.Time) (*Client, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client name must be 128 characters or less")
	}
	if oauthClientID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client_id cannot be empty")
	}
	if len(redirectURIs) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "redirect_uris cannot be empty")
	}
	if secret == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client secret cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash client secret")
	}

	return &Client{
		ID:               id.NewClientID(),
		Name:             name,
		OAuthClientID:    oauthClientID,
		ClientSecretHash: string(hash),
		RedirectURIs:     redirectURIs,
		AllowedOrigins:   allowedOrigins,
		InternalService:  internalService,
		CreatedAt:        now,
	}, nil
}

// VerifySecret checks a presented secret against the stored bcrypt hash.
func (c *Client) VerifySecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.ClientSecretHash), []byte(secret)) == nil
}

// AllowsRedirect reports whether the URI exactly matches one of the
// registered redirect URIs. Exact string equality only.
func (c *Client) AllowsRedirect(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// RotateSecret replaces the stored secret hash. Clients are otherwise
// immutable after provisioning.
func (c *Client) RotateSecret(newSecret string) error {
	if newSecret == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "client secret cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newSecret), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash client secret")
	}
	c.ClientSecretHash = string(hash)
	return nil
}
