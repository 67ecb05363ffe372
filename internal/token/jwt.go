package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
)

// AccessClaims are the claims carried by an access token. Deliberately
// non-PII: subject and session are opaque IDs and the user's email is never
// embedded, so a leaked or logged token cannot by itself disclose an email.
type AccessClaims struct {
	ClientID  string `json:"client_id"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (id.UserID, error) {
	return id.ParseUserID(c.Subject)
}

// Signer mints and validates HS256 access tokens.
type Signer struct {
	signingKey []byte
	issuer     string
}

// NewSigner constructs a Signer. signingKey must be kept server-side only;
// anyone holding it can mint arbitrary access tokens.
func NewSigner(signingKey, issuer string) *Signer {
	return &Signer{signingKey: []byte(signingKey), issuer: issuer}
}

// Sign mints an access token for the user on the given client and session.
// The sid claim lets per-request middleware tie a bearer token back to its
// ledger session without a storage lookup.
func (s *Signer) Sign(userID id.UserID, clientID string, sessionID id.SessionID, now time.Time, ttl time.Duration) (string, error) {
	claims := AccessClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if !sessionID.IsNil() {
		claims.SessionID = sessionID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign access token")
	}
	return signed, nil
}

// Validate checks signature and expiry only; no storage round-trip, cheap
// enough to run on every request. Every failure mode (bad signature, expired,
// malformed) collapses to the same generic error so callers cannot be used as
// an oracle distinguishing them.
func (s *Signer) Validate(tokenString string) (*AccessClaims, error) {
	invalid := dErrors.New(dErrors.CodeUnauthorized, "invalid token")

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil || !parsed.Valid {
		return nil, invalid
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok {
		return nil, invalid
	}
	if _, err := claims.UserID(); err != nil {
		return nil, invalid
	}
	return claims, nil
}

// IsInvalidToken reports whether err is the generic validation failure.
func IsInvalidToken(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnauthorized)
}
