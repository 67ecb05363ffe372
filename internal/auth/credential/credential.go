// Package credential adapts the external credential-verification library to
// the authorize flow. The library owns password and passkey material; this
// package owns the handoff contract: verify what the form presented, and on
// success fire the session hook with the same request pointer the transport
// registered with the bridge.
package credential

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"grove/internal/auth/models"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/email"
	"grove/pkg/platform/privacy"
	"grove/pkg/requestcontext"
)

// Verifier is the boundary to the credential library. Implementations must
// not retain the password after Verify returns.
type Verifier interface {
	Verify(ctx context.Context, address, password string) (id.UserID, error)
}

// Hook receives the verified identity. The *http.Request must be the one the
// transport registered; the bridge correlates by pointer.
type Hook interface {
	OnSessionCreated(r *http.Request, userID id.UserID)
}

// Authenticator implements the transport's Authenticate contract on top of a
// Verifier.
type Authenticator struct {
	verifier Verifier
	hook     Hook
	logger   *slog.Logger
}

func NewAuthenticator(verifier Verifier, hook Hook, logger *slog.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, hook: hook, logger: logger}
}

// Authenticate reads the submitted credentials, verifies them, and fires the
// session hook. Every failure collapses to the same unauthorized error; the
// caller must not learn whether the address or the password was wrong.
func (a *Authenticator) Authenticate(r *http.Request) error {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication failed")
	}

	address := email.Normalize(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	if address == "" || password == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication failed")
	}

	userID, err := a.verifier.Verify(ctx, address, password)
	if err != nil {
		a.logger.WarnContext(ctx, "credential verification failed",
			"email", privacy.RedactIdentifier(address))
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "authentication failed")
	}

	a.hook.OnSessionCreated(r, userID)
	return nil
}

// UserStore is the subset of the user store the dev verifier needs to
// provision its account.
type UserStore interface {
	Save(ctx context.Context, u *models.User) error
	FindByEmail(ctx context.Context, address string) (*models.User, error)
}

// DevVerifier backs password sign-in with a single env-seeded account. It
// stands in for the credential library during local development; the
// password is held only as a bcrypt hash.
type DevVerifier struct {
	address string
	hash    []byte
	userID  id.UserID
}

// NewDevVerifier hashes the configured password and provisions the account
// if it does not exist yet.
func NewDevVerifier(ctx context.Context, users UserStore, address, password string) (*DevVerifier, error) {
	normalized := email.Normalize(address)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash dev password")
	}

	user, err := users.FindByEmail(ctx, normalized)
	if err != nil {
		first, last := email.DeriveNameFromEmail(normalized)
		user = &models.User{
			ID:        id.NewUserID(),
			Email:     normalized,
			FirstName: first,
			LastName:  last,
			Provider:  "password",
			Verified:  true,
			CreatedAt: requestcontext.Now(ctx),
		}
		if err := users.Save(ctx, user); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "provision dev user")
		}
	}

	return &DevVerifier{address: normalized, hash: hash, userID: user.ID}, nil
}

func (v *DevVerifier) Verify(_ context.Context, address, password string) (id.UserID, error) {
	if email.Normalize(address) != v.address {
		return id.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "unknown account")
	}
	if bcrypt.CompareHashAndPassword(v.hash, []byte(password)) != nil {
		return id.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "password mismatch")
	}
	return v.userID, nil
}

// Disabled rejects every password sign-in. Deployments that have not linked
// the credential library keep the magic-link and device flows as their only
// entry points.
type Disabled struct{}

func (Disabled) Verify(context.Context, string, string) (id.UserID, error) {
	return id.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "password sign-in not configured")
}
