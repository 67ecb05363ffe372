package service

import (
	"context"
	"errors"

	"grove/internal/audit"
	"grove/internal/auth/models"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/platform/sentinel"
	"grove/pkg/requestcontext"
)

// UserInfo is the authenticated profile response. This endpoint is the only
// place the service hands out an email; access tokens themselves never
// carry one.
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// GetUserInfo resolves the profile for a validated access token's subject.
// It also compares the caller's device fingerprint against the one recorded
// at login; drift is logged and audited but never blocks the request, since
// a browser update or network move is the common cause.
func (s *Service) GetUserInfo(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*UserInfo, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve user")
	}

	s.observeDeviceDrift(ctx, userID, sessionID)

	return userInfoFromModel(user), nil
}

// observeDeviceDrift is best effort. A session that has already been revoked
// or expired simply yields no comparison; the access token stays valid until
// its own expiry regardless.
func (s *Service) observeDeviceDrift(ctx context.Context, userID id.UserID, sessionID id.SessionID) {
	if sessionID.IsNil() {
		return
	}

	now := requestcontext.Now(ctx)
	session, err := s.ledger.GetSession(ctx, userID, sessionID, now)
	if err != nil {
		return
	}

	current := s.devices.Fingerprint(requestcontext.UserAgent(ctx), requestcontext.ClientIP(ctx))
	if _, drift := s.devices.CompareFingerprints(session.DeviceFingerprint, current); !drift {
		return
	}

	s.logger.WarnContext(ctx, "device fingerprint drift",
		"user_id", userID,
		"session_id", sessionID,
	)
	s.recorder.Record(ctx, audit.Event{
		Type:      audit.EventDeviceDrift,
		UserID:    userID.String(),
		SessionID: sessionID.String(),
		Detail:    "request fingerprint differs from the one recorded at login",
	})
}

func userInfoFromModel(user *models.User) *UserInfo {
	return &UserInfo{
		Subject:       user.ID.String(),
		Email:         user.Email,
		EmailVerified: user.Verified,
		Name:          user.Name(),
		Picture:       user.Picture,
		Provider:      user.Provider,
	}
}
