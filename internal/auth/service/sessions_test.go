package service

import (
	"context"

	"grove/internal/audit"
	"grove/internal/auth/models"
	"grove/internal/ledger"
	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/requestcontext"
)

// seedSession creates a ledger session directly, as the bridge would after a
// successful credential verification.
func (s *AuthServiceSuite) seedSession(userID id.UserID) id.SessionID {
	sessionID, err := s.ledger.CreateSession(s.ctx(), userID, ledger.CreateParams{
		DeviceFingerprint: s.devices.Fingerprint(testUserAgent, "203.0.113.7"),
		DeviceName:        "Chrome on macOS",
		IP:                "203.0.113.0",
		UserAgent:         testUserAgent,
		TTL:               s.svc.cfg.SessionTTL,
	}, s.now)
	s.Require().NoError(err)
	return sessionID
}

// issueForSession mints a refresh token pair bound to an existing session.
func (s *AuthServiceSuite) issueForSession(userID id.UserID, sessionID id.SessionID) *models.TokenResult {
	req := s.authorizeRequest("")
	code, err := s.svc.IssueAuthorizationCode(s.ctx(), req, userID, sessionID)
	s.Require().NoError(err)

	result, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
		r.GrantType = string(models.GrantAuthorizationCode)
		r.Code = code
		r.RedirectURI = testRedirectURI
	}))
	s.Require().NoError(err)
	return result
}

func (s *AuthServiceSuite) TestRevokeSession_KillsRefreshTokens() {
	sessionID := s.seedSession(s.userID)
	issued := s.issueForSession(s.userID, sessionID)

	s.Require().NoError(s.svc.RevokeSession(s.ctx(), s.userID, sessionID))

	sessions, err := s.svc.ListSessions(s.ctx(), s.userID)
	s.Require().NoError(err)
	s.Empty(sessions)

	_, err = s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
		r.GrantType = string(models.GrantRefreshToken)
		r.RefreshToken = issued.RefreshToken
	}))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant), "refresh tokens die with their session")
}

func (s *AuthServiceSuite) TestRevokeSession_OwnershipEnforced() {
	sessionID := s.seedSession(s.userID)

	err := s.svc.RevokeSession(s.ctx(), id.NewUserID(), sessionID)
	s.Error(err, "another user cannot sign this device out")

	sessions, err := s.svc.ListSessions(s.ctx(), s.userID)
	s.Require().NoError(err)
	s.Len(sessions, 1)
}

func (s *AuthServiceSuite) TestLogout_IdempotentTowardClient() {
	sessionID := s.seedSession(s.userID)

	s.Require().NoError(s.svc.Logout(s.ctx(), s.userID, sessionID))
	s.NoError(s.svc.Logout(s.ctx(), s.userID, sessionID), "second logout of the same session still succeeds")
}

func (s *AuthServiceSuite) TestLogoutAll_KeepsCurrentDevice() {
	current := s.seedSession(s.userID)
	phone := s.seedSession(s.userID)
	s.seedSession(s.userID)
	phoneTokens := s.issueForSession(s.userID, phone)

	revoked, err := s.svc.LogoutAll(s.ctx(), s.userID, current)
	s.Require().NoError(err)
	s.Equal(2, revoked)

	sessions, err := s.svc.ListSessions(s.ctx(), s.userID)
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	s.Equal(current, sessions[0].ID)

	_, err = s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
		r.GrantType = string(models.GrantRefreshToken)
		r.RefreshToken = phoneTokens.RefreshToken
	}))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))
}

func (s *AuthServiceSuite) TestGetUserInfo() {
	issue, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
	s.Require().NoError(err)
	user, err := s.svc.VerifyMagicCode(s.ctx(), issue.Email, issue.Code)
	s.Require().NoError(err)

	s.Run("returns the profile for a known subject", func() {
		info, err := s.svc.GetUserInfo(s.ctx(), user.ID, s.seedSession(user.ID))
		s.Require().NoError(err)
		s.Equal(user.ID.String(), info.Subject)
		s.Equal("rowan@grove.place", info.Email)
		s.True(info.EmailVerified)
	})

	s.Run("unknown subject maps to the generic auth failure", func() {
		_, err := s.svc.GetUserInfo(s.ctx(), id.NewUserID(), id.SessionID{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *AuthServiceSuite) TestGetUserInfo_DeviceDriftIsAudited() {
	issue, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
	s.Require().NoError(err)
	user, err := s.svc.VerifyMagicCode(s.ctx(), issue.Email, issue.Code)
	s.Require().NoError(err)
	sessionID := s.seedSession(user.ID)

	// Same device, same network: the recorded fingerprint still matches.
	_, err = s.svc.GetUserInfo(s.ctx(), user.ID, sessionID)
	s.Require().NoError(err)

	// The same bearer token arriving from a different browser and network
	// still gets a response, but the mismatch lands in the audit trail.
	driftCtx := requestcontext.WithTime(context.Background(), s.now)
	driftCtx = requestcontext.WithClientMetadata(driftCtx, "198.51.100.23",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	_, err = s.svc.GetUserInfo(driftCtx, user.ID, sessionID)
	s.Require().NoError(err)

	s.recorder.Close()
	var drift []audit.Event
	for _, event := range s.auditStore.All() {
		if event.Type == audit.EventDeviceDrift {
			drift = append(drift, event)
		}
	}
	s.Require().Len(drift, 1, "only the mismatched request is flagged")
	s.Equal(user.ID.String(), drift[0].UserID)
	s.Equal(sessionID.String(), drift[0].SessionID)
}
