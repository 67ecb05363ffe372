package service

import (
	"context"
	"time"

	"grove/internal/auth/models"
	dErrors "grove/pkg/domain-errors"
)

func (s *AuthServiceSuite) startDeviceFlow() *models.DeviceAuthorizationResult {
	result, err := s.svc.StartDeviceAuthorization(s.ctx(), testClientID, testClientSecret)
	s.Require().NoError(err)
	return result
}

func (s *AuthServiceSuite) pollDevice(ctx context.Context, deviceCode string) (*models.TokenResult, error) {
	return s.svc.Token(ctx, s.tokenRequest(func(r *models.TokenRequest) {
		r.GrantType = models.GrantDeviceCodeURN
		r.DeviceCode = deviceCode
	}))
}

func (s *AuthServiceSuite) TestStartDeviceAuthorization() {
	result := s.startDeviceFlow()

	s.NotEmpty(result.DeviceCode)
	s.Len(result.UserCode, 9) // XXXX-XXXX
	s.Equal("https://auth.grove.place/device", result.VerificationURI)
	s.Contains(result.VerificationURIComplete, result.UserCode)
	s.Equal(5, result.Interval)
	s.Equal(600, result.ExpiresIn)
}

func (s *AuthServiceSuite) TestStartDeviceAuthorization_BadClient() {
	_, err := s.svc.StartDeviceAuthorization(s.ctx(), testClientID, "wrong-secret")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))
}

// TestDeviceFlowLifecycle walks the full happy path: start, early pending
// polls, a too-fast poll escalating the interval, approval from a second
// device, the single token-issuing poll, and the post-consumption poll.
func (s *AuthServiceSuite) TestDeviceFlowLifecycle() {
	flow := s.startDeviceFlow()
	at := func(d time.Duration) context.Context { return s.ctxAt(s.now.Add(d)) }

	// Polling the moment the flow starts is already too fast: issuance
	// starts the interval clock, and the effective interval grows
	// server-side.
	_, err := s.pollDevice(at(time.Second), flow.DeviceCode)
	s.True(dErrors.HasCode(err, dErrors.CodeSlowDown))

	// 11s later satisfies the escalated 10s interval: pending.
	_, err = s.pollDevice(at(12*time.Second), flow.DeviceCode)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthorizationPending))

	// 8s later satisfies the advertised 5s but not the escalated 10s.
	_, err = s.pollDevice(at(20*time.Second), flow.DeviceCode)
	s.True(dErrors.HasCode(err, dErrors.CodeSlowDown))

	// The user approves from their phone.
	s.Require().NoError(s.svc.ApproveDevice(at(25*time.Second), flow.UserCode, s.userID))

	// Next legal poll gets tokens, exactly once.
	result, err := s.pollDevice(at(40*time.Second), flow.DeviceCode)
	s.Require().NoError(err)
	s.NotEmpty(result.AccessToken)
	s.NotEmpty(result.RefreshToken)

	// A session now exists for the polling device.
	sessions, err := s.svc.ListSessions(at(40*time.Second), s.userID)
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	s.Contains(sessions[0].DeviceName, "Chrome")

	// The record is consumed; later polls report expiry, not success.
	_, err = s.pollDevice(at(60*time.Second), flow.DeviceCode)
	s.True(dErrors.HasCode(err, dErrors.CodeExpiredToken))
}

func (s *AuthServiceSuite) TestDeviceFlowDenied() {
	flow := s.startDeviceFlow()

	s.Require().NoError(s.svc.DenyDevice(s.ctx(), flow.UserCode, s.userID))

	_, err := s.pollDevice(s.ctxAt(s.now.Add(10*time.Second)), flow.DeviceCode)
	s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
}

func (s *AuthServiceSuite) TestDeviceFlowExpiry() {
	flow := s.startDeviceFlow()
	late := s.ctxAt(s.now.Add(11 * time.Minute))

	s.Run("expired code cannot be approved", func() {
		err := s.svc.ApproveDevice(late, flow.UserCode, s.userID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("poll reports expiry", func() {
		_, err := s.pollDevice(late, flow.DeviceCode)
		s.True(dErrors.HasCode(err, dErrors.CodeExpiredToken))
	})

	s.Run("late approval can never resurrect the code", func() {
		err := s.svc.ApproveDevice(s.ctxAt(s.now.Add(12*time.Minute)), flow.UserCode, s.userID)
		s.Error(err)
		_, err = s.pollDevice(s.ctxAt(s.now.Add(13*time.Minute)), flow.DeviceCode)
		s.True(dErrors.HasCode(err, dErrors.CodeExpiredToken))
	})
}

func (s *AuthServiceSuite) TestApproveDevice_ProbingIsUninformative() {
	flow := s.startDeviceFlow()
	s.Require().NoError(s.svc.DenyDevice(s.ctx(), flow.UserCode, s.userID))

	unknownErr := s.svc.ApproveDevice(s.ctx(), "ZZZZ-ZZZZ", s.userID)
	deniedErr := s.svc.ApproveDevice(s.ctx(), flow.UserCode, s.userID)

	s.Require().Error(unknownErr)
	s.Require().Error(deniedErr)
	s.Equal(unknownErr.Error(), deniedErr.Error(), "verification page must not reveal whether a code exists")
}

func (s *AuthServiceSuite) TestDeviceCodePresentedByWrongClient() {
	flow := s.startDeviceFlow()
	s.Require().NoError(s.svc.ApproveDevice(s.ctx(), flow.UserCode, s.userID))

	_, err := s.svc.Token(s.ctxAt(s.now.Add(10*time.Second)), &models.TokenRequest{
		GrantType:    models.GrantDeviceCodeURN,
		ClientID:     "nobody",
		ClientSecret: "whatever",
		DeviceCode:   flow.DeviceCode,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))
}

func (s *AuthServiceSuite) TestUnknownDeviceCode() {
	_, err := s.pollDevice(s.ctx(), "never-issued")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))
}
