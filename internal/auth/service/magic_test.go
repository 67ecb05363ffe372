package service

import (
	"context"
	"time"

	"grove/internal/audit"
	dErrors "grove/pkg/domain-errors"
)

func (s *AuthServiceSuite) TestRequestMagicCode() {
	issue, err := s.svc.RequestMagicCode(s.ctx(), "Rowan.Birch@Grove.Place")
	s.Require().NoError(err)

	s.Equal("rowan.birch@grove.place", issue.Email, "address is normalized before storage")
	s.Len(issue.Code, 6)
	s.Equal(s.now.Add(10*time.Minute), issue.ExpiresAt)
}

func (s *AuthServiceSuite) TestRequestMagicCode_Throttled() {
	for range magicBurst {
		_, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
		s.Require().NoError(err)
	}

	_, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
	s.True(dErrors.HasCode(err, dErrors.CodeTooMany))

	// The refill window restores service.
	_, err = s.svc.RequestMagicCode(s.ctxAt(s.now.Add(2*time.Minute)), "rowan@grove.place")
	s.NoError(err)
}

func (s *AuthServiceSuite) TestVerifyMagicCode() {
	issue, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
	s.Require().NoError(err)

	s.Run("provisions the user on first login", func() {
		user, err := s.svc.VerifyMagicCode(s.ctx(), issue.Email, issue.Code)
		s.Require().NoError(err)
		s.Equal("rowan@grove.place", user.Email)
		s.Equal("Rowan User", user.Name())
		s.Equal("magic_link", user.Provider)
		s.True(user.Verified)

		stored, err := s.users.FindByEmail(context.Background(), issue.Email)
		s.Require().NoError(err)
		s.Equal(user.ID, stored.ID)
	})

	s.Run("replaying a consumed code fails", func() {
		_, err := s.svc.VerifyMagicCode(s.ctx(), issue.Email, issue.Code)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *AuthServiceSuite) TestVerifyMagicCode_GuessingIsThrottled() {
	issue, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
	s.Require().NoError(err)

	for range magicBurst {
		_, err := s.svc.VerifyMagicCode(s.ctx(), issue.Email, "000000")
		s.Require().True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	}

	// Further guesses are cut off before the store is consulted, so the
	// real code cannot be brute-forced inside one refill window.
	_, err = s.svc.VerifyMagicCode(s.ctx(), issue.Email, "000000")
	s.True(dErrors.HasCode(err, dErrors.CodeTooMany))
	_, err = s.svc.VerifyMagicCode(s.ctx(), issue.Email, issue.Code)
	s.True(dErrors.HasCode(err, dErrors.CodeTooMany))

	// The refill window restores service and the code is still redeemable.
	_, err = s.svc.VerifyMagicCode(s.ctxAt(s.now.Add(2*time.Minute)), issue.Email, issue.Code)
	s.NoError(err)
}

func (s *AuthServiceSuite) TestVerifyMagicCode_SecondLoginReusesIdentity() {
	first, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
	s.Require().NoError(err)
	user1, err := s.svc.VerifyMagicCode(s.ctx(), first.Email, first.Code)
	s.Require().NoError(err)

	second, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
	s.Require().NoError(err)
	user2, err := s.svc.VerifyMagicCode(s.ctx(), second.Email, second.Code)
	s.Require().NoError(err)

	s.Equal(user1.ID, user2.ID)
}

func (s *AuthServiceSuite) TestVerifyMagicCode_CrossAccountGuessing() {
	victim, err := s.svc.RequestMagicCode(s.ctx(), "victim@grove.place")
	s.Require().NoError(err)

	// A valid code redeemed against a different address must fail and must
	// not burn the victim's code.
	_, err = s.svc.VerifyMagicCode(s.ctx(), "attacker@grove.place", victim.Code)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.svc.VerifyMagicCode(s.ctx(), victim.Email, victim.Code)
	s.NoError(err, "the owner can still redeem their code")
}

func (s *AuthServiceSuite) TestVerifyMagicCode_FailuresShareOneMessage() {
	issue, err := s.svc.RequestMagicCode(s.ctx(), "rowan@grove.place")
	s.Require().NoError(err)

	_, expiredErr := s.svc.VerifyMagicCode(s.ctxAt(s.now.Add(11*time.Minute)), issue.Email, issue.Code)
	_, unknownErr := s.svc.VerifyMagicCode(s.ctx(), "rowan@grove.place", "000000")
	_, wrongEmailErr := s.svc.VerifyMagicCode(s.ctx(), "other@grove.place", issue.Code)

	for _, err := range []error{expiredErr, unknownErr, wrongEmailErr} {
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Equal(expiredErr.Error(), err.Error())
	}
}

func (s *AuthServiceSuite) TestMagicAuditTrailIsRedacted() {
	issue, err := s.svc.RequestMagicCode(s.ctx(), "rowan.birch@grove.place")
	s.Require().NoError(err)
	_, err = s.svc.VerifyMagicCode(s.ctx(), issue.Email, issue.Code)
	s.Require().NoError(err)

	s.recorder.Close()
	events := s.auditStore.All()
	s.Require().NotEmpty(events)

	var sawRequested, sawVerified bool
	for _, event := range events {
		s.NotContains(event.Detail, "rowan.birch@grove.place", "raw address must never reach the audit trail")
		s.NotContains(event.Detail, issue.Code)
		switch event.Type {
		case audit.EventMagicRequested:
			sawRequested = true
		case audit.EventMagicVerified:
			sawVerified = true
		}
	}
	s.True(sawRequested)
	s.True(sawVerified)
}
