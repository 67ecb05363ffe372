package service

import (
	"time"

	"grove/internal/auth/models"
	dErrors "grove/pkg/domain-errors"
)

func (s *AuthServiceSuite) TestValidateAuthorize() {
	s.Run("valid request resolves the client", func() {
		client, err := s.svc.ValidateAuthorize(s.ctx(), s.authorizeRequest(""))
		s.Require().NoError(err)
		s.Equal(testClientID, client.OAuthClientID)
	})

	s.Run("unknown client is rejected", func() {
		req := s.authorizeRequest("")
		req.ClientID = "nobody"
		_, err := s.svc.ValidateAuthorize(s.ctx(), req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unregistered redirect URI is rejected", func() {
		req := s.authorizeRequest("")
		req.RedirectURI = "https://grove.place/other"
		_, err := s.svc.ValidateAuthorize(s.ctx(), req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("prefix of a registered URI does not match", func() {
		req := s.authorizeRequest("")
		req.RedirectURI = testRedirectURI + "/extra"
		_, err := s.svc.ValidateAuthorize(s.ctx(), req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing state is rejected", func() {
		req := s.authorizeRequest("")
		req.State = ""
		_, err := s.svc.ValidateAuthorize(s.ctx(), req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown challenge method is rejected", func() {
		req := s.authorizeRequest("")
		req.CodeChallenge = "x"
		req.CodeChallengeMethod = "S512"
		_, err := s.svc.ValidateAuthorize(s.ctx(), req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *AuthServiceSuite) TestExchangeAuthorizationCode() {
	s.Run("happy path issues a token pair", func() {
		code := s.mintCode(pkceChallenge("verifier-value"))

		result, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantAuthorizationCode)
			r.Code = code
			r.RedirectURI = testRedirectURI
			r.CodeVerifier = "verifier-value"
		}))
		s.Require().NoError(err)
		s.Equal("Bearer", result.TokenType)
		s.NotEmpty(result.AccessToken)
		s.NotEmpty(result.RefreshToken)
	})

	s.Run("code without PKCE exchanges without a verifier", func() {
		code := s.mintCode("")

		_, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantAuthorizationCode)
			r.Code = code
			r.RedirectURI = testRedirectURI
		}))
		s.NoError(err)
	})

	s.Run("wrong verifier burns the code", func() {
		code := s.mintCode(pkceChallenge("right-verifier"))

		_, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantAuthorizationCode)
			r.Code = code
			r.RedirectURI = testRedirectURI
			r.CodeVerifier = "wrong-verifier"
		}))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))

		// Retrying with the right verifier must fail: the code was consumed
		// atomically before PKCE ran.
		_, err = s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantAuthorizationCode)
			r.Code = code
			r.RedirectURI = testRedirectURI
			r.CodeVerifier = "right-verifier"
		}))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))
	})

	s.Run("redirect mismatch does not burn the code", func() {
		code := s.mintCode("")

		_, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantAuthorizationCode)
			r.Code = code
			r.RedirectURI = "https://grove.place/other"
		}))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))

		_, err = s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantAuthorizationCode)
			r.Code = code
			r.RedirectURI = testRedirectURI
		}))
		s.NoError(err, "the exact redirect URI still redeems the code")
	})

	s.Run("replayed code is rejected", func() {
		code := s.mintCode("")
		exchange := func() error {
			_, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
				r.GrantType = string(models.GrantAuthorizationCode)
				r.Code = code
				r.RedirectURI = testRedirectURI
			}))
			return err
		}

		s.Require().NoError(exchange())
		s.True(dErrors.HasCode(exchange(), dErrors.CodeInvalidGrant))
	})

	s.Run("expired code is rejected", func() {
		code := s.mintCode("")

		late := s.ctxAt(s.now.Add(6 * time.Minute))
		_, err := s.svc.Token(late, s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantAuthorizationCode)
			r.Code = code
			r.RedirectURI = testRedirectURI
		}))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))
	})
}

func (s *AuthServiceSuite) TestClientErrorsAreIndistinguishable() {
	code := s.mintCode("")

	build := func(mutate func(*models.TokenRequest)) error {
		_, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantAuthorizationCode)
			r.Code = code
			r.RedirectURI = testRedirectURI
			mutate(r)
		}))
		return err
	}

	unknownClient := build(func(r *models.TokenRequest) { r.ClientID = "nobody" })
	wrongSecret := build(func(r *models.TokenRequest) { r.ClientSecret = "wrong" })
	badCode := build(func(r *models.TokenRequest) { r.Code = "never-issued" })

	for _, err := range []error{unknownClient, wrongSecret, badCode} {
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))
		s.Equal(unknownClient.Error(), err.Error(), "failure causes must not be distinguishable")
	}
}

func (s *AuthServiceSuite) TestRefreshGrant() {
	code := s.mintCode("")
	issued, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
		r.GrantType = string(models.GrantAuthorizationCode)
		r.Code = code
		r.RedirectURI = testRedirectURI
	}))
	s.Require().NoError(err)

	s.Run("rotates to a fresh pair", func() {
		rotated, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantRefreshToken)
			r.RefreshToken = issued.RefreshToken
		}))
		s.Require().NoError(err)
		s.NotEqual(issued.RefreshToken, rotated.RefreshToken)
	})

	s.Run("replaying the rotated-away token fails", func() {
		_, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = string(models.GrantRefreshToken)
			r.RefreshToken = issued.RefreshToken
		}))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidGrant))
	})
}

func (s *AuthServiceSuite) TestTokenRequestValidation() {
	s.Run("nil request", func() {
		_, err := s.svc.Token(s.ctx(), nil)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unsupported grant type", func() {
		_, err := s.svc.Token(s.ctx(), s.tokenRequest(func(r *models.TokenRequest) {
			r.GrantType = "password"
		}))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("missing client credentials", func() {
		_, err := s.svc.Token(s.ctx(), &models.TokenRequest{GrantType: string(models.GrantRefreshToken), RefreshToken: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}
