package httptransport

import (
	"net/http"
	"net/url"
	"regexp"
	"time"

	"grove/internal/auth/models"
	"grove/pkg/testutil"
)

var userCodePattern = regexp.MustCompile(`^[BCDFGHJKLMNPQRSTVWXZ]{4}-[BCDFGHJKLMNPQRSTVWXZ]{4}$`)

func (s *HandlerSuite) startDeviceFlow() models.DeviceAuthorizationResult {
	rr := testutil.DoRequest(s.router, testutil.NewFormRequest(s.T(), http.MethodPost, "/device/code", url.Values{
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}))
	s.Require().Equal(http.StatusOK, rr.Code)

	var result models.DeviceAuthorizationResult
	testutil.DecodeJSON(s.T(), rr, &result)
	return result
}

func (s *HandlerSuite) TestDeviceCodeStart() {
	result := s.startDeviceFlow()

	s.NotEmpty(result.DeviceCode)
	s.Regexp(userCodePattern, result.UserCode)
	s.Equal("https://auth.grove.place/device", result.VerificationURI)
	s.Contains(result.VerificationURIComplete, "user_code="+url.QueryEscape(result.UserCode))
	s.Equal(5, result.Interval)
	s.Positive(result.ExpiresIn)
}

func (s *HandlerSuite) TestDeviceCodeRejectsUnknownClient() {
	rr := testutil.DoRequest(s.router, testutil.NewFormRequest(s.T(), http.MethodPost, "/device/code", url.Values{
		"client_id":     {"nope"},
		"client_secret": {"nope"},
	}))

	s.Equal(http.StatusBadRequest, rr.Code)
	s.Contains(rr.Body.String(), "invalid_grant")
}

func (s *HandlerSuite) TestDeviceVerifyApproveThenExchange() {
	flow := s.startDeviceFlow()
	_, accessToken := s.seedSession(s.userID)

	verifyReq := testutil.NewJSONRequest(s.T(), http.MethodPost, "/device/verify",
		deviceVerifyRequest{UserCode: flow.UserCode, Action: "approve"})
	verifyReq.Header.Set("Authorization", "Bearer "+accessToken)
	verifyRR := testutil.DoRequest(s.router, verifyReq)

	s.Require().Equal(http.StatusOK, verifyRR.Code)
	s.Contains(verifyRR.Body.String(), "approved")

	// Poll past the advertised interval; issuance starts the clock.
	pollReq := testutil.NewFormRequest(s.T(), http.MethodPost, "/auth/token", url.Values{
		"grant_type":    {models.GrantDeviceCodeURN},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"device_code":   {flow.DeviceCode},
	})
	pollReq = testutil.WithFixedTime(pollReq, time.Now().Add(6*time.Second))
	pollRR := testutil.DoRequest(s.router, pollReq)
	s.Require().Equal(http.StatusOK, pollRR.Code)

	var result models.TokenResult
	testutil.DecodeJSON(s.T(), pollRR, &result)
	s.NotEmpty(result.AccessToken)
	s.NotEmpty(result.RefreshToken)
}

func (s *HandlerSuite) TestDeviceTokenPollImmediatelyThrottled() {
	flow := s.startDeviceFlow()

	rr := testutil.DoRequest(s.router, testutil.NewFormRequest(s.T(), http.MethodPost, "/auth/token", url.Values{
		"grant_type":    {models.GrantDeviceCodeURN},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"device_code":   {flow.DeviceCode},
	}))

	s.Contains(rr.Body.String(), "slow_down")
}

func (s *HandlerSuite) TestDeviceVerifyRequiresAuth() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/device/verify",
		deviceVerifyRequest{UserCode: "BCDF-GHJK", Action: "approve"}))

	s.Equal(http.StatusUnauthorized, rr.Code)
}

func (s *HandlerSuite) TestDeviceVerifyUnknownCode() {
	_, accessToken := s.seedSession(s.userID)

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/device/verify",
		deviceVerifyRequest{UserCode: "BCDF-GHJK", Action: "approve"})
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rr := testutil.DoRequest(s.router, req)

	s.Equal(http.StatusNotFound, rr.Code)
	s.Contains(rr.Body.String(), "code not found or expired")
}

func (s *HandlerSuite) TestDeviceVerifyRejectsUnknownAction() {
	_, accessToken := s.seedSession(s.userID)

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/device/verify",
		deviceVerifyRequest{UserCode: "BCDF-GHJK", Action: "maybe"})
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rr := testutil.DoRequest(s.router, req)

	s.Equal(http.StatusBadRequest, rr.Code)
}
