package httptransport

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"grove/internal/auth/models"
	"grove/pkg/testutil"
)

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (s *HandlerSuite) authorizeForm(mutate func(url.Values)) url.Values {
	form := url.Values{
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
		"state":        {testState},
	}
	if mutate != nil {
		mutate(form)
	}
	return form
}

// postAuthorize submits the login form with the state cookie the start step
// parked on the browser.
func (s *HandlerSuite) postAuthorize(form url.Values) *httptest.ResponseRecorder {
	req := testutil.NewFormRequest(s.T(), http.MethodPost, "/auth/authorize", form)
	req.Header.Set("User-Agent", testUserAgent)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: testState})
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestAuthorizeStartParksFlowCookies() {
	req := testutil.NewRequest(s.T(), http.MethodGet,
		"/auth/authorize?client_id="+testClientID+
			"&redirect_uri="+url.QueryEscape(testRedirectURI)+
			"&state="+testState+
			"&code_verifier=raw-verifier")
	rr := testutil.DoRequest(s.router, req)

	s.Require().Equal(http.StatusOK, rr.Code)

	var body map[string]string
	testutil.DecodeJSON(s.T(), rr, &body)
	s.Equal("Grove Web", body["client"])
	s.Equal(testState, body["state"])

	state := responseCookie(rr.Result(), stateCookie)
	s.Require().NotNil(state)
	s.Equal(testState, state.Value)
	s.True(state.HttpOnly)
	s.Empty(state.Domain, "flow cookies are host-only")

	verifier := responseCookie(rr.Result(), verifierCookie)
	s.Require().NotNil(verifier)
	s.Equal("raw-verifier", verifier.Value)
}

func (s *HandlerSuite) TestAuthorizeStartRejectsUnknownClient() {
	req := testutil.NewRequest(s.T(), http.MethodGet,
		"/auth/authorize?client_id=nope&redirect_uri="+url.QueryEscape(testRedirectURI)+"&state=x")
	rr := testutil.DoRequest(s.router, req)

	s.Equal(http.StatusBadRequest, rr.Code)
	s.Nil(responseCookie(rr.Result(), stateCookie))
}

func (s *HandlerSuite) TestAuthorizeRedirectsWithCodeAndSessionCookie() {
	rr := s.postAuthorize(s.authorizeForm(nil))

	s.Require().Equal(http.StatusFound, rr.Code)

	location, err := url.Parse(rr.Header().Get("Location"))
	s.Require().NoError(err)
	s.Equal("grove.place", location.Host)
	s.Equal("/auth/callback", location.Path)
	s.NotEmpty(location.Query().Get("code"))
	s.Equal(testState, location.Query().Get("state"))

	session := responseCookie(rr.Result(), sessionCookie)
	s.Require().NotNil(session)
	s.NotEmpty(session.Value)
	s.True(session.HttpOnly)
	s.True(session.Secure)
	s.Equal(http.SameSiteLaxMode, session.SameSite)
	s.Equal("grove.place", session.Domain)

	// Flow cookies die with the attempt.
	state := responseCookie(rr.Result(), stateCookie)
	s.Require().NotNil(state)
	s.Negative(state.MaxAge)

	// The release middleware drops the correlation state.
	s.Zero(s.bridge.Len())
}

func (s *HandlerSuite) TestAuthorizeStateCookieMismatchRejected() {
	req := testutil.NewFormRequest(s.T(), http.MethodPost, "/auth/authorize", s.authorizeForm(nil))
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "some-other-state"})
	rr := testutil.DoRequest(s.router, req)

	s.Equal(http.StatusBadRequest, rr.Code)
	s.Nil(responseCookie(rr.Result(), sessionCookie))
	s.Empty(rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestAuthorizeCredentialFailureIsGeneric() {
	s.auth.err = errBadCredentials

	rr := s.postAuthorize(s.authorizeForm(nil))

	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Nil(responseCookie(rr.Result(), sessionCookie))

	var body errorResponse
	testutil.DecodeJSON(s.T(), rr, &body)
	s.Equal("authentication failed", body.Description)
	s.NotContains(rr.Body.String(), "password mismatch")
}

func (s *HandlerSuite) TestAuthorizeNoHookSetsNoCookie() {
	s.auth.fireHook = false

	rr := s.postAuthorize(s.authorizeForm(nil))

	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Nil(responseCookie(rr.Result(), sessionCookie))
	s.Zero(s.bridge.Len())
}

func (s *HandlerSuite) TestAuthorizeUnregisteredRedirectRendersError() {
	rr := s.postAuthorize(s.authorizeForm(func(form url.Values) {
		form.Set("redirect_uri", "https://evil.com/callback")
	}))

	s.Equal(http.StatusBadRequest, rr.Code)
	s.Empty(rr.Header().Get("Location"), "never redirect to an unvalidated URI")
}

func (s *HandlerSuite) TestAuthorizeCodeExchangeEndToEnd() {
	s.seedUser("fern@grove.place")

	rr := s.postAuthorize(s.authorizeForm(func(form url.Values) {
		form.Set("code_challenge", pkceChallenge("raw-verifier"))
		form.Set("code_challenge_method", string(models.ChallengeMethodS256))
	}))
	s.Require().Equal(http.StatusFound, rr.Code)

	location, err := url.Parse(rr.Header().Get("Location"))
	s.Require().NoError(err)
	code := location.Query().Get("code")

	tokenRR := testutil.DoRequest(s.router, testutil.NewFormRequest(s.T(), http.MethodPost, "/auth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {"raw-verifier"},
	}))
	s.Require().Equal(http.StatusOK, tokenRR.Code)
	s.Equal("no-store", tokenRR.Header().Get("Cache-Control"))

	var result models.TokenResult
	testutil.DecodeJSON(s.T(), tokenRR, &result)
	s.Equal("Bearer", result.TokenType)
	s.NotEmpty(result.AccessToken)
	s.NotEmpty(result.RefreshToken)

	infoReq := testutil.NewRequest(s.T(), http.MethodGet, "/auth/userinfo")
	infoReq.Header.Set("Authorization", "Bearer "+result.AccessToken)
	infoRR := testutil.DoRequest(s.router, infoReq)
	s.Require().Equal(http.StatusOK, infoRR.Code)

	var info map[string]any
	testutil.DecodeJSON(s.T(), infoRR, &info)
	s.Equal(s.userID.String(), info["sub"])
	s.Equal("fern@grove.place", info["email"])
}

func (s *HandlerSuite) TestTokenClientCredentialsViaBasicAuth() {
	rr := s.postAuthorize(s.authorizeForm(nil))
	s.Require().Equal(http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	s.Require().NoError(err)

	req := testutil.NewFormRequest(s.T(), http.MethodPost, "/auth/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {location.Query().Get("code")},
		"redirect_uri": {testRedirectURI},
	})
	req.SetBasicAuth(testClientID, testClientSecret)

	s.Equal(http.StatusOK, testutil.DoRequest(s.router, req).Code)
}

func (s *HandlerSuite) TestTokenRejectionsShareTheInvalidGrantEnvelope() {
	rr := testutil.DoRequest(s.router, testutil.NewFormRequest(s.T(), http.MethodPost, "/auth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"code":          {"no-such-code"},
		"redirect_uri":  {testRedirectURI},
	}))

	s.Equal(http.StatusBadRequest, rr.Code)

	var body errorResponse
	testutil.DecodeJSON(s.T(), rr, &body)
	s.Equal("invalid_grant", body.Error)
	s.Equal("invalid grant", body.Description)
}

func (s *HandlerSuite) TestUserInfoRequiresBearerToken() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/auth/userinfo"))

	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Contains(rr.Body.String(), "invalid_token")
}

func (s *HandlerSuite) TestHealthz() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	s.Equal(http.StatusOK, rr.Code)
}

// seedUser stores a profile for s.userID so userinfo can resolve it.
func (s *HandlerSuite) seedUser(email string) {
	s.Require().NoError(s.users.Save(context.Background(), &models.User{
		ID:        s.userID,
		Email:     email,
		FirstName: "Fern",
		LastName:  "Willow",
		Provider:  "password",
		Verified:  true,
		CreatedAt: time.Now(),
	}))
}
