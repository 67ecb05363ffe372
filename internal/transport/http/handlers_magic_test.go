package httptransport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"grove/pkg/testutil"
)

func (s *HandlerSuite) requestMagicCode(email string) string {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/magic/request",
		magicRequestBody{Email: email}))
	s.Require().Equal(http.StatusAccepted, rr.Code)
	s.Require().NotEmpty(s.sender.issues)
	return s.sender.issues[len(s.sender.issues)-1].Code
}

func (s *HandlerSuite) TestMagicRequestHandsCodeToDelivery() {
	code := s.requestMagicCode("fern@grove.place")

	s.Len(code, 6)
	s.Equal("fern@grove.place", s.sender.issues[0].Email)
}

func (s *HandlerSuite) TestMagicRequestHidesDeliveryFailure() {
	s.sender.err = errors.New("smtp down")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/magic/request",
		magicRequestBody{Email: "fern@grove.place"}))

	s.Equal(http.StatusAccepted, rr.Code)
	s.NotContains(rr.Body.String(), "smtp")
}

func (s *HandlerSuite) TestMagicVerifyBridgesSessionAndSanitizesRedirect() {
	code := s.requestMagicCode("fern@grove.place")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/magic/verify",
		magicVerifyBody{Email: "fern@grove.place", Code: code, RedirectTo: "https://evil.com/phish"}))

	s.Require().Equal(http.StatusOK, rr.Code)

	var body map[string]string
	testutil.DecodeJSON(s.T(), rr, &body)
	s.Equal("/", body["redirect"], "off-platform destinations downgrade to the default")

	session := responseCookie(rr.Result(), sessionCookie)
	s.Require().NotNil(session)
	s.True(session.HttpOnly)

	// The provisioned user owns exactly one ledger session.
	user, err := s.users.FindByEmail(context.Background(), "fern@grove.place")
	s.Require().NoError(err)
	sessions, err := s.ledger.ListSessions(context.Background(), user.ID, time.Now())
	s.Require().NoError(err)
	s.Len(sessions, 1)
	s.Equal(session.Value, sessions[0].ID.String())

	s.Zero(s.bridge.Len())
}

func (s *HandlerSuite) TestMagicVerifyKeepsPlatformRedirect() {
	code := s.requestMagicCode("fern@grove.place")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/magic/verify",
		magicVerifyBody{Email: "fern@grove.place", Code: code, RedirectTo: "https://fern.grove.place/admin"}))

	s.Require().Equal(http.StatusOK, rr.Code)

	var body map[string]string
	testutil.DecodeJSON(s.T(), rr, &body)
	s.Equal("https://fern.grove.place/admin", body["redirect"])
}

func (s *HandlerSuite) TestMagicVerifyWrongCodeIsGeneric() {
	s.requestMagicCode("fern@grove.place")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/magic/verify",
		magicVerifyBody{Email: "fern@grove.place", Code: "0000000", RedirectTo: "/"}))

	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Contains(rr.Body.String(), "invalid or expired code")
	s.Nil(responseCookie(rr.Result(), sessionCookie))
}
