package httptransport

import (
	"net/http"
	"net/http/httptest"

	"grove/pkg/testutil"

	id "grove/pkg/domain"
)

func (s *HandlerSuite) authedRequest(method, path, accessToken string) *httptest.ResponseRecorder {
	req := testutil.NewRequest(s.T(), method, path)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestListSessionsMarksCurrentDevice() {
	currentID, accessToken := s.seedSession(s.userID)
	otherID, _ := s.seedSession(s.userID)

	rr := s.authedRequest(http.MethodGet, "/auth/sessions", accessToken)
	s.Require().Equal(http.StatusOK, rr.Code)

	var views []sessionView
	testutil.DecodeJSON(s.T(), rr, &views)
	s.Require().Len(views, 2)

	byID := map[string]sessionView{}
	for _, v := range views {
		byID[v.ID] = v
	}
	s.True(byID[currentID.String()].Current)
	s.False(byID[otherID.String()].Current)
	s.Equal("Chrome on macOS", byID[currentID.String()].DeviceName)

	// Fingerprints and raw user agents never reach the client.
	s.NotContains(rr.Body.String(), "fingerprint")
	s.NotContains(rr.Body.String(), testUserAgent)
}

func (s *HandlerSuite) TestRevokeOtherSession() {
	_, accessToken := s.seedSession(s.userID)
	otherID, _ := s.seedSession(s.userID)

	rr := s.authedRequest(http.MethodDelete, "/auth/sessions/"+otherID.String(), accessToken)
	s.Require().Equal(http.StatusOK, rr.Code)

	listRR := s.authedRequest(http.MethodGet, "/auth/sessions", accessToken)
	var views []sessionView
	testutil.DecodeJSON(s.T(), listRR, &views)
	s.Len(views, 1)
}

func (s *HandlerSuite) TestRevokeSomeoneElsesSessionFails() {
	_, accessToken := s.seedSession(s.userID)
	strangerSession, _ := s.seedSession(id.NewUserID())

	rr := s.authedRequest(http.MethodDelete, "/auth/sessions/"+strangerSession.String(), accessToken)
	s.Equal(http.StatusForbidden, rr.Code)
}

func (s *HandlerSuite) TestRevokeSessionRejectsMalformedID() {
	_, accessToken := s.seedSession(s.userID)

	rr := s.authedRequest(http.MethodDelete, "/auth/sessions/not-a-uuid", accessToken)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *HandlerSuite) TestLogoutClearsSessionCookie() {
	_, accessToken := s.seedSession(s.userID)

	rr := s.authedRequest(http.MethodPost, "/auth/logout", accessToken)
	s.Require().Equal(http.StatusOK, rr.Code)

	cleared := responseCookie(rr.Result(), sessionCookie)
	s.Require().NotNil(cleared)
	s.Negative(cleared.MaxAge)
	s.Empty(cleared.Value)
}

func (s *HandlerSuite) TestLogoutAllKeepsCurrentSession() {
	currentID, accessToken := s.seedSession(s.userID)
	s.seedSession(s.userID)
	s.seedSession(s.userID)

	rr := s.authedRequest(http.MethodPost, "/auth/logout-all", accessToken)
	s.Require().Equal(http.StatusOK, rr.Code)

	var body map[string]int
	testutil.DecodeJSON(s.T(), rr, &body)
	s.Equal(2, body["revoked"])

	listRR := s.authedRequest(http.MethodGet, "/auth/sessions", accessToken)
	var views []sessionView
	testutil.DecodeJSON(s.T(), listRR, &views)
	s.Require().Len(views, 1)
	s.Equal(currentID.String(), views[0].ID)
}
