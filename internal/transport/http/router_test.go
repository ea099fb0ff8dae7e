package httptransport

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"iwitness/internal/consent"
	"iwitness/internal/evidence"
	jwttoken "iwitness/internal/jwt_token"
	"iwitness/internal/jurisdiction"
	"iwitness/internal/lead"
	"iwitness/internal/ledger"
	"iwitness/internal/platform/logger"
	"iwitness/internal/platform/metrics"
	"iwitness/pkg/testutil"
)

type RouterSuite struct {
	suite.Suite

	router    http.Handler
	jwt       *jwttoken.JWTService
	incidents *jurisdiction.InMemoryIncidentStore
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	log := logger.Discard()
	m := metrics.NewForTest()

	eventLog := ledger.NewLog(ledger.NewInMemoryStore(), nil, log, m)
	s.incidents = jurisdiction.NewInMemoryIncidentStore()
	gate := jurisdiction.NewGate(jurisdiction.NewInMemoryRuleStore(), s.incidents, eventLog, m)
	consents := consent.NewValidator(consent.NewInMemoryStore(), gate, eventLog)
	s.jwt = jwttoken.NewJWTService("test-signing-key", "iwitness", "iwitness-api")

	s.router = NewRouter(Services{
		Sessions: evidence.NewManager(evidence.NewInMemoryStore(), nil, eventLog, log, m),
		Leads:    lead.NewReconciler(lead.NewInMemoryStore(), lead.NewInMemoryCache(), eventLog, log, m),
		Ledger:   eventLog,
		Gate:     gate,
		Consents: consents,
		JWT:      s.jwt,
		Logger:   log,
	})
}

func (s *RouterSuite) authed(req *http.Request) *http.Request {
	token, err := s.jwt.GenerateAccessToken("user-1", "witness@example.com", time.Hour)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (s *RouterSuite) TestSessionRequiresAuth() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", map[string]string{"trigger_source": "manual"})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *RouterSuite) TestSessionLifecycle() {
	req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", map[string]string{"trigger_source": "manual"}))
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("X-Device-Platform", "MacIntel")

	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)

	created := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	sessionID, _ := (*created)["session_id"].(string)
	s.Require().NotEmpty(sessionID)
	s.Equal("user-1", (*created)["user_id"])
	s.Len((*created)["integrity_hash"], 64)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/sessions/"+sessionID+"/verify")))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "verified", true)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodPost, "/sessions/"+sessionID+"/complete")))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "completed")
}

func (s *RouterSuite) TestSessionRelaysClientLocation() {
	req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", map[string]any{
		"trigger_source": "web",
		"location":       map[string]float64{"lat": 37.7749295, "lng": -122.4194155, "accuracy": 12.3},
	}))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)

	created := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	snapshot, ok := (*created)["location_snapshot"].(map[string]any)
	s.Require().True(ok)
	s.Equal("granted", snapshot["permission_status"])
	s.InDelta(37.7749295, snapshot["lat"], 1e-9)

	sessionID, _ := (*created)["session_id"].(string)
	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/sessions/"+sessionID+"/verify")))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "verified", true)
}

func (s *RouterSuite) TestSessionRejectsOutOfRangeLocation() {
	req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", map[string]any{
		"trigger_source": "web",
		"location":       map[string]float64{"lat": 91, "lng": 10},
	}))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *RouterSuite) TestSessionRejectsUnknownTrigger() {
	req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", map[string]string{"trigger_source": "smoke-signal"}))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *RouterSuite) TestTrackIsAnonymous() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/leads/track", map[string]string{
		"url": "https://example.com/?ref=partner-7&utm_source=newsletter",
	})
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1")

	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	testutil.AssertJSONContains(s.T(), rr, "created", true)

	// Same device merges on the second touch.
	req = testutil.NewJSONRequest(s.T(), http.MethodPost, "/leads/track", map[string]string{
		"url": "https://example.com/pricing",
	})
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1")

	rr = testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "created", false)
}

func (s *RouterSuite) TestTrackRejectsMissingURL() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/leads/track", map[string]string{})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *RouterSuite) TestIncidentGateFlow() {
	req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/incidents", map[string]string{
		"state":       "CA",
		"occurred_at": time.Now().UTC().Add(-40 * 24 * time.Hour).Format(time.RFC3339),
	}))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	incidentID, _ := (*created)["incident_id"].(string)
	s.Require().NotEmpty(incidentID)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/incidents/"+incidentID+"/gate")))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "passed", true)

	// Help request requires marketplace consent first.
	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodPost, "/incidents/"+incidentID+"/request-help")))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "missing_consent")

	grant := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/consents", map[string]any{
		"purposes": []string{"marketplace_matching"},
	}))
	rr = testutil.DoRequest(s.router, grant)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodPost, "/incidents/"+incidentID+"/request-help")))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "can_request", true)
}

func (s *RouterSuite) TestGateFailsClosedWithoutOccurrenceDate() {
	req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/incidents", map[string]string{"state": "CA"}))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	incidentID, _ := (*created)["incident_id"].(string)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/incidents/"+incidentID+"/gate")))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "passed", false)
	testutil.AssertJSONContains(s.T(), rr, "days_remaining", float64(30))
}

func (s *RouterSuite) TestSubjectHistoryAndChain() {
	req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", map[string]string{"trigger_source": "web"}))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	sessionID, _ := (*created)["session_id"].(string)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/subjects/"+sessionID+"/events")))
	testutil.AssertStatusOK(s.T(), rr)
	history := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	events, _ := (*history)["events"].([]any)
	s.Require().Len(events, 1)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/subjects/"+sessionID+"/verify")))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "chain_valid", true)
}

func (s *RouterSuite) TestHealthz() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(s.T(), rr)
}
