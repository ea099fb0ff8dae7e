package jurisdiction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"iwitness/internal/ledger"
	"iwitness/internal/platform/metrics"
	"iwitness/pkg/canonical"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/requestcontext"
)

type recordingAppender struct {
	events []ledger.EventType
}

func (r *recordingAppender) Append(_ context.Context, subjectID string, typ ledger.EventType, payload canonical.Value, _ string) (ledger.Event, error) {
	r.events = append(r.events, typ)
	return ledger.Event{SubjectID: subjectID, Type: typ, Payload: payload}, nil
}

func caRules() []Rule {
	return []Rule{
		{State: "CA", WaitingPeriodDays: 30, AllowMarketplaceAfterWait: true, RequireExplicitRequest: true, IsActive: true},
		{State: "CA", County: "Orange", WaitingPeriodDays: 15, AllowMarketplaceAfterWait: true, RequireExplicitRequest: true, IsActive: true},
	}
}

func occurred(t time.Time) *time.Time { return &t }

type ResolveSuite struct {
	suite.Suite
}

func TestResolveSuite(t *testing.T) {
	suite.Run(t, new(ResolveSuite))
}

func (s *ResolveSuite) TestCountyRuleBeatsStateWide() {
	incident := Incident{State: "CA", County: "Orange", OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	status := Resolve(incident, caRules(), time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	s.Equal(15, status.WaitingPeriodDays)
	s.True(status.Passed)
	s.Equal(19, status.DaysPassed)
	s.Equal(0, status.DaysRemaining)
	s.Require().NotNil(status.Rule)
	s.Equal("Orange", status.Rule.County)
}

func (s *ResolveSuite) TestStateWideRuleForOtherCounty() {
	incident := Incident{State: "CA", County: "Alameda", OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	status := Resolve(incident, caRules(), time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	s.Equal(30, status.WaitingPeriodDays)
	s.False(status.Passed)
	s.Equal(19, status.DaysPassed)
	s.Equal(11, status.DaysRemaining)
}

func (s *ResolveSuite) TestDefaultRuleWhenStateUnconfigured() {
	incident := Incident{State: "LA", OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	status := Resolve(incident, nil, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	s.Equal(DefaultWaitingPeriodDays, status.WaitingPeriodDays)
	s.Nil(status.Rule)
	s.True(status.AllowMarketplace)
	s.True(status.RequireExplicitRequest)
}

func (s *ResolveSuite) TestInactiveRuleIgnored() {
	rules := []Rule{
		{State: "CA", WaitingPeriodDays: 5, AllowMarketplaceAfterWait: true, RequireExplicitRequest: true, IsActive: false},
	}
	incident := Incident{State: "CA", OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	status := Resolve(incident, rules, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	s.Equal(DefaultWaitingPeriodDays, status.WaitingPeriodDays)
	s.Nil(status.Rule)
}

func (s *ResolveSuite) TestMissingOccurredAtFailsClosed() {
	incident := Incident{State: "CA"}
	status := Resolve(incident, caRules(), time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	s.False(status.Passed)
	s.Equal(DefaultWaitingPeriodDays, status.DaysRemaining)
	s.NotEmpty(status.Reason)
}

func (s *ResolveSuite) TestFutureOccurredAtClampsToZero() {
	incident := Incident{State: "CA", OccurredAt: occurred(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))}
	status := Resolve(incident, caRules(), time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	s.Equal(0, status.DaysPassed)
	s.False(status.Passed)
	s.Equal(30, status.DaysRemaining)
}

func (s *ResolveSuite) TestWaitingPeriodProgression() {
	incident := Incident{State: "CA", County: "Alameda", OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}

	jan20 := Resolve(incident, caRules(), time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
	s.False(jan20.Passed)
	s.Equal(19, jan20.DaysPassed)
	s.Equal(11, jan20.DaysRemaining)

	feb1 := Resolve(incident, caRules(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	s.True(feb1.Passed)
	s.Equal(31, feb1.DaysPassed)
	s.Equal(0, feb1.DaysRemaining)
	s.True(CanRequestHelp(incident, feb1).CanRequest)
}

func (s *ResolveSuite) TestCanRequestHelp() {
	incident := Incident{State: "CA", OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}

	closed := Resolve(incident, caRules(), time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	decision := CanRequestHelp(incident, closed)
	s.False(decision.CanRequest)
	s.Equal(closed.DaysRemaining, decision.DaysRemaining)

	open := Resolve(incident, caRules(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	decision = CanRequestHelp(incident, open)
	s.True(decision.CanRequest)
	s.False(decision.AlreadyRequested)

	requestedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	incident.HelpRequestedAt = &requestedAt
	decision = CanRequestHelp(incident, open)
	s.True(decision.CanRequest)
	s.True(decision.AlreadyRequested)
}

func (s *ResolveSuite) TestCanRequestHelpMarketplaceDisallowed() {
	rules := []Rule{
		{State: "TX", WaitingPeriodDays: 10, AllowMarketplaceAfterWait: false, RequireExplicitRequest: true, IsActive: true},
	}
	incident := Incident{State: "TX", OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	status := Resolve(incident, rules, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	s.True(status.Passed)
	s.False(CanRequestHelp(incident, status).CanRequest)
}

type GateSuite struct {
	suite.Suite

	rules     *InMemoryRuleStore
	incidents *InMemoryIncidentStore
	appender  *recordingAppender
	gate      *Gate
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.rules = NewInMemoryRuleStore(caRules()...)
	s.incidents = NewInMemoryIncidentStore()
	s.appender = &recordingAppender{}
	s.gate = NewGate(s.rules, s.incidents, s.appender, metrics.NewForTest())
}

func (s *GateSuite) seed(incident Incident) Incident {
	created, err := s.gate.CreateIncident(context.Background(), incident)
	s.Require().NoError(err)
	return created
}

func (s *GateSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *GateSuite) TestCheck() {
	incident := s.seed(Incident{
		ID:         "incident-1",
		UserID:     "user-1",
		State:      "CA",
		County:     "Alameda",
		OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})

	status, err := s.gate.Check(s.at(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)), incident.ID)
	s.Require().NoError(err)
	s.False(status.Passed)
	s.Equal(11, status.DaysRemaining)
}

func (s *GateSuite) TestCheckUnknownIncident() {
	_, err := s.gate.Check(context.Background(), "missing")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *GateSuite) TestRequestHelpDeniedDuringWait() {
	incident := s.seed(Incident{
		ID:         "incident-1",
		UserID:     "user-1",
		State:      "CA",
		OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})

	decision, err := s.gate.RequestHelp(s.at(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)), incident.ID, "user-1")
	s.Require().NoError(err)
	s.False(decision.CanRequest)
	s.Empty(s.appender.events)

	stored, err := s.incidents.FindByID(context.Background(), incident.ID)
	s.Require().NoError(err)
	s.Nil(stored.HelpRequestedAt)
}

func (s *GateSuite) TestRequestHelpAfterWait() {
	incident := s.seed(Incident{
		ID:         "incident-1",
		UserID:     "user-1",
		State:      "CA",
		OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})

	now := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	decision, err := s.gate.RequestHelp(s.at(now), incident.ID, "user-1")
	s.Require().NoError(err)
	s.True(decision.CanRequest)
	s.False(decision.AlreadyRequested)
	s.Equal([]ledger.EventType{ledger.EventHelpRequested}, s.appender.events)

	stored, err := s.incidents.FindByID(context.Background(), incident.ID)
	s.Require().NoError(err)
	s.Equal(IncidentHelpRequested, stored.Status)
	s.Require().NotNil(stored.HelpRequestedAt)
	s.Equal(now, stored.HelpRequestedAt.UTC())
}

func (s *GateSuite) TestRequestHelpIdempotent() {
	incident := s.seed(Incident{
		ID:         "incident-1",
		UserID:     "user-1",
		State:      "CA",
		OccurredAt: occurred(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})

	firstAt := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	_, err := s.gate.RequestHelp(s.at(firstAt), incident.ID, "user-1")
	s.Require().NoError(err)

	decision, err := s.gate.RequestHelp(s.at(firstAt.Add(48*time.Hour)), incident.ID, "user-1")
	s.Require().NoError(err)
	s.True(decision.CanRequest)
	s.True(decision.AlreadyRequested)

	// Timestamp did not move and no second event was appended.
	stored, err := s.incidents.FindByID(context.Background(), incident.ID)
	s.Require().NoError(err)
	s.Equal(firstAt, stored.HelpRequestedAt.UTC())
	s.Len(s.appender.events, 1)
}

func (s *GateSuite) TestCreateIncidentDefaultsToDraft() {
	created := s.seed(Incident{ID: "incident-1", UserID: "user-1", State: "CA"})
	s.Equal(IncidentDraft, created.Status)
}
