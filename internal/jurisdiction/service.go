package jurisdiction

import (
	"context"
	"errors"
	"time"

	"iwitness/internal/ledger"
	"iwitness/internal/platform/metrics"
	"iwitness/pkg/canonical"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/platform/sentinel"
	"iwitness/pkg/requestcontext"
)

// RuleStore looks up waiting-period rules.
type RuleStore interface {
	ListByState(ctx context.Context, state string) ([]Rule, error)
}

// IncidentStore persists incidents.
type IncidentStore interface {
	Save(ctx context.Context, incident Incident) error
	FindByID(ctx context.Context, id string) (Incident, error)
}

// EventAppender is the slice of the ledger the gate needs.
type EventAppender interface {
	Append(ctx context.Context, subjectID string, typ ledger.EventType, payload canonical.Value, actorID string) (ledger.Event, error)
}

// Resolve computes the gate status for an incident against the applicable
// rule, most specific first: county match, then state-wide, then the
// built-in default. An incident with no occurrence date fails closed with
// the default waiting period and an explicit reason rather than a computed
// value.
func Resolve(incident Incident, rules []Rule, now time.Time) GateStatus {
	rule, matched := applicableRule(incident, rules)

	status := GateStatus{
		WaitingPeriodDays:      rule.WaitingPeriodDays,
		AllowMarketplace:       rule.AllowMarketplaceAfterWait,
		RequireExplicitRequest: rule.RequireExplicitRequest,
	}
	if matched {
		r := rule
		status.Rule = &r
	}

	if incident.OccurredAt == nil {
		status.Passed = false
		status.DaysRemaining = DefaultWaitingPeriodDays
		status.Reason = "incident has no occurrence date"
		return status
	}

	daysPassed := int(now.Sub(*incident.OccurredAt).Hours() / 24)
	if daysPassed < 0 {
		daysPassed = 0
	}
	status.DaysPassed = daysPassed
	status.Passed = daysPassed >= rule.WaitingPeriodDays
	status.DaysRemaining = rule.WaitingPeriodDays - daysPassed
	if status.DaysRemaining < 0 {
		status.DaysRemaining = 0
	}
	if !status.Passed {
		status.Reason = "waiting period not elapsed"
	}
	return status
}

func applicableRule(incident Incident, rules []Rule) (Rule, bool) {
	var stateWide *Rule
	for i := range rules {
		r := rules[i]
		if !r.IsActive || r.State != incident.State {
			continue
		}
		if r.County != "" && r.County == incident.County {
			return r, true
		}
		if r.County == "" && stateWide == nil {
			stateWide = &rules[i]
		}
	}
	if stateWide != nil {
		return *stateWide, true
	}
	return Rule{
		WaitingPeriodDays:         DefaultWaitingPeriodDays,
		AllowMarketplaceAfterWait: defaultAllowMarketplace,
		RequireExplicitRequest:    defaultRequireExplicitRequest,
	}, false
}

// CanRequestHelp is the pure decision built on a resolved gate status:
// refuse while the gate has not passed or the rule disallows marketplace
// matching; otherwise permit, flagging a repeat request.
func CanRequestHelp(incident Incident, status GateStatus) HelpDecision {
	if !status.Passed {
		return HelpDecision{
			CanRequest:    false,
			DaysRemaining: status.DaysRemaining,
			Reason:        "waiting period has not elapsed",
		}
	}
	if !status.AllowMarketplace {
		return HelpDecision{
			CanRequest: false,
			Reason:     "jurisdiction does not permit marketplace matching",
		}
	}
	return HelpDecision{
		CanRequest:       true,
		AlreadyRequested: incident.HelpRequestedAt != nil,
	}
}

// Gate resolves waiting-period rules and mediates help requests.
type Gate struct {
	rules     RuleStore
	incidents IncidentStore
	events    EventAppender
	metrics   *metrics.Metrics
}

func NewGate(rules RuleStore, incidents IncidentStore, events EventAppender, m *metrics.Metrics) *Gate {
	return &Gate{rules: rules, incidents: incidents, events: events, metrics: m}
}

// Check loads the incident and its jurisdiction's rules and resolves the
// gate.
func (g *Gate) Check(ctx context.Context, incidentID string) (GateStatus, error) {
	incident, err := g.loadIncident(ctx, incidentID)
	if err != nil {
		return GateStatus{}, err
	}
	rules, err := g.rules.ListByState(ctx, incident.State)
	if err != nil {
		return GateStatus{}, dErrors.Wrap(dErrors.CodeInternal, "load jurisdiction rules", err)
	}
	status := Resolve(incident, rules, requestcontext.Now(ctx).UTC())
	if !status.Passed {
		g.metrics.GateDenied.Inc()
	}
	return status, nil
}

// RequestHelp marks the incident as seeking professional assistance once the
// gate permits it. Idempotent: a second request reports AlreadyRequested and
// does not move the timestamp.
func (g *Gate) RequestHelp(ctx context.Context, incidentID, actorID string) (HelpDecision, error) {
	incident, err := g.loadIncident(ctx, incidentID)
	if err != nil {
		return HelpDecision{}, err
	}
	rules, err := g.rules.ListByState(ctx, incident.State)
	if err != nil {
		return HelpDecision{}, dErrors.Wrap(dErrors.CodeInternal, "load jurisdiction rules", err)
	}

	now := requestcontext.Now(ctx).UTC()
	status := Resolve(incident, rules, now)
	decision := CanRequestHelp(incident, status)
	if !decision.CanRequest {
		g.metrics.GateDenied.Inc()
		return decision, nil
	}
	if decision.AlreadyRequested {
		return decision, nil
	}

	incident.HelpRequestedAt = &now
	incident.Status = IncidentHelpRequested
	if err := g.incidents.Save(ctx, incident); err != nil {
		return HelpDecision{}, dErrors.Wrap(dErrors.CodeInternal, "persist incident", err)
	}

	if _, err := g.events.Append(ctx, incident.ID, ledger.EventHelpRequested, canonical.Object(map[string]canonical.Value{
		"state":               canonical.String(incident.State),
		"county":              canonical.String(incident.County),
		"waiting_period_days": canonical.Number(float64(status.WaitingPeriodDays)),
	}), actorID); err != nil {
		return HelpDecision{}, dErrors.Wrap(dErrors.CodeInternal, "record help request event", err)
	}
	return decision, nil
}

// CreateIncident persists a new incident record.
func (g *Gate) CreateIncident(ctx context.Context, incident Incident) (Incident, error) {
	if incident.Status == "" {
		incident.Status = IncidentDraft
	}
	if err := g.incidents.Save(ctx, incident); err != nil {
		return Incident{}, dErrors.Wrap(dErrors.CodeInternal, "persist incident", err)
	}
	return incident, nil
}

func (g *Gate) loadIncident(ctx context.Context, incidentID string) (Incident, error) {
	incident, err := g.incidents.FindByID(ctx, incidentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Incident{}, dErrors.New(dErrors.CodeNotFound, "incident not found")
	}
	if err != nil {
		return Incident{}, dErrors.Wrap(dErrors.CodeInternal, "load incident", err)
	}
	return incident, nil
}
