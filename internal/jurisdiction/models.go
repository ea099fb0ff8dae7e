package jurisdiction

import "time"

// Rule is a jurisdiction-specific waiting-period rule. Looked up, never
// mutated by the gate; administration happens elsewhere.
type Rule struct {
	State                     string
	County                    string
	WaitingPeriodDays         int
	AllowMarketplaceAfterWait bool
	RequireExplicitRequest    bool
	IsActive                  bool
}

// Default rule applied when no configured rule matches an incident's
// jurisdiction.
const (
	DefaultWaitingPeriodDays = 30

	defaultAllowMarketplace       = true
	defaultRequireExplicitRequest = true
)

// IncidentStatus tracks the incident workflow state.
type IncidentStatus string

const (
	IncidentDraft         IncidentStatus = "draft"
	IncidentSubmitted     IncidentStatus = "submitted"
	IncidentHelpRequested IncidentStatus = "help_requested"
	IncidentResolved      IncidentStatus = "resolved"
)

// Incident is the subject the gate evaluates. Only the fields the gate and
// help-request flow need live here; the full incident wizard is out of
// scope.
type Incident struct {
	ID              string
	UserID          string
	State           string
	County          string
	Status          IncidentStatus
	OccurredAt      *time.Time
	HelpRequestedAt *time.Time
}

// GateStatus is the resolved cooling-off decision for an incident.
type GateStatus struct {
	Passed                 bool
	DaysPassed             int
	DaysRemaining          int
	WaitingPeriodDays      int
	Rule                   *Rule // nil when the default rule applied
	AllowMarketplace       bool
	RequireExplicitRequest bool
	Reason                 string
}

// HelpDecision is the outcome of a professional-assistance request check.
// Requesting twice is allowed and reported, not rejected.
type HelpDecision struct {
	CanRequest       bool
	AlreadyRequested bool
	DaysRemaining    int
	Reason           string
}
