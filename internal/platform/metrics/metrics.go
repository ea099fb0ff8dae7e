package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	SessionsCreated     prometheus.Counter
	VerificationsFailed prometheus.Counter
	LeadsCreated        prometheus.Counter
	LeadsMerged         prometheus.Counter
	MergeConflicts      prometheus.Counter
	EventsAppended      prometheus.Counter
	AdvisoryDropped     prometheus.Counter
	GateDenied          prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return newWith(prometheus.DefaultRegisterer)
}

// NewForTest creates metrics on a private registry so parallel test suites
// don't collide on the default registerer.
func NewForTest() *Metrics {
	return newWith(prometheus.NewRegistry())
}

func newWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_evidence_sessions_created_total",
			Help: "Total evidence sessions created.",
		}),
		VerificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_session_verifications_failed_total",
			Help: "Total session integrity verifications that returned false.",
		}),
		LeadsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_leads_created_total",
			Help: "Total leads created on the creation path.",
		}),
		LeadsMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_leads_merged_total",
			Help: "Total touches folded into an existing lead.",
		}),
		MergeConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_lead_merge_conflicts_total",
			Help: "Total conditional merges lost to a concurrent touch.",
		}),
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_events_appended_total",
			Help: "Total ledger events appended.",
		}),
		AdvisoryDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_advisory_events_dropped_total",
			Help: "Total advisory events dropped after persistence failure.",
		}),
		GateDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_gate_checks_denied_total",
			Help: "Total jurisdiction gate checks that refused an action.",
		}),
	}
}
