package ledger

import (
	"time"

	"github.com/google/uuid"

	"iwitness/pkg/canonical"
)

// EventType names an immutable ledger event. Audit entries and lead
// lifecycle events share one append-only log keyed by subject id.
type EventType string

const (
	EventSessionStarted   EventType = "SESSION_STARTED"
	EventSessionCompleted EventType = "SESSION_COMPLETED"
	EventLeadCreated      EventType = "LEAD_CREATED"
	EventTouchUpdated     EventType = "TOUCH_UPDATED"
	EventStatusUpdated    EventType = "STATUS_UPDATED"
	EventLeadLinked       EventType = "LEAD_LINKED"
	EventHelpRequested    EventType = "HELP_REQUESTED"
	EventConsentGranted   EventType = "CONSENT_GRANTED"
	EventConsentRevoked   EventType = "CONSENT_REVOKED"
)

// Event is one append-only ledger record. Once created it is never mutated
// or deleted; correcting a past event means appending a new event that
// references it. EventHash covers every other field including the payload,
// and PrevHash chains the event to the prior event for the same subject so
// insertions and deletions in a subject's history are detectable.
type Event struct {
	EventID   uuid.UUID
	SubjectID string
	Type      EventType
	Timestamp time.Time
	Payload   canonical.Value
	ActorID   string
	PrevHash  string
	EventHash string
}

// hashableForm builds the canonical value whose encoding is digested into
// EventHash. Absent actor and prev-hash fields are omitted rather than
// serialized as empty strings so the hash is stable across both shapes.
func (e Event) hashableForm() canonical.Value {
	fields := map[string]canonical.Value{
		"event_id":      canonical.String(e.EventID.String()),
		"subject_id":    canonical.String(e.SubjectID),
		"event_type":    canonical.String(string(e.Type)),
		"timestamp_utc": canonical.Time(e.Timestamp),
		"payload":       e.Payload,
	}
	if e.ActorID != "" {
		fields["actor_id"] = canonical.String(e.ActorID)
	}
	if e.PrevHash != "" {
		fields["prev_hash"] = canonical.String(e.PrevHash)
	}
	return canonical.Object(fields)
}
