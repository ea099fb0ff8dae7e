package evidence

import (
	"time"

	"github.com/google/uuid"

	"iwitness/pkg/canonical"
)

// TriggerSource records how an evidence-capture flow was initiated.
type TriggerSource string

const (
	TriggerManual TriggerSource = "manual"
	TriggerSiri   TriggerSource = "siri"
	TriggerWeb    TriggerSource = "web"
)

// Status is the session lifecycle state. There is no explicit abandoned
// terminal record; a missing CompletedAt signals incompleteness.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// PermissionStatus records the outcome of the location permission request.
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionNotSupported PermissionStatus = "not_supported"
)

// Coordinates is a captured position. Quantization to hash-stable precision
// happens at canonicalization, not here.
type Coordinates struct {
	Lat      float64
	Lng      float64
	Accuracy float64
}

// LocationSnapshot is captured once at session creation and never mutated.
// When permission is denied or capture times out, Coordinates is nil and the
// snapshot still records the permission status as data, not as an error.
type LocationSnapshot struct {
	Coordinates      *Coordinates
	Timestamp        time.Time
	PermissionStatus PermissionStatus
}

func (s LocationSnapshot) canonicalValue() canonical.Value {
	fields := map[string]canonical.Value{
		"permission_status": canonical.String(string(s.PermissionStatus)),
	}
	if s.Coordinates != nil {
		fields["lat"] = canonical.Number(s.Coordinates.Lat)
		fields["lng"] = canonical.Number(s.Coordinates.Lng)
		fields["accuracy"] = canonical.Number(s.Coordinates.Accuracy)
	}
	if !s.Timestamp.IsZero() {
		fields["timestamp"] = canonical.Time(s.Timestamp)
	}
	return canonical.Object(fields)
}

// Session is a tamper-evident record of one evidence-capture flow.
// IntegrityHash is computed once over the founding fields and never
// recomputed; it is the permanent fixed point Verify checks against.
type Session struct {
	SessionID     uuid.UUID
	UserID        string
	IncidentID    string
	Trigger       TriggerSource
	Status        Status
	Timestamp     time.Time
	Location      *LocationSnapshot
	DeviceHash    string
	Nonce         uuid.UUID
	Ref           string
	Source        string
	IntegrityHash string
	CompletedAt   *time.Time
}

// foundingPayload rebuilds the canonical value hashed into IntegrityHash
// from the session's stored founding fields. Fields set after creation
// (incident link, completion) are deliberately excluded; they are covered by
// their own ledger events.
func (s Session) foundingPayload() canonical.Value {
	fields := map[string]canonical.Value{
		"session_id":     canonical.String(s.SessionID.String()),
		"user_id":        canonical.String(s.UserID),
		"timestamp_utc":  canonical.Time(s.Timestamp),
		"trigger_source": canonical.String(string(s.Trigger)),
		"device_hash":    canonical.String(s.DeviceHash),
		"nonce":          canonical.String(s.Nonce.String()),
	}
	if s.Location != nil {
		fields["location_snapshot"] = s.Location.canonicalValue()
	}
	if s.Ref != "" {
		fields["ref"] = canonical.String(s.Ref)
	}
	if s.Source != "" {
		fields["source"] = canonical.String(s.Source)
	}
	return canonical.Object(fields)
}
