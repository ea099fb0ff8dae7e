package lead

import (
	"net/url"
	"time"

	"github.com/google/uuid"

	"iwitness/pkg/canonical"
)

// Status is the lead lifecycle state. Transitions are not strictly
// monotonic: an operator may move a lead back (e.g. rejected to contacted).
// Converted is terminal by convention only; this layer does not enforce it.
type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusQualified Status = "qualified"
	StatusRejected  Status = "rejected"
	StatusConverted Status = "converted"
)

// ValidStatus reports whether s is a known lead status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusRejected, StatusConverted:
		return true
	}
	return false
}

// Attribution is the parsed marketing attribution of a visit.
type Attribution struct {
	ReferralCode string `json:"referral_code,omitempty"`
	Source       string `json:"source,omitempty"`
	Campaign     string `json:"campaign,omitempty"`
	UTMSource    string `json:"utm_source,omitempty"`
	UTMMedium    string `json:"utm_medium,omitempty"`
	UTMCampaign  string `json:"utm_campaign,omitempty"`
	UTMTerm      string `json:"utm_term,omitempty"`
	UTMContent   string `json:"utm_content,omitempty"`
}

// ParseAttribution extracts attribution parameters from a query string.
func ParseAttribution(q url.Values) Attribution {
	return Attribution{
		ReferralCode: q.Get("ref"),
		Source:       q.Get("source"),
		Campaign:     q.Get("campaign"),
		UTMSource:    q.Get("utm_source"),
		UTMMedium:    q.Get("utm_medium"),
		UTMCampaign:  q.Get("utm_campaign"),
		UTMTerm:      q.Get("utm_term"),
		UTMContent:   q.Get("utm_content"),
	}
}

func (a Attribution) canonicalFields() map[string]canonical.Value {
	fields := make(map[string]canonical.Value, 8)
	put := func(key, value string) {
		if value != "" {
			fields[key] = canonical.String(value)
		}
	}
	put("referral_code", a.ReferralCode)
	put("source", a.Source)
	put("campaign", a.Campaign)
	put("utm_source", a.UTMSource)
	put("utm_medium", a.UTMMedium)
	put("utm_campaign", a.UTMCampaign)
	put("utm_term", a.UTMTerm)
	put("utm_content", a.UTMContent)
	return fields
}

// Lead is one attributed prospect record. Created on first attributed visit,
// updated on matched visits, never deleted. LeadHash is computed once at
// creation over the founding attribution payload and never recomputed;
// FirstTouchURL is immutable once set.
type Lead struct {
	LeadID        uuid.UUID
	Status        Status
	DeviceHash    string
	Attribution   Attribution
	FirstTouchURL string
	LastTouchURL  string
	SessionID     string
	UserID        string
	LeadHash      string
	CreatedAt     time.Time
	LastUpdated   time.Time
}

// foundingPayload is the attribution payload digested into LeadHash at
// creation time: attribution fields, both touch URLs, and the device hash.
func (l Lead) foundingPayload() canonical.Value {
	fields := l.Attribution.canonicalFields()
	fields["first_touch_url"] = canonical.String(l.FirstTouchURL)
	fields["last_touch_url"] = canonical.String(l.LastTouchURL)
	fields["device_hash"] = canonical.String(l.DeviceHash)
	return canonical.Object(fields)
}
