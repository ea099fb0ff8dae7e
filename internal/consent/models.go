package consent

import "time"

// Purpose labels why data is processed. Purpose binding allows selective
// revocation without affecting other flows.
type Purpose string

const (
	PurposeEvidenceCapture      Purpose = "evidence_capture"
	PurposeMarketplaceMatching  Purpose = "marketplace_matching"
	PurposeMarketingAttribution Purpose = "marketing_attribution"
)

// ValidPurpose reports whether p is a known consent purpose.
func ValidPurpose(p Purpose) bool {
	switch p {
	case PurposeEvidenceCapture, PurposeMarketplaceMatching, PurposeMarketingAttribution:
		return true
	}
	return false
}

// Record captures a user's decision for a specific purpose.
type Record struct {
	UserID    string
	Purpose   Purpose
	GrantedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// IsActive returns true when consent is currently valid.
func (r Record) IsActive(now time.Time) bool {
	if r.RevokedAt != nil && r.RevokedAt.Before(now) {
		return false
	}
	return r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt)
}

// HasActive reports whether any record grants the purpose at the given time.
func HasActive(records []Record, purpose Purpose, now time.Time) bool {
	for _, r := range records {
		if r.Purpose == purpose && r.IsActive(now) {
			return true
		}
	}
	return false
}
