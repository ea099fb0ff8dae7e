package consent

import (
	"context"
	"time"

	"iwitness/internal/jurisdiction"
	"iwitness/internal/ledger"
	"iwitness/pkg/canonical"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/requestcontext"
)

// Store persists consent decisions.
type Store interface {
	Save(ctx context.Context, record Record) error
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	Revoke(ctx context.Context, userID string, purpose Purpose, revokedAt time.Time) error
}

// EventAppender is the slice of the ledger the validator needs.
type EventAppender interface {
	Append(ctx context.Context, subjectID string, typ ledger.EventType, payload canonical.Value, actorID string) (ledger.Event, error)
}

// Validator persists consent decisions and provides purpose-aware checks.
// Marketplace consent is additionally gated by the jurisdiction cooling-off
// rule: granting it is meaningless while the waiting period runs. Every
// grant and revocation leaves a ledger event keyed by the user.
type Validator struct {
	store  Store
	gate   *jurisdiction.Gate
	events EventAppender
}

func NewValidator(store Store, gate *jurisdiction.Gate, events EventAppender) *Validator {
	return &Validator{store: store, gate: gate, events: events}
}

// Grant validates and grants consent for the given purposes.
func (v *Validator) Grant(ctx context.Context, userID string, purposes []Purpose, ttl time.Duration) ([]Record, error) {
	if len(purposes) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "purposes must not be empty")
	}
	for _, p := range purposes {
		if !ValidPurpose(p) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "invalid purpose: "+string(p))
		}
	}

	now := requestcontext.Now(ctx)
	var records []Record
	for _, p := range purposes {
		record := Record{
			UserID:    userID,
			Purpose:   p,
			GrantedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := v.store.Save(ctx, record); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "persist consent", err)
		}
		if _, err := v.events.Append(ctx, userID, ledger.EventConsentGranted, canonical.Object(map[string]canonical.Value{
			"purpose":    canonical.String(string(p)),
			"expires_at": canonical.Time(record.ExpiresAt),
		}), userID); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "record consent grant", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Require returns an error when consent is missing or expired.
func (v *Validator) Require(ctx context.Context, userID string, purpose Purpose) error {
	records, err := v.store.ListByUser(ctx, userID)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "load consents", err)
	}
	if !HasActive(records, purpose, requestcontext.Now(ctx)) {
		return dErrors.New(dErrors.CodeMissingConsent, "consent not granted for required purpose")
	}
	return nil
}

// RequireMarketplace enforces marketplace-matching consent AND the
// jurisdiction gate for the incident: consent alone cannot open the gate
// early.
func (v *Validator) RequireMarketplace(ctx context.Context, userID, incidentID string) error {
	if err := v.Require(ctx, userID, PurposeMarketplaceMatching); err != nil {
		return err
	}
	status, err := v.gate.Check(ctx, incidentID)
	if err != nil {
		return err
	}
	if !status.Passed {
		return dErrors.New(dErrors.CodeGateClosed, "waiting period has not elapsed")
	}
	return nil
}

// Revoke withdraws consent for a purpose.
func (v *Validator) Revoke(ctx context.Context, userID string, purpose Purpose) error {
	revokedAt := requestcontext.Now(ctx)
	if err := v.store.Revoke(ctx, userID, purpose, revokedAt); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "revoke consent", err)
	}
	if _, err := v.events.Append(ctx, userID, ledger.EventConsentRevoked, canonical.Object(map[string]canonical.Value{
		"purpose":    canonical.String(string(purpose)),
		"revoked_at": canonical.Time(revokedAt),
	}), userID); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "record consent revocation", err)
	}
	return nil
}

// List returns all consent records for a user.
func (v *Validator) List(ctx context.Context, userID string) ([]Record, error) {
	return v.store.ListByUser(ctx, userID)
}
