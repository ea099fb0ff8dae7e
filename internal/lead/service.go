package lead

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"iwitness/internal/fingerprint"
	"iwitness/internal/ledger"
	"iwitness/internal/platform/config"
	"iwitness/internal/platform/metrics"
	"iwitness/pkg/canonical"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/hashing"
	"iwitness/pkg/platform/sentinel"
	"iwitness/pkg/requestcontext"
)

// Store persists leads. MergeTouch is a single conditional write keyed on
// (lead id, device hash): it fails with sentinel.ErrMergeConflict when the
// stored device hash no longer matches, closing the read-then-write race
// without a transaction.
type Store interface {
	Save(ctx context.Context, lead Lead) error
	FindByID(ctx context.Context, id uuid.UUID) (Lead, error)
	MergeTouch(ctx context.Context, leadID uuid.UUID, deviceHash, touchURL string, at time.Time) (Lead, error)
	Update(ctx context.Context, lead Lead) error
}

// EventAppender is the slice of the ledger the reconciler needs.
type EventAppender interface {
	Append(ctx context.Context, subjectID string, typ ledger.EventType, payload canonical.Value, actorID string) (ledger.Event, error)
}

// Outcome reports whether a touch created a new lead or merged into an
// existing one.
type Outcome struct {
	Lead    Lead
	Created bool
}

// TouchParams carries one attributed visit.
type TouchParams struct {
	Attribution Attribution
	URL         string
	UserID      string
	// DeviceHash overrides fingerprinting from context attributes;
	// empty means compute it.
	DeviceHash string
}

// Reconciler deduplicates inbound leads against a time-windowed device
// identity and emits lifecycle events through the ledger.
type Reconciler struct {
	store   Store
	cache   CacheStore
	events  EventAppender
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// Collapses concurrent touches for the same device hash in-process so
	// near-simultaneous page loads cannot both take the creation path.
	group singleflight.Group
}

func NewReconciler(store Store, cache CacheStore, events EventAppender, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:   store,
		cache:   cache,
		events:  events,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("iwitness/lead"),
	}
}

// CreateOrUpdate is the create-or-merge decision. A touch merges into the
// cached lead only when the lead's age is strictly inside the merge window
// AND its stored device hash equals the current one; a matching cached id
// alone is never sufficient. Everything else creates a new lead. Lookup
// misses route to the creation path, not to an error: the cache may
// reference a record purged or never written.
func (r *Reconciler) CreateOrUpdate(ctx context.Context, params TouchParams) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "lead.CreateOrUpdate")
	defer span.End()

	deviceHash := params.DeviceHash
	if deviceHash == "" {
		deviceHash = fingerprint.Generate(requestcontext.DeviceAttributes(ctx)).DeviceHash
	}

	v, err, _ := r.group.Do(deviceHash, func() (any, error) {
		return r.reconcile(ctx, deviceHash, params)
	})
	if err != nil {
		return Outcome{}, err
	}
	return v.(Outcome), nil
}

func (r *Reconciler) reconcile(ctx context.Context, deviceHash string, params TouchParams) (Outcome, error) {
	now := requestcontext.Now(ctx).UTC()

	if cachedID, ok := r.cachedLeadID(ctx, deviceHash); ok {
		outcome, matched, err := r.tryMerge(ctx, cachedID, deviceHash, params.URL, now)
		if err != nil {
			return Outcome{}, err
		}
		if matched {
			return outcome, nil
		}
	}

	return r.create(ctx, deviceHash, params, now)
}

// tryMerge attempts the merge path. matched=false means fall through to
// creation (expired window, device change, or vanished record).
func (r *Reconciler) tryMerge(ctx context.Context, leadID uuid.UUID, deviceHash, touchURL string, now time.Time) (Outcome, bool, error) {
	existing, err := r.store.FindByID(ctx, leadID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, dErrors.Wrap(dErrors.CodeInternal, "load lead", err)
	}

	// Window boundary is exclusive above: an age of exactly the window is
	// expired. Device hash equality is required; a stale cache entry from a
	// different browser must not merge.
	if now.Sub(existing.CreatedAt) >= config.MergeWindow || existing.DeviceHash != deviceHash {
		return Outcome{}, false, nil
	}

	merged, err := r.store.MergeTouch(ctx, leadID, deviceHash, touchURL, now)
	if errors.Is(err, sentinel.ErrMergeConflict) {
		r.metrics.MergeConflicts.Inc()
		return Outcome{}, false, dErrors.Wrap(dErrors.CodeConflict, "lead merge lost to concurrent touch; re-read and retry", err)
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, dErrors.Wrap(dErrors.CodeInternal, "merge touch", err)
	}

	if _, err := r.events.Append(ctx, merged.LeadID.String(), ledger.EventTouchUpdated, canonical.Object(map[string]canonical.Value{
		"last_touch_url": canonical.String(touchURL),
		"device_hash":    canonical.String(deviceHash),
	}), merged.UserID); err != nil {
		return Outcome{}, false, dErrors.Wrap(dErrors.CodeInternal, "record touch event", err)
	}

	r.metrics.LeadsMerged.Inc()
	return Outcome{Lead: merged, Created: false}, true, nil
}

func (r *Reconciler) create(ctx context.Context, deviceHash string, params TouchParams, now time.Time) (Outcome, error) {
	newLead := Lead{
		LeadID:        uuid.New(),
		Status:        StatusNew,
		DeviceHash:    deviceHash,
		Attribution:   params.Attribution,
		FirstTouchURL: params.URL,
		LastTouchURL:  params.URL,
		UserID:        params.UserID,
		CreatedAt:     now,
		LastUpdated:   now,
	}
	newLead.LeadHash = hashing.DigestHex(canonical.EncodeCanonical(newLead.foundingPayload()))

	if err := r.store.Save(ctx, newLead); err != nil {
		return Outcome{}, dErrors.Wrap(dErrors.CodeInternal, "persist lead", err)
	}

	if _, err := r.events.Append(ctx, newLead.LeadID.String(), ledger.EventLeadCreated, canonical.Object(map[string]canonical.Value{
		"device_hash":     canonical.String(deviceHash),
		"lead_hash":       canonical.String(newLead.LeadHash),
		"first_touch_url": canonical.String(newLead.FirstTouchURL),
	}), newLead.UserID); err != nil {
		return Outcome{}, dErrors.Wrap(dErrors.CodeInternal, "record creation event", err)
	}

	r.rememberLead(ctx, deviceHash, newLead.LeadID, params.Attribution)
	r.metrics.LeadsCreated.Inc()
	return Outcome{Lead: newLead, Created: true}, nil
}

// cachedLeadID reads the lead-id slot. Cache failure degrades to a miss.
func (r *Reconciler) cachedLeadID(ctx context.Context, deviceHash string) (uuid.UUID, bool) {
	id, ok, err := r.cache.LeadID(ctx, deviceHash)
	if err != nil {
		r.logger.WarnContext(ctx, "attribution cache read failed", "error", err.Error())
		return uuid.Nil, false
	}
	return id, ok
}

// rememberLead fills both cache slots. Cache failure is advisory.
func (r *Reconciler) rememberLead(ctx context.Context, deviceHash string, leadID uuid.UUID, attribution Attribution) {
	if err := r.cache.SetLeadID(ctx, deviceHash, leadID, config.MergeWindow); err != nil {
		r.logger.WarnContext(ctx, "attribution cache write failed", "error", err.Error())
		return
	}
	if err := r.cache.SetAttribution(ctx, deviceHash, attribution, config.MergeWindow); err != nil {
		r.logger.WarnContext(ctx, "attribution cache write failed", "error", err.Error())
	}
}

// LinkToSession records the evidence session a lead converted through.
// Idempotent in effect: re-linking to the same session changes nothing on
// the record, though an event is still appended (the log is not
// deduplicated).
func (r *Reconciler) LinkToSession(ctx context.Context, leadID uuid.UUID, sessionID, userID string) (Lead, error) {
	return r.link(ctx, leadID, func(l *Lead) map[string]canonical.Value {
		l.SessionID = sessionID
		if userID != "" {
			l.UserID = userID
		}
		return map[string]canonical.Value{"session_id": canonical.String(sessionID)}
	})
}

// LinkToUser records the authenticated user behind a lead.
func (r *Reconciler) LinkToUser(ctx context.Context, leadID uuid.UUID, userID string) (Lead, error) {
	return r.link(ctx, leadID, func(l *Lead) map[string]canonical.Value {
		l.UserID = userID
		return map[string]canonical.Value{"user_id": canonical.String(userID)}
	})
}

func (r *Reconciler) link(ctx context.Context, leadID uuid.UUID, apply func(*Lead) map[string]canonical.Value) (Lead, error) {
	existing, err := r.store.FindByID(ctx, leadID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Lead{}, dErrors.New(dErrors.CodeNotFound, "lead not found")
	}
	if err != nil {
		return Lead{}, dErrors.Wrap(dErrors.CodeInternal, "load lead", err)
	}

	payload := apply(&existing)
	existing.LastUpdated = requestcontext.Now(ctx).UTC()
	if err := r.store.Update(ctx, existing); err != nil {
		return Lead{}, dErrors.Wrap(dErrors.CodeInternal, "persist lead", err)
	}

	if _, err := r.events.Append(ctx, existing.LeadID.String(), ledger.EventLeadLinked, canonical.Object(payload), existing.UserID); err != nil {
		return Lead{}, dErrors.Wrap(dErrors.CodeInternal, "record link event", err)
	}
	return existing, nil
}

// UpdateStatus moves a lead to a new status and appends a STATUS_UPDATED
// event carrying both old and new values. The full transition history lives
// only in the event log; the record holds just the current state.
func (r *Reconciler) UpdateStatus(ctx context.Context, leadID uuid.UUID, newStatus Status, actorID string) (Lead, error) {
	if !ValidStatus(newStatus) {
		return Lead{}, dErrors.New(dErrors.CodeBadRequest, "unknown lead status")
	}

	existing, err := r.store.FindByID(ctx, leadID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Lead{}, dErrors.New(dErrors.CodeNotFound, "lead not found")
	}
	if err != nil {
		return Lead{}, dErrors.Wrap(dErrors.CodeInternal, "load lead", err)
	}

	oldStatus := existing.Status
	existing.Status = newStatus
	existing.LastUpdated = requestcontext.Now(ctx).UTC()
	if err := r.store.Update(ctx, existing); err != nil {
		return Lead{}, dErrors.Wrap(dErrors.CodeInternal, "persist lead", err)
	}

	if _, err := r.events.Append(ctx, existing.LeadID.String(), ledger.EventStatusUpdated, canonical.Object(map[string]canonical.Value{
		"old_status": canonical.String(string(oldStatus)),
		"new_status": canonical.String(string(newStatus)),
	}), actorID); err != nil {
		return Lead{}, dErrors.Wrap(dErrors.CodeInternal, "record status event", err)
	}
	return existing, nil
}

// Get loads a lead by id.
func (r *Reconciler) Get(ctx context.Context, leadID uuid.UUID) (Lead, error) {
	existing, err := r.store.FindByID(ctx, leadID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Lead{}, dErrors.New(dErrors.CodeNotFound, "lead not found")
	}
	if err != nil {
		return Lead{}, dErrors.Wrap(dErrors.CodeInternal, "load lead", err)
	}
	return existing, nil
}
