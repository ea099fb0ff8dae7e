package evidence

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"iwitness/internal/fingerprint"
	"iwitness/internal/ledger"
	"iwitness/internal/platform/metrics"
	"iwitness/pkg/canonical"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/hashing"
	"iwitness/pkg/requestcontext"
)

// Store persists evidence sessions.
type Store interface {
	Save(ctx context.Context, session Session) error
	FindByID(ctx context.Context, id uuid.UUID) (Session, error)
}

// EventAppender is the slice of the ledger the session manager needs.
type EventAppender interface {
	AppendAdvisory(ctx context.Context, subjectID string, typ ledger.EventType, payload canonical.Value, actorID string)
}

// Manager creates and verifies tamper-evident evidence sessions. Location
// and fingerprint collection degrade gracefully; the only failure mode of
// Create is persistence failure.
type Manager struct {
	store     Store
	locations LocationProvider
	events    EventAppender
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewManager(store Store, locations LocationProvider, events EventAppender, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:     store,
		locations: locations,
		events:    events,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("iwitness/evidence"),
	}
}

// CreateParams carries the optional attribution context a capture entry
// point passes along. A zero Nonce means the manager generates one.
// Locations, when set, overrides the manager's provider for this call; the
// transport edge uses it to relay a client-captured position.
type CreateParams struct {
	Nonce      uuid.UUID
	Ref        string
	Source     string
	IncidentID string
	Locations  LocationProvider
}

// Create starts an evidence session: captures a location snapshot with a
// bounded wait, fingerprints the client from request-scoped attributes,
// computes the founding-payload hash, and persists the session as active.
// The hash is computed exactly once here and never again.
func (m *Manager) Create(ctx context.Context, userID string, trigger TriggerSource, params CreateParams) (Session, error) {
	ctx, span := m.tracer.Start(ctx, "evidence.Create")
	defer span.End()

	if userID == "" {
		return Session{}, dErrors.New(dErrors.CodeBadRequest, "user id required")
	}
	switch trigger {
	case TriggerManual, TriggerSiri, TriggerWeb:
	default:
		return Session{}, dErrors.New(dErrors.CodeBadRequest, "unknown trigger source")
	}

	nonce := params.Nonce
	if nonce == uuid.Nil {
		nonce = uuid.New()
	}

	locations := m.locations
	if params.Locations != nil {
		locations = params.Locations
	}
	location := captureLocation(ctx, locations)
	fp := fingerprint.Generate(requestcontext.DeviceAttributes(ctx))

	session := Session{
		SessionID:  uuid.New(),
		UserID:     userID,
		IncidentID: params.IncidentID,
		Trigger:    trigger,
		Status:     StatusActive,
		// Truncated to microseconds so the founding hash recomputes
		// identically after a round trip through timestamptz columns.
		Timestamp:  requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
		Location:   location,
		DeviceHash: fp.DeviceHash,
		Nonce:      nonce,
		Ref:        params.Ref,
		Source:     params.Source,
	}
	session.IntegrityHash = hashing.DigestHex(canonical.EncodeCanonical(session.foundingPayload()))

	if err := m.store.Save(ctx, session); err != nil {
		return Session{}, dErrors.Wrap(dErrors.CodeInternal, "persist session", err)
	}
	m.metrics.SessionsCreated.Inc()

	m.events.AppendAdvisory(ctx, session.SessionID.String(), ledger.EventSessionStarted, canonical.Object(map[string]canonical.Value{
		"user_id":        canonical.String(session.UserID),
		"trigger_source": canonical.String(string(session.Trigger)),
		"device_hash":    canonical.String(session.DeviceHash),
		"integrity_hash": canonical.String(session.IntegrityHash),
	}), userID)

	return session, nil
}

// Verify recomputes the founding-payload hash from the session's stored
// fields and compares it to the stored IntegrityHash. No mutation, no side
// effects beyond a metric: this is the sole detector of tampering with the
// founding fields. Fields added after creation are covered by their own
// ledger events, not by this hash.
func (m *Manager) Verify(session Session) bool {
	computed := hashing.DigestHex(canonical.EncodeCanonical(session.foundingPayload()))
	if computed != session.IntegrityHash {
		m.metrics.VerificationsFailed.Inc()
		return false
	}
	return true
}

// Complete marks the session terminal. The founding hash is untouched.
func (m *Manager) Complete(ctx context.Context, sessionID uuid.UUID) (Session, error) {
	session, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return Session{}, dErrors.Wrap(dErrors.CodeNotFound, "session not found", err)
	}

	now := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
	session.Status = StatusCompleted
	session.CompletedAt = &now
	if err := m.store.Save(ctx, session); err != nil {
		return Session{}, dErrors.Wrap(dErrors.CodeInternal, "persist session", err)
	}

	m.events.AppendAdvisory(ctx, session.SessionID.String(), ledger.EventSessionCompleted, canonical.Object(map[string]canonical.Value{
		"completed_at": canonical.Time(now),
	}), session.UserID)

	return session, nil
}

// LinkIncident attaches a draft incident to the session after creation.
func (m *Manager) LinkIncident(ctx context.Context, sessionID uuid.UUID, incidentID string) (Session, error) {
	session, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return Session{}, dErrors.Wrap(dErrors.CodeNotFound, "session not found", err)
	}
	session.IncidentID = incidentID
	if err := m.store.Save(ctx, session); err != nil {
		return Session{}, dErrors.Wrap(dErrors.CodeInternal, "persist session", err)
	}
	return session, nil
}

// Get loads a session by id.
func (m *Manager) Get(ctx context.Context, sessionID uuid.UUID) (Session, error) {
	session, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return Session{}, dErrors.Wrap(dErrors.CodeNotFound, "session not found", err)
	}
	return session, nil
}
