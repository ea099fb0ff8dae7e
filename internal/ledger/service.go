package ledger

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"iwitness/internal/platform/metrics"
	"iwitness/pkg/canonical"
	"iwitness/pkg/hashing"
	"iwitness/pkg/requestcontext"
)

// Store persists ledger events. Append is the only write path; no update or
// delete operation exists anywhere in this package.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectID string) ([]Event, error)
	LastHash(ctx context.Context, subjectID string) (string, error)
}

// Mirror receives appended events for out-of-band fan-out (e.g. a Kafka
// topic). Implementations must not block the append path.
type Mirror interface {
	Publish(ctx context.Context, event Event)
}

// Log is the append-only event log. Each event carries its own digest plus a
// per-subject hash chain; readers reconstruct history by timestamp, not
// arrival order.
type Log struct {
	store   Store
	mirror  Mirror
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Serializes chain-head reads against appends for the same process.
	// Cross-process appends may still interleave; the chain is rebuilt
	// deterministically by History ordering.
	mu sync.Mutex
}

// NewLog creates the event log. mirror may be nil.
func NewLog(store Store, mirror Mirror, logger *slog.Logger, m *metrics.Metrics) *Log {
	return &Log{store: store, mirror: mirror, logger: logger, metrics: m}
}

// Append records a lifecycle-critical event. Persistence failure propagates
// to the caller and the overall operation is reported as failed.
func (l *Log) Append(ctx context.Context, subjectID string, typ EventType, payload canonical.Value, actorID string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, err := l.store.LastHash(ctx, subjectID)
	if err != nil {
		return Event{}, err
	}

	event := Event{
		EventID:   uuid.New(),
		SubjectID: subjectID,
		Type:      typ,
		// Truncated to microseconds so the digest recomputes identically
		// after a round trip through timestamptz columns.
		Timestamp: requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
		Payload:   canonical.Canonicalize(payload),
		ActorID:   actorID,
		PrevHash:  prev,
	}
	event.EventHash = hashing.DigestHex(canonical.EncodeCanonical(event.hashableForm()))

	if err := l.store.Append(ctx, event); err != nil {
		return Event{}, err
	}
	l.metrics.EventsAppended.Inc()

	if l.mirror != nil {
		l.mirror.Publish(ctx, event)
	}
	return event, nil
}

// AppendAdvisory records an audit-trail event whose failure must never abort
// the caller's primary operation. Persistence failure is downgraded to a
// local diagnostic.
func (l *Log) AppendAdvisory(ctx context.Context, subjectID string, typ EventType, payload canonical.Value, actorID string) {
	if _, err := l.Append(ctx, subjectID, typ, payload, actorID); err != nil {
		l.metrics.AdvisoryDropped.Inc()
		l.logger.WarnContext(ctx, "advisory event dropped",
			"subject_id", subjectID,
			"event_type", string(typ),
			"error", err.Error(),
		)
	}
}

// History returns a subject's events ordered by timestamp, with event id as
// a stable tie-break for identical timestamps. Arrival order is not
// meaningful under concurrent appends.
func (l *Log) History(ctx context.Context, subjectID string) ([]Event, error) {
	events, err := l.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return strings.Compare(events[i].EventID.String(), events[j].EventID.String()) < 0
	})
	return events, nil
}

// VerifyEvent recomputes an event's digest from its stored fields. False
// means the record no longer matches what was hashed at append time.
func VerifyEvent(event Event) bool {
	return hashing.DigestHex(canonical.EncodeCanonical(event.hashableForm())) == event.EventHash
}

// VerifyChain checks a subject's full history: every event hash must
// recompute, and every prev-hash must point at the preceding event in
// timestamp order. Detects edits, insertions, and deletions.
func (l *Log) VerifyChain(ctx context.Context, subjectID string) (bool, error) {
	events, err := l.History(ctx, subjectID)
	if err != nil {
		return false, err
	}
	prev := ""
	for _, event := range events {
		if !VerifyEvent(event) || event.PrevHash != prev {
			return false, nil
		}
		prev = event.EventHash
	}
	return true, nil
}
