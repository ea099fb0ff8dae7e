package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"iwitness/pkg/canonical"
	txcontext "iwitness/pkg/platform/tx"
)

// PostgresStore persists ledger events in an insert-only table. There is no
// UPDATE or DELETE statement in this file on purpose.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO ledger_events (
			event_id, subject_id, event_type, timestamp_utc, payload,
			actor_id, prev_hash, event_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.EventID,
		event.SubjectID,
		string(event.Type),
		event.Timestamp,
		canonical.EncodeCanonical(event.Payload),
		nullIfEmpty(event.ActorID),
		nullIfEmpty(event.PrevHash),
		event.EventHash,
	)
	if err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string) ([]Event, error) {
	query := `
		SELECT event_id, subject_id, event_type, timestamp_utc, payload,
			   actor_id, prev_hash, event_hash
		FROM ledger_events
		WHERE subject_id = $1
		ORDER BY timestamp_utc, event_id
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event             Event
			typ               string
			payload           []byte
			actorID, prevHash sql.NullString
		)
		if err := rows.Scan(
			&event.EventID,
			&event.SubjectID,
			&typ,
			&event.Timestamp,
			&payload,
			&actorID,
			&prevHash,
			&event.EventHash,
		); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		event.Type = EventType(typ)
		event.ActorID = actorID.String
		event.PrevHash = prevHash.String
		event.Timestamp = event.Timestamp.UTC()

		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("decode ledger payload: %w", err)
		}
		event.Payload = canonical.Canonicalize(canonical.FromAny(decoded))

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return events, nil
}

// LastHash returns the chain head for a subject: the event hash of the most
// recent event in History order, or "" for a subject with no events yet.
func (s *PostgresStore) LastHash(ctx context.Context, subjectID string) (string, error) {
	query := `
		SELECT event_hash
		FROM ledger_events
		WHERE subject_id = $1
		ORDER BY timestamp_utc DESC, event_id DESC
		LIMIT 1
	`
	var hash string
	err := s.db.QueryRowContext(ctx, query, subjectID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query chain head: %w", err)
	}
	return hash, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
