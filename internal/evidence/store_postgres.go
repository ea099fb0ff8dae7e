package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"iwitness/pkg/platform/sentinel"
	txcontext "iwitness/pkg/platform/tx"
)

// PostgresStore persists sessions in Postgres. Founding fields are written
// once; the upsert path only touches the mutable lifecycle columns.
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

func (s *PostgresStore) Save(ctx context.Context, session Session) error {
	query := `
		INSERT INTO evidence_sessions (
			session_id, user_id, incident_id, trigger_source, status,
			timestamp_utc, loc_lat, loc_lng, loc_accuracy, loc_timestamp,
			loc_permission, device_hash, nonce, ref, source,
			integrity_hash, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (session_id) DO UPDATE SET
			incident_id = EXCLUDED.incident_id,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at
	`

	var lat, lng, accuracy *float64
	var locTimestamp any
	var locPermission *string
	if session.Location != nil {
		if session.Location.Coordinates != nil {
			lat = &session.Location.Coordinates.Lat
			lng = &session.Location.Coordinates.Lng
			accuracy = &session.Location.Coordinates.Accuracy
		}
		if !session.Location.Timestamp.IsZero() {
			locTimestamp = session.Location.Timestamp
		}
		p := string(session.Location.PermissionStatus)
		locPermission = &p
	}

	_, err := s.execer(ctx).ExecContext(ctx, query,
		session.SessionID,
		session.UserID,
		nullIfEmpty(session.IncidentID),
		string(session.Trigger),
		string(session.Status),
		session.Timestamp,
		lat,
		lng,
		accuracy,
		locTimestamp,
		locPermission,
		session.DeviceHash,
		session.Nonce,
		nullIfEmpty(session.Ref),
		nullIfEmpty(session.Source),
		session.IntegrityHash,
		session.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evidence session: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (Session, error) {
	query := `
		SELECT session_id, user_id, incident_id, trigger_source, status,
			   timestamp_utc, loc_lat, loc_lng, loc_accuracy, loc_timestamp,
			   loc_permission, device_hash, nonce, ref, source,
			   integrity_hash, completed_at
		FROM evidence_sessions
		WHERE session_id = $1
	`

	var (
		session                 Session
		trigger, status         string
		incidentID, ref, source sql.NullString
		lat, lng, accuracy      sql.NullFloat64
		locTimestamp            sql.NullTime
		locPermission           sql.NullString
		completedAt             sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.SessionID,
		&session.UserID,
		&incidentID,
		&trigger,
		&status,
		&session.Timestamp,
		&lat,
		&lng,
		&accuracy,
		&locTimestamp,
		&locPermission,
		&session.DeviceHash,
		&session.Nonce,
		&ref,
		&source,
		&session.IntegrityHash,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("query evidence session: %w", err)
	}

	session.Trigger = TriggerSource(trigger)
	session.Status = Status(status)
	session.IncidentID = incidentID.String
	session.Ref = ref.String
	session.Source = source.String
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	if locPermission.Valid {
		snapshot := &LocationSnapshot{PermissionStatus: PermissionStatus(locPermission.String)}
		if locTimestamp.Valid {
			snapshot.Timestamp = locTimestamp.Time
		}
		if lat.Valid && lng.Valid {
			snapshot.Coordinates = &Coordinates{Lat: lat.Float64, Lng: lng.Float64}
			if accuracy.Valid {
				snapshot.Coordinates.Accuracy = accuracy.Float64
			}
		}
		session.Location = snapshot
	}
	return session, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
