package consent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	txcontext "iwitness/pkg/platform/tx"
)

// PostgresStore persists consent records in Postgres.
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

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	query := `
		INSERT INTO consents (user_id, purpose, granted_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		record.UserID,
		string(record.Purpose),
		record.GrantedAt,
		record.ExpiresAt,
		record.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	query := `
		SELECT user_id, purpose, granted_at, expires_at, revoked_at
		FROM consents
		WHERE user_id = $1
		ORDER BY granted_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query consents: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			record    Record
			purpose   string
			revokedAt sql.NullTime
		)
		if err := rows.Scan(
			&record.UserID,
			&purpose,
			&record.GrantedAt,
			&record.ExpiresAt,
			&revokedAt,
		); err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		record.Purpose = Purpose(purpose)
		if revokedAt.Valid {
			t := revokedAt.Time.UTC()
			record.RevokedAt = &t
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, userID string, purpose Purpose, revokedAt time.Time) error {
	query := `
		UPDATE consents
		SET revoked_at = $3
		WHERE user_id = $1 AND purpose = $2 AND revoked_at IS NULL
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, userID, string(purpose), revokedAt); err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	return nil
}
