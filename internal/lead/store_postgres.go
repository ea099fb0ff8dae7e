package lead

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"iwitness/pkg/platform/sentinel"
	txcontext "iwitness/pkg/platform/tx"
)

// PostgresStore persists leads in Postgres. MergeTouch issues a single
// conditional UPDATE guarded by the stored device hash so concurrent
// touches cannot cross a device change.
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

func (s *PostgresStore) Save(ctx context.Context, lead Lead) error {
	query := `
		INSERT INTO leads (
			lead_id, status, device_hash, referral_code, source, campaign,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			first_touch_url, last_touch_url, session_id, user_id, lead_hash,
			created_at_utc, last_updated_utc
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	a := lead.Attribution
	_, err := s.execer(ctx).ExecContext(ctx, query,
		lead.LeadID,
		string(lead.Status),
		lead.DeviceHash,
		a.ReferralCode,
		a.Source,
		a.Campaign,
		a.UTMSource,
		a.UTMMedium,
		a.UTMCampaign,
		a.UTMTerm,
		a.UTMContent,
		lead.FirstTouchURL,
		lead.LastTouchURL,
		nullIfEmpty(lead.SessionID),
		nullIfEmpty(lead.UserID),
		lead.LeadHash,
		lead.CreatedAt,
		lead.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	row := s.db.QueryRowContext(ctx, selectLead+" WHERE lead_id = $1", id)
	return scanLead(row)
}

// MergeTouch updates the touch columns only while the stored device hash
// still matches. Zero rows affected means either the lead vanished or the
// hash changed underneath us; the two outcomes map to different sentinels.
func (s *PostgresStore) MergeTouch(ctx context.Context, leadID uuid.UUID, deviceHash, touchURL string, at time.Time) (Lead, error) {
	query := `
		UPDATE leads
		SET last_touch_url = $3, last_updated_utc = $4
		WHERE lead_id = $1 AND device_hash = $2
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, leadID, deviceHash, touchURL, at)
	if err != nil {
		return Lead{}, fmt.Errorf("merge touch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Lead{}, fmt.Errorf("merge touch rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.FindByID(ctx, leadID); errors.Is(err, sentinel.ErrNotFound) {
			return Lead{}, sentinel.ErrNotFound
		}
		return Lead{}, sentinel.ErrMergeConflict
	}
	return s.FindByID(ctx, leadID)
}

func (s *PostgresStore) Update(ctx context.Context, lead Lead) error {
	query := `
		UPDATE leads
		SET status = $2, last_touch_url = $3, session_id = $4, user_id = $5,
			last_updated_utc = $6
		WHERE lead_id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		lead.LeadID,
		string(lead.Status),
		lead.LastTouchURL,
		nullIfEmpty(lead.SessionID),
		nullIfEmpty(lead.UserID),
		lead.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const selectLead = `
	SELECT lead_id, status, device_hash, referral_code, source, campaign,
		   utm_source, utm_medium, utm_campaign, utm_term, utm_content,
		   first_touch_url, last_touch_url, session_id, user_id, lead_hash,
		   created_at_utc, last_updated_utc
	FROM leads`

func scanLead(row *sql.Row) (Lead, error) {
	var (
		lead              Lead
		status            string
		sessionID, userID sql.NullString
	)
	err := row.Scan(
		&lead.LeadID,
		&status,
		&lead.DeviceHash,
		&lead.Attribution.ReferralCode,
		&lead.Attribution.Source,
		&lead.Attribution.Campaign,
		&lead.Attribution.UTMSource,
		&lead.Attribution.UTMMedium,
		&lead.Attribution.UTMCampaign,
		&lead.Attribution.UTMTerm,
		&lead.Attribution.UTMContent,
		&lead.FirstTouchURL,
		&lead.LastTouchURL,
		&sessionID,
		&userID,
		&lead.LeadHash,
		&lead.CreatedAt,
		&lead.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("scan lead: %w", err)
	}
	lead.Status = Status(status)
	lead.SessionID = sessionID.String
	lead.UserID = userID.String
	return lead, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
