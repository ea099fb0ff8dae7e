package jurisdiction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"iwitness/pkg/platform/sentinel"
	txcontext "iwitness/pkg/platform/tx"
)

// PostgresRuleStore serves waiting-period rules from Postgres.
type PostgresRuleStore struct {
	db *sql.DB
}

func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

func (s *PostgresRuleStore) ListByState(ctx context.Context, state string) ([]Rule, error) {
	query := `
		SELECT state, county, waiting_period_days, allow_marketplace_after_wait,
			   require_explicit_request, is_active
		FROM jurisdiction_rules
		WHERE state = $1
	`
	rows, err := s.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("query jurisdiction rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule   Rule
			county sql.NullString
		)
		if err := rows.Scan(
			&rule.State,
			&county,
			&rule.WaitingPeriodDays,
			&rule.AllowMarketplaceAfterWait,
			&rule.RequireExplicitRequest,
			&rule.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan jurisdiction rule: %w", err)
		}
		rule.County = county.String
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jurisdiction rules: %w", err)
	}
	return rules, nil
}

// PostgresIncidentStore persists incidents in Postgres.
type PostgresIncidentStore struct {
	db *sql.DB
}

func NewPostgresIncidentStore(db *sql.DB) *PostgresIncidentStore {
	return &PostgresIncidentStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresIncidentStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresIncidentStore) Save(ctx context.Context, incident Incident) error {
	query := `
		INSERT INTO incidents (
			incident_id, user_id, state, county, status, occurred_at,
			help_requested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (incident_id) DO UPDATE SET
			status = EXCLUDED.status,
			help_requested_at = EXCLUDED.help_requested_at
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		incident.ID,
		incident.UserID,
		incident.State,
		nullIfEmpty(incident.County),
		string(incident.Status),
		incident.OccurredAt,
		incident.HelpRequestedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

func (s *PostgresIncidentStore) FindByID(ctx context.Context, id string) (Incident, error) {
	query := `
		SELECT incident_id, user_id, state, county, status, occurred_at,
			   help_requested_at
		FROM incidents
		WHERE incident_id = $1
	`
	var (
		incident                    Incident
		county                      sql.NullString
		status                      string
		occurredAt, helpRequestedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&incident.ID,
		&incident.UserID,
		&incident.State,
		&county,
		&status,
		&occurredAt,
		&helpRequestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Incident{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Incident{}, fmt.Errorf("query incident: %w", err)
	}
	incident.County = county.String
	incident.Status = IncidentStatus(status)
	if occurredAt.Valid {
		t := occurredAt.Time.UTC()
		incident.OccurredAt = &t
	}
	if helpRequestedAt.Valid {
		t := helpRequestedAt.Time.UTC()
		incident.HelpRequestedAt = &t
	}
	return incident, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
