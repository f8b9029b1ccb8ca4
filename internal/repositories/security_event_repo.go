package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// SecurityEventRepository archives security events and alerts in Postgres.
// It is write-only from the admission layer's point of view; the read methods
// exist for operators and tests.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

// pgText drops NUL characters, which Postgres refuses in text columns
func pgText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// pgJSON drops \u0000 escapes from an encoded JSON document, which jsonb refuses.
// An escaped backslash followed by "u0000" is literal text and is kept.
func pgJSON(doc string) string {
	if !strings.Contains(doc, `\u0000`) {
		return pgText(doc)
	}

	var b strings.Builder
	b.Grow(len(doc))
	for i := 0; i < len(doc); i++ {
		c := doc[i]
		if c != '\\' || i+1 >= len(doc) {
			b.WriteByte(c)
			continue
		}
		if strings.HasPrefix(doc[i+1:], "u0000") {
			i += 5
			continue
		}
		b.WriteByte(c)
		b.WriteByte(doc[i+1])
		i++
	}
	return pgText(b.String())
}

// SaveEvent inserts an event. Re-delivering the same event is a no-op.
func (r *SecurityEventRepository) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (id, occurred_at, event_type, user_id, ip_address, additional_data)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, '')::jsonb)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.Timestamp,
		pgText(event.EventType),
		pgText(event.UserID),
		pgText(event.IPAddress),
		pgJSON(event.AdditionalData),
	)
	if err != nil {
		return fmt.Errorf("failed to archive security event %s: %w", event.ID, database.MapPostgresError(err))
	}
	return nil
}

// SaveAlert upserts an alert. A refreshed alert keeps its id, so the row is
// updated with the latest message, payload and timestamp.
func (r *SecurityEventRepository) SaveAlert(ctx context.Context, alert *models.SecurityAlert) error {
	query := `
		INSERT INTO security_alerts (id, alert_type, severity, message, raised_at, expires_at, additional_data, is_resolved)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::jsonb, $8)
		ON CONFLICT (id) DO UPDATE SET
			message         = EXCLUDED.message,
			raised_at       = EXCLUDED.raised_at,
			additional_data = EXCLUDED.additional_data,
			is_resolved     = EXCLUDED.is_resolved,
			updated_at      = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		alert.ID,
		pgText(alert.AlertType),
		alert.Severity.String(),
		pgText(alert.Message),
		alert.Timestamp,
		alert.ExpiresAt,
		pgJSON(alert.AdditionalData),
		alert.IsResolved,
	)
	if err != nil {
		return fmt.Errorf("failed to archive security alert %s: %w", alert.ID, database.MapPostgresError(err))
	}
	return nil
}

// ListEventsSince returns archived events at or after since, oldest first
func (r *SecurityEventRepository) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]models.SecurityEvent, error) {
	query := `
		SELECT id, occurred_at, event_type, COALESCE(user_id, ''), COALESCE(ip_address, ''), COALESCE(additional_data::text, '')
		FROM security_events
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", database.MapPostgresError(err))
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SecurityEvent, error) {
		var e models.SecurityEvent
		err := row.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.UserID, &e.IPAddress, &e.AdditionalData)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan security events: %w", database.MapPostgresError(err))
	}
	return events, nil
}

// GetAlert loads one archived alert
func (r *SecurityEventRepository) GetAlert(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error) {
	query := `
		SELECT id, alert_type, severity, message, raised_at, expires_at, COALESCE(additional_data::text, ''), is_resolved
		FROM security_alerts
		WHERE id = $1
	`

	var (
		alert    models.SecurityAlert
		severity string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&alert.ID,
		&alert.AlertType,
		&severity,
		&alert.Message,
		&alert.Timestamp,
		&alert.ExpiresAt,
		&alert.AdditionalData,
		&alert.IsResolved,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if alert.Severity, err = models.ParseSeverity(severity); err != nil {
		return nil, err
	}
	return &alert, nil
}
