package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL. Delivery safety
// rests on two constraints: the (user_id, arb_id) unique index makes enqueue
// idempotent, and FOR UPDATE SKIP LOCKED claiming keeps concurrent workers
// off each other's rows.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Enqueue creates one pending alert per user for the opportunity, skipping
// pairs that already exist. Returns the number of rows actually created.
func (s *AlertStore) Enqueue(ctx context.Context, opportunityID string, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO alerts_queue (id, user_id, arb_id, status, next_attempt_at)
		VALUES ($1, $2, $3, 'pending', NOW())
		ON CONFLICT (user_id, arb_id) DO NOTHING`

	for _, userID := range userIDs {
		batch.Queue(query, uuid.NewString(), userID, opportunityID)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var created int
	for range userIDs {
		tag, err := br.Exec()
		if err != nil {
			return created, fmt.Errorf("postgres: enqueue alert: %w", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

const alertCols = `id, user_id, arb_id, status, attempts, next_attempt_at,
	last_error, last_value, created_at, sent_at`

// ClaimPending leases up to limit due pending alerts by pushing their
// next_attempt_at to now+lease. SKIP LOCKED means two workers claiming
// concurrently partition the queue instead of blocking on it.
func (s *AlertStore) ClaimPending(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE alerts_queue SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM alerts_queue
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+alertCols,
		now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim pending alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// MarkSent records a successful delivery and the value it carried.
func (s *AlertStore) MarkSent(ctx context.Context, id string, sentAt time.Time, value decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alerts_queue SET
			status     = 'sent',
			sent_at    = $2,
			last_value = $3,
			last_error = NULL
		WHERE id = $1`,
		id, sentAt, value,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark alert %s sent: %w", id, err)
	}
	return nil
}

// MarkFailed records a non-retryable failure.
func (s *AlertStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.markTerminal(ctx, id, string(domain.AlertStatusFailed), reason)
}

// MarkDead records retry exhaustion.
func (s *AlertStore) MarkDead(ctx context.Context, id string, reason string) error {
	return s.markTerminal(ctx, id, string(domain.AlertStatusDead), reason)
}

func (s *AlertStore) markTerminal(ctx context.Context, id, status, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alerts_queue SET status = $2, last_error = $3 WHERE id = $1`,
		id, status, reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark alert %s %s: %w", id, status, err)
	}
	return nil
}

// Reschedule requeues a retryable failure with its updated attempt count.
func (s *AlertStore) Reschedule(ctx context.Context, id string, attempts int, nextAt time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alerts_queue SET
			status          = 'pending',
			attempts        = $2,
			next_attempt_at = $3,
			last_error      = $4
		WHERE id = $1`,
		id, attempts, nextAt, reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: reschedule alert %s: %w", id, err)
	}
	return nil
}

// ReopenImproved flips sent alerts for the opportunity back to pending when
// the refreshed value improves on the last delivered one by at least
// minChange. Attempt counts reset; a reopened alert earns a fresh retry
// budget.
func (s *AlertStore) ReopenImproved(ctx context.Context, opportunityID string, newValue, minChange decimal.Decimal, nextAt time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts_queue SET
			status          = 'pending',
			attempts        = 0,
			next_attempt_at = $4,
			last_error      = NULL
		WHERE arb_id = $1
		  AND status = 'sent'
		  AND last_value IS NOT NULL
		  AND $2::numeric - last_value >= $3::numeric`,
		opportunityID, newValue, minChange, nextAt,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: reopen alerts for %s: %w", opportunityID, err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns queue depth per alert status.
func (s *AlertStore) CountByStatus(ctx context.Context) (map[domain.AlertStatus]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM alerts_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AlertStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan alert count: %w", err)
		}
		counts[domain.AlertStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: alert count rows: %w", err)
	}
	return counts, nil
}

// DeleteTerminalBefore removes terminal alerts created before the cutoff.
func (s *AlertStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM alerts_queue
		WHERE status IN ('sent', 'failed', 'dead') AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete terminal alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var (
		a       domain.Alert
		status  string
		lastErr *string
	)
	err := row.Scan(
		&a.ID, &a.UserID, &a.OpportunityID, &status, &a.Attempts, &a.NextAttemptAt,
		&lastErr, &a.LastValue, &a.CreatedAt, &a.SentAt,
	)
	if err != nil {
		return domain.Alert{}, err
	}
	a.Status = domain.AlertStatus(status)
	if lastErr != nil {
		a.LastError = *lastErr
	}
	return a, nil
}

func collectAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: alert rows: %w", err)
	}
	return alerts, nil
}
