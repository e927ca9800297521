package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

// SubscriberStore implements domain.SubscriberStore using PostgreSQL.
type SubscriberStore struct {
	pool *pgxpool.Pool
}

// NewSubscriberStore creates a new SubscriberStore backed by the given pool.
func NewSubscriberStore(pool *pgxpool.Pool) *SubscriberStore {
	return &SubscriberStore{pool: pool}
}

// Upsert inserts or updates a subscriber's registration.
func (s *SubscriberStore) Upsert(ctx context.Context, sub domain.Subscriber) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, subscribed, min_profit_usd, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			subscribed     = EXCLUDED.subscribed,
			min_profit_usd = EXCLUDED.min_profit_usd`,
		sub.UserID, sub.Subscribed, sub.MinProfitUSD,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert subscriber %s: %w", sub.UserID, err)
	}
	return nil
}

// ListEligible returns subscribed users whose minimum-profit preference the
// given net profit meets.
func (s *SubscriberStore) ListEligible(ctx context.Context, netProfitUSD decimal.Decimal) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, subscribed, min_profit_usd, created_at
		FROM users
		WHERE subscribed AND min_profit_usd <= $1::numeric
		ORDER BY user_id`,
		netProfitUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list eligible subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(&sub.UserID, &sub.Subscribed, &sub.MinProfitUSD, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: subscriber rows: %w", err)
	}
	return subs, nil
}
