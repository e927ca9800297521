package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predarb/predarb/internal/domain"
)

// GroupStore implements domain.GroupStore using PostgreSQL.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a new GroupStore backed by the given connection pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

// UpsertBatch inserts or updates correlation groups keyed by group_key.
// Membership is replaced wholesale; a recompute owns the full group.
func (s *GroupStore) UpsertBatch(ctx context.Context, groups []domain.CorrelationGroup) error {
	if len(groups) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO correlation_groups (id, group_key, title, kind, market_ids, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (group_key) DO UPDATE SET
			title      = EXCLUDED.title,
			kind       = EXCLUDED.kind,
			market_ids = EXCLUDED.market_ids,
			updated_at = NOW()`

	for _, g := range groups {
		ids, err := json.Marshal(g.MarketIDs)
		if err != nil {
			return fmt.Errorf("postgres: marshal group members: %w", err)
		}
		batch.Queue(query, g.ID, g.GroupKey, g.Title, string(g.Kind), ids)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range groups {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert group batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns groups ordered by last recompute, newest first.
func (s *GroupStore) ListRecent(ctx context.Context, limit int) ([]domain.CorrelationGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_key, title, kind, market_ids, updated_at
		FROM correlation_groups
		ORDER BY updated_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.CorrelationGroup
	for rows.Next() {
		var (
			g    domain.CorrelationGroup
			kind string
			ids  []byte
		)
		if err := rows.Scan(&g.ID, &g.GroupKey, &g.Title, &kind, &ids, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan group: %w", err)
		}
		g.Kind = domain.GroupKind(kind)
		if err := json.Unmarshal(ids, &g.MarketIDs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal group members: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: group rows: %w", err)
	}
	return groups, nil
}
