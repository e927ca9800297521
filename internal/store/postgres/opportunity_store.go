package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predarb/predarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
// The opp_hash unique constraint is what makes concurrent detection safe:
// racing inserts of the same hash all succeed, exactly one as a fresh row.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Upsert atomically inserts the opportunity or refreshes the metrics of the
// existing row with the same hash. The xmax system column distinguishes a
// fresh insert (xmax = 0) from a conflict update in a single round-trip.
func (s *OpportunityStore) Upsert(ctx context.Context, opp domain.Opportunity) (string, bool, error) {
	legs, err := json.Marshal(opp.Legs)
	if err != nil {
		return "", false, fmt.Errorf("postgres: marshal legs: %w", err)
	}
	params, err := json.Marshal(opp.Params)
	if err != nil {
		return "", false, fmt.Errorf("postgres: marshal params: %w", err)
	}
	metrics, err := json.Marshal(opp.Metrics)
	if err != nil {
		return "", false, fmt.Errorf("postgres: marshal metrics: %w", err)
	}

	var (
		id      string
		created bool
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO arb_opportunities (
			id, opp_hash, opp_type, group_id, legs, params, metrics,
			detected_at, refreshed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (opp_hash) DO UPDATE SET
			metrics      = EXCLUDED.metrics,
			refreshed_at = EXCLUDED.refreshed_at
		RETURNING id, (xmax = 0) AS created`,
		opp.ID, opp.Hash, string(opp.Type), opp.GroupID, legs, params, metrics,
		opp.DetectedAt, opp.RefreshedAt,
	).Scan(&id, &created)
	if err != nil {
		return "", false, fmt.Errorf("postgres: upsert opportunity %s: %w", opp.Hash, err)
	}
	return id, created, nil
}

const oppCols = `id, opp_hash, opp_type, group_id, legs, params, metrics,
	detected_at, refreshed_at`

// GetByID retrieves an opportunity by its primary key.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+oppCols+` FROM arb_opportunities WHERE id = $1`, id)
	opp, err := scanOpportunity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return opp, nil
}

// ListRecent returns opportunities ordered by detection time, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppCols+` FROM arb_opportunities ORDER BY detected_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// ListDetectedBefore returns opportunities detected before the cutoff, oldest
// first. This is the archiver's read path.
func (s *OpportunityStore) ListDetectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppCols+` FROM arb_opportunities WHERE detected_at < $1 ORDER BY detected_at ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// DeleteByIDs removes opportunities; dependent alerts cascade.
func (s *OpportunityStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM arb_opportunities WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var (
		opp     domain.Opportunity
		oppType string
		legs    []byte
		params  []byte
		metrics []byte
	)
	err := row.Scan(
		&opp.ID, &opp.Hash, &oppType, &opp.GroupID, &legs, &params, &metrics,
		&opp.DetectedAt, &opp.RefreshedAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	opp.Type = domain.OppType(oppType)
	if err := json.Unmarshal(legs, &opp.Legs); err != nil {
		return domain.Opportunity{}, fmt.Errorf("unmarshal legs: %w", err)
	}
	if err := json.Unmarshal(params, &opp.Params); err != nil {
		return domain.Opportunity{}, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(metrics, &opp.Metrics); err != nil {
		return domain.Opportunity{}, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return opp, nil
}

func collectOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}
