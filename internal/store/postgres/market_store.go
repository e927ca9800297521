package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, platform, event_id, title, group_key, status,
	yes_price, no_price, fillable_usd, quote_ts,
	end_date, created_at, updated_at`

// UpsertBatch inserts or updates markets keyed by venue identity. Incoming
// rows without an ID are assigned one; existing rows keep theirs.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO markets (
			id, platform, event_id, title, status,
			yes_price, no_price, fillable_usd, quote_ts,
			end_date, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, NOW(), NOW()
		)
		ON CONFLICT (platform, event_id) DO UPDATE SET
			title        = EXCLUDED.title,
			status       = EXCLUDED.status,
			yes_price    = EXCLUDED.yes_price,
			no_price     = EXCLUDED.no_price,
			fillable_usd = EXCLUDED.fillable_usd,
			quote_ts     = EXCLUDED.quote_ts,
			end_date     = EXCLUDED.end_date,
			updated_at   = NOW()`

	for _, m := range markets {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		yes, no, fill, ts := quoteCols(m.Quote)
		batch.Queue(query,
			id, m.Platform, m.EventID, m.Title, string(m.Status),
			yes, no, fill, ts,
			nullTime(m.EndDate),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListByGroupKey returns the markets of one correlation group.
func (s *MarketStore) ListByGroupKey(ctx context.Context, groupKey string) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE group_key = $1 ORDER BY platform, event_id`,
		groupKey)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by group %s: %w", groupKey, err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListActive returns active markets, most recently updated first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = 'active' ORDER BY updated_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// UpdateQuote overwrites one market's quote, keyed by venue identity.
func (s *MarketStore) UpdateQuote(ctx context.Context, platform, eventID string, quote domain.Quote) error {
	yes, no, fill, ts := quoteCols(quote)
	_, err := s.pool.Exec(ctx, `
		UPDATE markets SET
			yes_price    = $3,
			no_price     = $4,
			fillable_usd = $5,
			quote_ts     = $6,
			updated_at   = NOW()
		WHERE platform = $1 AND event_id = $2`,
		platform, eventID, yes, no, fill, ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: update quote %s/%s: %w", platform, eventID, err)
	}
	return nil
}

// SetGroupKeys reassigns correlation-group keys, keyed by market ID.
func (s *MarketStore) SetGroupKeys(ctx context.Context, keys map[string]string) error {
	if len(keys) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for id, key := range keys {
		batch.Queue(`UPDATE markets SET group_key = $2, updated_at = NOW() WHERE id = $1`, id, key)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range keys {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: set group keys: %w", err)
		}
	}
	return nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m      domain.Market
		status string
		yes    *decimal.Decimal
		no     *decimal.Decimal
		fill   *decimal.Decimal
		ts     *time.Time
		end    *time.Time
	)
	err := row.Scan(
		&m.ID, &m.Platform, &m.EventID, &m.Title, &m.GroupKey, &status,
		&yes, &no, &fill, &ts,
		&end, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if yes != nil {
		m.Quote.YesPrice = *yes
	}
	if no != nil {
		m.Quote.NoPrice = *no
	}
	if fill != nil {
		m.Quote.FillableUSD = *fill
	}
	if ts != nil {
		m.Quote.Ts = *ts
	}
	if end != nil {
		m.EndDate = end
	}
	return m, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// quoteCols maps a quote to nullable column values; an unset quote stores as
// NULLs rather than misleading zeros.
func quoteCols(q domain.Quote) (yes, no, fill *decimal.Decimal, ts *time.Time) {
	if q.Ts.IsZero() {
		return nil, nil, nil, nil
	}
	return &q.YesPrice, &q.NoPrice, &q.FillableUSD, &q.Ts
}

func nullTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}
