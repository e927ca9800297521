package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predarb/predarb/internal/domain"
)

// FeeStore implements domain.FeeStore using PostgreSQL.
type FeeStore struct {
	pool *pgxpool.Pool
}

// NewFeeStore creates a new FeeStore backed by the given connection pool.
func NewFeeStore(pool *pgxpool.Pool) *FeeStore {
	return &FeeStore{pool: pool}
}

// Get retrieves the fee schedule for one platform.
func (s *FeeStore) Get(ctx context.Context, platform string) (domain.PlatformFee, error) {
	var f domain.PlatformFee
	err := s.pool.QueryRow(ctx, `
		SELECT platform, taker_bps, withdrawal_fee_usd, gas_estimate_usd, updated_at
		FROM platform_fees WHERE platform = $1`,
		platform,
	).Scan(&f.Platform, &f.TakerBps, &f.WithdrawalFeeUSD, &f.GasEstimateUSD, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PlatformFee{}, fmt.Errorf("%w: platform=%s", domain.ErrUnknownPlatformFee, platform)
		}
		return domain.PlatformFee{}, fmt.Errorf("postgres: get fee %s: %w", platform, err)
	}
	return f, nil
}

// Upsert inserts or replaces a platform's fee schedule.
func (s *FeeStore) Upsert(ctx context.Context, fee domain.PlatformFee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO platform_fees (platform, taker_bps, withdrawal_fee_usd, gas_estimate_usd, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (platform) DO UPDATE SET
			taker_bps          = EXCLUDED.taker_bps,
			withdrawal_fee_usd = EXCLUDED.withdrawal_fee_usd,
			gas_estimate_usd   = EXCLUDED.gas_estimate_usd,
			updated_at         = NOW()`,
		fee.Platform, fee.TakerBps, fee.WithdrawalFeeUSD, fee.GasEstimateUSD,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert fee %s: %w", fee.Platform, err)
	}
	return nil
}

// List returns every fee schedule.
func (s *FeeStore) List(ctx context.Context) ([]domain.PlatformFee, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT platform, taker_bps, withdrawal_fee_usd, gas_estimate_usd, updated_at
		FROM platform_fees ORDER BY platform`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fees: %w", err)
	}
	defer rows.Close()

	var fees []domain.PlatformFee
	for rows.Next() {
		var f domain.PlatformFee
		if err := rows.Scan(&f.Platform, &f.TakerBps, &f.WithdrawalFeeUSD, &f.GasEstimateUSD, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan fee: %w", err)
		}
		fees = append(fees, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fee rows: %w", err)
	}
	return fees, nil
}
