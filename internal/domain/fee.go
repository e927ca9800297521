package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformFee is the fee schedule for one venue. Rows are mutated out-of-band
// by operators; the engine loads the values in effect at the start of a scan
// pass and treats them as immutable for that pass.
type PlatformFee struct {
	Platform         string
	TakerBps         decimal.Decimal
	WithdrawalFeeUSD decimal.Decimal
	GasEstimateUSD   decimal.Decimal
	UpdatedAt        time.Time
}

// TakerFeeUSD returns the taker fee for a fill of the given price and size:
// size * price * taker_bps / 10000.
func (f PlatformFee) TakerFeeUSD(price, size decimal.Decimal) decimal.Decimal {
	return size.Mul(price).Mul(f.TakerBps).Div(decimal.NewFromInt(10_000))
}

// FeeSnapshot is the per-pass view of all platform fee schedules, keyed by
// platform. A platform absent from the snapshot has no known fees and any
// candidate touching it must be rejected, never priced at zero.
type FeeSnapshot map[string]PlatformFee
