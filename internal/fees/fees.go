// Package fees implements the fee-aware profitability model. Everything here
// is a pure function over decimal USD values; the package holds no state and
// is safe to call from any number of scan workers.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

var one = decimal.NewFromInt(1)

// Score computes gross and net profitability for a leg combination under the
// given fee snapshot.
//
// Gross profit is the structural margin of buying every leg: with stake equal
// to the smallest leg size, stake * (1 - sum of leg prices). For a binary
// YES/NO pair this is the classic dutch-book margin size*(1-p_yes-p_no); for
// an exhaustive multi-outcome buy it generalizes unchanged.
//
// Net profit subtracts per-leg taker fees plus one withdrawal fee and one gas
// estimate per distinct platform touched.
//
// A leg on a platform with no fee schedule rejects the whole candidate with
// domain.ErrUnknownPlatformFee: unknown fees are never assumed zero.
func Score(legs []domain.Leg, snapshot domain.FeeSnapshot) (domain.Metrics, error) {
	if len(legs) == 0 {
		return domain.Metrics{}, errors.New("fees: no legs")
	}

	// Fail closed before any arithmetic.
	for _, leg := range legs {
		if _, ok := snapshot[leg.Platform]; !ok {
			return domain.Metrics{}, fmt.Errorf("fees: platform %s: %w", leg.Platform, domain.ErrUnknownPlatformFee)
		}
	}

	stake := legs[0].Size
	priceSum := decimal.Zero
	for _, leg := range legs {
		if leg.Size.LessThan(stake) {
			stake = leg.Size
		}
		priceSum = priceSum.Add(leg.Price)
	}

	gross := stake.Mul(one.Sub(priceSum))

	var breakdown domain.FeeBreakdown
	for _, leg := range legs {
		breakdown.TakerUSD = breakdown.TakerUSD.Add(snapshot[leg.Platform].TakerFeeUSD(leg.Price, leg.Size))
	}
	for _, platform := range domain.Platforms(legs) {
		fee := snapshot[platform]
		breakdown.WithdrawalUSD = breakdown.WithdrawalUSD.Add(fee.WithdrawalFeeUSD)
		breakdown.GasUSD = breakdown.GasUSD.Add(fee.GasEstimateUSD)
	}

	return domain.Metrics{
		GrossProfitUSD: gross,
		NetProfitUSD:   gross.Sub(breakdown.Total()),
		Fees:           breakdown,
	}, nil
}
