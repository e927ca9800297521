package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Side is the outcome a leg takes on its market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Leg is one side of one market at a given price and size, as part of a
// combined position. Legs are derived per scan pass from market quotes and
// are never persisted on their own.
type Leg struct {
	MarketID string          `json:"market_id"`
	Platform string          `json:"platform"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
}

// CanonicalLegs returns a copy of legs sorted by (MarketID, Side) ascending.
// The same logical combination always canonicalizes to the same ordering,
// which is what makes the opportunity hash stable across scan order and
// workers.
func CanonicalLegs(legs []Leg) []Leg {
	out := make([]Leg, len(legs))
	copy(out, legs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// Platforms returns the distinct platforms touched by legs, sorted.
func Platforms(legs []Leg) []string {
	seen := make(map[string]bool, len(legs))
	var out []string
	for _, l := range legs {
		if !seen[l.Platform] {
			seen[l.Platform] = true
			out = append(out, l.Platform)
		}
	}
	sort.Strings(out)
	return out
}
