package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OppType classifies the strategy structure behind an opportunity.
type OppType string

const (
	// OppTypeDutchBook is a two-leg cross-platform YES/NO pair whose combined
	// price is below 1.
	OppTypeDutchBook OppType = "dutch_book"
	// OppTypeRebalancing is a multi-leg buy of every outcome of an exhaustive
	// partition whose combined price is below 1.
	OppTypeRebalancing OppType = "rebalancing"
)

// FeeBreakdown itemizes the costs subtracted from gross profit, in USD.
type FeeBreakdown struct {
	TakerUSD      decimal.Decimal `json:"taker_usd"`
	WithdrawalUSD decimal.Decimal `json:"withdrawal_usd"`
	GasUSD        decimal.Decimal `json:"gas_usd"`
}

// Total returns the sum of all fee components.
func (f FeeBreakdown) Total() decimal.Decimal {
	return f.TakerUSD.Add(f.WithdrawalUSD).Add(f.GasUSD)
}

// Metrics holds the profitability numbers computed for a candidate from the
// fee snapshot in effect at detection time.
type Metrics struct {
	GrossProfitUSD decimal.Decimal `json:"gross_profit_usd"`
	NetProfitUSD   decimal.Decimal `json:"net_profit_usd"`
	Fees           FeeBreakdown    `json:"fees"`
}

// Candidate is a scored leg combination the scanner considers worth
// persisting. Its Hash is the sole dedup key.
type Candidate struct {
	Type    OppType
	GroupID string
	Legs    []Leg
	Params  map[string]string
	Metrics Metrics
}

// hashPayload is the canonical serialization hashed into the dedup key.
// Metrics and GroupID are deliberately excluded: refreshed metrics must map
// to the same row, and group identity is derivable from the legs.
type hashPayload struct {
	Legs   []Leg             `json:"legs"`
	Params map[string]string `json:"params"`
	Type   OppType           `json:"type"`
}

// Hash returns the canonical identity hash of the candidate: SHA-256 over a
// stable JSON serialization of (type, params, canonicalized legs). Leg order
// does not affect the result; encoding/json emits map keys sorted, so params
// order cannot either.
func (c Candidate) Hash() string {
	payload := hashPayload{
		Legs:   CanonicalLegs(c.Legs),
		Params: c.Params,
		Type:   c.Type,
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		// Only unmarshalable types reach here; the payload is plain data.
		panic("domain: marshal hash payload: " + err.Error())
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// Opportunity is a persisted, deduplicated candidate. Hash, Type, and Legs
// are immutable after creation; Metrics may be refreshed by later detections
// of the same hash.
type Opportunity struct {
	ID          string
	Hash        string
	Type        OppType
	GroupID     string
	Legs        []Leg
	Params      map[string]string
	Metrics     Metrics
	DetectedAt  time.Time
	RefreshedAt time.Time
}
