package limitless

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

// APIMarket represents a market as returned by the Limitless API.
type APIMarket struct {
	ID          json.Number  `json:"id"`
	Question    string       `json:"question"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Category    string       `json:"category"`
	ResolveDate string       `json:"resolveDate"`
	EndDate     string       `json:"end_date"`
	Volume      string       `json:"volume"`
	Liquidity   string       `json:"liquidity"`
	Outcomes    []APIOutcome `json:"outcomes"`
}

// APIOutcome is an outcome entry in a market or orderbook response.
type APIOutcome struct {
	ID        json.Number `json:"id"`
	Name      string      `json:"name"`
	Label     string      `json:"label"`
	Bid       string      `json:"bid"`
	Ask       string      `json:"ask"`
	Prob      string      `json:"prob"`
	Liquidity string      `json:"liquidity"`
}

// APIOrderbook is the per-market orderbook response.
type APIOrderbook struct {
	Outcomes  []APIOutcome `json:"outcomes"`
	Liquidity string       `json:"liquidity"`
	Timestamp int64        `json:"timestamp"`
}

// ToDomainMarket converts an APIMarket to a domain.Market.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		Platform: domain.PlatformLimitless,
		EventID:  m.ID.String(),
		Title:    m.Question,
	}
	if dm.Title == "" {
		dm.Title = m.Title
	}

	switch strings.ToLower(m.Status) {
	case "active", "open", "funded":
		dm.Status = domain.MarketStatusActive
	case "resolved", "closed", "expired":
		dm.Status = domain.MarketStatusClosed
	default:
		dm.Status = domain.MarketStatusInactive
	}

	if t := parseDate(m.ResolveDate); !t.IsZero() {
		dm.EndDate = &t
	} else if t := parseDate(m.EndDate); !t.IsZero() {
		dm.EndDate = &t
	}

	return dm
}

// ToDomainQuote converts an orderbook response to a domain.Quote. YES and NO
// prices are the asks of the matching outcomes, falling back to the quoted
// probability when no ask is present.
func (b *APIOrderbook) ToDomainQuote() domain.Quote {
	var q domain.Quote
	if b.Timestamp > 0 {
		q.Ts = time.Unix(b.Timestamp, 0).UTC()
	} else {
		q.Ts = time.Now().UTC()
	}

	fillable := decimal.Zero
	for _, out := range b.Outcomes {
		label := out.Name
		if label == "" {
			label = out.Label
		}
		ask := parseDecimal(out.Ask)
		if ask.IsZero() {
			ask = parseDecimal(out.Prob)
		}
		switch strings.ToLower(label) {
		case "yes":
			q.YesPrice = ask
		case "no":
			q.NoPrice = ask
		default:
			continue
		}
		depth := parseDecimal(out.Liquidity)
		if depth.IsPositive() && (fillable.IsZero() || depth.LessThan(fillable)) {
			fillable = depth
		}
	}
	if fillable.IsZero() {
		fillable = parseDecimal(b.Liquidity)
	}
	q.FillableUSD = fillable
	return q
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
