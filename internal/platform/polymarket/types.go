package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIMarket represents a market as returned by the Polymarket CLOB API.
type APIMarket struct {
	ID          string       `json:"id"`
	Question    string       `json:"question"`
	Title       string       `json:"title"`
	Slug        string       `json:"slug"`
	Description string       `json:"description"`
	Active      flexBool     `json:"active"`
	Closed      bool         `json:"closed"`
	IsResolved  bool         `json:"isResolved"`
	Status      string       `json:"status"`
	Outcomes    []APIOutcome `json:"outcomes"`
	Volume      string       `json:"volume"`
	Liquidity   string       `json:"liquidity"`
	EndDate     string       `json:"end_date"`
	EndDateAlt  string       `json:"endDate"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
}

// APIOutcome is a single outcome entry in a market or orderbook response.
type APIOutcome struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Label  string `json:"label"`
	Price  string `json:"price"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	MaxQty string `json:"max_qty"`
}

// APIOrderbook is the per-market orderbook/quote response.
type APIOrderbook struct {
	MarketID  string       `json:"market"`
	Outcomes  []APIOutcome `json:"outcomes"`
	Liquidity string       `json:"liquidity"`
	Timestamp int64        `json:"timestamp"`
}

// ToDomainMarket converts an APIMarket to a domain.Market. The quote is left
// zero; prices come from the orderbook endpoint or the price feed.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		Platform: domain.PlatformPolymarket,
		EventID:  m.ID,
		Title:    m.Question,
	}
	if dm.Title == "" {
		dm.Title = m.Title
	}

	switch {
	case m.Closed || m.IsResolved || m.Status == "resolved":
		dm.Status = domain.MarketStatusClosed
	case bool(m.Active) || m.Status == "open" || m.Status == "active":
		dm.Status = domain.MarketStatusActive
	default:
		dm.Status = domain.MarketStatusInactive
	}

	if t := parseDate(m.EndDate); !t.IsZero() {
		dm.EndDate = &t
	} else if t := parseDate(m.EndDateAlt); !t.IsZero() {
		dm.EndDate = &t
	}
	if t := parseDate(m.CreatedAt); !t.IsZero() {
		dm.CreatedAt = t
	}
	if t := parseDate(m.UpdatedAt); !t.IsZero() {
		dm.UpdatedAt = t
	}

	return dm
}

// ToDomainQuote converts an orderbook response to a domain.Quote. YES and NO
// prices are the asks of the matching outcomes; the fillable size is the
// tightest ask-side depth across outcomes, in USD.
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
			ask = parseDecimal(out.Price)
		}
		switch strings.ToLower(label) {
		case "yes":
			q.YesPrice = ask
		case "no":
			q.NoPrice = ask
		default:
			continue
		}
		depth := ask.Mul(parseDecimal(out.MaxQty))
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
