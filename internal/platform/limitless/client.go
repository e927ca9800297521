// Package limitless is the REST client for the Limitless exchange API.
package limitless

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/predarb/predarb/internal/domain"
)

// Client is the REST client for the Limitless API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Limitless API client.
//
// baseURL is the API root, e.g. "https://api.limitless.exchange".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Platform identifies this client's venue.
func (c *Client) Platform() string { return domain.PlatformLimitless }

// ListActiveMarkets returns the currently active markets. The Limitless API
// does not paginate this endpoint; limit and offset are applied client-side.
func (c *Client) ListActiveMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("status", "active")

	body, err := c.doGet(ctx, "/v1/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("limitless: list markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("limitless: decode markets: %w", err)
	}

	if offset >= len(apiMarkets) {
		return nil, nil
	}
	apiMarkets = apiMarkets[offset:]
	if limit > 0 && len(apiMarkets) > limit {
		apiMarkets = apiMarkets[:limit]
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].ToDomainMarket())
	}
	return markets, nil
}

// FetchQuote returns the current quote for a market from its orderbook.
func (c *Client) FetchQuote(ctx context.Context, eventID string) (domain.Quote, error) {
	path := fmt.Sprintf("/v1/markets/%s/orderbook", url.PathEscape(eventID))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("limitless: get orderbook %s: %w", eventID, err)
	}

	var book APIOrderbook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.Quote{}, fmt.Errorf("limitless: decode orderbook: %w", err)
	}
	return book.ToDomainQuote(), nil
}

// doGet sends an unauthenticated GET request to the API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
