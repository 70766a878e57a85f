package wholesalemarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kilianp07/arbitrage/auth"
	"github.com/kilianp07/arbitrage/connectors"
	"github.com/kilianp07/arbitrage/core/timeseries"
)

// ID identifies this source in configuration.
const ID = "wholesale_market"

// DefaultBaseURL is the day-ahead price endpoint of the RTE open API.
const DefaultBaseURL = "https://digital.iservices.rte-france.com/open_api/wholesale_market/v2/france_power_exchanges"

// Client fetches day-ahead spot prices of the French power exchange.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *auth.ClientCred
	divisor    float64
}

// New creates a Client with the given options applied.
func New(opts ...connectors.Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		divisor:    1,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Fetch retrieves the prices between start and end.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) (*timeseries.PriceSeries, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s is not after start %s", timeseries.ErrInvalidValue,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("start_date", start.Format(time.RFC3339))
	q.Set("end_date", end.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		if err := c.auth.SetAuthHeader(req); err != nil {
			return nil, fmt.Errorf("failed to set auth header: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, body)
	}

	var marketResponse Response
	if err := json.NewDecoder(resp.Body).Decode(&marketResponse); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return marketResponse.Series(c.divisor)
}
