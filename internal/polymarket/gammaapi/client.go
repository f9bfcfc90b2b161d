package gammaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/config"
	"github.com/leduftw/polymarket-price-alert/internal/market"
	"github.com/leduftw/polymarket-price-alert/internal/metrics"
	"github.com/leduftw/polymarket-price-alert/internal/ratelimit"
)

// Client handles communication with the Polymarket Gamma API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a new Gamma API client
func NewClient(cfg *config.Config) *Client {
	timeout := cfg.GammaAPITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.GammaAPIBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    ratelimit.New(cfg.GammaAPIRPS),
	}
}

// ListActiveMarkets fetches one page of markets that are active, not closed and not archived
func (c *Client) ListActiveMarkets(ctx context.Context, limit, offset int) ([]market.Summary, error) {
	u, err := url.Parse(c.baseURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("archived", "false")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	var markets []Market
	if err := c.get(ctx, "/markets", u.String(), &markets); err != nil {
		return nil, err
	}

	summaries := make([]market.Summary, 0, len(markets))
	for _, m := range markets {
		summaries = append(summaries, m.Summary())
	}
	return summaries, nil
}

// GetMarket fetches live outcomes and prices for one market
func (c *Client) GetMarket(ctx context.Context, id string) (market.Detail, error) {
	var m Market
	if err := c.get(ctx, "/markets/{id}", c.baseURL+"/markets/"+url.PathEscape(id), &m); err != nil {
		return market.Detail{}, err
	}
	if m.ID == "" {
		m.ID = id
	}
	return m.Detail()
}

func (c *Client) get(ctx context.Context, endpoint, rawURL string, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordAPIRequest("gamma", endpoint, time.Since(start), err)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", alert.ErrNotFound, rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
