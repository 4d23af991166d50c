// Package exchange reads reference spot prices from a centralized exchange's
// public ticker endpoint
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/retry"
)

const (
	defaultBaseURL = "https://api.binance.com"
	tickerPath     = "/api/v3/ticker/price"
	pingPath       = "/api/v3/ping"

	// DefaultSourceID names the exchange in reconciled prices
	DefaultSourceID = domain.SourceID("exchange")
)

// Client implements ports.PriceSource over a ticker endpoint. Quotes are
// stablecoin pairs and are taken as USD.
type Client struct {
	httpClient *http.Client
	baseURL    string
	id         domain.SourceID
	symbols    map[string]string // asset -> exchange symbol
	retryConf  retry.Config
	logger     *slog.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithSourceID overrides the source id
func WithSourceID(id domain.SourceID) ClientOption {
	return func(c *Client) {
		if id != "" {
			c.id = id
		}
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRetry configures retry behavior
func WithRetry(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.retryConf.MaxRetries = maxRetries
		c.retryConf.InitialBackoff = backoff
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With("component", "exchange_client")
	}
}

// NewClient creates a ticker price source. symbols maps each asset to its
// exchange pair, e.g. GOV -> GOVUSDT.
func NewClient(symbols map[string]string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:   defaultBaseURL,
		id:        DefaultSourceID,
		symbols:   make(map[string]string, len(symbols)),
		retryConf: retry.DefaultConfig(),
		logger:    slog.Default().With("component", "exchange_client"),
	}
	for asset, symbol := range symbols {
		c.symbols[strings.ToUpper(asset)] = strings.ToUpper(symbol)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// tickerResponse represents one entry of the ticker response
type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// ID implements ports.PriceSource
func (c *Client) ID() domain.SourceID {
	return c.id
}

// FetchPrices fetches every configured pair in one request. Pairs missing
// from the response or with an unparsable price are skipped.
func (c *Client) FetchPrices(ctx context.Context) ([]domain.PriceObservation, error) {
	if len(c.symbols) == 0 {
		return nil, nil
	}

	assets := make(map[string]string, len(c.symbols))
	symbols := make([]string, 0, len(c.symbols))
	for asset, symbol := range c.symbols {
		assets[symbol] = asset
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	tickers, err := retry.DoWithResult(ctx, c.retryConf, func(ctx context.Context) ([]tickerResponse, error) {
		u, _ := url.Parse(c.baseURL + tickerPath)
		q := u.Query()

		// Format symbols as JSON array: ["GOVUSDT","ETHUSDT"]
		q.Set("symbols", fmt.Sprintf(`["%s"]`, strings.Join(symbols, `","`)))
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Debug("request failed, will retry", "error", err)
			return nil, retry.NewRetryableError(fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.logger.Warn("rate limited by exchange")
			return nil, retry.StatusError(resp.StatusCode, domain.ErrRateLimited)
		case resp.StatusCode >= http.StatusInternalServerError:
			c.logger.Warn("exchange server error", "status", resp.StatusCode)
			return nil, retry.StatusError(resp.StatusCode, domain.ErrSourceUnavailable)
		case resp.StatusCode != http.StatusOK:
			return nil, retry.StatusError(resp.StatusCode, domain.ErrInvalidResponse)
		}

		var out []tickerResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			c.logger.Error("failed to decode response", "error", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	observations := make([]domain.PriceObservation, 0, len(tickers))
	for _, t := range tickers {
		asset, ok := assets[t.Symbol]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil || !price.IsPositive() {
			c.logger.Warn("invalid price format", "symbol", t.Symbol, "price", t.Price)
			continue
		}
		observations = append(observations,
			domain.NewPriceObservation(asset, c.id, fixedpoint.FromDecimal(price, domain.USDDecimals)))
	}

	return observations, nil
}

// Ping checks if the exchange API is reachable
func (c *Client) Ping(ctx context.Context) error {
	return retry.Do(ctx, c.retryConf, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pingPath, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.NewRetryableError(fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return retry.StatusError(resp.StatusCode, domain.ErrSourceUnavailable)
		}

		return nil
	})
}

// Ensure Client implements PriceSource
var _ ports.PriceSource = (*Client)(nil)
