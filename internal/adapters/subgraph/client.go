package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/retry"
)

const (
	secondsPerDay = 24 * 60 * 60
	maxBodyBytes  = 16 << 20
	pageSize      = 1000
)

const feeStatsQuery = `query feeStats($first: Int!) {
  feeStats(first: $first, orderBy: id, orderDirection: desc, where: { period: daily }) {
    id
    mint
    burn
    marginAndLiquidation
    swap
  }
}`

const priceCandlesQuery = `query priceCandles($token: String!, $period: String!, $first: Int!) {
  priceCandles(first: $first, orderBy: timestamp, orderDirection: desc, where: { token: $token, period: $period }) {
    timestamp
    open
    high
    low
    close
  }
}`

// candlePeriods maps chart resolutions to the indexer's candle periods
var candlePeriods = map[string]string{
	"5":   "5m",
	"15":  "15m",
	"60":  "1h",
	"240": "4h",
	"1D":  "1d",
}

// Client queries the GraphQL indexer for the fee ledger and price candles
type Client struct {
	httpClient *http.Client
	endpoint   string
	tokens     map[string]string
	retryConf  retry.Config
	now        func() time.Time
	logger     *slog.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

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
		c.logger = logger.With("component", "subgraph_client")
	}
}

// WithTokens maps chart base symbols to the token addresses the indexer
// keys candles by
func WithTokens(tokens map[string]string) ClientOption {
	return func(c *Client) {
		for symbol, addr := range tokens {
			c.tokens[strings.ToUpper(symbol)] = strings.ToLower(addr)
		}
	}
}

// WithClock overrides the clock used to split settled and pending fees
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for the indexer at endpoint
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		endpoint:  endpoint,
		tokens:    make(map[string]string),
		retryConf: retry.DefaultConfig(),
		now:       time.Now,
		logger:    slog.Default().With("component", "subgraph_client"),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FeeLedger returns the daily fee periods. Completed days are settled; the
// current day is the pending accrual.
func (c *Client) FeeLedger(ctx context.Context) (*domain.FeeLedger, error) {
	data, err := c.query(ctx, feeStatsQuery, map[string]any{"first": pageSize})
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	ledger := &domain.FeeLedger{
		// fees are taken on mint, burn, swap and positions only
		SpreadCaptured: fixedpoint.Of(fixedpoint.Zero(domain.USDDecimals)),
	}

	var parseErr error
	data.Get("feeStats").ForEach(func(_, row gjson.Result) bool {
		period, err := feePeriod(row)
		if err != nil {
			parseErr = err
			return false
		}
		if period.To.After(now) {
			p := period
			ledger.Pending = &p
		} else {
			ledger.Settled = append(ledger.Settled, period)
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	sort.Slice(ledger.Settled, func(i, j int) bool {
		return ledger.Settled[i].To.After(ledger.Settled[j].To)
	})
	return ledger, nil
}

// Bars returns the price candles of the ticker's base token, oldest first.
// Duplicate timestamps keep the first candle the indexer returned.
func (c *Client) Bars(ctx context.Context, ticker domain.Ticker, resolution string) ([]domain.Bar, error) {
	period, ok := candlePeriods[resolution]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedResolution, resolution)
	}
	token, ok := c.tokens[strings.ToUpper(ticker.Base)]
	if !ok {
		return nil, fmt.Errorf("%w: no token for %s", domain.ErrNotFound, ticker.Base)
	}

	data, err := c.query(ctx, priceCandlesQuery, map[string]any{
		"token":  token,
		"period": period,
		"first":  pageSize,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	bars := []domain.Bar{}
	skipped := 0
	data.Get("priceCandles").ForEach(func(_, row gjson.Result) bool {
		bar, ok := candle(row)
		if !ok {
			skipped++
			return true
		}
		if _, dup := seen[bar.Time]; dup {
			return true
		}
		seen[bar.Time] = struct{}{}
		bars = append(bars, bar)
		return true
	})
	if skipped > 0 {
		c.logger.Warn("skipped malformed candles", "token", token, "count", skipped)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
	return bars, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// query posts a GraphQL request and returns its data object
func (c *Client) query(ctx context.Context, query string, vars map[string]any) (gjson.Result, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return gjson.Result{}, err
	}

	body, err := retry.DoWithResult(ctx, c.retryConf, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.NewRetryableError(fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.logger.Warn("indexer returned error status", "status", resp.StatusCode)
			base := domain.ErrSourceUnavailable
			if resp.StatusCode == http.StatusTooManyRequests {
				base = domain.ErrRateLimited
			} else if resp.StatusCode < http.StatusInternalServerError {
				base = domain.ErrInvalidResponse
			}
			return nil, retry.StatusError(resp.StatusCode, base)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
	if err != nil {
		return gjson.Result{}, err
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: indexer response is not JSON", domain.ErrInvalidResponse)
	}
	doc := gjson.ParseBytes(body)
	if errs := doc.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		msg := errs.Get("0.message").String()
		c.logger.Error("indexer query failed", "error", msg)
		return gjson.Result{}, fmt.Errorf("%w: %s", domain.ErrInvalidResponse, msg)
	}
	data := doc.Get("data")
	if !data.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: missing data", domain.ErrInvalidResponse)
	}
	return data, nil
}

func feePeriod(row gjson.Result) (domain.FeePeriod, error) {
	day := row.Get("id").Int()
	if day <= 0 {
		return domain.FeePeriod{}, fmt.Errorf("%w: fee period id %q", domain.ErrInvalidResponse, row.Get("id").String())
	}

	var amounts [4]fixedpoint.Amount
	for i, field := range []string{"mint", "burn", "marginAndLiquidation", "swap"} {
		a, err := fixedpoint.ParseRaw(row.Get(field).String(), domain.USDDecimals)
		if err != nil {
			return domain.FeePeriod{}, fmt.Errorf("%w: fee period %d %s", domain.ErrInvalidResponse, day, field)
		}
		amounts[i] = a
	}

	return domain.FeePeriod{
		From:                 time.Unix(day, 0).UTC(),
		To:                   time.Unix(day+secondsPerDay, 0).UTC(),
		Mint:                 amounts[0],
		Burn:                 amounts[1],
		MarginAndLiquidation: amounts[2],
		Swap:                 amounts[3],
	}, nil
}

// candle converts one indexer candle. Prices are USD integers.
func candle(row gjson.Result) (domain.Bar, bool) {
	ts := row.Get("timestamp").Int()
	if ts <= 0 {
		return domain.Bar{}, false
	}
	bar := domain.Bar{Time: ts}
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
	} {
		a, err := fixedpoint.ParseRaw(row.Get(f.name).String(), domain.USDDecimals)
		if err != nil {
			return domain.Bar{}, false
		}
		*f.dst = a.Decimal().InexactFloat64()
	}
	return bar, true
}

// Ensure Client implements the source ports
var (
	_ ports.FeeLedgerSource = (*Client)(nil)
	_ ports.BarSource       = (*Client)(nil)
)
