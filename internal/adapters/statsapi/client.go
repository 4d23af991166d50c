package statsapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/retry"
)

const (
	positionStatsPath = "/position_stats"
	hourlyVolumePath  = "/hourly_volume"
	totalVolumePath   = "/total_volume"

	maxBodyBytes = 8 << 20
)

// Client implements the StatsClient interface for the stats server. Every
// amount the server returns is an integer string in USD units.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retryConf  retry.Config
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
		c.logger = logger.With("component", "stats_client")
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for the stats server at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		retryConf: retry.DefaultConfig(),
		logger:    slog.Default().With("component", "stats_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.retryConf.OnRetry = func(attempt int, err error) {
		c.logger.Debug("retrying stats request", "attempt", attempt, "error", err)
	}
	return c
}

// PositionStats returns the open interest totals
func (c *Client) PositionStats(ctx context.Context) (*domain.PositionStats, error) {
	body, err := c.get(ctx, positionStatsPath)
	if err != nil {
		return nil, err
	}

	long, err := usdField(body, "totalLongPositionSizes")
	if err != nil {
		return nil, err
	}
	short, err := usdField(body, "totalShortPositionSizes")
	if err != nil {
		return nil, err
	}
	return &domain.PositionStats{TotalLong: long, TotalShort: short}, nil
}

// HourlyVolume returns hourly volume entries, newest first. Entries that do
// not parse are skipped.
func (c *Client) HourlyVolume(ctx context.Context) ([]domain.VolumePoint, error) {
	body, err := c.get(ctx, hourlyVolumePath)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: hourly volume is not a list", domain.ErrInvalidResponse)
	}

	var points []domain.VolumePoint
	skipped := 0
	doc.ForEach(func(_, entry gjson.Result) bool {
		data := entry.Get("data")
		ts := data.Get("timestamp").Int()
		volume, ok := parseUSD(data.Get("volume"))
		if ts <= 0 || !ok {
			skipped++
			return true
		}
		points = append(points, domain.VolumePoint{
			Timestamp: time.Unix(ts, 0).UTC(),
			Token:     strings.ToLower(data.Get("token").String()),
			Volume:    volume,
		})
		return true
	})

	if skipped > 0 {
		c.logger.Warn("skipped malformed volume entries", "count", skipped)
	}
	if points == nil {
		points = []domain.VolumePoint{}
	}
	return points, nil
}

// TotalVolume returns the lifetime volume entries
func (c *Client) TotalVolume(ctx context.Context) ([]fixedpoint.Amount, error) {
	body, err := c.get(ctx, totalVolumePath)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: total volume is not a list", domain.ErrInvalidResponse)
	}

	entries := []fixedpoint.Amount{}
	var bad error
	doc.ForEach(func(i, entry gjson.Result) bool {
		volume, ok := parseUSD(entry.Get("data.volume"))
		if !ok {
			bad = fmt.Errorf("%w: total volume entry %d", domain.ErrInvalidResponse, i.Int())
			return false
		}
		entries = append(entries, volume)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return entries, nil
}

// Ping checks if the stats server is reachable
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, positionStatsPath)
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retryConf, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.NewRetryableError(fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.logger.Warn("rate limited by stats server", "path", path)
			return nil, retry.StatusError(resp.StatusCode, domain.ErrRateLimited)
		case resp.StatusCode >= http.StatusInternalServerError:
			c.logger.Warn("stats server error", "path", path, "status", resp.StatusCode)
			return nil, retry.StatusError(resp.StatusCode, domain.ErrSourceUnavailable)
		case resp.StatusCode != http.StatusOK:
			return nil, retry.StatusError(resp.StatusCode, domain.ErrInvalidResponse)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, retry.NewRetryableError(fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err))
		}
		if !gjson.ValidBytes(body) {
			c.logger.Error("invalid JSON from stats server", "path", path)
			return nil, fmt.Errorf("%w: %s is not valid JSON", domain.ErrInvalidResponse, path)
		}
		return body, nil
	})
}

func usdField(body []byte, field string) (fixedpoint.Amount, error) {
	v := gjson.GetBytes(body, field)
	if !v.Exists() {
		return fixedpoint.Amount{}, fmt.Errorf("%w: missing %s", domain.ErrInvalidResponse, field)
	}
	amount, ok := parseUSD(v)
	if !ok {
		return fixedpoint.Amount{}, fmt.Errorf("%w: %s is not an integer", domain.ErrInvalidResponse, field)
	}
	return amount, nil
}

// parseUSD reads an integer amount in USD units. The server sends big
// integers as strings and small ones as numbers.
func parseUSD(v gjson.Result) (fixedpoint.Amount, bool) {
	if !v.Exists() {
		return fixedpoint.Amount{}, false
	}
	amount, err := fixedpoint.ParseRaw(v.String(), domain.USDDecimals)
	return amount, err == nil
}

// Ensure Client implements ports.StatsClient
var _ ports.StatsClient = (*Client)(nil)
