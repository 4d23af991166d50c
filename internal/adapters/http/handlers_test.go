package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpAdapter "github.com/prxgr4mmer/perps-metrics-service/internal/adapters/http"
	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/feed"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/internal/services"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/metrics"
)

// Mock implementations for testing

type mockSession struct {
	chainID int64
	account string
	epoch   uint64
}

func (m *mockSession) SwitchSession(chainID int64, account string) uint64 {
	m.chainID, m.account = chainID, account
	m.epoch++
	return m.epoch
}

func (m *mockSession) Epoch() uint64 { return m.epoch }

type mockTrigger struct {
	reasons []string
}

func (m *mockTrigger) Trigger(reason string) bool {
	m.reasons = append(m.reasons, reason)
	return true
}

type mockMetricsService struct{}

func (m *mockMetricsService) GetMetrics(ctx context.Context) (*domain.Metrics, error) {
	return &domain.Metrics{
		Uptime:            3600,
		SnapshotVersion:   7,
		CycleSuccessCount: 100,
		CycleErrorCount:   2,
		DatabaseStatus:    "healthy",
	}, nil
}

func (m *mockMetricsService) RecordCycleSuccess(duration time.Duration) {}
func (m *mockMetricsService) RecordCycleError(duration time.Duration)   {}
func (m *mockMetricsService) RecordSourceOK(source string)              {}
func (m *mockMetricsService) RecordSourceError(source string)           {}
func (m *mockMetricsService) RecordStaleDiscard(source string)          {}
func (m *mockMetricsService) RecordSessionDiscard()                     {}
func (m *mockMetricsService) RecordFallback(source string)              {}
func (m *mockMetricsService) GetLastCycleTime() *time.Time              { return nil }

type mockHealthService struct {
	status *ports.HealthStatus
}

func (m *mockHealthService) CheckHealth(ctx context.Context) (*ports.HealthStatus, error) {
	return m.status, nil
}

type mockHistoryService struct {
	bars []domain.Bar
	err  error
}

func (m *mockHistoryService) Series(ctx context.Context, ticker domain.Ticker, resolution string) ([]domain.Bar, error) {
	return m.bars, m.err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func usd(v int64) fixedpoint.Value {
	return fixedpoint.Of(fixedpoint.Expand(v, domain.USDDecimals))
}

func testSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Version: 3,
		Epoch:   1,
		Metrics: domain.MetricSnapshot{
			ComputedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			GovPrice: domain.ReconciledPrice{
				Asset:           "GOV",
				Canonical:       usd(2),
				CanonicalSource: "pool",
				BySource: map[domain.SourceID]fixedpoint.Value{
					"pool":  usd(2),
					"stats": fixedpoint.Unknown(),
				},
			},
			GovMarketCap: usd(10000),
			StakingAPR:   fixedpoint.Of(fixedpoint.NewFromInt64(1234, 2)),
			Tokens: []domain.TokenMetrics{
				{
					Symbol:      "ETH",
					Address:     "0xeth",
					MaxPrice:    usd(3000),
					Utilization: fixedpoint.Of(fixedpoint.NewFromInt64(5000, 2)),
					Weight:      domain.WeightText{Text: "40.00% / 35.00%"},
				},
			},
		},
		Distribution: domain.Distribution{
			Buckets: []domain.DistributionBucket{
				{Category: domain.CategoryWallets, Label: "Wallets", Color: "#aaa", Share: 6000},
				{Category: domain.CategoryStaked, Label: "Staked", Color: "#bbb", Share: 4000},
			},
		},
		Pool: domain.PoolComposition{
			Shares:                 []domain.PoolShare{{Symbol: "ETH", Address: "0xeth", Bps: 10000}},
			StablecoinSharePercent: "0.00",
		},
		Prices: []domain.ReconciledPrice{
			{
				Asset:           "GOV",
				Canonical:       usd(2),
				CanonicalSource: "pool",
				BySource: map[domain.SourceID]fixedpoint.Value{
					"pool":  usd(2),
					"stats": fixedpoint.Unknown(),
				},
				UsedFallback: []domain.SourceID{"pool"},
			},
		},
	}
}

type fixture struct {
	store    *services.SnapshotStore
	session  *mockSession
	trigger  *mockTrigger
	history  *mockHistoryService
	handler  *httpAdapter.Handler
	recorder *metrics.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    services.NewSnapshotStore(),
		session:  &mockSession{epoch: 1},
		trigger:  &mockTrigger{},
		history:  &mockHistoryService{},
		recorder: metrics.New("test"),
	}
	loop := feed.NewEventLoop(newTestLogger())
	f.handler = httpAdapter.NewHandler(f.deps(loop), newTestLogger())
	return f
}

func (f *fixture) deps(loop *feed.EventLoop) httpAdapter.HandlerDeps {
	return httpAdapter.HandlerDeps{
		Snapshots: f.store,
		Session:   f.session,
		Trigger:   f.trigger,
		Metrics:   &mockMetricsService{},
		Health:    &mockHealthService{status: &ports.HealthStatus{Status: "healthy", Snapshot: "ready"}},
		Feed:      feed.NewAdapter(loop, f.history, newTestLogger()),

		IndexAsset: "MLP",
	}
}

func (f *fixture) router() http.Handler {
	stream := httpAdapter.NewSnapshotBroadcaster(f.store, []string{"*"}, time.Second, f.recorder, newTestLogger())
	return httpAdapter.NewRouter(f.handler, stream, f.recorder, []string{"https://dash.example"}, newTestLogger())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHandler_Health(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	f.handler.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	decode(t, rec, &response)
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "ready", response["snapshot"])
}

func TestHandler_SnapshotNotReady(t *testing.T) {
	f := newFixture(t)

	for _, fn := range []http.HandlerFunc{
		f.handler.GetSnapshot,
		f.handler.GetSummary,
		f.handler.GetDistribution,
		f.handler.GetPool,
		f.handler.GetPrices,
	} {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var response httpAdapter.ErrorResponse
		decode(t, rec, &response)
		assert.Equal(t, "SNAPSHOT_NOT_READY", response.Code)
	}
}

func TestHandler_GetSnapshot(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.store.Publish(testSnapshot()))

	rec := httptest.NewRecorder()
	f.handler.GetSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	decode(t, rec, &response)
	assert.Equal(t, float64(3), response["version"])

	m := response["metrics"].(map[string]interface{})
	assert.Equal(t, "10000", m["gov_market_cap"])
	assert.Nil(t, m["aum"])
}

func TestHandler_GetSummary(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.store.Publish(testSnapshot()))

	rec := httptest.NewRecorder()
	f.handler.GetSummary(rec, httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var response httpAdapter.SummaryResponse
	decode(t, rec, &response)
	assert.Equal(t, uint64(3), response.Version)
	assert.Equal(t, "$2.00", response.GovPrice)
	assert.Equal(t, "pool", response.GovPriceSource)
	assert.Equal(t, "$10,000.00", response.GovMarketCap)
	assert.Equal(t, "12.34%", response.StakingAPR)
	assert.Equal(t, "0.00%", response.StablecoinShare)

	// figures that never loaded render as the placeholder
	assert.Equal(t, fixedpoint.Placeholder, response.AUM)
	assert.Equal(t, fixedpoint.Placeholder, response.TotalFees)
	assert.Equal(t, fixedpoint.Placeholder, response.GovSupply)
}

func TestHandler_GetDistribution(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.store.Publish(testSnapshot()))

	rec := httptest.NewRecorder()
	f.handler.GetDistribution(rec, httptest.NewRequest(http.MethodGet, "/api/v1/distribution", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Buckets      []httpAdapter.BucketResponse `json:"buckets"`
		Inconsistent bool                         `json:"inconsistent"`
	}
	decode(t, rec, &response)
	require.Len(t, response.Buckets, 2)
	assert.Equal(t, "wallets", response.Buckets[0].Category)
	assert.Equal(t, "60.00", response.Buckets[0].Percent)
	assert.Equal(t, "40.00", response.Buckets[1].Percent)
	assert.False(t, response.Inconsistent)
}

func TestHandler_GetPool(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.store.Publish(testSnapshot()))

	rec := httptest.NewRecorder()
	f.handler.GetPool(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pool", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Tokens []httpAdapter.TokenRowResponse `json:"tokens"`
	}
	decode(t, rec, &response)
	require.Len(t, response.Tokens, 1)

	row := response.Tokens[0]
	assert.Equal(t, "$3,000.00", row.Price)
	assert.Equal(t, "50.00%", row.Utilization)
	assert.Equal(t, "40.00% / 35.00%", row.Weight)
	assert.Equal(t, int64(10000), row.ShareBps)
	assert.Equal(t, fixedpoint.Placeholder, row.PoolUSD)
}

func TestHandler_GetPool_EmptyPoolUtilization(t *testing.T) {
	f := newFixture(t)
	snap := testSnapshot()
	snap.Metrics.Tokens = append(snap.Metrics.Tokens,
		domain.TokenMetrics{Symbol: "DAI", Address: "0xdai", Utilization: fixedpoint.Unknown()},
		domain.TokenMetrics{Symbol: "BAD", Address: "0xbad", Utilization: fixedpoint.Fail(domain.ErrInvalidResponse)},
	)
	require.True(t, f.store.Publish(snap))

	rec := httptest.NewRecorder()
	f.handler.GetPool(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pool", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Tokens []httpAdapter.TokenRowResponse `json:"tokens"`
	}
	decode(t, rec, &response)
	require.Len(t, response.Tokens, 3)

	assert.Equal(t, "0.00%", response.Tokens[1].Utilization)
	assert.Equal(t, fixedpoint.Placeholder, response.Tokens[2].Utilization)

	// the snapshot itself keeps the figure unknown
	rec = httptest.NewRecorder()
	f.handler.GetSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))
	assert.Contains(t, rec.Body.String(), `"symbol":"DAI"`)
	assert.Contains(t, rec.Body.String(), `"utilization_bps":null`)
}

func TestHandler_GetPrices(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.store.Publish(testSnapshot()))

	rec := httptest.NewRecorder()
	f.handler.GetPrices(rec, httptest.NewRequest(http.MethodGet, "/api/v1/prices", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Prices []httpAdapter.PriceResponse `json:"prices"`
	}
	decode(t, rec, &response)
	require.Len(t, response.Prices, 1)

	p := response.Prices[0]
	assert.Equal(t, "$2.00", p.Price)
	assert.Equal(t, "$2.00", p.BySource["pool"])
	assert.Equal(t, fixedpoint.Placeholder, p.BySource["stats"])
	assert.Equal(t, []string{"pool"}, p.UsedFallback)
}

func TestHandler_GetMetrics(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var response domain.Metrics
	decode(t, rec, &response)
	assert.Equal(t, float64(3600), response.Uptime)
	assert.Equal(t, uint64(7), response.SnapshotVersion)
	assert.Equal(t, "healthy", response.DatabaseStatus)
}

func TestHandler_SwitchSession(t *testing.T) {
	t.Run("switches and queues a refresh", func(t *testing.T) {
		f := newFixture(t)

		body := bytes.NewBufferString(`{"chain_id": 43114, "account": "0x489ee077994B6658eAfA855C308275EAd8097C4A"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session", body)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		f.handler.SwitchSession(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response map[string]interface{}
		decode(t, rec, &response)
		assert.Equal(t, float64(2), response["epoch"])
		assert.Equal(t, int64(43114), f.session.chainID)
		assert.Equal(t, []string{"session switch"}, f.trigger.reasons)
	})

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid JSON", body: `invalid json`},
		{name: "missing chain", body: `{"account": ""}`},
		{name: "invalid account", body: `{"chain_id": 1, "account": "alice"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/session", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			f.handler.SwitchSession(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, uint64(1), f.session.epoch)
			assert.Empty(t, f.trigger.reasons)
		})
	}
}

func TestHandler_TriggerRefresh(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.TriggerRefresh(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"api"}, f.trigger.reasons)
}

func TestHandler_Feed(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		f := newFixture(t)

		rec := httptest.NewRecorder()
		f.handler.FeedConfig(rec, httptest.NewRequest(http.MethodGet, "/feed/config", nil))

		var response feed.Configuration
		decode(t, rec, &response)
		assert.Equal(t, feed.SupportedResolutions, response.SupportedResolutions)
	})

	t.Run("resolves symbol", func(t *testing.T) {
		f := newFixture(t)

		rec := httptest.NewRecorder()
		f.handler.FeedSymbol(rec, httptest.NewRequest(http.MethodGet, "/feed/symbols?symbol=PERPS:ETH/USD", nil))

		assert.Equal(t, http.StatusOK, rec.Code)

		var response feed.SymbolInfo
		decode(t, rec, &response)
		assert.Equal(t, 100, response.PriceScale)
		assert.Equal(t, "24x7", response.Session)
	})

	t.Run("malformed symbol", func(t *testing.T) {
		f := newFixture(t)

		rec := httptest.NewRecorder()
		f.handler.FeedSymbol(rec, httptest.NewRequest(http.MethodGet, "/feed/symbols?symbol=PERPS", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var response httpAdapter.ErrorResponse
		decode(t, rec, &response)
		assert.Equal(t, "MALFORMED_SYMBOL", response.Code)
	})

	t.Run("history in seconds", func(t *testing.T) {
		f := newFixture(t)
		f.history.bars = []domain.Bar{
			{Time: 3600, Open: 1, High: 2, Low: 0.5, Close: 1.5},
			{Time: 7200, Open: 1.5, High: 3, Low: 1, Close: 2.5},
		}

		rec := httptest.NewRecorder()
		f.handler.FeedHistory(rec, httptest.NewRequest(http.MethodGet, "/feed/history?symbol=PERPS:ETH/USD&resolution=60&countback=300", nil))

		assert.Equal(t, http.StatusOK, rec.Code)

		var response httpAdapter.UDFHistoryResponse
		decode(t, rec, &response)
		assert.Equal(t, "ok", response.Status)
		assert.Equal(t, []int64{3600, 7200}, response.Time)
		assert.Equal(t, []float64{1.5, 2.5}, response.Close)
	})

	t.Run("later pages have no data", func(t *testing.T) {
		f := newFixture(t)
		f.history.bars = []domain.Bar{{Time: 3600, Close: 1}}

		rec := httptest.NewRecorder()
		f.handler.FeedHistory(rec, httptest.NewRequest(http.MethodGet, "/feed/history?symbol=PERPS:ETH/USD&resolution=60&firstDataRequest=false", nil))

		var response httpAdapter.UDFHistoryResponse
		decode(t, rec, &response)
		assert.Equal(t, "no_data", response.Status)
		assert.Empty(t, response.Time)
	})

	t.Run("unsupported resolution", func(t *testing.T) {
		f := newFixture(t)

		rec := httptest.NewRecorder()
		f.handler.FeedHistory(rec, httptest.NewRequest(http.MethodGet, "/feed/history?symbol=PERPS:ETH/USD&resolution=1", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing parameters", func(t *testing.T) {
		f := newFixture(t)

		rec := httptest.NewRecorder()
		f.handler.FeedHistory(rec, httptest.NewRequest(http.MethodGet, "/feed/history?symbol=PERPS:ETH/USD", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_FeedStats(t *testing.T) {
	now := time.Now()
	bars := []domain.Bar{
		{Time: now.Add(-30 * time.Hour).Unix(), Open: 9, High: 9, Low: 0.1, Close: 9},
		{Time: now.Add(-20 * time.Hour).Unix(), Open: 1, High: 1.2, Low: 0.9, Close: 1.1},
		{Time: now.Add(-time.Hour).Unix(), Open: 1.05, High: 1.3, Low: 1, Close: 1.2},
	}

	t.Run("index token against the snapshot price", func(t *testing.T) {
		f := newFixture(t)
		f.history.bars = bars
		snap := testSnapshot()
		snap.Metrics.IndexTokenPrice = fixedpoint.Of(fixedpoint.NewFromInt64(110, 2).Rescale(domain.USDDecimals))
		require.True(t, f.store.Publish(snap))

		rec := httptest.NewRecorder()
		f.handler.FeedStats(rec, httptest.NewRequest(http.MethodGet, "/feed/stats?symbol=PERPS:MLP/USD", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var response feed.Stats24h
		decode(t, rec, &response)
		require.NotNil(t, response.High)
		assert.Equal(t, 1.3, *response.High)
		assert.Equal(t, 0.9, *response.Low)
		assert.Equal(t, "+9.09%", response.DeltaPercent)
	})

	t.Run("reconciled asset price", func(t *testing.T) {
		f := newFixture(t)
		f.history.bars = bars
		require.True(t, f.store.Publish(testSnapshot()))

		rec := httptest.NewRecorder()
		f.handler.FeedStats(rec, httptest.NewRequest(http.MethodGet, "/feed/stats?symbol=PERPS:GOV/USD&resolution=240", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var response feed.Stats24h
		decode(t, rec, &response)
		assert.Equal(t, "+50.00%", response.DeltaPercent)
	})

	t.Run("no snapshot yet", func(t *testing.T) {
		f := newFixture(t)
		f.history.bars = bars

		rec := httptest.NewRecorder()
		f.handler.FeedStats(rec, httptest.NewRequest(http.MethodGet, "/feed/stats?symbol=PERPS:MLP/USD", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var response feed.Stats24h
		decode(t, rec, &response)
		assert.NotNil(t, response.High)
		assert.Nil(t, response.Delta)
	})

	t.Run("missing symbol", func(t *testing.T) {
		f := newFixture(t)

		rec := httptest.NewRecorder()
		f.handler.FeedStats(rec, httptest.NewRequest(http.MethodGet, "/feed/stats", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported resolution", func(t *testing.T) {
		f := newFixture(t)

		rec := httptest.NewRecorder()
		f.handler.FeedStats(rec, httptest.NewRequest(http.MethodGet, "/feed/stats?symbol=PERPS:MLP/USD&resolution=1", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_Middleware(t *testing.T) {
	f := newFixture(t)
	router := f.router()

	t.Run("rejects non-JSON bodies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader("chain_id=1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("answers preflight for allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/summary", nil)
		req.Header.Set("Origin", "https://dash.example")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("ignores other origins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://elsewhere.example")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("records requests", func(t *testing.T) {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "test_http_requests_total{")
		assert.Contains(t, body, `route="GET /health"`)
	})
}

func TestSnapshotBroadcaster(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	type frame struct {
		Type     string `json:"type"`
		ClientID string `json:"client_id"`
		Snapshot *struct {
			Version uint64 `json:"version"`
		} `json:"snapshot"`
	}

	read := func() frame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var fr frame
		require.NoError(t, json.Unmarshal(data, &fr))
		return fr
	}

	first := read()
	assert.Equal(t, "pending", first.Type)
	assert.NotEmpty(t, first.ClientID)

	require.True(t, f.store.Publish(testSnapshot()))

	next := read()
	assert.Equal(t, "snapshot", next.Type)
	assert.Equal(t, first.ClientID, next.ClientID)
	require.NotNil(t, next.Snapshot)
	assert.Equal(t, uint64(3), next.Snapshot.Version)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}
