package services_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// Mock implementations for testing

type mockMetricsService struct {
	mu              sync.Mutex
	successes       int
	errors          int
	sourceErrors    []string
	staleDiscards   []string
	sessionDiscards int
	fallbacks       []string
}

func (m *mockMetricsService) GetMetrics(ctx context.Context) (*domain.Metrics, error) {
	return &domain.Metrics{}, nil
}

func (m *mockMetricsService) RecordCycleSuccess(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *mockMetricsService) RecordCycleError(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *mockMetricsService) RecordSourceOK(source string) {}

func (m *mockMetricsService) RecordSourceError(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceErrors = append(m.sourceErrors, source)
}

func (m *mockMetricsService) RecordStaleDiscard(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleDiscards = append(m.staleDiscards, source)
}

func (m *mockMetricsService) RecordSessionDiscard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionDiscards++
}

func (m *mockMetricsService) RecordFallback(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks = append(m.fallbacks, source)
}

func (m *mockMetricsService) GetLastCycleTime() *time.Time { return nil }

type mockLastKnownStore struct {
	mu   sync.Mutex
	obs  map[string]domain.PriceObservation
	puts int
	err  error
}

func newMockLastKnownStore() *mockLastKnownStore {
	return &mockLastKnownStore{obs: make(map[string]domain.PriceObservation)}
}

func (m *mockLastKnownStore) Put(ctx context.Context, obs domain.PriceObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.obs[obs.Asset+"/"+string(obs.Source)] = obs
	return m.err
}

func (m *mockLastKnownStore) Get(ctx context.Context, asset string, source domain.SourceID, maxAge time.Duration) (domain.PriceObservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.PriceObservation{}, false, m.err
	}
	obs, ok := m.obs[asset+"/"+string(source)]
	if !ok || time.Since(obs.ObservedAt) > maxAge {
		return domain.PriceObservation{}, false, nil
	}
	return obs, true, nil
}

type mockPriceSource struct {
	id    domain.SourceID
	obs   []domain.PriceObservation
	err   error
	gate  chan struct{}
	calls int
	mu    sync.Mutex
}

func (m *mockPriceSource) ID() domain.SourceID { return m.id }

func (m *mockPriceSource) FetchPrices(ctx context.Context) ([]domain.PriceObservation, error) {
	m.mu.Lock()
	m.calls++
	gate := m.gate
	obs, err := m.obs, m.err
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return obs, err
}

func (m *mockPriceSource) set(obs []domain.PriceObservation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs, m.err = obs, err
}

type mockVaultReader struct {
	tokens  []domain.TokenState
	weights fixedpoint.Amount
	aums    []fixedpoint.Amount
	fees    []domain.TokenFee
	err     error
}

func (m *mockVaultReader) TokenStates(ctx context.Context, tokens []domain.TokenConfig) ([]domain.TokenState, error) {
	return m.tokens, m.err
}

func (m *mockVaultReader) TotalTokenWeights(ctx context.Context) (fixedpoint.Amount, error) {
	return m.weights, m.err
}

func (m *mockVaultReader) Aums(ctx context.Context) ([]fixedpoint.Amount, error) {
	return m.aums, m.err
}

func (m *mockVaultReader) Fees(ctx context.Context, tokens []domain.TokenConfig) ([]domain.TokenFee, error) {
	return m.fees, m.err
}

type mockTokenReader struct {
	supplies map[string]fixedpoint.Amount
	balances map[string]fixedpoint.Amount
	rate     fixedpoint.Amount
	err      error
}

func (m *mockTokenReader) TotalSupply(ctx context.Context, token string, decimals int32) (fixedpoint.Amount, error) {
	return m.supplies[token], m.err
}

func (m *mockTokenReader) BalanceOf(ctx context.Context, token, holder string, decimals int32) (fixedpoint.Amount, error) {
	return m.balances[token+"/"+holder], m.err
}

func (m *mockTokenReader) TokensPerInterval(ctx context.Context, distributor string, decimals int32) (fixedpoint.Amount, error) {
	return m.rate, m.err
}

type mockBarSource struct {
	bars  []domain.Bar
	err   error
	calls int
}

func (m *mockBarSource) Bars(ctx context.Context, ticker domain.Ticker, resolution string) ([]domain.Bar, error) {
	m.calls++
	return m.bars, m.err
}

type mockBarRepository struct {
	stored   map[string][]domain.Bar
	listErr  error
	upserts  int
	pingErr  error
	pruned   int64
	pruneErr error
}

func newMockBarRepository() *mockBarRepository {
	return &mockBarRepository{stored: make(map[string][]domain.Bar)}
}

func (m *mockBarRepository) Upsert(ctx context.Context, ticker, resolution string, bars []domain.Bar) error {
	m.upserts++
	m.stored[ticker+"|"+resolution] = bars
	return nil
}

func (m *mockBarRepository) List(ctx context.Context, ticker, resolution string, limit int) ([]domain.Bar, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.stored[ticker+"|"+resolution], nil
}

func (m *mockBarRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return m.pruned, m.pruneErr
}

func (m *mockBarRepository) Ping(ctx context.Context) error {
	return m.pingErr
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func usd(v int64) fixedpoint.Amount {
	return fixedpoint.Expand(v, domain.USDDecimals)
}

func tokens18(v int64) fixedpoint.Amount {
	return fixedpoint.Expand(v, 18)
}
