package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/services"
)

var ethUSD = domain.Ticker{Exchange: "Perps", Market: "ETH/USD", Base: "ETH", Quote: "USD"}

func barsAt(times ...int64) []domain.Bar {
	out := make([]domain.Bar, len(times))
	for i, ts := range times {
		out[i] = domain.Bar{Time: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5}
	}
	return out
}

func TestHistoryService_Series(t *testing.T) {
	ctx := context.Background()
	key := "PERPS:ETH/USD"

	t.Run("source result is cached", func(t *testing.T) {
		source := &mockBarSource{bars: barsAt(60, 120, 180)}
		repo := newMockBarRepository()
		svc := services.NewHistoryService(source, repo, 0, newTestLogger())

		bars, err := svc.Series(ctx, ethUSD, "60")
		require.NoError(t, err)
		assert.Len(t, bars, 3)
		assert.Equal(t, 1, repo.upserts)
		assert.Len(t, repo.stored[key+"|60"], 3)
	})

	t.Run("trimmed to the newest bars", func(t *testing.T) {
		source := &mockBarSource{bars: barsAt(60, 120, 180, 240)}
		svc := services.NewHistoryService(source, nil, 2, newTestLogger())

		bars, err := svc.Series(ctx, ethUSD, "60")
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, int64(180), bars[0].Time)
		assert.Equal(t, int64(240), bars[1].Time)
	})

	t.Run("unordered source falls back to cache", func(t *testing.T) {
		source := &mockBarSource{bars: barsAt(120, 60)}
		repo := newMockBarRepository()
		repo.stored[key+"|60"] = barsAt(60, 120)
		svc := services.NewHistoryService(source, repo, 0, newTestLogger())

		bars, err := svc.Series(ctx, ethUSD, "60")
		require.NoError(t, err)
		assert.Equal(t, barsAt(60, 120), bars)
		assert.Equal(t, 0, repo.upserts)
	})

	t.Run("unordered source without cache is refused", func(t *testing.T) {
		source := &mockBarSource{bars: barsAt(60, 60)}
		svc := services.NewHistoryService(source, nil, 0, newTestLogger())

		_, err := svc.Series(ctx, ethUSD, "60")
		assert.ErrorIs(t, err, domain.ErrInvalidSeries)
	})

	t.Run("source down serves cache", func(t *testing.T) {
		source := &mockBarSource{err: domain.ErrSourceUnavailable}
		repo := newMockBarRepository()
		repo.stored[key+"|1D"] = barsAt(86400)
		svc := services.NewHistoryService(source, repo, 0, newTestLogger())

		bars, err := svc.Series(ctx, ethUSD, "1D")
		require.NoError(t, err)
		assert.Len(t, bars, 1)
	})

	t.Run("cache failure", func(t *testing.T) {
		source := &mockBarSource{err: domain.ErrSourceUnavailable}
		repo := newMockBarRepository()
		repo.listErr = errors.New("connection reset")
		svc := services.NewHistoryService(source, repo, 0, newTestLogger())

		_, err := svc.Series(ctx, ethUSD, "60")
		assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	})

	t.Run("nothing configured is empty", func(t *testing.T) {
		svc := services.NewHistoryService(nil, nil, 0, newTestLogger())

		bars, err := svc.Series(ctx, ethUSD, "60")
		require.NoError(t, err)
		assert.Empty(t, bars)
	})
}

func TestHistoryService_Prune(t *testing.T) {
	ctx := context.Background()

	repo := newMockBarRepository()
	repo.pruned = 12
	svc := services.NewHistoryService(nil, repo, 0, newTestLogger())

	removed, err := svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), removed)

	removed, err = svc.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	repo.pruneErr = errors.New("boom")
	_, err = svc.Prune(ctx, time.Hour)
	assert.ErrorIs(t, err, domain.ErrInternal)
}
