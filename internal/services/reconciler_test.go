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
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

const (
	srcMainnet domain.SourceID = "mainnet"
	srcRollup  domain.SourceID = "rollup"
)

func obsAt(asset string, src domain.SourceID, price int64, at time.Time) domain.PriceObservation {
	return domain.PriceObservation{Asset: asset, Source: src, Value: usd(price), ObservedAt: at}
}

func newReconciler(cfg services.ReconcilerConfig, store *mockLastKnownStore, metrics *mockMetricsService) *services.PriceReconciler {
	if store == nil {
		return services.NewPriceReconciler(cfg, nil, metrics, newTestLogger())
	}
	return services.NewPriceReconciler(cfg, store, metrics, newTestLogger())
}

func TestPriceReconciler_Reconcile(t *testing.T) {
	now := time.Now()
	cfg := services.ReconcilerConfig{
		Sources: []domain.SourceID{srcMainnet, srcRollup},
		Primary: map[string]domain.SourceID{"GOV": srcRollup},
	}

	t.Run("no observations is unknown", func(t *testing.T) {
		r := newReconciler(cfg, nil, &mockMetricsService{})
		got := r.Reconcile(context.Background(), "GOV", nil)

		assert.Equal(t, fixedpoint.Loading, got.Canonical.State())
		assert.Equal(t, srcRollup, got.CanonicalSource)
		assert.Equal(t, fixedpoint.Loading, got.BySource[srcMainnet].State())
		assert.Equal(t, fixedpoint.Loading, got.BySource[srcRollup].State())
	})

	t.Run("primary wins without averaging", func(t *testing.T) {
		r := newReconciler(cfg, nil, &mockMetricsService{})
		got := r.Reconcile(context.Background(), "GOV", []domain.PriceObservation{
			obsAt("GOV", srcMainnet, 10, now),
			obsAt("GOV", srcRollup, 12, now),
		})

		canonical, ok := got.Canonical.Amount()
		require.True(t, ok)
		assert.True(t, canonical.Equal(usd(12)))

		mainnet, ok := got.BySource[srcMainnet].Amount()
		require.True(t, ok)
		assert.True(t, mainnet.Equal(usd(10)))
	})

	t.Run("missing primary stays unknown", func(t *testing.T) {
		r := newReconciler(cfg, nil, &mockMetricsService{})
		got := r.Reconcile(context.Background(), "GOV", []domain.PriceObservation{
			obsAt("GOV", srcMainnet, 10, now),
		})

		assert.False(t, got.Canonical.IsKnown())
		assert.True(t, got.BySource[srcMainnet].IsKnown())
	})

	t.Run("first configured source is the default primary", func(t *testing.T) {
		r := newReconciler(services.ReconcilerConfig{
			Sources: []domain.SourceID{srcMainnet},
		}, nil, &mockMetricsService{})
		got := r.Reconcile(context.Background(), "ETH", []domain.PriceObservation{
			obsAt("ETH", srcMainnet, 3000, now),
		})

		assert.Equal(t, srcMainnet, got.CanonicalSource)
		assert.True(t, got.Canonical.IsKnown())
	})

	t.Run("newest observation per source is used", func(t *testing.T) {
		r := newReconciler(cfg, nil, &mockMetricsService{})
		got := r.Reconcile(context.Background(), "GOV", []domain.PriceObservation{
			obsAt("GOV", srcRollup, 11, now.Add(-time.Minute)),
			obsAt("GOV", srcRollup, 13, now),
		})

		canonical, ok := got.Canonical.Amount()
		require.True(t, ok)
		assert.True(t, canonical.Equal(usd(13)))
	})

	t.Run("other assets are ignored", func(t *testing.T) {
		r := newReconciler(cfg, nil, &mockMetricsService{})
		got := r.Reconcile(context.Background(), "GOV", []domain.PriceObservation{
			obsAt("ETH", srcRollup, 3000, now),
		})
		assert.False(t, got.Canonical.IsKnown())
	})

	t.Run("unconfigured source is shown but never canonical", func(t *testing.T) {
		r := newReconciler(cfg, nil, &mockMetricsService{})
		got := r.Reconcile(context.Background(), "GOV", []domain.PriceObservation{
			obsAt("GOV", "cex", 9, now),
		})
		assert.True(t, got.BySource["cex"].IsKnown())
		assert.False(t, got.Canonical.IsKnown())
	})
}

func TestPriceReconciler_LastKnownFallback(t *testing.T) {
	cfg := services.ReconcilerConfig{
		Sources:      []domain.SourceID{srcMainnet, srcRollup},
		Primary:      map[string]domain.SourceID{"GOV": srcRollup},
		LastKnownTTL: time.Minute,
	}

	t.Run("recent value fills a failed slot", func(t *testing.T) {
		store := newMockLastKnownStore()
		metrics := &mockMetricsService{}
		r := newReconciler(cfg, store, metrics)

		first := r.Reconcile(context.Background(), "GOV", []domain.PriceObservation{
			obsAt("GOV", srcRollup, 12, time.Now()),
		})
		require.True(t, first.Canonical.IsKnown())
		assert.Equal(t, 1, store.puts)

		second := r.Reconcile(context.Background(), "GOV", nil)
		canonical, ok := second.Canonical.Amount()
		require.True(t, ok)
		assert.True(t, canonical.Equal(usd(12)))
		assert.Equal(t, []domain.SourceID{srcRollup}, second.UsedFallback)
		assert.Equal(t, []string{string(srcRollup)}, metrics.fallbacks)
	})

	t.Run("expired value is not used", func(t *testing.T) {
		store := newMockLastKnownStore()
		r := newReconciler(cfg, store, &mockMetricsService{})
		require.NoError(t, store.Put(context.Background(), obsAt("GOV", srcRollup, 12, time.Now().Add(-time.Hour))))

		got := r.Reconcile(context.Background(), "GOV", nil)
		assert.False(t, got.Canonical.IsKnown())
		assert.Empty(t, got.UsedFallback)
	})

	t.Run("disabled without a ttl", func(t *testing.T) {
		store := newMockLastKnownStore()
		noTTL := cfg
		noTTL.LastKnownTTL = 0
		r := newReconciler(noTTL, store, &mockMetricsService{})

		r.Reconcile(context.Background(), "GOV", []domain.PriceObservation{obsAt("GOV", srcRollup, 12, time.Now())})
		got := r.Reconcile(context.Background(), "GOV", nil)

		assert.Equal(t, 0, store.puts)
		assert.False(t, got.Canonical.IsKnown())
	})

	t.Run("store errors degrade to unknown", func(t *testing.T) {
		store := newMockLastKnownStore()
		store.err = errors.New("connection refused")
		r := newReconciler(cfg, store, &mockMetricsService{})

		got := r.Reconcile(context.Background(), "GOV", nil)
		assert.False(t, got.Canonical.IsKnown())
	})
}

func TestPriceReconciler_ReconcileAll(t *testing.T) {
	r := newReconciler(services.ReconcilerConfig{
		Sources: []domain.SourceID{srcMainnet},
	}, nil, &mockMetricsService{})

	got := r.ReconcileAll(context.Background(), []string{"GOV", "ETH", "GOV"}, []domain.PriceObservation{
		obsAt("ETH", srcMainnet, 3000, time.Now()),
	})

	require.Len(t, got, 2)
	assert.True(t, got["ETH"].Canonical.IsKnown())
	assert.False(t, got["GOV"].Canonical.IsKnown())
}
