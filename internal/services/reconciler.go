package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// ReconcilerConfig describes which sources price which asset
type ReconcilerConfig struct {
	// Sources is the default ordered source list for every asset
	Sources []domain.SourceID
	// AssetSources overrides Sources per asset
	AssetSources map[string][]domain.SourceID
	// Primary names the canonical source per asset. Without an entry the
	// first configured source is canonical.
	Primary map[string]domain.SourceID
	// LastKnownTTL bounds the "use last known" fallback; zero disables it
	LastKnownTTL time.Duration
}

// PriceReconciler merges observations from independent sources into one
// canonical price per asset
type PriceReconciler struct {
	cfg     ReconcilerConfig
	store   ports.LastKnownStore
	metrics ports.MetricsService
	logger  *slog.Logger
}

// NewPriceReconciler creates a new price reconciler. store may be nil when
// the fallback is disabled.
func NewPriceReconciler(
	cfg ReconcilerConfig,
	store ports.LastKnownStore,
	metrics ports.MetricsService,
	logger *slog.Logger,
) *PriceReconciler {
	return &PriceReconciler{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		logger:  logger.With("component", "price_reconciler"),
	}
}

// Reconcile selects the canonical price of one asset. The primary source's
// value is canonical; other sources are kept for display and never averaged
// in. A configured source with no observation this cycle has an unknown slot.
func (r *PriceReconciler) Reconcile(ctx context.Context, asset string, observations []domain.PriceObservation) domain.ReconciledPrice {
	sources := r.sourcesFor(asset)
	primary := r.primaryFor(asset, sources)

	latest := make(map[domain.SourceID]domain.PriceObservation)
	for _, obs := range observations {
		if obs.Asset != asset {
			continue
		}
		if prev, ok := latest[obs.Source]; !ok || obs.ObservedAt.After(prev.ObservedAt) {
			latest[obs.Source] = obs
		}
	}

	result := domain.ReconciledPrice{
		Asset:           asset,
		CanonicalSource: primary,
		BySource:        make(map[domain.SourceID]fixedpoint.Value, len(sources)),
	}

	for _, src := range sources {
		if obs, ok := latest[src]; ok {
			result.BySource[src] = fixedpoint.Of(obs.Value)
			r.remember(ctx, obs)
			continue
		}

		if obs, ok := r.lastKnown(ctx, asset, src); ok {
			result.BySource[src] = fixedpoint.Of(obs.Value)
			result.UsedFallback = append(result.UsedFallback, src)
			r.metrics.RecordFallback(string(src))
			r.logger.Info("using last known price",
				"asset", asset,
				"source", src,
				"observed_at", obs.ObservedAt,
			)
			continue
		}

		result.BySource[src] = fixedpoint.Unknown()
	}

	// unconfigured sources are shown but never canonical
	for src, obs := range latest {
		if _, ok := result.BySource[src]; !ok {
			result.BySource[src] = fixedpoint.Of(obs.Value)
		}
	}

	if v, ok := result.BySource[primary]; ok {
		result.Canonical = v
	}

	return result
}

// ReconcileAll reconciles every listed asset, sorted by asset name
func (r *PriceReconciler) ReconcileAll(ctx context.Context, assets []string, observations []domain.PriceObservation) map[string]domain.ReconciledPrice {
	sorted := append([]string(nil), assets...)
	sort.Strings(sorted)

	out := make(map[string]domain.ReconciledPrice, len(sorted))
	for _, asset := range sorted {
		if _, done := out[asset]; done {
			continue
		}
		out[asset] = r.Reconcile(ctx, asset, observations)
	}
	return out
}

func (r *PriceReconciler) sourcesFor(asset string) []domain.SourceID {
	if sources, ok := r.cfg.AssetSources[asset]; ok && len(sources) > 0 {
		return sources
	}
	return r.cfg.Sources
}

func (r *PriceReconciler) primaryFor(asset string, sources []domain.SourceID) domain.SourceID {
	if primary, ok := r.cfg.Primary[asset]; ok {
		return primary
	}
	if len(sources) > 0 {
		return sources[0]
	}
	return ""
}

func (r *PriceReconciler) fallbackEnabled() bool {
	return r.store != nil && r.cfg.LastKnownTTL > 0
}

func (r *PriceReconciler) remember(ctx context.Context, obs domain.PriceObservation) {
	if !r.fallbackEnabled() {
		return
	}
	if err := r.store.Put(ctx, obs); err != nil {
		r.logger.Warn("failed to store last known price",
			"asset", obs.Asset,
			"source", obs.Source,
			"error", err,
		)
	}
}

func (r *PriceReconciler) lastKnown(ctx context.Context, asset string, src domain.SourceID) (domain.PriceObservation, bool) {
	if !r.fallbackEnabled() {
		return domain.PriceObservation{}, false
	}
	obs, ok, err := r.store.Get(ctx, asset, src, r.cfg.LastKnownTTL)
	if err != nil {
		r.logger.Warn("failed to read last known price",
			"asset", asset,
			"source", src,
			"error", err,
		)
		return domain.PriceObservation{}, false
	}
	return obs, ok
}
