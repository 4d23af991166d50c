package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
)

const (
	defaultSeriesLimit = 1000
	maxSeriesLimit     = 5000
)

// HistoryService implements the ports.HistoryService interface. Series come
// from the indexer and are cached in the bar repository, which also serves
// them while the indexer is unreachable.
type HistoryService struct {
	source ports.BarSource
	repo   ports.BarRepository
	limit  int
	logger *slog.Logger
}

// NewHistoryService creates a new history service. Either source or repo may
// be nil.
func NewHistoryService(
	source ports.BarSource,
	repo ports.BarRepository,
	limit int,
	logger *slog.Logger,
) *HistoryService {
	if limit <= 0 {
		limit = defaultSeriesLimit
	}
	if limit > maxSeriesLimit {
		limit = maxSeriesLimit
	}
	return &HistoryService{
		source: source,
		repo:   repo,
		limit:  limit,
		logger: logger.With("component", "history_service"),
	}
}

// Series returns the chart series for a ticker, oldest first. The result is
// always strictly increasing by time; a source that breaks this is refused.
func (h *HistoryService) Series(ctx context.Context, ticker domain.Ticker, resolution string) ([]domain.Bar, error) {
	key := strings.ToUpper(ticker.String())

	if h.source != nil {
		bars, err := h.source.Bars(ctx, ticker, resolution)
		if err == nil {
			err = domain.ValidateBars(bars)
		}
		if err == nil {
			bars = h.trim(bars)
			h.cache(ctx, key, resolution, bars)
			return bars, nil
		}
		h.logger.Warn("bar source failed, falling back to cache",
			"ticker", key,
			"resolution", resolution,
			"error", err,
		)
		if h.repo == nil {
			return nil, err
		}
	}

	if h.repo == nil {
		return []domain.Bar{}, nil
	}

	bars, err := h.repo.List(ctx, key, resolution, h.limit)
	if err != nil {
		h.logger.Error("failed to list cached bars", "ticker", key, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	if err := domain.ValidateBars(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// Prune removes cached bars older than the retention window
func (h *HistoryService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if h.repo == nil || retention <= 0 {
		return 0, nil
	}
	removed, err := h.repo.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		h.logger.Error("failed to prune bars", "error", err)
		return 0, domain.ErrInternal
	}
	if removed > 0 {
		h.logger.Info("pruned cached bars", "removed", removed)
	}
	return removed, nil
}

func (h *HistoryService) trim(bars []domain.Bar) []domain.Bar {
	if len(bars) > h.limit {
		return bars[len(bars)-h.limit:]
	}
	return bars
}

func (h *HistoryService) cache(ctx context.Context, key, resolution string, bars []domain.Bar) {
	if h.repo == nil || len(bars) == 0 {
		return
	}
	if err := h.repo.Upsert(ctx, key, resolution, bars); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("failed to cache bars", "ticker", key, "error", err)
	}
}

// Ensure HistoryService implements ports.HistoryService
var _ ports.HistoryService = (*HistoryService)(nil)
