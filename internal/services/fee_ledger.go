package services

import (
	"context"
	"log/slog"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// LedgerCache implements ports.FeeLedgerSource on top of the indexer. Every
// settled period it sees is persisted. With fallback enabled, the persisted
// periods stand in for the indexer while it is unreachable; the pending
// accrual and the spread are then unknown.
type LedgerCache struct {
	source   ports.FeeLedgerSource
	repo     ports.FeeRepository
	metrics  ports.MetricsService
	fallback bool
	logger   *slog.Logger
}

// NewLedgerCache creates a new fee ledger cache
func NewLedgerCache(
	source ports.FeeLedgerSource,
	repo ports.FeeRepository,
	metrics ports.MetricsService,
	fallback bool,
	logger *slog.Logger,
) *LedgerCache {
	return &LedgerCache{
		source:   source,
		repo:     repo,
		metrics:  metrics,
		fallback: fallback,
		logger:   logger.With("component", "ledger_cache"),
	}
}

// FeeLedger returns the indexer's ledger, or the persisted one on failure
func (l *LedgerCache) FeeLedger(ctx context.Context) (*domain.FeeLedger, error) {
	ledger, err := l.source.FeeLedger(ctx)
	if err == nil {
		if saveErr := l.repo.SaveSettled(ctx, ledger.Settled); saveErr != nil {
			l.logger.Warn("failed to persist settled fee periods", "error", saveErr)
		}
		return ledger, nil
	}

	if !l.fallback {
		return nil, err
	}

	settled, repoErr := l.repo.ListSettled(ctx)
	if repoErr != nil || len(settled) == 0 {
		l.logger.Debug("no persisted fee ledger to fall back to", "error", repoErr)
		return nil, err
	}

	l.logger.Warn("indexer unavailable, serving persisted fee ledger",
		"error", err,
		"periods", len(settled),
	)
	l.metrics.RecordFallback("ledger")

	return &domain.FeeLedger{
		Settled:        settled,
		SpreadCaptured: fixedpoint.Unknown(),
	}, nil
}

// Ensure LedgerCache implements ports.FeeLedgerSource
var _ ports.FeeLedgerSource = (*LedgerCache)(nil)
