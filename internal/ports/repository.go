package ports

import (
	"context"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
)

// BarRepository defines the contract for chart bar persistence
type BarRepository interface {
	// Upsert stores bars, replacing existing ones with the same time
	Upsert(ctx context.Context, ticker, resolution string, bars []domain.Bar) error

	// List returns the stored series, oldest first
	List(ctx context.Context, ticker, resolution string, limit int) ([]domain.Bar, error)

	// Prune removes bars older than the given time
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Ping checks the database connection
	Ping(ctx context.Context) error
}

// FeeRepository defines the contract for the fee ledger cache
type FeeRepository interface {
	// SaveSettled stores settled fee periods, keyed by their end time
	SaveSettled(ctx context.Context, periods []domain.FeePeriod) error

	// ListSettled returns every stored period, newest first
	ListSettled(ctx context.Context) ([]domain.FeePeriod, error)
}

// LastKnownStore keeps the last observation per asset and source for the
// time-bounded fallback
type LastKnownStore interface {
	// Put records an observation
	Put(ctx context.Context, obs domain.PriceObservation) error

	// Get returns the stored observation if it is younger than maxAge
	Get(ctx context.Context, asset string, source domain.SourceID, maxAge time.Duration) (domain.PriceObservation, bool, error)
}
