package ports

import (
	"context"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
)

// RefreshService defines the contract for one refresh cycle
type RefreshService interface {
	// Refresh fetches every raw input, recomputes and publishes a snapshot
	Refresh(ctx context.Context) error
}

// SnapshotReader gives read access to the latest published snapshot
type SnapshotReader interface {
	// Current returns the latest snapshot or ErrSnapshotNotReady
	Current() (*domain.Snapshot, error)

	// Subscribe returns a channel receiving every new snapshot and a
	// function that cancels the subscription
	Subscribe() (<-chan *domain.Snapshot, func())
}

// SessionService tracks the owning chain/account context
type SessionService interface {
	// SwitchSession invalidates every in-flight refresh
	SwitchSession(chainID int64, account string) uint64

	// Epoch returns the current session epoch
	Epoch() uint64
}

// HistoryService serves chart series
type HistoryService interface {
	// Series returns a validated series, oldest first
	Series(ctx context.Context, ticker domain.Ticker, resolution string) ([]domain.Bar, error)
}

// MetricsService defines the contract for operational metrics
type MetricsService interface {
	// GetMetrics returns current operational metrics
	GetMetrics(ctx context.Context) (*domain.Metrics, error)

	// RecordCycleSuccess records a completed refresh cycle
	RecordCycleSuccess(duration time.Duration)

	// RecordCycleError records a failed refresh cycle
	RecordCycleError(duration time.Duration)

	// RecordSourceOK records a source that delivered
	RecordSourceOK(source string)

	// RecordSourceError records a source that failed to deliver
	RecordSourceError(source string)

	// RecordStaleDiscard records a response dropped for being out of order
	RecordStaleDiscard(source string)

	// RecordSessionDiscard records a cycle dropped after a session switch
	RecordSessionDiscard()

	// RecordFallback records a last-known value standing in for a source
	RecordFallback(source string)

	// GetLastCycleTime returns the time of the last cycle
	GetLastCycleTime() *time.Time
}

// HealthService defines the contract for health checks
type HealthService interface {
	// CheckHealth performs health checks on all dependencies
	CheckHealth(ctx context.Context) (*HealthStatus, error)
}

// HealthStatus represents the health of the service
type HealthStatus struct {
	Status   string            `json:"status"`
	Database string            `json:"database"`
	Stats    string            `json:"stats"`
	Snapshot string            `json:"snapshot"`
	Details  map[string]string `json:"details,omitempty"`
}

// RefreshTrigger requests an out-of-schedule refresh cycle
type RefreshTrigger interface {
	// Trigger queues a refresh and reports whether it was accepted
	Trigger(reason string) bool
}
