package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/metrics"
)

// MetricsService implements the ports.MetricsService interface
type MetricsService struct {
	bars      ports.BarRepository
	stats     ports.StatsClient
	snapshots *SnapshotStore
	session   ports.SessionService
	recorder  *metrics.Recorder
	startTime time.Time
	logger    *slog.Logger

	mu                  sync.RWMutex
	lastCycleTime       *time.Time
	lastCycleDuration   time.Duration
	cycleSuccessCount   int64
	cycleErrorCount     int64
	staleDiscardCount   int64
	sessionDiscardCount int64
	fallbackCount       int64
	sourceFailures      map[string]int64
}

// NewMetricsService creates a new metrics service. bars and stats may be nil
// when the corresponding backend is not configured.
func NewMetricsService(
	bars ports.BarRepository,
	stats ports.StatsClient,
	snapshots *SnapshotStore,
	session ports.SessionService,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *MetricsService {
	return &MetricsService{
		bars:           bars,
		stats:          stats,
		snapshots:      snapshots,
		session:        session,
		recorder:       recorder,
		startTime:      time.Now(),
		logger:         logger.With("component", "metrics_service"),
		sourceFailures: make(map[string]int64),
	}
}

// GetMetrics returns current operational metrics
func (m *MetricsService) GetMetrics(ctx context.Context) (*domain.Metrics, error) {
	m.mu.RLock()
	out := &domain.Metrics{
		Uptime:              time.Since(m.startTime).Seconds(),
		LastCycleTime:       m.lastCycleTime,
		LastCycleDuration:   float64(m.lastCycleDuration.Milliseconds()),
		CycleSuccessCount:   m.cycleSuccessCount,
		CycleErrorCount:     m.cycleErrorCount,
		StaleDiscardCount:   m.staleDiscardCount,
		SessionDiscardCount: m.sessionDiscardCount,
		FallbackCount:       m.fallbackCount,
		Sources:             make(map[string]string, len(m.sourceFailures)),
	}
	for source, failures := range m.sourceFailures {
		if failures > 0 {
			out.Sources[source] = "failing"
		} else {
			out.Sources[source] = "healthy"
		}
	}
	m.mu.RUnlock()

	if snap, err := m.snapshots.Current(); err == nil {
		out.SnapshotVersion = snap.Version
	}
	out.SessionEpoch = m.session.Epoch()
	out.StreamClients = m.snapshots.Subscribers()

	out.DatabaseStatus = "disabled"
	if m.bars != nil {
		out.DatabaseStatus = "healthy"
		if err := m.bars.Ping(ctx); err != nil {
			m.logger.Error("database ping failed", "error", err)
			out.DatabaseStatus = "unhealthy"
		}
	}

	return out, nil
}

// RecordCycleSuccess records a completed refresh cycle
func (m *MetricsService) RecordCycleSuccess(duration time.Duration) {
	m.mu.Lock()
	now := time.Now()
	m.lastCycleTime = &now
	m.lastCycleDuration = duration
	m.cycleSuccessCount++
	m.mu.Unlock()

	m.recorder.RecordCycle("success", duration.Seconds())
	if snap, err := m.snapshots.Current(); err == nil {
		m.recorder.SetSnapshotVersion(snap.Version)
	}
}

// RecordCycleError records a failed refresh cycle
func (m *MetricsService) RecordCycleError(duration time.Duration) {
	m.mu.Lock()
	now := time.Now()
	m.lastCycleTime = &now
	m.lastCycleDuration = duration
	m.cycleErrorCount++
	m.mu.Unlock()

	m.recorder.RecordCycle("error", duration.Seconds())
}

// RecordSourceOK clears the failure streak of a source
func (m *MetricsService) RecordSourceOK(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceFailures[source] = 0
}

// RecordSourceError records a source that failed to deliver
func (m *MetricsService) RecordSourceError(source string) {
	m.mu.Lock()
	m.sourceFailures[source]++
	m.mu.Unlock()

	m.recorder.RecordSourceError(source)
}

// RecordStaleDiscard records a response dropped for being out of order
func (m *MetricsService) RecordStaleDiscard(source string) {
	m.mu.Lock()
	m.staleDiscardCount++
	m.mu.Unlock()

	m.recorder.RecordStaleDiscard(source)
}

// RecordSessionDiscard records a cycle dropped after a session switch
func (m *MetricsService) RecordSessionDiscard() {
	m.mu.Lock()
	m.sessionDiscardCount++
	m.mu.Unlock()

	m.recorder.RecordSessionDiscard()
}

// RecordFallback records a last-known value standing in for a source
func (m *MetricsService) RecordFallback(source string) {
	m.mu.Lock()
	m.fallbackCount++
	m.mu.Unlock()

	m.recorder.RecordFallback(source)
}

// GetLastCycleTime returns the time of the last cycle
func (m *MetricsService) GetLastCycleTime() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCycleTime
}

// CheckHealth reports the state of the snapshot and its backends
func (m *MetricsService) CheckHealth(ctx context.Context) (*ports.HealthStatus, error) {
	status := &ports.HealthStatus{
		Status:   "healthy",
		Database: "disabled",
		Stats:    "disabled",
		Snapshot: "ready",
	}

	if m.bars != nil {
		status.Database = "healthy"
		if err := m.bars.Ping(ctx); err != nil {
			status.Database = "unhealthy"
			status.Status = "degraded"
		}
	}

	if m.stats != nil {
		status.Stats = "healthy"
		if err := m.stats.Ping(ctx); err != nil {
			status.Stats = "unhealthy"
			status.Status = "degraded"
		}
	}

	if _, err := m.snapshots.Current(); err != nil {
		status.Snapshot = "pending"
		status.Status = "degraded"
	}

	return status, nil
}

// Ensure MetricsService implements ports.MetricsService
var _ ports.MetricsService = (*MetricsService)(nil)

// Ensure MetricsService implements ports.HealthService
var _ ports.HealthService = (*MetricsService)(nil)
