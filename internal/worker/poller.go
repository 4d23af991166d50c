package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
)

const pruneInterval = time.Hour

// Pruner removes history older than the retention window
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Option configures a Poller
type Option func(*Poller)

// WithPruner runs pruner every hour with the given retention
func WithPruner(pruner Pruner, retention time.Duration) Option {
	return func(p *Poller) {
		p.pruner = pruner
		p.retention = retention
	}
}

// Poller runs refresh cycles at a fixed interval and on demand
type Poller struct {
	service   ports.RefreshService
	interval  time.Duration
	pruner    Pruner
	retention time.Duration
	logger    *slog.Logger

	triggerCh chan string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller creates a new refresh poller
func NewPoller(service ports.RefreshService, interval time.Duration, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		service:   service,
		interval:  interval,
		logger:    logger.With("component", "poller"),
		triggerCh: make(chan string, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs refresh cycles until ctx is cancelled or Stop is called
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	p.logger.Info("starting poller", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var pruneC <-chan time.Time
	if p.pruner != nil {
		pruneTicker := time.NewTicker(pruneInterval)
		defer pruneTicker.Stop()
		pruneC = pruneTicker.C
		p.prune(ctx)
	}

	// Initial cycle
	p.refresh(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller context cancelled")
			p.finish()
			return ctx.Err()

		case <-p.stopCh:
			p.logger.Info("poller stopped")
			p.finish()
			return nil

		case reason := <-p.triggerCh:
			p.refresh(ctx, reason)
			ticker.Reset(p.interval)

		case <-ticker.C:
			p.refresh(ctx, "interval")

		case <-pruneC:
			p.prune(ctx)
		}
	}
}

// Trigger queues an immediate cycle. At most one request is queued; further
// requests before it runs are folded into it.
func (p *Poller) Trigger(reason string) bool {
	select {
	case p.triggerCh <- reason:
		return true
	default:
		p.logger.Debug("refresh already queued", "reason", reason)
		return false
	}
}

func (p *Poller) refresh(ctx context.Context, reason string) {
	// Create a context with timeout for this cycle
	timeout := p.interval / 2
	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}

	cycleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.service.Refresh(cycleCtx); err != nil {
		p.logger.Error("refresh failed", "reason", reason, "error", err)
	}
}

func (p *Poller) prune(ctx context.Context) {
	removed, err := p.pruner.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Warn("history prune failed", "error", err)
		return
	}
	if removed > 0 {
		p.logger.Info("pruned history", "bars", removed, "retention", p.retention.String())
	}
}

func (p *Poller) finish() {
	close(p.doneCh)
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// Stop gracefully stops the poller
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.logger.Info("stopping poller")
	close(p.stopCh)

	// Wait for poller to finish with timeout
	select {
	case <-p.doneCh:
		return nil
	case <-time.After(10 * time.Second):
		return context.DeadlineExceeded
	}
}

// IsRunning returns whether the poller is currently running
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Ensure Poller implements RefreshTrigger
var _ ports.RefreshTrigger = (*Poller)(nil)
