package services

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
)

// SequenceGate tags requests per logical source and rejects responses that
// arrive after a newer one for the same source was applied
type SequenceGate struct {
	mu      sync.Mutex
	issued  map[string]uint64
	applied map[string]uint64
}

// NewSequenceGate creates an empty gate
func NewSequenceGate() *SequenceGate {
	return &SequenceGate{
		issued:  make(map[string]uint64),
		applied: make(map[string]uint64),
	}
}

// Next issues the next sequence number for a source
func (g *SequenceGate) Next(source string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued[source]++
	return g.issued[source]
}

// Accept marks seq as applied if it is newer than the last applied response
// for the source. It returns false for a stale response.
func (g *SequenceGate) Accept(source string, seq uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq <= g.applied[source] {
		return false
	}
	g.applied[source] = seq
	return true
}

// Session tracks the chain and account that own the running refreshes.
// Switching bumps the epoch, and results tagged with an older epoch are
// dropped on arrival.
type Session struct {
	epoch  atomic.Uint64
	logger *slog.Logger

	mu      sync.RWMutex
	chainID int64
	account string
}

// NewSession creates a session for the initial chain
func NewSession(chainID int64, logger *slog.Logger) *Session {
	s := &Session{
		chainID: chainID,
		logger:  logger.With("component", "session"),
	}
	s.epoch.Store(1)
	return s
}

// SwitchSession invalidates every in-flight refresh and returns the new epoch
func (s *Session) SwitchSession(chainID int64, account string) uint64 {
	s.mu.Lock()
	s.chainID = chainID
	s.account = account
	epoch := s.epoch.Add(1)
	s.mu.Unlock()

	s.logger.Info("session switched", "chain_id", chainID, "account", account, "epoch", epoch)
	return epoch
}

// Epoch returns the current session epoch
func (s *Session) Epoch() uint64 {
	return s.epoch.Load()
}

// Valid reports whether epoch is still the current one
func (s *Session) Valid(epoch uint64) bool {
	return s.epoch.Load() == epoch
}

// Owner returns the current chain and account
func (s *Session) Owner() (int64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID, s.account
}

// Ensure Session implements ports.SessionService
var _ ports.SessionService = (*Session)(nil)
