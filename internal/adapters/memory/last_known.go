package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
)

// LastKnownStore implements ports.LastKnownStore in process memory. It keeps
// only the newest observation per asset and source.
type LastKnownStore struct {
	mu  sync.RWMutex
	obs map[string]domain.PriceObservation
}

// NewLastKnownStore creates an empty in-memory store
func NewLastKnownStore() *LastKnownStore {
	return &LastKnownStore{obs: make(map[string]domain.PriceObservation)}
}

// Put records an observation unless a newer one is already stored
func (s *LastKnownStore) Put(ctx context.Context, obs domain.PriceObservation) error {
	k := key(obs.Asset, obs.Source)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.obs[k]; ok && prev.ObservedAt.After(obs.ObservedAt) {
		return nil
	}
	s.obs[k] = obs
	return nil
}

// Get returns the stored observation if it is younger than maxAge
func (s *LastKnownStore) Get(ctx context.Context, asset string, source domain.SourceID, maxAge time.Duration) (domain.PriceObservation, bool, error) {
	s.mu.RLock()
	obs, ok := s.obs[key(asset, source)]
	s.mu.RUnlock()

	if !ok || time.Since(obs.ObservedAt) > maxAge {
		return domain.PriceObservation{}, false, nil
	}
	return obs, true, nil
}

func key(asset string, source domain.SourceID) string {
	return strings.ToUpper(asset) + "|" + string(source)
}

// Ensure LastKnownStore implements ports.LastKnownStore
var _ ports.LastKnownStore = (*LastKnownStore)(nil)
