package services

import (
	"sync"
	"sync/atomic"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
)

// SnapshotStore holds the latest published snapshot. Publishing swaps the
// whole snapshot at once, so readers never see a half-updated one. Reads
// are lock-free; publishes and fan-out are serialized by mu.
type SnapshotStore struct {
	current atomic.Pointer[domain.Snapshot]

	mu     sync.Mutex
	nextID int
	subs   map[int]chan *domain.Snapshot
}

// NewSnapshotStore creates an empty store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		subs: make(map[int]chan *domain.Snapshot),
	}
}

// Publish installs snap unless a snapshot with the same or a newer version
// is already installed. Subscribers receive every installed snapshot, in
// version order.
func (s *SnapshotStore) Publish(snap *domain.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current.Load(); cur != nil && snap.Version <= cur.Version {
		return false
	}
	s.current.Store(snap)

	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// slow subscriber: replace the pending snapshot with this one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return true
}

// Current returns the latest snapshot
func (s *SnapshotStore) Current() (*domain.Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, domain.ErrSnapshotNotReady
	}
	return snap, nil
}

// Subscribe registers a subscriber. The channel holds at most one pending
// snapshot; a slow reader only ever sees the newest.
func (s *SnapshotStore) Subscribe() (<-chan *domain.Snapshot, func()) {
	ch := make(chan *domain.Snapshot, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers
func (s *SnapshotStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Ensure SnapshotStore implements ports.SnapshotReader
var _ ports.SnapshotReader = (*SnapshotStore)(nil)
