package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// Cmdable is the subset of the go-redis client the store uses
type Cmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// LastKnownStore implements ports.LastKnownStore on Redis. Each entry
// expires after the configured TTL, so Redis itself forgets observations
// that are too old to stand in for a source.
type LastKnownStore struct {
	client Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type storedObservation struct {
	Raw        string    `json:"raw"`
	Decimals   int32     `json:"decimals"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewClient opens a Redis client and checks that it answers
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewLastKnownStore creates a new Redis-backed last known store
func NewLastKnownStore(client Cmdable, prefix string, ttl time.Duration, logger *slog.Logger) *LastKnownStore {
	return &LastKnownStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "last_known_redis"),
	}
}

// Put records an observation with the store's TTL
func (s *LastKnownStore) Put(ctx context.Context, obs domain.PriceObservation) error {
	data, err := json.Marshal(storedObservation{
		Raw:        obs.Value.Raw().String(),
		Decimals:   obs.Value.Decimals(),
		ObservedAt: obs.ObservedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}

	if err := s.client.Set(ctx, s.key(obs.Asset, obs.Source), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get returns the stored observation if it is younger than maxAge
func (s *LastKnownStore) Get(ctx context.Context, asset string, source domain.SourceID, maxAge time.Duration) (domain.PriceObservation, bool, error) {
	data, err := s.client.Get(ctx, s.key(asset, source)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PriceObservation{}, false, nil
	}
	if err != nil {
		return domain.PriceObservation{}, false, fmt.Errorf("redis get: %w", err)
	}

	var stored storedObservation
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warn("dropping undecodable observation", "asset", asset, "source", source, "error", err)
		return domain.PriceObservation{}, false, nil
	}

	if time.Since(stored.ObservedAt) > maxAge {
		return domain.PriceObservation{}, false, nil
	}

	value, err := fixedpoint.ParseRaw(stored.Raw, stored.Decimals)
	if err != nil {
		s.logger.Warn("dropping undecodable observation", "asset", asset, "source", source, "error", err)
		return domain.PriceObservation{}, false, nil
	}

	return domain.PriceObservation{
		Asset:      asset,
		Source:     source,
		Value:      value,
		ObservedAt: stored.ObservedAt,
	}, true, nil
}

func (s *LastKnownStore) key(asset string, source domain.SourceID) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, strings.ToUpper(asset), source)
}

// Ensure LastKnownStore implements ports.LastKnownStore
var _ ports.LastKnownStore = (*LastKnownStore)(nil)
