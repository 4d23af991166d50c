package redis_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/redis"
	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func newStore(client redis.Cmdable) *redis.LastKnownStore {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return redis.NewLastKnownStore(client, "perps:last_known", 5*time.Minute, logger)
}

func TestLastKnownStore_RoundTrip(t *testing.T) {
	client := newFakeRedis()
	store := newStore(client)
	ctx := context.Background()

	obs := domain.NewPriceObservation("gov", "pool", fixedpoint.Expand(42, domain.USDDecimals))
	require.NoError(t, store.Put(ctx, obs))

	assert.Equal(t, 5*time.Minute, client.ttls["perps:last_known:GOV:pool"])

	got, ok, err := store.Get(ctx, "GOV", "pool", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Value.Equal(obs.Value))
	assert.Equal(t, domain.USDDecimals, got.Value.Decimals())
	assert.Equal(t, domain.SourceID("pool"), got.Source)
}

func TestLastKnownStore_Miss(t *testing.T) {
	store := newStore(newFakeRedis())

	_, ok, err := store.Get(context.Background(), "GOV", "pool", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastKnownStore_TooOld(t *testing.T) {
	store := newStore(newFakeRedis())
	ctx := context.Background()

	obs := domain.NewPriceObservation("GOV", "pool", fixedpoint.Expand(1, domain.USDDecimals))
	obs.ObservedAt = time.Now().Add(-2 * time.Minute)
	require.NoError(t, store.Put(ctx, obs))

	_, ok, err := store.Get(ctx, "GOV", "pool", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastKnownStore_Corrupt(t *testing.T) {
	client := newFakeRedis()
	client.data["perps:last_known:GOV:pool"] = "{not json"
	store := newStore(client)

	_, ok, err := store.Get(context.Background(), "GOV", "pool", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastKnownStore_Errors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	store := newStore(client)
	ctx := context.Background()

	err := store.Put(ctx, domain.NewPriceObservation("GOV", "pool", fixedpoint.Expand(1, 30)))
	assert.Error(t, err)

	_, _, err = store.Get(ctx, "GOV", "pool", time.Minute)
	assert.Error(t, err)
}
