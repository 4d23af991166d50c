package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/postgres"
	"github.com/prxgr4mmer/perps-metrics-service/internal/config"
	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// openTestDB connects to PERPS_TEST_DATABASE_URL and migrates it from
// scratch. Tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *postgres.DB {
	t.Helper()

	url := os.Getenv("PERPS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PERPS_TEST_DATABASE_URL not set")
	}

	cfg := config.DatabaseConfig{
		URL:            url,
		MaxOpenConns:   4,
		MaxIdleConns:   1,
		MigrationsPath: "file://../../../migrations",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, postgres.MigrateDown(cfg, logger))
	require.NoError(t, postgres.Migrate(cfg, logger))

	db, err := postgres.NewDB(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestBarRepository(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewBarRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "PERPS:ETH/USD", "60", []domain.Bar{
		{Time: 3600, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Time: 7200, Open: 1.5, High: 3, Low: 1, Close: 2.5},
		{Time: 10800, Open: 2.5, High: 2.5, Low: 2, Close: 2},
	}))

	t.Run("newest bars oldest first", func(t *testing.T) {
		bars, err := repo.List(ctx, "PERPS:ETH/USD", "60", 2)
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, int64(7200), bars[0].Time)
		assert.Equal(t, int64(10800), bars[1].Time)
	})

	t.Run("upsert replaces same time", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, "PERPS:ETH/USD", "60", []domain.Bar{
			{Time: 10800, Open: 2.5, High: 4, Low: 2, Close: 3.5},
		}))

		bars, err := repo.List(ctx, "PERPS:ETH/USD", "60", 10)
		require.NoError(t, err)
		require.Len(t, bars, 3)
		assert.Equal(t, 3.5, bars[2].Close)
		assert.NoError(t, domain.ValidateBars(bars))
	})

	t.Run("series are keyed by resolution", func(t *testing.T) {
		bars, err := repo.List(ctx, "PERPS:ETH/USD", "240", 10)
		require.NoError(t, err)
		assert.Empty(t, bars)
	})

	t.Run("prune", func(t *testing.T) {
		removed, err := repo.Prune(ctx, time.Unix(7200, 0))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	assert.NoError(t, repo.Ping(ctx))
}

func TestFeeRepository(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewFeeRepository(db)
	ctx := context.Background()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	usd := func(v int64) fixedpoint.Amount { return fixedpoint.Expand(v, domain.USDDecimals) }

	periods := []domain.FeePeriod{
		{From: day, To: day.Add(24 * time.Hour), Mint: usd(10), Burn: usd(5), MarginAndLiquidation: usd(100), Swap: usd(1)},
		{From: day.Add(24 * time.Hour), To: day.Add(48 * time.Hour), Mint: usd(20), Swap: usd(2)},
	}
	require.NoError(t, repo.SaveSettled(ctx, periods))

	// settled rows are final
	changed := periods[0]
	changed.Mint = usd(999)
	require.NoError(t, repo.SaveSettled(ctx, []domain.FeePeriod{changed}))

	got, err := repo.ListSettled(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].To.Equal(day.Add(48*time.Hour)))
	assert.Equal(t, "22.00", got[0].Total().Format(2, false))
	assert.Equal(t, "116.00", got[1].Total().Format(2, false))
}
