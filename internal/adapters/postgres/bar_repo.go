package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
)

// BarRepository implements ports.BarRepository
type BarRepository struct {
	db *DB
}

// NewBarRepository creates a new bar repository
func NewBarRepository(db *DB) *BarRepository {
	return &BarRepository{db: db}
}

// Upsert stores bars in one batch. A bar with the same ticker, resolution
// and time replaces the stored one.
func (r *BarRepository) Upsert(ctx context.Context, ticker, resolution string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	query := `
		INSERT INTO bars (ticker, resolution, time, open, high, low, close, volume, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (ticker, resolution, time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query, ticker, resolution, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range bars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: upsert bar: %v", domain.ErrDatabaseQuery, err)
		}
	}

	return nil
}

// List returns the newest limit bars of a series, oldest first
func (r *BarRepository) List(ctx context.Context, ticker, resolution string, limit int) ([]domain.Bar, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT time, open, high, low, close, volume FROM (
			SELECT time, open, high, low, close, volume
			FROM bars
			WHERE ticker = $1 AND resolution = $2
			ORDER BY time DESC
			LIMIT $3
		) newest
		ORDER BY time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, ticker, resolution, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list bars: %v", domain.ErrDatabaseQuery, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// Prune removes bars that opened before the given time
func (r *BarRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM bars WHERE time < $1`

	result, err := r.db.Pool.Exec(ctx, query, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: prune bars: %v", domain.ErrDatabaseQuery, err)
	}

	return result.RowsAffected(), nil
}

// Ping checks the database connection
func (r *BarRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Ensure BarRepository implements ports.BarRepository
var _ ports.BarRepository = (*BarRepository)(nil)
