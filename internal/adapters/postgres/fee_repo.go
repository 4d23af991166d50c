package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// FeeRepository implements ports.FeeRepository. Amounts are stored as raw
// integers at domain.USDDecimals.
type FeeRepository struct {
	db *DB
}

// NewFeeRepository creates a new fee ledger repository
func NewFeeRepository(db *DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// SaveSettled stores settled periods in a single transaction. Settled periods
// are final, so an existing row is left untouched.
func (r *FeeRepository) SaveSettled(ctx context.Context, periods []domain.FeePeriod) error {
	if len(periods) == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO fee_periods (period_start, period_end, mint, burn, margin_and_liquidation, swap)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric)
		ON CONFLICT (period_end) DO NOTHING
	`

	for _, p := range periods {
		_, err := tx.Exec(ctx, query,
			p.From.UTC(),
			p.To.UTC(),
			rawString(p.Mint),
			rawString(p.Burn),
			rawString(p.MarginAndLiquidation),
			rawString(p.Swap),
		)
		if err != nil {
			return fmt.Errorf("%w: insert fee period: %v", domain.ErrDatabaseQuery, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListSettled returns every stored period, newest first
func (r *FeeRepository) ListSettled(ctx context.Context) ([]domain.FeePeriod, error) {
	query := `
		SELECT period_start, period_end, mint::text, burn::text, margin_and_liquidation::text, swap::text
		FROM fee_periods
		ORDER BY period_end DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list fee periods: %v", domain.ErrDatabaseQuery, err)
	}
	defer rows.Close()

	var periods []domain.FeePeriod
	for rows.Next() {
		var (
			from, to                 time.Time
			mint, burn, margin, swap string
		)
		if err := rows.Scan(&from, &to, &mint, &burn, &margin, &swap); err != nil {
			return nil, fmt.Errorf("failed to scan fee period: %w", err)
		}

		p := domain.FeePeriod{From: from.UTC(), To: to.UTC()}
		for _, f := range []struct {
			dst *fixedpoint.Amount
			raw string
		}{
			{&p.Mint, mint},
			{&p.Burn, burn},
			{&p.MarginAndLiquidation, margin},
			{&p.Swap, swap},
		} {
			v, err := fixedpoint.ParseRaw(f.raw, domain.USDDecimals)
			if err != nil {
				return nil, fmt.Errorf("failed to parse fee amount: %w", err)
			}
			*f.dst = v
		}

		periods = append(periods, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fee periods: %w", err)
	}

	return periods, nil
}

func rawString(a fixedpoint.Amount) string {
	return a.Rescale(domain.USDDecimals).Raw().String()
}

// Ensure FeeRepository implements ports.FeeRepository
var _ ports.FeeRepository = (*FeeRepository)(nil)
