package ports

import (
	"context"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

// PriceSource delivers price observations from one independent venue
type PriceSource interface {
	// ID returns the source identifier used for reconciliation
	ID() domain.SourceID

	// FetchPrices returns this cycle's observations
	FetchPrices(ctx context.Context) ([]domain.PriceObservation, error)
}

// VaultReader reads pool state from the vault and its satellite contracts
type VaultReader interface {
	// TokenStates reads the full state of every whitelisted token
	TokenStates(ctx context.Context, tokens []domain.TokenConfig) ([]domain.TokenState, error)

	// TotalTokenWeights returns the sum of configured token weights
	TotalTokenWeights(ctx context.Context) (fixedpoint.Amount, error)

	// Aums returns the pool manager's low and high AUM estimates
	Aums(ctx context.Context) ([]fixedpoint.Amount, error)

	// Fees returns the fee balances the vault holds per token
	Fees(ctx context.Context, tokens []domain.TokenConfig) ([]domain.TokenFee, error)
}

// TokenReader reads ERC-20 balances and supplies
type TokenReader interface {
	// TotalSupply returns the raw total supply of a token
	TotalSupply(ctx context.Context, token string, decimals int32) (fixedpoint.Amount, error)

	// BalanceOf returns the raw balance a holder owns
	BalanceOf(ctx context.Context, token, holder string, decimals int32) (fixedpoint.Amount, error)

	// TokensPerInterval returns a reward distributor's emission rate
	TokensPerInterval(ctx context.Context, distributor string, decimals int32) (fixedpoint.Amount, error)
}

// StatsClient reads aggregated trading statistics from the stats server
type StatsClient interface {
	// PositionStats returns the open interest totals
	PositionStats(ctx context.Context) (*domain.PositionStats, error)

	// HourlyVolume returns hourly volume entries, newest first
	HourlyVolume(ctx context.Context) ([]domain.VolumePoint, error)

	// TotalVolume returns the lifetime volume entries
	TotalVolume(ctx context.Context) ([]fixedpoint.Amount, error)

	// Ping checks if the stats server is reachable
	Ping(ctx context.Context) error
}

// FeeLedgerSource reads the authoritative fee ledger
type FeeLedgerSource interface {
	FeeLedger(ctx context.Context) (*domain.FeeLedger, error)
}

// BarSource reads a chart series from an indexer
type BarSource interface {
	// Bars returns the series for a ticker at a resolution, oldest first
	Bars(ctx context.Context, ticker domain.Ticker, resolution string) ([]domain.Bar, error)
}
