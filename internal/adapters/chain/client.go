// Package chain reads pool, token and price state from contracts over
// JSON-RPC
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/retry"
)

// Caller executes read-only contract calls. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial connects to a JSON-RPC endpoint
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return ethclient.NewClient(rpcClient), nil
}

// Contracts are the addresses the client reads from
type Contracts struct {
	Vault       string
	PoolManager string
	Reader      string
}

// Client implements VaultReader and TokenReader over contract calls
type Client struct {
	caller    Caller
	contracts Contracts
	retryConf retry.Config
	logger    *slog.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithRetry configures retry behavior
func WithRetry(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.retryConf.MaxRetries = maxRetries
		c.retryConf.InitialBackoff = backoff
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With("component", "chain_client")
	}
}

// NewClient creates a contract reader
func NewClient(caller Caller, contracts Contracts, opts ...ClientOption) *Client {
	c := &Client{
		caller:    caller,
		contracts: contracts,
		retryConf: retry.DefaultConfig(),
		logger:    slog.Default().With("component", "chain_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenStates reads the vault state of every configured token
func (c *Client) TokenStates(ctx context.Context, tokens []domain.TokenConfig) ([]domain.TokenState, error) {
	vault := common.HexToAddress(c.contracts.Vault)

	out := make([]domain.TokenState, 0, len(tokens))
	for _, t := range tokens {
		addr := common.HexToAddress(t.Address)
		read := func(method string) (*big.Int, error) {
			return c.callUint(ctx, vaultABI, vault, method, addr)
		}

		state := domain.TokenState{
			Address:   t.Address,
			Symbol:    t.Symbol,
			Decimals:  t.Decimals,
			IsStable:  t.IsStable,
			IsWrapped: t.IsWrapped,
		}

		fields := []struct {
			method   string
			decimals int32
			dst      *fixedpoint.Amount
		}{
			{"poolAmounts", t.Decimals, &state.PoolAmount},
			{"reservedAmounts", t.Decimals, &state.ReservedAmount},
			{"usdgAmounts", domain.USDGDecimals, &state.UsdgAmount},
			{"tokenWeights", 0, &state.Weight},
			{"maxUsdgAmounts", domain.USDGDecimals, &state.MaxUsdgAmount},
			{"getMinPrice", domain.USDDecimals, &state.MinPrice},
			{"getMaxPrice", domain.USDDecimals, &state.MaxPrice},
		}
		for _, f := range fields {
			raw, err := read(f.method)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", f.method, t.Symbol, err)
			}
			*f.dst = fixedpoint.New(raw, f.decimals)
		}
		out = append(out, state)
	}
	return out, nil
}

// TotalTokenWeights returns the vault's sum of token weights
func (c *Client) TotalTokenWeights(ctx context.Context) (fixedpoint.Amount, error) {
	raw, err := c.callUint(ctx, vaultABI, common.HexToAddress(c.contracts.Vault), "totalTokenWeights")
	if err != nil {
		return fixedpoint.Amount{}, err
	}
	return fixedpoint.New(raw, 0), nil
}

// Aums returns the pool manager's AUM estimates
func (c *Client) Aums(ctx context.Context) ([]fixedpoint.Amount, error) {
	values, err := c.call(ctx, poolManagerABI, common.HexToAddress(c.contracts.PoolManager), "getAums")
	if err != nil {
		return nil, err
	}
	return uintSlice(values, domain.USDDecimals)
}

// Fees returns the fee reserves the vault holds per token
func (c *Client) Fees(ctx context.Context, tokens []domain.TokenConfig) ([]domain.TokenFee, error) {
	addrs := make([]common.Address, len(tokens))
	for i, t := range tokens {
		addrs[i] = common.HexToAddress(t.Address)
	}

	values, err := c.call(ctx, readerABI, common.HexToAddress(c.contracts.Reader), "getFees",
		common.HexToAddress(c.contracts.Vault), addrs)
	if err != nil {
		return nil, err
	}
	raws, err := asBigInts(values)
	if err != nil {
		return nil, err
	}
	if len(raws) != len(tokens) {
		return nil, fmt.Errorf("%w: %d fees for %d tokens", domain.ErrInvalidResponse, len(raws), len(tokens))
	}

	out := make([]domain.TokenFee, len(tokens))
	for i, t := range tokens {
		out[i] = domain.TokenFee{Token: t.Address, Amount: fixedpoint.New(raws[i], t.Decimals)}
	}
	return out, nil
}

// TotalSupply implements ports.TokenReader
func (c *Client) TotalSupply(ctx context.Context, token string, decimals int32) (fixedpoint.Amount, error) {
	raw, err := c.callUint(ctx, erc20ABI, common.HexToAddress(token), "totalSupply")
	if err != nil {
		return fixedpoint.Amount{}, err
	}
	return fixedpoint.New(raw, decimals), nil
}

// BalanceOf implements ports.TokenReader
func (c *Client) BalanceOf(ctx context.Context, token, holder string, decimals int32) (fixedpoint.Amount, error) {
	raw, err := c.callUint(ctx, erc20ABI, common.HexToAddress(token), "balanceOf", common.HexToAddress(holder))
	if err != nil {
		return fixedpoint.Amount{}, err
	}
	return fixedpoint.New(raw, decimals), nil
}

// TokensPerInterval implements ports.TokenReader
func (c *Client) TokensPerInterval(ctx context.Context, distributor string, decimals int32) (fixedpoint.Amount, error) {
	raw, err := c.callUint(ctx, distributorABI, common.HexToAddress(distributor), "tokensPerInterval")
	if err != nil {
		return fixedpoint.Amount{}, err
	}
	return fixedpoint.New(raw, decimals), nil
}

func (c *Client) callUint(ctx context.Context, contract *lazyABI, to common.Address, method string, args ...any) (*big.Int, error) {
	values, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s returned nothing", domain.ErrInvalidResponse, method)
	}
	return asBigInt(values[0])
}

// call packs, executes and unpacks one contract call. Transport failures are
// retried; reverts and decoding errors are not.
func (c *Client) call(ctx context.Context, contract *lazyABI, to common.Address, method string, args ...any) ([]any, error) {
	return callContract(ctx, c.caller, c.retryConf, contract, to, method, args...)
}

func callContract(ctx context.Context, caller Caller, conf retry.Config, contract *lazyABI, to common.Address, method string, args ...any) ([]any, error) {
	parsed, err := contract.get()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	resp, err := retry.DoWithResult(ctx, conf, func(ctx context.Context) ([]byte, error) {
		out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			if isRevert(err) || errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("call %s: %w", method, err)
			}
			return nil, retry.NewRetryableError(fmt.Errorf("%w: call %s: %v", domain.ErrSourceUnavailable, method, err))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", domain.ErrInvalidResponse, method, err)
	}
	return values, nil
}

// isRevert reports whether the node executed the call and it reverted
func isRevert(err error) bool {
	var dataErr rpc.DataError
	return errors.As(err, &dataErr)
}

func asBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("%w: unexpected %T", domain.ErrInvalidResponse, v)
	}
}

func asBigInts(values []any) ([]*big.Int, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty result", domain.ErrInvalidResponse)
	}
	raws, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %T", domain.ErrInvalidResponse, values[0])
	}
	return raws, nil
}

func uintSlice(values []any, decimals int32) ([]fixedpoint.Amount, error) {
	raws, err := asBigInts(values)
	if err != nil {
		return nil, err
	}
	out := make([]fixedpoint.Amount, len(raws))
	for i, r := range raws {
		out[i] = fixedpoint.New(r, decimals)
	}
	return out, nil
}

// Ensure Client implements the reader ports
var (
	_ ports.VaultReader = (*Client)(nil)
	_ ports.TokenReader = (*Client)(nil)
)
