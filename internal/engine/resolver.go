package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/registry"
)

var (
	erc20ABI     = mustABI(registry.ERC20ABI)
	v2FactoryABI = mustABI(registry.V2FactoryABI)
	v2PairABI    = mustABI(registry.V2PairABI)
	v2RouterABI  = mustABI(registry.V2RouterABI)
	v3FactoryABI = mustABI(registry.V3FactoryABI)
	v3QuoterABI  = mustABI(registry.V3QuoterV2ABI)
)

// resolveRoute finds a usable pool for (tokenA, tokenB) on one chain.
// V2 is preferred when the chain does not force V3: a pair address alone
// is not enough, the router must answer a trial quote, since pairs with
// drained reserves still resolve from the factory. V3 candidate tiers
// are then probed in priority order.
func resolveRoute(ctx context.Context, client *ethclient.Client, chain registry.ChainConfig, tokenA, tokenB common.Address, probeAmount *big.Int) (Route, error) {
	if !chain.ForceV3 && chain.V2Factory != "" {
		route, ok, err := resolveV2(ctx, client, chain, tokenA, tokenB, probeAmount)
		if err != nil {
			return Route{}, err
		}
		if ok {
			return route, nil
		}
	}
	if chain.SupportsV3() {
		route, ok, err := resolveV3(ctx, client, chain, tokenA, tokenB)
		if err != nil {
			return Route{}, err
		}
		if ok {
			return route, nil
		}
	}
	return Route{}, clierr.New(clierr.CodeNoLiquidity, fmt.Sprintf("no active liquidity pool for pair on %s", chain.Name))
}

func resolveV2(ctx context.Context, client *ethclient.Client, chain registry.ChainConfig, tokenA, tokenB common.Address, probeAmount *big.Int) (Route, bool, error) {
	factory := common.HexToAddress(chain.V2Factory)
	data, err := v2FactoryABI.Pack("getPair", tokenA, tokenB)
	if err != nil {
		return Route{}, false, clierr.Wrap(clierr.CodeInternal, "pack getPair call", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return Route{}, false, clierr.Wrap(clierr.CodeUnavailable, "query v2 factory", err)
	}
	values, err := v2FactoryABI.Unpack("getPair", out)
	if err != nil || len(values) == 0 {
		return Route{}, false, clierr.Wrap(clierr.CodeUnavailable, "decode getPair response", err)
	}
	pair, ok := values[0].(common.Address)
	if !ok || pair == (common.Address{}) {
		return Route{}, false, nil
	}

	// Liveness check: a trial quote through the router. A revert means
	// the pair exists without usable reserves; any other failure is the
	// provider, not the pool.
	if _, err := v2AmountsOut(ctx, client, chain, probeAmount, tokenA, tokenB); err != nil {
		if !isRevert(err) {
			return Route{}, false, clierr.Wrap(clierr.CodeUnavailable, "v2 trial quote", err)
		}
		return Route{}, false, nil
	}
	return Route{Kind: RouteV2, PairAddress: pair}, true, nil
}

// isRevert reports whether a call error is an EVM revert rather than a
// transport or provider failure. Reverts carry error data on the RPC
// error object; some nodes only flag them in the message.
func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "revert")
}

func resolveV3(ctx context.Context, client *ethclient.Client, chain registry.ChainConfig, tokenA, tokenB common.Address) (Route, bool, error) {
	for _, tier := range chain.FeeTiers {
		pool, err := v3PoolForTier(ctx, client, chain, tokenA, tokenB, tier)
		if err != nil {
			return Route{}, false, err
		}
		if pool != (common.Address{}) {
			return Route{Kind: RouteV3, PoolAddress: pool, FeeTier: tier}, true, nil
		}
	}
	return Route{}, false, nil
}

// v3PoolForTier asks the factory for the pool at one fee tier. The zero
// address means no pool is deployed there.
func v3PoolForTier(ctx context.Context, client *ethclient.Client, chain registry.ChainConfig, tokenA, tokenB common.Address, tier uint32) (common.Address, error) {
	factory := common.HexToAddress(chain.V3Factory)
	data, err := v3FactoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(tier)))
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInternal, "pack getPool call", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeUnavailable, "query v3 factory", err)
	}
	values, err := v3FactoryABI.Unpack("getPool", out)
	if err != nil || len(values) == 0 {
		return common.Address{}, clierr.Wrap(clierr.CodeUnavailable, "decode getPool response", err)
	}
	pool, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "invalid getPool response")
	}
	return pool, nil
}

// v2AmountsOut calls the router's read-only getAmountsOut and returns the
// final hop's output.
func v2AmountsOut(ctx context.Context, client *ethclient.Client, chain registry.ChainConfig, amountIn *big.Int, path ...common.Address) (*big.Int, error) {
	router := common.HexToAddress(chain.V2Router)
	data, err := v2RouterABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut call: %w", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := v2RouterABI.Unpack("getAmountsOut", out)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("decode getAmountsOut response: %w", err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("empty getAmountsOut response")
	}
	return amounts[len(amounts)-1], nil
}

// v2Reserves reads the pair's reserves oriented as (reserveIn, reserveOut)
// for the given input token.
func v2Reserves(ctx context.Context, client *ethclient.Client, pair, tokenIn common.Address) (*big.Int, *big.Int, error) {
	data, err := v2PairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves call: %w", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return nil, nil, err
	}
	values, err := v2PairABI.Unpack("getReserves", out)
	if err != nil || len(values) < 2 {
		return nil, nil, fmt.Errorf("decode getReserves response: %w", err)
	}
	reserve0, ok0 := values[0].(*big.Int)
	reserve1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("invalid getReserves response")
	}

	data, err = v2PairABI.Pack("token0")
	if err != nil {
		return nil, nil, fmt.Errorf("pack token0 call: %w", err)
	}
	out, err = client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return nil, nil, err
	}
	values, err = v2PairABI.Unpack("token0", out)
	if err != nil || len(values) == 0 {
		return nil, nil, fmt.Errorf("decode token0 response: %w", err)
	}
	token0, ok := values[0].(common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("invalid token0 response")
	}
	if token0 == tokenIn {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
