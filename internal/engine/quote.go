package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dmarceau/swapcli/internal/amount"
	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/registry"
	"github.com/dmarceau/swapcli/internal/tokens"
)

const (
	// Protocol fee charged on every swap, deducted from the input before
	// routing.
	FeeBps int64 = 30

	// Quotes are valid for 20 minutes on-chain.
	quoteTTL = 1200 * time.Second
)

// Engine quotes swaps across the configured chains. It owns no chain
// connection; each call dials the chain's RPC endpoint.
type Engine struct {
	tokens *tokens.Registry
	feeBps int64
	now    func() time.Time
}

func New(tokenRegistry *tokens.Registry) *Engine {
	return &Engine{tokens: tokenRegistry, feeBps: FeeBps, now: time.Now}
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	AmountIn          *big.Int       `abi:"amountIn"`
	Fee               *big.Int       `abi:"fee"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

// GetQuote resolves tokens and a liquidity route, then prices the swap
// net of the protocol fee. The per-chain minimum is enforced before any
// provider call is made.
func (e *Engine) GetQuote(ctx context.Context, chainID int64, fromSymbol, toSymbol, amountDecimal string, direction Direction, rpcOverride string) (Quote, error) {
	chain, ok := registry.Chain(chainID)
	if !ok {
		return Quote{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("chain id %d is not supported", chainID))
	}
	fromToken, err := e.tokens.Resolve(chainID, fromSymbol)
	if err != nil {
		return Quote{}, err
	}
	toToken, err := e.tokens.Resolve(chainID, toSymbol)
	if err != nil {
		return Quote{}, err
	}
	if fromToken.Symbol == toToken.Symbol {
		return Quote{}, clierr.New(clierr.CodeUsage, "from and to tokens must differ")
	}

	inputAmount, err := amount.ParseDecimal(amountDecimal, fromToken.Decimals)
	if err != nil {
		return Quote{}, err
	}
	if inputAmount.Sign() <= 0 {
		return Quote{}, clierr.New(clierr.CodeAmountTooSmall, "amount must be positive")
	}
	minInput, err := amount.ParseDecimal(chain.MinInputAmount, fromToken.Decimals)
	if err == nil && inputAmount.Cmp(minInput) < 0 {
		return Quote{}, clierr.New(clierr.CodeAmountTooSmall,
			fmt.Sprintf("amount %s is below the %s minimum of %s %s", amountDecimal, chain.Name, chain.MinInputAmount, fromToken.Symbol))
	}

	fromAddr, err := e.routingAddress(chainID, fromToken)
	if err != nil {
		return Quote{}, err
	}
	toAddr, err := e.routingAddress(chainID, toToken)
	if err != nil {
		return Quote{}, err
	}
	if fromAddr == toAddr {
		return Quote{}, clierr.New(clierr.CodeUsage, "from and to tokens resolve to the same pool address")
	}

	feeAmount := FeeAmount(inputAmount, e.feeBps)
	amountAfterFee := new(big.Int).Sub(inputAmount, feeAmount)
	if amountAfterFee.Sign() <= 0 {
		return Quote{}, clierr.New(clierr.CodeAmountTooSmall, "amount does not cover the protocol fee")
	}

	rpcURL, err := registry.ResolveRPCURL(rpcOverride, chainID)
	if err != nil {
		return Quote{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return Quote{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	route, err := resolveRoute(ctx, client, chain, fromAddr, toAddr, probeAmount(fromToken.Decimals))
	if err != nil {
		return Quote{}, err
	}

	var outputAmount *big.Int
	venueName := chain.V2Name
	switch route.Kind {
	case RouteV2:
		outputAmount, err = e.quoteV2(ctx, client, chain, route, amountAfterFee, fromAddr, toAddr)
	case RouteV3:
		var bestTier uint32
		outputAmount, bestTier, err = e.quoteV3(ctx, client, chain, amountAfterFee, fromAddr, toAddr)
		// The resolver returned the first deployed pool; the quoter may
		// prefer a different tier, so keep the pool address in step.
		if err == nil && bestTier != route.FeeTier {
			var pool common.Address
			pool, err = v3PoolForTier(ctx, client, chain, fromAddr, toAddr, bestTier)
			route.PoolAddress = pool
		}
		if err == nil {
			route.FeeTier = bestTier
			venueName = fmt.Sprintf("Uniswap V3 (%d)", bestTier)
		}
	default:
		err = clierr.New(clierr.CodeInternal, "unknown route kind")
	}
	if err != nil {
		return Quote{}, err
	}
	if outputAmount == nil || outputAmount.Sign() <= 0 {
		return Quote{}, clierr.New(clierr.CodeNoLiquidity,
			fmt.Sprintf("the %s/%s pool cannot absorb this trade", fromToken.Symbol, toToken.Symbol))
	}

	return Quote{
		ChainID:             chainID,
		Route:               route,
		Direction:           direction,
		FromToken:           fromToken,
		ToToken:             toToken,
		FromAddress:         fromAddr,
		ToAddress:           toAddr,
		InputAmount:         inputAmount,
		FeeAmount:           feeAmount,
		AmountAfterFee:      amountAfterFee,
		OutputAmount:        outputAmount,
		DeadlineUnixSeconds: e.now().Add(quoteTTL).Unix(),
		VenueName:           venueName,
	}, nil
}

// WalletBalance reads the wallet's spendable balance of one token:
// eth_getBalance for the native token, balanceOf otherwise.
func (e *Engine) WalletBalance(ctx context.Context, chainID int64, tokenSymbol string, wallet common.Address, rpcOverride string) (*big.Int, error) {
	tok, err := e.tokens.Resolve(chainID, tokenSymbol)
	if err != nil {
		return nil, err
	}
	rpcURL, err := registry.ResolveRPCURL(rpcOverride, chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	if tok.IsNative() {
		balance, err := client.BalanceAt(ctx, wallet, nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
		return balance, nil
	}

	token := common.HexToAddress(tok.Address)
	data, err := erc20ABI.Pack("balanceOf", wallet)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack balanceOf call", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token balance", err)
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode balanceOf response", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok || balance == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid balanceOf response")
	}
	return balance, nil
}

// quoteV2 prices through the router's getAmountsOut, which encodes the
// venue's own fee schedule. When that read fails transiently the pair's
// reserves and the standard 997/1000 formula serve as fallback.
func (e *Engine) quoteV2(ctx context.Context, client *ethclient.Client, chain registry.ChainConfig, route Route, amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error) {
	out, err := v2AmountsOut(ctx, client, chain, amountIn, tokenIn, tokenOut)
	if err == nil {
		return out, nil
	}
	reserveIn, reserveOut, rerr := v2Reserves(ctx, client, route.PairAddress, tokenIn)
	if rerr != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "v2 quote unavailable", err)
	}
	return v2AmountOut(amountIn, reserveIn, reserveOut), nil
}

// quoteV3 simulates exact input across the chain's candidate fee tiers
// and keeps the tier with the greatest output.
func (e *Engine) quoteV3(ctx context.Context, client *ethclient.Client, chain registry.ChainConfig, amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, uint32, error) {
	quoter := common.HexToAddress(chain.V3Quoter)
	var (
		bestOut  *big.Int
		bestTier uint32
	)
	for _, tier := range chain.FeeTiers {
		data, err := v3QuoterABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
			TokenIn:           tokenIn,
			TokenOut:          tokenOut,
			AmountIn:          amountIn,
			Fee:               big.NewInt(int64(tier)),
			SqrtPriceLimitX96: big.NewInt(0),
		})
		if err != nil {
			return nil, 0, clierr.Wrap(clierr.CodeInternal, "pack quoter calldata", err)
		}
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &quoter, Data: data}, nil)
		if err != nil {
			// A revert just rules the tier out. A transport failure must
			// not masquerade as missing liquidity.
			if !isRevert(err) {
				return nil, 0, clierr.Wrap(clierr.CodeUnavailable, "query v3 quoter", err)
			}
			continue
		}
		decoded, err := v3QuoterABI.Unpack("quoteExactInputSingle", out)
		if err != nil || len(decoded) == 0 {
			continue
		}
		amountOut, ok := decoded[0].(*big.Int)
		if !ok || amountOut == nil || amountOut.Sign() <= 0 {
			continue
		}
		if bestOut == nil || amountOut.Cmp(bestOut) > 0 {
			bestOut = new(big.Int).Set(amountOut)
			bestTier = tier
		}
	}
	if bestOut == nil {
		return nil, 0, clierr.New(clierr.CodeNoLiquidity, "no v3 fee tier can fill this trade")
	}
	return bestOut, bestTier, nil
}

// routingAddress substitutes the native sentinel with the chain's
// wrapped counterpart; venues only understand ERC-20 addresses.
func (e *Engine) routingAddress(chainID int64, tok registry.Token) (common.Address, error) {
	if !tok.IsNative() {
		return common.HexToAddress(tok.Address), nil
	}
	wrapped, err := e.tokens.Wrapped(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(wrapped.Address), nil
}

// probeAmount is the fixed 0.1-unit trial used by the V2 liveness check.
func probeAmount(decimals int) *big.Int {
	if decimals <= 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-1)), nil)
}
