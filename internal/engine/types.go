package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dmarceau/swapcli/internal/registry"
)

// Direction distinguishes quotes by which side the user typed. The
// underlying venues only simulate exact input, so Reverse quotes are
// computed forward from the typed amount and labeled accordingly.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// RouteKind tags the venue family a route belongs to.
type RouteKind string

const (
	RouteV2 RouteKind = "v2"
	RouteV3 RouteKind = "v3"
)

// Route identifies a usable liquidity pool on one venue.
type Route struct {
	Kind RouteKind

	// V2 only.
	PairAddress common.Address

	// V3 only.
	PoolAddress common.Address
	FeeTier     uint32
}

// Quote is an immutable priced swap. Amounts are base-unit integers.
// FromToken/ToToken keep the caller's view (native symbols intact);
// FromAddress/ToAddress are the wrapped-substituted routing addresses.
type Quote struct {
	ChainID   int64
	Route     Route
	Direction Direction

	FromToken registry.Token
	ToToken   registry.Token

	FromAddress common.Address
	ToAddress   common.Address

	InputAmount    *big.Int
	FeeAmount      *big.Int
	AmountAfterFee *big.Int
	OutputAmount   *big.Int

	DeadlineUnixSeconds int64

	VenueName string
}

// FeeAmount computes floor(input * feeBps / 10000) in integer arithmetic.
func FeeAmount(input *big.Int, feeBps int64) *big.Int {
	out := new(big.Int).Mul(input, big.NewInt(feeBps))
	return out.Div(out, big.NewInt(10_000))
}

// MinOutput computes floor(output * (10000 - slippageBps) / 10000).
func MinOutput(output *big.Int, slippageBps int64) *big.Int {
	out := new(big.Int).Mul(output, big.NewInt(10_000-slippageBps))
	return out.Div(out, big.NewInt(10_000))
}

// v2AmountOut applies the constant-product formula with the standard
// 997/1000 venue fee: out = in*997*rOut / (rIn*1000 + in*997).
func v2AmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(1000))
	denominator.Add(denominator, inWithFee)
	return numerator.Div(numerator, denominator)
}
