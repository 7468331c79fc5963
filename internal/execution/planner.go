package execution

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dmarceau/swapcli/internal/engine"
	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/registry"
)

var (
	erc20ABI      = mustABI(registry.ERC20ABI)
	v2RouterABI   = mustABI(registry.V2RouterABI)
	v3RouterABI   = mustABI(registry.V3RouterABI)
	v3Router02ABI = mustABI(registry.V3Router02ABI)
)

// nativeTransferGasLimit is the fixed cost of a plain value transfer.
const nativeTransferGasLimit = 21_000

type exactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	Deadline          *big.Int       `abi:"deadline"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

// SwapRouter02 enforces deadlines out of band, so its params tuple has
// no deadline field.
type exactInputSingle02Params struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

// BuildPlan turns a quote into the ordered transaction sequence that
// realizes it: allowance steps when the router cannot yet pull the
// input, the protocol fee transfer, then the venue call. The fee
// transfer always precedes the swap.
func BuildPlan(ctx context.Context, client *ethclient.Client, quote engine.Quote, wallet common.Address, slippageBps int64, feeRecipient common.Address) (Plan, error) {
	chain, ok := registry.Chain(quote.ChainID)
	if !ok {
		return Plan{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("chain id %d is not supported", quote.ChainID))
	}
	if feeRecipient == (common.Address{}) {
		return Plan{}, clierr.New(clierr.CodeInternal, "fee recipient is not configured")
	}
	if slippageBps < 0 || slippageBps >= 10_000 {
		return Plan{}, clierr.New(clierr.CodeUsage, "slippage must be between 0 and 9999 bps")
	}

	router, err := routerFor(chain, quote.Route.Kind)
	if err != nil {
		return Plan{}, err
	}
	minOut := engine.MinOutput(quote.OutputAmount, slippageBps)
	nativeIn := quote.FromToken.IsNative()

	now := time.Now().UTC().Format(time.RFC3339)
	plan := Plan{
		PlanID:              NewPlanID(),
		Status:              PlanStatusPlanned,
		ChainID:             quote.ChainID,
		Wallet:              wallet.Hex(),
		FromSymbol:          quote.FromToken.Symbol,
		ToSymbol:            quote.ToToken.Symbol,
		FromTokenAddress:    quote.FromAddress.Hex(),
		NativeInput:         nativeIn,
		InputAmount:         quote.InputAmount.String(),
		FeeAmount:           quote.FeeAmount.String(),
		AmountAfterFee:      quote.AmountAfterFee.String(),
		ExpectedOutput:      quote.OutputAmount.String(),
		MinOutput:           minOut.String(),
		SlippageBps:         slippageBps,
		RouterAddress:       router.Hex(),
		VenueName:           quote.VenueName,
		DeadlineUnixSeconds: quote.DeadlineUnixSeconds,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	// The router only pulls the post-fee amount; the fee itself moves by
	// direct transfer and needs no allowance.
	if !nativeIn {
		steps, err := approvalSteps(ctx, client, quote.FromAddress, wallet, router, quote.AmountAfterFee, chain)
		if err != nil {
			return Plan{}, err
		}
		plan.Steps = append(plan.Steps, steps...)
	}

	feeStep, err := feeTransferStep(quote, feeRecipient, nativeIn)
	if err != nil {
		return Plan{}, err
	}
	plan.Steps = append(plan.Steps, feeStep)

	swapStep, err := swapStep(quote, chain, router, wallet, minOut, nativeIn)
	if err != nil {
		return Plan{}, err
	}
	plan.Steps = append(plan.Steps, swapStep)

	return plan, nil
}

func routerFor(chain registry.ChainConfig, kind engine.RouteKind) (common.Address, error) {
	switch kind {
	case engine.RouteV2:
		return common.HexToAddress(chain.V2Router), nil
	case engine.RouteV3:
		if !chain.SupportsV3() {
			return common.Address{}, clierr.New(clierr.CodeInternal, "v3 route on a chain without a v3 router")
		}
		return common.HexToAddress(chain.V3Router), nil
	}
	return common.Address{}, clierr.New(clierr.CodeInternal, "unknown route kind")
}

// approvalSteps reads the current allowance and emits nothing when it
// already covers the routed amount. A stale non-zero allowance is reset
// to zero first; some tokens revert on non-zero to non-zero changes.
func approvalSteps(ctx context.Context, client *ethclient.Client, token, wallet, spender common.Address, needed *big.Int, chain registry.ChainConfig) ([]PlanStep, error) {
	allowance, err := readAllowance(ctx, client, token, wallet, spender)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token allowance", err)
	}
	if allowance.Cmp(needed) >= 0 {
		return nil, nil
	}

	var steps []PlanStep
	if allowance.Sign() > 0 {
		reset, err := erc20ABI.Pack("approve", spender, big.NewInt(0))
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "pack approve reset", err)
		}
		steps = append(steps, PlanStep{
			StepID:      "approve-reset",
			Type:        StepTypeApproval,
			Status:      StepStatusPending,
			Description: "reset stale allowance to zero",
			Target:      token.Hex(),
			Data:        encodeHex(reset),
			Value:       "0",
		})
	}
	data, err := erc20ABI.Pack("approve", spender, needed)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack approve", err)
	}
	steps = append(steps, PlanStep{
		StepID:      "approve",
		Type:        StepTypeApproval,
		Status:      StepStatusPending,
		Description: fmt.Sprintf("approve %s router for the routed amount", chain.Name),
		Target:      token.Hex(),
		Data:        encodeHex(data),
		Value:       "0",
	})
	return steps, nil
}

func feeTransferStep(quote engine.Quote, feeRecipient common.Address, nativeIn bool) (PlanStep, error) {
	if nativeIn {
		return PlanStep{
			StepID:      "fee",
			Type:        StepTypeFeeTransfer,
			Status:      StepStatusPending,
			Description: "transfer protocol fee",
			Target:      feeRecipient.Hex(),
			Data:        "0x",
			Value:       quote.FeeAmount.String(),
			GasLimit:    nativeTransferGasLimit,
		}, nil
	}
	data, err := erc20ABI.Pack("transfer", feeRecipient, quote.FeeAmount)
	if err != nil {
		return PlanStep{}, clierr.Wrap(clierr.CodeInternal, "pack fee transfer", err)
	}
	return PlanStep{
		StepID:      "fee",
		Type:        StepTypeFeeTransfer,
		Status:      StepStatusPending,
		Description: "transfer protocol fee",
		Target:      quote.FromAddress.Hex(),
		Data:        encodeHex(data),
		Value:       "0",
	}, nil
}

func swapStep(quote engine.Quote, chain registry.ChainConfig, router, wallet common.Address, minOut *big.Int, nativeIn bool) (PlanStep, error) {
	deadline := big.NewInt(quote.DeadlineUnixSeconds)
	value := "0"
	if nativeIn {
		value = quote.AmountAfterFee.String()
	}

	var (
		data []byte
		err  error
	)
	switch quote.Route.Kind {
	case engine.RouteV3:
		if chain.V3RouterStyle == registry.V3Router02 {
			data, err = v3Router02ABI.Pack("exactInputSingle", exactInputSingle02Params{
				TokenIn:           quote.FromAddress,
				TokenOut:          quote.ToAddress,
				Fee:               big.NewInt(int64(quote.Route.FeeTier)),
				Recipient:         wallet,
				AmountIn:          quote.AmountAfterFee,
				AmountOutMinimum:  minOut,
				SqrtPriceLimitX96: big.NewInt(0),
			})
		} else {
			data, err = v3RouterABI.Pack("exactInputSingle", exactInputSingleParams{
				TokenIn:           quote.FromAddress,
				TokenOut:          quote.ToAddress,
				Fee:               big.NewInt(int64(quote.Route.FeeTier)),
				Recipient:         wallet,
				Deadline:          deadline,
				AmountIn:          quote.AmountAfterFee,
				AmountOutMinimum:  minOut,
				SqrtPriceLimitX96: big.NewInt(0),
			})
		}
	case engine.RouteV2:
		path := []common.Address{quote.FromAddress, quote.ToAddress}
		switch {
		case nativeIn:
			data, err = v2RouterABI.Pack("swapExactETHForTokens", minOut, path, wallet, deadline)
		case quote.ToToken.IsNative():
			data, err = v2RouterABI.Pack("swapExactTokensForETH", quote.AmountAfterFee, minOut, path, wallet, deadline)
		default:
			data, err = v2RouterABI.Pack("swapExactTokensForTokens", quote.AmountAfterFee, minOut, path, wallet, deadline)
		}
	default:
		return PlanStep{}, clierr.New(clierr.CodeInternal, "unknown route kind")
	}
	if err != nil {
		return PlanStep{}, clierr.Wrap(clierr.CodeInternal, "pack swap calldata", err)
	}

	return PlanStep{
		StepID:      "swap",
		Type:        StepTypeSwap,
		Status:      StepStatusPending,
		Description: fmt.Sprintf("swap %s for %s via %s", quote.FromToken.Symbol, quote.ToToken.Symbol, quote.VenueName),
		Target:      router.Hex(),
		Data:        encodeHex(data),
		Value:       value,
		GasLimit:    chain.SwapGasLimit,
	}, nil
}

func readAllowance(ctx context.Context, client *ethclient.Client, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("pack allowance call: %w", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("decode allowance response: %w", err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok || allowance == nil {
		return nil, fmt.Errorf("invalid allowance response")
	}
	return allowance, nil
}

func encodeHex(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
