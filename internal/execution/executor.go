package execution

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/execution/signer"
)

type ExecuteOptions struct {
	Simulate           bool
	PollInterval       time.Duration
	StepTimeout        time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		Simulate:      true,
		PollInterval:  2 * time.Second,
		StepTimeout:   2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

// Execute drives a plan to completion step by step, persisting progress
// after every transition. The wallet's balance is verified against the
// full input before anything is submitted, and a swap failure after the
// fee transfer confirmed is reported as a partial swap so the caller
// can see funds already moved.
func Execute(ctx context.Context, store *Store, plan *Plan, txSigner signer.Signer, rpcURL string, opts ExecuteOptions) error {
	if plan == nil {
		return clierr.New(clierr.CodeInternal, "missing plan")
	}
	if txSigner == nil {
		return clierr.New(clierr.CodeSigner, "missing signer")
	}
	if len(plan.Steps) == 0 {
		return clierr.New(clierr.CodeUsage, "plan has no executable steps")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if chainID.Int64() != plan.ChainID {
		return clierr.New(clierr.CodeUnsupportedChain,
			fmt.Sprintf("endpoint serves chain %d, plan was built for chain %d", chainID.Int64(), plan.ChainID))
	}

	wallet := txSigner.Address()
	if !strings.EqualFold(plan.Wallet, wallet.Hex()) {
		return clierr.New(clierr.CodeSigner,
			fmt.Sprintf("plan was built for wallet %s, signer holds %s", plan.Wallet, wallet.Hex()))
	}

	if err := checkBalance(ctx, client, plan, wallet); err != nil {
		return err
	}

	plan.Status = PlanStatusRunning
	plan.Touch()
	savePlan(store, plan)

	feeConfirmed := false
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status == StepStatusConfirmed {
			if step.Type == StepTypeFeeTransfer {
				feeConfirmed = true
			}
			continue
		}
		if err := executeStep(ctx, client, chainID, txSigner, step, opts); err != nil {
			err = mapStepError(step.Type, feeConfirmed, err)
			step.Status = StepStatusFailed
			step.Error = err.Error()
			if clierr.Is(err, clierr.CodePartialSwap) {
				plan.Status = PlanStatusPartial
			} else {
				plan.Status = PlanStatusFailed
			}
			plan.Touch()
			savePlan(store, plan)
			return err
		}
		if step.Type == StepTypeFeeTransfer {
			feeConfirmed = true
		}
		plan.Touch()
		savePlan(store, plan)
	}

	plan.Status = PlanStatusCompleted
	plan.Touch()
	savePlan(store, plan)
	return nil
}

// checkBalance verifies the wallet can fund the full input amount. The
// check runs against fresh chain state, never the balance seen at quote
// time.
func checkBalance(ctx context.Context, client *ethclient.Client, plan *Plan, wallet common.Address) error {
	input, ok := new(big.Int).SetString(plan.InputAmount, 10)
	if !ok {
		return clierr.New(clierr.CodeInternal, "invalid plan input amount")
	}
	if plan.NativeInput {
		balance, err := client.BalanceAt(ctx, wallet, nil)
		if err != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
		if balance.Cmp(input) < 0 {
			return clierr.New(clierr.CodeInsufficientBalance,
				fmt.Sprintf("wallet holds %s, swap needs %s plus gas", balance, input))
		}
		return nil
	}

	token := common.HexToAddress(plan.FromTokenAddress)
	data, err := erc20ABI.Pack("balanceOf", wallet)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "pack balanceOf call", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read token balance", err)
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return clierr.Wrap(clierr.CodeUnavailable, "decode balanceOf response", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok || balance == nil {
		return clierr.New(clierr.CodeUnavailable, "invalid balanceOf response")
	}
	if balance.Cmp(input) < 0 {
		return clierr.New(clierr.CodeInsufficientBalance,
			fmt.Sprintf("wallet holds %s %s base units, swap needs %s", balance, plan.FromSymbol, input))
	}
	return nil
}

// mapStepError attaches the step's failure category. A swap failing
// after the fee transfer confirmed leaves the wallet short of the fee
// with no swap to show for it, which is its own condition.
func mapStepError(stepType StepType, feeConfirmed bool, err error) error {
	if cliErr, ok := clierr.As(err); ok {
		switch cliErr.Code {
		case clierr.CodeUnavailable, clierr.CodeSigner, clierr.CodeUsage:
			return err
		}
	}
	switch stepType {
	case StepTypeApproval:
		return clierr.Wrap(clierr.CodeApprovalFailed, "token approval failed", err)
	case StepTypeFeeTransfer:
		return clierr.Wrap(clierr.CodeFeeTransferFailed, "protocol fee transfer failed", err)
	case StepTypeSwap:
		if feeConfirmed {
			return clierr.Wrap(clierr.CodePartialSwap, "swap failed after the protocol fee was collected", err)
		}
		return clierr.Wrap(clierr.CodeSwapReverted, "swap reverted", err)
	}
	return err
}

func executeStep(ctx context.Context, client *ethclient.Client, chainID *big.Int, txSigner signer.Signer, step *PlanStep, opts ExecuteOptions) error {
	target := common.HexToAddress(step.Target)
	data, err := decodeHex(step.Data)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "decode step calldata", err)
	}
	value, ok := new(big.Int).SetString(step.Value, 10)
	if !ok {
		return clierr.New(clierr.CodeUsage, "invalid step value")
	}
	msg := ethereum.CallMsg{From: txSigner.Address(), To: &target, Value: value, Data: data}

	if opts.Simulate {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return fmt.Errorf("simulate step: %w", wrapRevert(err))
		}
		step.Status = StepStatusSimulated
	}

	gasLimit := step.GasLimit
	if gasLimit == 0 {
		estimated, err := client.EstimateGas(ctx, msg)
		if err != nil {
			return fmt.Errorf("estimate gas: %w", wrapRevert(err))
		}
		gasLimit = uint64(float64(estimated) * opts.GasMultiplier)
	}

	tipCap, err := resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei)
	if err != nil {
		return err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return err
	}

	nonce, err := client.PendingNonceAt(ctx, txSigner.Address())
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		return clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	step.Status = StepStatusSubmitted
	step.TxHash = signed.Hash().Hex()

	waitCtx, cancel := context.WithTimeout(ctx, opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, signed.Hash())
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				step.Status = StepStatusConfirmed
				return nil
			}
			return fmt.Errorf("transaction %s reverted on-chain", signed.Hash().Hex())
		}
		if waitCtx.Err() != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "timed out waiting for receipt", waitCtx.Err())
		}
		select {
		case <-waitCtx.Done():
			return clierr.Wrap(clierr.CodeUnavailable, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func resolveTipCap(ctx context.Context, client *ethclient.Client, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

// wrapRevert surfaces the human-readable revert reason when the node
// attached ABI-encoded error data to the RPC error.
func wrapRevert(err error) error {
	if reason, ok := revertReason(err); ok {
		return fmt.Errorf("%w (revert: %s)", err, reason)
	}
	return err
}

type errorDataProvider interface {
	ErrorData() interface{}
}

func revertReason(err error) (string, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		provider, ok := e.(errorDataProvider)
		if !ok {
			continue
		}
		raw, ok := provider.ErrorData().(string)
		if !ok {
			continue
		}
		if reason, ok := decodeRevertData(common.FromHex(raw)); ok {
			return reason, true
		}
	}
	return "", false
}

// decodeRevertData unwraps the two solidity builtin error encodings:
// Error(string) and Panic(uint256).
func decodeRevertData(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	selector := hex.EncodeToString(data[:4])
	payload := data[4:]
	switch selector {
	case "08c379a0": // Error(string)
		if len(payload) < 64 {
			return "", false
		}
		strLen := new(big.Int).SetBytes(payload[32:64]).Uint64()
		if uint64(len(payload)) < 64+strLen {
			return "", false
		}
		return string(payload[64 : 64+strLen]), true
	case "4e487b71": // Panic(uint256)
		if len(payload) < 32 {
			return "", false
		}
		code := new(big.Int).SetBytes(payload)
		return fmt.Sprintf("panic 0x%02x", code), true
	}
	return "", false
}

func savePlan(store *Store, plan *Plan) {
	if store == nil {
		return
	}
	_ = store.Save(*plan)
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
