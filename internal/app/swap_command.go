package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/dmarceau/swapcli/internal/engine"
	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/execution"
	"github.com/dmarceau/swapcli/internal/execution/signer"
	"github.com/dmarceau/swapcli/internal/model"
	"github.com/dmarceau/swapcli/internal/registry"
	"github.com/dmarceau/swapcli/internal/tokens"
)

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var chainID int64
	var fromArg, toArg, amountArg string
	var yes bool
	var maxFeeGwei, maxPriorityFeeGwei string

	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Quote and execute a swap end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return clierr.New(clierr.CodeUserRejected, "swaps move funds; re-run with --yes to confirm")
			}

			store, err := s.openTokenStore()
			if err != nil {
				return err
			}
			eng := engine.New(tokens.NewRegistry(store))

			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			quote, err := eng.GetQuote(ctx, chainID, fromArg, toArg, amountArg, engine.Forward, s.settings.RPCFor(chainID))
			if err != nil {
				return err
			}

			txSigner, err := signer.NewLocalSignerFromEnv(s.settings.KeySource)
			if err != nil {
				return err
			}

			rpcURL, err := registry.ResolveRPCURL(s.settings.RPCFor(chainID), chainID)
			if err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "resolve rpc endpoint", err)
			}
			client, err := ethclient.DialContext(ctx, rpcURL)
			if err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
			}
			defer client.Close()

			plan, err := execution.BuildPlan(ctx, client, quote, txSigner.Address(), s.settings.SlippageBps, common.HexToAddress(s.settings.FeeRecipient))
			if err != nil {
				return err
			}

			planStore, err := s.openPlanStore()
			if err != nil {
				return err
			}
			if err := planStore.Save(plan); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "persist plan", err)
			}

			opts := execution.DefaultExecuteOptions()
			opts.Simulate = s.settings.Simulate
			opts.MaxFeeGwei = maxFeeGwei
			opts.MaxPriorityFeeGwei = maxPriorityFeeGwei
			execErr := execution.Execute(cmd.Context(), planStore, &plan, txSigner, rpcURL, opts)

			if execErr != nil {
				// The plan is persisted with per-step state; point the
				// caller at it so they can see what confirmed before the
				// failure.
				return clierr.Wrap(clierr.CodeOf(execErr),
					"swap did not complete; inspect it with: plans show "+plan.PlanID, execErr)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), planView(plan), nil)
		},
	}
	cmd.Flags().Int64Var(&chainID, "chain", 0, "Chain id")
	cmd.Flags().StringVar(&fromArg, "from", "", "Input token symbol or address")
	cmd.Flags().StringVar(&toArg, "to", "", "Output token symbol or address")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Input amount in decimal units")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm execution without prompting")
	cmd.Flags().StringVar(&s.flags.KeySource, "key-source", "", "Signing key source (auto, env, file, keystore)")
	cmd.Flags().BoolVar(&s.flags.NoSimulate, "no-simulate", false, "Skip eth_call simulation before each transaction")
	cmd.Flags().StringVar(&maxFeeGwei, "max-fee-gwei", "", "Cap the max fee per gas (gwei)")
	cmd.Flags().StringVar(&maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Cap the priority fee per gas (gwei)")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func planView(plan execution.Plan) model.PlanView {
	steps := make([]model.PlanStepView, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		view := model.PlanStepView{
			StepID: step.StepID,
			Type:   string(step.Type),
			Status: string(step.Status),
			TxHash: step.TxHash,
			Error:  step.Error,
		}
		if step.TxHash != "" {
			view.ExplorerURL = registry.ExplorerTxURL(plan.ChainID, step.TxHash)
		}
		steps = append(steps, view)
	}
	return model.PlanView{
		PlanID:     plan.PlanID,
		Status:     string(plan.Status),
		ChainID:    plan.ChainID,
		FromSymbol: plan.FromSymbol,
		ToSymbol:   plan.ToSymbol,
		Venue:      plan.VenueName,
		Steps:      steps,
		UpdatedAt:  plan.UpdatedAt,
	}
}
