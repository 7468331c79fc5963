package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/dmarceau/swapcli/internal/amount"
	"github.com/dmarceau/swapcli/internal/engine"
	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/model"
	"github.com/dmarceau/swapcli/internal/tokens"
)

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var chainID int64
	var fromArg, toArg, amountArg, walletArg string
	var reverse bool

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a swap without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openTokenStore()
			if err != nil {
				return err
			}
			eng := engine.New(tokens.NewRegistry(store))

			direction := engine.Forward
			if reverse {
				direction = engine.Reverse
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			quote, err := eng.GetQuote(ctx, chainID, fromArg, toArg, amountArg, direction, s.settings.RPCFor(chainID))
			if err != nil {
				return err
			}

			var warnings []string
			if direction == engine.Reverse {
				warnings = append(warnings, "reverse quotes are priced forward from the typed amount; treat the output as an estimate")
			}
			view := quoteView(quote, s.settings.SlippageBps)

			if walletArg != "" {
				if !common.IsHexAddress(walletArg) {
					return clierr.New(clierr.CodeInvalidAddress, fmt.Sprintf("%q is not a valid wallet address", walletArg))
				}
				balance, err := eng.WalletBalance(ctx, chainID, fromArg, common.HexToAddress(walletArg), s.settings.RPCFor(chainID))
				if err != nil {
					return err
				}
				view.WalletBalance = amount.FormatDecimal(balance, quote.FromToken.Decimals)
				if balance.Cmp(quote.InputAmount) < 0 {
					warnings = append(warnings, fmt.Sprintf("wallet holds %s %s, the swap needs %s", view.WalletBalance, quote.FromToken.Symbol, view.InputAmount))
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, warnings)
		},
	}
	cmd.Flags().Int64Var(&chainID, "chain", 0, "Chain id")
	cmd.Flags().StringVar(&fromArg, "from", "", "Input token symbol or address")
	cmd.Flags().StringVar(&toArg, "to", "", "Output token symbol or address")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Input amount in decimal units")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "Treat the amount as the desired output")
	cmd.Flags().StringVar(&walletArg, "wallet", "", "Include this wallet's input-token balance in the quote")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func quoteView(quote engine.Quote, slippageBps int64) model.QuoteView {
	minOut := engine.MinOutput(quote.OutputAmount, slippageBps)
	return model.QuoteView{
		ChainID:        quote.ChainID,
		Venue:          quote.VenueName,
		Route:          string(quote.Route.Kind),
		FeeTier:        quote.Route.FeeTier,
		Direction:      string(quote.Direction),
		FromSymbol:     quote.FromToken.Symbol,
		ToSymbol:       quote.ToToken.Symbol,
		InputAmount:    amount.FormatDecimal(quote.InputAmount, quote.FromToken.Decimals),
		FeeAmount:      amount.FormatDecimal(quote.FeeAmount, quote.FromToken.Decimals),
		AmountAfterFee: amount.FormatDecimal(quote.AmountAfterFee, quote.FromToken.Decimals),
		OutputAmount:   amount.FormatDecimal(quote.OutputAmount, quote.ToToken.Decimals),
		MinOutput:      amount.FormatDecimal(minOut, quote.ToToken.Decimals),
		SlippageBps:    slippageBps,
		Deadline:       quote.DeadlineUnixSeconds,
	}
}
