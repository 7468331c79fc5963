package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmarceau/swapcli/internal/model"
	"github.com/dmarceau/swapcli/internal/registry"
	"github.com/dmarceau/swapcli/internal/tokens"
)

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Token registry commands"}

	var listChainID int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List known tokens for a chain, imported tokens first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openTokenStore()
			if err != nil {
				return err
			}
			reg := tokens.NewRegistry(store)
			all, err := reg.List(listChainID)
			if err != nil {
				return err
			}
			imported, err := store.List(listChainID)
			if err != nil {
				return err
			}
			importedSymbols := make(map[string]bool, len(imported))
			for _, tok := range imported {
				importedSymbols[strings.ToUpper(tok.Symbol)] = true
			}

			views := make([]model.TokenView, 0, len(all))
			for _, tok := range all {
				views = append(views, model.TokenView{
					Symbol:   tok.Symbol,
					Address:  tok.Address,
					Decimals: tok.Decimals,
					Name:     tok.Name,
					Imported: importedSymbols[strings.ToUpper(tok.Symbol)],
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), views, nil)
		},
	}
	list.Flags().Int64Var(&listChainID, "chain", 0, "Chain id")
	_ = list.MarkFlagRequired("chain")
	root.AddCommand(list)

	var importChainID int64
	var importAddress string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import an ERC-20 token by contract address",
		Long:  "Reads symbol, name and decimals from the contract and stores the token in the local overlay. Without --chain the supported chains are probed in order and the first that answers wins.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openTokenStore()
			if err != nil {
				return err
			}
			importer := tokens.NewImporter(store)

			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			chainID := importChainID
			var warnings []string
			if chainID == 0 {
				overrides := map[int64]string{}
				for _, c := range registry.Chains() {
					if url := s.settings.RPCFor(c.ChainID); url != "" {
						overrides[c.ChainID] = url
					}
				}
				detected, err := importer.DetectChain(ctx, importAddress, overrides)
				if err != nil {
					return err
				}
				chainID = detected
				warnings = append(warnings, fmt.Sprintf("chain not specified, detected chain %d", chainID))
			}

			tok, err := importer.Import(ctx, chainID, importAddress, s.settings.RPCFor(chainID))
			if err != nil {
				return err
			}
			view := model.TokenView{
				Symbol:   tok.Symbol,
				Address:  tok.Address,
				Decimals: tok.Decimals,
				Name:     tok.Name,
				Imported: true,
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, warnings)
		},
	}
	importCmd.Flags().Int64Var(&importChainID, "chain", 0, "Chain id (omit to auto-detect)")
	importCmd.Flags().StringVar(&importAddress, "address", "", "Token contract address")
	_ = importCmd.MarkFlagRequired("address")
	root.AddCommand(importCmd)

	var resolveChainID int64
	var resolveQuery string
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a symbol or address to token metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openTokenStore()
			if err != nil {
				return err
			}
			reg := tokens.NewRegistry(store)
			tok, err := reg.Resolve(resolveChainID, resolveQuery)
			if err != nil {
				return err
			}
			view := model.TokenView{
				Symbol:   tok.Symbol,
				Address:  tok.Address,
				Decimals: tok.Decimals,
				Name:     tok.Name,
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil)
		},
	}
	resolve.Flags().Int64Var(&resolveChainID, "chain", 0, "Chain id")
	resolve.Flags().StringVar(&resolveQuery, "token", "", "Token symbol or address")
	_ = resolve.MarkFlagRequired("chain")
	_ = resolve.MarkFlagRequired("token")
	root.AddCommand(resolve)

	return root
}
