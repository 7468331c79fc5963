package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dmarceau/swapcli/internal/config"
	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/execution"
	"github.com/dmarceau/swapcli/internal/model"
	"github.com/dmarceau/swapcli/internal/out"
	"github.com/dmarceau/swapcli/internal/registry"
	"github.com/dmarceau/swapcli/internal/tokens"
	"github.com/dmarceau/swapcli/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	root        *cobra.Command
	lastCommand string

	tokenStore *tokens.Store
	planStore  *execution.Store
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.closeStores()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Multi-chain token swap CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})
	// Accept --slippage_bps style spellings alongside the documented ones.
	cmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "RPC request timeout")
	cmd.PersistentFlags().StringVar(&s.flags.RPC, "rpc", "", "RPC endpoint override")
	cmd.PersistentFlags().Int64Var(&s.flags.SlippageBps, "slippage-bps", -1, "Slippage tolerance in basis points")

	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newPlansCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain registry commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List supported chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			chains := registry.Chains()
			views := make([]model.ChainView, 0, len(chains))
			for _, c := range chains {
				rpc, _ := registry.DefaultRPCURL(c.ChainID)
				views = append(views, model.ChainView{
					ChainID:      c.ChainID,
					Name:         c.Name,
					NativeSymbol: c.NativeSymbol,
					V2Venue:      c.V2Name,
					SupportsV3:   c.SupportsV3(),
					DefaultRPC:   rpc,
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), views, nil)
		},
	}
	root.AddCommand(list)
	return root
}

// openTokenStore opens the imported-token overlay on demand; crossing
// command boundaries it stays cached on the state.
func (s *runtimeState) openTokenStore() (*tokens.Store, error) {
	if s.tokenStore != nil {
		return s.tokenStore, nil
	}
	store, err := tokens.Open(s.settings.TokenStorePath, s.settings.TokenLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open token store", err)
	}
	s.tokenStore = store
	return store, nil
}

func (s *runtimeState) openPlanStore() (*execution.Store, error) {
	if s.planStore != nil {
		return s.planStore, nil
	}
	store, err := execution.OpenStore(s.settings.PlanStorePath, s.settings.PlanLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open plan store", err)
	}
	s.planStore = store
	return store, nil
}

func (s *runtimeState) closeStores() {
	if s.tokenStore != nil {
		_ = s.tokenStore.Close()
		s.tokenStore = nil
	}
	if s.planStore != nil {
		_ = s.planStore.Close()
		s.planStore = nil
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    errorType(clierr.CodeOf(err)),
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeInvalidAddress:
		return "invalid_address"
	case clierr.CodeTokenNotFound:
		return "token_not_found"
	case clierr.CodeNoLiquidity:
		return "no_liquidity"
	case clierr.CodeAmountTooSmall:
		return "amount_too_small"
	case clierr.CodeInsufficientBalance:
		return "insufficient_balance"
	case clierr.CodeApprovalFailed:
		return "approval_failed"
	case clierr.CodeFeeTransferFailed:
		return "fee_transfer_failed"
	case clierr.CodeSwapReverted:
		return "swap_reverted"
	case clierr.CodeUserRejected:
		return "user_rejected"
	case clierr.CodeUnsupportedChain:
		return "unsupported_chain"
	case clierr.CodeUnavailable:
		return "rpc_unavailable"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodePartialSwap:
		return "partial_swap"
	default:
		return "internal_error"
	}
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
