package app

import (
	"github.com/spf13/cobra"

	"github.com/dmarceau/swapcli/internal/model"
)

func (s *runtimeState) newPlansCommand() *cobra.Command {
	root := &cobra.Command{Use: "plans", Short: "Inspect persisted swap plans"}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted plans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openPlanStore()
			if err != nil {
				return err
			}
			plans, err := store.List(status, limit)
			if err != nil {
				return err
			}
			views := make([]model.PlanView, 0, len(plans))
			for _, plan := range plans {
				views = append(views, planView(plan))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), views, nil)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by plan status")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of plans to return")

	show := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show one plan with per-step transaction state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openPlanStore()
			if err != nil {
				return err
			}
			plan, err := store.Get(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), planView(plan), nil)
		},
	}

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}
