package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/auction-engine/internal/utils"
)

func newSchedulerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run only the auction lifecycle tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			// Events still go through the bus so that sockets on the
			// serving instances receive them.
			return a.scheduler().Start(cmd.Context())
		},
	}
}

func newRunTaskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-task <name>",
		Short: "Run one lifecycle task once and exit",
		Long:  "Run one lifecycle task once and exit. Tasks: cleanup, closer, ending-soon, seller-degradation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s := a.scheduler()
			n, err := s.RunTask(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%w (tasks: %s)", err, strings.Join(s.Names(), ", "))
			}
			utils.Info("task finished", map[string]any{"task": args[0], "handled": n})
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d handled\n", args[0], n)
			return err
		},
	}
}
