package main // Entry point package

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/auction-engine/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		utils.Error("command failed", map[string]any{"error": err.Error()})
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "auction-engine",
		Short:         "Bid processing, auction lifecycle and realtime fanout for the auction marketplace",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # HTTP + websocket server with the lifecycle scheduler
  auction-engine serve

  # scheduler only (for a dedicated worker instance)
  auction-engine scheduler

  # close expired auctions once and exit
  auction-engine run-task closer`,
	}
	cmd.AddCommand(newServeCommand(), newSchedulerCommand(), newRunTaskCommand(), newEmailWorkerCommand())
	return cmd
}
