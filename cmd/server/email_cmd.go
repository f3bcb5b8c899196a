package main

import (
	"github.com/spf13/cobra"

	"github.com/iliyamo/auction-engine/internal/config"
	"github.com/iliyamo/auction-engine/internal/queue"
	"github.com/iliyamo/auction-engine/internal/utils"
)

func newEmailWorkerCommand() *cobra.Command {
	var logDir string
	cmd := &cobra.Command{
		Use:   "email-worker",
		Short: "Consume the email outbox and render queued emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Only the broker is needed; MySQL and Redis are not opened.
			cfg := config.Load()
			utils.ConfigureLogger(cfg.LogLevel, nil)
			return queue.NewConsumer(cfg.AMQPURL, logDir).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory receiving email.log")
	return cmd
}
