package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the upload queue processor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			_, proc, _, cleanup, err := openOrchestrator(log)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("agentsyncd: starting upload queue processor")
			err = proc.Run(ctx)
			if ctx.Err() != nil {
				log.Info("agentsyncd: shutting down")
				return nil
			}
			return err
		},
	}
}
