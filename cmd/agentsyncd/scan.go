package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentsync/agentsync/internal/config"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <producer>",
		Short: "Scan a producer's entire session history into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			producer := args[0]
			log := newLogger()

			orch, _, cfg, cleanup, err := openOrchestrator(log)
			if err != nil {
				return err
			}
			defer cleanup()

			pc, ok := cfg.Providers[config.ProviderID(producer)]
			if !ok {
				return fmt.Errorf("unknown producer %q", producer)
			}

			found, err := orch.ScanHistoricalSessions(cmd.Context(), producer, pc.HomeDirectory)
			if err != nil {
				return err
			}
			fmt.Printf("discovered %d new session(s) for %s\n", found, producer)
			return nil
		},
	}
	return cmd
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <producer>",
		Short: "Enqueue a producer's scanned history for upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			producer := args[0]
			log := newLogger()

			orch, _, cfg, cleanup, err := openOrchestrator(log)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := orch.SyncHistoricalSessions(cmd.Context(), producer, cfg); err != nil {
				return err
			}
			fmt.Printf("queued historical sessions for %s; run `agentsyncd daemon` to upload\n", producer)
			return nil
		},
	}
}
