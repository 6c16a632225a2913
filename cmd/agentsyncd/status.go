package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [producer]",
		Short: "Show upload queue status, or one producer's historical sync progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			orch, proc, _, cleanup, err := openOrchestrator(log)
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := proc.Status()
			if err != nil {
				return err
			}
			fmt.Printf("queue: pending=%d processing=%d failed=%d\n", status.Pending, status.Processing, status.Failed)

			if len(args) == 1 {
				progress, err := orch.GetSessionSyncProgress(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s: phase=%s found=%d completed=%d/%d\n",
					args[0], progress.Phase, progress.TotalFound, progress.Completed, progress.InitialQueueSize)
			}
			return nil
		},
	}
	return cmd
}

func newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <session-id> <rating>",
		Short: "Record a quick assessment rating for a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			orch, _, _, cleanup, err := openOrchestrator(log)
			if err != nil {
				return err
			}
			defer cleanup()
			return orch.QuickRateSession(args[0], args[1])
		},
	}
}

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List known projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			orch, _, _, cleanup, err := openOrchestrator(log)
			if err != nil {
				return err
			}
			defer cleanup()

			projects, err := orch.GetAllProjects()
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Printf("%s\t%s\t%s\t%d sessions\n", p.ID, p.Name, p.CWD, p.SessionCount)
			}
			return nil
		},
	}
	return cmd
}
