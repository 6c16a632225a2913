package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the upload queue",
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "retry <id>",
			Short: "Retry a single failed session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				log := newLogger()
				orch, _, _, cleanup, err := openOrchestrator(log)
				if err != nil {
					return err
				}
				defer cleanup()
				ok, err := orch.RetryQueueItem(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no matching failed session %q", args[0])
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove a single session from the queue",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				log := newLogger()
				orch, _, _, cleanup, err := openOrchestrator(log)
				if err != nil {
					return err
				}
				defer cleanup()
				ok, err := orch.RemoveQueueItem(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no matching session %q", args[0])
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "retry-failed",
			Short: "Retry every failed session",
			RunE: func(cmd *cobra.Command, args []string) error {
				log := newLogger()
				orch, _, _, cleanup, err := openOrchestrator(log)
				if err != nil {
					return err
				}
				defer cleanup()
				return orch.RetryFailedUploads()
			},
		},
		&cobra.Command{
			Use:   "clear-failed",
			Short: "Delete every failed session",
			RunE: func(cmd *cobra.Command, args []string) error {
				log := newLogger()
				orch, _, _, cleanup, err := openOrchestrator(log)
				if err != nil {
					return err
				}
				defer cleanup()
				return orch.ClearFailedUploads()
			},
		},
		&cobra.Command{
			Use:   "clear-hashes",
			Short: "Clear the uploaded-content dedup set",
			RunE: func(cmd *cobra.Command, args []string) error {
				log := newLogger()
				orch, _, _, cleanup, err := openOrchestrator(log)
				if err != nil {
					return err
				}
				defer cleanup()
				orch.ClearUploadedHashes()
				return nil
			},
		},
	)
	return root
}
