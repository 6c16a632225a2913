package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var serverURL, apiKey, tenantID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify an API key and store it for future uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			orch, _, _, cleanup, err := openOrchestrator(log)
			if err != nil {
				return err
			}
			defer cleanup()

			username, err := orch.Login(cmd.Context(), serverURL, apiKey, tenantID)
			if err != nil {
				return err
			}
			fmt.Printf("logged in as %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.MarkFlagRequired("server")
	cmd.MarkFlagRequired("api-key")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			orch, _, _, cleanup, err := openOrchestrator(log)
			if err != nil {
				return err
			}
			defer cleanup()
			return orch.Logout()
		},
	}
}
