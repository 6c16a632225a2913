// Command agentsyncd is the headless sync daemon: it watches producer
// session directories, mirrors activity into the local store, and drains
// the upload queue against a configured server. It is a thin cobra CLI
// over internal/syncorch's Orchestrator - every subcommand maps to one
// named orchestrator operation, never a string-dispatched RPC.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentsync/agentsync/internal/config"
	"github.com/agentsync/agentsync/internal/eventbus"
	"github.com/agentsync/agentsync/internal/queue"
	"github.com/agentsync/agentsync/internal/store"
	"github.com/agentsync/agentsync/internal/syncorch"
)

var debugFlag bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentsyncd",
		Short: "Sync AI coding agent sessions to a remote server",
	}
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	root.AddCommand(
		newDaemonCmd(),
		newScanCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newProjectsCmd(),
		newRateCmd(),
		newQueueCmd(),
	)
	return root
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debugFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openOrchestrator wires a Store, upload queue Processor, and event bus
// into an Orchestrator, using the on-disk config for credentials and
// per-producer settings. Callers that only read state (status, projects)
// still pay the cost of opening the store, since it is the only source of
// truth.
func openOrchestrator(log *slog.Logger) (*syncorch.Orchestrator, *queue.Processor, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("resolve home directory: %w", err)
	}
	dbPath := filepath.Join(home, ".agentsync", "agentsync.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create agentsync dir: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	proc := queue.NewProcessor(st, cfg, bus, log, 4)
	orch := syncorch.New(st, proc, bus, log)

	cleanup := func() { st.Close() }
	return orch, proc, cfg, cleanup, nil
}
