package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chartkit/chartsync/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync cycle now",
	Long: `Sync pushes pending local edits and pulls remote changes.

Incremental by default, resuming from the stored change cursor. Use
--full to reconcile the entire library, or --background to run under
the background execution budget.`,
	Example: `  chartsync sync
  chartsync sync --full
  chartsync sync --background`,
	RunE: runSync,
}

var (
	syncFull       bool
	syncBackground bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncFull, "full", "f", false,
		"Force full sync instead of incremental")
	syncCmd.Flags().BoolVar(&syncBackground, "background", false,
		"Run under the background execution budget")
}

func runSync(cmd *cobra.Command, args []string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case syncBackground:
		err = engine.BackgroundSync(ctx)
	default:
		err = engine.Sync(ctx, syncFull)
	}
	if errors.Is(err, models.ErrSyncInProgress) {
		fmt.Println("Sync already in progress; rerun queued.")
		return nil
	}
	if err != nil {
		return err
	}

	status := engine.Status()
	color.Green("Sync complete.")
	fmt.Printf("  Pending operations:   %d\n", status.PendingOperations)
	if status.UnresolvedConflicts > 0 {
		color.Yellow("  Unresolved conflicts: %d (see 'chartsync conflicts list')", status.UnresolvedConflicts)
	}
	return nil
}
