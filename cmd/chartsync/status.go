package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	status := engine.Status()

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	phase := color.CyanString(string(status.Phase))
	switch status.Phase {
	case "error":
		phase = color.RedString(string(status.Phase))
	case "paused":
		phase = color.YellowString(string(status.Phase))
	case "idle":
		phase = color.GreenString(string(status.Phase))
	}

	fmt.Printf("Phase:                %s\n", phase)
	if !status.LastSyncedAt.IsZero() {
		fmt.Printf("Last synced:          %s\n", status.LastSyncedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Last synced:          never")
	}
	fmt.Printf("Pending operations:   %d\n", status.PendingOperations)
	fmt.Printf("Unresolved conflicts: %d\n", status.UnresolvedConflicts)
	if status.QuotaLimit > 0 {
		fmt.Printf("Quota:                %d / %d bytes\n", status.QuotaUsed, status.QuotaLimit)
	}
	if status.LastError != "" {
		color.Red("Last error:           %s", status.LastError)
	}

	if meta, err := engine.Metadata(context.Background()); err == nil {
		fmt.Printf("Remote schema:        v%d\n", meta.SchemaVersion)
	}
	return nil
}
