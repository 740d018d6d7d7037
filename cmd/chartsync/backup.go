package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage chart library snapshots",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the chart library",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		id, err := engine.CreateBackup()
		if err != nil {
			return err
		}
		color.Green("Snapshot %s created.", id)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		infos, err := engine.ListBackups()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s  %s  %d charts\n",
				info.ID, info.CreatedAt.Format("2006-01-02 15:04:05"), info.Charts)
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Restore the chart library from a snapshot",
	Long: `Restore replaces the current chart library with the snapshot
contents. Charts created after the snapshot are removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.RestoreBackup(args[0]); err != nil {
			return err
		}
		color.Green("Snapshot %s restored.", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}
