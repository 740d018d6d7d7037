package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chartkit/chartsync/internal/models"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	RunE:  runConflictsList,
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict",
	Long: `Resolve applies one of four strategies:

  keep-local   push the local version, discarding the remote edit
  keep-remote  adopt the remote version, discarding local edits
  keep-both    keep the remote version and duplicate the local one
  merge        combine both, with --set values for contested fields`,
	Example: `  chartsync conflicts resolve 4f1c... --strategy keep-local
  chartsync conflicts resolve 4f1c... --strategy merge --set title="Autumn Leaves" --set tempo=132`,
	Args: cobra.ExactArgs(1),
	RunE: runConflictsResolve,
}

var (
	resolveStrategy string
	resolveSet      []string
)

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)

	conflictsResolveCmd.Flags().StringVarP(&resolveStrategy, "strategy", "s", "",
		"Resolution strategy: keep-local, keep-remote, keep-both, merge (required)")
	conflictsResolveCmd.Flags().StringArrayVar(&resolveSet, "set", nil,
		"field=value for contested fields (merge only, repeatable)")
	_ = conflictsResolveCmd.MarkFlagRequired("strategy")
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	list, err := engine.Conflicts()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		color.Green("No unresolved conflicts.")
		return nil
	}

	for _, c := range list {
		priority := string(c.Priority)
		switch c.Priority {
		case models.PriorityHigh:
			priority = color.RedString(priority)
		case models.PriorityMedium:
			priority = color.YellowString(priority)
		}

		fmt.Printf("%s  entity=%s  priority=%s  detected=%s\n",
			c.ID, c.EntityID, priority, c.DetectedAt.Format("2006-01-02 15:04"))
		if c.RemoteDeleted {
			color.Red("    deleted remotely while edited locally")
			continue
		}
		for _, change := range c.Diff {
			marker := " "
			if change.Overlap {
				marker = color.RedString("*")
			}
			fmt.Printf("  %s %s: local=%q remote=%q (was %q)\n",
				marker, change.Name, change.Local, change.Remote, change.Base)
		}
	}
	return nil
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
	strategies := map[string]models.ResolutionStrategy{
		"keep-local":  models.ResolveKeepLocal,
		"keep-remote": models.ResolveKeepRemote,
		"keep-both":   models.ResolveKeepBoth,
		"merge":       models.ResolveMerge,
	}
	strategy, ok := strategies[resolveStrategy]
	if !ok {
		return fmt.Errorf("unknown strategy %q", resolveStrategy)
	}

	values := models.Fields{}
	for _, pair := range resolveSet {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return fmt.Errorf("invalid --set %q, expected field=value", pair)
		}
		values[name] = value
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.ResolveConflict(args[0], strategy, values)
	if err != nil {
		var re *models.ResolutionError
		if errors.As(err, &re) && len(re.MissingFields) > 0 {
			return fmt.Errorf("merge needs --set for: %s", strings.Join(re.MissingFields, ", "))
		}
		return err
	}

	if result.AlreadyResolved {
		color.Yellow("Conflict was already resolved.")
		return nil
	}
	color.Green("Conflict resolved with %s.", resolveStrategy)
	if result.DuplicateEntityID != "" {
		fmt.Printf("Local version kept as new chart %s\n", result.DuplicateEntityID)
	}
	if result.Deleted {
		fmt.Printf("Chart %s removed locally.\n", result.EntityID)
	}
	return nil
}
