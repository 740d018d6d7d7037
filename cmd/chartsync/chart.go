package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chartkit/chartsync/internal/models"
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Edit the local chart library",
	Long: `Chart commands mutate the local library. Every mutation lands
locally first and is queued for push; nothing here touches the network.`,
}

var chartListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local charts",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		charts, err := engine.ListCharts()
		if err != nil {
			return err
		}
		for _, chart := range charts {
			title := chart.Fields["title"]
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s\n", chart.EntityID, title)
		}
		return nil
	},
}

var chartShowCmd = &cobra.Command{
	Use:   "show <chart-id>",
	Short: "Show a chart's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		chart, err := engine.GetChart(args[0])
		if err != nil {
			return err
		}
		for _, name := range chart.Fields.SortedNames() {
			fmt.Printf("%-10s %s\n", name+":", chart.Fields[name])
		}
		return nil
	},
}

var chartSetCmd = &cobra.Command{
	Use:   "set [chart-id] --field name=value ...",
	Short: "Create or update a chart",
	Long: `Set creates a new chart when no id is given, otherwise it
replaces the named fields on an existing chart.`,
	Example: `  chartsync chart set --field title="Blue Bossa" --field key=Cm
  chartsync chart set 4f1c... --field tempo=160`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChartSet,
}

var chartDeleteCmd = &cobra.Command{
	Use:   "delete <chart-id>",
	Short: "Delete a chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.DeleteChart(args[0]); err != nil {
			return err
		}
		color.Green("Chart %s deleted; removal queued for push.", args[0])
		return nil
	},
}

var chartFields []string

func init() {
	rootCmd.AddCommand(chartCmd)
	chartCmd.AddCommand(chartListCmd)
	chartCmd.AddCommand(chartShowCmd)
	chartCmd.AddCommand(chartSetCmd)
	chartCmd.AddCommand(chartDeleteCmd)

	chartSetCmd.Flags().StringArrayVar(&chartFields, "field", nil,
		"name=value pair (repeatable)")
	_ = chartSetCmd.MarkFlagRequired("field")
}

func runChartSet(cmd *cobra.Command, args []string) error {
	fields := models.Fields{}
	for _, pair := range chartFields {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return fmt.Errorf("invalid --field %q, expected name=value", pair)
		}
		fields[name] = value
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	if len(args) == 1 {
		chart, err := engine.GetChart(args[0])
		if err != nil {
			return err
		}
		merged := chart.Fields.Clone()
		for name, value := range fields {
			merged[name] = value
		}
		if err := engine.UpdateChart(args[0], merged); err != nil {
			return err
		}
		color.Green("Chart %s updated; edit queued for push.", args[0])
		return nil
	}

	id, err := engine.CreateChart("chart", "", fields)
	if err != nil {
		return err
	}
	color.Green("Chart %s created; queued for push.", id)
	return nil
}
