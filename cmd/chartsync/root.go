package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chartkit/chartsync/internal/config"
	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "chartsync",
	Short: "Local-first sync engine for chord chart libraries",
	Long: `chartsync keeps a local chord chart library reconciled with the
replicated remote store. Edits always land locally first; sync runs
when connectivity and device conditions allow.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		logger = events.NewLogger(&cfg.Log)
		return nil
	},
}

var (
	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger *events.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file path (default: ./chartsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
}

// newEngine builds the full engine; callers must Close it.
func newEngine() (*sync.Engine, error) {
	engine, err := sync.BuildEngine(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize engine: %w", err)
	}
	return engine, nil
}
