package sync

import (
	"fmt"
	"path/filepath"

	"github.com/chartkit/chartsync/internal/backup"
	"github.com/chartkit/chartsync/internal/config"
	"github.com/chartkit/chartsync/internal/conflicts"
	"github.com/chartkit/chartsync/internal/device"
	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/queue"
	"github.com/chartkit/chartsync/internal/remote"
	"github.com/chartkit/chartsync/internal/scheduler"
	"github.com/chartkit/chartsync/internal/state"
	"github.com/chartkit/chartsync/internal/storage"
)

// BuildEngine assembles a production engine from configuration. All
// stores share the engine database; charts and backups live on the
// filesystem.
func BuildEngine(cfg *config.Config, logger *events.Logger) (*Engine, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)

	charts, err := storage.NewLocalStore(cfg.Storage.ChartsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open chart store: %w", err)
	}

	opQueue, err := queue.NewSQLiteQueue(cfg.Storage.EngineDB, cfg.Sync.MaxAttempts, logger)
	if err != nil {
		charts.Close()
		return nil, fmt.Errorf("open operation queue: %w", err)
	}

	states, err := state.NewSQLiteStore(cfg.Storage.EngineDB, logger)
	if err != nil {
		opQueue.Close()
		charts.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}

	conflictStore, err := conflicts.NewSQLiteStore(cfg.Storage.EngineDB, logger)
	if err != nil {
		states.Close()
		opQueue.Close()
		charts.Close()
		return nil, fmt.Errorf("open conflict store: %w", err)
	}

	patterns, err := scheduler.NewActivityPatternStore(cfg.Storage.EngineDB, logger)
	if err != nil {
		conflictStore.Close()
		states.Close()
		opQueue.Close()
		charts.Close()
		return nil, fmt.Errorf("open pattern store: %w", err)
	}

	backups := backup.NewCoordinator(charts, cfg.Storage.BackupDir, cfg.Backup.Keep, logger)
	client := remote.NewHTTPClient(&cfg.Remote, logger)
	detector := conflicts.NewDetector(logger)
	resolver := conflicts.NewResolver(conflictStore, opQueue, states, charts, backups, bus, logger)
	sched := scheduler.NewScheduler(patterns, cfg.Scheduler.UserID, cfg.Sync.CellularAllowed, logger)
	cursor := NewFileCursorStore(filepath.Join(cfg.Storage.DataDir, "cursor"))

	coordinator := NewCoordinator(opQueue, states, charts, client, detector, resolver, conflictStore, cursor, bus, logger, Options{
		BatchSize:        cfg.Sync.BatchSize,
		RetryDelays:      cfg.Sync.RetryDelays,
		MetadataTTL:      cfg.Sync.MetadataTTL,
		BackgroundBudget: cfg.Sync.BackgroundBudget,
	})
	coordinator.SetSnapshotter(backups)

	return NewEngine(EngineDeps{
		Queue:       opQueue,
		States:      states,
		Charts:      charts,
		Conflicts:   conflictStore,
		Resolver:    resolver,
		Coordinator: coordinator,
		Scheduler:   sched,
		Patterns:    patterns,
		Backups:     backups,
		DeviceSrc:   device.NewFileSource(cfg.Storage.DeviceContextFile),
		Bus:         bus,
		Logger:      logger,
	}), nil
}
