package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
	"github.com/chartkit/chartsync/internal/remote"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Daemon keeps the library reconciled continuously. It evaluates
the sync scheduler on a cron cadence, listens to the remote change feed
for immediate pull hints, and takes scheduled library snapshots when
auto backup is enabled.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.WithField("component", "daemon")

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Scheduler.EvaluateEvery, func() {
		decision, err := engine.EvaluateAndSync(ctx)
		if err != nil {
			log.WithError(err).Error("Scheduled sync failed")
			return
		}
		log.WithFields(map[string]interface{}{
			"should_sync": decision.ShouldSync,
			"score":       decision.Score,
			"reason":      decision.Reason,
		}).Info("Scheduler evaluated")
	}); err != nil {
		return fmt.Errorf("schedule sync evaluation: %w", err)
	}

	if cfg.Backup.AutoBackup {
		if _, err := scheduler.AddFunc(cfg.Backup.Schedule, func() {
			id, err := engine.CreateBackup()
			if err != nil {
				log.WithError(err).Error("Scheduled backup failed")
				return
			}
			log.WithField("snapshot", id).Info("Scheduled backup created")
		}); err != nil {
			return fmt.Errorf("schedule backups: %w", err)
		}
	}

	scheduler.Start()
	defer scheduler.Stop()

	go watchChangeFeed(ctx, engine, log)

	fmt.Println("chartsync daemon running; press Ctrl-C to stop.")
	<-ctx.Done()
	fmt.Println("Shutting down.")
	return nil
}

// syncTrigger keeps the feed loop testable against a stub engine.
type syncTrigger interface {
	BackgroundSync(ctx context.Context) error
}

// watchChangeFeed turns server hints into prompt incremental pulls. The
// feed is an accelerant only; the cron cadence covers correctness when
// the connection is down.
func watchChangeFeed(ctx context.Context, engine syncTrigger, log *events.Logger) {
	backoff := time.Second

	for ctx.Err() == nil {
		watcher := remote.NewWatcher(&cfg.Remote, logger)
		if err := watcher.Connect(ctx); err != nil {
			log.WithError(err).Warn("Change feed unavailable, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		consumeHints(ctx, watcher, engine, log)
		watcher.Close()
	}
}

// consumeHints drains one watcher connection until it closes or the
// daemon stops.
func consumeHints(ctx context.Context, watcher *remote.Watcher, engine syncTrigger, log *events.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case hint, ok := <-watcher.Hints():
			if !ok {
				return
			}
			log.WithField("notified_at", hint.NotifiedAt.Format(time.RFC3339)).Debug("Change hint received")
			if err := engine.BackgroundSync(ctx); err != nil && !errors.Is(err, models.ErrSyncInProgress) {
				log.WithError(err).Warn("Hinted sync failed")
			}
		}
	}
}
