// Package backup snapshots the local chart library so destructive sync
// resolutions and schema migrations can be rolled back.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
	"github.com/chartkit/chartsync/internal/storage"
)

// Snapshot is the on-disk backup document.
type Snapshot struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Charts    []*storage.Chart `json:"charts"`
}

// Info describes a stored snapshot without loading its payload.
type Info struct {
	ID        string
	CreatedAt time.Time
	Charts    int
	Path      string
}

// Coordinator writes and restores chart library snapshots, retaining only
// the most recent few.
type Coordinator struct {
	charts storage.ChartStore
	dir    string
	keep   int
	logger *events.Logger
	now    func() time.Time
	newID  func() string
}

// NewCoordinator creates a backup coordinator. keep bounds how many
// snapshots survive pruning; values below 1 are clamped to 1.
func NewCoordinator(charts storage.ChartStore, dir string, keep int, logger *events.Logger) *Coordinator {
	if keep < 1 {
		keep = 1
	}
	return &Coordinator{
		charts: charts,
		dir:    dir,
		keep:   keep,
		logger: logger.WithField("component", "backup"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// CreateSnapshot serializes the whole chart library into one snapshot
// file and prunes snapshots beyond the retention bound. Returns the
// snapshot id.
func (c *Coordinator) CreateSnapshot() (string, error) {
	charts, err := c.charts.List()
	if err != nil {
		return "", fmt.Errorf("list charts: %w", err)
	}

	snap := Snapshot{
		ID:        c.newID(),
		CreatedAt: c.now(),
		Charts:    charts,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	path := c.pathFor(snap.ID)
	tmp := fmt.Sprintf("%s.tmp.%d", path, c.now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize snapshot: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"snapshot": snap.ID,
		"charts":   len(charts),
	}).Info("Snapshot created")

	if err := c.prune(); err != nil {
		c.logger.WithError(err).Warn("Snapshot pruning failed")
	}
	return snap.ID, nil
}

// Restore replaces the current chart library with the snapshot contents.
// Charts created after the snapshot are removed.
func (c *Coordinator) Restore(snapshotID string) error {
	snap, err := c.loadSnapshot(snapshotID)
	if err != nil {
		return err
	}

	current, err := c.charts.List()
	if err != nil {
		return fmt.Errorf("list charts: %w", err)
	}

	wanted := make(map[string]bool, len(snap.Charts))
	for _, chart := range snap.Charts {
		wanted[chart.EntityID] = true
		if err := c.charts.Put(chart); err != nil {
			return fmt.Errorf("restore chart %s: %w", chart.EntityID, err)
		}
	}
	for _, chart := range current {
		if !wanted[chart.EntityID] {
			if err := c.charts.Delete(chart.EntityID); err != nil {
				return fmt.Errorf("remove chart %s: %w", chart.EntityID, err)
			}
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"snapshot": snapshotID,
		"charts":   len(snap.Charts),
	}).Info("Snapshot restored")
	return nil
}

// List returns stored snapshots, newest first.
func (c *Coordinator) List() ([]Info, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		snap, err := readSnapshotFile(path)
		if err != nil {
			c.logger.WithError(err).WithField("path", path).Warn("Skipping unreadable snapshot")
			continue
		}
		infos = append(infos, Info{
			ID:        snap.ID,
			CreatedAt: snap.CreatedAt,
			Charts:    len(snap.Charts),
			Path:      path,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

func (c *Coordinator) loadSnapshot(snapshotID string) (*Snapshot, error) {
	snap, err := readSnapshotFile(c.pathFor(snapshotID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrSnapshotNotFound
		}
		return nil, err
	}
	return snap, nil
}

// prune keeps the newest c.keep snapshots and deletes the rest.
func (c *Coordinator) prune() error {
	infos, err := c.List()
	if err != nil {
		return err
	}
	for _, info := range infos[min(c.keep, len(infos)):] {
		if err := os.Remove(info.Path); err != nil {
			return fmt.Errorf("remove old snapshot %s: %w", info.ID, err)
		}
		c.logger.WithField("snapshot", info.ID).Debug("Pruned old snapshot")
	}
	return nil
}

func (c *Coordinator) pathFor(snapshotID string) string {
	return filepath.Join(c.dir, snapshotID+".json")
}

func readSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}
