// Package storage holds the locally materialized chart snapshots the
// sync engine reads and writes. Each entity is one JSON document on disk;
// writes are atomic (temp file + rename) so a crash never leaves a
// half-written chart.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

// Chart is the locally stored entity snapshot.
type Chart struct {
	EntityID   string        `json:"entity_id"`
	EntityType string        `json:"entity_type"`
	Fields     models.Fields `json:"fields"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ChartStore persists local entity snapshots.
type ChartStore interface {
	Get(entityID string) (*Chart, error)
	Put(chart *Chart) error
	Delete(entityID string) error
	List() ([]*Chart, error)
	Close() error
}

// ErrChartNotFound is returned for unknown entity ids.
var ErrChartNotFound = fmt.Errorf("chart not found")

// LocalStore is the filesystem ChartStore implementation.
type LocalStore struct {
	baseDir string
	logger  *events.Logger
}

// NewLocalStore creates a chart store rooted at baseDir.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStore{
		baseDir: absPath,
		logger:  logger.WithField("component", "chart_store"),
	}, nil
}

// Get loads one chart.
func (s *LocalStore) Get(entityID string) (*Chart, error) {
	path, err := s.pathFor(entityID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrChartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chart %s: %w", entityID, err)
	}

	var chart Chart
	if err := json.Unmarshal(data, &chart); err != nil {
		return nil, &models.CorruptRecordError{Store: "charts", Key: entityID, Err: err}
	}
	return &chart, nil
}

// Put writes one chart atomically.
func (s *LocalStore) Put(chart *Chart) error {
	if strings.TrimSpace(chart.EntityID) == "" {
		return fmt.Errorf("entity id is required")
	}
	path, err := s.pathFor(chart.EntityID)
	if err != nil {
		return err
	}

	if chart.UpdatedAt.IsZero() {
		chart.UpdatedAt = time.Now()
	}

	data, err := json.MarshalIndent(chart, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chart %s: %w", chart.EntityID, err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"entity_id": chart.EntityID,
		"fields":    len(chart.Fields),
	}).Debug("Stored chart")

	return nil
}

// Delete removes one chart. Deleting a missing chart is a no-op.
func (s *LocalStore) Delete(entityID string) error {
	path, err := s.pathFor(entityID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete chart %s: %w", entityID, err)
	}
	return nil
}

// List returns all readable charts, sorted by entity id. Corrupt
// documents are skipped and logged, never fatal.
func (s *LocalStore) List() ([]*Chart, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read charts directory: %w", err)
	}

	var charts []*Chart
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		entityID := strings.TrimSuffix(entry.Name(), ".json")
		chart, err := s.Get(entityID)
		if err != nil {
			s.logger.WithError(err).WithField("entity_id", entityID).Warn("Skipping unreadable chart")
			continue
		}
		charts = append(charts, chart)
	}

	sort.Slice(charts, func(i, j int) bool { return charts[i].EntityID < charts[j].EntityID })
	return charts, nil
}

// Close is a no-op for the filesystem store.
func (s *LocalStore) Close() error { return nil }

// pathFor maps an entity id to its document path, rejecting ids that
// would escape the base directory.
func (s *LocalStore) pathFor(entityID string) (string, error) {
	if strings.ContainsAny(entityID, `/\`) || strings.Contains(entityID, "..") {
		return "", fmt.Errorf("invalid entity id %q", entityID)
	}
	return filepath.Join(s.baseDir, entityID+".json"), nil
}
