// Package device supplies fresh device-context snapshots for scheduling
// decisions. Context is ephemeral and never cached across decisions.
package device

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chartkit/chartsync/internal/models"
)

// ContextSource yields the current device context. Implementations must
// read fresh state on every call; a stale battery or network reading can
// flip a sync decision the wrong way.
type ContextSource interface {
	Snapshot() (models.DeviceContext, error)
}

// FileSource reads the context from a JSON file maintained by the host
// app shell. Missing file means no signals: a neutral, online context.
type FileSource struct {
	path string
	now  func() time.Time
}

// NewFileSource creates a file-backed context source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

// Snapshot reads and decodes the context file.
func (f *FileSource) Snapshot() (models.DeviceContext, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return neutralContext(f.now()), nil
		}
		return models.DeviceContext{}, fmt.Errorf("read device context: %w", err)
	}

	var ctx models.DeviceContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		return models.DeviceContext{}, fmt.Errorf("decode device context: %w", err)
	}
	if ctx.CapturedAt.IsZero() {
		ctx.CapturedAt = f.now()
	}
	return ctx, nil
}

// StaticSource returns a fixed context, for tests and the CLI's manual
// sync path where device signals are irrelevant.
type StaticSource struct {
	Context models.DeviceContext
	Err     error
}

// Snapshot returns the configured context.
func (s *StaticSource) Snapshot() (models.DeviceContext, error) {
	return s.Context, s.Err
}

func neutralContext(at time.Time) models.DeviceContext {
	return models.DeviceContext{
		BatteryLevel:   1.0,
		Thermal:        models.ThermalNominal,
		Network:        models.NetworkWifi,
		NetworkQuality: 1.0,
		ActivityLevel:  0.0,
		CapturedAt:     at,
	}
}
