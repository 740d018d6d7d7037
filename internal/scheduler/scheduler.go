package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

const (
	baseScore     = 100.0
	syncThreshold = 50.0

	// quietLevel marks an activity bucket calm enough to sync in.
	quietLevel = 0.3

	recentEditWindow = 30 * time.Second
	idleEditWindow   = 300 * time.Second
)

// Decision is the scheduler verdict for one evaluation.
type Decision struct {
	ShouldSync bool
	Confidence float64
	Score      float64
	Reason     string

	// Blockers are hard stops: any entry forces ShouldSync false no
	// matter how high the score is.
	Blockers []string

	NextRecommendedTime time.Time
}

// PatternSource supplies learned activity levels for scoring.
type PatternSource interface {
	Level(userID string, at time.Time) (float64, error)
}

// Scheduler scores the current device context against learned activity
// patterns. Scoring is additive from a base of 100 with a pass threshold
// of 50; hard blockers override the score entirely.
type Scheduler struct {
	patterns PatternSource
	logger   *events.Logger
	userID   string
	cellular bool

	now func() time.Time
}

// NewScheduler creates a sync scheduler. cellularAllowed mirrors the
// sync.cellular_allowed config knob.
func NewScheduler(patterns PatternSource, userID string, cellularAllowed bool, logger *events.Logger) *Scheduler {
	return &Scheduler{
		patterns: patterns,
		logger:   logger.WithField("component", "scheduler"),
		userID:   userID,
		cellular: cellularAllowed,
		now:      time.Now,
	}
}

// UserID returns the user whose patterns drive scoring.
func (s *Scheduler) UserID() string { return s.userID }

// Evaluate scores the device context and returns the sync decision.
func (s *Scheduler) Evaluate(ctx models.DeviceContext) Decision {
	now := s.now()
	score := baseScore
	var blockers []string
	var reasons []string

	adjust := func(delta float64, reason string) {
		score += delta
		reasons = append(reasons, fmt.Sprintf("%s (%+.0f)", reason, delta))
	}
	block := func(reason string) {
		blockers = append(blockers, reason)
	}

	// Power.
	if ctx.LowPowerMode {
		adjust(-40, "low power mode")
	}
	if ctx.BatteryLevel < 0.20 && !ctx.Charging {
		adjust(-30, "battery below 20%")
	}
	if ctx.Charging && ctx.BatteryLevel > 0.50 {
		adjust(+15, "charging with healthy battery")
	}

	// Thermal.
	if ctx.Thermal == models.ThermalSerious || ctx.Thermal == models.ThermalCritical {
		adjust(-50, "thermal pressure")
	}

	// Network. Offline is a hard stop, not a score adjustment.
	switch ctx.Network {
	case models.NetworkOffline:
		block("Offline")
	case models.NetworkCellular:
		if !s.cellular {
			block("Cellular sync disabled")
		} else {
			adjust(-20, "on cellular")
		}
	case models.NetworkWifi:
		adjust(+10, "on wifi")
	}
	if ctx.Network != models.NetworkOffline && ctx.NetworkQuality < 0.3 {
		adjust(-30, "poor network quality")
	}

	// User activity.
	if ctx.ActivityLevel > 0.7 {
		adjust(-40, "user highly active")
	} else if ctx.ActivityLevel < 0.3 {
		adjust(+20, "user idle")
	}
	if ctx.Editing {
		adjust(-50, "edit in progress")
	}
	if !ctx.LastEditAt.IsZero() {
		since := now.Sub(ctx.LastEditAt)
		if since < recentEditWindow {
			adjust(-20, "edited moments ago")
		} else if since > idleEditWindow {
			adjust(+15, "no recent edits")
		}
	}

	// Performance mode: the user asked for every cycle the device has.
	if ctx.PerformanceMode {
		adjust(-100, "performance mode")
		block("Performance mode active")
	}

	// Learned quiet window.
	if s.patterns != nil {
		level, err := s.patterns.Level(s.userID, now)
		if err != nil {
			s.logger.WithError(err).Warn("Pattern lookup failed, skipping bonus")
		} else if level < quietLevel {
			adjust(+25, "learned quiet window")
		}
	}

	if score < 0 {
		score = 0
	}
	confidence := score / baseScore
	if confidence > 1 {
		confidence = 1
	}

	decision := Decision{
		ShouldSync:          len(blockers) == 0 && score >= syncThreshold,
		Confidence:          confidence,
		Score:               score,
		Blockers:            blockers,
		NextRecommendedTime: s.nextQuietTime(now),
	}

	switch {
	case len(blockers) > 0:
		decision.Reason = strings.Join(blockers, "; ")
	case len(reasons) > 0:
		decision.Reason = strings.Join(reasons, ", ")
	default:
		decision.Reason = "no adjustments"
	}

	s.logger.WithFields(map[string]interface{}{
		"should_sync": decision.ShouldSync,
		"score":       decision.Score,
		"blockers":    len(decision.Blockers),
	}).Debug("Sync decision evaluated")

	return decision
}

// nextQuietTime scans the next 24 hours in one-hour steps for the first
// learned quiet bucket. Falls back to an hour from now.
func (s *Scheduler) nextQuietTime(now time.Time) time.Time {
	fallback := now.Add(time.Hour)
	if s.patterns == nil {
		return fallback
	}
	for i := 1; i <= 24; i++ {
		candidate := now.Add(time.Duration(i) * time.Hour)
		level, err := s.patterns.Level(s.userID, candidate)
		if err != nil {
			return fallback
		}
		if level < quietLevel {
			return candidate
		}
	}
	return fallback
}
