package scheduler

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, io.Discard)
}

// stubPatterns returns a fixed level for every bucket, or per-hour levels
// when byHour is set.
type stubPatterns struct {
	level  float64
	byHour map[int]float64
	err    error
}

func (s *stubPatterns) Level(userID string, at time.Time) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.byHour != nil {
		if lvl, ok := s.byHour[at.Hour()]; ok {
			return lvl, nil
		}
		return 1.0, nil
	}
	return s.level, nil
}

func goodConditions() models.DeviceContext {
	return models.DeviceContext{
		BatteryLevel:   0.9,
		Charging:       true,
		Thermal:        models.ThermalNominal,
		Network:        models.NetworkWifi,
		NetworkQuality: 1.0,
		ActivityLevel:  0.1,
		CapturedAt:     time.Now(),
	}
}

func newTestScheduler(patterns PatternSource, cellular bool) *Scheduler {
	return NewScheduler(patterns, "user-1", cellular, testLogger())
}

func TestEvaluateGoodConditions(t *testing.T) {
	s := newTestScheduler(&stubPatterns{level: 0.5}, false)

	decision := s.Evaluate(goodConditions())
	assert.True(t, decision.ShouldSync)
	assert.Empty(t, decision.Blockers)
	assert.GreaterOrEqual(t, decision.Score, 50.0)
	assert.Equal(t, 1.0, decision.Confidence, "score above base clamps to full confidence")
}

func TestEvaluateOfflineIsHardBlock(t *testing.T) {
	s := newTestScheduler(&stubPatterns{level: 0.1}, false)

	ctx := goodConditions()
	ctx.Network = models.NetworkOffline

	decision := s.Evaluate(ctx)
	assert.False(t, decision.ShouldSync)
	assert.Contains(t, decision.Blockers, "Offline")
	// Even a perfect score cannot override a blocker.
	assert.GreaterOrEqual(t, decision.Score, 50.0)
}

func TestEvaluateCellularDisabledBlocks(t *testing.T) {
	s := newTestScheduler(&stubPatterns{level: 0.5}, false)

	ctx := goodConditions()
	ctx.Network = models.NetworkCellular

	decision := s.Evaluate(ctx)
	assert.False(t, decision.ShouldSync)
	assert.Contains(t, decision.Blockers, "Cellular sync disabled")
}

func TestEvaluateCellularAllowedScoresLower(t *testing.T) {
	s := newTestScheduler(&stubPatterns{level: 0.5}, true)

	wifi := s.Evaluate(goodConditions())

	cellular := goodConditions()
	cellular.Network = models.NetworkCellular
	onCell := s.Evaluate(cellular)

	assert.True(t, onCell.ShouldSync)
	assert.Less(t, onCell.Score, wifi.Score)
}

func TestEvaluateBatteryMonotonicity(t *testing.T) {
	s := newTestScheduler(&stubPatterns{level: 0.5}, false)

	// More battery never makes the verdict worse.
	prev := -1.0
	for _, level := range []float64{0.05, 0.15, 0.25, 0.5, 0.75, 1.0} {
		ctx := goodConditions()
		ctx.Charging = false
		ctx.BatteryLevel = level

		score := s.Evaluate(ctx).Score
		assert.GreaterOrEqual(t, score, prev, "battery %.2f", level)
		prev = score
	}
}

func TestEvaluatePerformanceModeNeverSyncs(t *testing.T) {
	s := newTestScheduler(&stubPatterns{level: 0.1}, false)

	// Everything else is ideal; performance mode alone must stop sync.
	ctx := goodConditions()
	ctx.PerformanceMode = true

	decision := s.Evaluate(ctx)
	assert.False(t, decision.ShouldSync)
	assert.Contains(t, decision.Blockers, "Performance mode active")
}

func TestEvaluateLowBatteryAndThermal(t *testing.T) {
	s := newTestScheduler(&stubPatterns{level: 0.5}, false)

	ctx := goodConditions()
	ctx.Charging = false
	ctx.BatteryLevel = 0.1
	ctx.Thermal = models.ThermalSerious
	ctx.ActivityLevel = 0.5

	decision := s.Evaluate(ctx)
	assert.False(t, decision.ShouldSync)
	assert.Empty(t, decision.Blockers, "degraded conditions score low but do not hard-block")
}

func TestEvaluateEditingPenalty(t *testing.T) {
	s := newTestScheduler(&stubPatterns{level: 0.5}, false)

	idle := s.Evaluate(goodConditions())

	editing := goodConditions()
	editing.Editing = true
	busy := s.Evaluate(editing)

	assert.Less(t, busy.Score, idle.Score)
}

func TestEvaluateQuietWindowBonus(t *testing.T) {
	quiet := newTestScheduler(&stubPatterns{level: 0.1}, false)
	noisy := newTestScheduler(&stubPatterns{level: 0.9}, false)

	ctx := goodConditions()
	assert.Greater(t, quiet.Evaluate(ctx).Score, noisy.Evaluate(ctx).Score)
}

func TestEvaluateSurvivesPatternError(t *testing.T) {
	s := newTestScheduler(&stubPatterns{err: assert.AnError}, false)

	decision := s.Evaluate(goodConditions())
	assert.True(t, decision.ShouldSync, "pattern lookup failure must not break scheduling")
}

func TestNextRecommendedTimeFindsQuietBucket(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	s := newTestScheduler(&stubPatterns{byHour: map[int]float64{14: 0.1}}, false)
	s.now = func() time.Time { return now }

	decision := s.Evaluate(goodConditions())
	require.False(t, decision.NextRecommendedTime.IsZero())
	assert.Equal(t, 14, decision.NextRecommendedTime.Hour())
}

func TestNextRecommendedTimeFallsBackToOneHour(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	s := newTestScheduler(&stubPatterns{level: 1.0}, false)
	s.now = func() time.Time { return now }

	decision := s.Evaluate(goodConditions())
	assert.Equal(t, now.Add(time.Hour), decision.NextRecommendedTime)
}
