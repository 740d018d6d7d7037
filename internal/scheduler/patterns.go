// Package scheduler decides when the engine should sync, combining the
// current device context with learned user activity patterns.
package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chartkit/chartsync/internal/events"
)

// emaAlpha weights new observations when updating a bucket.
const emaAlpha = 0.1

// ActivityPatternStore persists learned activity levels per hour-of-day
// and weekday bucket, keyed by user. Buckets use device-local wall-clock
// time so the pattern follows the user across timezones.
type ActivityPatternStore struct {
	db     *sql.DB
	logger *events.Logger
	now    func() time.Time
}

// NewActivityPatternStore opens (and migrates) the pattern table.
func NewActivityPatternStore(dbPath string, logger *events.Logger) (*ActivityPatternStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open pattern database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS activity_patterns (
		user_id    TEXT NOT NULL,
		hour       INTEGER NOT NULL,
		weekday    INTEGER NOT NULL,
		level      REAL NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, hour, weekday)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create pattern schema: %w", err)
	}

	return &ActivityPatternStore{
		db:     db,
		logger: logger.WithField("component", "activity_patterns"),
		now:    time.Now,
	}, nil
}

// RecordActivity folds an observed activity level (0..1) into the bucket
// for the given local time using an exponential moving average.
func (s *ActivityPatternStore) RecordActivity(userID string, at time.Time, level float64) error {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	hour, weekday := bucketOf(at)

	current, found, err := s.lookup(userID, hour, weekday)
	if err != nil {
		return err
	}

	next := level
	if found {
		next = current + emaAlpha*(level-current)
	}

	_, err = s.db.Exec(`
		INSERT INTO activity_patterns (user_id, hour, weekday, level, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, hour, weekday) DO UPDATE SET
			level = excluded.level,
			updated_at = excluded.updated_at`,
		userID, hour, weekday, next, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Level returns the learned activity level for the bucket containing the
// given local time. Unseen buckets report 0.5, a neutral prior.
func (s *ActivityPatternStore) Level(userID string, at time.Time) (float64, error) {
	hour, weekday := bucketOf(at)
	level, found, err := s.lookup(userID, hour, weekday)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0.5, nil
	}
	return level, nil
}

func (s *ActivityPatternStore) lookup(userID string, hour, weekday int) (float64, bool, error) {
	var level float64
	err := s.db.QueryRow(`
		SELECT level FROM activity_patterns
		WHERE user_id = ? AND hour = ? AND weekday = ?`,
		userID, hour, weekday).Scan(&level)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup activity bucket: %w", err)
	}
	return level, true, nil
}

// Close closes the underlying database.
func (s *ActivityPatternStore) Close() error {
	return s.db.Close()
}

// bucketOf maps a local time to its (hour 0-23, weekday 1-7) bucket,
// with Sunday as day 1.
func bucketOf(at time.Time) (hour, weekday int) {
	return at.Hour(), int(at.Weekday()) + 1
}
