package sync

import (
	"fmt"
	"os"
	gosync "sync"
	"time"
)

// CursorStore persists the remote change-feed cursor. The coordinator
// advances it only after a full push+pull cycle completes, so a crashed
// cycle re-pulls rather than skipping changes.
type CursorStore interface {
	Load() (string, error)
	Save(cursor string) error
}

// FileCursorStore keeps the cursor in a small file under the data dir.
type FileCursorStore struct {
	path string
}

// NewFileCursorStore creates a file-backed cursor store.
func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{path: path}
}

// Load returns the stored cursor, or empty when none exists yet.
func (f *FileCursorStore) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read cursor: %w", err)
	}
	return string(data), nil
}

// Save writes the cursor atomically.
func (f *FileCursorStore) Save(cursor string) error {
	tmp := fmt.Sprintf("%s.tmp.%d", f.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, []byte(cursor), 0o644); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize cursor: %w", err)
	}
	return nil
}

// MemCursorStore is an in-memory cursor store for tests.
type MemCursorStore struct {
	mu     gosync.Mutex
	cursor string
}

// Load returns the stored cursor.
func (m *MemCursorStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

// Save stores the cursor.
func (m *MemCursorStore) Save(cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = cursor
	return nil
}
