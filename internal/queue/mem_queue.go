package queue

import (
	"sync"
	"time"

	"github.com/chartkit/chartsync/internal/models"
)

// MemQueue is an in-memory Queue for tests. Semantics mirror SQLiteQueue,
// including coalescing and the permanent-failure ceiling.
type MemQueue struct {
	mu          sync.Mutex
	ops         []*models.PendingOperation
	maxAttempts int
}

// NewMemQueue creates an in-memory queue.
func NewMemQueue(maxAttempts int) *MemQueue {
	return &MemQueue{maxAttempts: maxAttempts}
}

// Enqueue appends with coalescing.
func (q *MemQueue) Enqueue(op *models.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	op = op.Clone()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	switch op.Kind {
	case models.OpDelete:
		kept := q.ops[:0]
		for _, existing := range q.ops {
			if existing.EntityID != op.EntityID {
				kept = append(kept, existing)
			}
		}
		q.ops = append(kept, op)

	case models.OpUpdate:
		for i := len(q.ops) - 1; i >= 0; i-- {
			existing := q.ops[i]
			if existing.EntityID != op.EntityID {
				continue
			}
			if existing.Kind == models.OpDelete {
				return nil // delete wins; update dropped
			}
			existing.Payload = op.Payload.Clone()
			existing.LastError = ""
			return nil
		}
		q.ops = append(q.ops, op)

	default:
		q.ops = append(q.ops, op)
	}
	return nil
}

// PeekBatch returns up to maxCount operations in order.
func (q *MemQueue) PeekBatch(maxCount int) ([]*models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := maxCount
	if n > len(q.ops) {
		n = len(q.ops)
	}
	out := make([]*models.PendingOperation, 0, n)
	for _, op := range q.ops[:n] {
		out = append(out, op.Clone())
	}
	return out, nil
}

// Acknowledge removes by id; unknown ids ignored.
func (q *MemQueue) Acknowledge(ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := q.ops[:0]
	for _, op := range q.ops {
		if _, ok := drop[op.ID]; !ok {
			kept = append(kept, op)
		}
	}
	q.ops = kept
	return nil
}

// MarkFailed increments attempts; removes at the ceiling.
func (q *MemQueue) MarkFailed(id string, cause error) (*models.PendingOperation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID != id {
			continue
		}
		op.Attempts++
		if cause != nil {
			op.LastError = cause.Error()
		}
		if op.Attempts < q.maxAttempts {
			return nil, false, nil
		}
		q.ops = append(q.ops[:i], q.ops[i+1:]...)
		return op, true, nil
	}
	return nil, false, nil
}

// PendingFor counts operations for an entity.
func (q *MemQueue) PendingFor(entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, op := range q.ops {
		if op.EntityID == entityID {
			n++
		}
	}
	return n, nil
}

// DiscardFor removes all operations for an entity.
func (q *MemQueue) DiscardFor(entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.ops[:0]
	removed := 0
	for _, op := range q.ops {
		if op.EntityID == entityID {
			removed++
			continue
		}
		kept = append(kept, op)
	}
	q.ops = kept
	return removed, nil
}

// Depth returns the queue size.
func (q *MemQueue) Depth() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops), nil
}

// Close is a no-op.
func (q *MemQueue) Close() error { return nil }
