package queue

import (
	"context"
	"sync"
	"time"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

// MemoryQueue is an in-memory TaskQueue for tests, mirroring the teacher's
// memory queue fake (a mutex-guarded map in place of the teacher's
// channel-based buffer, since this queue needs random-access claim/ack/nack
// by id rather than a simple FIFO channel).
type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*types.QueuedTask
	opts  Options
	wake  chan struct{}
}

// NewMemoryQueue builds a MemoryQueue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		tasks: make(map[string]*types.QueuedTask),
		opts:  opts,
		wake:  make(chan struct{}, 1),
	}
}

func (m *MemoryQueue) Enqueue(_ context.Context, task *types.QueuedTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

func (m *MemoryQueue) Claim(_ context.Context, workerID string, lease time.Duration) (*types.QueuedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var best *types.QueuedTask
	for _, t := range m.tasks {
		if t.ClaimOwner != nil && t.ClaimExpiresAt != nil && t.ClaimExpiresAt.After(now) {
			continue
		}
		if t.NotBefore.After(now) {
			continue
		}
		if best == nil || t.NotBefore.Before(best.NotBefore) || (t.NotBefore.Equal(best.NotBefore) && t.ID < best.ID) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	owner := workerID
	expires := now.Add(lease)
	best.ClaimOwner = &owner
	best.ClaimExpiresAt = &expires
	best.Attempts++

	cp := *best
	return &cp, nil
}

func (m *MemoryQueue) Ack(_ context.Context, taskID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return apperr.New(apperr.Conflict, "ack: task already gone")
	}
	if t.ClaimOwner == nil || *t.ClaimOwner != workerID {
		return apperr.New(apperr.Conflict, "ack: claim owner mismatch")
	}
	delete(m.tasks, taskID)
	return nil
}

func (m *MemoryQueue) Nack(_ context.Context, taskID, workerID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.ClaimOwner == nil || *t.ClaimOwner != workerID {
		return apperr.New(apperr.Conflict, "nack: claim owner mismatch")
	}

	if t.Attempts >= m.opts.MaxAttempts {
		delete(m.tasks, taskID)
		return nil
	}

	delay := backoffDelay(m.opts, t.Attempts)
	t.NotBefore = time.Now().UTC().Add(delay)
	t.ClaimOwner = nil
	t.ClaimExpiresAt = nil
	return nil
}

func (m *MemoryQueue) Cancel(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	if t.ClaimOwner == nil {
		delete(m.tasks, taskID)
		return nil
	}
	t.CancelRequested = true
	return nil
}

func (m *MemoryQueue) CancelRequested(_ context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return true, nil
	}
	return t.CancelRequested, nil
}

// Wake exposes the internal wake channel for tests that drive the executor
// loop directly without a Notifier.
func (m *MemoryQueue) Wake() <-chan struct{} { return m.wake }
