// Package queue implements the durable, workspace-aware TaskQueue of
// spec.md §4.5: enqueue, claim, ack, nack, cancel, all with at-least-once
// delivery over a Postgres-backed table using SELECT ... FOR UPDATE SKIP
// LOCKED for atomic claim semantics.
package queue

import (
	"context"
	"time"

	"github.com/quillforge/quillforge/pkg/types"
)

// TaskQueue is the interface TransformationService and TransformationExecutor
// depend on.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *types.QueuedTask) error
	// Claim selects and leases one eligible task for workerID, or returns nil
	// if none is currently eligible.
	Claim(ctx context.Context, workerID string, lease time.Duration) (*types.QueuedTask, error)
	Ack(ctx context.Context, taskID, workerID string) error
	Nack(ctx context.Context, taskID, workerID string, reason string) error
	Cancel(ctx context.Context, taskID string) error
	// CancelRequested reports whether a cancel flag has been set on taskID,
	// polled by the executor between provider attempts.
	CancelRequested(ctx context.Context, taskID string) (bool, error)
}

// Options configure retry backoff.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  int // exponent cap: delay = base * 2^min(attempts, cap)
}

// DefaultOptions mirrors the teacher's MarkFailed defaults, generalized
// from a fixed quadratic-seconds formula to a configurable exponential one
// per spec.md §4.5 ("next_delay = base · 2^min(attempts, cap)").
func DefaultOptions() Options {
	return Options{MaxAttempts: 5, BackoffBase: time.Second, BackoffCap: 6}
}

func backoffDelay(opts Options, attempts int) time.Duration {
	exp := attempts
	if exp > opts.BackoffCap {
		exp = opts.BackoffCap
	}
	return opts.BackoffBase * time.Duration(1<<uint(exp))
}
