// Package executor implements the TransformationExecutor of spec.md §4.7: a
// pool of workers claiming tasks from the TaskQueue, invoking providers
// through the ProviderRegistry, and persisting the result back through the
// Repository.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/logging"
	"github.com/quillforge/quillforge/pkg/providers"
	"github.com/quillforge/quillforge/pkg/queue"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

// resultPreviewLen bounds the transformation.completed event payload so a
// multi-megabyte result body never rides the pub/sub wire in full.
const resultPreviewLen = 500

// Options tune a Pool's claim loop.
type Options struct {
	Concurrency  int
	LeaseTTL     time.Duration
	MaxAttempts  int
	PollInterval time.Duration
	ProviderTimeout time.Duration
}

// Pool is a set of workers draining TaskQueue, grounded on the teacher's
// worker/queue split (pkg/worker registering handlers against a queue) but
// generalized from handler-dispatch to a poll-claim-invoke loop since the
// durable TaskQueue here has no built-in dispatch of its own.
type Pool struct {
	id              string
	queue           queue.TaskQueue
	transformations storage.TransformationRepository
	registry        *providers.Registry
	bus             events.EventBus
	logger          logging.Logger
	opts            Options

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Pool. workerIDPrefix namespaces worker IDs (e.g. the process
// hostname) so claim ownership is attributable across instances.
func New(workerIDPrefix string, q queue.TaskQueue, transformations storage.TransformationRepository, registry *providers.Registry, bus events.EventBus, logger logging.Logger, opts Options) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 60 * time.Second
	}
	return &Pool{
		id:              workerIDPrefix,
		queue:           q,
		transformations: transformations,
		registry:        registry,
		bus:             bus,
		logger:          logger,
		opts:            opts,
		stopCh:          make(chan struct{}),
	}
}

// Start launches opts.Concurrency worker goroutines, each looping
// claim-execute until Stop is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", p.id, i)
		p.wg.Add(1)
		go p.loop(ctx, workerID)
	}
}

// Stop signals every worker to finish its current claim and exit, then
// blocks until they have. It does not cancel an in-flight provider call;
// the caller's ctx is responsible for that via its own deadline.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := p.queue.Claim(ctx, workerID, p.opts.LeaseTTL)
			if err != nil {
				p.logger.Warn(ctx, "claim failed", map[string]interface{}{"worker_id": workerID, "error": err.Error()})
				continue
			}
			if task == nil {
				continue
			}
			p.process(ctx, workerID, task)
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID string, task *types.QueuedTask) {
	var payload types.TaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error(ctx, "malformed task payload, acking to drop", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		_ = p.queue.Ack(ctx, task.ID, workerID)
		return
	}

	subject := types.Subject{WorkspaceID: payload.WorkspaceID}

	transformation, err := p.transformations.Get(ctx, subject, payload.TransformationID)
	if err != nil {
		p.logger.Error(ctx, "load transformation failed, acking to drop", map[string]interface{}{"transformation_id": payload.TransformationID, "error": err.Error()})
		_ = p.queue.Ack(ctx, task.ID, workerID)
		return
	}

	// Idempotency guard: a transformation already in a terminal state is
	// acked and dropped. Pending and running jobs (a running one is, for
	// example, a task reclaimed after an earlier claim's lease expired) are
	// worked; only a pending one is moved to running and announced with
	// transformation.started.
	if transformation.Status != types.TransformationPending && transformation.Status != types.TransformationRunning {
		_ = p.queue.Ack(ctx, task.ID, workerID)
		return
	}

	if transformation.Status == types.TransformationPending {
		if err := p.transformations.UpdateStatus(ctx, transformation.ID, types.TransformationRunning, nil); err != nil {
			p.logger.Warn(ctx, "transition to running failed", map[string]interface{}{"transformation_id": transformation.ID, "error": err.Error()})
		}
		p.publish(ctx, payload.WorkspaceID, types.EventTransformationStarted, map[string]interface{}{
			"id": transformation.ID, "kind": string(transformation.Kind), "workspace_id": payload.WorkspaceID,
		})
	}

	result, providerName, failErr := p.attempt(ctx, task.ID, payload, transformation)

	if failErr == nil {
		p.complete(ctx, task.ID, workerID, transformation, result, providerName)
		return
	}

	if apperr.Is(failErr, apperr.Cancelled) {
		p.fail(ctx, task.ID, workerID, transformation, types.TransformationCancelled, "cancelled")
		return
	}

	if task.Attempts < p.opts.MaxAttempts {
		if err := p.queue.Nack(ctx, task.ID, workerID, failErr.Error()); err != nil {
			p.logger.Warn(ctx, "nack failed", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		}
		return
	}

	p.fail(ctx, task.ID, workerID, transformation, types.TransformationFailed, failErr.Error())
}

// attempt iterates the provider selection for transformation.Kind, invoking
// each under a hard timeout and polling the cooperative cancel flag at
// least once per attempt, as spec.md §4.7 and §5 require.
func (p *Pool) attempt(ctx context.Context, taskID string, payload types.TaskPayload, t *types.Transformation) (providers.Result, string, error) {
	candidates := p.registry.Selection(t.Kind)
	if len(candidates) == 0 {
		return providers.Result{}, "", apperr.New(apperr.ProviderExhausted, "no provider available for kind "+string(t.Kind))
	}

	input := inputFor(t)

	var lastErr error
	for _, provider := range candidates {
		cancelled, err := p.queue.CancelRequested(ctx, taskID)
		if err != nil {
			p.logger.Warn(ctx, "cancel-flag check failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
		}
		if cancelled {
			return providers.Result{}, "", apperr.New(apperr.Cancelled, "cancellation requested")
		}

		callCtx, cancel := context.WithTimeout(ctx, p.opts.ProviderTimeout)
		result, err := p.registry.Invoke(callCtx, provider, t.Kind, t.Parameters, input)
		cancel()

		if err == nil {
			return result, provider.Name(), nil
		}

		if err := p.transformations.IncrementAttempts(ctx, t.ID); err != nil {
			p.logger.Warn(ctx, "increment attempts failed", map[string]interface{}{"transformation_id": t.ID, "error": err.Error()})
		}

		lastErr = err
		if apperr.KindOf(err) == apperr.InvalidInput || apperr.KindOf(err) == apperr.Unauthenticated {
			// Deterministic failure: this provider will never succeed for
			// this input, and neither will the next one on the same
			// account-level credentials. Stop trying further providers.
			return providers.Result{}, "", lastErr
		}
		// Transient: the breaker has already recorded the failure via
		// Execute; fall through and try the next candidate.
	}

	return providers.Result{}, "", apperr.Wrap(apperr.ProviderExhausted, "all providers exhausted", lastErr)
}

func (p *Pool) complete(ctx context.Context, taskID, workerID string, t *types.Transformation, result providers.Result, providerName string) {
	if err := p.transformations.UpdateResult(ctx, t.ID, result.Output, providerName, result.TokensIn+result.TokensOut); err != nil {
		p.logger.Error(ctx, "persist result failed", map[string]interface{}{"transformation_id": t.ID, "error": err.Error()})
	}
	if err := p.transformations.UpdateStatus(ctx, t.ID, types.TransformationCompleted, nil); err != nil {
		p.logger.Error(ctx, "transition to completed failed", map[string]interface{}{"transformation_id": t.ID, "error": err.Error()})
	}
	if err := p.queue.Ack(ctx, taskID, workerID); err != nil {
		p.logger.Warn(ctx, "ack failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
	}

	p.publish(ctx, t.WorkspaceID, types.EventTransformationComplete, map[string]interface{}{
		"id":       t.ID,
		"kind":     string(t.Kind),
		"provider": providerName,
		"preview":  preview(result.Output),
	})
}

func (p *Pool) fail(ctx context.Context, taskID, workerID string, t *types.Transformation, status types.TransformationStatus, reason string) {
	if err := p.transformations.UpdateStatus(ctx, t.ID, status, &reason); err != nil {
		p.logger.Error(ctx, "transition to terminal status failed", map[string]interface{}{"transformation_id": t.ID, "status": string(status), "error": err.Error()})
	}
	if err := p.queue.Ack(ctx, taskID, workerID); err != nil {
		p.logger.Warn(ctx, "ack failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
	}

	p.publish(ctx, t.WorkspaceID, types.EventTransformationFailed, map[string]interface{}{
		"id": t.ID, "kind": string(t.Kind), "reason": reason,
	})
}

func (p *Pool) publish(ctx context.Context, workspaceID string, kind types.EventKind, payload map[string]interface{}) {
	if p.bus == nil {
		return
	}
	envelope := &types.EventEnvelope{Kind: kind, Payload: payload}
	if err := p.bus.Publish(ctx, events.WorkspaceTopic(workspaceID), envelope); err != nil {
		p.logger.Warn(ctx, "publish failed", map[string]interface{}{"topic": events.WorkspaceTopic(workspaceID), "kind": string(kind), "error": err.Error()})
	}
}

func preview(output string) string {
	if len(output) <= resultPreviewLen {
		return output
	}
	return output[:resultPreviewLen]
}

func inputFor(t *types.Transformation) string {
	// Document body resolution is a BlobStore concern (spec.md §1,
	// out of scope for this implementation); the transformation's own
	// parameters carry inline source text where no document is attached.
	if text, ok := t.Parameters["source_text"].(string); ok {
		return text
	}
	return ""
}
