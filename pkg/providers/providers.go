// Package providers implements the ProviderRegistry of spec.md §4.6: an
// ordered set of AI provider adapters, each guarded by its own circuit
// breaker, with running token counters (the cost counter is never
// incremented and reads zero).
package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

// Result is what a provider invocation yields on success.
type Result struct {
	Output     string
	TokensIn   int64
	TokensOut  int64
}

// Provider is one external AI service adapter.
type Provider interface {
	Name() string
	Capabilities() map[types.TransformationKind]bool
	Invoke(ctx context.Context, kind types.TransformationKind, params types.Params, input string) (Result, error)
}

// Counters are the per-provider usage counters of spec.md §4.6, updated
// with best-effort atomics, never a source of truth for billing. TokensIn
// and TokensOut accumulate on every successful Invoke; Cost is not
// incremented anywhere in this package and always reads zero.
type Counters struct {
	TokensIn  int64
	TokensOut int64
	Cost      int64 // integer micro-cents, avoids float drift under atomics
}

type entry struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	tokensIn  int64
	tokensOut int64
	costMicros int64
}

// Registry holds an ordered list of providers and their breaker/counter
// state.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
}

// BreakerSettings configures the dedicated circuit breaker Register builds
// for each provider entry, with the K-consecutive-failures / cool-down
// parameters spec.md §4.6 names.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	CooldownPeriod      time.Duration
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a provider to the end of the ordered list, building it a
// dedicated circuit breaker per spec.md §4.6's {closed, open, half_open}
// state machine (K consecutive failures trips it; after the cooldown
// elapses, the next call probes in half-open state).
func (r *Registry) Register(p Provider, settings BreakerSettings) {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.CooldownPeriod == 0 {
		settings.CooldownPeriod = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    p.Name(),
		Timeout: settings.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{provider: p, breaker: breaker})
}

// Selection returns, in registration order, every provider whose capability
// set includes kind and whose breaker is not open.
func (r *Registry) Selection(kind types.TransformationKind) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	for _, e := range r.entries {
		if !e.provider.Capabilities()[kind] {
			continue
		}
		if e.breaker.State() == gobreaker.StateOpen {
			continue
		}
		out = append(out, e.provider)
	}
	return out
}

// Invoke calls provider through its breaker, recording success/failure and
// accumulating token counters on success.
func (r *Registry) Invoke(ctx context.Context, provider Provider, kind types.TransformationKind, params types.Params, input string) (Result, error) {
	e := r.entryFor(provider)
	if e == nil {
		return Result{}, apperr.New(apperr.Fatal, "invoke: provider not registered")
	}

	raw, err := e.breaker.Execute(func() (interface{}, error) {
		return provider.Invoke(ctx, kind, params, input)
	})
	if err != nil {
		return Result{}, err
	}

	result := raw.(Result)
	atomic.AddInt64(&e.tokensIn, result.TokensIn)
	atomic.AddInt64(&e.tokensOut, result.TokensOut)
	return result, nil
}

func (r *Registry) entryFor(provider Provider) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.provider == provider {
			return e
		}
	}
	return nil
}

// Counters returns a best-effort snapshot of a provider's running counters,
// by name.
func (r *Registry) Counters(name string) (Counters, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.provider.Name() == name {
			return Counters{
				TokensIn:  atomic.LoadInt64(&e.tokensIn),
				TokensOut: atomic.LoadInt64(&e.tokensOut),
				Cost:      atomic.LoadInt64(&e.costMicros),
			}, true
		}
	}
	return Counters{}, false
}

// BreakerState reports a provider's current breaker state, by name, for the
// read-only GET /api/providers surface (SPEC_FULL.md SUPPLEMENTED FEATURES).
func (r *Registry) BreakerState(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.provider.Name() == name {
			switch e.breaker.State() {
			case gobreaker.StateOpen:
				return "open", true
			case gobreaker.StateHalfOpen:
				return "half_open", true
			default:
				return "closed", true
			}
		}
	}
	return "", false
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.provider.Name()
	}
	return names
}
