package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

// MemoryEventBus is an in-process EventBus for tests, delivering
// synchronously to every handler on the topic (no broker round trip, no
// echo suppression needed since there is only ever one instance).
type MemoryEventBus struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]Handler
}

// NewMemoryEventBus builds a MemoryEventBus.
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{subscriptions: make(map[string]map[string]Handler)}
}

func (m *MemoryEventBus) Publish(ctx context.Context, topic string, envelope *types.EventEnvelope) error {
	stamped := *envelope
	stamped.Topic = topic
	if stamped.EmittedAt.IsZero() {
		stamped.EmittedAt = time.Now().UTC()
	}

	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.subscriptions[topic]))
	for _, h := range m.subscriptions[topic] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, &stamped)
	}
	return nil
}

func (m *MemoryEventBus) Subscribe(_ context.Context, topic string, handler Handler) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[topic]; !ok {
		m.subscriptions[topic] = make(map[string]Handler)
	}
	subID := fmt.Sprintf("sub_%d", time.Now().UnixNano())
	m.subscriptions[topic][subID] = handler
	return subID, nil
}

func (m *MemoryEventBus) Unsubscribe(_ context.Context, topic, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	topicSubs, ok := m.subscriptions[topic]
	if !ok {
		return apperr.NotFoundf("topic %s", topic)
	}
	if _, ok := topicSubs[subscriptionID]; !ok {
		return apperr.NotFoundf("subscription %s", subscriptionID)
	}
	delete(topicSubs, subscriptionID)
	return nil
}

func (m *MemoryEventBus) Health(context.Context) error { return nil }
func (m *MemoryEventBus) Close() error                 { return nil }
