package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/logging"
	"github.com/quillforge/quillforge/pkg/types"
)

// RedisEventBus implements EventBus over redis pub/sub, one subscriber
// goroutine per topic shared across every handler registered on it.
type RedisEventBus struct {
	client        *redis.Client
	instanceID    string
	logger        logging.Logger
	subsMu        sync.RWMutex
	subscriptions map[string]map[string]Handler
	cancelMu      sync.Mutex
	cancelFuncs   map[string]context.CancelFunc
}

// RedisConfig holds the connection parameters for the shared broker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisEventBus connects to redis and returns a RedisEventBus tagged
// with instanceID, the value compared against EventEnvelope.OriginInstanceID
// to suppress echo per spec.md §4.8.
func NewRedisEventBus(cfg RedisConfig, instanceID string, logger logging.Logger) (*RedisEventBus, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisEventBus{
		client:        client,
		instanceID:    instanceID,
		logger:        logger,
		subscriptions: make(map[string]map[string]Handler),
		cancelFuncs:   make(map[string]context.CancelFunc),
	}, nil
}

// Publish serializes envelope and publishes it to topic. The envelope's
// OriginInstanceID and EmittedAt are stamped here if unset, so callers
// never have to thread the instance id through every call site.
func (r *RedisEventBus) Publish(ctx context.Context, topic string, envelope *types.EventEnvelope) error {
	stamped := *envelope
	stamped.Topic = topic
	if stamped.OriginInstanceID == "" {
		stamped.OriginInstanceID = r.instanceID
	}
	if stamped.EmittedAt.IsZero() {
		stamped.EmittedAt = time.Now().UTC()
	}

	data, err := json.Marshal(stamped)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "marshal event envelope", err)
	}

	if err := r.client.Publish(ctx, topic, data).Err(); err != nil {
		return apperr.Wrap(apperr.Transient, "publish event", err)
	}

	// Local path: the subscriber goroutine suppresses the broker's echo of
	// envelopes stamped with this instance's id, so deliver those here.
	if stamped.OriginInstanceID == r.instanceID {
		r.subsMu.RLock()
		handlers := make([]Handler, 0, len(r.subscriptions[topic]))
		for _, h := range r.subscriptions[topic] {
			handlers = append(handlers, h)
		}
		r.subsMu.RUnlock()
		for _, h := range handlers {
			go h(context.Background(), &stamped)
		}
	}
	return nil
}

func (r *RedisEventBus) Subscribe(ctx context.Context, topic string, handler Handler) (string, error) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	subID := fmt.Sprintf("sub_%d", time.Now().UnixNano())

	if _, ok := r.subscriptions[topic]; !ok {
		r.subscriptions[topic] = make(map[string]Handler)
	}
	r.subscriptions[topic][subID] = handler

	if len(r.subscriptions[topic]) == 1 {
		if err := r.startTopicSubscriber(topic); err != nil {
			delete(r.subscriptions[topic], subID)
			return "", err
		}
	}

	return subID, nil
}

func (r *RedisEventBus) startTopicSubscriber(topic string) error {
	pubsub := r.client.Subscribe(context.Background(), topic)

	if _, err := pubsub.Receive(context.Background()); err != nil {
		return apperr.Wrap(apperr.Transient, "subscribe to topic", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelMu.Lock()
	r.cancelFuncs[topic] = cancel
	r.cancelMu.Unlock()

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var envelope types.EventEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					if r.logger != nil {
						r.logger.Error(ctx, "discard malformed event envelope", map[string]interface{}{"topic": topic, "error": err.Error()})
					}
					continue
				}

				// Echo suppression: this instance published it and already
				// delivered it on the local path, so a second local delivery
				// would duplicate work. Still at-least-once across
				// instances: only the origin itself is suppressed.
				if envelope.OriginInstanceID == r.instanceID {
					continue
				}

				r.subsMu.RLock()
				handlers := make([]Handler, 0, len(r.subscriptions[topic]))
				for _, h := range r.subscriptions[topic] {
					handlers = append(handlers, h)
				}
				r.subsMu.RUnlock()

				for _, h := range handlers {
					go h(context.Background(), &envelope)
				}
			}
		}
	}()

	return nil
}

func (r *RedisEventBus) Unsubscribe(_ context.Context, topic, subscriptionID string) error {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	topicSubs, ok := r.subscriptions[topic]
	if !ok {
		return apperr.NotFoundf("topic %s", topic)
	}
	if _, ok := topicSubs[subscriptionID]; !ok {
		return apperr.NotFoundf("subscription %s", subscriptionID)
	}
	delete(topicSubs, subscriptionID)

	if len(topicSubs) == 0 {
		delete(r.subscriptions, topic)
		r.cancelMu.Lock()
		if cancel, ok := r.cancelFuncs[topic]; ok {
			cancel()
			delete(r.cancelFuncs, topic)
		}
		r.cancelMu.Unlock()
	}
	return nil
}

func (r *RedisEventBus) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisEventBus) Close() error {
	r.cancelMu.Lock()
	for _, cancel := range r.cancelFuncs {
		cancel()
	}
	r.cancelFuncs = make(map[string]context.CancelFunc)
	r.cancelMu.Unlock()

	return r.client.Close()
}
