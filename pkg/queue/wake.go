package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// wakeChannel is the redis pub/sub channel used purely as a lightweight
// wake signal — no payload carries state, it only tells idle workers "a
// claimable row may now exist" so Claim's poll loop doesn't sit at full
// PollInterval latency. This is the split SPEC_FULL.md's DOMAIN STACK
// describes: durable state lives in Postgres, redis is repurposed only for
// the wake-up transport the teacher's broker-backed queue would have given
// for free.
const wakeChannel = "quillforge:queue:wake"

// Notifier posts and receives wake signals.
type Notifier interface {
	Wake(ctx context.Context)
	// Subscribe returns a channel that receives a value each time some
	// instance calls Wake. Callers should still poll on a bounded interval
	// as a fallback (network hiccups must not wedge the worker pool).
	Subscribe(ctx context.Context) <-chan struct{}
}

// RedisNotifier implements Notifier over a redis pub/sub channel.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier builds a RedisNotifier.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Wake(ctx context.Context) {
	n.client.Publish(ctx, wakeChannel, "1")
}

func (n *RedisNotifier) Subscribe(ctx context.Context) <-chan struct{} {
	sub := n.client.Subscribe(ctx, wakeChannel)
	out := make(chan struct{}, 1)

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ch:
				select {
				case out <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
