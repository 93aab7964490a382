// Package events implements the EventBus of spec.md §4.8: topic-based
// pub/sub over a shared broker, with origin-instance echo suppression and
// at-least-once delivery.
package events

import (
	"context"

	"github.com/quillforge/quillforge/pkg/types"
)

// Handler processes one delivered envelope.
type Handler func(ctx context.Context, envelope *types.EventEnvelope)

// EventBus publishes and subscribes to topics. Topics follow spec.md §4.8:
// "ws.{workspace_id}", "ws.{workspace_id}.user.{user_id}",
// "instance.{instance_id}".
type EventBus interface {
	Publish(ctx context.Context, topic string, envelope *types.EventEnvelope) error
	Subscribe(ctx context.Context, topic string, handler Handler) (subscriptionID string, err error)
	Unsubscribe(ctx context.Context, topic, subscriptionID string) error
	Health(ctx context.Context) error
	Close() error
}

// WorkspaceTopic returns the topic for all events destined for a workspace.
func WorkspaceTopic(workspaceID string) string { return "ws." + workspaceID }

// UserTopic returns the topic for events destined for one user across all
// of their sessions.
func UserTopic(workspaceID, userID string) string {
	return "ws." + workspaceID + ".user." + userID
}

// InstanceTopic returns the control-plane topic for one process instance.
func InstanceTopic(instanceID string) string { return "instance." + instanceID }
