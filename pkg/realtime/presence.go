package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/logging"
	"github.com/quillforge/quillforge/pkg/types"
)

// presenceGossipTopic is the shared channel every instance publishes its
// periodic summary to and subscribes on to learn of others. spec.md §4.10
// names the mechanism "summaries on instance.* topics"; a per-instance
// topic only helps other instances find it if they already know the
// instance exists, which requires a discovery layer this implementation
// does not have. A single well-known broadcast topic is the pragmatic
// substitute, gossip-shaped (periodic, eventually-consistent, bounded
// staleness) without inventing a registry.
const presenceGossipTopic = "instance.presence"

type presenceSummary struct {
	InstanceID string              `json:"instance_id"`
	Workspaces map[string][]string `json:"workspaces"`
}

// PresenceTracker maintains the per-workspace set of connected users local
// to this instance, and an eventually-consistent view of other instances'
// sets via periodic gossip.
type PresenceTracker struct {
	instanceID     string
	bus            events.EventBus
	logger         logging.Logger
	gossipInterval time.Duration

	mu     sync.RWMutex
	local  map[string]map[string]struct{}            // workspace_id -> user_id set, this instance
	remote map[string]map[string]map[string]struct{} // instance_id -> workspace_id -> user_id set

	subID  string
	stopCh chan struct{}
}

// NewPresenceTracker builds a PresenceTracker. instanceID distinguishes
// this process's own summaries from ones it receives over gossip.
func NewPresenceTracker(instanceID string, bus events.EventBus, logger logging.Logger, gossipInterval time.Duration) *PresenceTracker {
	if gossipInterval <= 0 {
		gossipInterval = 10 * time.Second
	}
	return &PresenceTracker{
		instanceID:     instanceID,
		bus:            bus,
		logger:         logger,
		gossipInterval: gossipInterval,
		local:          make(map[string]map[string]struct{}),
		remote:         make(map[string]map[string]map[string]struct{}),
		stopCh:         make(chan struct{}),
	}
}

// Start subscribes to the gossip topic and begins periodically publishing
// this instance's local summary.
func (p *PresenceTracker) Start(ctx context.Context) error {
	subID, err := p.bus.Subscribe(ctx, presenceGossipTopic, p.onGossip)
	if err != nil {
		return err
	}
	p.subID = subID
	go p.gossipLoop(ctx)
	return nil
}

// Stop unsubscribes from gossip and halts the periodic publish loop.
func (p *PresenceTracker) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	if p.subID != "" {
		_ = p.bus.Unsubscribe(context.Background(), presenceGossipTopic, p.subID)
	}
}

// Join records a user as connected to workspaceID on this instance. Called
// by Hub on session accept; Hub is responsible for publishing the
// presence.join EventEnvelope itself, so the tracker's own state and the
// broker-visible event stay in sync without this method touching the bus.
func (p *PresenceTracker) Join(workspaceID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local[workspaceID] == nil {
		p.local[workspaceID] = make(map[string]struct{})
	}
	p.local[workspaceID][userID] = struct{}{}
}

// Leave records a user as disconnected from workspaceID on this instance.
func (p *PresenceTracker) Leave(workspaceID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if users, ok := p.local[workspaceID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.local, workspaceID)
		}
	}
}

// Query returns the approximate set of users connected to workspaceID
// across every instance this tracker has heard from: this instance's own
// local set unioned with the last-received remote summaries. Bounded
// staleness: a remote instance that disconnected a user since its last
// gossip still appears present until the next summary arrives.
func (p *PresenceTracker) Query(workspaceID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]struct{})
	for userID := range p.local[workspaceID] {
		seen[userID] = struct{}{}
	}
	for _, workspaces := range p.remote {
		for userID := range workspaces[workspaceID] {
			seen[userID] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for userID := range seen {
		out = append(out, userID)
	}
	return out
}

func (p *PresenceTracker) gossipLoop(ctx context.Context) {
	ticker := time.NewTicker(p.gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishSummary(ctx)
		}
	}
}

func (p *PresenceTracker) publishSummary(ctx context.Context) {
	p.mu.RLock()
	workspaces := make(map[string][]string, len(p.local))
	for workspaceID, users := range p.local {
		ids := make([]string, 0, len(users))
		for userID := range users {
			ids = append(ids, userID)
		}
		workspaces[workspaceID] = ids
	}
	p.mu.RUnlock()

	summary := presenceSummary{InstanceID: p.instanceID, Workspaces: workspaces}
	raw, err := json.Marshal(summary)
	if err != nil {
		p.logger.Warn(ctx, "marshal presence summary failed", map[string]interface{}{"error": err.Error()})
		return
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.logger.Warn(ctx, "decode presence summary into envelope payload failed", map[string]interface{}{"error": err.Error()})
		return
	}

	envelope := &types.EventEnvelope{Kind: types.EventPresenceGossip, Payload: payload, OriginInstanceID: p.instanceID}
	if err := p.bus.Publish(ctx, presenceGossipTopic, envelope); err != nil {
		p.logger.Warn(ctx, "publish presence summary failed", map[string]interface{}{"error": err.Error()})
	}
}

func (p *PresenceTracker) onGossip(ctx context.Context, envelope *types.EventEnvelope) {
	if envelope.OriginInstanceID == p.instanceID {
		return
	}

	raw, err := json.Marshal(envelope.Payload)
	if err != nil {
		return
	}
	var summary presenceSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		p.logger.Warn(ctx, "decode remote presence summary failed", map[string]interface{}{"error": err.Error()})
		return
	}

	remote := make(map[string]map[string]struct{}, len(summary.Workspaces))
	for workspaceID, users := range summary.Workspaces {
		set := make(map[string]struct{}, len(users))
		for _, userID := range users {
			set[userID] = struct{}{}
		}
		remote[workspaceID] = set
	}

	p.mu.Lock()
	p.remote[summary.InstanceID] = remote
	p.mu.Unlock()
}
