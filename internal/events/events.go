// Package events implements the orchestrator's inter-component message bus
// (spec §4.1, §5: "multi-producer, single-consumer per component").
package events

import "sync"

// ComponentID names a component in the orchestrator's component map.
type ComponentID string

// Kind enumerates the event variants carried on the bus.
type Kind string

const (
	KindComponentStarted   Kind = "component_started"
	KindComponentStopped   Kind = "component_stopped"
	KindComponentError     Kind = "component_error"
	KindPeerConnected      Kind = "peer_connected"
	KindPeerDisconnected   Kind = "peer_disconnected"
	KindBlockAccepted      Kind = "block_accepted"
	KindTransactionGossip  Kind = "transaction_gossip"
	KindEmergencyStop      Kind = "emergency_stop"
	KindHealthCheckFailed  Kind = "health_check_failed"
	KindHealthCheckRestore Kind = "health_check_restored"
)

// Event is a typed message carried on the bus. Payload is variant-specific
// and left as interface{} the same way the mesh envelope's inner message is
// a sum type (spec §3); consumers type-switch on Kind.
type Event struct {
	Kind    Kind
	Source  ComponentID
	Target  ComponentID // empty for broadcast
	Payload interface{}
}

const busCapacity = 256

// Bus is the orchestrator's inter-component event bus. Each component gets
// its own single-consumer channel, buffered to busCapacity events; any
// number of producers (the orchestrator, other components) may publish to
// it. The bus is bounded: an event sent to a full channel is dropped.
type Bus struct {
	mu   sync.RWMutex
	subs map[ComponentID]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[ComponentID]chan Event)}
}

// Subscribe registers id as a consumer and returns its inbound channel.
// Re-subscribing the same id replaces its channel.
func (b *Bus) Subscribe(id ComponentID) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, busCapacity)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes and closes id's inbound channel.
func (b *Bus) Unsubscribe(id ComponentID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Send delivers ev to a single component by id. It is a non-blocking
// best-effort send: a full subscriber channel drops the event rather than
// stalling the publisher, since the bus has no delivery guarantee beyond
// "at most once, in publish order, per consumer".
func (b *Bus) Send(id ComponentID, ev Event) bool {
	b.mu.RLock()
	ch, ok := b.subs[id]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	ev.Target = id
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// Broadcast fans ev out to every subscriber except ev.Source.
func (b *Bus) Broadcast(ev Event) {
	b.mu.RLock()
	targets := make([]ComponentID, 0, len(b.subs))
	for id := range b.subs {
		if id != ev.Source {
			targets = append(targets, id)
		}
	}
	b.mu.RUnlock()
	for _, id := range targets {
		b.Send(id, ev)
	}
}
