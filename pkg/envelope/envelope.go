// Package envelope defines the mesh wire message: a routable envelope
// carrying one of several typed inner payloads, plus a length-prefixed
// CBOR codec for framing it over a transport connection (spec §3 "Message
// envelope", §4.4, §6 mesh framing).
package envelope

import (
	"errors"

	"github.com/google/uuid"

	"github.com/luxfi/zhtp-core/internal/identity"
)

// Kind identifies which inner message variant an Envelope carries (spec
// §3 "Inner message variants").
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
	KindBlockAnnouncement
	KindTransactionAnnouncement
	KindHeadersRequest
	KindHeadersResponse
	KindUBIDistribution
	KindHealthReport
	KindPeerDiscovery
	KindBlockchainQuery
	KindBlockchainChunk
	KindRawPayload
)

var (
	// ErrHopBudgetExceeded is returned by Validate when hop_count > ttl.
	ErrHopBudgetExceeded = errors.New("envelope: hop count exceeds ttl")
	// ErrRouteLoop is returned by Validate when a NodeId repeats in the route.
	ErrRouteLoop = errors.New("envelope: duplicate node in route, loop detected")
)

// Envelope is the routable message unit (spec §3).
type Envelope struct {
	MessageID   uuid.UUID
	Origin      identity.NodeID
	Destination identity.NodeID
	Kind        Kind
	Payload     []byte
	TTL         uint8
	HopCount    uint8
	Route       []identity.NodeID

	// CorrelationID links a Response back to its originating Request
	// (spec §3: "Responses carry a correlation id to the request").
	CorrelationID uuid.UUID
}

// New builds a fresh envelope with a random message id and an empty
// route, origin implicitly at position 0 per spec §3.
func New(origin, destination identity.NodeID, kind Kind, payload []byte, ttl uint8) Envelope {
	return Envelope{
		MessageID:   uuid.New(),
		Origin:      origin,
		Destination: destination,
		Kind:        kind,
		Payload:     payload,
		TTL:         ttl,
	}
}

// Validate enforces the envelope invariants of spec §3: hop count never
// exceeds TTL, and the route list never contains a repeated NodeId.
func (e Envelope) Validate() error {
	if e.HopCount > e.TTL {
		return ErrHopBudgetExceeded
	}
	seen := make(map[identity.NodeID]bool, len(e.Route))
	for _, n := range e.Route {
		if seen[n] {
			return ErrRouteLoop
		}
		seen[n] = true
	}
	return nil
}

// ExceedsHopBudget reports whether this envelope has reached its TTL and
// must be dropped rather than forwarded (spec §4.2 forwarding rule 2).
func (e Envelope) ExceedsHopBudget() bool {
	return e.HopCount >= e.TTL
}

// ContainsNode reports whether id already appears in the route, meaning
// forwarding to it again would loop (spec §4.2 forwarding rule 3).
func (e Envelope) ContainsNode(id identity.NodeID) bool {
	for _, n := range e.Route {
		if n == id {
			return true
		}
	}
	return false
}

// Forwarded returns a copy of e advanced by one hop: hop count
// incremented and self appended to the route (spec §4.2 forwarding rule
// 4). The caller is responsible for the TTL/loop checks beforehand.
func (e Envelope) Forwarded(self identity.NodeID) Envelope {
	next := e
	next.HopCount++
	next.Route = append(append([]identity.NodeID{}, e.Route...), self)
	return next
}
