// Package peerregistry is the unified in-memory directory of known peers
// and their endpoints, shared by the mesh server and the DHT router (spec
// §2: "peer registry", §4.4: router's closest-reachable-peer selection).
package peerregistry

import (
	"sort"
	"sync"
	"time"

	"github.com/luxfi/zhtp-core/internal/identity"
)

// Transport names a connection medium, used for per-protocol reward
// multipliers and best-transport selection (spec §4.2).
type Transport string

const (
	TransportBLE        Transport = "ble"
	TransportBTClassic  Transport = "bt-classic"
	TransportWiFiDirect Transport = "wifi-direct"
	TransportLoRa       Transport = "lora"
	TransportSatellite  Transport = "satellite"
	TransportQUIC       Transport = "quic"
	TransportTCP        Transport = "tcp"
	TransportUDP        Transport = "udp"
)

// QualityMetrics tracks the rolling reliability figures used both for
// reward quality multipliers and for the router's tie-break rule (spec
// §4.2, §4.4).
type QualityMetrics struct {
	SuccessCount   uint64
	FailureCount   uint64
	LatencySumMS   uint64
	LatencySamples uint64
	FirstSeen      time.Time
	LastSeen       time.Time
}

// RecordSuccess folds a successful forward's latency into the rolling
// stats (spec §4.2: "call quality_metrics.record_success(latency_ms)").
func (q *QualityMetrics) RecordSuccess(latencyMS uint64) {
	q.SuccessCount++
	q.LatencySumMS += latencyMS
	q.LatencySamples++
	q.LastSeen = time.Now().UTC()
}

// RecordFailure marks a routing failure (spec §4.2: "record_failure()").
func (q *QualityMetrics) RecordFailure() {
	q.FailureCount++
	q.LastSeen = time.Now().UTC()
}

// SuccessRatePercent is the success rate over all recorded attempts, 0 if
// none have been recorded.
func (q QualityMetrics) SuccessRatePercent() float64 {
	total := q.SuccessCount + q.FailureCount
	if total == 0 {
		return 0
	}
	return float64(q.SuccessCount) / float64(total) * 100
}

// AverageLatencyMS is the mean recorded latency, 0 if no samples exist.
func (q QualityMetrics) AverageLatencyMS() float64 {
	if q.LatencySamples == 0 {
		return 0
	}
	return float64(q.LatencySumMS) / float64(q.LatencySamples)
}

// UptimePercent approximates uptime by the success rate over all recorded
// attempts; a peer with no recorded attempts reports 100%.
func (q QualityMetrics) UptimePercent() float64 {
	total := q.SuccessCount + q.FailureCount
	if total == 0 {
		return 100
	}
	return q.SuccessRatePercent()
}

// PeerEndpoint is a single reachable address for a peer over one
// transport.
type PeerEndpoint struct {
	Transport Transport
	Address   string
}

// Peer is everything the mesh and router know about a remote node.
type Peer struct {
	NodeID    identity.NodeID
	Endpoints []PeerEndpoint
	Reachable bool
	Metrics   QualityMetrics
	Failures  int
}

// BestEndpoint returns the peer's first endpoint matching any of the
// preferred transports, in preference order, or its first endpoint if
// none match.
func (p Peer) BestEndpoint(preferred ...Transport) (PeerEndpoint, bool) {
	for _, want := range preferred {
		for _, ep := range p.Endpoints {
			if ep.Transport == want {
				return ep, true
			}
		}
	}
	if len(p.Endpoints) > 0 {
		return p.Endpoints[0], true
	}
	return PeerEndpoint{}, false
}

const maxFailuresBeforeUnreachable = 3

// Registry is the shared, concurrency-safe peer table.
type Registry struct {
	mu    sync.RWMutex
	peers map[identity.NodeID]*Peer
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[identity.NodeID]*Peer)}
}

// Upsert adds a peer or merges endpoints into an existing one.
func (r *Registry) Upsert(id identity.NodeID, endpoints []PeerEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		p = &Peer{NodeID: id, Reachable: true, Metrics: QualityMetrics{FirstSeen: time.Now().UTC()}}
		r.peers[id] = p
	}
	p.Reachable = true
	p.Failures = 0
	for _, ep := range endpoints {
		if !containsEndpoint(p.Endpoints, ep) {
			p.Endpoints = append(p.Endpoints, ep)
		}
	}
}

func containsEndpoint(endpoints []PeerEndpoint, ep PeerEndpoint) bool {
	for _, e := range endpoints {
		if e == ep {
			return true
		}
	}
	return false
}

// Remove drops a peer entirely (used on emergency stop / disconnect-all).
func (r *Registry) Remove(id identity.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// RemoveAll clears the registry (spec §4.2: "Emergency stop immediately
// clears peers and blocks new connections").
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[identity.NodeID]*Peer)
}

// Get returns a copy of a peer's current state.
func (r *Registry) Get(id identity.NodeID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// RecordSuccess updates a peer's quality metrics after a successful
// forward.
func (r *Registry) RecordSuccess(id identity.NodeID, latencyMS uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		p.Metrics.RecordSuccess(latencyMS)
	}
}

// MarkFailed records a routing/send failure and evicts the peer from
// "reachable" status after repeated failures (spec §4.2 failure
// semantics, §4.3 routing state).
func (r *Registry) MarkFailed(id identity.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.Metrics.RecordFailure()
	p.Failures++
	if p.Failures >= maxFailuresBeforeUnreachable {
		p.Reachable = false
	}
}

// Reachable lists all currently reachable peers.
func (r *Registry) Reachable() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Reachable {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID.String() < out[j].NodeID.String() })
	return out
}

// Count returns the number of known peers, reachable or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
