package mesh

import (
	"errors"
	"sort"

	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/peerregistry"
)

// ErrNoRoute is returned when no reachable peer can serve as the next hop
// (spec §4.4: "find_next_hop_for_destination(dest) -> Peer | NoRoute").
var ErrNoRoute = errors.New("mesh: no route to destination")

// nextHopFanout bounds how many XOR-closest candidates the router asks
// the routing table for before picking the best reachable one.
const nextHopFanout = 8

// Closest reports the XOR-closest-by-NodeId candidates to a target, used
// by the router for next-hop selection. The DHT's routing table
// satisfies this interface.
type Closest interface {
	Closest(target identity.NodeID, k int) []identity.NodeID
}

// Router selects the next hop for a destination by Kademlia XOR distance
// among reachable peers, tie-broken by lower average latency then longer
// uptime (spec §4.4).
type Router struct {
	registry *peerregistry.Registry
	routing  Closest
}

// NewRouter builds a router over the given peer registry and routing
// table.
func NewRouter(registry *peerregistry.Registry, routing Closest) *Router {
	return &Router{registry: registry, routing: routing}
}

// FindNextHop returns the best reachable peer to forward toward dest:
// the XOR-closest candidate that is currently reachable, ties broken by
// lower average latency then longer uptime (spec §4.4).
func (r *Router) FindNextHop(dest identity.NodeID) (peerregistry.Peer, error) {
	candidates := r.routing.Closest(dest, nextHopFanout)

	reachable := make([]peerregistry.Peer, 0, len(candidates))
	distance := make(map[identity.NodeID]identity.NodeID, len(candidates))
	for _, id := range candidates {
		p, ok := r.registry.Get(id)
		if ok && p.Reachable {
			reachable = append(reachable, p)
			distance[id] = xorDistance(dest, id)
		}
	}
	if len(reachable) == 0 {
		return peerregistry.Peer{}, ErrNoRoute
	}

	// XOR distance to dest is the primary order; latency and then uptime
	// only break ties among peers at the same distance (spec §4.4: "closest
	// peer by XOR distance ... ties broken by lower average latency").
	sort.SliceStable(reachable, func(i, j int) bool {
		di, dj := distance[reachable[i].NodeID], distance[reachable[j].NodeID]
		if di != dj {
			return distanceLess(di, dj)
		}
		li, lj := reachable[i].Metrics.AverageLatencyMS(), reachable[j].Metrics.AverageLatencyMS()
		if li != lj {
			return li < lj
		}
		ui, uj := reachable[i].Metrics.FirstSeen, reachable[j].Metrics.FirstSeen
		return ui.Before(uj) // earlier FirstSeen means longer uptime
	})
	return reachable[0], nil
}

// xorDistance computes the bitwise XOR distance between two NodeIDs. It is
// duplicated rather than imported from the DHT's routing table, which keeps
// the equivalent unexported, to avoid adding a package dependency from mesh
// on dht for one trivial computation.
func xorDistance(a, b identity.NodeID) identity.NodeID {
	var d identity.NodeID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// distanceLess reports whether a is a smaller XOR distance than b, comparing
// as a big-endian integer.
func distanceLess(a, b identity.NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
