package dht

import (
	"sort"

	"github.com/luxfi/zhtp-core/internal/identity"
)

// bucketNode tracks responsiveness for one known peer (spec §3 "DHT peer
// list").
type bucketNode struct {
	id         identity.NodeID
	failures   int
	responsive bool
}

const maxFailuresBeforeEviction = 3

// routingTable is the Kademlia bucket structure, indexed by the XOR
// distance bit-length from the local NodeID.
type routingTable struct {
	local   identity.NodeID
	buckets [256][]*bucketNode
}

func newRoutingTable(local identity.NodeID) *routingTable {
	return &routingTable{local: local}
}

// xorDistance computes the bitwise XOR distance between two NodeIDs.
func xorDistance(a, b identity.NodeID) [32]byte {
	var out [32]byte
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// bucketIndex returns the index of the highest set bit in the XOR
// distance, i.e. which Kademlia bucket a peer falls into.
func bucketIndex(distance [32]byte) int {
	for i, b := range distance {
		if b == 0 {
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				return i*8 + (7 - bit)
			}
		}
	}
	return 255
}

// Observe records a known peer, inserting it into the appropriate bucket
// (capped at BucketSize, oldest responsive entries retained).
func (t *routingTable) Observe(id identity.NodeID) {
	if id == t.local {
		return
	}
	idx := bucketIndex(xorDistance(t.local, id))
	bucket := t.buckets[idx]
	for _, n := range bucket {
		if n.id == id {
			n.responsive = true
			n.failures = 0
			return
		}
	}
	if len(bucket) >= BucketSize {
		return // full bucket; spec does not require a replacement cache here
	}
	t.buckets[idx] = append(bucket, &bucketNode{id: id, responsive: true})
}

// MarkFailed records an RPC failure against id, evicting it from its
// bucket after maxFailuresBeforeEviction consecutive failures (spec §4.3
// "Routing state").
func (t *routingTable) MarkFailed(id identity.NodeID) {
	idx := bucketIndex(xorDistance(t.local, id))
	bucket := t.buckets[idx]
	for i, n := range bucket {
		if n.id != id {
			continue
		}
		n.failures++
		n.responsive = n.failures < maxFailuresBeforeEviction
		if !n.responsive {
			t.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
		}
		return
	}
}

// Closest returns up to k responsive nodes closest (by XOR distance) to
// target, across all buckets.
func (t *routingTable) Closest(target identity.NodeID, k int) []identity.NodeID {
	type scored struct {
		id   identity.NodeID
		dist [32]byte
	}
	var all []scored
	for _, bucket := range t.buckets {
		for _, n := range bucket {
			if !n.responsive {
				continue
			}
			all = append(all, scored{id: n.id, dist: xorDistance(target, n.id)})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		for b := 0; b < 32; b++ {
			if all[i].dist[b] != all[j].dist[b] {
				return all[i].dist[b] < all[j].dist[b]
			}
		}
		return false
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make([]identity.NodeID, 0, len(all))
	for _, s := range all {
		out = append(out, s.id)
	}
	return out
}
