// Package dht implements the Kademlia-style key/value storage layer (spec
// §4.3): replication, versioned atomic persistence, quota enforcement with
// LRU eviction, proof validation on store, and content-addressed retrieval
// with opportunistic caching.
package dht

import (
	"time"

	"github.com/luxfi/zhtp-core/internal/identity"
)

// MetadataOverhead is the fixed per-entry accounting overhead (spec §4.3,
// §8 invariant: current_usage == Σ(value.len() + METADATA_OVERHEAD)).
const MetadataOverhead = 256

// BucketSize is Kademlia's k (spec §3, §4.3: "bucket size k (default 20)").
const BucketSize = 20

// EntryMetadata is the bookkeeping attached to every StorageEntry (spec §3).
type EntryMetadata struct {
	ChunkID          string
	Size             int
	Checksum         [32]byte
	Tier             string
	ReplicaLocations []string
	AccessCount      uint64
	LastAccess       time.Time
}

// AccessControlRecord optionally restricts who may read an entry. The
// authorization policy itself (RBAC, ACL, capability token) is left to the
// host; this is just the record shape the spec requires be present.
type AccessControlRecord struct {
	Owner       identity.NodeID
	AllowedList []identity.NodeID
}

// StorageEntry is one DHT key/value record (spec §3 "DHT storage entry").
type StorageEntry struct {
	Key           string
	Value         []byte
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	Metadata      EntryMetadata
	Proof         *Proof
	Replicas      []identity.NodeID
	AccessControl *AccessControlRecord
}

// IsExpired reports whether the entry must be removed on next read.
func (e *StorageEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// effectiveSize is what an entry counts against capacity: value bytes plus
// the fixed metadata overhead (spec §4.3 Capacity and eviction).
func effectiveSize(valueLen int) uint64 {
	return uint64(valueLen) + MetadataOverhead
}

// Stats is the summary exposed to callers (used by end-to-end scenario 1 in
// spec §8).
type Stats struct {
	TotalEntries int
	TotalSize    uint64
	MaxSize      uint64
}
