package dht

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/luxfi/zhtp-core/internal/identity"
)

// persistVersion is the only version this implementation understands
// (spec §6: "A load with an unknown version fails").
const persistVersion uint32 = 1

// persistedEntry is the wire shape of a StorageEntry, flattened for CBOR.
type persistedEntry struct {
	Key              string               `cbor:"key"`
	Value            []byte               `cbor:"value"`
	CreatedAtUnix    int64                `cbor:"created_at"`
	HasExpiry        bool                 `cbor:"has_expiry"`
	ExpiresAtUnix    int64                `cbor:"expires_at"`
	ChunkID          string               `cbor:"chunk_id"`
	Size             int                  `cbor:"size"`
	Checksum         [32]byte             `cbor:"checksum"`
	Tier             string               `cbor:"tier"`
	ReplicaLocations []string             `cbor:"replica_locations"`
	AccessCount      uint64               `cbor:"access_count"`
	LastAccessUnixNano int64              `cbor:"last_access"`
	Replicas         [][32]byte           `cbor:"replicas"`
	HasProof         bool                 `cbor:"has_proof"`
	ProofType        ProofType            `cbor:"proof_type"`
	ProofBytes       []byte               `cbor:"proof_bytes"`
	ProofPublic      []byte               `cbor:"proof_public"`
}

type tagIDs struct {
	Tag string   `cbor:"tag"`
	IDs []string `cbor:"ids"`
}

// container is the versioned persistence format of spec §6:
// PersistedDhtStorage { version, entries: sorted Vec<(key, entry)>, contract_index }.
type container struct {
	Version       uint32           `cbor:"version"`
	Entries       []persistedEntry `cbor:"entries"`
	ContractIndex []tagIDs         `cbor:"contract_index"`
}

func toPersisted(e *StorageEntry) persistedEntry {
	pe := persistedEntry{
		Key:              e.Key,
		Value:            e.Value,
		CreatedAtUnix:    e.CreatedAt.Unix(),
		ChunkID:          e.Metadata.ChunkID,
		Size:             e.Metadata.Size,
		Checksum:         e.Metadata.Checksum,
		Tier:             e.Metadata.Tier,
		ReplicaLocations: e.Metadata.ReplicaLocations,
		AccessCount:      e.Metadata.AccessCount,
		LastAccessUnixNano: e.Metadata.LastAccess.UnixNano(),
	}
	if e.ExpiresAt != nil {
		pe.HasExpiry = true
		pe.ExpiresAtUnix = e.ExpiresAt.Unix()
	}
	for _, r := range e.Replicas {
		pe.Replicas = append(pe.Replicas, [32]byte(r))
	}
	if e.Proof != nil {
		pe.HasProof = true
		pe.ProofType = e.Proof.Type
		pe.ProofBytes = e.Proof.Bytes
		pe.ProofPublic = e.Proof.PublicInputs
	}
	return pe
}

func fromPersisted(pe persistedEntry) *StorageEntry {
	e := &StorageEntry{
		Key:       pe.Key,
		Value:     pe.Value,
		CreatedAt: time.Unix(pe.CreatedAtUnix, 0).UTC(),
		Metadata: EntryMetadata{
			ChunkID:          pe.ChunkID,
			Size:             pe.Size,
			Checksum:         pe.Checksum,
			Tier:             pe.Tier,
			ReplicaLocations: pe.ReplicaLocations,
			AccessCount:      pe.AccessCount,
			LastAccess:       time.Unix(0, pe.LastAccessUnixNano).UTC(),
		},
	}
	if pe.HasExpiry {
		t := time.Unix(pe.ExpiresAtUnix, 0).UTC()
		e.ExpiresAt = &t
	}
	for _, r := range pe.Replicas {
		e.Replicas = append(e.Replicas, identity.NodeID(r))
	}
	if pe.HasProof {
		e.Proof = &Proof{Type: pe.ProofType, Bytes: pe.ProofBytes, PublicInputs: pe.ProofPublic}
	}
	return e
}

// saveToFile atomically persists the container: write to <path>.tmp, fsync
// the file, rename over <path>, then fsync the parent directory (spec §4.3
// Atomic persistence). Callers must hold d.mu (read or write) already;
// this function does not lock it, so it can be called from within
// Store/Get/Remove while their write lock is held.
func saveToFile(path string, d *Store) error {
	entries := make([]persistedEntry, 0, len(d.entries))
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entries = append(entries, toPersisted(d.entries[k]))
	}

	tags := make([]string, 0, len(d.contractIndex))
	for tag := range d.contractIndex {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	tagEntries := make([]tagIDs, 0, len(tags))
	for _, tag := range tags {
		ids := append([]string{}, d.contractIndex[tag]...)
		sort.Strings(ids)
		tagEntries = append(tagEntries, tagIDs{Tag: tag, IDs: ids})
	}

	c := container{Version: persistVersion, Entries: entries, ContractIndex: tagEntries}
	data, err := cbor.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal dht container: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open tmp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename tmp file: %w", err)
	}
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("open parent dir: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("fsync parent dir: %w", err)
	}
	return nil
}

// loadFromFile loads the container at path, unlinking any orphan .tmp file
// found alongside it, then evicting over-capacity entries in ascending
// last-access order and persisting the post-eviction state (spec §4.3
// Capacity and eviction, scenario 3 in spec §8).
func loadFromFile(path string, maxStorageSize uint64) (*Store, error) {
	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); err == nil {
		_ = os.Remove(tmpPath) // spec §7: orphan .tmp at load is unlinked, not surfaced
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dht file: %w", err)
	}
	var c container
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal dht container: %w", err)
	}
	if c.Version != persistVersion {
		return nil, fmt.Errorf("unsupported dht persistence version %d", c.Version)
	}

	d := newStore(maxStorageSize, identity.NodeID{})
	for _, pe := range c.Entries {
		e := fromPersisted(pe)
		d.entries[e.Key] = e
		d.currentUsage += effectiveSize(len(e.Value))
	}
	for _, t := range c.ContractIndex {
		d.contractIndex[t.Tag] = append([]string{}, t.IDs...)
	}

	if d.currentUsage > maxStorageSize {
		evictUntilUnderCapacity(d)
		if err := saveToFile(path, d); err != nil {
			return nil, fmt.Errorf("persist post-eviction state: %w", err)
		}
	}
	return d, nil
}

// evictUntilUnderCapacity removes entries in ascending last-access order
// until current usage is at or below capacity, scrubbing the contract
// index for each evicted key (spec §4.3).
func evictUntilUnderCapacity(d *Store) {
	type kv struct {
		key        string
		lastAccess time.Time
	}
	ordered := make([]kv, 0, len(d.entries))
	for k, e := range d.entries {
		ordered = append(ordered, kv{key: k, lastAccess: e.Metadata.LastAccess})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].lastAccess.Before(ordered[j].lastAccess) })

	for _, item := range ordered {
		if d.currentUsage <= d.maxStorageSize {
			break
		}
		e := d.entries[item.key]
		d.currentUsage -= effectiveSize(len(e.Value))
		delete(d.entries, item.key)
		d.scrubContractIndex(item.key)
	}
}
