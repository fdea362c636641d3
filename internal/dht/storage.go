package dht

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/permission"
	"github.com/luxfi/zhtp-core/internal/zlog"
)

// replicationFactor is "k=3 closest known nodes" (spec §4.3 store_data).
const replicationFactor = 3

// retrievalFanout is "up to k=5 closest nodes" (spec §4.3 retrieve_data).
const retrievalFanout = 5

// Network is the narrow peer-RPC interface the DHT needs from the mesh
// layer to replicate and retrieve content-addressed data. The mesh's
// transport/routing details are an external collaborator from the DHT's
// point of view.
type Network interface {
	QueryValue(ctx context.Context, peer identity.NodeID, key string) (value []byte, found bool, err error)
	PushValue(ctx context.Context, peer identity.NodeID, key string, value []byte) error
}

// Store is the Kademlia-style content-addressed key/value layer (spec
// §4.3).
type Store struct {
	mu sync.RWMutex

	local          identity.NodeID
	entries        map[string]*StorageEntry
	contractIndex  map[string][]string // tag -> sorted ids
	currentUsage   uint64
	maxStorageSize uint64

	routing *routingTable
	network Network

	persistPath string

	retrievalCache *lru.Cache[string, []byte]

	log zlog.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithNetwork wires the peer-RPC collaborator used by StoreData/RetrieveData.
func WithNetwork(n Network) Option { return func(s *Store) { s.network = n } }

// WithPersistPath sets the path Store/Remove/Get persist to after every
// mutation (spec §4.3: "persists if a persist path is set").
func WithPersistPath(path string) Option { return func(s *Store) { s.persistPath = path } }

// WithLogger attaches a logger.
func WithLogger(log zlog.Logger) Option { return func(s *Store) { s.log = log } }

// WithCacheSize sets the opportunistic-retrieval cache capacity.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		c, _ := lru.New[string, []byte](n)
		s.retrievalCache = c
	}
}

func newStore(maxStorageSize uint64, local identity.NodeID) *Store {
	c, _ := lru.New[string, []byte](1024)
	return &Store{
		local:          local,
		entries:        make(map[string]*StorageEntry),
		contractIndex:  make(map[string][]string),
		maxStorageSize: maxStorageSize,
		routing:        newRoutingTable(local),
		retrievalCache: c,
		log:            zlog.NewNoOp(),
	}
}

// New creates an empty Store. If a persist path is already on disk, callers
// should use Load instead.
func New(local identity.NodeID, maxStorageSize uint64, opts ...Option) *Store {
	s := newStore(maxStorageSize, local)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reads a persisted Store from path, applying over-capacity eviction
// as described in spec §4.3, then applies the supplied options.
func Load(path string, maxStorageSize uint64, local identity.NodeID, opts ...Option) (*Store, error) {
	s, err := loadFromFile(path, maxStorageSize)
	if err != nil {
		return nil, err
	}
	s.local = local
	s.routing = newRoutingTable(local)
	s.persistPath = path
	s.log = zlog.NewNoOp()
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) persistLocked() error {
	if s.persistPath == "" {
		return nil
	}
	if err := saveToFile(s.persistPath, s); err != nil {
		s.log.Error("dht persistence write failed, retaining in-memory state", "error", err)
		return err
	}
	return nil
}

// Stats returns the current usage summary.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{TotalEntries: len(s.entries), TotalSize: s.currentUsage, MaxSize: s.maxStorageSize}
}

// ObservePeer records a peer for Kademlia routing purposes.
func (s *Store) ObservePeer(id identity.NodeID) { s.routing.Observe(id) }

// Closest returns the k routing-table peers nearest to target by XOR
// distance, letting collaborators (the mesh router) reuse the DHT's
// routing table instead of keeping a second one.
func (s *Store) Closest(target identity.NodeID, k int) []identity.NodeID {
	return s.routing.Closest(target, k)
}

// Store validates permissions and proof requirements, writes the entry,
// updates accounting, and persists if configured (spec §4.3 "store").
func (s *Store) Store(key string, value []byte, proof *Proof, caller permission.Level) error {
	now := time.Now().UTC()

	if isReservedNamespace(key) && caller < permission.LevelAdmin {
		return fmt.Errorf("key %q is in a reserved namespace: admin permission required", key)
	}
	if requiresProof(key, value) {
		if proof == nil {
			return fmt.Errorf("proof required but missing for key %q", key)
		}
		if !verifyProof(proof, key, value, s.local, now) {
			return fmt.Errorf("proof verification failed for key %q", key)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := effectiveSize(len(value))
	var existing uint64
	if old, ok := s.entries[key]; ok {
		existing = effectiveSize(len(old.Value))
	}
	prospective := s.currentUsage - existing + added
	if prospective > s.maxStorageSize {
		return fmt.Errorf("dht capacity exceeded: storing %q would use %d/%d bytes", key, prospective, s.maxStorageSize)
	}

	checksum := cryptoprovider.Hash(value)
	entry := &StorageEntry{
		Key:       key,
		Value:     append([]byte{}, value...),
		CreatedAt: now,
		Metadata: EntryMetadata{
			Size:       len(value),
			Checksum:   checksum,
			LastAccess: now,
		},
		Proof: proof,
	}
	s.entries[key] = entry
	s.currentUsage = prospective

	return s.persistLocked()
}

// Get bumps access counters; if the entry is expired it is removed,
// scrubbed from the contract index, persisted, and None (nil, false) is
// returned (spec §4.3 "get", §8 Expired entry boundary behavior).
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	now := time.Now().UTC()
	if entry.IsExpired(now) {
		s.currentUsage -= effectiveSize(len(entry.Value))
		delete(s.entries, key)
		s.scrubContractIndex(key)
		_ = s.persistLocked()
		return nil, false
	}
	entry.Metadata.AccessCount++
	entry.Metadata.LastAccess = now
	return append([]byte{}, entry.Value...), true
}

// Remove deletes key, updates usage, scrubs the contract index, and
// persists.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	s.currentUsage -= effectiveSize(len(entry.Value))
	delete(s.entries, key)
	s.scrubContractIndex(key)
	return s.persistLocked()
}

// scrubContractIndex removes key from every contract_index tag list. Must
// be called with s.mu held.
func (s *Store) scrubContractIndex(key string) {
	for tag, ids := range s.contractIndex {
		filtered := ids[:0:0]
		for _, id := range ids {
			if id != key {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) == 0 {
			delete(s.contractIndex, tag)
		} else {
			s.contractIndex[tag] = filtered
		}
	}
}

// IndexUnderTag adds key to a contract-discovery tag's id list (spec §6:
// "contract:<id> and contract_summary:<id> are reserved for contract
// discovery indexing").
func (s *Store) IndexUnderTag(tag, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.contractIndex[tag] {
		if id == key {
			return
		}
	}
	s.contractIndex[tag] = append(s.contractIndex[tag], key)
}

// SetExpiry sets or clears an entry's expiry.
func (s *Store) SetExpiry(key string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("unknown key %q", key)
	}
	entry.ExpiresAt = expiresAt
	return s.persistLocked()
}

// UpdateReplicas replaces the replica node list for key.
func (s *Store) UpdateReplicas(key string, replicas []identity.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("unknown key %q", key)
	}
	entry.Replicas = append([]identity.NodeID{}, replicas...)
	return s.persistLocked()
}

// PerformMaintenance sweeps for expired entries, per-bucket failure
// eviction already happens inline via MarkFailed.
func (s *Store) PerformMaintenance() {
	s.mu.Lock()
	now := time.Now().UTC()
	var expired []string
	for k, e := range s.entries {
		if e.IsExpired(now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		e := s.entries[k]
		s.currentUsage -= effectiveSize(len(e.Value))
		delete(s.entries, k)
		s.scrubContractIndex(k)
	}
	changed := len(expired) > 0
	s.mu.Unlock()
	if changed {
		s.mu.Lock()
		_ = s.persistLocked()
		s.mu.Unlock()
	}
}

// StoreData stores content locally under its content hash and fires off
// fire-and-forget replication to the k=3 closest known nodes (spec §4.3
// store_data). A single peer's failure only marks that peer failed; it
// never fails the overall call.
func (s *Store) StoreData(ctx context.Context, contentHash string, data []byte, caller permission.Level) error {
	if err := s.Store(contentHash, data, nil, caller); err != nil {
		return err
	}
	if s.network == nil {
		return nil
	}
	local := s.local
	nodeID := identity.NodeID{}
	copy(nodeID[:], []byte(contentHash))
	targets := s.routing.Closest(nodeID, replicationFactor)

	var g errgroup.Group
	for _, peer := range targets {
		peer := peer
		g.Go(func() error {
			if err := s.network.PushValue(ctx, peer, contentHash, data); err != nil {
				s.routing.MarkFailed(peer)
				s.log.Warn("dht replication push failed", "peer", peer.String(), "error", err)
			}
			return nil
		})
	}
	_ = local
	return g.Wait()
}

// RetrieveData returns a local hit immediately; otherwise it queries up to
// k=5 closest known nodes, short-circuiting on the first VALUE response and
// caching it locally (spec §4.3 retrieve_data).
func (s *Store) RetrieveData(ctx context.Context, contentHash string) ([]byte, bool) {
	if v, ok := s.Get(contentHash); ok {
		return v, true
	}
	if v, ok := s.retrievalCache.Get(contentHash); ok {
		return v, true
	}
	if s.network == nil {
		return nil, false
	}

	var nodeID identity.NodeID
	copy(nodeID[:], []byte(contentHash))
	candidates := s.routing.Closest(nodeID, retrievalFanout)

	type result struct {
		value []byte
		found bool
	}
	resultCh := make(chan result, len(candidates))
	queryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, peer := range candidates {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, found, err := s.network.QueryValue(queryCtx, peer, contentHash)
			if err != nil {
				s.routing.MarkFailed(peer)
				return
			}
			if found {
				select {
				case resultCh <- result{value: value, found: true}:
				default:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for r := range resultCh {
		if r.found {
			cancel()
			s.retrievalCache.Add(contentHash, r.value)
			return r.value, true
		}
	}
	return nil, false
}

// StoreZKValue serializes a proof-bundled record, refusing storage when the
// bundled proof fails verification (spec §4.3 store_zk_value).
func (s *Store) StoreZKValue(key string, value []byte, proof Proof, caller permission.Level) error {
	now := time.Now().UTC()
	if !verifyProof(&proof, key, value, s.local, now) {
		return fmt.Errorf("zk proof verification failed for key %q", key)
	}
	return s.Store(key, value, &proof, caller)
}

// RetrieveZKValue returns the value and its bundled proof, if any.
func (s *Store) RetrieveZKValue(key string) ([]byte, *Proof, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok || entry.IsExpired(time.Now().UTC()) {
		return nil, nil, false
	}
	return append([]byte{}, entry.Value...), entry.Proof, true
}

// NetworkStatus reports a coarse snapshot of the DHT's routing health,
// supplementing the original's get_dht_status (SPEC_FULL §12).
type NetworkStatus struct {
	KnownPeers   int
	TotalEntries int
	UsageBytes   uint64
}

// NetworkStatus returns the current routing/usage snapshot.
func (s *Store) NetworkStatus() NetworkStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	known := 0
	for _, bucket := range s.routing.buckets {
		known += len(bucket)
	}
	return NetworkStatus{KnownPeers: known, TotalEntries: len(s.entries), UsageBytes: s.currentUsage}
}

// ClearCache empties the opportunistic retrieval cache (SPEC_FULL §12).
func (s *Store) ClearCache() {
	s.retrievalCache.Purge()
}

// Save persists the current state to its configured path, or the given
// path if set.
func (s *Store) Save(path string) error {
	if path == "" {
		path = s.persistPath
	}
	if path == "" {
		return fmt.Errorf("no persist path configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return saveToFile(path, s)
}
