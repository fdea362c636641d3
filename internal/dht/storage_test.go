package dht

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/permission"
)

func TestStoreGetRemoveRoundTrip(t *testing.T) {
	var node identity.NodeID
	for i := range node {
		node[i] = 1
	}
	s := New(node, 1_000_000)

	require.NoError(t, s.Store("key1", []byte("hello"), nil, permission.LevelUser))

	v, ok := s.Get("key1")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)

	stats := s.Stats()
	require.Equal(t, 1, stats.TotalEntries)
	require.Equal(t, uint64(5+MetadataOverhead), stats.TotalSize)

	require.NoError(t, s.Remove("key1"))
	stats = s.Stats()
	require.Equal(t, 0, stats.TotalEntries)
	require.Equal(t, uint64(0), stats.TotalSize)
}

func TestStoreRejectsOverCapacity(t *testing.T) {
	s := New(identity.NodeID{}, 100)
	err := s.Store("k", make([]byte, 10), nil, permission.LevelUser)
	require.Error(t, err)
}

func TestStoreAtExactCapacityBoundary(t *testing.T) {
	cap := uint64(5 + MetadataOverhead)
	s := New(identity.NodeID{}, cap)
	require.NoError(t, s.Store("k", []byte("hello"), nil, permission.LevelUser))

	s2 := New(identity.NodeID{}, cap-1)
	require.Error(t, s2.Store("k", []byte("hello"), nil, permission.LevelUser))
}

func TestGetExpiredEntryReturnsNoneAndRemoves(t *testing.T) {
	s := New(identity.NodeID{}, 1_000_000)
	require.NoError(t, s.Store("k", []byte("v"), nil, permission.LevelUser))
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.SetExpiry("k", &past))

	_, ok := s.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, s.Stats().TotalEntries)
}

func TestReservedNamespaceRequiresAdmin(t *testing.T) {
	s := New(identity.NodeID{}, 1_000_000)
	err := s.Store("admin", []byte("x"), nil, permission.LevelUser)
	require.Error(t, err)
	require.NoError(t, s.Store("admin", []byte("x"), nil, permission.LevelAdmin))
}

func TestProofRequiredForSensitiveValue(t *testing.T) {
	s := New(identity.NodeID{}, 1_000_000)
	err := s.Store("k", []byte("contains password field"), nil, permission.LevelUser)
	require.Error(t, err)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dht.bin")

	var node identity.NodeID
	node[0] = 7
	s := New(node, 1_000_000, WithPersistPath(path))
	require.NoError(t, s.Store("a", []byte("1"), nil, permission.LevelUser))
	require.NoError(t, s.Store("b", []byte("22"), nil, permission.LevelUser))

	loaded, err := Load(path, 1_000_000, node)
	require.NoError(t, err)
	require.Equal(t, s.Stats().TotalEntries, loaded.Stats().TotalEntries)
	require.Equal(t, s.Stats().TotalSize, loaded.Stats().TotalSize)

	v, ok := loaded.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestLoadEvictsOverCapacityInLastAccessOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dht.bin")

	s := New(identity.NodeID{}, 10_000, WithPersistPath(path))
	require.NoError(t, s.Store("old", make([]byte, 400), nil, permission.LevelUser))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Store("mid", make([]byte, 400), nil, permission.LevelUser))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Store("new", make([]byte, 400), nil, permission.LevelUser))

	// touch "new" and "mid" so "old" has the stalest last-access
	_, _ = s.Get("new")
	_, _ = s.Get("mid")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path, 1200, identity.NodeID{})
	require.NoError(t, err)
	require.LessOrEqual(t, loaded.Stats().TotalSize, uint64(1200))
	_, ok := loaded.Get("old")
	require.False(t, ok, "oldest last-access entry should have been evicted first")
}

func TestLoadUnknownVersionFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dht.bin")
	data, err := cbor.Marshal(container{Version: persistVersion + 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	_, err = Load(path, 1000, identity.NodeID{})
	require.Error(t, err)
}

func TestOrphanTmpFileUnlinkedOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dht.bin")
	s := New(identity.NodeID{}, 1000, WithPersistPath(path))
	require.NoError(t, s.Store("k", []byte("v"), nil, permission.LevelUser))

	require.NoError(t, os.WriteFile(path+".tmp", []byte("garbage"), 0o600))
	_, err := Load(path, 1000, identity.NodeID{})
	require.NoError(t, err)
	_, statErr := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(statErr))
}
