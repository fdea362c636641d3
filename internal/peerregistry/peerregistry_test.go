package peerregistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/identity"
)

func TestUpsertMergesEndpointsAndReconnectsPeer(t *testing.T) {
	r := New()
	var id identity.NodeID
	id[0] = 1

	r.Upsert(id, []PeerEndpoint{{Transport: TransportBLE, Address: "a"}})
	r.Upsert(id, []PeerEndpoint{{Transport: TransportQUIC, Address: "b"}})

	p, ok := r.Get(id)
	require.True(t, ok)
	require.Len(t, p.Endpoints, 2)
	require.True(t, p.Reachable)
}

func TestMarkFailedEvictsAfterThreshold(t *testing.T) {
	r := New()
	var id identity.NodeID
	id[0] = 2
	r.Upsert(id, nil)

	r.MarkFailed(id)
	r.MarkFailed(id)
	p, _ := r.Get(id)
	require.True(t, p.Reachable)

	r.MarkFailed(id)
	p, _ = r.Get(id)
	require.False(t, p.Reachable)
	require.Len(t, r.Reachable(), 0)
}

func TestRemoveAllClearsRegistry(t *testing.T) {
	r := New()
	var id identity.NodeID
	id[0] = 3
	r.Upsert(id, nil)
	require.Equal(t, 1, r.Count())

	r.RemoveAll()
	require.Equal(t, 0, r.Count())
}

func TestBestEndpointPrefersRequestedTransport(t *testing.T) {
	p := Peer{Endpoints: []PeerEndpoint{
		{Transport: TransportBLE, Address: "ble-addr"},
		{Transport: TransportQUIC, Address: "quic-addr"},
	}}
	ep, ok := p.BestEndpoint(TransportQUIC, TransportBLE)
	require.True(t, ok)
	require.Equal(t, "quic-addr", ep.Address)
}
