// Package mesh implements the multi-protocol mesh server (spec §4.2): a
// permissioned store-and-forward overlay composing transport instances,
// a peer registry, a Kademlia-aware router, a message handler dispatch
// table, reward accounting, and an emergency stop.
package mesh

import (
	"time"

	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/peerregistry"
	"github.com/luxfi/zhtp-core/pkg/envelope"
)

// ConnectionState is a per-connection lifecycle stage (spec §4.2: "State
// machine per transport connection").
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateHandshaking
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is a single mesh transport connection's tracked state (spec
// §3 "Mesh connection").
type Connection struct {
	Peer        identity.NodeID
	Transport   peerregistry.Transport
	State       ConnectionState
	MTU         int
	ConnectedAt time.Time
	LastSeen    time.Time
	Inbound     bool
}

// defaultMTU returns the spec's per-transport default MTU (spec §3:
// "MTU defaults per transport (≥1000 for RFCOMM, smaller for BLE)").
func defaultMTU(t peerregistry.Transport) int {
	switch t {
	case peerregistry.TransportBTClassic:
		return 1007
	case peerregistry.TransportBLE:
		return 247
	case peerregistry.TransportWiFiDirect:
		return 1472
	case peerregistry.TransportQUIC:
		return 1350
	case peerregistry.TransportLoRa:
		return 242
	case peerregistry.TransportSatellite:
		return 512
	default:
		return 576
	}
}

// RoutingStats tracks the per-node counters of spec §3 "Routing stats".
type RoutingStats struct {
	MessagesRouted           uint64
	BytesRouted              uint64
	TheoreticalTokensEarned  uint64
	SuccessfulRoutes         uint64
	FailedRoutes             uint64
	ProtocolUsage            map[peerregistry.Transport]uint64
	// EarningsByProtocol is the per-protocol theoretical-earnings breakdown
	// backing Server.RevenuePools (spec §4.2 supplemented "get_revenue_pools").
	EarningsByProtocol map[peerregistry.Transport]uint64
}

func newRoutingStats() *RoutingStats {
	return &RoutingStats{
		ProtocolUsage:      make(map[peerregistry.Transport]uint64),
		EarningsByProtocol: make(map[peerregistry.Transport]uint64),
	}
}

// ClaimReward resets the theoretical token counter on a successful reward
// claim (spec §4.2: "on successful claim the counter is reset to 0").
func (s *RoutingStats) ClaimReward() uint64 {
	claimed := s.TheoreticalTokensEarned
	s.TheoreticalTokensEarned = 0
	return claimed
}

// HandlerFunc processes one delivered envelope (spec §4.4 handler
// variants).
type HandlerFunc func(env envelope.Envelope) error
