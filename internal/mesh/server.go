package mesh

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/zhtp-core/internal/events"
	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/peerregistry"
	"github.com/luxfi/zhtp-core/internal/zlog"
	"github.com/luxfi/zhtp-core/pkg/envelope"
)

// Sender delivers a framed envelope to a specific peer over whatever
// transport the caller selects; transport implementations (BLE, QUIC,
// etc.) satisfy this.
type Sender interface {
	Send(peer identity.NodeID, transport peerregistry.Transport, env envelope.Envelope) error
}

// HardwareCapabilities reports which radios this host actually has, so
// protocol selection can filter the requested list down to what the
// device can use (spec §4.2 supplemented "filter_protocols_by_hardware").
// Actual radio probing is out of scope; the host supplies an
// implementation.
type HardwareCapabilities interface {
	HasBluetooth() bool
	HasWiFiDirect() bool
	HasLoRaRadio() bool
	HasSatelliteModem() bool
}

// ContentResolver resolves a Web4-style (domain, path) lookup to content
// bytes, typically backed by the DHT's content-addressed store (spec §4.2
// supplemented "serve_web4_content").
type ContentResolver interface {
	Resolve(domain, path string) ([]byte, error)
}

// ErrNoContentResolver is returned by ServeWeb4Content when no
// ContentResolver was configured.
var ErrNoContentResolver = errors.New("mesh: no content resolver configured")

// ErrEmergencyStopped is returned by any peer-affecting operation while
// the emergency stop flag is set (spec §4.2: "Emergency stop immediately
// clears peers and blocks new connections").
var ErrEmergencyStopped = errors.New("mesh: emergency stop engaged, new connections blocked")

// Server composes the mesh components named in spec §4.2: transports
// (represented here by the Sender collaborator), the peer registry, the
// router, the handler table, routing stats, an emergency-stop flag, and
// a permission table.
type Server struct {
	mu sync.RWMutex

	self       identity.NodeID
	registry   *peerregistry.Registry
	router     *Router
	handlers   *HandlerTable
	permission *PermissionTable
	sender     Sender
	log        zlog.Logger

	connections       map[identity.NodeID]*Connection
	stats             map[identity.NodeID]*RoutingStats
	protocols         []peerregistry.Transport
	emergencyStopped  bool
	bus               *events.Bus
	content           ContentResolver
}

// Config configures a new Server.
type Config struct {
	Self               identity.NodeID
	RequestedProtocols []peerregistry.Transport
	DetectedCapabilities []peerregistry.Transport
	// Hardware, if set, additionally filters the requested/detected
	// protocol intersection down to radios this host actually has (spec
	// §4.2 supplemented "filter_protocols_by_hardware").
	Hardware           HardwareCapabilities
	// Content, if set, backs ServeWeb4Content (spec §4.2 supplemented
	// "serve_web4_content").
	Content            ContentResolver
	Sender             Sender
	Log                zlog.Logger
	Bus                *events.Bus
}

// selectProtocols intersects requested protocols with detected hardware
// capabilities, falling back to BLE alone if nothing remains (spec §4.2
// "Protocol selection").
func selectProtocols(requested, detected []peerregistry.Transport) []peerregistry.Transport {
	detectedSet := make(map[peerregistry.Transport]bool, len(detected))
	for _, d := range detected {
		detectedSet[d] = true
	}
	var selected []peerregistry.Transport
	for _, r := range requested {
		if detectedSet[r] {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return []peerregistry.Transport{peerregistry.TransportBLE}
	}
	return selected
}

// filterByHardware drops any protocol this host's radios can't actually
// support (spec §4.2 supplemented "filter_protocols_by_hardware"). A nil
// caps leaves the selection untouched.
func filterByHardware(selected []peerregistry.Transport, caps HardwareCapabilities) []peerregistry.Transport {
	if caps == nil {
		return selected
	}
	out := make([]peerregistry.Transport, 0, len(selected))
	for _, t := range selected {
		switch t {
		case peerregistry.TransportBLE, peerregistry.TransportBTClassic:
			if caps.HasBluetooth() {
				out = append(out, t)
			}
		case peerregistry.TransportWiFiDirect:
			if caps.HasWiFiDirect() {
				out = append(out, t)
			}
		case peerregistry.TransportLoRa:
			if caps.HasLoRaRadio() {
				out = append(out, t)
			}
		case peerregistry.TransportSatellite:
			if caps.HasSatelliteModem() {
				out = append(out, t)
			}
		default:
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return []peerregistry.Transport{peerregistry.TransportBLE}
	}
	return out
}

// New builds a Server, a peer registry, a router over a Closest
// collaborator (typically the DHT's routing table), and a permission
// table.
func New(cfg Config, routing Closest) *Server {
	if cfg.Log == nil {
		cfg.Log = zlog.NewNoOp()
	}
	registry := peerregistry.New()
	protocols := selectProtocols(cfg.RequestedProtocols, cfg.DetectedCapabilities)
	protocols = filterByHardware(protocols, cfg.Hardware)
	return &Server{
		self:        cfg.Self,
		registry:    registry,
		router:      NewRouter(registry, routing),
		handlers:    NewHandlerTable(),
		permission:  NewPermissionTable(),
		sender:      cfg.Sender,
		log:         cfg.Log,
		connections: make(map[identity.NodeID]*Connection),
		stats:       make(map[identity.NodeID]*RoutingStats),
		protocols:   protocols,
		bus:         cfg.Bus,
		content:     cfg.Content,
	}
}

// Protocols returns the protocols this server will actually use, after
// hardware-capability intersection.
func (s *Server) Protocols() []peerregistry.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]peerregistry.Transport{}, s.protocols...)
}

// Handlers exposes the dispatch table for handler registration.
func (s *Server) Handlers() *HandlerTable { return s.handlers }

// Permissions exposes the permission table for credential/level setup.
func (s *Server) Permissions() *PermissionTable { return s.permission }

// Registry exposes the peer registry.
func (s *Server) Registry() *peerregistry.Registry { return s.registry }

func (s *Server) statsFor(peer identity.NodeID) *RoutingStats {
	st, ok := s.stats[peer]
	if !ok {
		st = newRoutingStats()
		s.stats[peer] = st
	}
	return st
}

// BeginConnection starts tracking a new connection in StateHandshaking,
// refusing it outright while the emergency stop flag is set (spec §4.2
// state machine, "Emergency stop ... blocks new connections").
func (s *Server) BeginConnection(peer identity.NodeID, transport peerregistry.Transport, inbound bool) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emergencyStopped {
		return nil, ErrEmergencyStopped
	}
	now := time.Now().UTC()
	c := &Connection{
		Peer:        peer,
		Transport:   transport,
		State:       StateHandshaking,
		MTU:         defaultMTU(transport),
		ConnectedAt: now,
		LastSeen:    now,
		Inbound:     inbound,
	}
	s.connections[peer] = c
	return c, nil
}

// AdvanceConnection moves a tracked connection to the next lifecycle
// state (spec §4.2: "Idle → Handshaking ... → Active → Closing →
// Closed"), emitting PeerConnected when it first reaches StateActive and
// PeerDisconnected on any transition into StateClosed.
func (s *Server) AdvanceConnection(peer identity.NodeID, next ConnectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[peer]
	if !ok {
		return fmt.Errorf("mesh: no tracked connection for peer %s", peer.String())
	}
	prev := c.State
	c.State = next
	c.LastSeen = time.Now().UTC()

	switch next {
	case StateActive:
		if prev != StateActive {
			s.registry.Upsert(peer, []peerregistry.PeerEndpoint{{Transport: c.Transport}})
			s.broadcast(events.Event{Kind: events.KindPeerConnected, Payload: peer})
		}
	case StateClosed:
		delete(s.connections, peer)
		s.broadcast(events.Event{Kind: events.KindPeerDisconnected, Payload: peer})
	}
	return nil
}

// FailConnection moves a connection straight to Closed on any-state
// failure (spec §4.2: "Failures in any state move to Closed and emit a
// PeerDisconnected event").
func (s *Server) FailConnection(peer identity.NodeID) {
	_ = s.AdvanceConnection(peer, StateClosed)
}

func (s *Server) broadcast(ev events.Event) {
	if s.bus != nil {
		s.bus.Broadcast(ev)
	}
}

// EmergencyStop clears all peers and connections and blocks new
// connections until explicitly reset (spec §4.2).
func (s *Server) EmergencyStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergencyStopped = true
	s.connections = make(map[identity.NodeID]*Connection)
	s.registry.RemoveAll()
	s.broadcast(events.Event{Kind: events.KindEmergencyStop})
}

// ResetEmergencyStop re-allows new connections.
func (s *Server) ResetEmergencyStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergencyStopped = false
}

// ForwardDecision is the outcome of applying the forwarding rules to an
// inbound envelope (spec §4.2 "Forwarding rules").
type ForwardDecision int

const (
	ForwardDeliverLocally ForwardDecision = iota
	ForwardDrop
	ForwardToNextHop
)

// DecideForward applies spec §4.2's four forwarding rules in order.
func (s *Server) DecideForward(env envelope.Envelope) (ForwardDecision, envelope.Envelope, peerregistry.Peer, error) {
	if env.Destination == s.self {
		return ForwardDeliverLocally, env, peerregistry.Peer{}, nil
	}
	if env.ExceedsHopBudget() {
		return ForwardDrop, env, peerregistry.Peer{}, nil
	}
	if env.ContainsNode(s.self) {
		return ForwardDrop, env, peerregistry.Peer{}, nil
	}

	next := env.Forwarded(s.self)
	hop, err := s.router.FindNextHop(env.Destination)
	if err != nil {
		return ForwardDrop, next, peerregistry.Peer{}, err
	}
	return ForwardToNextHop, next, hop, nil
}

// Forward executes a forwarding decision: deliver, drop, or send to the
// chosen next hop, recording reward and routing-stat bookkeeping on
// success (spec §4.2 "Reward accounting on forward", "Failure
// semantics").
func (s *Server) Forward(env envelope.Envelope) error {
	decision, advanced, hop, err := s.DecideForward(env)
	switch decision {
	case ForwardDeliverLocally:
		return s.handlers.Dispatch(env)
	case ForwardDrop:
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transport, ok := hop.BestEndpoint(s.protocols...)
	if !ok {
		s.registry.MarkFailed(hop.NodeID)
		s.statsFor(hop.NodeID).FailedRoutes++
		return fmt.Errorf("mesh: no usable endpoint on next hop %s", hop.NodeID.String())
	}

	if sendErr := s.sender.Send(hop.NodeID, transport.Transport, advanced); sendErr != nil {
		s.registry.MarkFailed(hop.NodeID)
		s.statsFor(hop.NodeID).FailedRoutes++
		return fmt.Errorf("mesh: send to next hop failed: %w", sendErr)
	}

	st := s.statsFor(hop.NodeID)
	st.MessagesRouted++
	st.BytesRouted += uint64(len(advanced.Payload))
	st.SuccessfulRoutes++
	st.ProtocolUsage[transport.Transport]++

	peerState, _ := s.registry.Get(hop.NodeID)
	reward := ForwardReward(len(advanced.Payload), int(advanced.HopCount), transport.Transport, peerState.Metrics)
	st.TheoreticalTokensEarned += reward
	st.EarningsByProtocol[transport.Transport] += reward
	s.registry.RecordSuccess(hop.NodeID, 0)
	return nil
}

// RevenuePools returns the aggregated theoretical-earnings breakdown by
// protocol across all tracked peers (spec §4.2 supplemented
// "get_revenue_pools").
func (s *Server) RevenuePools() map[peerregistry.Transport]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pools := make(map[peerregistry.Transport]uint64)
	for _, st := range s.stats {
		for proto, amt := range st.EarningsByProtocol {
			pools[proto] += amt
		}
	}
	return pools
}

// ServeWeb4Content resolves a (domain, path) request through the
// configured ContentResolver, typically backed by the DHT's
// content-addressed store (spec §4.2 supplemented "serve_web4_content").
func (s *Server) ServeWeb4Content(domain, path string) ([]byte, error) {
	s.mu.RLock()
	resolver := s.content
	s.mu.RUnlock()
	if resolver == nil {
		return nil, ErrNoContentResolver
	}
	return resolver.Resolve(domain, path)
}

// ClaimReward resets peer's theoretical token counter and returns the
// claimed amount (spec §4.2: "on successful claim the counter is reset
// to 0").
func (s *Server) ClaimReward(peer identity.NodeID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsFor(peer).ClaimReward()
}

// Stats returns a copy of the routing stats tracked for peer.
func (s *Server) Stats(peer identity.NodeID) RoutingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[peer]
	if !ok {
		return RoutingStats{
			ProtocolUsage:      map[peerregistry.Transport]uint64{},
			EarningsByProtocol: map[peerregistry.Transport]uint64{},
		}
	}
	usage := make(map[peerregistry.Transport]uint64, len(st.ProtocolUsage))
	for k, v := range st.ProtocolUsage {
		usage[k] = v
	}
	earnings := make(map[peerregistry.Transport]uint64, len(st.EarningsByProtocol))
	for k, v := range st.EarningsByProtocol {
		earnings[k] = v
	}
	cp := *st
	cp.ProtocolUsage = usage
	cp.EarningsByProtocol = earnings
	return cp
}
