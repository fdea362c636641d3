package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/peerregistry"
	"github.com/luxfi/zhtp-core/internal/permission"
	"github.com/luxfi/zhtp-core/pkg/envelope"
)

func TestSelectProtocolsIntersectsAndFallsBackToBLE(t *testing.T) {
	got := selectProtocols(
		[]peerregistry.Transport{peerregistry.TransportQUIC, peerregistry.TransportLoRa},
		[]peerregistry.Transport{peerregistry.TransportLoRa},
	)
	require.Equal(t, []peerregistry.Transport{peerregistry.TransportLoRa}, got)

	fallback := selectProtocols(
		[]peerregistry.Transport{peerregistry.TransportQUIC},
		[]peerregistry.Transport{peerregistry.TransportLoRa},
	)
	require.Equal(t, []peerregistry.Transport{peerregistry.TransportBLE}, fallback)
}

type fakeHardware struct {
	bluetooth, wifiDirect, loRa, satellite bool
}

func (f fakeHardware) HasBluetooth() bool     { return f.bluetooth }
func (f fakeHardware) HasWiFiDirect() bool    { return f.wifiDirect }
func (f fakeHardware) HasLoRaRadio() bool     { return f.loRa }
func (f fakeHardware) HasSatelliteModem() bool { return f.satellite }

func TestFilterByHardwareDropsUnsupportedRadiosAndFallsBackToBLE(t *testing.T) {
	selected := []peerregistry.Transport{peerregistry.TransportBLE, peerregistry.TransportLoRa, peerregistry.TransportWiFiDirect}
	got := filterByHardware(selected, fakeHardware{bluetooth: true})
	require.Equal(t, []peerregistry.Transport{peerregistry.TransportBLE}, got)

	none := filterByHardware([]peerregistry.Transport{peerregistry.TransportLoRa}, fakeHardware{})
	require.Equal(t, []peerregistry.Transport{peerregistry.TransportBLE}, none)

	unfiltered := filterByHardware([]peerregistry.Transport{peerregistry.TransportQUIC}, nil)
	require.Equal(t, []peerregistry.Transport{peerregistry.TransportQUIC}, unfiltered)
}

func TestNewAppliesHardwareFilterToSelectedProtocols(t *testing.T) {
	self := identity.NodeID{1}
	s := New(Config{
		Self:                 self,
		RequestedProtocols:   []peerregistry.Transport{peerregistry.TransportLoRa, peerregistry.TransportQUIC},
		DetectedCapabilities: []peerregistry.Transport{peerregistry.TransportLoRa, peerregistry.TransportQUIC},
		Hardware:             fakeHardware{loRa: true},
	}, fakeClosest{})
	require.Equal(t, []peerregistry.Transport{peerregistry.TransportLoRa}, s.Protocols())
}

type fakeContentResolver struct {
	data map[string][]byte
}

func (f fakeContentResolver) Resolve(domain, path string) ([]byte, error) {
	b, ok := f.data[domain+path]
	if !ok {
		return nil, require.AnError
	}
	return b, nil
}

func TestServeWeb4ContentDelegatesToResolver(t *testing.T) {
	self := identity.NodeID{1}
	s := New(Config{Self: self, Content: fakeContentResolver{data: map[string][]byte{"example.zhtp/index": []byte("hello")}}}, fakeClosest{})

	got, err := s.ServeWeb4Content("example.zhtp", "/index")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestServeWeb4ContentWithoutResolverFails(t *testing.T) {
	self := identity.NodeID{1}
	s := New(Config{Self: self}, fakeClosest{})

	_, err := s.ServeWeb4Content("example.zhtp", "/index")
	require.ErrorIs(t, err, ErrNoContentResolver)
}

func TestForwardRewardFormula(t *testing.T) {
	m := peerregistry.QualityMetrics{}
	m.RecordSuccess(10)
	for i := 0; i < 99; i++ {
		m.RecordSuccess(10)
	}
	// 100 successes, 0 failures: success rate 100% (>95), uptime 100% (>99),
	// avg latency 10ms (>0 and <50) -> quality = 1.0+0.05+0.10+0.05 = 1.20
	reward := ForwardReward(2048, 2, peerregistry.TransportQUIC, m)
	// base = 10 + 2048/1024 + 2*5 = 10 + 2 + 10 = 22
	// reward = floor(22 * 1.4 * 1.20) = floor(36.96) = 36
	require.Equal(t, uint64(36), reward)
}

type fakeSender struct {
	sent []envelope.Envelope
	fail bool
}

func (f *fakeSender) Send(peer identity.NodeID, transport peerregistry.Transport, env envelope.Envelope) error {
	if f.fail {
		return require.AnError
	}
	f.sent = append(f.sent, env)
	return nil
}

type fakeClosest struct {
	order []identity.NodeID
}

func (f fakeClosest) Closest(target identity.NodeID, k int) []identity.NodeID {
	if len(f.order) > k {
		return f.order[:k]
	}
	return f.order
}

func TestDecideForwardDeliversLocally(t *testing.T) {
	self := identity.NodeID{1}
	s := New(Config{Self: self}, fakeClosest{})
	env := envelope.New(identity.NodeID{9}, self, envelope.KindHealthReport, nil, 5)

	decision, _, _, err := s.DecideForward(env)
	require.NoError(t, err)
	require.Equal(t, ForwardDeliverLocally, decision)
}

func TestDecideForwardDropsOnHopBudgetExceeded(t *testing.T) {
	self := identity.NodeID{1}
	s := New(Config{Self: self}, fakeClosest{})
	env := envelope.New(identity.NodeID{9}, identity.NodeID{2}, envelope.KindHealthReport, nil, 2)
	env.HopCount = 2

	decision, _, _, _ := s.DecideForward(env)
	require.Equal(t, ForwardDrop, decision)
}

func TestDecideForwardDropsOnLoop(t *testing.T) {
	self := identity.NodeID{1}
	s := New(Config{Self: self}, fakeClosest{})
	env := envelope.New(identity.NodeID{9}, identity.NodeID{2}, envelope.KindHealthReport, nil, 5)
	env.Route = []identity.NodeID{self}

	decision, _, _, _ := s.DecideForward(env)
	require.Equal(t, ForwardDrop, decision)
}

func TestForwardSendsToNextHopAndAccruesReward(t *testing.T) {
	self := identity.NodeID{1}
	next := identity.NodeID{2}
	sender := &fakeSender{}
	s := New(Config{Self: self, Sender: sender}, fakeClosest{order: []identity.NodeID{next}})
	s.Registry().Upsert(next, []peerregistry.PeerEndpoint{{Transport: peerregistry.TransportQUIC, Address: "addr"}})

	dest := identity.NodeID{3}
	env := envelope.New(identity.NodeID{9}, dest, envelope.KindHealthReport, []byte("hi"), 5)

	require.NoError(t, s.Forward(env))
	require.Len(t, sender.sent, 1)
	require.Equal(t, uint8(1), sender.sent[0].HopCount)

	stats := s.Stats(next)
	require.Equal(t, uint64(1), stats.SuccessfulRoutes)
	require.Greater(t, stats.TheoreticalTokensEarned, uint64(0))

	claimed := s.ClaimReward(next)
	require.Equal(t, stats.TheoreticalTokensEarned, claimed)
	require.Equal(t, uint64(0), s.Stats(next).TheoreticalTokensEarned)
}

func TestRevenuePoolsAggregatesEarningsByProtocol(t *testing.T) {
	self := identity.NodeID{1}
	next := identity.NodeID{2}
	sender := &fakeSender{}
	s := New(Config{Self: self, Sender: sender}, fakeClosest{order: []identity.NodeID{next}})
	s.Registry().Upsert(next, []peerregistry.PeerEndpoint{{Transport: peerregistry.TransportQUIC, Address: "addr"}})

	dest := identity.NodeID{3}
	env := envelope.New(identity.NodeID{9}, dest, envelope.KindHealthReport, []byte("hi"), 5)
	require.NoError(t, s.Forward(env))

	pools := s.RevenuePools()
	require.Greater(t, pools[peerregistry.TransportQUIC], uint64(0))
}

func TestEmergencyStopBlocksNewConnections(t *testing.T) {
	self := identity.NodeID{1}
	s := New(Config{Self: self}, fakeClosest{})
	s.EmergencyStop()

	_, err := s.BeginConnection(identity.NodeID{2}, peerregistry.TransportBLE, true)
	require.ErrorIs(t, err, ErrEmergencyStopped)

	s.ResetEmergencyStop()
	_, err = s.BeginConnection(identity.NodeID{2}, peerregistry.TransportBLE, true)
	require.NoError(t, err)
}

func TestPermissionTableAuthorizeRoundTrip(t *testing.T) {
	table := NewPermissionTable()
	pk, sk, err := cryptoprovider.GenerateSigningKeyPair()
	require.NoError(t, err)
	caller := identity.NodeID{5}
	table.SetLevel(caller, permission.LevelAdmin)

	now := time.Now().UTC()
	msg := signedMessage("emergency_stop", "nonce-1", now)
	sig := cryptoprovider.Sign(sk, msg)

	cred := Credential{PublicKey: pk, Signature: sig, Timestamp: now, Nonce: "nonce-1"}
	require.NoError(t, table.Authorize("emergency_stop", caller, identity.NodeID{}, cred, permission.LevelAdmin))

	log := table.AuditLog()
	require.Len(t, log, 1)
	require.True(t, log[0].Allowed)
	require.Equal(t, permission.LevelAdmin, log[0].Level)
}

func TestPermissionTableRejectsExpiredTimestamp(t *testing.T) {
	table := NewPermissionTable()
	pk, sk, err := cryptoprovider.GenerateSigningKeyPair()
	require.NoError(t, err)
	caller := identity.NodeID{5}
	table.SetLevel(caller, permission.LevelAdmin)

	old := time.Now().UTC().Add(-10 * time.Minute)
	msg := signedMessage("emergency_stop", "nonce-2", old)
	sig := cryptoprovider.Sign(sk, msg)

	cred := Credential{PublicKey: pk, Signature: sig, Timestamp: old, Nonce: "nonce-2"}
	err = table.Authorize("emergency_stop", caller, identity.NodeID{}, cred, permission.LevelAdmin)
	require.ErrorIs(t, err, ErrCredentialExpired)
}

func TestPermissionTableRejectsInsufficientLevel(t *testing.T) {
	table := NewPermissionTable()
	pk, sk, err := cryptoprovider.GenerateSigningKeyPair()
	require.NoError(t, err)
	caller := identity.NodeID{5}
	table.SetLevel(caller, permission.LevelUser)

	now := time.Now().UTC()
	msg := signedMessage("emergency_stop", "nonce-3", now)
	sig := cryptoprovider.Sign(sk, msg)

	cred := Credential{PublicKey: pk, Signature: sig, Timestamp: now, Nonce: "nonce-3"}
	err = table.Authorize("emergency_stop", caller, identity.NodeID{}, cred, permission.LevelAdmin)
	require.ErrorIs(t, err, ErrInsufficientPermission)
}
