// Package identity implements the identity manager (spec §2 row 3): public
// identity records, private key material, and wallet bindings. Private
// keys never leave this package's Manager and are never persisted to the
// replicated blockchain log.
package identity

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
)

// NodeID is a 32-byte content-free identifier derived from a node's public
// key material (spec §3 Peer identity).
type NodeID [32]byte

// String renders the NodeID as lowercase hex.
func (n NodeID) String() string { return hex.EncodeToString(n[:]) }

// IsZero reports whether n is the zero NodeID.
func (n NodeID) IsZero() bool { return n == NodeID{} }

// ParseNodeID parses the lowercase-hex form produced by String back into
// a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("identity: parse node id: %w", err)
	}
	if len(b) != len(NodeID{}) {
		return NodeID{}, fmt.Errorf("identity: node id must be %d bytes, got %d", len(NodeID{}), len(b))
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// PublicKeyBundle bundles the Dilithium verification key and Kyber
// encapsulation key that make up a peer's public key (spec §3).
type PublicKeyBundle struct {
	Sign cryptoprovider.SignPublicKey
	KEM  cryptoprovider.KEMPublicKey
}

// DeriveNodeID computes the content-free NodeID for a public key bundle.
func DeriveNodeID(pk PublicKeyBundle) NodeID {
	return NodeID(cryptoprovider.Hash(pk.Sign.Bytes(), pk.KEM.Bytes()))
}

// Endpoint is a (protocol, address) pair advertised by a peer.
type Endpoint struct {
	Protocol string
	Address  string
}

// Identity is the immutable public identity record for a peer (spec §3).
// It is created at node birth or loaded from the keystore and never
// mutated except by explicit re-keying, which produces a new Identity.
type Identity struct {
	NodeID    NodeID
	PublicKey PublicKeyBundle
	DID       string
	DeviceID  string
	Endpoints []Endpoint
}

// WalletBinding associates an identity with an on-chain wallet address.
type WalletBinding struct {
	NodeID        NodeID
	WalletAddress string
}

// privateKeys holds the key material that must never be copied into
// another component's persistent state.
type privateKeys struct {
	sign cryptoprovider.SignPrivateKey
	kem  cryptoprovider.KEMPrivateKey
}

// Manager owns the node's own identity, its private key material, and the
// wallet bindings of peers it has observed on-chain.
type Manager struct {
	mu sync.RWMutex

	self Identity
	keys privateKeys

	wallets map[NodeID]WalletBinding
}

// New creates a fresh identity by generating new Dilithium/Kyber keypairs.
// This is the "create" half of spec §4.1's "identity/wallet bootstrap
// (create or load)".
func New(did, deviceID string, endpoints []Endpoint) (*Manager, error) {
	signPK, signSK, err := cryptoprovider.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	kemPK, kemSK, err := cryptoprovider.GenerateKEMKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate kem key: %w", err)
	}
	pub := PublicKeyBundle{Sign: signPK, KEM: kemPK}
	self := Identity{
		NodeID:    DeriveNodeID(pub),
		PublicKey: pub,
		DID:       did,
		DeviceID:  deviceID,
		Endpoints: append([]Endpoint{}, endpoints...),
	}
	return &Manager{
		self:    self,
		keys:    privateKeys{sign: signSK, kem: kemSK},
		wallets: make(map[NodeID]WalletBinding),
	}, nil
}

// LoadFromKeystore reconstructs a Manager from already-materialized key
// material, the "load" half of the identity bootstrap. The keystore's own
// on-disk format is an external collaborator (spec §1 non-goals).
func LoadFromKeystore(did, deviceID string, endpoints []Endpoint, signSK cryptoprovider.SignPrivateKey, signPK cryptoprovider.SignPublicKey, kemSK cryptoprovider.KEMPrivateKey, kemPK cryptoprovider.KEMPublicKey) *Manager {
	pub := PublicKeyBundle{Sign: signPK, KEM: kemPK}
	self := Identity{
		NodeID:    DeriveNodeID(pub),
		PublicKey: pub,
		DID:       did,
		DeviceID:  deviceID,
		Endpoints: append([]Endpoint{}, endpoints...),
	}
	return &Manager{
		self:    self,
		keys:    privateKeys{sign: signSK, kem: kemSK},
		wallets: make(map[NodeID]WalletBinding),
	}
}

// Self returns the node's own public identity record.
func (m *Manager) Self() Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// NodeID is a convenience accessor for Self().NodeID.
func (m *Manager) NodeID() NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self.NodeID
}

// Sign produces a Dilithium signature over msg using the node's own private
// signing key. The private key is read under lock but never copied out of
// this method's stack frame into caller-visible state.
func (m *Manager) Sign(msg []byte) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cryptoprovider.Sign(m.keys.sign, msg)
}

// DecapsulateHandshake recovers the shared secret from a peer's Kyber
// ciphertext using the node's own private KEM key (spec §4.2 Handshaking).
func (m *Manager) DecapsulateHandshake(ciphertext []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cryptoprovider.Decapsulate(m.keys.kem, ciphertext)
}

// Rekey replaces the node's identity with a freshly generated one,
// preserving DID/device id/endpoints. This is the only mutation path for
// an Identity; the old Identity is returned for audit/migration purposes.
func (m *Manager) Rekey() (old, new_ Identity, err error) {
	signPK, signSK, err := cryptoprovider.GenerateSigningKeyPair()
	if err != nil {
		return Identity{}, Identity{}, fmt.Errorf("generate signing key: %w", err)
	}
	kemPK, kemSK, err := cryptoprovider.GenerateKEMKeyPair()
	if err != nil {
		return Identity{}, Identity{}, fmt.Errorf("generate kem key: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old = m.self
	pub := PublicKeyBundle{Sign: signPK, KEM: kemPK}
	m.self = Identity{
		NodeID:    DeriveNodeID(pub),
		PublicKey: pub,
		DID:       m.self.DID,
		DeviceID:  m.self.DeviceID,
		Endpoints: m.self.Endpoints,
	}
	m.keys = privateKeys{sign: signSK, kem: kemSK}
	return old, m.self, nil
}

// BindWallet records that a peer's NodeID is bound to an on-chain wallet
// address. This is public record-keeping, not private key material.
func (m *Manager) BindWallet(b WalletBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[b.NodeID] = b
}

// WalletOf returns the wallet binding for a NodeID, if any.
func (m *Manager) WalletOf(id NodeID) (WalletBinding, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.wallets[id]
	return b, ok
}
