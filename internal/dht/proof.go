package dht

import (
	"bytes"
	"math"
	"strings"
	"time"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
	"github.com/luxfi/zhtp-core/internal/identity"
)

// ProofType selects the type-specific verifier applied on top of the
// structural checks (spec §4.3 Proof verification).
type ProofType int

const (
	ProofTypeGeneric ProofType = iota
	ProofTypeStorageAccess
	ProofTypeDataIntegrity
)

// Proof is the narrow representation of a ZK storage-admission proof. The
// actual circuit algebra is an external collaborator (spec §1 non-goals);
// this struct only carries what the DHT needs to check structurally.
type Proof struct {
	Type         ProofType
	Bytes        []byte
	PublicInputs []byte
}

var sensitiveMarkers = []string{"password", "private_key", "secret", "token"}

const largeValueThreshold = 1 << 20 // 1 MiB

// reservedPrefixes require a proof unconditionally (spec §4.3 Proof
// requirement policy).
var reservedPrefixes = []string{"system:", "private:", "secure:"}

// reservedNamespaceWords are the words whose BLAKE3 hashes (first 8 bytes,
// computed by reservedNamespaceHashPrefixes) mark a reserved namespace
// (spec §6). Keys whose hash-prefix matches one of these are forbidden
// entirely except by admin.
var reservedNamespaceWords = []string{"system", "node", "admin", "root"}

func reservedNamespaceHashPrefixes() [][8]byte {
	out := make([][8]byte, 0, len(reservedNamespaceWords))
	for _, w := range reservedNamespaceWords {
		h := cryptoprovider.Hash([]byte(w))
		var p [8]byte
		copy(p[:], h[:8])
		out = append(out, p)
	}
	return out
}

// isReservedNamespace reports whether key's BLAKE3 hash prefix matches a
// reserved namespace.
func isReservedNamespace(key string) bool {
	h := cryptoprovider.Hash([]byte(key))
	var p [8]byte
	copy(p[:], h[:8])
	for _, r := range reservedNamespaceHashPrefixes() {
		if p == r {
			return true
		}
	}
	return false
}

// byteEntropy computes the Shannon entropy of data in bits/byte.
func byteEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	var entropy float64
	n := float64(len(data))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// requiresProof implements spec §4.3's "Proof requirement policy".
func requiresProof(key string, value []byte) bool {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	if len(value) > largeValueThreshold {
		return true
	}
	lower := strings.ToLower(string(value))
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if byteEntropy(value) > 7.5 {
		return true
	}
	return false
}

// expectedCommitment computes the deterministic commitment over
// (key, value, localNodeID, timestamp) that a valid proof's public inputs
// must be prefixed with (spec §4.3 Proof verification).
func expectedCommitment(key string, value []byte, local identity.NodeID, ts time.Time) [32]byte {
	tsBytes := make([]byte, 8)
	unix := ts.Unix()
	for i := 0; i < 8; i++ {
		tsBytes[i] = byte(unix >> (8 * i))
	}
	return cryptoprovider.Hash([]byte(key), value, local[:], tsBytes)
}

// verifyTypeSpecific is the per-type structural verifier named in spec
// §4.3: storage-access, data-integrity, or generic. Since the circuit
// algebra itself is out of scope, these check the shapes the spec actually
// specifies (non-empty proof body, plausible public-input length) rather
// than re-deriving circuit semantics.
func verifyTypeSpecific(p *Proof) bool {
	if len(p.Bytes) == 0 {
		return false
	}
	switch p.Type {
	case ProofTypeStorageAccess:
		return len(p.PublicInputs) >= 32
	case ProofTypeDataIntegrity:
		return len(p.PublicInputs) >= 32 && len(p.Bytes) >= 32
	default:
		return len(p.PublicInputs) >= 32
	}
}

// verifyProof implements the full proof-verification algorithm of spec
// §4.3: non-empty proof, public-input prefix match, and type-specific
// verification.
func verifyProof(p *Proof, key string, value []byte, local identity.NodeID, now time.Time) bool {
	if p == nil || len(p.Bytes) == 0 {
		return false
	}
	commitment := expectedCommitment(key, value, local, now)
	if len(p.PublicInputs) < len(commitment) {
		return false
	}
	if !bytes.Equal(p.PublicInputs[:len(commitment)], commitment[:]) {
		return false
	}
	return verifyTypeSpecific(p)
}
