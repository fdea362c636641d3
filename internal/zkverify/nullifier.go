package zkverify

import (
	"math/bits"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
)

// extractNullifier takes the nullifier field out of the proof's public
// inputs, zero-padded (or truncated) to the 32-byte nullifier width (spec
// §4.6 step 2b).
//
// Deviation recorded in the grounding ledger: a literal 8-byte-then-pad
// extraction would make the entropy window below permanently fail (24 of
// 32 bytes would always be the zero padding), which cannot be reconciled
// with any batch ever validating. This implementation treats the
// nullifier as occupying the full 32 bytes so the entropy and zero-byte
// checks operate on real proof-supplied content.
func extractNullifier(publicInputs []byte) [32]byte {
	var out [32]byte
	n := len(publicInputs)
	if n > len(out) {
		n = len(out)
	}
	copy(out[:n], publicInputs[:n])
	return out
}

const maxZeroBytes = 16

// weak nullifier patterns the spec calls out by name.
func isWeakPattern(n [32]byte) bool {
	allZero, allOnes, sequential := true, true, true
	for i, b := range n {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allOnes = false
		}
		if b != byte(i+1) {
			sequential = false
		}
	}
	return allZero || allOnes || sequential
}

// hasSufficientEntropy implements the spec's "bit-balance per position in
// 8..=24" rule: within byte indices 8 through 24 inclusive, no single byte
// may be entirely zero or entirely one bits (a degenerate, non-random
// byte), and the nullifier must not contain more than 16 zero bytes
// overall (spec §4.6 step 2c).
func hasSufficientEntropy(n [32]byte) bool {
	zeroBytes := 0
	for _, b := range n {
		if b == 0 {
			zeroBytes++
		}
	}
	if zeroBytes > maxZeroBytes {
		return false
	}
	for i := 8; i <= 24 && i < len(n); i++ {
		popcount := bits.OnesCount8(n[i])
		if popcount == 0 || popcount == 8 {
			return false
		}
	}
	return true
}

// nullifierTracker is the used-set of a single VerifyBatch call, used to
// reject a nullifier repeated within one batch (spec §4.6 step 2c).
// Repeats across batches are caught only through the StateProvider.
type nullifierTracker struct {
	seen map[[32]byte]bool
}

func newNullifierTracker() *nullifierTracker {
	return &nullifierTracker{seen: make(map[[32]byte]bool)}
}

func (t *nullifierTracker) observe(n [32]byte) (alreadySeen bool) {
	if t.seen[n] {
		return true
	}
	t.seen[n] = true
	return false
}

// checkNullifierFreshness implements the full freshness predicate of spec
// §4.6 step 2c.
func checkNullifierFreshness(n [32]byte, localUsed *nullifierTracker, state StateProvider, self [32]byte) error {
	if n == ([32]byte{}) {
		return errNullifierZero
	}
	if !hasSufficientEntropy(n) {
		return errNullifierLowEntropy
	}
	if localUsed.observe(n) {
		return errNullifierReused
	}
	if state != nil && state.IsNullifierUsed(n) {
		return errNullifierReused
	}
	if isWeakPattern(n) {
		return errNullifierWeakPattern
	}
	if n == cryptoprovider.Hash(self[:]) {
		return errNullifierSelfReferential
	}
	return nil
}
