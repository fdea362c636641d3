package zkverify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
)

type alwaysValidInner struct{ calls int }

func (a *alwaysValidInner) Verify(p TxProof) bool {
	a.calls++
	return true
}

type neverUsedState struct{}

func (neverUsedState) IsNullifierUsed(nullifier [32]byte) bool { return false }

func makeProof(n byte, nullifierSeed byte) TxProof {
	p := TxProof{
		AmountProofHash:       [32]byte{n, 1},
		BalanceProofHash:      [32]byte{n, 2},
		NullifierProofHash:    [32]byte{n, 3},
		AmountProofBody:       []byte{n, 0xAA},
		BalanceProofBody:      []byte{n, 0xBB},
		NullifierProofBody: []byte{n, 0xCC},
	}
	// BLAKE3 output gives the nullifier good natural entropy so it clears
	// the freshness checks without hand-tuning individual bytes.
	seeded := cryptoprovider.Hash([]byte{n, nullifierSeed})
	p.NullifierPublicInputs = seeded[:]
	return p
}

func buildValidBatch(proofs []TxProof, height uint64, feeTier uint8) Batch {
	root := recomputeMerkleRoot(proofs)
	commitment := computeBatchCommitment(height, feeTier, len(proofs), proofs)
	return Batch{
		Proofs:     proofs,
		MerkleRoot: root,
		Metadata: Metadata{
			TxCount:         len(proofs),
			FeeTier:         feeTier,
			BlockHeight:     height,
			BatchCommitment: commitment,
		},
	}
}

func TestVerifyBatchGoodBatchOfTwo(t *testing.T) {
	proofs := []TxProof{makeProof(1, 0x11), makeProof(2, 0x81)}
	batch := buildValidBatch(proofs, 100, 1)

	inner := &alwaysValidInner{}
	v := New(inner, neverUsedState{})

	result, stats := v.VerifyBatch(batch)
	require.True(t, result.BatchValid)
	require.Equal(t, 2, result.BatchSize)
	require.Equal(t, 2, stats.NullifiersProcessed)
	require.Equal(t, 2, inner.calls)
}

func TestVerifyBatchMetadataMismatchSkipsProofVerification(t *testing.T) {
	proofs := []TxProof{makeProof(1, 0x11), makeProof(2, 0x81)}
	batch := buildValidBatch(proofs, 100, 1)
	batch.Metadata.TxCount = 3 // declared count no longer matches len(proofs)

	inner := &alwaysValidInner{}
	v := New(inner, neverUsedState{})

	result, stats := v.VerifyBatch(batch)
	require.False(t, result.BatchValid)
	require.Equal(t, 0, inner.calls, "no per-proof verification should be attempted on metadata mismatch")
	require.Equal(t, PrivacyStats{}, stats)
}

func TestVerifyBatchRejectsDuplicateNullifierWithinBatch(t *testing.T) {
	proofs := []TxProof{makeProof(1, 0x11), makeProof(2, 0x22)}
	proofs[1].NullifierPublicInputs = proofs[0].NullifierPublicInputs // force a repeat
	batch := buildValidBatch(proofs, 100, 1)

	v := New(&alwaysValidInner{}, neverUsedState{})
	result, _ := v.VerifyBatch(batch)
	require.False(t, result.BatchValid)
}

func TestVerifyBatchRejectsTamperedMerkleRoot(t *testing.T) {
	proofs := []TxProof{makeProof(1, 0x11)}
	batch := buildValidBatch(proofs, 100, 1)
	batch.MerkleRoot[0] ^= 0xFF

	v := New(&alwaysValidInner{}, neverUsedState{})
	result, _ := v.VerifyBatch(batch)
	require.False(t, result.BatchValid)
}

func TestVerifySingleUsesCache(t *testing.T) {
	inner := &alwaysValidInner{}
	v := New(inner, neverUsedState{}, WithProofCache(16))

	p := makeProof(9, 0x55)
	require.True(t, v.VerifySingle(p))
	require.True(t, v.VerifySingle(p))

	require.Equal(t, 1, inner.calls, "second call should be served from cache")
	hits, misses := v.CacheStats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)
}
