package zkverify

import (
	"encoding/binary"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
)

// leafHash computes a proof's Merkle leaf: BLAKE3 of
// (amount-proof-hash || balance-proof-hash || nullifier-proof-hash || raw
// proof bodies) per spec §4.6 step 3.
func leafHash(p TxProof) [32]byte {
	return cryptoprovider.Hash(
		p.AmountProofHash[:],
		p.BalanceProofHash[:],
		p.NullifierProofHash[:],
		p.AmountProofBody,
		p.BalanceProofBody,
		p.NullifierProofBody,
	)
}

// recomputeMerkleRoot builds the Merkle tree over the batch's leaf hashes.
// Odd-leaf levels hash the orphan with itself (spec §4.6 step 3).
func recomputeMerkleRoot(proofs []TxProof) [32]byte {
	if len(proofs) == 0 {
		return cryptoprovider.Hash(nil)
	}
	level := make([][32]byte, len(proofs))
	for i, p := range proofs {
		level[i] = leafHash(p)
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, cryptoprovider.Hash(level[i][:], level[i+1][:]))
			} else {
				next = append(next, cryptoprovider.Hash(level[i][:], level[i][:]))
			}
		}
		level = next
	}
	return level[0]
}

// computeBatchCommitment binds the full batch content and its ordering:
// block height, fee tier, declared count, and the ordered leaf hashes
// (spec §4.6 step 4). Perturbing the count or reversing proof order
// necessarily changes the result, which is exactly the binding property
// the spec requires be testable.
func computeBatchCommitment(height uint64, feeTier uint8, count int, proofs []TxProof) [32]byte {
	var heightBytes [8]byte
	binary.LittleEndian.PutUint64(heightBytes[:], height)
	var countBytes [8]byte
	binary.LittleEndian.PutUint64(countBytes[:], uint64(count))

	parts := make([][]byte, 0, len(proofs)+3)
	parts = append(parts, heightBytes[:], []byte{feeTier}, countBytes[:])
	for _, p := range proofs {
		leaf := leafHash(p)
		parts = append(parts, leaf[:])
	}
	return cryptoprovider.Hash(parts...)
}
