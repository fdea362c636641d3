// Package zkverify implements the zero-knowledge batch verifier (spec
// §4.6): it validates proof structure, checks nullifier freshness against
// a blockchain state provider, and verifies a Merkle commitment that binds
// the batch set and its ordering. The ZK circuit algebra itself is an
// external collaborator (spec §1 non-goals); this package only governs
// acceptance/rejection and batching.
package zkverify

// Metadata describes a transaction batch (spec §3 "Transaction batch").
type Metadata struct {
	TxCount         int
	FeeTier         uint8
	BlockHeight     uint64
	BatchCommitment [32]byte
}

// TxProof is one private transaction's proof bundle. AmountProofHash,
// BalanceProofHash and NullifierProofHash are commitments to the
// respective sub-proofs produced by the external circuit; the Body fields
// are the raw opaque proof bytes folded into the Merkle leaf per spec
// §4.6 step 3.
type TxProof struct {
	AmountProofHash    [32]byte
	BalanceProofHash   [32]byte
	NullifierProofHash [32]byte

	AmountProofBody    []byte
	BalanceProofBody   []byte
	NullifierProofBody []byte

	// NullifierPublicInputs carries the 32-byte nullifier value (spec
	// §4.6 step 2b).
	NullifierPublicInputs []byte
}

// Batch is a BatchedPrivateTransaction (spec §3).
type Batch struct {
	Proofs     []TxProof
	MerkleRoot [32]byte
	Metadata   Metadata
}

// StateProvider is the narrow blockchain-state collaborator used to check
// nullifier freshness (spec §1: "the full blockchain consensus state
// machine" is out of scope; only this read interface is consumed).
type StateProvider interface {
	IsNullifierUsed(nullifier [32]byte) bool
}

// InnerVerifier is the external ZK circuit's per-transaction verifier
// (spec §1 non-goal: "does not standardize the ZK circuit").
type InnerVerifier interface {
	Verify(p TxProof) bool
}

// Result is the single boolean-plus-aggregate-stats result surfaced to
// callers. Per-transaction results are intentionally not exposed (spec
// §4.6: "Individual per-transaction results MUST NOT be surfaced").
type Result struct {
	BatchValid bool
	BatchSize  int
	Reason     string
}

// PrivacyStats are the privacy-preserving aggregate stats returned
// alongside Result.
type PrivacyStats struct {
	Count               int
	TotalTimeNanos      int64
	AverageTimeNanos    int64
	NullifiersProcessed int
}
