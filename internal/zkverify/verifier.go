package zkverify

import (
	"fmt"
	"time"

	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/zlog"
)

const maxFeeTier = 3

// Verifier ties an external proof circuit (InnerVerifier) to blockchain
// nullifier state (StateProvider) and enforces the Merkle and commitment
// binding of a batch (spec §4.6).
type Verifier struct {
	inner InnerVerifier
	state StateProvider
	self  identity.NodeID
	log   zlog.Logger

	cache *proofCache
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger attaches a structured logger.
func WithLogger(l zlog.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

// WithLocalNode sets the node identity folded into the self-referential
// nullifier check (spec §4.6 step 2c).
func WithLocalNode(id identity.NodeID) Option {
	return func(v *Verifier) { v.self = id }
}

// New builds a Verifier. state may be nil if no blockchain state provider
// is available yet (only the in-process used-set and structural checks
// apply in that case).
func New(inner InnerVerifier, state StateProvider, opts ...Option) *Verifier {
	v := &Verifier{
		inner: inner,
		state: state,
		log:   zlog.NewNoOp(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyBatch implements spec §4.6's four-step algorithm:
//  1. validate batch metadata structurally, failing fast on mismatch
//     without attempting any per-proof verification;
//  2. verify every proof against the inner circuit and check nullifier
//     freshness, without short-circuiting on the first failure, so the
//     wall-clock cost of a batch is independent of which proof (if any)
//     is invalid;
//  3. recompute the Merkle root over the proof set and compare it to the
//     batch's declared root;
//  4. recompute the batch commitment and compare it to the declared one.
//
// Per-transaction results are never returned (spec §4.6: "Individual
// per-transaction results MUST NOT be surfaced").
func (v *Verifier) VerifyBatch(batch Batch) (Result, PrivacyStats) {
	start := time.Now()

	if err := validateMetadata(batch); err != nil {
		v.log.Warn("zk batch rejected at metadata validation", "reason", err.Error())
		return Result{BatchValid: false, BatchSize: len(batch.Proofs), Reason: err.Error()}, PrivacyStats{}
	}

	allProofsValid := true
	allNullifiersFresh := true
	var firstReason string
	recordFailure := func(reason string) {
		if firstReason == "" {
			firstReason = reason
		}
	}

	localSeen := newNullifierTracker()
	for _, p := range batch.Proofs {
		proofOK := v.inner.Verify(p)
		if !proofOK {
			allProofsValid = false
			recordFailure("proof verification failed")
		}

		nullifier := extractNullifier(p.NullifierPublicInputs)
		if err := checkNullifierFreshness(nullifier, localSeen, v.state, v.self); err != nil {
			allNullifiersFresh = false
			recordFailure(err.Error())
		}
	}

	computedRoot := recomputeMerkleRoot(batch.Proofs)
	rootMatches := computedRoot == batch.MerkleRoot
	if !rootMatches {
		recordFailure("merkle root mismatch")
	}

	computedCommitment := computeBatchCommitment(batch.Metadata.BlockHeight, batch.Metadata.FeeTier, batch.Metadata.TxCount, batch.Proofs)
	commitmentMatches := computedCommitment == batch.Metadata.BatchCommitment
	if !commitmentMatches {
		recordFailure("batch commitment mismatch")
	}

	valid := allProofsValid && allNullifiersFresh && rootMatches && commitmentMatches
	elapsed := time.Since(start)

	result := Result{BatchValid: valid, BatchSize: len(batch.Proofs), Reason: firstReason}
	stats := PrivacyStats{
		Count:               len(batch.Proofs),
		TotalTimeNanos:      elapsed.Nanoseconds(),
		NullifiersProcessed: len(batch.Proofs),
	}
	if stats.Count > 0 {
		stats.AverageTimeNanos = stats.TotalTimeNanos / int64(stats.Count)
	}

	v.log.Info("zk batch verified", "valid", valid, "size", result.BatchSize, "elapsed", elapsed)
	return result, stats
}

func validateMetadata(batch Batch) error {
	if len(batch.Proofs) == 0 {
		return errBatchEmpty
	}
	if batch.Metadata.TxCount != len(batch.Proofs) {
		return fmt.Errorf("%w: declared %d, got %d", errBatchSizeMismatch, batch.Metadata.TxCount, len(batch.Proofs))
	}
	if batch.Metadata.FeeTier > maxFeeTier {
		return fmt.Errorf("%w: %d", errBatchFeeTierInvalid, batch.Metadata.FeeTier)
	}
	if batch.Metadata.BatchCommitment == ([32]byte{}) {
		return errBatchCommitmentZero
	}
	return nil
}
