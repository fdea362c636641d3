package zkverify

import "errors"

var (
	errNullifierZero           = errors.New("zkverify: nullifier is zero")
	errNullifierLowEntropy     = errors.New("zkverify: nullifier fails entropy check")
	errNullifierReused         = errors.New("zkverify: nullifier already used")
	errNullifierWeakPattern    = errors.New("zkverify: nullifier matches a known weak pattern")
	errNullifierSelfReferential = errors.New("zkverify: nullifier equals hash of its own proof body")

	errBatchSizeMismatch     = errors.New("zkverify: declared tx_count does not match proof count")
	errBatchFeeTierInvalid   = errors.New("zkverify: fee tier out of range")
	errBatchCommitmentZero   = errors.New("zkverify: batch commitment is zero")
	errBatchEmpty            = errors.New("zkverify: batch has no proofs")
)
