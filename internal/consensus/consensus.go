// Package consensus accepts blocks, selects the validator responsible
// for the next one, and wires accepted transactions into chainstate
// (spec §2 row 8). The spec explicitly scopes out a full BFT/consensus
// algorithm (non-goal); this package implements only the accept/select
// surface a real consensus engine would sit behind.
package consensus

import (
	"errors"
	"sort"
	"sync"

	"github.com/luxfi/zhtp-core/internal/chainstate"
	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
	"github.com/luxfi/zhtp-core/internal/identity"
)

// Block is the unit consensus accepts: a height, its transactions, and
// the validator that produced it.
type Block struct {
	Height       uint64
	Proposer     identity.NodeID
	Transactions []chainstate.Transaction
	Signature    []byte
}

var (
	// ErrHeightMismatch is returned when a block's height does not equal
	// the chain's current height plus one.
	ErrHeightMismatch = errors.New("consensus: block height is not the next expected height")
	// ErrNotSelectedProposer is returned when the block's proposer is not
	// the validator AcceptBlock's selection algorithm picked for that
	// height.
	ErrNotSelectedProposer = errors.New("consensus: proposer was not selected for this height")
	// ErrBadSignature is returned when the block signature does not
	// verify under the proposer's registered key.
	ErrBadSignature = errors.New("consensus: block signature invalid")
)

// blockSigningPayload is what a proposer must have signed: the height
// and the ordered transaction hashes.
func blockSigningPayload(b Block) []byte {
	var heightBytes [8]byte
	for i := 0; i < 8; i++ {
		heightBytes[i] = byte(b.Height >> (8 * i))
	}
	parts := [][]byte{heightBytes[:]}
	for _, tx := range b.Transactions {
		parts = append(parts, tx.Hash[:])
	}
	sum := cryptoprovider.Hash(parts...)
	return sum[:]
}

// Engine selects validators by round-robin over the active set ordered
// by NodeId, the simplest fair selection rule available without a real
// stake-weighted algorithm, and applies accepted blocks to chainstate.
type Engine struct {
	mu    sync.Mutex
	state *chainstate.State
	keys  map[identity.NodeID]cryptoprovider.SignPublicKey
}

// NewEngine builds a consensus engine over state.
func NewEngine(state *chainstate.State) *Engine {
	return &Engine{state: state, keys: make(map[identity.NodeID]cryptoprovider.SignPublicKey)}
}

// RegisterValidatorKey associates a validator's signing key so block
// signatures from it can be verified.
func (e *Engine) RegisterValidatorKey(id identity.NodeID, pk cryptoprovider.SignPublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[id] = pk
}

// SelectProposer deterministically picks the active validator responsible
// for height: round-robin over the active set sorted by NodeId string.
func (e *Engine) SelectProposer(height uint64) (identity.NodeID, error) {
	active := e.state.ActiveValidators()
	if len(active) == 0 {
		return identity.NodeID{}, errors.New("consensus: no active validators")
	}
	sort.Slice(active, func(i, j int) bool { return active[i].NodeID.String() < active[j].NodeID.String() })
	idx := int(height % uint64(len(active)))
	return active[idx].NodeID, nil
}

// AcceptBlock validates proposer selection and signature, applies every
// transaction to chainstate, and advances the chain height.
func (e *Engine) AcceptBlock(b Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b.Height != e.state.Height()+1 {
		return ErrHeightMismatch
	}
	expected, err := e.SelectProposer(b.Height)
	if err != nil {
		return err
	}
	if expected != b.Proposer {
		return ErrNotSelectedProposer
	}
	pk, ok := e.keys[b.Proposer]
	if !ok || !cryptoprovider.Verify(pk, blockSigningPayload(b), b.Signature) {
		return ErrBadSignature
	}

	for _, tx := range b.Transactions {
		if err := e.state.ApplyTransaction(tx); err != nil {
			return err
		}
	}
	e.state.AcceptBlock(b.Height)
	return nil
}
