// Package chainstate is the minimal blockchain model (spec §2 row 7): an
// ordered transaction log, a UTXO set, a nullifier set, and a validator
// registry. Full consensus machinery lives in internal/consensus and is
// out of scope here; this package only holds and mutates accepted state.
package chainstate

import (
	"errors"
	"sync"

	"github.com/luxfi/zhtp-core/internal/identity"
)

// TxKind distinguishes the handful of transaction shapes this model
// tracks (spec §3 "Inner message variants" carries block/tx announcements
// whose payloads ultimately land here).
type TxKind uint8

const (
	TxKindTransparent TxKind = iota
	TxKindShielded
	TxKindUBIDistribution
)

// Transaction is one entry in the ordered log.
type Transaction struct {
	Hash       [32]byte
	Kind       TxKind
	Inputs     []OutPoint
	Outputs    []Output
	Nullifiers [][32]byte
	Height     uint64
}

// OutPoint references a prior output being spent.
type OutPoint struct {
	TxHash [32]byte
	Index  uint32
}

// Output is a spendable value assigned to an owner.
type Output struct {
	Owner  identity.NodeID
	Amount uint64
}

// Validator is one registered block-producing identity.
type Validator struct {
	NodeID      identity.NodeID
	Stake       uint64
	Active      bool
}

var (
	// ErrDuplicateTransaction is returned when a transaction hash is
	// already present in the log.
	ErrDuplicateTransaction = errors.New("chainstate: duplicate transaction")
	// ErrMissingInput is returned when a transaction spends an unknown or
	// already-spent output.
	ErrMissingInput = errors.New("chainstate: input not found in utxo set")
	// ErrNullifierReused is returned when a transaction's nullifier has
	// already been recorded.
	ErrNullifierReused = errors.New("chainstate: nullifier already used")
	// ErrValidatorNotFound is returned for an unknown validator NodeID.
	ErrValidatorNotFound = errors.New("chainstate: validator not found")
)

// State holds the full in-memory chain model.
type State struct {
	mu sync.RWMutex

	log        []Transaction
	byHash     map[[32]byte]int
	utxos      map[OutPoint]Output
	nullifiers map[[32]byte]bool
	validators map[identity.NodeID]*Validator
	height     uint64
}

// New builds an empty chain state.
func New() *State {
	return &State{
		byHash:     make(map[[32]byte]int),
		utxos:      make(map[OutPoint]Output),
		nullifiers: make(map[[32]byte]bool),
		validators: make(map[identity.NodeID]*Validator),
	}
}

// Height is the number of the most recently applied block.
func (s *State) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// ApplyTransaction validates and appends tx to the log: every input must
// resolve to a live UTXO, every nullifier must be fresh, then inputs are
// consumed and outputs created.
func (s *State) ApplyTransaction(tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[tx.Hash]; exists {
		return ErrDuplicateTransaction
	}
	for _, in := range tx.Inputs {
		if _, ok := s.utxos[in]; !ok {
			return ErrMissingInput
		}
	}
	for _, n := range tx.Nullifiers {
		if s.nullifiers[n] {
			return ErrNullifierReused
		}
	}

	for _, in := range tx.Inputs {
		delete(s.utxos, in)
	}
	for i, out := range tx.Outputs {
		s.utxos[OutPoint{TxHash: tx.Hash, Index: uint32(i)}] = out
	}
	for _, n := range tx.Nullifiers {
		s.nullifiers[n] = true
	}

	s.byHash[tx.Hash] = len(s.log)
	s.log = append(s.log, tx)
	return nil
}

// IsNullifierUsed satisfies zkverify.StateProvider.
func (s *State) IsNullifierUsed(nullifier [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nullifiers[nullifier]
}

// UTXO looks up a live output.
func (s *State) UTXO(ref OutPoint) (Output, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.utxos[ref]
	return out, ok
}

// Transaction looks up a transaction by hash.
func (s *State) Transaction(hash [32]byte) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byHash[hash]
	if !ok {
		return Transaction{}, false
	}
	return s.log[idx], true
}

// Len returns the number of transactions in the log.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// Transactions returns a copy of the transaction log in application order,
// for callers that need to snapshot or replay the full history.
func (s *State) Transactions() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, len(s.log))
	copy(out, s.log)
	return out
}

// RegisterValidator adds or updates a validator's stake and active flag.
func (s *State) RegisterValidator(v Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := v
	s.validators[v.NodeID] = &cp
}

// Validator returns a validator's current record.
func (s *State) Validator(id identity.NodeID) (Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validators[id]
	if !ok {
		return Validator{}, ErrValidatorNotFound
	}
	return *v, nil
}

// ActiveValidators returns all validators currently marked active.
func (s *State) ActiveValidators() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Validator, 0, len(s.validators))
	for _, v := range s.validators {
		if v.Active {
			out = append(out, *v)
		}
	}
	return out
}

// AcceptBlock advances the height after a block's transactions have all
// been applied via ApplyTransaction (spec §2 row 8: consensus "wires into
// blockchain").
func (s *State) AcceptBlock(height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = height
}
