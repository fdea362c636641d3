package chainstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/identity"
)

func TestApplyTransactionGenesisThenSpend(t *testing.T) {
	s := New()
	owner := identity.NodeID{1}
	genesis := Transaction{
		Hash:    [32]byte{1},
		Outputs: []Output{{Owner: owner, Amount: 100}},
	}
	require.NoError(t, s.ApplyTransaction(genesis))

	spend := Transaction{
		Hash:    [32]byte{2},
		Inputs:  []OutPoint{{TxHash: genesis.Hash, Index: 0}},
		Outputs: []Output{{Owner: identity.NodeID{2}, Amount: 100}},
	}
	require.NoError(t, s.ApplyTransaction(spend))

	_, stillThere := s.UTXO(OutPoint{TxHash: genesis.Hash, Index: 0})
	require.False(t, stillThere)
	_, created := s.UTXO(OutPoint{TxHash: spend.Hash, Index: 0})
	require.True(t, created)
}

func TestApplyTransactionRejectsMissingInput(t *testing.T) {
	s := New()
	tx := Transaction{Hash: [32]byte{9}, Inputs: []OutPoint{{TxHash: [32]byte{0xFF}, Index: 0}}}
	require.ErrorIs(t, s.ApplyTransaction(tx), ErrMissingInput)
}

func TestApplyTransactionRejectsReusedNullifier(t *testing.T) {
	s := New()
	n := [32]byte{7}
	a := Transaction{Hash: [32]byte{1}, Nullifiers: [][32]byte{n}}
	require.NoError(t, s.ApplyTransaction(a))

	b := Transaction{Hash: [32]byte{2}, Nullifiers: [][32]byte{n}}
	require.ErrorIs(t, s.ApplyTransaction(b), ErrNullifierReused)
	require.True(t, s.IsNullifierUsed(n))
}

func TestValidatorRegistryTracksActiveSet(t *testing.T) {
	s := New()
	s.RegisterValidator(Validator{NodeID: identity.NodeID{1}, Stake: 10, Active: true})
	s.RegisterValidator(Validator{NodeID: identity.NodeID{2}, Stake: 5, Active: false})

	active := s.ActiveValidators()
	require.Len(t, active, 1)
	require.Equal(t, identity.NodeID{1}, active[0].NodeID)
}
