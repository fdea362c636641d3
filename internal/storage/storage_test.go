package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/chainstate"
	"github.com/luxfi/zhtp-core/internal/identity"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	state := chainstate.New()
	validator := identity.NodeID{1}
	state.RegisterValidator(chainstate.Validator{NodeID: validator, Stake: 100, Active: true})

	tx := chainstate.Transaction{
		Hash:    [32]byte{7},
		Outputs: []chainstate.Output{{Owner: identity.NodeID{9}, Amount: 42}},
	}
	require.NoError(t, state.ApplyTransaction(tx))
	state.AcceptBlock(1)

	path := filepath.Join(t.TempDir(), "checkpoint.cbor")
	require.NoError(t, Save(path, state, state.ActiveValidators()))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(1), loaded.State.Height())
	require.Equal(t, 1, loaded.State.Len())

	out, ok := loaded.State.UTXO(chainstate.OutPoint{TxHash: tx.Hash, Index: 0})
	require.True(t, ok)
	require.Equal(t, uint64(42), out.Amount)

	v, err := loaded.State.Validator(validator)
	require.NoError(t, err)
	require.True(t, v.Active)
	require.Equal(t, uint64(100), v.Stake)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.cbor")
	state := chainstate.New()
	require.NoError(t, Save(path, state, nil))

	// Overwrite with a well-formed checkpoint carrying a version this
	// implementation does not understand.
	data, err := cbor.Marshal(checkpoint{Version: checkpointVersion + 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "unsupported checkpoint version")
}
