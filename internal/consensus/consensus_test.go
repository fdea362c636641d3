package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/chainstate"
	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
	"github.com/luxfi/zhtp-core/internal/identity"
)

func TestAcceptBlockValidatesProposerAndSignature(t *testing.T) {
	state := chainstate.New()
	pk, sk, err := cryptoprovider.GenerateSigningKeyPair()
	require.NoError(t, err)

	validator := identity.NodeID{1}
	state.RegisterValidator(chainstate.Validator{NodeID: validator, Active: true})

	engine := NewEngine(state)
	engine.RegisterValidatorKey(validator, pk)

	block := Block{Height: 1, Proposer: validator}
	block.Signature = cryptoprovider.Sign(sk, blockSigningPayload(block))

	require.NoError(t, engine.AcceptBlock(block))
	require.Equal(t, uint64(1), state.Height())
}

func TestAcceptBlockRejectsWrongHeight(t *testing.T) {
	state := chainstate.New()
	pk, sk, err := cryptoprovider.GenerateSigningKeyPair()
	require.NoError(t, err)
	validator := identity.NodeID{1}
	state.RegisterValidator(chainstate.Validator{NodeID: validator, Active: true})
	engine := NewEngine(state)
	engine.RegisterValidatorKey(validator, pk)

	block := Block{Height: 5, Proposer: validator}
	block.Signature = cryptoprovider.Sign(sk, blockSigningPayload(block))
	require.ErrorIs(t, engine.AcceptBlock(block), ErrHeightMismatch)
}

func TestAcceptBlockRejectsNonSelectedProposer(t *testing.T) {
	state := chainstate.New()
	_, impostorSK, err := cryptoprovider.GenerateSigningKeyPair()
	require.NoError(t, err)
	validator := identity.NodeID{1}
	impostor := identity.NodeID{2}
	state.RegisterValidator(chainstate.Validator{NodeID: validator, Active: true})
	engine := NewEngine(state)

	block := Block{Height: 1, Proposer: impostor}
	block.Signature = cryptoprovider.Sign(impostorSK, blockSigningPayload(block))
	require.ErrorIs(t, engine.AcceptBlock(block), ErrNotSelectedProposer)
}
