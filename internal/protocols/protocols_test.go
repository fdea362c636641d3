package protocols

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/chainstate"
	"github.com/luxfi/zhtp-core/internal/consensus"
	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
	"github.com/luxfi/zhtp-core/internal/dht"
	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/mesh"
	"github.com/luxfi/zhtp-core/internal/peerregistry"
	"github.com/luxfi/zhtp-core/pkg/envelope"
)

func TestTransactionAnnouncementAppliesToChainstate(t *testing.T) {
	chain := chainstate.New()
	table := mesh.NewHandlerTable()
	Register(table, Deps{
		Chain:    chain,
		Store:    dht.New(identity.NodeID{}, 1_000_000),
		Registry: peerregistry.New(),
	})

	tx := chainstate.Transaction{Hash: [32]byte{1}, Outputs: []chainstate.Output{{Owner: identity.NodeID{2}, Amount: 5}}}
	payload, err := marshalTransaction(tx)
	require.NoError(t, err)

	env := envelope.New(identity.NodeID{9}, identity.NodeID{0}, envelope.KindTransactionAnnouncement, payload, 5)
	require.NoError(t, table.Dispatch(env))
	require.Equal(t, 1, chain.Len())
}

func TestBlockAnnouncementAppliesToConsensus(t *testing.T) {
	chain := chainstate.New()
	pk, sk, err := cryptoprovider.GenerateSigningKeyPair()
	require.NoError(t, err)

	proposer := identity.NodeID{4}
	chain.RegisterValidator(chainstate.Validator{NodeID: proposer, Active: true})

	engine := consensus.NewEngine(chain)
	engine.RegisterValidatorKey(proposer, pk)

	table := mesh.NewHandlerTable()
	Register(table, Deps{
		Chain:     chain,
		Consensus: engine,
		Store:     dht.New(identity.NodeID{}, 1_000_000),
		Registry:  peerregistry.New(),
	})

	block := consensus.Block{Height: 1, Proposer: proposer}
	var heightBytes [8]byte
	for i := 0; i < 8; i++ {
		heightBytes[i] = byte(block.Height >> (8 * i))
	}
	sum := cryptoprovider.Hash(heightBytes[:])
	block.Signature = cryptoprovider.Sign(sk, sum[:])

	payload, err := marshalBlock(block)
	require.NoError(t, err)

	env := envelope.New(proposer, identity.NodeID{0}, envelope.KindBlockAnnouncement, payload, 5)
	require.NoError(t, table.Dispatch(env))
	require.Equal(t, uint64(1), chain.Height())
}

func TestPeerDiscoveryUpsertsRegistry(t *testing.T) {
	registry := peerregistry.New()
	table := mesh.NewHandlerTable()
	Register(table, Deps{
		Chain:    chainstate.New(),
		Store:    dht.New(identity.NodeID{}, 1_000_000),
		Registry: registry,
	})

	origin := identity.NodeID{3}
	env := envelope.New(origin, identity.NodeID{0}, envelope.KindPeerDiscovery, nil, 5)
	require.NoError(t, table.Dispatch(env))

	_, ok := registry.Get(origin)
	require.True(t, ok)
}
