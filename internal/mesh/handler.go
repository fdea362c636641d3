package mesh

import (
	"fmt"

	"github.com/luxfi/zhtp-core/pkg/envelope"
)

// ErrNoHandler is returned when no handler is registered for an
// envelope's Kind.
var ErrNoHandler = fmt.Errorf("mesh: no handler registered for kind")

// HandlerTable dispatches a delivered envelope to the handler registered
// for its Kind (spec §4.4: "Handler variants (dispatch table)").
type HandlerTable struct {
	handlers map[envelope.Kind]HandlerFunc
}

// NewHandlerTable builds an empty dispatch table.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[envelope.Kind]HandlerFunc)}
}

// Register binds fn to kind, replacing any previous handler.
func (t *HandlerTable) Register(kind envelope.Kind, fn HandlerFunc) {
	t.handlers[kind] = fn
}

// Dispatch routes env to its registered handler.
func (t *HandlerTable) Dispatch(env envelope.Envelope) error {
	fn, ok := t.handlers[env.Kind]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoHandler, env.Kind)
	}
	return fn(env)
}

// BlockchainChunkAssembler reassembles a chunked BlockchainData transfer
// and verifies the final hash once all chunks arrive (spec §4.4:
// "BlockchainData (chunked, with a final complete_data_hash check)").
type BlockchainChunkAssembler struct {
	chunks        map[uint32][]byte
	totalChunks   uint32
	expectedHash  [32]byte
	hashVerifier  func(data []byte) [32]byte
}

// NewBlockchainChunkAssembler builds an assembler expecting totalChunks
// chunks whose concatenation must hash to expectedHash.
func NewBlockchainChunkAssembler(totalChunks uint32, expectedHash [32]byte, hashVerifier func([]byte) [32]byte) *BlockchainChunkAssembler {
	return &BlockchainChunkAssembler{
		chunks:       make(map[uint32][]byte),
		totalChunks:  totalChunks,
		expectedHash: expectedHash,
		hashVerifier: hashVerifier,
	}
}

// AddChunk stores one chunk. If it completes the transfer, it returns the
// reassembled data and true; the hash is verified before returning.
func (a *BlockchainChunkAssembler) AddChunk(index uint32, data []byte) ([]byte, bool, error) {
	a.chunks[index] = data
	if uint32(len(a.chunks)) < a.totalChunks {
		return nil, false, nil
	}
	full := make([]byte, 0)
	for i := uint32(0); i < a.totalChunks; i++ {
		chunk, ok := a.chunks[i]
		if !ok {
			return nil, false, fmt.Errorf("mesh: missing chunk %d of %d", i, a.totalChunks)
		}
		full = append(full, chunk...)
	}
	got := a.hashVerifier(full)
	if got != a.expectedHash {
		return nil, false, fmt.Errorf("mesh: reassembled data hash mismatch")
	}
	return full, true, nil
}
