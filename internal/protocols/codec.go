package protocols

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/luxfi/zhtp-core/internal/chainstate"
	"github.com/luxfi/zhtp-core/internal/consensus"
)

// marshalTransaction and unmarshalTransaction give gossip handlers a
// concrete wire format for a chainstate.Transaction, reusing the same
// CBOR codec the envelope and DHT persistence layers use.
func marshalTransaction(tx chainstate.Transaction) ([]byte, error) {
	data, err := cbor.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("protocols: marshal transaction: %w", err)
	}
	return data, nil
}

func unmarshalTransaction(data []byte) (chainstate.Transaction, error) {
	var tx chainstate.Transaction
	if err := cbor.Unmarshal(data, &tx); err != nil {
		return chainstate.Transaction{}, fmt.Errorf("protocols: unmarshal transaction: %w", err)
	}
	return tx, nil
}

// marshalBlock and unmarshalBlock give block-announcement gossip the
// same CBOR wire convention as marshalTransaction/unmarshalTransaction.
func marshalBlock(b consensus.Block) ([]byte, error) {
	data, err := cbor.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("protocols: marshal block: %w", err)
	}
	return data, nil
}

func unmarshalBlock(data []byte) (consensus.Block, error) {
	var b consensus.Block
	if err := cbor.Unmarshal(data, &b); err != nil {
		return consensus.Block{}, fmt.Errorf("protocols: unmarshal block: %w", err)
	}
	return b, nil
}
