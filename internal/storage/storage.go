// Package storage persists chainstate checkpoints to disk so a node can
// resume from its last accepted block instead of replaying gossip from
// genesis on every restart (spec §2 row 4: "Persistent storage").
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/luxfi/zhtp-core/internal/chainstate"
	"github.com/luxfi/zhtp-core/internal/identity"
)

// checkpointVersion is the only version this implementation understands.
const checkpointVersion uint32 = 1

type wireOutPoint struct {
	TxHash [32]byte `cbor:"tx_hash"`
	Index  uint32   `cbor:"index"`
}

type wireOutput struct {
	Owner  [32]byte `cbor:"owner"`
	Amount uint64   `cbor:"amount"`
}

type wireTransaction struct {
	Hash       [32]byte       `cbor:"hash"`
	Kind       uint8          `cbor:"kind"`
	Inputs     []wireOutPoint `cbor:"inputs"`
	Outputs    []wireOutput   `cbor:"outputs"`
	Nullifiers [][32]byte     `cbor:"nullifiers"`
	Height     uint64         `cbor:"height"`
}

type wireValidator struct {
	NodeID [32]byte `cbor:"node_id"`
	Stake  uint64   `cbor:"stake"`
	Active bool     `cbor:"active"`
}

// checkpoint is the versioned, on-disk shape of a chainstate snapshot.
type checkpoint struct {
	Version      uint32            `cbor:"version"`
	Height       uint64            `cbor:"height"`
	Transactions []wireTransaction `cbor:"transactions"`
	Validators   []wireValidator   `cbor:"validators"`
}

func toWireTx(tx chainstate.Transaction) wireTransaction {
	wt := wireTransaction{Hash: tx.Hash, Kind: uint8(tx.Kind), Height: tx.Height}
	for _, in := range tx.Inputs {
		wt.Inputs = append(wt.Inputs, wireOutPoint{TxHash: in.TxHash, Index: in.Index})
	}
	for _, out := range tx.Outputs {
		wt.Outputs = append(wt.Outputs, wireOutput{Owner: [32]byte(out.Owner), Amount: out.Amount})
	}
	wt.Nullifiers = append(wt.Nullifiers, tx.Nullifiers...)
	return wt
}

func fromWireTx(wt wireTransaction) chainstate.Transaction {
	tx := chainstate.Transaction{Hash: wt.Hash, Kind: chainstate.TxKind(wt.Kind), Height: wt.Height}
	for _, in := range wt.Inputs {
		tx.Inputs = append(tx.Inputs, chainstate.OutPoint{TxHash: in.TxHash, Index: in.Index})
	}
	for _, out := range wt.Outputs {
		tx.Outputs = append(tx.Outputs, chainstate.Output{Owner: identity.NodeID(out.Owner), Amount: out.Amount})
	}
	tx.Nullifiers = append(tx.Nullifiers, wt.Nullifiers...)
	return tx
}

// Save atomically writes a checkpoint of state to path: write to
// <path>.tmp, fsync, rename over path, then fsync the parent directory,
// matching the DHT's atomic persistence convention.
func Save(path string, state *chainstate.State, validators []chainstate.Validator) error {
	c := checkpoint{Version: checkpointVersion, Height: state.Height()}

	for _, tx := range state.Transactions() {
		c.Transactions = append(c.Transactions, toWireTx(tx))
	}

	sorted := append([]chainstate.Validator{}, validators...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NodeID.String() < sorted[j].NodeID.String() })
	for _, v := range sorted {
		c.Validators = append(c.Validators, wireValidator{NodeID: [32]byte(v.NodeID), Stake: v.Stake, Active: v.Active})
	}

	data, err := cbor.Marshal(c)
	if err != nil {
		return fmt.Errorf("storage: marshal checkpoint: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("storage: open tmp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("storage: write tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("storage: fsync tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: close tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("storage: rename tmp file: %w", err)
	}
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("storage: open parent dir: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("storage: fsync parent dir: %w", err)
	}
	return nil
}

// Loaded is the result of replaying a checkpoint into a fresh chainstate.
type Loaded struct {
	State      *chainstate.State
	Validators []chainstate.Validator
}

// Load reads the checkpoint at path and replays its transactions into a
// fresh chainstate.State in their original order, then advances the
// state to the checkpointed height.
func Load(path string) (*Loaded, error) {
	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); err == nil {
		_ = os.Remove(tmpPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read checkpoint: %w", err)
	}
	var c checkpoint
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("storage: unmarshal checkpoint: %w", err)
	}
	if c.Version != checkpointVersion {
		return nil, fmt.Errorf("storage: unsupported checkpoint version %d", c.Version)
	}

	state := chainstate.New()
	for _, v := range c.Validators {
		state.RegisterValidator(chainstate.Validator{NodeID: identity.NodeID(v.NodeID), Stake: v.Stake, Active: v.Active})
	}
	for _, wt := range c.Transactions {
		tx := fromWireTx(wt)
		if err := state.ApplyTransaction(tx); err != nil {
			return nil, fmt.Errorf("storage: replay transaction %x: %w", tx.Hash, err)
		}
	}
	state.AcceptBlock(c.Height)

	validators := make([]chainstate.Validator, 0, len(c.Validators))
	for _, v := range c.Validators {
		validators = append(validators, chainstate.Validator{NodeID: identity.NodeID(v.NodeID), Stake: v.Stake, Active: v.Active})
	}
	return &Loaded{State: state, Validators: validators}, nil
}
