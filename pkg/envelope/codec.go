package envelope

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/luxfi/zhtp-core/internal/identity"
)

// maxFrameSize bounds a single decoded frame to guard against a malformed
// or hostile length prefix requesting an unbounded allocation.
const maxFrameSize = 16 * 1024 * 1024

// wireEnvelope is the CBOR wire shape; uuid.UUID and identity.NodeID are
// flattened to raw byte arrays since cbor has no special affinity for
// either the google/uuid or our NodeID types.
type wireEnvelope struct {
	MessageID     [16]byte   `cbor:"message_id"`
	Origin        [32]byte   `cbor:"origin"`
	Destination   [32]byte   `cbor:"destination"`
	Kind          Kind       `cbor:"kind"`
	Payload       []byte     `cbor:"payload"`
	TTL           uint8      `cbor:"ttl"`
	HopCount      uint8      `cbor:"hop_count"`
	Route         [][32]byte `cbor:"route"`
	CorrelationID [16]byte   `cbor:"correlation_id"`
}

func toWire(e Envelope) wireEnvelope {
	w := wireEnvelope{
		MessageID:     e.MessageID,
		Origin:        [32]byte(e.Origin),
		Destination:   [32]byte(e.Destination),
		Kind:          e.Kind,
		Payload:       e.Payload,
		TTL:           e.TTL,
		HopCount:      e.HopCount,
		CorrelationID: e.CorrelationID,
	}
	for _, n := range e.Route {
		w.Route = append(w.Route, [32]byte(n))
	}
	return w
}

func fromWire(w wireEnvelope) Envelope {
	e := Envelope{
		MessageID:     w.MessageID,
		Origin:        identity.NodeID(w.Origin),
		Destination:   identity.NodeID(w.Destination),
		Kind:          w.Kind,
		Payload:       w.Payload,
		TTL:           w.TTL,
		HopCount:      w.HopCount,
		CorrelationID: w.CorrelationID,
	}
	for _, n := range w.Route {
		e.Route = append(e.Route, identity.NodeID(n))
	}
	return e
}

// Marshal encodes an envelope to self-describing CBOR.
func Marshal(e Envelope) ([]byte, error) {
	data, err := cbor.Marshal(toWire(e))
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a CBOR-encoded envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return fromWire(w), nil
}

// WriteFrame writes a length-prefixed (4-byte big-endian) CBOR frame to w,
// the framing used across all mesh transports (spec §6 mesh framing).
func WriteFrame(w io.Writer, e Envelope) error {
	data, err := Marshal(e)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed CBOR frame from r.
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return Envelope{}, fmt.Errorf("frame size %d exceeds maximum %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}
	return Unmarshal(body)
}
