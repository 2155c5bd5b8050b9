package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// MaxDatagramSize bounds a single UDP datagram, well above the largest
// chunk envelope the streaming pipeline ever produces.
const MaxDatagramSize = 60000

// WriteMessage marshals v to JSON and writes it to conn, then half-closes
// the write side (when supported) so the peer's read-until-EOF sees a
// clean end of message without needing a length prefix.
func WriteMessage(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshaling message: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("wire: writing message: %w", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return nil
}

// ReadMessage reads every byte up to EOF from conn and unmarshals it into v,
// tolerating trailing whitespace as required by the wire contract.
func ReadMessage(conn net.Conn, v any) error {
	data, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("wire: reading message: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("wire: empty message")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: decoding message: %w", err)
	}
	return nil
}

// envelopeTag peeks at the small set of fields used to route an inbound
// message without committing to a concrete type.
type envelopeTag struct {
	Action string `json:"action,omitempty"`
	Type   string `json:"type,omitempty"`
	Cmd    string `json:"cmd,omitempty"`
	Status string `json:"status,omitempty"`
}

// PeekEnvelope reads a full control message from conn and returns both the
// raw bytes (for a second, type-specific unmarshal) and its routing tag.
func PeekEnvelope(conn net.Conn) ([]byte, envelopeTag, error) {
	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, envelopeTag{}, fmt.Errorf("wire: reading envelope: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, envelopeTag{}, fmt.Errorf("wire: empty envelope")
	}
	var tag envelopeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, envelopeTag{}, fmt.Errorf("wire: decoding envelope: %w", err)
	}
	return data, tag, nil
}

// Decode unmarshals raw envelope bytes into v.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: decoding payload: %w", err)
	}
	return nil
}

// WriteDatagram marshals v to JSON and sends it as a single UDP datagram.
func WriteDatagram(conn net.PacketConn, addr net.Addr, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshaling datagram: %w", err)
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("wire: datagram of %d bytes exceeds MaxDatagramSize %d", len(data), MaxDatagramSize)
	}
	if _, err := conn.WriteTo(data, addr); err != nil {
		return fmt.Errorf("wire: writing datagram: %w", err)
	}
	return nil
}

// DecodeDatagram parses a raw UDP payload into the envelope tag so callers
// can dispatch by Type before doing a second, concrete unmarshal.
func DecodeDatagram(data []byte) (envelopeTag, error) {
	data = bytes.TrimSpace(data)
	var tag envelopeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return envelopeTag{}, fmt.Errorf("wire: decoding datagram: %w", err)
	}
	return tag, nil
}
