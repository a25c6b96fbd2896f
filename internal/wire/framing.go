// Package wire defines the message envelopes and stream framing shared by
// all transports, plus the compact framing used on constrained links.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds a framed message on ordinary links.
const MaxMessageSize = 10 * 1024 * 1024

// ErrMessageTooLarge reports a frame over the size cap.
var ErrMessageTooLarge = errors.New("message too large")

// ErrInvalidMessageType reports an unknown envelope type.
var ErrInvalidMessageType = errors.New("invalid message type")

// MessageType tags envelopes on the wire.
type MessageType string

const (
	// TypeSync carries an interface sync message.
	TypeSync MessageType = "sync"
	// TypeCustody carries a custody-transfer message.
	TypeCustody MessageType = "custody"
	// TypeArtifact carries an artifact sync payload.
	TypeArtifact MessageType = "artifact"
	// TypePendingFlush carries queued events for a reconnecting peer.
	TypePendingFlush MessageType = "pending_flush"
	// TypePresence carries an ephemeral presence event.
	TypePresence MessageType = "presence"
)

// Envelope wraps one typed message body.
type Envelope struct {
	Type MessageType     `json:"type"`
	Body json.RawMessage `json:"body"`
}

// NewEnvelope marshals a body under a type tag.
func NewEnvelope(t MessageType, body any) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", t, err)
	}
	return &Envelope{Type: t, Body: raw}, nil
}

// Decode unmarshals the body into out.
func (e *Envelope) Decode(out any) error {
	if err := json.Unmarshal(e.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s body: %w", e.Type, err)
	}
	return nil
}

func (e *Envelope) validate() error {
	switch e.Type {
	case TypeSync, TypeCustody, TypeArtifact, TypePendingFlush, TypePresence:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidMessageType, e.Type)
}

// WriteMessage writes a length-prefixed envelope to a stream.
func WriteMessage(w io.Writer, e *Envelope) error {
	if err := e.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Marshal frames an envelope into a standalone byte slice, ready for a
// datagram-style transport Send.
func Marshal(e *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a framed envelope produced by Marshal.
func Unmarshal(data []byte) (*Envelope, error) {
	return ReadMessage(bytes.NewReader(data))
}

// ReadMessage reads one length-prefixed envelope from a stream.
func ReadMessage(r io.Reader) (*Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
