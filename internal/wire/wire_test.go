package wire

import (
	"bytes"
	"errors"
	"testing"
)

type testBody struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeSync, &testBody{Name: "hello", Count: 3})
	if err != nil {
		t.Fatalf("new envelope failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, env); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	read, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if read.Type != TypeSync {
		t.Errorf("type: want sync, got %s", read.Type)
	}
	var body testBody
	if err := read.Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Name != "hello" || body.Count != 3 {
		t.Errorf("body mismatch: %+v", body)
	}
}

func TestInvalidEnvelopeTypeRejected(t *testing.T) {
	env := &Envelope{Type: "bogus", Body: []byte(`{}`)}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, env); !errors.Is(err, ErrInvalidMessageType) {
		t.Errorf("write: want ErrInvalidMessageType, got %v", err)
	}
}

func TestOversizeFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	// A length prefix claiming more than the cap.
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadMessage(&buf); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("read: want ErrMessageTooLarge, got %v", err)
	}
}

func TestTruncatedFrameErrors(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x01, 0x00}) // claims 256 bytes
	buf.Write([]byte("only a few"))
	if _, err := ReadMessage(&buf); err == nil {
		t.Error("truncated frame must error")
	}
}

func TestCompactRoundTrip(t *testing.T) {
	m := &CompactMessage{
		Type:    CompactTypeData,
		Flags:   FlagAckRequested | FlagLastFragment,
		Seq:     1234,
		Payload: []byte("compact payload"),
	}

	encoded, err := EncodeCompact(m)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeCompact(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Type != m.Type || decoded.Seq != m.Seq {
		t.Errorf("header mismatch: %+v", decoded)
	}
	if !bytes.Equal(decoded.Payload, m.Payload) {
		t.Error("payload mismatch")
	}
	if !decoded.AckRequested() || !decoded.LastFragment() || decoded.Fragmented() {
		t.Error("flag bits mismatch")
	}
}

func TestCompactChecksumDetectsCorruption(t *testing.T) {
	m := &CompactMessage{Type: CompactTypeSync, Seq: 1, Payload: []byte("x")}
	encoded, _ := EncodeCompact(m)

	encoded[len(encoded)-2] ^= 0xFF
	if _, err := DecodeCompact(encoded); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("want ErrChecksumMismatch, got %v", err)
	}
}

func TestCompactRejectsUnknownType(t *testing.T) {
	m := &CompactMessage{Type: 0x7F, Seq: 1}
	if _, err := EncodeCompact(m); !errors.Is(err, ErrInvalidMessageType) {
		t.Errorf("encode: want ErrInvalidMessageType, got %v", err)
	}

	// Hand-build a frame with a bogus type and a valid checksum.
	raw := []byte{0x7F, 0x00, 0x01, 0x00}
	raw = append(raw, crc8(raw))
	if _, err := DecodeCompact(raw); !errors.Is(err, ErrInvalidMessageType) {
		t.Errorf("decode: want ErrInvalidMessageType, got %v", err)
	}
}

func TestCompactRejectsOversizePayload(t *testing.T) {
	m := &CompactMessage{
		Type:    CompactTypeData,
		Payload: make([]byte, MaxCompactPayload+1),
	}
	if _, err := EncodeCompact(m); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("want ErrMessageTooLarge, got %v", err)
	}
}

func TestCompactRejectsShortFrames(t *testing.T) {
	if _, err := DecodeCompact([]byte{1, 2}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("want ErrInvalidFrame, got %v", err)
	}
}

func TestCompactLengthMismatch(t *testing.T) {
	// Frame claims a 5-byte payload but carries 2.
	raw := []byte{CompactTypeData, 0x00, 0x01, 0x05, 'a', 'b'}
	raw = append(raw, crc8(raw))
	if _, err := DecodeCompact(raw); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("want ErrInvalidFrame, got %v", err)
	}
}

func TestCRC8KnownValue(t *testing.T) {
	// CRC-8-CCITT (poly 0x07) of "123456789" is 0xF4.
	if got := crc8([]byte("123456789")); got != 0xF4 {
		t.Errorf("crc8 check value: want 0xF4, got 0x%02X", got)
	}
}
