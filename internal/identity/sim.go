package identity

import (
	"errors"
	"fmt"
)

// Identity is the capability set the sync, pending and DTN containers need
// from a peer identity: value equality, map-key behavior, byte identity and
// a printable form. PublicIdentity satisfies it in production; SimIdentity
// satisfies it in tests and simulations.
type Identity interface {
	comparable
	Bytes() []byte
	String() string
}

// SimIdentity is a one-byte identity for tests and simulations.
type SimIdentity struct {
	c byte
}

// NewSimIdentity builds a simulation identity from a printable ASCII byte.
func NewSimIdentity(c byte) (SimIdentity, error) {
	if c < 0x21 || c > 0x7E {
		return SimIdentity{}, errors.New("simulation identity must be printable ASCII")
	}
	return SimIdentity{c: c}, nil
}

// MustSimIdentity is NewSimIdentity for test fixtures; it panics on bad input.
func MustSimIdentity(c byte) SimIdentity {
	id, err := NewSimIdentity(c)
	if err != nil {
		panic(err)
	}
	return id
}

// Bytes returns the single identity byte.
func (s SimIdentity) Bytes() []byte {
	return []byte{s.c}
}

func (s SimIdentity) String() string {
	return fmt.Sprintf("sim:%c", s.c)
}
