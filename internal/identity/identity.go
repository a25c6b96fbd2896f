// Package identity provides post-quantum peer identities.
//
// A PublicIdentity wraps an ML-DSA-65 verifying key and can be freely
// shared, hashed, and used as a map key. A SecretIdentity pairs it with the
// signing key inside a zeroizing container and has exactly one logical
// holder at a time.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

const (
	// VerifyingKeySize is the ML-DSA-65 public key length in bytes.
	VerifyingKeySize = mldsa65.PublicKeySize
	// SigningKeySize is the ML-DSA-65 private key length in bytes.
	SigningKeySize = mldsa65.PrivateKeySize
	// SignatureSize is the ML-DSA-65 signature length in bytes.
	SignatureSize = mldsa65.SignatureSize
)

// ErrInvalidKey reports key material with the wrong shape.
var ErrInvalidKey = errors.New("invalid key")

// ErrInvalidSignature reports signature bytes with the wrong shape.
var ErrInvalidSignature = errors.New("invalid signature")

// PublicIdentity is a shareable verifying key. It is a value type:
// equality and map-key behavior follow the packed key bytes.
type PublicIdentity struct {
	key [VerifyingKeySize]byte
}

// PublicIdentityFromBytes parses a packed verifying key.
func PublicIdentityFromBytes(b []byte) (PublicIdentity, error) {
	var p PublicIdentity
	if len(b) != VerifyingKeySize {
		return p, fmt.Errorf("%w: verifying key must be %d bytes, got %d",
			ErrInvalidKey, VerifyingKeySize, len(b))
	}
	copy(p.key[:], b)
	if _, err := p.unpack(); err != nil {
		return PublicIdentity{}, err
	}
	return p, nil
}

func (p PublicIdentity) unpack() (*mldsa65.PublicKey, error) {
	var pk mldsa65.PublicKey
	if err := pk.UnmarshalBinary(p.key[:]); err != nil {
		return nil, fmt.Errorf("%w: malformed verifying key: %v", ErrInvalidKey, err)
	}
	return &pk, nil
}

// Bytes returns the packed verifying key.
func (p PublicIdentity) Bytes() []byte {
	out := make([]byte, VerifyingKeySize)
	copy(out, p.key[:])
	return out
}

// ShortID returns the hex of the first 8 key bytes.
func (p PublicIdentity) ShortID() string {
	return hex.EncodeToString(p.key[:8])
}

func (p PublicIdentity) String() string {
	return p.ShortID()
}

// Verify checks a detached signature. Malformed inputs fail closed: the
// result is false, never a panic.
func (p PublicIdentity) Verify(message []byte, sig Signature) bool {
	pk, err := p.unpack()
	if err != nil {
		return false
	}
	return mldsa65.Verify(pk, message, nil, sig.bytes[:])
}

// Signature is a fixed-length ML-DSA-65 signature.
type Signature struct {
	bytes [SignatureSize]byte
}

// SignatureFromBytes parses signature bytes, rejecting any other length.
func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureSize {
		return s, fmt.Errorf("%w: signature must be %d bytes, got %d",
			ErrInvalidSignature, SignatureSize, len(b))
	}
	copy(s.bytes[:], b)
	return s, nil
}

// Bytes returns the signature bytes.
func (s Signature) Bytes() []byte {
	out := make([]byte, SignatureSize)
	copy(out, s.bytes[:])
	return out
}

// SecretIdentity holds the signing half of an identity. The signing key is
// kept in a zeroizing container and erased by Destroy.
type SecretIdentity struct {
	signing *SecureBytes
	public  PublicIdentity
}

// Generate creates a fresh random identity.
func Generate() (*SecretIdentity, error) {
	pk, sk, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to pack signing key: %w", err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to pack verifying key: %w", err)
	}
	pub, err := PublicIdentityFromBytes(pkBytes)
	if err != nil {
		return nil, err
	}
	return &SecretIdentity{signing: NewSecureBytes(skBytes), public: pub}, nil
}

// FromSigningKeyBytes always fails: the secret key bytes alone are not a
// complete identity. Serialized identities carry both halves; use
// FromKeypairBytes.
func FromSigningKeyBytes(_ []byte) (*SecretIdentity, error) {
	return nil, fmt.Errorf("%w: signing key bytes alone are insufficient, use FromKeypairBytes", ErrInvalidKey)
}

// FromKeypairBytes reconstructs an identity from both key halves.
func FromKeypairBytes(skBytes, pkBytes []byte) (*SecretIdentity, error) {
	if len(skBytes) != SigningKeySize {
		return nil, fmt.Errorf("%w: signing key must be %d bytes, got %d",
			ErrInvalidKey, SigningKeySize, len(skBytes))
	}
	var sk mldsa65.PrivateKey
	if err := sk.UnmarshalBinary(skBytes); err != nil {
		return nil, fmt.Errorf("%w: malformed signing key: %v", ErrInvalidKey, err)
	}
	pub, err := PublicIdentityFromBytes(pkBytes)
	if err != nil {
		return nil, err
	}
	held := make([]byte, len(skBytes))
	copy(held, skBytes)
	return &SecretIdentity{signing: NewSecureBytes(held), public: pub}, nil
}

// Public returns the shareable verifying half.
func (s *SecretIdentity) Public() PublicIdentity {
	return s.public
}

// SigningKeyBytes exports the signing key in a fresh zeroizing container.
func (s *SecretIdentity) SigningKeyBytes() *SecureBytes {
	return s.signing.Clone()
}

// Sign produces a detached signature over the message.
func (s *SecretIdentity) Sign(message []byte) (Signature, error) {
	var sig Signature
	var sk mldsa65.PrivateKey
	destroyed := true
	for _, b := range s.signing.Slice() {
		if b != 0 {
			destroyed = false
			break
		}
	}
	if destroyed {
		return sig, fmt.Errorf("%w: signing key destroyed", ErrInvalidKey)
	}
	if err := sk.UnmarshalBinary(s.signing.Slice()); err != nil {
		return sig, fmt.Errorf("%w: signing key destroyed or corrupt: %v", ErrInvalidKey, err)
	}
	if err := mldsa65.SignTo(&sk, message, nil, false, sig.bytes[:]); err != nil {
		return sig, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Destroy zeroizes the signing key in place. The identity is unusable for
// signing afterwards.
func (s *SecretIdentity) Destroy() {
	s.signing.Destroy()
}
