package story

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"lukechampine.com/blake3"

	"github.com/trumanellis/indranet/internal/identity"
)

// KeySize is the length of the master key and every derived subkey.
const KeySize = 32

// Argon2id parameters, tuned for roughly 250 ms on commodity hardware.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 2
)

// Subkey derivation labels, each padded to 16 bytes for domain separation.
var (
	labelIdentity   = padLabel("identity")
	labelEncryption = padLabel("encryption")
	labelSigning    = padLabel("signing")
	labelRecovery   = padLabel("recovery")
)

func padLabel(s string) []byte {
	b := make([]byte, 16)
	copy(b, s)
	return b
}

// DerivedKeys holds the four purpose-bound subkeys expanded from a story's
// master key. All material lives in zeroizing containers.
type DerivedKeys struct {
	Identity   *identity.SecureBytes
	Encryption *identity.SecureBytes
	Signing    *identity.SecureBytes
	Recovery   *identity.SecureBytes
}

// Destroy zeroizes all four subkeys.
func (d *DerivedKeys) Destroy() {
	d.Identity.Destroy()
	d.Encryption.Destroy()
	d.Signing.Destroy()
	d.Recovery.Destroy()
}

// BuildSalt assembles the KDF salt: user_id followed by the little-endian
// creation timestamp.
func BuildSalt(userID []byte, timestamp uint64) []byte {
	salt := make([]byte, 0, len(userID)+8)
	salt = append(salt, userID...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], timestamp)
	return append(salt, ts[:]...)
}

// DeriveMasterKey runs the memory-hard KDF over the canonical story
// encoding and salt.
func DeriveMasterKey(canonical, salt []byte) *identity.SecureBytes {
	master := argon2.IDKey(canonical, salt, kdfTime, kdfMemory, kdfThreads, KeySize)
	return identity.NewSecureBytes(master)
}

// ExpandSubkeys derives the four subkeys from the master key via keyed
// BLAKE2b with domain-separated labels.
func ExpandSubkeys(master *identity.SecureBytes) (*DerivedKeys, error) {
	expand := func(label []byte) (*identity.SecureBytes, error) {
		h, err := blake2b.New256(master.Slice())
		if err != nil {
			return nil, fmt.Errorf("failed to key subkey expansion: %w", err)
		}
		h.Write(label)
		return identity.NewSecureBytes(h.Sum(nil)), nil
	}

	id, err := expand(labelIdentity)
	if err != nil {
		return nil, err
	}
	enc, err := expand(labelEncryption)
	if err != nil {
		return nil, err
	}
	sig, err := expand(labelSigning)
	if err != nil {
		return nil, err
	}
	rec, err := expand(labelRecovery)
	if err != nil {
		return nil, err
	}

	return &DerivedKeys{Identity: id, Encryption: enc, Signing: sig, Recovery: rec}, nil
}

// VerificationToken hashes the master key into a 32-byte token that can be
// stored and later compared without revealing key material.
func VerificationToken(master *identity.SecureBytes) [KeySize]byte {
	return blake3.Sum256(master.Slice())
}

// TokensEqual compares verification tokens in constant time.
func TokensEqual(a, b [KeySize]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
