package story

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/trumanellis/indranet/internal/identity"
)

// KeystoreFileName is the sealed keystore file inside the data directory.
const KeystoreFileName = "story_keys.json"

// keystoreFile is the on-disk JSON layout. The PQ keypair (both halves,
// concatenated signing‖verifying) is sealed under the story's encryption
// subkey; the verification token and KDF salt are stored in the clear.
type keystoreFile struct {
	Salt         string         `json:"salt"`
	Token        string         `json:"token"`
	SealedKeys   string         `json:"sealed_keys"`
	KDF          keystoreParams `json:"kdf"`
	StoryVersion int            `json:"story_version"`
}

type keystoreParams struct {
	Memory      uint32 `json:"mem"`
	Iterations  uint32 `json:"time"`
	Parallelism uint8  `json:"threads"`
}

// Keystore manages the sealed post-quantum identity for one data directory.
type Keystore struct {
	dir string
	mu  sync.RWMutex
}

// NewKeystore creates a keystore rooted at the given data directory.
func NewKeystore(dir string) *Keystore {
	return &Keystore{dir: dir}
}

func (k *Keystore) path() string {
	return filepath.Join(k.dir, KeystoreFileName)
}

// IsInitialized reports whether a keystore file exists.
func (k *Keystore) IsInitialized() bool {
	_, err := os.Stat(k.path())
	return err == nil
}

// Initialize seals a freshly generated PQ identity under the story's
// encryption subkey and writes the keystore file.
func (k *Keystore) Initialize(encryptionKey *identity.SecureBytes, token [KeySize]byte, salt []byte, version int) (*identity.SecretIdentity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.IsInitialized() {
		return nil, fmt.Errorf("keystore already initialized at %s", k.path())
	}

	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}

	if err := k.writeSealed(id, encryptionKey, token, salt, version); err != nil {
		return nil, err
	}
	return id, nil
}

func (k *Keystore) writeSealed(id *identity.SecretIdentity, encryptionKey *identity.SecureBytes, token [KeySize]byte, salt []byte, version int) error {
	sk := id.SigningKeyBytes()
	defer sk.Destroy()
	pk := id.Public().Bytes()

	plaintext := make([]byte, 0, sk.Len()+len(pk))
	plaintext = append(plaintext, sk.Slice()...)
	plaintext = append(plaintext, pk...)
	sealed, err := seal(encryptionKey.Slice(), plaintext, salt)
	for i := range plaintext {
		plaintext[i] = 0
	}
	if err != nil {
		return fmt.Errorf("failed to seal keypair: %w", err)
	}

	kf := keystoreFile{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Token:      base64.StdEncoding.EncodeToString(token[:]),
		SealedKeys: base64.StdEncoding.EncodeToString(sealed),
		KDF: keystoreParams{
			Memory:      kdfMemory,
			Iterations:  kdfTime,
			Parallelism: kdfThreads,
		},
		StoryVersion: version,
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode keystore: %w", err)
	}
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp := k.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	if err := os.Rename(tmp, k.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize keystore: %w", err)
	}
	return nil
}

func (k *Keystore) load() (*keystoreFile, error) {
	data, err := os.ReadFile(k.path())
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	return &kf, nil
}

// Salt returns the stored KDF salt.
func (k *Keystore) Salt() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	kf, err := k.load()
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(kf.Salt)
}

// Unlock verifies the token and opens the sealed identity.
func (k *Keystore) Unlock(encryptionKey *identity.SecureBytes, token [KeySize]byte) (*identity.SecretIdentity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	kf, err := k.load()
	if err != nil {
		return nil, err
	}

	storedToken, err := base64.StdEncoding.DecodeString(kf.Token)
	if err != nil || len(storedToken) != KeySize {
		return nil, fmt.Errorf("keystore token corrupt")
	}
	var stored [KeySize]byte
	copy(stored[:], storedToken)
	if !TokensEqual(stored, token) {
		return nil, ErrDecrypt
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore salt corrupt")
	}
	sealed, err := base64.StdEncoding.DecodeString(kf.SealedKeys)
	if err != nil {
		return nil, fmt.Errorf("keystore payload corrupt")
	}

	plaintext, err := open(encryptionKey.Slice(), sealed, salt)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range plaintext {
			plaintext[i] = 0
		}
	}()

	if len(plaintext) != identity.SigningKeySize+identity.VerifyingKeySize {
		return nil, fmt.Errorf("sealed keypair has wrong size")
	}
	return identity.FromKeypairBytes(
		plaintext[:identity.SigningKeySize],
		plaintext[identity.SigningKeySize:],
	)
}

// Rotate re-seals the identity under a new story's keys and salt.
func (k *Keystore) Rotate(id *identity.SecretIdentity, newEncryptionKey *identity.SecureBytes, newToken [KeySize]byte, newSalt []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	kf, err := k.load()
	if err != nil {
		return err
	}
	return k.writeSealed(id, newEncryptionKey, newToken, newSalt, kf.StoryVersion+1)
}
