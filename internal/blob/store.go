// Package blob provides content-addressed storage for event payloads and
// document snapshots. Contents are immutable and addressed by their BLAKE3
// hash; storing the same bytes twice is a no-op.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"
)

// ErrIntegrityMismatch reports a blob whose recomputed hash differs from
// the requested one. Never silently recoverable.
var ErrIntegrityMismatch = errors.New("blob integrity mismatch")

// ErrNotFound reports a missing blob.
var ErrNotFound = errors.New("blob not found")

// ContentRef addresses an immutable blob.
type ContentRef struct {
	Hash [32]byte `json:"hash"`
	Size uint64   `json:"size"`
}

// HashHex returns the lowercase hex of the content hash.
func (r ContentRef) HashHex() string {
	return hex.EncodeToString(r.Hash[:])
}

// Store is a content-addressed blob store rooted at one directory.
// Blobs live at blobs/<hh>/<hash_hex> where hh is the hex of the first
// hash byte, bounding per-directory entry counts.
type Store struct {
	dir string
}

// NewStore creates (or reopens) a blob store under dataDir/blobs.
func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(hash [32]byte) string {
	hx := hex.EncodeToString(hash[:])
	return filepath.Join(s.dir, hx[:2], hx)
}

// Store writes content and returns its reference. Idempotent: identical
// bytes always yield the same ContentRef, and re-storing is a no-op.
func (s *Store) Store(content []byte) (ContentRef, error) {
	ref := ContentRef{Hash: blake3.Sum256(content), Size: uint64(len(content))}
	path := s.path(ref.Hash)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return ContentRef{}, fmt.Errorf("failed to create blob shard: %w", err)
	}

	// Write to a temp file then rename so readers never see partial blobs.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return ContentRef{}, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ContentRef{}, fmt.Errorf("failed to finalize blob: %w", err)
	}
	return ref, nil
}

// Load reads a blob and verifies its integrity against the reference.
func (s *Store) Load(ref ContentRef) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref.Hash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.HashHex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	if blake3.Sum256(data) != ref.Hash {
		return nil, fmt.Errorf("%w: %s", ErrIntegrityMismatch, ref.HashHex())
	}
	return data, nil
}

// Exists reports whether a blob with the given hash is stored.
func (s *Store) Exists(hash [32]byte) bool {
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Delete removes a blob. Missing blobs are not an error.
func (s *Store) Delete(hash [32]byte) error {
	if err := os.Remove(s.path(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// List returns the hashes of all stored blobs.
func (s *Store) List() ([][32]byte, error) {
	shards, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	var hashes [][32]byte
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.dir, shard.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list blob shard: %w", err)
		}
		for _, e := range entries {
			raw, err := hex.DecodeString(e.Name())
			if err != nil || len(raw) != 32 {
				continue
			}
			var h [32]byte
			copy(h[:], raw)
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

// GarbageCollect removes blobs whose hash is not in referenced. Returns the
// number removed.
func (s *Store) GarbageCollect(referenced map[[32]byte]bool) (int, error) {
	all, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, h := range all {
		if !referenced[h] {
			if err := s.Delete(h); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
