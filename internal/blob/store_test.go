package blob

import (
	"bytes"
	"errors"
	"os"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestStoreAndLoad(t *testing.T) {
	s := newTestStore(t)
	content := []byte("hello, content-addressed world")

	ref, err := s.Store(content)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if ref.Size != uint64(len(content)) {
		t.Errorf("ref size: want %d, got %d", len(content), ref.Size)
	}

	loaded, err := s.Load(ref)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !bytes.Equal(loaded, content) {
		t.Error("loaded bytes differ from stored bytes")
	}
}

func TestStoreIdempotent(t *testing.T) {
	s := newTestStore(t)
	content := []byte("same bytes")

	ref1, err := s.Store(content)
	if err != nil {
		t.Fatalf("first store failed: %v", err)
	}
	ref2, err := s.Store(content)
	if err != nil {
		t.Fatalf("second store failed: %v", err)
	}
	if ref1 != ref2 {
		t.Error("storing identical content must return identical refs")
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ref, _ := s.Store([]byte("exists"))

	if !s.Exists(ref.Hash) {
		t.Error("stored blob should exist")
	}
	var missing [32]byte
	missing[0] = 0xFF
	if s.Exists(missing) {
		t.Error("missing blob should not exist")
	}
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)
	var ref ContentRef
	ref.Hash[0] = 0xAB
	if _, err := s.Load(ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestIntegrityMismatchIsFatal(t *testing.T) {
	s := newTestStore(t)
	ref, _ := s.Store([]byte("pristine content"))

	// Corrupt the blob on disk behind the store's back.
	path := s.path(ref.Hash)
	if err := os.WriteFile(path, []byte("tampered"), 0o600); err != nil {
		t.Fatalf("failed to corrupt blob: %v", err)
	}

	if _, err := s.Load(ref); !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("want ErrIntegrityMismatch, got %v", err)
	}
}

func TestDeleteAndGC(t *testing.T) {
	s := newTestStore(t)
	keep, _ := s.Store([]byte("keep me"))
	drop, _ := s.Store([]byte("drop me"))

	removed, err := s.GarbageCollect(map[[32]byte]bool{keep.Hash: true})
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("gc removed %d blobs, want 1", removed)
	}
	if !s.Exists(keep.Hash) {
		t.Error("referenced blob must survive gc")
	}
	if s.Exists(drop.Hash) {
		t.Error("unreferenced blob must be collected")
	}
}

func TestShardedLayout(t *testing.T) {
	s := newTestStore(t)
	ref, _ := s.Store([]byte("sharded"))

	hx := ref.HashHex()
	path := s.path(ref.Hash)
	wantSuffix := string(os.PathSeparator) + hx[:2] + string(os.PathSeparator) + hx
	if !bytes.HasSuffix([]byte(path), []byte(wantSuffix)) {
		t.Errorf("blob path %q should end with shard layout %q", path, wantSuffix)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("blob should live at the sharded path: %v", err)
	}
}
