// Package keyvalue implements the transactional ordered key-value store
// backing peer, interface, membership, sync-state and delivery bookkeeping.
//
// The store is a single SQLite database (file name indras.kv) with one
// relation keyed by (table name, key bytes). SQLite's BLOB collation is
// plain byte order, which gives ScanPrefix its lexicographic contract.
package keyvalue

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the structured store's file name inside the data directory.
const DBFileName = "indras.kv"

// Table names a namespace inside the store.
type Table string

// Tables used by the core.
const (
	// PeerRegistry: peer_id -> PeerRecord
	PeerRegistry Table = "peer_registry"
	// Interfaces: interface_id -> InterfaceRecord
	Interfaces Table = "interfaces"
	// InterfaceMembers: interface_id || peer_id -> MembershipRecord
	InterfaceMembers Table = "interface_members"
	// SyncState: peer_id || interface_id -> SyncStateRecord
	SyncState Table = "sync_state"
	// EventIndex: interface_id || event_id -> log sequence (as returned by
	// Append); the byte offset within the log is not stored.
	EventIndex Table = "event_index"
	// PendingDelivery: peer_id || interface_id || event_id -> metadata
	PendingDelivery Table = "pending_delivery"
	// Snapshots: interface_id -> SnapshotMetadata
	Snapshots Table = "snapshots"
)

// Store is the SQLite-backed ordered key-value store. All mutations are
// atomic per call; scans see a consistent snapshot.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at the given path. Use
// ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			tbl   TEXT NOT NULL,
			key   BLOB NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (tbl, key)
		);
	`)
	return err
}

// Put inserts or replaces a key-value pair.
func (s *Store) Put(table Table, key, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (tbl, key, value) VALUES (?, ?, ?)
		ON CONFLICT(tbl, key) DO UPDATE SET value = excluded.value
	`, string(table), key, value)
	if err != nil {
		return fmt.Errorf("failed to put %s key: %w", table, err)
	}
	return nil
}

// Get returns the value for a key, or (nil, nil) when absent.
func (s *Store) Get(table Table, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM kv WHERE tbl = ? AND key = ?`,
		string(table), key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s key: %w", table, err)
	}
	return value, nil
}

// Delete removes a key. Returns whether a row was removed.
func (s *Store) Delete(table Table, key []byte) (bool, error) {
	res, err := s.db.Exec(
		`DELETE FROM kv WHERE tbl = ? AND key = ?`,
		string(table), key,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s key: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return n > 0, nil
}

// KV is one scanned key-value pair.
type KV struct {
	Key   []byte
	Value []byte
}

// ScanPrefix returns all pairs whose key starts with prefix, in key
// order. A nil or empty prefix scans the whole table.
func (s *Store) ScanPrefix(table Table, prefix []byte) ([]KV, error) {
	if prefix == nil {
		prefix = []byte{}
	}
	query := `SELECT key, value FROM kv WHERE tbl = ? AND key >= ?`
	args := []any{string(table), prefix}
	if end, ok := prefixEnd(prefix); ok {
		query += ` AND key < ?`
		args = append(args, end)
	}
	query += ` ORDER BY key`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s prefix: %w", table, err)
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

// CountPrefix counts the keys starting with prefix.
func (s *Store) CountPrefix(table Table, prefix []byte) (int, error) {
	if prefix == nil {
		prefix = []byte{}
	}
	query := `SELECT COUNT(*) FROM kv WHERE tbl = ? AND key >= ?`
	args := []any{string(table), prefix}
	if end, ok := prefixEnd(prefix); ok {
		query += ` AND key < ?`
		args = append(args, end)
	}

	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s prefix: %w", table, err)
	}
	return n, nil
}

// prefixEnd computes the smallest byte string greater than every key with
// the given prefix. The second result is false when no upper bound exists
// (empty or all-0xFF prefix), in which case the scan runs to the end.
func prefixEnd(prefix []byte) ([]byte, bool) {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1], true
		}
	}
	return nil, false
}

// Compact reclaims free pages. Maintenance only.
func (s *Store) Compact() error {
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("failed to compact database: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
