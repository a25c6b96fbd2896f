// Package eventlog implements per-interface append-only event logs.
//
// On disk a log is a sequence of framed records: a 4-byte big-endian length
// followed by the JSON-encoded entry. Startup replays all frames to rebuild
// the in-memory event-id index; a truncated final frame (a crashed partial
// write) is logged and discarded, leaving all prior frames valid.
package eventlog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trumanellis/indranet/internal/blob"
	"github.com/trumanellis/indranet/internal/core"
)

// maxFrameSize bounds a single record; larger payloads belong in the blob
// store.
const maxFrameSize = 10 * 1024 * 1024

// Config controls event log behavior.
type Config struct {
	// BaseDir is the directory holding one .log file per interface.
	BaseDir string
	// SyncOnWrite fsyncs after each append.
	SyncOnWrite bool
	// MaxSegmentSize is an advisory rotation hint.
	MaxSegmentSize uint64
}

// DefaultConfig returns the production defaults.
func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:        baseDir,
		SyncOnWrite:    true,
		MaxSegmentSize: 100 * 1024 * 1024,
	}
}

// Entry is one record in the log. Payload is empty when BlobRef is set.
type Entry struct {
	EventID         core.EventID     `json:"event_id"`
	Sequence        uint64           `json:"sequence"`
	TimestampMillis int64            `json:"timestamp_millis"`
	Payload         []byte           `json:"payload,omitempty"`
	BlobRef         *blob.ContentRef `json:"blob_ref,omitempty"`
}

// Log is the append-only event log for one interface. Reads may run
// concurrently; sequence allocation, append and index update share one
// critical section.
type Log struct {
	interfaceID core.InterfaceID
	config      Config
	path        string

	mu       sync.RWMutex
	file     *os.File
	index    map[core.EventID]int64
	sequence uint64
	offset   int64
}

// Open opens (creating if needed) the log for an interface and replays it
// to rebuild the index.
func Open(interfaceID core.InterfaceID, config Config) (*Log, error) {
	if err := os.MkdirAll(config.BaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(config.BaseDir, interfaceID.Hex()+".log")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	l := &Log{
		interfaceID: interfaceID,
		config:      config,
		path:        path,
		file:        file,
		index:       make(map[core.EventID]int64),
	}

	if err := l.replay(); err != nil {
		file.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"interface": interfaceID.Short(),
		"entries":   len(l.index),
		"sequence":  l.sequence,
	}).Debug("event log opened")

	return l, nil
}

// replay scans all frames, stopping at the first truncated or malformed
// one. Bytes past that point are treated as corrupt and ignored.
func (l *Log) replay() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat event log: %w", err)
	}
	size := info.Size()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek event log: %w", err)
	}
	reader := bufio.NewReader(l.file)

	var offset int64
	for offset < size {
		var lenBuf [4]byte
		if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
			log.WithFields(log.Fields{"offset": offset}).Warn("truncated log frame, stopping replay")
			break
		}
		frameLen := binary.BigEndian.Uint32(lenBuf[:])
		if frameLen == 0 || frameLen > maxFrameSize {
			log.WithFields(log.Fields{"offset": offset, "len": frameLen}).Warn("invalid frame length, stopping replay")
			break
		}

		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(reader, frame); err != nil {
			log.WithFields(log.Fields{"offset": offset}).Warn("truncated log entry, stopping replay")
			break
		}

		var entry Entry
		if err := json.Unmarshal(frame, &entry); err != nil {
			log.WithFields(log.Fields{"offset": offset}).Warn("malformed log entry, stopping replay")
			break
		}

		l.index[entry.EventID] = offset
		if entry.Sequence+1 > l.sequence {
			l.sequence = entry.Sequence + 1
		}
		offset += 4 + int64(frameLen)
	}

	l.offset = offset
	return nil
}

// Append writes an inline-payload entry and returns its sequence.
func (l *Log) Append(eventID core.EventID, payload []byte) (uint64, error) {
	return l.append(Entry{
		EventID:         eventID,
		TimestampMillis: time.Now().UnixMilli(),
		Payload:         payload,
	})
}

// AppendWithBlob writes an entry whose payload lives in the blob store.
func (l *Log) AppendWithBlob(eventID core.EventID, ref blob.ContentRef) (uint64, error) {
	return l.append(Entry{
		EventID:         eventID,
		TimestampMillis: time.Now().UnixMilli(),
		BlobRef:         &ref,
	})
}

func (l *Log) append(entry Entry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Sequence = l.sequence

	frame, err := json.Marshal(&entry)
	if err != nil {
		return 0, fmt.Errorf("failed to encode log entry: %w", err)
	}
	if len(frame) > maxFrameSize {
		return 0, fmt.Errorf("log entry too large: %d bytes", len(frame))
	}

	offset, err := l.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to seek event log: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := l.file.Write(lenBuf[:]); err != nil {
		return 0, fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := l.file.Write(frame); err != nil {
		return 0, fmt.Errorf("failed to write log entry: %w", err)
	}
	if l.config.SyncOnWrite {
		if err := l.file.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync event log: %w", err)
		}
	}

	l.index[entry.EventID] = offset
	l.offset = offset + 4 + int64(len(frame))
	l.sequence++

	return entry.Sequence, nil
}

// ReadEvent returns the entry for an event ID, or nil when unknown.
func (l *Log) ReadEvent(eventID core.EventID) (*Entry, error) {
	l.mu.RLock()
	offset, ok := l.index[eventID]
	l.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return l.readAt(offset)
}

func (l *Log) readAt(offset int64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var lenBuf [4]byte
	if _, err := l.file.ReadAt(lenBuf[:], offset); err != nil {
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen == 0 || frameLen > maxFrameSize {
		return nil, fmt.Errorf("corrupt frame at offset %d", offset)
	}

	frame := make([]byte, frameLen)
	if _, err := l.file.ReadAt(frame, offset+4); err != nil {
		return nil, fmt.Errorf("failed to read log entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(frame, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode log entry: %w", err)
	}
	return &entry, nil
}

// ReadSince returns all entries with sequence >= since, ascending.
func (l *Log) ReadSince(since uint64) ([]Entry, error) {
	l.mu.RLock()
	offsets := make([]int64, 0, len(l.index))
	for _, off := range l.index {
		offsets = append(offsets, off)
	}
	l.mu.RUnlock()

	var entries []Entry
	for _, off := range offsets {
		entry, err := l.readAt(off)
		if err != nil {
			return nil, err
		}
		if entry.Sequence >= since {
			entries = append(entries, *entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return entries, nil
}

// ReadAll returns every entry, ascending by sequence.
func (l *Log) ReadAll() ([]Entry, error) {
	return l.ReadSince(0)
}

// CurrentSequence returns the next sequence to be allocated.
func (l *Log) CurrentSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequence
}

// Count returns the number of indexed entries.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

// InterfaceID returns the interface this log belongs to.
func (l *Log) InterfaceID() core.InterfaceID {
	return l.interfaceID
}

// Close syncs and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		l.file = nil
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}
