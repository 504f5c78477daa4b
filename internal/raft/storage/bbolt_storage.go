package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"raftnode/internal/raft"
	"raftnode/internal/raft/wire"
)

var (
	// Bucket names
	logBucket      = []byte("logs")
	metadataBucket = []byte("metadata")

	// Metadata keys
	currentTermKey = []byte("currentTerm")
	votedForKey    = []byte("votedFor")
)

// openTimeout bounds how long Open waits for the file lock held by another process.
const openTimeout = time.Second

// BoltStore is a Store backed by a single bbolt file. Log entries are keyed by their big-endian index so a
// cursor walks them in log order.
type BoltStore struct {
	conn *bbolt.DB
}

// NewBoltStore opens (or creates) the store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	// Initialize buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logBucket); err != nil {
			return fmt.Errorf("failed to create log bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(metadataBucket); err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{conn: db}, nil
}

// Path returns the file backing the store.
func (b *BoltStore) Path() string {
	return b.conn.Path()
}

// Load reads the hard state and the whole log in a single read transaction.
func (b *BoltStore) Load() (raft.HardState, []raft.LogEntry, error) {
	var hs raft.HardState
	var entries []raft.LogEntry

	err := b.conn.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metadataBucket)
		if data := meta.Get(currentTermKey); data != nil {
			hs.CurrentTerm = bytesToUint64(data)
		}
		if data := meta.Get(votedForKey); data != nil {
			hs.VotedFor = raft.NodeID(bytesToUint64(data))
		}

		cursor := tx.Bucket(logBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			index := bytesToUint64(k)
			if index != uint64(len(entries))+1 {
				return fmt.Errorf("%w: expected index %d, found %d", ErrCorrupted, len(entries)+1, index)
			}
			entry, err := wire.UnmarshalLogEntry(v)
			if err != nil {
				return fmt.Errorf("%w: entry %d: %v", ErrCorrupted, index, err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return raft.HardState{}, nil, err
	}
	return hs, entries, nil
}

// SaveHardState persists currentTerm and votedFor in one transaction. A vote for None deletes the key.
func (b *BoltStore) SaveHardState(hs raft.HardState) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(metadataBucket)
		if err := bucket.Put(currentTermKey, uint64ToBytes(hs.CurrentTerm)); err != nil {
			return err
		}
		if hs.VotedFor == raft.None {
			return bucket.Delete(votedForKey)
		}
		return bucket.Put(votedForKey, uint64ToBytes(uint64(hs.VotedFor)))
	})
}

// StoreEntries replaces the log suffix starting at from in a single transaction.
func (b *BoltStore) StoreEntries(from uint64, entries []raft.LogEntry) error {
	if from == 0 {
		return fmt.Errorf("storage: log indices start at 1")
	}
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)

		// Delete everything from the start index. Deleting under a cursor skips the following key, so collect
		// the keys first.
		var stale [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(uint64ToBytes(from)); k != nil; k, _ = cursor.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}

		for i, entry := range entries {
			key := uint64ToBytes(from + uint64(i))
			if err := bucket.Put(key, wire.MarshalLogEntry(entry)); err != nil {
				return fmt.Errorf("failed to store log entry %d: %w", from+uint64(i), err)
			}
		}
		return nil
	})
}

// LastIndex returns the index of the last stored entry (0 if the log is empty)
func (b *BoltStore) LastIndex() (uint64, error) {
	var lastIndex uint64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket(logBucket).Cursor().Last()
		if k != nil {
			lastIndex = bytesToUint64(k)
		}
		return nil
	})
	return lastIndex, err
}

// Close closes the storage connection
func (b *BoltStore) Close() error {
	return b.conn.Close()
}

// Helper functions for uint64 <-> []byte conversion
func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
