package storage

import (
	"errors"

	"raftnode/internal/raft"
)

// ErrCorrupted is returned by Load when the stored log has gaps or undecodable entries.
var ErrCorrupted = errors.New("storage: corrupted log")

// Store is the durable store for the state that must survive restarts: currentTerm, votedFor and the log
// (Figure 2 from the [Raft paper](https://raft.github.io/raft.pdf): "Updated on stable storage before responding
// to RPCs"). Implementations must make every write durable before returning.
type Store interface {
	// Load returns the persisted hard state and the full log, entry i of the slice holding index i+1.
	Load() (raft.HardState, []raft.LogEntry, error)

	// SaveHardState persists currentTerm and votedFor.
	SaveHardState(hs raft.HardState) error

	// StoreEntries deletes every stored entry at index >= from and writes entries at indices from, from+1, ...
	// This covers both appends and the truncation of a conflicting suffix (Section 5.3).
	StoreEntries(from uint64, entries []raft.LogEntry) error

	// Close closes the store.
	Close() error
}
