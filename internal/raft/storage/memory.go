package storage

import (
	"sync"

	"raftnode/internal/raft"
)

// MemoryStore keeps everything in memory. It survives a restart of the Node using it, not of the process.
type MemoryStore struct {
	mu      sync.Mutex
	hs      raft.HardState
	entries []raft.LogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (raft.HardState, []raft.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hs, append([]raft.LogEntry(nil), m.entries...), nil
}

func (m *MemoryStore) SaveHardState(hs raft.HardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hs = hs
	return nil
}

func (m *MemoryStore) StoreEntries(from uint64, entries []raft.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from == 0 || from > uint64(len(m.entries))+1 {
		return ErrCorrupted
	}
	m.entries = append(m.entries[:from-1], entries...)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
