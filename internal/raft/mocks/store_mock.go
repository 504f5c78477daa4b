package mocks

import (
	"sync"

	"raftnode/internal/raft"
	"raftnode/internal/raft/storage"
)

var _ storage.Store = (*MockStore)(nil)

// MockStore is an in-memory storage.Store with error injection for testing
type MockStore struct {
	mu      sync.Mutex
	hs      raft.HardState
	entries []raft.LogEntry

	// Error injection for testing
	LoadError          error
	SaveHardStateError error
	StoreEntriesError  error

	SaveHardStateCalls int
	StoreEntriesCalls  int
	Closed             bool
}

// NewMockStore creates a store holding hs and entries, as if they survived a restart.
func NewMockStore(hs raft.HardState, entries ...raft.LogEntry) *MockStore {
	return &MockStore{hs: hs, entries: entries}
}

func (m *MockStore) Load() (raft.HardState, []raft.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadError != nil {
		return raft.HardState{}, nil, m.LoadError
	}
	return m.hs, append([]raft.LogEntry(nil), m.entries...), nil
}

func (m *MockStore) SaveHardState(hs raft.HardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveHardStateCalls++
	if m.SaveHardStateError != nil {
		return m.SaveHardStateError
	}
	m.hs = hs
	return nil
}

func (m *MockStore) StoreEntries(from uint64, entries []raft.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreEntriesCalls++
	if m.StoreEntriesError != nil {
		return m.StoreEntriesError
	}
	if from == 0 || from > uint64(len(m.entries))+1 {
		return storage.ErrCorrupted
	}
	m.entries = append(m.entries[:from-1], entries...)
	return nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// HardState returns what was last persisted.
func (m *MockStore) HardState() raft.HardState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hs
}

// Entries returns a copy of the persisted log.
func (m *MockStore) Entries() []raft.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]raft.LogEntry(nil), m.entries...)
}

// SetErrors changes the injected write errors while the store is in use.
func (m *MockStore) SetErrors(saveHardState, storeEntries error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveHardStateError = saveHardState
	m.StoreEntriesError = storeEntries
}
