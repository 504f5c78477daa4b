package mocks

import (
	"sync"

	"raftnode/internal/raft"
)

// AppliedEntry is an entry as seen by MockStateMachine.
type AppliedEntry struct {
	Index uint64
	raft.LogEntry
}

// MockStateMachine records every entry applied to it
type MockStateMachine struct {
	mu             sync.RWMutex
	applied        []AppliedEntry
	ApplyCallCount int
}

func NewMockStateMachine() *MockStateMachine {
	return &MockStateMachine{}
}

func (m *MockStateMachine) Apply(first uint64, entries []raft.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range entries {
		m.applied = append(m.applied, AppliedEntry{Index: first + uint64(i), LogEntry: e})
	}
	m.ApplyCallCount++
}

// Applied returns a copy of all applied entries
func (m *MockStateMachine) Applied() []AppliedEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AppliedEntry(nil), m.applied...)
}

// Commands returns the applied commands as strings, in order.
func (m *MockStateMachine) Commands() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.applied))
	for i, e := range m.applied {
		out[i] = string(e.Command)
	}
	return out
}
