package mocks

import (
	"sync"
	"time"

	"raftnode/internal/raft"
)

var _ raft.MetricsCollector = (*MockMetricsCollector)(nil)

// MetricsCounts is a snapshot of what a MockMetricsCollector recorded.
type MetricsCounts struct {
	CommandLatencies  int
	CommandsCommitted int
	AppendEntries     int
	RequestVotes      int
	Heartbeats        int
	Elections         int
	ElectionDurations []time.Duration
}

// MockMetricsCollector counts calls to every raft.MetricsCollector method
type MockMetricsCollector struct {
	mu     sync.Mutex
	counts MetricsCounts
}

func NewMockMetricsCollector() *MockMetricsCollector {
	return &MockMetricsCollector{}
}

func (m *MockMetricsCollector) record(fn func(c *MetricsCounts)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.counts)
}

func (m *MockMetricsCollector) RecordCommandLatency(time.Duration) {
	m.record(func(c *MetricsCounts) { c.CommandLatencies++ })
}

func (m *MockMetricsCollector) RecordCommandCommitted() {
	m.record(func(c *MetricsCounts) { c.CommandsCommitted++ })
}

func (m *MockMetricsCollector) RecordAppendEntries() {
	m.record(func(c *MetricsCounts) { c.AppendEntries++ })
}

func (m *MockMetricsCollector) RecordRequestVote() {
	m.record(func(c *MetricsCounts) { c.RequestVotes++ })
}

func (m *MockMetricsCollector) RecordHeartbeat() {
	m.record(func(c *MetricsCounts) { c.Heartbeats++ })
}

func (m *MockMetricsCollector) RecordElection() {
	m.record(func(c *MetricsCounts) { c.Elections++ })
}

func (m *MockMetricsCollector) RecordElectionDuration(d time.Duration) {
	m.record(func(c *MetricsCounts) { c.ElectionDurations = append(c.ElectionDurations, d) })
}

// Counts returns a copy of everything recorded so far.
func (m *MockMetricsCollector) Counts() MetricsCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counts
	c.ElectionDurations = append([]time.Duration(nil), m.counts.ElectionDurations...)
	return c
}
