package mocks

import (
	"github.com/stretchr/testify/mock"

	"raftnode/internal/raft"
)

// MockTransport is a testify mock of transport.Transport. Inbound is backed by a real channel, feed it with
// Deliver.
type MockTransport struct {
	mock.Mock
	inbound chan raft.Envelope
}

func NewMockTransport() *MockTransport {
	return &MockTransport{inbound: make(chan raft.Envelope, 64)}
}

func (m *MockTransport) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransport) Send(to raft.NodeID, msg raft.Message) error {
	args := m.Called(to, msg)
	return args.Error(0)
}

func (m *MockTransport) Inbound() <-chan raft.Envelope {
	return m.inbound
}

func (m *MockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Deliver queues env as if it had arrived from the network.
func (m *MockTransport) Deliver(env raft.Envelope) {
	m.inbound <- env
}
