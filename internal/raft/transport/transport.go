// Package transport moves raft messages between nodes. The control loop only sees the Transport interface: it hands
// requests to Send and drains requests and responses from Inbound.
package transport

import (
	"sync"
	"time"

	"raftnode/internal/raft"
)

const (
	// RPCTimeout is the maximum time to wait for a single RPC attempt
	// Section 5.6 states that broadcast time should be an order of magnitude less than the election timeout. For
	// typical networks, RPC round-trip times are << 15ms, so a 50ms timeout provides a comfortable safety margin.
	RPCTimeout = 50 * time.Millisecond

	// MaxRequestVoteRetries is the number of times to retry a failed RequestVote RPC
	// RequestVote retries are bounded by the election timeout - if an election fails, a new election with a new
	// term will be started.
	MaxRequestVoteRetries = 3

	// RetryBackoffBase is the base duration for linear backoff between retries
	RetryBackoffBase = 10 * time.Millisecond

	// MaxRetryBackoff is the maximum backoff duration between retries
	MaxRetryBackoff = 100 * time.Millisecond

	// DefaultInboundBuffer is the capacity of the inbound queue when none is configured.
	DefaultInboundBuffer = 256
)

// Transport is the network collaborator of a node. Delivery is at-most-once and unordered across peers, messages may
// be dropped or duplicated.
type Transport interface {
	// Start begins accepting messages from peers.
	Start() error
	// Send hands a request to the transport and returns without waiting for it to be delivered. The response, if
	// one arrives, shows up on Inbound as an Envelope from the peer.
	Send(to raft.NodeID, msg raft.Message) error
	// Inbound is the queue of requests and responses received from peers.
	Inbound() <-chan raft.Envelope
	// Close stops the transport. Pending sends are abandoned.
	Close() error
}

func backoff(attempt int) time.Duration {
	// Linear backoff: 10ms, 20ms, 30ms...
	d := RetryBackoffBase * time.Duration(attempt+1)
	if d > MaxRetryBackoff {
		d = MaxRetryBackoff
	}
	return d
}

// onceReply wraps fn so only the first call is forwarded.
func onceReply(fn func(raft.Message)) func(raft.Message) {
	var once sync.Once
	return func(m raft.Message) {
		once.Do(func() { fn(m) })
	}
}
