package raft

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLeader is returned when a command is submitted to a node that is not the leader. The caller should
	// redirect elsewhere.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrNodeStopped is returned when an operation is attempted on a stopped node.
	ErrNodeStopped = errors.New("raft: node stopped")

	// ErrTransportClosed is returned when a message is handed to a closed transport.
	ErrTransportClosed = errors.New("raft: transport closed")

	// ErrUnknownPeer is returned when a message is addressed to a node outside the cluster.
	ErrUnknownPeer = errors.New("raft: unknown peer")

	// ErrInvalidConfig is returned when the node configuration is invalid.
	ErrInvalidConfig = errors.New("raft: invalid configuration")
)

// InitializationError is fatal and aborts startup: address resolution, listener bind or store open failed.
type InitializationError struct {
	Op   string
	Addr string
	Err  error
}

func (e *InitializationError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("raft: initialization failed: %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("raft: initialization failed: %s: %v", e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TransportError is a non-fatal send or receive failure. The protocol retries through timeouts and heartbeats.
type TransportError struct {
	Peer NodeID
	Kind MessageKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("raft: sending %s to node %s: %v", e.Kind, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolViolation describes a malformed or inapplicable message. Such messages are dropped and never crash the
// control loop.
type ProtocolViolation struct {
	From   NodeID
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("raft: protocol violation from node %s: %s", e.From, e.Reason)
}
