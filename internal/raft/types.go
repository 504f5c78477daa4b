package raft

import (
	"fmt"
	"time"
)

// NodeID is the identity of a node in the cluster. Valid ids start at 1, the zero value means "no node".
type NodeID uint64

// None is used wherever no node is referenced, e.g. votedFor at the beginning of a term.
const None NodeID = 0

func (id NodeID) String() string {
	if id == None {
		return "none"
	}
	return fmt.Sprintf("%d", uint64(id))
}

// A Role is the state of a node at any given point: leader, follower, or candidate, as per Section 5.1 of the
// [Raft paper](https://raft.github.io/raft.pdf)
type Role uint8

// As Golang does not support Enums this is a common pattern for implementing one
const (
	Follower Role = iota
	Candidate
	Leader
)

// String returns the string representation of the Role
func (r Role) String() string {
	switch r {
	case Leader:
		return "Leader"
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	default:
		return "Unknown"
	}
}

// LogEntry stores a state machine command along with the term in which the entry was received by the leader.
// Entries are 1-indexed, index 0 is the sentinel "no entry".
type LogEntry struct {
	Term    uint64
	Command []byte
}

// Peer is a remote member of the cluster.
type Peer struct {
	ID      NodeID
	Address string
}

// Logger is the logging collaborator used across the node.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// MetricsCollector is an optional interface for collecting performance metrics
type MetricsCollector interface {
	RecordCommandLatency(latency time.Duration)
	RecordCommandCommitted()
	RecordAppendEntries()
	RecordRequestVote()
	RecordHeartbeat()
	RecordElection()
	RecordElectionDuration(duration time.Duration)
}
