package server

import (
	"raftnode/internal/pubsub"
	"raftnode/internal/raft"
)

// Events published by a Node on its broker.
const (
	// NodeShutDown is sent once when the control loop exits. The payload is the node id.
	NodeShutDown pubsub.EventType = iota
	// RoleChanged is sent on every role transition with a RoleChange payload.
	RoleChanged
	// LeaderElected is sent when this node becomes Leader, with a RoleChange payload.
	LeaderElected
	// CommitAdvanced is sent after newly committed entries were applied, with a Commit payload.
	CommitAdvanced
)

// RoleChange describes a role transition.
type RoleChange struct {
	Node   raft.NodeID
	Term   uint64
	From   raft.Role
	To     raft.Role
	Leader raft.NodeID
}

// Commit reports the commit index of a node after it advanced.
type Commit struct {
	Node  raft.NodeID
	Index uint64
	Term  uint64
}
