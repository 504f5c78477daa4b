package state_machine

import "raftnode/internal/raft"

// StateMachine is the replicated state machine of Section 2 from the [Raft paper](https://raft.github.io/raft.pdf).
// It is inspired from the FSM interface defined in [Hashicorp's Raft impl](https://github.com/hashicorp/raft/blob/main/fsm.go).
//
// Apply receives committed entries in log order, exactly once each. The first entry has index first. It is called
// from the node's control loop and must not block for long.
type StateMachine interface {
	Apply(first uint64, entries []raft.LogEntry)
}
