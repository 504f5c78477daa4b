package raft

import (
	"fmt"
	"time"
)

// ClusterInfo is the static description of the cluster, computed once at construction.
type ClusterInfo struct {
	// NodeCount is the number of voting nodes, including this one.
	NodeCount int
	// MajorityCount is the smallest number of nodes whose agreement forms a quorum, the smallest integer greater
	// than NodeCount/2. It equals (NodeCount-1)/2 + 1 for odd cluster sizes.
	MajorityCount int
	// HeartbeatInterval is the period of leader heartbeats. Election timeouts are drawn relative to it.
	HeartbeatInterval time.Duration
	// Peers lists every other node in the cluster, in configuration order.
	Peers []Peer
}

// NewClusterInfo validates the cluster shape and computes the majority threshold.
func NewClusterInfo(nodeCount int, heartbeatInterval time.Duration, peers []Peer) (ClusterInfo, error) {
	if nodeCount < 1 {
		return ClusterInfo{}, fmt.Errorf("%w: node count must be >= 1, got %d", ErrInvalidConfig, nodeCount)
	}
	if len(peers) != nodeCount-1 {
		return ClusterInfo{}, fmt.Errorf("%w: %d nodes need %d peers, got %d", ErrInvalidConfig,
			nodeCount, nodeCount-1, len(peers))
	}
	if heartbeatInterval <= 0 {
		return ClusterInfo{}, fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	}

	ps := make([]Peer, len(peers))
	copy(ps, peers)

	return ClusterInfo{
		NodeCount:         nodeCount,
		MajorityCount:     nodeCount/2 + 1,
		HeartbeatInterval: heartbeatInterval,
		Peers:             ps,
	}, nil
}

// PeerIDs returns the ids of all peers in configuration order.
func (c ClusterInfo) PeerIDs() []NodeID {
	ids := make([]NodeID, 0, len(c.Peers))
	for _, p := range c.Peers {
		ids = append(ids, p.ID)
	}
	return ids
}

// HasPeer reports whether id is a peer of this node.
func (c ClusterInfo) HasPeer(id NodeID) bool {
	for _, p := range c.Peers {
		if p.ID == id {
			return true
		}
	}
	return false
}
