package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"raftnode/internal/raft"
)

// PeerConfig is a remote member of the cluster as given on the command line.
type PeerConfig struct {
	ID      raft.NodeID
	Address string
}

// Config holds everything needed to construct a Node.
type Config struct {
	BindHost string
	BindPort int

	NodeID    raft.NodeID
	NodeCount int
	// HeartbeatInterval is the period of leader heartbeats. Election timeouts are drawn from
	// [2*HeartbeatInterval, 4*HeartbeatInterval).
	HeartbeatInterval time.Duration
	// Peers are the other NodeCount-1 members of the cluster.
	Peers []PeerConfig

	// DataDir holds the node's bbolt file. The node keeps its state in memory when empty.
	DataDir string
	// ClusterID is a UUID shared by all members. Requests carrying another cluster id are rejected. Empty
	// accepts requests from any cluster.
	ClusterID string

	MaxEntriesPerAppend int
}

// DefaultConfig returns the configuration of a single node cluster listening on localhost.
func DefaultConfig() Config {
	return Config{
		BindHost:            "127.0.0.1",
		NodeID:              1,
		NodeCount:           1,
		HeartbeatInterval:   50 * time.Millisecond,
		MaxEntriesPerAppend: raft.DefaultMaxEntriesPerAppend,
	}
}

// Validate checks the configuration. Every error wraps raft.ErrInvalidConfig.
func (c Config) Validate() error {
	if c.NodeID == raft.None {
		return fmt.Errorf("%w: node id must be >= 1", raft.ErrInvalidConfig)
	}
	if c.NodeCount < 1 {
		return fmt.Errorf("%w: node count must be >= 1, got %d", raft.ErrInvalidConfig, c.NodeCount)
	}
	if len(c.Peers) != c.NodeCount-1 {
		return fmt.Errorf("%w: a cluster of %d nodes needs %d peers, got %d", raft.ErrInvalidConfig,
			c.NodeCount, c.NodeCount-1, len(c.Peers))
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", raft.ErrInvalidConfig)
	}
	if c.BindPort < 0 || c.BindPort > 65535 {
		return fmt.Errorf("%w: invalid bind port %d", raft.ErrInvalidConfig, c.BindPort)
	}

	seen := make(map[raft.NodeID]bool, len(c.Peers))
	for _, p := range c.Peers {
		switch {
		case p.ID == raft.None:
			return fmt.Errorf("%w: peer %q has no id", raft.ErrInvalidConfig, p.Address)
		case p.ID == c.NodeID:
			return fmt.Errorf("%w: peer %q has the id of this node", raft.ErrInvalidConfig, p.Address)
		case seen[p.ID]:
			return fmt.Errorf("%w: duplicate peer id %s", raft.ErrInvalidConfig, p.ID)
		case p.Address == "":
			return fmt.Errorf("%w: peer %s has no address", raft.ErrInvalidConfig, p.ID)
		}
		seen[p.ID] = true
	}

	if _, err := c.ClusterUUID(); err != nil {
		return err
	}
	return nil
}

// BindAddr is the host:port the node listens on.
func (c Config) BindAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.BindPort))
}

// ClusterUUID parses ClusterID. An empty ClusterID yields uuid.Nil.
func (c Config) ClusterUUID() (uuid.UUID, error) {
	if c.ClusterID == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(c.ClusterID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: cluster id: %v", raft.ErrInvalidConfig, err)
	}
	return id, nil
}

func (c Config) peers() []raft.Peer {
	out := make([]raft.Peer, len(c.Peers))
	for i, p := range c.Peers {
		out[i] = raft.Peer{ID: p.ID, Address: p.Address}
	}
	return out
}

// ClusterInfo validates the configuration and derives the static cluster description.
func (c Config) ClusterInfo() (raft.ClusterInfo, error) {
	if err := c.Validate(); err != nil {
		return raft.ClusterInfo{}, err
	}
	return raft.NewClusterInfo(c.NodeCount, c.HeartbeatInterval, c.peers())
}

// ParsePeers reads a peer list. Items are either "id=host:port" or a bare "host:port"; bare addresses are numbered
// 1, 2, ... in order, skipping self. The two forms cannot be mixed.
func ParsePeers(self raft.NodeID, items []string) ([]PeerConfig, error) {
	var (
		peers       = make([]PeerConfig, 0, len(items))
		explicit    int
		nextImplied raft.NodeID = 1
	)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		if idPart, addr, ok := strings.Cut(item, "="); ok {
			id, err := strconv.ParseUint(strings.TrimSpace(idPart), 10, 64)
			if err != nil || id == 0 {
				return nil, fmt.Errorf("%w: invalid peer id in %q", raft.ErrInvalidConfig, item)
			}
			peers = append(peers, PeerConfig{ID: raft.NodeID(id), Address: strings.TrimSpace(addr)})
			explicit++
			continue
		}

		if nextImplied == self {
			nextImplied++
		}
		peers = append(peers, PeerConfig{ID: nextImplied, Address: item})
		nextImplied++
	}

	if explicit > 0 && explicit != len(peers) {
		return nil, fmt.Errorf("%w: peers must either all carry ids or none", raft.ErrInvalidConfig)
	}
	return peers, nil
}
