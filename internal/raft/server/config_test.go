package server

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raftnode/internal/raft"
)

func threeNodeConfig() Config {
	cfg := DefaultConfig()
	cfg.NodeID = 2
	cfg.NodeCount = 3
	cfg.Peers = []PeerConfig{{ID: 1, Address: "127.0.0.1:7001"}, {ID: 3, Address: "127.0.0.1:7003"}}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
		assert.NoError(t, threeNodeConfig().Validate())
	})

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero node id", func(c *Config) { c.NodeID = 0 }},
		{"zero node count", func(c *Config) { c.NodeCount = 0; c.Peers = nil }},
		{"missing peer", func(c *Config) { c.Peers = c.Peers[:1] }},
		{"peer with own id", func(c *Config) { c.Peers[0].ID = 2 }},
		{"duplicate peer id", func(c *Config) { c.Peers[1].ID = 1 }},
		{"peer without id", func(c *Config) { c.Peers[0].ID = 0 }},
		{"peer without address", func(c *Config) { c.Peers[0].Address = "" }},
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }},
		{"bad port", func(c *Config) { c.BindPort = 70000 }},
		{"bad cluster id", func(c *Config) { c.ClusterID = "not-a-uuid" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := threeNodeConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), raft.ErrInvalidConfig)
		})
	}
}

func TestConfig_ClusterInfo(t *testing.T) {
	cfg := threeNodeConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond

	info, err := cfg.ClusterInfo()
	require.NoError(t, err)
	assert.Equal(t, 3, info.NodeCount)
	assert.Equal(t, 2, info.MajorityCount)
	assert.Equal(t, 20*time.Millisecond, info.HeartbeatInterval)
	assert.Equal(t, []raft.NodeID{1, 3}, info.PeerIDs())
}

func TestConfig_BindAddrAndClusterUUID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BindHost = "::1"
	cfg.BindPort = 9000
	assert.Equal(t, "[::1]:9000", cfg.BindAddr())

	id, err := cfg.ClusterUUID()
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, id)

	want := uuid.New()
	cfg.ClusterID = want.String()
	id, err = cfg.ClusterUUID()
	require.NoError(t, err)
	assert.Equal(t, want, id)
}

func TestParsePeers(t *testing.T) {
	t.Run("explicit ids", func(t *testing.T) {
		peers, err := ParsePeers(2, []string{"1=10.0.0.1:7000", " 3 = 10.0.0.3:7000 "})
		require.NoError(t, err)
		assert.Equal(t, []PeerConfig{{ID: 1, Address: "10.0.0.1:7000"}, {ID: 3, Address: "10.0.0.3:7000"}}, peers)
	})

	t.Run("bare addresses skip self", func(t *testing.T) {
		peers, err := ParsePeers(2, []string{"a:1", "b:2", "", "c:3"})
		require.NoError(t, err)
		assert.Equal(t, []PeerConfig{{ID: 1, Address: "a:1"}, {ID: 3, Address: "b:2"}, {ID: 4, Address: "c:3"}}, peers)
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := ParsePeers(1, []string{"x=a:1"})
		assert.ErrorIs(t, err, raft.ErrInvalidConfig)
		_, err = ParsePeers(1, []string{"0=a:1"})
		assert.ErrorIs(t, err, raft.ErrInvalidConfig)
	})

	t.Run("mixed forms", func(t *testing.T) {
		_, err := ParsePeers(1, []string{"2=a:1", "b:2"})
		assert.ErrorIs(t, err, raft.ErrInvalidConfig)
	})
}
