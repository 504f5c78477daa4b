package state_machine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raftnode/internal/raft"
)

func cmds(commands ...string) []raft.LogEntry {
	out := make([]raft.LogEntry, len(commands))
	for i, c := range commands {
		out[i] = raft.LogEntry{Term: 1, Command: []byte(c)}
	}
	return out
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Op
		wantErr bool
	}{
		{in: "SET a=1", want: Op{Kind: "SET", Key: "a", Value: "1"}},
		{in: "set key4=val=ue", want: Op{Kind: "SET", Key: "key4", Value: "val=ue"}},
		{in: "SET k=", want: Op{Kind: "SET", Key: "k", Value: ""}},
		{in: "DeL a", want: Op{Kind: "DEL", Key: "a"}},
		{in: "", wantErr: true},
		{in: "SET", wantErr: true},
		{in: "SET invalid", wantErr: true},
		{in: "SET =v", wantErr: true},
		{in: "DEL", wantErr: true},
		{in: "DEL a b", wantErr: true},
		{in: "UNKNOWN key=value", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKVStateMachine_Apply_SET(t *testing.T) {
	sm := NewKVStateMachine(nil)

	t.Run("applies SET command", func(t *testing.T) {
		sm.Apply(1, cmds("SET key1=value1"))

		value, ok := sm.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value1", value)
		assert.Equal(t, uint64(1), sm.LastApplied())
	})

	t.Run("applies multiple SET commands", func(t *testing.T) {
		sm.Apply(2, cmds("SET key2=value2", "SET key3=value3"))

		assert.Equal(t, map[string]string{"key1": "value1", "key2": "value2", "key3": "value3"}, sm.GetAll())
		assert.Equal(t, uint64(3), sm.LastApplied())
	})

	t.Run("overwrites existing key", func(t *testing.T) {
		sm.Apply(4, cmds("SET key1=new_value"))

		value, _ := sm.Get("key1")
		assert.Equal(t, "new_value", value)
	})
}

func TestKVStateMachine_Apply_DEL(t *testing.T) {
	sm := NewKVStateMachine(nil)
	sm.Apply(1, cmds("SET key1=value1", "SET key2=value2", "DEL key1", "DEL nonexistent"))

	_, ok := sm.Get("key1")
	assert.False(t, ok)

	value, ok := sm.Get("key2")
	assert.True(t, ok)
	assert.Equal(t, "value2", value)
}

func TestKVStateMachine_Apply_InvalidCommandsAreSkipped(t *testing.T) {
	sm := NewKVStateMachine(raft.NopLogger{})

	sm.Apply(1, cmds("", "UNKNOWN key=value", "SET", "SET invalid", "DEL", "SET ok=1"))

	assert.Equal(t, map[string]string{"ok": "1"}, sm.GetAll())
	assert.Equal(t, uint64(6), sm.LastApplied(), "skipped entries still count as applied")
}

func TestKVStateMachine_Apply_IgnoresAlreadyApplied(t *testing.T) {
	sm := NewKVStateMachine(nil)
	sm.Apply(1, cmds("SET a=1", "SET a=2"))

	// Re-delivering index 2 must not undo index 3.
	sm.Apply(2, cmds("SET a=2", "SET a=3"))
	sm.Apply(2, cmds("SET a=2"))

	value, _ := sm.Get("a")
	assert.Equal(t, "3", value)
	assert.Equal(t, uint64(3), sm.LastApplied())
}

func TestKVStateMachine_GetAll(t *testing.T) {
	sm := NewKVStateMachine(nil)

	t.Run("returns empty map for empty state machine", func(t *testing.T) {
		all := sm.GetAll()
		assert.NotNil(t, all)
		assert.Len(t, all, 0)
	})

	t.Run("returns copy of all key-value pairs", func(t *testing.T) {
		sm.Apply(1, cmds("SET key1=value1"))

		all := sm.GetAll()
		all["key1"] = "modified"

		value, ok := sm.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value1", value) // Original value unchanged
	})
}

func TestKVStateMachine_Concurrency(t *testing.T) {
	sm := NewKVStateMachine(nil)
	var wg sync.WaitGroup

	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(idx int) {
			defer wg.Done()
			sm.Apply(uint64(idx), cmds(fmt.Sprintf("SET key%d=value", idx)))
		}(i)
		go func() {
			defer wg.Done()
			sm.Get("key1")
			sm.GetAll()
		}()
	}
	wg.Wait()

	assert.NotEmpty(t, sm.GetAll())
}
