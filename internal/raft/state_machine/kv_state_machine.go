package state_machine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"raftnode/internal/raft"
)

// ErrInvalidCommand is returned by ParseCommand for anything that is not a SET or DEL command.
var ErrInvalidCommand = errors.New("invalid command")

// Op is a parsed KV command.
type Op struct {
	Kind  string // SET or DEL
	Key   string
	Value string
}

// ParseCommand parses "SET key=value" or "DEL key". The verb is case-insensitive, the value may contain '='.
func ParseCommand(command []byte) (Op, error) {
	parts := strings.Fields(string(command))
	if len(parts) != 2 {
		return Op{}, fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}

	switch strings.ToUpper(parts[0]) {
	case "SET":
		key, value, ok := strings.Cut(parts[1], "=")
		if !ok || key == "" {
			return Op{}, fmt.Errorf("%w: SET expects key=value, got %q", ErrInvalidCommand, parts[1])
		}
		return Op{Kind: "SET", Key: key, Value: value}, nil
	case "DEL":
		return Op{Kind: "DEL", Key: parts[1]}, nil
	default:
		return Op{}, fmt.Errorf("%w: unknown verb %q", ErrInvalidCommand, parts[0])
	}
}

// KVStateMachine is a simple key-value store that implements the StateMachine interface
type KVStateMachine struct {
	mu          sync.RWMutex
	store       map[string]string
	lastApplied uint64
	logger      raft.Logger
}

func NewKVStateMachine(logger raft.Logger) *KVStateMachine {
	if logger == nil {
		logger = raft.NopLogger{}
	}
	return &KVStateMachine{
		store:  make(map[string]string),
		logger: logger,
	}
}

// Apply applies committed entries. Entries that do not parse are skipped, they are still counted as applied.
func (kv *KVStateMachine) Apply(first uint64, entries []raft.LogEntry) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	for i, entry := range entries {
		index := first + uint64(i)
		if index <= kv.lastApplied {
			continue
		}
		kv.lastApplied = index

		if len(entry.Command) == 0 {
			continue
		}
		op, err := ParseCommand(entry.Command)
		if err != nil {
			kv.logger.Warnf("[KV-SM] Skipping entry %d: %v", index, err)
			continue
		}
		switch op.Kind {
		case "SET":
			kv.store[op.Key] = op.Value
		case "DEL":
			delete(kv.store, op.Key)
		}
		kv.logger.Debugf("[KV-SM] Applied %s %s (index=%d)", op.Kind, op.Key, index)
	}
}

func (kv *KVStateMachine) Get(key string) (string, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.store[key]
	return v, ok
}

// GetAll returns a copy of the whole store.
func (kv *KVStateMachine) GetAll() map[string]string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	out := make(map[string]string, len(kv.store))
	for k, v := range kv.store {
		out[k] = v
	}
	return out
}

// LastApplied returns the index of the last entry applied.
func (kv *KVStateMachine) LastApplied() uint64 {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return kv.lastApplied
}
