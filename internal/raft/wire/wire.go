// Package wire encodes log entries and RPC messages in the protobuf wire format. The layout is that of the
// following schema, so any protobuf implementation can talk to a node:
//
//	message LogEntry              { uint64 term = 1; bytes command = 2; }
//	message RequestVoteRequest    { uint64 term = 1; uint64 candidate_id = 2; uint64 last_log_index = 3; uint64 last_log_term = 4; }
//	message RequestVoteResponse   { uint64 term = 1; bool vote_granted = 2; }
//	message AppendEntriesRequest  { uint64 term = 1; uint64 leader_id = 2; uint64 prev_log_index = 3;
//	                                uint64 prev_log_term = 4; repeated LogEntry entries = 5; uint64 leader_commit = 6; }
//	message AppendEntriesResponse { uint64 term = 1; bool success = 2; uint64 matched_index = 3; }
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"raftnode/internal/raft"
)

// ErrUnsupportedType is returned when a value that is not one of the raft messages is encoded or decoded.
var ErrUnsupportedType = errors.New("wire: unsupported type")

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	// Zero values are omitted, as proto3 does.
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// field is a single decoded field. Only varint and length-delimited values are used by the schema.
type field struct {
	num    protowire.Number
	varint uint64
	bytes  []byte
}

// walk decodes every field of b and calls fn for each known wire type. Unknown fields are skipped.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		var f field
		f.num = num
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("wire: bad varint in field %d: %w", num, protowire.ParseError(m))
			}
			f.varint = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("wire: bad bytes in field %d: %w", num, protowire.ParseError(m))
			}
			f.bytes = v
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("wire: bad field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// AppendLogEntry appends the encoding of e to b.
func AppendLogEntry(b []byte, e raft.LogEntry) []byte {
	b = appendUint(b, 1, e.Term)
	return appendBytes(b, 2, e.Command)
}

// MarshalLogEntry encodes a single log entry.
func MarshalLogEntry(e raft.LogEntry) []byte {
	return AppendLogEntry(nil, e)
}

// UnmarshalLogEntry decodes a single log entry. The command is copied out of b.
func UnmarshalLogEntry(b []byte) (raft.LogEntry, error) {
	var e raft.LogEntry
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			e.Term = f.varint
		case 2:
			e.Command = append([]byte(nil), f.bytes...)
		}
		return nil
	})
	return e, err
}

// Marshal encodes one of the four raft messages.
func Marshal(m raft.Message) ([]byte, error) {
	var b []byte
	switch msg := m.(type) {
	case *raft.RequestVoteRequest:
		b = appendUint(b, 1, msg.Term)
		b = appendUint(b, 2, uint64(msg.CandidateID))
		b = appendUint(b, 3, msg.LastLogIndex)
		b = appendUint(b, 4, msg.LastLogTerm)
	case *raft.RequestVoteResponse:
		b = appendUint(b, 1, msg.Term)
		b = appendBool(b, 2, msg.VoteGranted)
	case *raft.AppendEntriesRequest:
		b = appendUint(b, 1, msg.Term)
		b = appendUint(b, 2, uint64(msg.LeaderID))
		b = appendUint(b, 3, msg.PrevLogIndex)
		b = appendUint(b, 4, msg.PrevLogTerm)
		for _, e := range msg.Entries {
			// Embedded messages are always written, even when empty, so the entry count survives.
			b = protowire.AppendTag(b, 5, protowire.BytesType)
			b = protowire.AppendBytes(b, MarshalLogEntry(e))
		}
		b = appendUint(b, 6, msg.LeaderCommit)
	case *raft.AppendEntriesResponse:
		b = appendUint(b, 1, msg.Term)
		b = appendBool(b, 2, msg.Success)
		b = appendUint(b, 3, msg.MatchedIndex)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, m)
	}
	return b, nil
}

// Unmarshal decodes b into m, which must be a pointer to one of the four raft messages.
func Unmarshal(b []byte, m raft.Message) error {
	switch msg := m.(type) {
	case *raft.RequestVoteRequest:
		*msg = raft.RequestVoteRequest{}
		return walk(b, func(f field) error {
			switch f.num {
			case 1:
				msg.Term = f.varint
			case 2:
				msg.CandidateID = raft.NodeID(f.varint)
			case 3:
				msg.LastLogIndex = f.varint
			case 4:
				msg.LastLogTerm = f.varint
			}
			return nil
		})
	case *raft.RequestVoteResponse:
		*msg = raft.RequestVoteResponse{}
		return walk(b, func(f field) error {
			switch f.num {
			case 1:
				msg.Term = f.varint
			case 2:
				msg.VoteGranted = protowire.DecodeBool(f.varint)
			}
			return nil
		})
	case *raft.AppendEntriesRequest:
		*msg = raft.AppendEntriesRequest{}
		return walk(b, func(f field) error {
			switch f.num {
			case 1:
				msg.Term = f.varint
			case 2:
				msg.LeaderID = raft.NodeID(f.varint)
			case 3:
				msg.PrevLogIndex = f.varint
			case 4:
				msg.PrevLogTerm = f.varint
			case 5:
				e, err := UnmarshalLogEntry(f.bytes)
				if err != nil {
					return fmt.Errorf("wire: entry %d: %w", len(msg.Entries), err)
				}
				msg.Entries = append(msg.Entries, e)
			case 6:
				msg.LeaderCommit = f.varint
			}
			return nil
		})
	case *raft.AppendEntriesResponse:
		*msg = raft.AppendEntriesResponse{}
		return walk(b, func(f field) error {
			switch f.num {
			case 1:
				msg.Term = f.varint
			case 2:
				msg.Success = protowire.DecodeBool(f.varint)
			case 3:
				msg.MatchedIndex = f.varint
			}
			return nil
		})
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, m)
	}
}

// New returns an empty message of the given kind, nil for an unknown kind.
func New(kind raft.MessageKind) raft.Message {
	switch kind {
	case raft.KindRequestVoteRequest:
		return &raft.RequestVoteRequest{}
	case raft.KindRequestVoteResponse:
		return &raft.RequestVoteResponse{}
	case raft.KindAppendEntriesRequest:
		return &raft.AppendEntriesRequest{}
	case raft.KindAppendEntriesResponse:
		return &raft.AppendEntriesResponse{}
	default:
		return nil
	}
}

// Clone deep copies m by running it through the encoding, so the copy shares no memory with the original.
func Clone(m raft.Message) (raft.Message, error) {
	b, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	out := New(m.Kind())
	if err := Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}
