package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"raftnode/internal/raft"
)

// CodecName is the gRPC content-subtype under which Codec is registered. Clients select it with
// grpc.CallContentSubtype(CodecName).
const CodecName = "raftwire"

// Codec is a gRPC codec for the raft messages.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(raft.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return Marshal(m)
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(raft.Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return Unmarshal(data, m)
}

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
