package transport

import (
	"context"

	"google.golang.org/grpc"

	"raftnode/internal/raft"
)

// The service is described by hand in the shape protoc-gen-go-grpc would generate for
//
//	service Raft {
//	  rpc RequestVote(RequestVoteRequest) returns (RequestVoteResponse);
//	  rpc AppendEntries(AppendEntriesRequest) returns (AppendEntriesResponse);
//	}
//
// Messages are encoded by the wire codec, selected through the content-subtype of every call.
const (
	serviceName         = "raftnode.Raft"
	requestVoteMethod   = "/raftnode.Raft/RequestVote"
	appendEntriesMethod = "/raftnode.Raft/AppendEntries"
)

// raftServiceServer is the server API for the Raft service.
type raftServiceServer interface {
	RequestVote(context.Context, *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)
	AppendEntries(context.Context, *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
}

func registerRaftServiceServer(s grpc.ServiceRegistrar, srv raftServiceServer) {
	s.RegisterService(&raftServiceDesc, srv)
}

func methodFor(kind raft.MessageKind) (string, bool) {
	switch kind {
	case raft.KindRequestVoteRequest:
		return requestVoteMethod, true
	case raft.KindAppendEntriesRequest:
		return appendEntriesMethod, true
	default:
		return "", false
	}
}

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.RequestVoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServiceServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: requestVoteMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServiceServer).RequestVote(ctx, req.(*raft.RequestVoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.AppendEntriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServiceServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: appendEntriesMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServiceServer).AppendEntries(ctx, req.(*raft.AppendEntriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*raftServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RequestVote",
			Handler:    requestVoteHandler,
		},
		{
			MethodName: "AppendEntries",
			Handler:    appendEntriesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raft.proto",
}
