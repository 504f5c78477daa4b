package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"raftnode/internal"
	"raftnode/internal/raft"
	"raftnode/internal/raft/wire"
)

// Metadata keys attached to every RPC.
const (
	ClusterIDHeader = "raft-cluster-id"
	NodeIDHeader    = "raft-node-id"
)

// senderKey carries the authenticated sender from the interceptor to the handlers.
var senderKey = internal.NewCtxKey[raft.NodeID]("raft-sender")

// GRPCConfig configures a GRPCTransport.
type GRPCConfig struct {
	// ID of the local node, sent to peers with every call.
	ID raft.NodeID
	// BindAddr is the host:port to listen on. Port 0 picks a free port, see Addr.
	BindAddr string
	Peers    []raft.Peer
	// ClusterID is sent with every call and required on every incoming call. uuid.Nil disables the check.
	ClusterID     uuid.UUID
	Logger        raft.Logger
	Metrics       raft.MetricsCollector
	InboundBuffer int
}

// GRPCTransport carries raft messages over gRPC unary calls. Every Send runs in its own goroutine so the caller
// never waits on the network.
type GRPCTransport struct {
	id        raft.NodeID
	clusterID uuid.UUID
	logger    raft.Logger
	metrics   raft.MetricsCollector

	lis      net.Listener
	server   *grpc.Server
	registry *peerRegistry

	mu      sync.RWMutex
	conns   map[raft.NodeID]*grpc.ClientConn
	started bool
	closed  bool

	inbound   chan raft.Envelope
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewGRPCTransport resolves every address, binds the listener and prepares a client channel per peer. Failures
// are reported as *raft.InitializationError.
func NewGRPCTransport(cfg GRPCConfig) (*GRPCTransport, error) {
	if _, err := net.ResolveTCPAddr("tcp", cfg.BindAddr); err != nil {
		return nil, &raft.InitializationError{Op: "resolve bind address", Addr: cfg.BindAddr, Err: err}
	}
	for _, p := range cfg.Peers {
		if _, err := net.ResolveTCPAddr("tcp", p.Address); err != nil {
			return nil, &raft.InitializationError{Op: fmt.Sprintf("resolve address of node %s", p.ID), Addr: p.Address, Err: err}
		}
	}

	lis, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return nil, &raft.InitializationError{Op: "listen", Addr: cfg.BindAddr, Err: err}
	}

	if cfg.Logger == nil {
		cfg.Logger = raft.NopLogger{}
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = DefaultInboundBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &GRPCTransport{
		id:        cfg.ID,
		clusterID: cfg.ClusterID,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		lis:       lis,
		registry:  newPeerRegistry(),
		conns:     make(map[raft.NodeID]*grpc.ClientConn),
		inbound:   make(chan raft.Envelope, cfg.InboundBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	t.server = grpc.NewServer(grpc.UnaryInterceptor(t.authenticate))
	registerRaftServiceServer(t.server, &raftService{t: t})

	for _, p := range cfg.Peers {
		if err := t.AddPeer(p.ID, p.Address); err != nil {
			t.Close()
			return nil, &raft.InitializationError{Op: fmt.Sprintf("dial node %s", p.ID), Addr: p.Address, Err: err}
		}
	}
	return t, nil
}

// Addr returns the address the transport is listening on.
func (t *GRPCTransport) Addr() string {
	return t.lis.Addr().String()
}

// AddPeer registers or updates the address of a peer. The connection itself is established lazily by gRPC.
func (t *GRPCTransport) AddPeer(id raft.NodeID, addr string) error {
	if id == raft.None || id == t.id {
		return fmt.Errorf("invalid peer id %s", id)
	}

	// Register the peer's address with the resolver first
	t.registry.set(id, addr)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return raft.ErrTransportClosed
	}
	if _, ok := t.conns[id]; ok {
		return nil
	}
	conn, err := grpc.NewClient(peerTarget(id),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithResolvers(t.registry),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	)
	if err != nil {
		return fmt.Errorf("failed to establish gRPC channel to node %s: %w", id, err)
	}
	t.conns[id] = conn
	t.logger.Debugf("[TRANSPORT] Added gRPC channel for node %s at %s", id, addr)
	return nil
}

func (t *GRPCTransport) isPeer(id raft.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.conns[id]
	return ok
}

// Start serves incoming calls in the background.
func (t *GRPCTransport) Start() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return raft.ErrTransportClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		// Serve blocks on lis.Accept until the server is stopped.
		if err := t.server.Serve(t.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.logger.Errorf("[TRANSPORT] gRPC server stopped: %v", err)
		}
	}()
	t.logger.Infof("[TRANSPORT] Listening on %s", t.Addr())
	return nil
}

func (t *GRPCTransport) Inbound() <-chan raft.Envelope {
	return t.inbound
}

// Send issues msg, which must be a request, to peer to. The response is delivered on Inbound.
func (t *GRPCTransport) Send(to raft.NodeID, msg raft.Message) error {
	method, ok := methodFor(msg.Kind())
	if !ok {
		return fmt.Errorf("transport: %s is not a request", msg.Kind())
	}

	// The goroutine is added to wg under the lock so Close never waits on a group that is still growing.
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return raft.ErrTransportClosed
	}
	conn, ok := t.conns[to]
	if !ok {
		t.mu.RUnlock()
		return &raft.TransportError{Peer: to, Kind: msg.Kind(), Err: raft.ErrUnknownPeer}
	}
	t.wg.Add(1)
	t.mu.RUnlock()

	t.recordSend(msg)

	go func() {
		defer t.wg.Done()
		resp, err := t.call(conn, method, msg)
		if err != nil {
			// Non-fatal: the next election timeout or heartbeat retries.
			t.logger.Debugf("[TRANSPORT] %v", &raft.TransportError{Peer: to, Kind: msg.Kind(), Err: err})
			return
		}
		select {
		case t.inbound <- raft.Envelope{From: to, Message: resp}:
		case <-t.done:
		}
	}()
	return nil
}

func (t *GRPCTransport) recordSend(msg raft.Message) {
	if t.metrics == nil {
		return
	}
	switch m := msg.(type) {
	case *raft.RequestVoteRequest:
		t.metrics.RecordRequestVote()
	case *raft.AppendEntriesRequest:
		if len(m.Entries) == 0 {
			t.metrics.RecordHeartbeat()
		} else {
			t.metrics.RecordAppendEntries()
		}
	}
}

// call runs a single RPC. RequestVote is retried with backoff, AppendEntries is not: the leader sends a fresh one on
// the next heartbeat.
func (t *GRPCTransport) call(conn *grpc.ClientConn, method string, req raft.Message) (raft.Message, error) {
	attempts := 1
	if req.Kind() == raft.KindRequestVoteRequest {
		attempts = MaxRequestVoteRetries
	}

	md := metadata.Pairs(NodeIDHeader, strconv.FormatUint(uint64(t.id), 10))
	if t.clusterID != uuid.Nil {
		md.Set(ClusterIDHeader, t.clusterID.String())
	}
	ctx := metadata.NewOutgoingContext(t.ctx, md)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp := responseFor(req)
		rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
		lastErr = conn.Invoke(rpcCtx, method, req, resp)
		cancel() // Always clean up the context

		if lastErr == nil {
			return resp, nil
		}
		// A rejected call would be rejected again.
		if status.Code(lastErr) == codes.FailedPrecondition {
			return nil, lastErr
		}

		// Check if the transport is shutting down
		select {
		case <-t.done:
			return nil, raft.ErrTransportClosed
		default:
		}

		// Don't sleep after the last attempt
		if attempt < attempts-1 {
			select {
			case <-t.done:
				return nil, raft.ErrTransportClosed
			case <-time.After(backoff(attempt)):
			}
		}
	}
	if attempts > 1 {
		return nil, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
	return nil, lastErr
}

func responseFor(req raft.Message) raft.Message {
	if req.Kind() == raft.KindRequestVoteRequest {
		return &raft.RequestVoteResponse{}
	}
	return &raft.AppendEntriesResponse{}
}

// authenticate checks the cluster identity of every incoming call and records the sender in the context.
func (t *GRPCTransport) authenticate(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	if t.clusterID != uuid.Nil {
		got := first(md, ClusterIDHeader)
		if got != t.clusterID.String() {
			t.logger.Warnf("[TRANSPORT] %v", &raft.ProtocolViolation{Reason: fmt.Sprintf("call for cluster %q, this is %s", got, t.clusterID)})
			return nil, status.Errorf(codes.FailedPrecondition, "cluster id mismatch: want %s", t.clusterID)
		}
	}

	n, err := strconv.ParseUint(first(md, NodeIDHeader), 10, 64)
	if err != nil || n == 0 {
		return nil, status.Errorf(codes.FailedPrecondition, "missing or invalid %s", NodeIDHeader)
	}
	from := raft.NodeID(n)
	if !t.isPeer(from) {
		t.logger.Warnf("[TRANSPORT] %v", &raft.ProtocolViolation{From: from, Reason: "sender is not a member of the cluster"})
		return nil, status.Errorf(codes.FailedPrecondition, "node %s is not a member of the cluster", from)
	}

	return handler(senderKey.WithValue(ctx, from), req)
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// deliver queues a request for the control loop and waits for its answer.
func (t *GRPCTransport) deliver(ctx context.Context, req raft.Message) (raft.Message, error) {
	from, ok := senderKey.Value(ctx)
	if !ok {
		return nil, status.Error(codes.Internal, "sender missing from context")
	}

	replies := make(chan raft.Message, 1)
	env := raft.Envelope{
		From:    from,
		Message: req,
		Reply:   onceReply(func(m raft.Message) { replies <- m }),
	}

	select {
	case t.inbound <- env:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case <-t.done:
		return nil, status.Error(codes.Unavailable, raft.ErrTransportClosed.Error())
	}

	select {
	case m := <-replies:
		return m, nil
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case <-t.done:
		return nil, status.Error(codes.Unavailable, raft.ErrTransportClosed.Error())
	}
}

// Close stops the server, cancels in-flight calls and waits for every goroutine started by the transport.
func (t *GRPCTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		close(t.done)
		t.cancel()
		t.server.Stop()
		_ = t.lis.Close()

		t.mu.Lock()
		for id, conn := range t.conns {
			if err := conn.Close(); err != nil {
				t.logger.Warnf("[TRANSPORT] Failed to close connection to %s: %v", id, err)
			}
		}
		t.conns = map[raft.NodeID]*grpc.ClientConn{}
		t.mu.Unlock()

		t.wg.Wait()
		t.logger.Debugf("[TRANSPORT] All gRPC client connections closed")
	})
	return nil
}

// raftService adapts the transport to the generated-style service interface.
type raftService struct {
	t *GRPCTransport
}

func (s *raftService) RequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	m, err := s.t.deliver(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := m.(*raft.RequestVoteResponse)
	if !ok {
		return nil, status.Errorf(codes.Internal, "unexpected reply %T", m)
	}
	return resp, nil
}

func (s *raftService) AppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	m, err := s.t.deliver(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := m.(*raft.AppendEntriesResponse)
	if !ok {
		return nil, status.Errorf(codes.Internal, "unexpected reply %T", m)
	}
	return resp, nil
}
