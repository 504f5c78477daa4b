// Package server runs a single Raft node: it owns the consensus state and serializes every timer tick, inbound
// message and client proposal through one control loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"raftnode/internal/pubsub"
	"raftnode/internal/raft"
	"raftnode/internal/raft/metrics"
	"raftnode/internal/raft/state_machine"
	"raftnode/internal/raft/storage"
	"raftnode/internal/raft/transport"
)

// ErrAlreadyRunning is returned by Run when the control loop is already running.
var ErrAlreadyRunning = errors.New("server: node already running")

// Status is a snapshot of a node taken inside the control loop.
type Status struct {
	ID          raft.NodeID
	Role        raft.Role
	Term        uint64
	VotedFor    raft.NodeID
	Leader      raft.NodeID
	LastIndex   uint64
	LastTerm    uint64
	CommitIndex uint64
	LastApplied uint64
}

type Option func(*Node)

// WithTransport replaces the gRPC transport, e.g. with a transport.MemTransport.
func WithTransport(t transport.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// WithStore replaces the store selected from Config.DataDir.
func WithStore(s storage.Store) Option {
	return func(n *Node) { n.store = s }
}

func WithLogger(l raft.Logger) Option {
	return func(n *Node) { n.logger = l }
}

func WithMetrics(m raft.MetricsCollector) Option {
	return func(n *Node) { n.metrics = m }
}

// WithStateMachine sets the state machine committed entries are applied to.
func WithStateMachine(sm state_machine.StateMachine) Option {
	return func(n *Node) { n.sm = sm }
}

// WithPubSub publishes the node's events on b. The caller keeps ownership of b.
func WithPubSub(b *pubsub.Broker) Option {
	return func(n *Node) { n.broker = b }
}

// WithRandSeed fixes the seed of the election timeout randomness.
func WithRandSeed(seed int64) Option {
	return func(n *Node) { n.seed = seed; n.seedSet = true }
}

type proposal struct {
	command []byte
	result  chan proposeResult
}

type proposeResult struct {
	index, term uint64
	err         error
}

// Node is a single participant of a Raft cluster.
type Node struct {
	id    raft.NodeID
	state *raft.State

	transport transport.Transport
	store     storage.Store
	timer     *Timer
	logger    raft.Logger
	metrics   raft.MetricsCollector
	sm        state_machine.StateMachine

	broker     *pubsub.Broker
	ownsBroker bool
	seed       int64
	seedSet    bool

	proposals chan proposal
	statusReq chan chan Status
	running   atomic.Bool
	done      chan struct{}

	// Owned by the control loop.
	role           raft.Role
	pendingHS      bool
	pendingLogFrom uint64
	electionStart  time.Time
	proposedAt     map[uint64]time.Time
}

// NewNode restores the node's durable state and binds its listener. Address resolution, bind and store failures
// are returned as *raft.InitializationError, configuration errors wrap raft.ErrInvalidConfig.
func NewNode(cfg Config, opts ...Option) (*Node, error) {
	info, err := cfg.ClusterInfo()
	if err != nil {
		return nil, err
	}
	clusterID, err := cfg.ClusterUUID()
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:         cfg.NodeID,
		proposals:  make(chan proposal),
		statusReq:  make(chan chan Status),
		done:       make(chan struct{}),
		proposedAt: make(map[uint64]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.logger == nil {
		n.logger = raft.NewStdLogger(os.Stderr, fmt.Sprintf("[NODE-%d]", cfg.NodeID))
	}
	if n.metrics == nil {
		n.metrics = metrics.NewMetrics()
	}
	if !n.seedSet {
		n.seed = time.Now().UnixNano() + int64(cfg.NodeID)
	}
	if n.broker == nil {
		n.broker = pubsub.NewBroker(0)
		n.ownsBroker = true
	}

	if err := n.openStore(cfg); err != nil {
		n.releaseBroker()
		return nil, err
	}
	hs, entries, err := n.store.Load()
	if err != nil {
		n.store.Close()
		n.releaseBroker()
		return nil, &raft.InitializationError{Op: "load store", Err: err}
	}

	n.state = raft.NewState(cfg.NodeID, info)
	n.state.SetMaxEntriesPerAppend(cfg.MaxEntriesPerAppend)
	n.state.Restore(hs, entries)
	n.role = n.state.Role()

	if n.transport == nil {
		n.transport, err = n.dialCluster(cfg, clusterID)
		if err != nil {
			n.store.Close()
			n.releaseBroker()
			return nil, err
		}
	}

	n.timer = NewTimer(cfg.HeartbeatInterval, n.seed)

	n.logger.Infof("[TERM-%d] Restored node with %d log entries, voted for %s", hs.CurrentTerm, len(entries), hs.VotedFor)
	return n, nil
}

func (n *Node) openStore(cfg Config) error {
	if n.store != nil {
		return nil
	}
	if cfg.DataDir == "" {
		n.store = storage.NewMemoryStore()
		return nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return &raft.InitializationError{Op: "open store", Addr: cfg.DataDir, Err: err}
	}
	path := filepath.Join(cfg.DataDir, fmt.Sprintf("node-%d.db", cfg.NodeID))
	store, err := storage.NewBoltStore(path)
	if err != nil {
		return &raft.InitializationError{Op: "open store", Addr: path, Err: err}
	}
	last, err := store.LastIndex()
	if err != nil {
		store.Close()
		return &raft.InitializationError{Op: "open store", Addr: path, Err: err}
	}
	n.logger.Infof("Opened store %s, last index %d", store.Path(), last)
	n.store = store
	return nil
}

func (n *Node) dialCluster(cfg Config, clusterID uuid.UUID) (transport.Transport, error) {
	return transport.NewGRPCTransport(transport.GRPCConfig{
		ID:        cfg.NodeID,
		BindAddr:  cfg.BindAddr(),
		Peers:     cfg.peers(),
		ClusterID: clusterID,
		Logger:    n.logger,
		Metrics:   n.metrics,
	})
}

func (n *Node) releaseBroker() {
	if n.ownsBroker {
		n.broker.GracefulShutdown()
	}
}

func (n *Node) ID() raft.NodeID { return n.id }

// Events returns the broker the node publishes its events on.
func (n *Node) Events() *pubsub.Broker { return n.broker }

// Done is closed once Run has returned and every resource of the node is released.
func (n *Node) Done() <-chan struct{} { return n.done }

// Run starts the transport and the timer, then runs the control loop until ctx is cancelled. It returns nil on a
// regular shutdown and an error only when the node could not start.
func (n *Node) Run(ctx context.Context) error {
	select {
	case <-n.done:
		return raft.ErrNodeStopped
	default:
	}
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer n.shutdown()

	if err := n.transport.Start(); err != nil {
		return &raft.InitializationError{Op: "start transport", Err: err}
	}
	n.timer.Start()
	n.timer.ResetElection()
	n.logger.Infof("[TERM-%d] Node started as %s", n.state.CurrentTerm(), n.state.Role())

	for {
		select {
		case <-ctx.Done():
			n.logger.Infof("[TERM-%d] Shutting down", n.state.CurrentTerm())
			return nil
		case env, ok := <-n.transport.Inbound():
			if !ok {
				return nil
			}
			n.apply(n.state.Step(env.From, env.Message), env.Reply)
		case ev := <-n.timer.Events():
			n.handleTimer(ev)
		case p := <-n.proposals:
			n.handlePropose(p)
		case req := <-n.statusReq:
			req <- n.status()
		}
	}
}

func (n *Node) shutdown() {
	n.timer.Stop()
	if err := n.transport.Close(); err != nil {
		n.logger.Warnf("Closing transport: %v", err)
	}
	if err := n.store.Close(); err != nil {
		n.logger.Warnf("Closing store: %v", err)
	}
	pubsub.Publish(n.broker, pubsub.NewEvent(NodeShutDown, n.id))
	n.releaseBroker()
	close(n.done)
}

func (n *Node) handleTimer(ev TimerEvent) {
	if !n.timer.Current(ev) {
		return
	}
	switch ev.Kind {
	case ElectionTimeoutExpired:
		if n.state.Role() == raft.Leader {
			return
		}
		n.logger.Infof("[TERM-%d] Election timeout expired at %v, starting election", n.state.CurrentTerm(),
			ev.At.Format(time.RFC3339Nano))
		if n.state.Role() == raft.Follower {
			n.electionStart = ev.At
		}
		n.apply(n.state.ElectionTimeout(), nil)
	case HeartbeatTick:
		n.apply(n.state.HeartbeatTick(), nil)
	}
}

func (n *Node) handlePropose(p proposal) {
	index, term, eff, err := n.state.Propose(p.command)
	if err != nil {
		if leader := n.state.LeaderID(); leader != raft.None {
			err = fmt.Errorf("%w: leader is node %s", err, leader)
		}
		p.result <- proposeResult{err: err}
		return
	}
	n.proposedAt[index] = time.Now()
	n.apply(eff, nil)
	p.result <- proposeResult{index: index, term: term}
}

// apply carries out the effects of one step in order: persist, re-arm the election timer, reply, send. Nothing
// leaves the node when the durable write fails; the unsaved changes stay pending and are written before the next
// message goes out.
func (n *Node) apply(eff raft.Effects, reply func(raft.Message)) {
	if eff.Violation != nil {
		n.logger.Warnf("[TERM-%d] Dropping message: %v", n.state.CurrentTerm(), eff.Violation)
	}

	if eff.HardStateChanged {
		n.pendingHS = true
	}
	if eff.LogChangedFrom != 0 && (n.pendingLogFrom == 0 || eff.LogChangedFrom < n.pendingLogFrom) {
		n.pendingLogFrom = eff.LogChangedFrom
	}
	persistErr := n.persist()
	if persistErr != nil {
		n.logger.Errorf("[TERM-%d] Failed to persist state, dropping reply and %d messages: %v",
			n.state.CurrentTerm(), len(eff.Messages), persistErr)
	}

	if eff.ResetElectionTimer {
		n.timer.ResetElection()
	}
	if eff.RoleChanged {
		n.roleChanged()
	}
	if persistErr != nil {
		return
	}

	if reply != nil && eff.Reply != nil {
		reply(eff.Reply)
	}
	for _, out := range eff.Messages {
		if err := n.transport.Send(out.To, out.Message); err != nil {
			n.logger.Debugf("[TERM-%d] %v", n.state.CurrentTerm(), err)
		}
	}

	n.applyCommitted()
}

func (n *Node) persist() error {
	if n.pendingHS {
		if err := n.store.SaveHardState(n.state.HardState()); err != nil {
			return fmt.Errorf("save hard state: %w", err)
		}
		n.pendingHS = false
	}
	if from := n.pendingLogFrom; from != 0 {
		if err := n.store.StoreEntries(from, n.state.Entries(from, n.state.LastIndex())); err != nil {
			return fmt.Errorf("store entries from index %d: %w", from, err)
		}
		n.pendingLogFrom = 0
	}
	return nil
}

func (n *Node) roleChanged() {
	from, to := n.role, n.state.Role()
	if from == to {
		return
	}
	n.role = to

	change := RoleChange{
		Node:   n.id,
		Term:   n.state.CurrentTerm(),
		From:   from,
		To:     to,
		Leader: n.state.LeaderID(),
	}
	n.logger.Infof("[TERM-%d] Transitioned from %s to %s", change.Term, from, to)
	pubsub.Publish(n.broker, pubsub.NewEvent(RoleChanged, change))

	if from == raft.Leader {
		// Entries proposed here may never commit, their latency is no longer measured.
		clear(n.proposedAt)
	}
	if to == raft.Leader {
		n.metrics.RecordElection()
		if !n.electionStart.IsZero() {
			n.metrics.RecordElectionDuration(time.Since(n.electionStart))
			n.electionStart = time.Time{}
		}
		n.logger.Infof("[TERM-%d] Won the election with log of %d entries", change.Term, n.state.LastIndex())
		pubsub.Publish(n.broker, pubsub.NewEvent(LeaderElected, change))
	}
}

// applyCommitted hands the entries committed since the last call to the state machine.
func (n *Node) applyCommitted() {
	first, entries := n.state.TakeCommitted()
	if len(entries) == 0 {
		return
	}
	if n.sm != nil {
		n.sm.Apply(first, entries)
	}

	now := time.Now()
	for i := range entries {
		index := first + uint64(i)
		n.metrics.RecordCommandCommitted()
		if at, ok := n.proposedAt[index]; ok {
			n.metrics.RecordCommandLatency(now.Sub(at))
			delete(n.proposedAt, index)
		}
	}

	commit := Commit{Node: n.id, Index: n.state.CommitIndex(), Term: n.state.CurrentTerm()}
	n.logger.Debugf("[TERM-%d] Applied entries %d..%d", commit.Term, first, commit.Index)
	pubsub.Publish(n.broker, pubsub.NewEvent(CommitAdvanced, commit))
}

func (n *Node) status() Status {
	return Status{
		ID:          n.id,
		Role:        n.state.Role(),
		Term:        n.state.CurrentTerm(),
		VotedFor:    n.state.VotedFor(),
		Leader:      n.state.LeaderID(),
		LastIndex:   n.state.LastIndex(),
		LastTerm:    n.state.LastTerm(),
		CommitIndex: n.state.CommitIndex(),
		LastApplied: n.state.LastApplied(),
	}
}

// Propose appends command to the log if this node is the Leader and returns the index and term it was appended
// at. The command is committed later, once a majority stored it. Non-leaders return an error wrapping
// raft.ErrNotLeader.
func (n *Node) Propose(ctx context.Context, command []byte) (index, term uint64, err error) {
	p := proposal{command: command, result: make(chan proposeResult, 1)}
	select {
	case n.proposals <- p:
	case <-n.done:
		return 0, 0, raft.ErrNodeStopped
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	r := <-p.result
	return r.index, r.term, r.err
}

// Status returns a snapshot of the node's state.
func (n *Node) Status(ctx context.Context) (Status, error) {
	req := make(chan Status, 1)
	select {
	case n.statusReq <- req:
	case <-n.done:
		return Status{}, raft.ErrNodeStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	return <-req, nil
}
