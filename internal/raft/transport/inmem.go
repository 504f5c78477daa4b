package transport

import (
	"math/rand"
	"sync"
	"time"

	"raftnode/internal/raft"
	"raftnode/internal/raft/wire"
)

// Network connects MemTransports inside one process. It can drop, duplicate, delay and partition messages, which
// is what the cluster tests use to check that the protocol survives an unreliable network.
type Network struct {
	mu    sync.Mutex
	rng   *rand.Rand
	nodes map[raft.NodeID]*MemTransport

	dropRate      float64
	duplicateRate float64
	delayMin      time.Duration
	delayMax      time.Duration
	isolated      map[raft.NodeID]bool
	// cut holds directed links that lose every message.
	cut map[[2]raft.NodeID]bool

	stats NetworkStats
}

// NetworkStats counts what happened to the messages sent through a Network.
type NetworkStats struct {
	Sent       uint64
	Dropped    uint64
	Duplicated uint64
}

// NewNetwork creates a reliable network. seed drives every random fault decision.
func NewNetwork(seed int64) *Network {
	return &Network{
		rng:      rand.New(rand.NewSource(seed)),
		nodes:    make(map[raft.NodeID]*MemTransport),
		isolated: make(map[raft.NodeID]bool),
		cut:      make(map[[2]raft.NodeID]bool),
	}
}

// Join attaches a transport for id. Joining again replaces the previous transport, as a restarted node would.
func (n *Network) Join(id raft.NodeID) *MemTransport {
	t := &MemTransport{
		id:      id,
		network: n,
		inbound: make(chan raft.Envelope, DefaultInboundBuffer),
		done:    make(chan struct{}),
	}
	n.mu.Lock()
	n.nodes[id] = t
	n.mu.Unlock()
	return t
}

func (n *Network) SetDropRate(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropRate = rate
}

func (n *Network) SetDuplicateRate(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.duplicateRate = rate
}

func (n *Network) SetDelay(min, max time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delayMin = min
	n.delayMax = max
}

// Isolate cuts id off from every other node.
func (n *Network) Isolate(id raft.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[id] = true
}

// Cut breaks the link between a and b in both directions.
func (n *Network) Cut(a, b raft.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[[2]raft.NodeID{a, b}] = true
	n.cut[[2]raft.NodeID{b, a}] = true
}

// Heal removes every partition. Drop, duplicate and delay settings are kept.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated = make(map[raft.NodeID]bool)
	n.cut = make(map[[2]raft.NodeID]bool)
}

func (n *Network) Stats() NetworkStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// plan decides under the lock how many copies of a message reach dst and after which delays.
func (n *Network) plan(from, to raft.NodeID) (*MemTransport, []time.Duration, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	dst, ok := n.nodes[to]
	if !ok {
		return nil, nil, false
	}
	n.stats.Sent++
	if n.isolated[from] || n.isolated[to] || n.cut[[2]raft.NodeID{from, to}] {
		n.stats.Dropped++
		return dst, nil, true
	}
	if n.rng.Float64() < n.dropRate {
		n.stats.Dropped++
		return dst, nil, true
	}
	copies := 1
	if n.rng.Float64() < n.duplicateRate {
		n.stats.Duplicated++
		copies++
	}
	delays := make([]time.Duration, copies)
	for i := range delays {
		delays[i] = n.delayMin
		if n.delayMax > n.delayMin {
			delays[i] += time.Duration(n.rng.Int63n(int64(n.delayMax - n.delayMin)))
		}
	}
	return dst, delays, true
}

// route delivers msg from -> to. Requests get a Reply that routes the answer back the same way.
func (n *Network) route(from, to raft.NodeID, msg raft.Message) bool {
	dst, delays, ok := n.plan(from, to)
	if !ok {
		return false
	}
	for _, d := range delays {
		// Every copy is decoded on its own so receivers never share memory with the sender.
		c, err := wire.Clone(msg)
		if err != nil {
			continue
		}
		env := raft.Envelope{From: from, Message: c}
		if c.Kind().IsRequest() {
			env.Reply = onceReply(func(resp raft.Message) { n.route(to, from, resp) })
		}
		go dst.push(env, d)
	}
	return true
}

// MemTransport is the Transport of one node on a Network.
type MemTransport struct {
	id      raft.NodeID
	network *Network
	inbound chan raft.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func (t *MemTransport) Start() error {
	if t.isClosed() {
		return raft.ErrTransportClosed
	}
	return nil
}

func (t *MemTransport) Send(to raft.NodeID, msg raft.Message) error {
	if t.isClosed() {
		return raft.ErrTransportClosed
	}
	if !t.network.route(t.id, to, msg) {
		return &raft.TransportError{Peer: to, Kind: msg.Kind(), Err: raft.ErrUnknownPeer}
	}
	return nil
}

func (t *MemTransport) Inbound() <-chan raft.Envelope {
	return t.inbound
}

func (t *MemTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *MemTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *MemTransport) push(env raft.Envelope, delay time.Duration) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.done:
			return
		}
	}
	select {
	case t.inbound <- env:
	case <-t.done:
	}
}
