package transport

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/grpc/resolver"

	"raftnode/internal/raft"
)

// raftScheme names peers by node id: "raft:///2" dials whatever address node 2 is registered at.
const raftScheme = "raft"

func peerTarget(id raft.NodeID) string {
	return fmt.Sprintf("%s:///%d", raftScheme, uint64(id))
}

// peerRegistry maps NodeID -> address and is the gRPC resolver.Builder for raftScheme. Every transport owns its
// own registry, passed to grpc.NewClient with grpc.WithResolvers, so several nodes can live in one process.
type peerRegistry struct {
	mu       sync.RWMutex
	records  map[raft.NodeID]string
	watchers map[raft.NodeID]map[*peerResolver]struct{}
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{
		records:  make(map[raft.NodeID]string),
		watchers: make(map[raft.NodeID]map[*peerResolver]struct{}),
	}
}

// set sets/updates the address for an ID and notifies any active resolvers.
func (r *peerRegistry) set(id raft.NodeID, addr string) {
	r.mu.Lock()
	r.records[id] = addr
	watchers := make([]*peerResolver, 0, len(r.watchers[id]))
	for w := range r.watchers[id] {
		watchers = append(watchers, w)
	}
	r.mu.Unlock()

	// Notify after unlocking to avoid re-entrancy.
	for _, w := range watchers {
		w.pushCurrent()
	}
}

func (r *peerRegistry) lookup(id raft.NodeID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.records[id]
	return addr, ok
}

func (r *peerRegistry) Scheme() string { return raftScheme }

func (r *peerRegistry) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	endpoint := strings.TrimPrefix(target.Endpoint(), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("raft resolver: empty target endpoint: %+v", target)
	}
	n, err := strconv.ParseUint(endpoint, 10, 64)
	if err != nil || n == 0 {
		return nil, fmt.Errorf("raft resolver: target %q is not a node id", endpoint)
	}

	res := &peerResolver{id: raft.NodeID(n), cc: cc, registry: r}

	r.mu.Lock()
	set := r.watchers[res.id]
	if set == nil {
		set = make(map[*peerResolver]struct{})
		r.watchers[res.id] = set
	}
	set[res] = struct{}{}
	r.mu.Unlock()

	res.pushCurrent()
	return res, nil
}

type peerResolver struct {
	id       raft.NodeID
	cc       resolver.ClientConn
	registry *peerRegistry
}

func (p *peerResolver) ResolveNow(resolver.ResolveNowOptions) { p.pushCurrent() }

func (p *peerResolver) Close() {
	p.registry.mu.Lock()
	defer p.registry.mu.Unlock()
	if set, ok := p.registry.watchers[p.id]; ok {
		delete(set, p)
		if len(set) == 0 {
			delete(p.registry.watchers, p.id)
		}
	}
}

func (p *peerResolver) pushCurrent() {
	addr, ok := p.registry.lookup(p.id)
	if !ok || addr == "" {
		_ = p.cc.UpdateState(resolver.State{Addresses: nil}) // no address yet; gRPC will retry
		return
	}

	_ = p.cc.UpdateState(resolver.State{
		Addresses: []resolver.Address{{Addr: addr}},
	})
}
