package engine

import (
	"sync"

	"github.com/kprusa/routingd/internal/packet"
	"github.com/kprusa/routingd/internal/spf"
)

// StaticSPF implements the Dijkstra engine: a routing table computed once
// (at startup or on explicit `recompute`) from a fully known graph, held
// immutably until the next recompute.
type StaticSPF struct {
	deps   Deps
	graph  spf.Graph
	metric spf.Metric

	neighbors map[string]struct{}

	mu         sync.Mutex
	table      spf.NextHopTable
	counters   Counters
	defaultTTL int
}

var _ Engine = (*StaticSPF)(nil)
var _ Recomputer = (*StaticSPF)(nil)
var _ TTLSetter = (*StaticSPF)(nil)
var _ NeighborLister = (*StaticSPF)(nil)

// NewStaticSPF constructs a StaticSPF engine over the full network graph
// and runs the initial SPF computation.
func NewStaticSPF(deps Deps, graph spf.Graph, metric spf.Metric) *StaticSPF {
	nbrs := make(map[string]struct{}, len(graph[deps.SelfID]))
	for nb := range graph[deps.SelfID] {
		nbrs[nb] = struct{}{}
	}

	s := &StaticSPF{deps: deps, graph: graph, metric: metric, neighbors: nbrs, defaultTTL: deps.DefaultTTL}
	s.Recompute()
	return s
}

// Neighbors returns this node's configured direct neighbors (console
// `neighbors`).
func (s *StaticSPF) Neighbors() []string {
	nbrs := make([]string, 0, len(s.neighbors))
	for nb := range s.neighbors {
		nbrs = append(nbrs, nb)
	}
	return nbrs
}

// SetDefaultTTL changes the TTL used for future console `send`
// originations (console `ttl N`).
func (s *StaticSPF) SetDefaultTTL(ttl int) {
	s.mu.Lock()
	s.defaultTTL = ttl
	s.mu.Unlock()
}

func (s *StaticSPF) Proto() string { return packet.ProtoDijkstra }

// Recompute rebuilds the routing table from the configured graph. Called
// at startup and whenever the console issues an explicit `recompute`.
func (s *StaticSPF) Recompute() {
	table := spf.BuildNextHopTable(s.graph, s.deps.SelfID, s.metric)
	s.mu.Lock()
	s.table = table
	s.mu.Unlock()
}

// Table returns a snapshot of the current routing table (console `table`,
// `route DEST`).
func (s *StaticSPF) Table() spf.NextHopTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

func (s *StaticSPF) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *StaticSPF) OnPacket(pkt *packet.Packet, incomingNeighbor string) {
	s.mu.Lock()
	s.counters.RX++
	s.mu.Unlock()

	switch pkt.Type {
	case packet.TypeHello:
		s.handleHello(pkt)
	case packet.TypeMessage:
		s.relayOrDeliver(pkt, incomingNeighbor)
	default:
	}
}

// handleHello replies with an echo addressed back to the sender
// (SUPPLEMENTED FEATURES #1, grounded on
// original_source/Dijkstra/router_dijkstra.py).
func (s *StaticSPF) handleHello(pkt *packet.Packet) {
	reply := packet.Build(packet.ProtoDijkstra, packet.TypeEcho, s.deps.SelfID, pkt.From, 2, nil, nil)
	s.deps.publish(reply, s.deps.channel(pkt.From))
}

func (s *StaticSPF) relayOrDeliver(pkt *packet.Packet, incomingNeighbor string) {
	if pkt.To == s.deps.SelfID {
		s.deps.deliver(pkt)
		return
	}

	nextHop := s.resolveNextHop(pkt.To)
	if nextHop == "" {
		s.deps.Logger.Warn("no-route", "dest", pkt.To)
		s.mu.Lock()
		s.counters.NoRoute++
		s.mu.Unlock()
		return
	}

	if pkt.HasHeader(s.deps.SelfID) {
		s.mu.Lock()
		s.counters.DropCycle++
		s.mu.Unlock()
		return
	}

	fwd := packet.ForwardTransform(pkt, s.deps.SelfID)
	if fwd == nil {
		s.mu.Lock()
		s.counters.DropTTL++
		s.mu.Unlock()
		return
	}

	s.deps.publish(fwd, s.deps.channel(nextHop))
	s.mu.Lock()
	s.counters.Fwd++
	s.mu.Unlock()
}

// resolveNextHop looks up the routing table, falling back to the
// destination itself when it is a direct neighbor and the table has no
// entry for it.
func (s *StaticSPF) resolveNextHop(dest string) string {
	s.mu.Lock()
	nh, ok := s.table.NextHop[dest]
	s.mu.Unlock()
	if ok {
		return nh
	}
	if _, direct := s.neighbors[dest]; direct {
		return dest
	}
	return ""
}

// SendHello broadcasts a keep-alive HELLO to every neighbor (node's HELLO
// timer loop). StaticSPF's table is fixed between recomputes, so there is
// nothing to update from liveness; any neighbor receiving it replies with
// an echo via handleHello.
func (s *StaticSPF) SendHello() {
	pkt := packet.Build(packet.ProtoDijkstra, packet.TypeHello, s.deps.SelfID, packet.Broadcast, 2, nil, nil)
	nbrs := make([]string, 0, len(s.neighbors))
	for nb := range s.neighbors {
		nbrs = append(nbrs, nb)
	}
	s.deps.broadcast(pkt, nbrs, "")
}

// Send originates a message packet from this node and forwards it toward
// dest via the routing table (console `send DEST TEXT`).
func (s *StaticSPF) Send(dest, text string) error {
	s.mu.Lock()
	ttl := s.defaultTTL
	s.mu.Unlock()

	pkt := packet.Build(packet.ProtoDijkstra, packet.TypeMessage, s.deps.SelfID, dest, ttl, text, nil)
	s.deps.Dedup.AddIfNew(pkt.MsgID)

	s.mu.Lock()
	s.counters.TX++
	s.mu.Unlock()

	nextHop := s.resolveNextHop(dest)
	if nextHop == "" {
		s.deps.Logger.Warn("no-route", "dest", dest)
		s.mu.Lock()
		s.counters.NoRoute++
		s.mu.Unlock()
		return nil
	}
	s.deps.publish(pkt, s.deps.channel(nextHop))
	return nil
}
