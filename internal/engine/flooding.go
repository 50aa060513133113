package engine

import (
	"sync"

	"github.com/kprusa/routingd/internal/packet"
)

// Flooding implements controlled flooding: every message/lsp/info packet
// not addressed to this node is rebroadcast to every neighbor but the one
// it arrived from, bounded only by TTL and the duplicate filter.
type Flooding struct {
	deps      Deps
	neighbors []string

	mu         sync.Mutex
	counters   Counters
	defaultTTL int
}

var _ Engine = (*Flooding)(nil)
var _ DuplicateCounter = (*Flooding)(nil)
var _ TTLSetter = (*Flooding)(nil)
var _ NeighborLister = (*Flooding)(nil)

// NewFlooding constructs a Flooding engine over the given direct
// neighbors (the topology row for deps.SelfID).
func NewFlooding(deps Deps, neighbors []string) *Flooding {
	return &Flooding{deps: deps, neighbors: neighbors, defaultTTL: deps.DefaultTTL}
}

// Neighbors returns this node's configured direct neighbors (console
// `neighbors`).
func (f *Flooding) Neighbors() []string {
	return append([]string(nil), f.neighbors...)
}

// SetDefaultTTL changes the TTL used for future console `send`
// originations (console `ttl N`).
func (f *Flooding) SetDefaultTTL(ttl int) {
	f.mu.Lock()
	f.defaultTTL = ttl
	f.mu.Unlock()
}

func (f *Flooding) Proto() string { return packet.ProtoFlooding }

// Counters returns a snapshot of the observable tallies (console
// `stats`).
func (f *Flooding) Counters() Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters
}

func (f *Flooding) NoteDuplicate() {
	f.mu.Lock()
	f.counters.DropDup++
	f.mu.Unlock()
}

func (f *Flooding) OnPacket(pkt *packet.Packet, incomingNeighbor string) {
	f.mu.Lock()
	f.counters.RX++
	f.mu.Unlock()

	switch pkt.Type {
	case packet.TypeHello:
		f.handleHello(pkt)
	case packet.TypeMessage, packet.TypeLSP, packet.TypeInfo:
		f.relayOrDeliver(pkt, incomingNeighbor)
	default:
	}
}

// handleHello replies with an echo addressed back to the sender
// (SUPPLEMENTED FEATURES #1, grounded on original_source/Flooding/flooding.py).
func (f *Flooding) handleHello(pkt *packet.Packet) {
	reply := packet.Build(packet.ProtoFlooding, packet.TypeEcho, f.deps.SelfID, pkt.From, 2, nil, nil)
	f.deps.publish(reply, f.deps.channel(pkt.From))
}

func (f *Flooding) relayOrDeliver(pkt *packet.Packet, incomingNeighbor string) {
	if pkt.To == f.deps.SelfID {
		f.deps.deliver(pkt)
		return
	}

	if pkt.HasHeader(f.deps.SelfID) {
		f.mu.Lock()
		f.counters.DropCycle++
		f.mu.Unlock()
		return
	}

	fwd := packet.ForwardTransform(pkt, f.deps.SelfID)
	if fwd == nil {
		f.mu.Lock()
		f.counters.DropTTL++
		f.mu.Unlock()
		return
	}

	f.deps.broadcast(fwd, f.neighbors, incomingNeighbor)
	f.mu.Lock()
	f.counters.Fwd++
	f.mu.Unlock()
}

// SendHello broadcasts a keep-alive HELLO to every neighbor (node's HELLO
// timer loop). Flooding tracks no per-neighbor state from it; any neighbor
// that receives it replies with an echo via handleHello.
func (f *Flooding) SendHello() {
	pkt := packet.Build(packet.ProtoFlooding, packet.TypeHello, f.deps.SelfID, packet.Broadcast, 2, nil, nil)
	f.deps.broadcast(pkt, f.neighbors, "")
}

// Send originates a message packet from this node and floods it to every
// neighbor (console `send DEST TEXT`).
func (f *Flooding) Send(to, text string) error {
	f.mu.Lock()
	ttl := f.defaultTTL
	f.mu.Unlock()

	pkt := packet.Build(packet.ProtoFlooding, packet.TypeMessage, f.deps.SelfID, to, ttl, text, nil)
	f.deps.Dedup.AddIfNew(pkt.MsgID)

	f.mu.Lock()
	f.counters.TX++
	f.mu.Unlock()

	f.deps.broadcast(pkt, f.neighbors, "")
	return nil
}
