package engine

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kprusa/routingd/internal/dedup"
	"github.com/kprusa/routingd/internal/lsdb"
	"github.com/kprusa/routingd/internal/packet"
	"github.com/kprusa/routingd/internal/spf"
)

// LinkMetric selects how LinkState values a link when originating its own
// LSP: cost is 1 under the hop metric, or the last measured RTT (in ms)
// under the rtt metric. This is distinct from spf.Metric, which governs
// how the solver treats the LSDB's already-resolved costs (always
// spf.MetricWeight for LinkState — see NewLinkState).
type LinkMetric int

const (
	LinkMetricHop LinkMetric = iota
	LinkMetricRTT
)

// DefaultLSPTTL is the TTL an originated LSP is flooded with.
const DefaultLSPTTL = 16

// LinkState implements link-state routing: a per-origin LSDB fed by
// flooded LSPs, an SPF recompute triggered eagerly on any LSDB change, and
// a three-step next-hop fallback for a destination with no table entry.
type LinkState struct {
	deps       Deps
	neighbors  []string
	linkMetric LinkMetric
	lspTTL     int

	db       *lsdb.LSDB
	lspSeen  *dedup.Filter // separate from the main duplicate filter, same TTL semantics

	mu          sync.Mutex
	seq         int
	table       spf.NextHopTable
	rtt         map[string]int // neighbor -> last measured RTT (ms)
	pendingPing map[string]time.Time
	counters    Counters
	defaultTTL  int
}

var _ Engine = (*LinkState)(nil)
var _ ControlOriginator = (*LinkState)(nil)
var _ Recomputer = (*LinkState)(nil)
var _ TTLSetter = (*LinkState)(nil)
var _ NeighborLister = (*LinkState)(nil)

// NewLinkState constructs a LinkState engine over the given direct
// neighbors.
func NewLinkState(deps Deps, neighbors []string, linkMetric LinkMetric, maxAge time.Duration, lspTTL int) *LinkState {
	if lspTTL <= 0 {
		lspTTL = DefaultLSPTTL
	}
	l := &LinkState{
		deps:        deps,
		neighbors:   neighbors,
		linkMetric:  linkMetric,
		lspTTL:      lspTTL,
		db:          lsdb.NewWithMaxAge(maxAge),
		lspSeen:     dedup.New(),
		rtt:         make(map[string]int),
		pendingPing: make(map[string]time.Time),
		defaultTTL:  deps.DefaultTTL,
	}
	return l
}

func (l *LinkState) Proto() string { return packet.ProtoLSR }

// Neighbors returns this node's configured direct neighbors (console
// `neighbors`).
func (l *LinkState) Neighbors() []string {
	return append([]string(nil), l.neighbors...)
}

// SetDefaultTTL changes the TTL used for future console `send`
// originations (console `ttl N`).
func (l *LinkState) SetDefaultTTL(ttl int) {
	l.mu.Lock()
	l.defaultTTL = ttl
	l.mu.Unlock()
}

// Table returns a snapshot of the current routing table (console `table`,
// `route DEST`).
func (l *LinkState) Table() spf.NextHopTable {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table
}

// LSDB exposes the underlying database for console `lsdb`/`topo`/`graph`.
func (l *LinkState) LSDB() *lsdb.LSDB { return l.db }

func (l *LinkState) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}

// Recompute runs SPF over the LSDB's current graph, called after any LSDB
// change. Always uses spf.MetricWeight: the LSDB's stored costs already
// encode the hop/rtt choice made when each origin built its LSP.
func (l *LinkState) Recompute() {
	table := spf.BuildNextHopTable(l.db.Graph(), l.deps.SelfID, spf.MetricWeight)
	l.mu.Lock()
	l.table = table
	l.mu.Unlock()
}

// OriginateControl builds and floods this node's LSP: bump the sequence
// number, price each link under the configured metric, apply it to this
// node's own LSDB entry, recompute if that changed anything, then flood
// it to every neighbor.
func (l *LinkState) OriginateControl() {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	links := make(map[string]int, len(l.neighbors))
	for _, nb := range l.neighbors {
		cost := 1
		if l.linkMetric == LinkMetricRTT {
			if r, ok := l.rtt[nb]; ok {
				cost = r
			}
		}
		links[nb] = cost
	}
	l.mu.Unlock()

	payload := encodeLSPPayload(l.deps.SelfID, seq, links)
	pkt := packet.Build(packet.ProtoLSR, packet.TypeLSP, l.deps.SelfID, packet.Broadcast, l.lspTTL, payload, nil)

	l.lspSeen.AddIfNew(pkt.MsgID)
	l.deps.Dedup.AddIfNew(pkt.MsgID)

	if l.db.ApplyLSP(l.deps.SelfID, seq, links) {
		l.Recompute()
	}

	l.deps.broadcast(pkt, l.neighbors, "")
}

func (l *LinkState) OnPacket(pkt *packet.Packet, incomingNeighbor string) {
	l.mu.Lock()
	l.counters.RX++
	l.mu.Unlock()

	switch pkt.Type {
	case packet.TypeHello:
		l.handleHello(pkt)
	case packet.TypeEcho:
		l.handleEcho(pkt)
	case packet.TypeLSP, packet.TypeInfo:
		l.handleLSP(pkt, incomingNeighbor)
	case packet.TypeMessage:
		l.handleMessage(pkt, incomingNeighbor)
	default:
	}
}

// handleHello does nothing: it records no neighbor liveness, and it does
// NOT reply with an echo: grounded on original_source/LSR/lsr.py's explicit
// "No responder con ECHO en el cable (algunos peers lo rechazan)" — some
// peers reject an unsolicited echo, so LSR never originates one. RTT
// therefore only ever populates against a neighbor willing to reply (a
// Flooding/StaticSPF peer in a mixed deployment); in a homogeneous LSR
// network `rtt` metric silently defaults every link cost to 1.
func (l *LinkState) handleHello(pkt *packet.Packet) {
	_ = pkt // nothing to record and nothing to route on
}

// handleEcho completes an RTT sample for the neighbor that replied.
func (l *LinkState) handleEcho(pkt *packet.Packet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sentAt, ok := l.pendingPing[pkt.From]
	if !ok {
		return
	}
	delete(l.pendingPing, pkt.From)
	rttMS := int(l.deps.NowFn().Sub(sentAt) / time.Millisecond)
	if rttMS <= 0 {
		rttMS = 1
	}
	l.rtt[pkt.From] = rttMS
}

// SendHello broadcasts a keep-alive HELLO and records the send time for
// every neighbor so a later echo can be matched to an RTT sample
// (node's HELLO timer loop calls this for a LinkState engine).
func (l *LinkState) SendHello() {
	pkt := packet.Build(packet.ProtoLSR, packet.TypeHello, l.deps.SelfID, packet.Broadcast, 2, nil, nil)

	l.mu.Lock()
	now := l.deps.NowFn()
	for _, nb := range l.neighbors {
		l.pendingPing[nb] = now
	}
	l.mu.Unlock()

	l.deps.broadcast(pkt, l.neighbors, "")
}

func (l *LinkState) handleLSP(pkt *packet.Packet, incomingNeighbor string) {
	if !l.lspSeen.AddIfNew(pkt.MsgID) {
		l.mu.Lock()
		l.counters.DropDup++
		l.mu.Unlock()
		return
	}

	payload, err := decodeLSPPayload(pkt.Payload)
	if err != nil {
		l.mu.Lock()
		l.counters.DropBad++
		l.mu.Unlock()
		return
	}

	if l.db.ApplyLSP(payload.Origin, payload.Seq, payload.Links) {
		l.Recompute()
	}

	if pkt.HasHeader(l.deps.SelfID) {
		l.mu.Lock()
		l.counters.DropCycle++
		l.mu.Unlock()
		return
	}
	fwd := packet.ForwardTransform(pkt, l.deps.SelfID)
	if fwd == nil {
		l.mu.Lock()
		l.counters.DropTTL++
		l.mu.Unlock()
		return
	}
	l.deps.broadcast(fwd, l.neighbors, incomingNeighbor)
	l.mu.Lock()
	l.counters.Fwd++
	l.mu.Unlock()
}

func (l *LinkState) handleMessage(pkt *packet.Packet, incomingNeighbor string) {
	if pkt.To == l.deps.SelfID {
		l.deps.deliver(pkt)
		return
	}

	nextHop := l.resolveNextHop(pkt.To, incomingNeighbor)
	if nextHop == "" {
		l.deps.Logger.Warn("no-route", "dest", pkt.To)
		l.mu.Lock()
		l.counters.NoRoute++
		l.mu.Unlock()
		return
	}

	// Cycle detection only applies to packets that actually arrived over
	// the bus: a locally-injected packet carries self_id in its initial
	// headers without being a cycle.
	if incomingNeighbor != "" && pkt.HasHeader(l.deps.SelfID) {
		l.mu.Lock()
		l.counters.DropCycle++
		l.mu.Unlock()
		return
	}

	fwd := packet.ForwardTransform(pkt, l.deps.SelfID)
	if fwd == nil {
		l.mu.Lock()
		l.counters.DropTTL++
		l.mu.Unlock()
		return
	}

	l.deps.publish(fwd, l.deps.channel(nextHop))
	l.mu.Lock()
	l.counters.Fwd++
	l.mu.Unlock()
}

// resolveNextHop looks up the SPF table first; on a miss it applies a
// three-step fallback: (a) a direct neighbor, (b) any neighbor except the
// incoming hop chosen deterministically (sorted ascending, first), (c)
// drop (returns "").
func (l *LinkState) resolveNextHop(dest, incomingNeighbor string) string {
	l.mu.Lock()
	nh, ok := l.table.NextHop[dest]
	l.mu.Unlock()
	if ok {
		return nh
	}

	for _, nb := range l.neighbors {
		if nb == dest {
			return dest
		}
	}

	candidates := make([]string, 0, len(l.neighbors))
	for _, nb := range l.neighbors {
		if nb == incomingNeighbor {
			continue
		}
		candidates = append(candidates, nb)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return candidates[0]
}

// Send originates a message packet from this node (console `send DEST
// TEXT`). incomingNeighbor is empty — a locally-injected packet is never
// a cycle even though its headers already contain self_id.
func (l *LinkState) Send(dest, text string) error {
	l.mu.Lock()
	ttl := l.defaultTTL
	l.mu.Unlock()

	pkt := packet.Build(packet.ProtoLSR, packet.TypeMessage, l.deps.SelfID, dest, ttl, text, nil)
	l.deps.Dedup.AddIfNew(pkt.MsgID)

	l.mu.Lock()
	l.counters.TX++
	l.mu.Unlock()

	nextHop := l.resolveNextHop(dest, "")
	if nextHop == "" {
		l.deps.Logger.Warn("no-route", "dest", dest)
		l.mu.Lock()
		l.counters.NoRoute++
		l.mu.Unlock()
		return nil
	}
	l.deps.publish(pkt, l.deps.channel(nextHop))
	return nil
}

// --- LSP payload codec ---

type lspPayload struct {
	Origin string
	Seq    int
	Links  map[string]int
}

// decodeLSPPayload accepts either link shape on input: an array of
// {"to": id, "cost": n} objects, or an object {id: cost}. `info` packets
// carry the same shape and are converted identically — a legacy/interop
// variant of lsp.
func decodeLSPPayload(raw any) (lspPayload, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return lspPayload{}, errors.New("engine: lsp payload must be an object")
	}

	origin, _ := m["origin"].(string)
	if origin == "" {
		return lspPayload{}, errors.New("engine: lsp payload missing origin")
	}
	seqF, ok := toFloat(m["seq"])
	if !ok {
		return lspPayload{}, errors.New("engine: lsp payload missing seq")
	}

	links := make(map[string]int)
	switch lv := m["links"].(type) {
	case map[string]any:
		for id, v := range lv {
			if f, ok := toFloat(v); ok {
				links[id] = int(f)
			}
		}
	case []any:
		for _, item := range lv {
			switch it := item.(type) {
			case map[string]any:
				to, _ := it["to"].(string)
				cost, _ := toFloat(it["cost"])
				if to != "" {
					links[to] = int(cost)
				}
			case []any:
				if len(it) == 2 {
					if to, ok := it[0].(string); ok {
						if cost, ok := toFloat(it[1]); ok {
							links[to] = int(cost)
						}
					}
				}
			}
		}
	default:
		return lspPayload{}, errors.New("engine: lsp payload links must be an array or object")
	}

	return lspPayload{Origin: origin, Seq: int(seqF), Links: links}, nil
}

// encodeLSPPayload emits the array-of-pairs form on output, sorted by
// neighbor id for deterministic wire output.
func encodeLSPPayload(origin string, seq int, links map[string]int) map[string]any {
	ids := make([]string, 0, len(links))
	for id := range links {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pairs := make([]map[string]any, 0, len(links))
	for _, id := range ids {
		pairs = append(pairs, map[string]any{"to": id, "cost": links[id]})
	}

	return map[string]any{"origin": origin, "seq": seq, "links": pairs}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
