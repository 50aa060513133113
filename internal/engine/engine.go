// Package engine implements the three interchangeable routing engines —
// Flooding, StaticSPF, and LinkState — that share one packet schema and
// one forwarding discipline.
//
// The shared dispatch shape (sanitize already done by the caller, switch
// on pkt.Type, forward via the bus adapter) is grounded on the teacher's
// device/router.Router.HandlePacket, narrowed from MeshCore's
// flood/direct/ack/trace gate chain to the three simpler per-type
// behaviors each engine here implements.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kprusa/routingd/internal/bus"
	"github.com/kprusa/routingd/internal/dedup"
	"github.com/kprusa/routingd/internal/packet"
	"github.com/kprusa/routingd/internal/topology"
)

// Engine is the capability every routing engine variant implements.
// incomingNeighbor is empty for a locally-originated packet (console
// send, timer-originated control packet); this is the discriminator
// LinkState's cycle rule depends on.
type Engine interface {
	Proto() string
	OnPacket(pkt *packet.Packet, incomingNeighbor string)
	Send(to, text string) error
}

// ControlOriginator is implemented by engines with a periodic control
// packet to emit (LinkState's originate_lsp). Optional — most engines
// have nothing to originate on a timer.
type ControlOriginator interface {
	OriginateControl()
}

// Recomputer is implemented by engines whose routing table can be
// recomputed on demand (StaticSPF's explicit `recompute` console command,
// LinkState's eager recompute on LSDB change). Optional — Flooding has no
// table to recompute.
type Recomputer interface {
	Recompute()
}

// Deps bundles the collaborators every engine needs: identity, the bus
// adapter, channel resolution, the shared duplicate filter, and logging.
// Engines hold a Deps by value — it is itself immutable after
// construction, even though the collaborators it points to are not.
type Deps struct {
	SelfID     string
	Bus        bus.Adapter
	Names      *topology.Names
	Dedup      *dedup.Filter
	DefaultTTL int
	Logger     *slog.Logger
	NowFn      func() time.Time
}

func (d Deps) channel(id string) string {
	return d.Names.Channel(id)
}

// publish serializes pkt and publishes it to channel, logging (not
// retrying) on failure. A dropped publish is a transport problem, not a
// routing one — retrying here would just duplicate the packet once the
// transport recovers.
func (d Deps) publish(pkt *packet.Packet, channel string) {
	data, err := json.Marshal(pkt)
	if err != nil {
		d.Logger.Error("failed to marshal outgoing packet", "error", err)
		return
	}
	if err := d.Bus.Publish(channel, data); err != nil {
		d.Logger.Warn("publish failed", "channel", channel, "error", err)
	}
}

// deliver logs a packet addressed to this node in a fixed,
// greppable format: "[deliver] E <- A: hello".
func (d Deps) deliver(pkt *packet.Packet) {
	d.Logger.Info(fmt.Sprintf("[deliver] %s <- %s: %v", d.SelfID, pkt.From, pkt.Payload))
}

// broadcast publishes pkt to every neighbor's channel except
// excludeNeighbor's, deduplicating by resolved channel so a
// misconfigured channel-map collision only sends once per distinct
// channel.
func (d Deps) broadcast(pkt *packet.Packet, neighbors []string, excludeNeighbor string) {
	var excludeChannel string
	if excludeNeighbor != "" {
		excludeChannel = d.channel(excludeNeighbor)
	}

	seen := make(map[string]bool, len(neighbors))
	for _, nb := range neighbors {
		ch := d.channel(nb)
		if ch == excludeChannel || seen[ch] {
			continue
		}
		seen[ch] = true
		d.publish(pkt, ch)
	}
}

// Counters are the observable per-engine tallies: rx, tx, fwd, drop_dup,
// drop_ttl, drop_cycle, drop_bad, no_route. LinkState counts all eight;
// Flooding never counts DropBad or NoRoute; StaticSPF never counts
// DropDup or DropBad. Packets that fail sanitize are dropped by the node
// supervisor before any engine sees them and are not counted.
type Counters struct {
	RX        int
	TX        int
	Fwd       int
	DropDup   int
	DropTTL   int
	DropCycle int
	DropBad   int
	NoRoute   int
}

// DuplicateCounter is implemented by engines that track drop_dup even
// though the actual duplicate check happens in the shared prologue
// before OnPacket is ever called — the node supervisor invokes
// NoteDuplicate so the engine's counters stay complete.
type DuplicateCounter interface {
	NoteDuplicate()
}

// TTLSetter is implemented by engines whose default outgoing TTL can be
// changed at runtime (console `ttl N`).
type TTLSetter interface {
	SetDefaultTTL(ttl int)
}

// NeighborLister is implemented by engines that track a fixed set of
// direct neighbors (console `neighbors`).
type NeighborLister interface {
	Neighbors() []string
}
