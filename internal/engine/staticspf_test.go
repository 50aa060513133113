package engine

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kprusa/routingd/internal/bus"
	"github.com/kprusa/routingd/internal/packet"
	"github.com/kprusa/routingd/internal/spf"
)

func lineGraph() spf.Graph {
	return spf.Graph{
		"A": {"B": 1},
		"B": {"A": 1, "C": 1},
		"C": {"B": 1, "D": 1},
		"D": {"C": 1, "E": 1},
		"E": {"D": 1},
	}
}

func wireStaticSPF(t *testing.T, ttl int) (map[string]*StaticSPF, map[string]*bytes.Buffer) {
	t.Helper()
	ids := []string{"A", "B", "C", "D", "E"}
	graph := lineGraph()
	names := namesFor(ids...)
	broker := bus.NewBroker()

	engines := make(map[string]*StaticSPF, len(ids))
	bufs := make(map[string]*bytes.Buffer, len(ids))

	for _, id := range ids {
		adapter := bus.NewMemory(broker)
		buf := &bytes.Buffer{}
		deps := newTestDeps(id, adapter, names, buf)
		deps.DefaultTTL = ttl
		eng := NewStaticSPF(deps, graph, spf.MetricWeight)
		engines[id] = eng
		bufs[id] = buf

		adapter.Subscribe(names.Channel(id), func(payload []byte) {
			var pkt packet.Packet
			if err := json.Unmarshal(payload, &pkt); err != nil {
				return
			}
			eng.OnPacket(&pkt, pkt.LastHeader())
		})
	}

	return engines, bufs
}

// TestStaticSPF_ForwardingAcrossTheLine sends a message across a
// five-node, four-hop line topology and checks both the computed table and that it's
// delivered exactly once at the far end.
func TestStaticSPF_ForwardingAcrossTheLine(t *testing.T) {
	engines, bufs := wireStaticSPF(t, 8)

	table := engines["A"].Table()
	if table.Dist["E"] != 4 {
		t.Errorf("dist[E] = %v, want 4", table.Dist["E"])
	}
	if table.NextHop["E"] != "B" {
		t.Errorf("next_hop[E] = %s, want B", table.NextHop["E"])
	}

	engines["A"].Send("E", "hello")
	if got := bufs["E"].String(); strings.Count(got, "[deliver] E <- A: hello") != 1 {
		t.Errorf("E's log = %q, want exactly one [deliver] E <- A: hello", got)
	}
}

func TestStaticSPF_NoRouteForUnknownDestination(t *testing.T) {
	buf := &bytes.Buffer{}
	broker := bus.NewBroker()
	deps := newTestDeps("A", bus.NewMemory(broker), namesFor("A", "B"), buf)
	eng := NewStaticSPF(deps, spf.Graph{"A": {"B": 1}, "B": {"A": 1}}, spf.MetricWeight)

	eng.Send("Z", "hi")
	if eng.Counters().NoRoute == 0 {
		t.Error("expected NoRoute to be incremented for an unreachable destination")
	}
}

func TestStaticSPF_FallsBackToDirectNeighborWhenTableEntryMissing(t *testing.T) {
	buf := &bytes.Buffer{}
	broker := bus.NewBroker()
	names := namesFor("A", "B")
	deps := newTestDeps("A", bus.NewMemory(broker), names, buf)
	// B is a configured neighbor; its table entry is deleted by hand below
	// so the table has no route to it.
	eng := NewStaticSPF(deps, spf.Graph{"A": {"B": 1}, "B": {"A": 1}}, spf.MetricWeight)
	eng.mu.Lock()
	delete(eng.table.NextHop, "B")
	eng.mu.Unlock()

	var published bool
	sub := bus.NewMemory(broker)
	sub.Subscribe(names.Channel("B"), func([]byte) { published = true })

	eng.Send("B", "hi")
	if !published {
		t.Error("expected a direct-neighbor fallback publish to B's channel")
	}
}

func TestStaticSPF_Recompute_PicksUpGraphChanges(t *testing.T) {
	buf := &bytes.Buffer{}
	broker := bus.NewBroker()
	deps := newTestDeps("A", bus.NewMemory(broker), namesFor("A", "B", "C"), buf)
	graph := spf.Graph{"A": {"B": 1}, "B": {"A": 1, "C": 1}, "C": {"B": 1}}
	eng := NewStaticSPF(deps, graph, spf.MetricWeight)

	if eng.Table().NextHop["C"] != "B" {
		t.Fatalf("next_hop[C] = %s, want B", eng.Table().NextHop["C"])
	}

	graph["A"]["C"] = 1
	graph["C"]["A"] = 1
	eng.Recompute()

	if eng.Table().NextHop["C"] != "C" {
		t.Errorf("after recompute, next_hop[C] = %s, want C (direct link)", eng.Table().NextHop["C"])
	}
}
