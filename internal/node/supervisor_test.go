package node

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kprusa/routingd/internal/bus"
	"github.com/kprusa/routingd/internal/dedup"
	"github.com/kprusa/routingd/internal/engine"
	"github.com/kprusa/routingd/internal/packet"
	"github.com/kprusa/routingd/internal/topology"
)

func namesFor(ids ...string) *topology.Names {
	ch := make(map[string]string, len(ids))
	for _, id := range ids {
		ch[id] = "net:inbox:" + id
	}
	return &topology.Names{Channels: ch}
}

func newSupervisor(t *testing.T, id string, broker *bus.Broker, eng engine.Engine, names *topology.Names, buf *bytes.Buffer) *Supervisor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := Config{SelfID: id, Logger: logger}
	return New(cfg, bus.NewMemory(broker), names, eng, dedup.New())
}

// TestSupervisor_FloodingLineDelivery wires five Supervisors end to end
// over an in-memory broker: a message flooded from A reaches every node on
// the line, and each intermediate node forwards it exactly once.
func TestSupervisor_FloodingLineDelivery(t *testing.T) {
	ids := []string{"A", "B", "C", "D", "E"}
	neighbors := map[string][]string{
		"A": {"B"},
		"B": {"A", "C"},
		"C": {"B", "D"},
		"D": {"C", "E"},
		"E": {"D"},
	}
	names := namesFor(ids...)
	broker := bus.NewBroker()

	sups := make(map[string]*Supervisor, len(ids))
	bufs := make(map[string]*bytes.Buffer, len(ids))
	engines := make(map[string]*engine.Flooding, len(ids))

	for _, id := range ids {
		buf := &bytes.Buffer{}
		bufs[id] = buf
		logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		deps := engine.Deps{
			SelfID:     id,
			Bus:        bus.NewMemory(broker),
			Names:      names,
			Dedup:      dedup.New(),
			DefaultTTL: 8,
			Logger:     logger,
			NowFn:      time.Now,
		}
		eng := engine.NewFlooding(deps, neighbors[id])
		engines[id] = eng
		sup := newSupervisor(t, id, broker, eng, names, buf)
		sups[id] = sup
		if err := sup.Start(context.Background()); err != nil {
			t.Fatalf("%s: Start: %v", id, err)
		}
	}
	t.Cleanup(func() {
		for _, s := range sups {
			s.Stop()
		}
	})

	if err := sups["A"].Send("E", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if !strings.Contains(bufs["E"].String(), "[deliver] E <- A: hello") {
		t.Errorf("E's log = %q, want a [deliver] E <- A: hello line", bufs["E"].String())
	}

	for _, id := range []string{"B", "C", "D"} {
		if c := engines[id].Counters(); c.Fwd != 1 {
			t.Errorf("%s forwarded %d times, want exactly 1", id, c.Fwd)
		}
	}
}

// TestSupervisor_DuplicateSuppressedAtInjectionPoint checks that a packet
// replayed onto the bus with the same msg_id as one already seen is
// silently dropped by the shared prologue, without reaching the engine a
// second time.
func TestSupervisor_DuplicateSuppressedAtInjectionPoint(t *testing.T) {
	names := namesFor("A", "B")
	broker := bus.NewBroker()
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	deps := engine.Deps{
		SelfID:     "B",
		Bus:        bus.NewMemory(broker),
		Names:      names,
		Dedup:      dedup.New(),
		DefaultTTL: 8,
		Logger:     logger,
		NowFn:      time.Now,
	}
	eng := engine.NewFlooding(deps, []string{"A"})
	sup := newSupervisor(t, "B", broker, eng, names, buf)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sup.Stop() })

	pkt := packet.Build(packet.ProtoFlooding, packet.TypeMessage, "A", "B", 8, "hi", nil)
	raw, err := json.Marshal(pkt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	pub := bus.NewMemory(broker)
	if err := pub.Publish(names.Channel("B"), raw); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Publish(names.Channel("B"), raw); err != nil {
		t.Fatalf("publish (replay): %v", err)
	}

	if n := strings.Count(buf.String(), "[deliver]"); n != 1 {
		t.Errorf("delivered %d times, want exactly 1 (replay must be suppressed)", n)
	}
	if eng.Counters().DropDup != 1 {
		t.Errorf("DropDup = %d, want 1", eng.Counters().DropDup)
	}
}

// TestSupervisor_MalformedPayloadDropsSilently checks that a packet that
// fails sanitize is dropped without panicking or propagating.
func TestSupervisor_MalformedPayloadDropsSilently(t *testing.T) {
	names := namesFor("A", "B")
	broker := bus.NewBroker()
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	deps := engine.Deps{
		SelfID:     "B",
		Bus:        bus.NewMemory(broker),
		Names:      names,
		Dedup:      dedup.New(),
		DefaultTTL: 8,
		Logger:     logger,
		NowFn:      time.Now,
	}
	eng := engine.NewFlooding(deps, []string{"A"})
	sup := newSupervisor(t, "B", broker, eng, names, buf)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sup.Stop() })

	pub := bus.NewMemory(broker)
	if err := pub.Publish(names.Channel("B"), []byte(`{"proto":"flooding"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if eng.Counters().RX != 0 {
		t.Errorf("RX = %d, want 0 (malformed packet must never reach OnPacket)", eng.Counters().RX)
	}
}

// TestSupervisor_RecomputeAndOriginateLSPPassThrough checks that
// OriginateLSP passes through to a LinkState engine (its own LSP lands in
// its LSDB) and that Recompute passes through without panicking.
func TestSupervisor_RecomputeAndOriginateLSPPassThrough(t *testing.T) {
	names := namesFor("A", "B")
	broker := bus.NewBroker()
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	deps := engine.Deps{
		SelfID:     "A",
		Bus:        bus.NewMemory(broker),
		Names:      names,
		Dedup:      dedup.New(),
		DefaultTTL: 8,
		Logger:     logger,
		NowFn:      time.Now,
	}
	eng := engine.NewLinkState(deps, []string{"B"}, engine.LinkMetricHop, 60*time.Second, 16)
	sup := newSupervisor(t, "A", broker, eng, names, buf)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sup.Stop() })

	sup.OriginateLSP()
	if eng.LSDB().Graph()["A"] == nil {
		t.Error("expected A's own LSP to be applied to its LSDB after OriginateLSP")
	}

	sup.Recompute() // must not panic even though there's nothing new to compute
}

func TestSupervisor_StopIsIdempotentAndClosesBus(t *testing.T) {
	names := namesFor("A", "B")
	broker := bus.NewBroker()
	buf := &bytes.Buffer{}
	deps := engine.Deps{
		SelfID:     "A",
		Bus:        bus.NewMemory(broker),
		Names:      names,
		Dedup:      dedup.New(),
		DefaultTTL: 8,
		Logger:     slog.New(slog.NewTextHandler(buf, nil)),
		NowFn:      time.Now,
	}
	eng := engine.NewFlooding(deps, []string{"B"})
	sup := newSupervisor(t, "A", broker, eng, names, buf)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
