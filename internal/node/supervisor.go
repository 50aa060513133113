// Package node implements the Node Supervisor: it owns all routing state
// and the duplicate filter, wires the bus adapter to a routing engine, and
// runs the HELLO/LSP timer loops and the console's command surface.
//
// The timer-loop shape (a cancelable context, a resettable deadline
// checked on a fixed tick, a nowFn seam for tests) is grounded directly on
// the teacher's device/advert.Scheduler. Where the teacher runs two
// independent advert timers off one ticker, a Supervisor runs up to two
// independent timers (HELLO always, LSP only for LinkState) the same way.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kprusa/routingd/internal/bus"
	"github.com/kprusa/routingd/internal/dedup"
	"github.com/kprusa/routingd/internal/engine"
	"github.com/kprusa/routingd/internal/packet"
	"github.com/kprusa/routingd/internal/topology"
)

const (
	// startupDelay gives the bus subscription a moment to settle before the
	// first HELLO/LSP goes out.
	startupDelay = time.Second

	// tickInterval is the resolution of the timer check loop, matching the
	// teacher's advert.Scheduler tick granularity.
	tickInterval = 250 * time.Millisecond

	// DefaultHelloInterval and DefaultLSPInterval are the Supervisor's
	// default timer periods, overridable from the CLI's --hello/--lsp flags.
	DefaultHelloInterval = 5 * time.Second
	DefaultLSPInterval   = 10 * time.Second
)

// Config configures a Supervisor.
type Config struct {
	SelfID        string
	HelloInterval time.Duration
	LSPInterval   time.Duration // LinkState only; ignored otherwise
	Logger        *slog.Logger

	// NowFn allows overriding time.Now for testing.
	NowFn func() time.Time
}

// Supervisor orchestrates one router daemon: a bus connection, a routing
// engine, its duplicate filter, and the HELLO/LSP timers. mu guards only
// the Supervisor's own lifecycle fields (stopped, cancel, loopsDone); the
// engine, the duplicate filter and the LSDB each guard their own state
// with their own lock.
type Supervisor struct {
	cfg   Config
	bus   bus.Adapter
	names *topology.Names
	eng   engine.Engine
	dedup *dedup.Filter
	log   *slog.Logger
	nowFn func() time.Time

	mu        sync.Mutex
	stopped   bool
	cancel    context.CancelFunc
	loopsDone chan struct{}
}

// New constructs a Supervisor. Call Start to subscribe to the bus and
// spawn the timer loops.
func New(cfg Config, busAdapter bus.Adapter, names *topology.Names, eng engine.Engine, dedupFilter *dedup.Filter) *Supervisor {
	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = DefaultHelloInterval
	}
	if cfg.LSPInterval <= 0 {
		cfg.LSPInterval = DefaultLSPInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Supervisor{
		cfg:   cfg,
		bus:   busAdapter,
		names: names,
		eng:   eng,
		dedup: dedupFilter,
		log:   logger.WithGroup("node"),
		nowFn: nowFn,
	}
}

// Engine exposes the underlying engine for console/metrics introspection.
func (s *Supervisor) Engine() engine.Engine { return s.eng }

// Neighbors returns this node's configured direct neighbors (console
// `neighbors`), or nil if the engine doesn't track a fixed neighbor set.
func (s *Supervisor) Neighbors() []string {
	if nl, ok := s.eng.(engine.NeighborLister); ok {
		return nl.Neighbors()
	}
	return nil
}

// SetTTL changes the default outgoing TTL if the engine supports it
// (console `ttl N`).
func (s *Supervisor) SetTTL(ttl int) {
	if ts, ok := s.eng.(engine.TTLSetter); ok {
		ts.SetDefaultTTL(ttl)
	}
}

// Start subscribes to this node's inbox channel and spawns the HELLO (and,
// for a ControlOriginator engine, LSP) timer loops. It returns once
// subscription succeeds; the loops run until Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	channel := s.names.Channel(s.cfg.SelfID)
	if err := s.bus.Subscribe(channel, s.handleMessage); err != nil {
		return fmt.Errorf("node: subscribe to %s: %w", channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.loopsDone = make(chan struct{})
	s.mu.Unlock()

	go s.runLoops(ctx)

	s.log.Info("node started", "id", s.cfg.SelfID, "channel", channel, "proto", s.eng.Proto())
	return nil
}

// Stop sets the shutdown flag, stops the timer loops, and closes the bus
// handle: the clean-shutdown sequence is stop timers, wait for the loop
// goroutine to exit, then close the bus.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	done := s.loopsDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return s.bus.Close()
}

func (s *Supervisor) runLoops(ctx context.Context) {
	defer close(s.loopsDone)

	select {
	case <-ctx.Done():
		return
	case <-time.After(startupDelay):
	}

	if originator, ok := s.eng.(engine.ControlOriginator); ok {
		originator.OriginateControl()
	}
	s.sendHello()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	nextHello := s.nowFn().Add(s.cfg.HelloInterval)
	nextLSP := s.nowFn().Add(s.cfg.LSPInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.nowFn()
			if !now.Before(nextHello) {
				s.sendHello()
				nextHello = now.Add(s.cfg.HelloInterval)
			}
			if originator, ok := s.eng.(engine.ControlOriginator); ok {
				if !now.Before(nextLSP) {
					originator.OriginateControl()
					nextLSP = now.Add(s.cfg.LSPInterval)
				}
			}
		}
	}
}

// sendHello emits this node's periodic keep-alive through the engine's
// SendHello, which all three engines implement (LinkState also records
// per-neighbor send times for RTT measurement). An engine without
// SendHello sends no HELLO; only a debug line is logged.
func (s *Supervisor) sendHello() {
	type helloSender interface{ SendHello() }
	if hs, ok := s.eng.(helloSender); ok {
		hs.SendHello()
		return
	}
	s.log.Debug("hello", "id", s.cfg.SelfID)
}

// handleMessage is the bus callback: decode, sanitize, run the shared
// duplicate-suppression prologue, then dispatch to the engine. Every
// engine shares this same on-receive prologue regardless of routing
// algorithm.
func (s *Supervisor) handleMessage(payload []byte) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		s.log.Debug("dropping unparseable payload", "error", err)
		return
	}

	pkt, err := packet.Sanitize(raw)
	if err != nil {
		s.log.Debug("dropping malformed packet", "error", err)
		return
	}

	if !s.dedup.AddIfNew(pkt.MsgID) {
		if dc, ok := s.eng.(engine.DuplicateCounter); ok {
			dc.NoteDuplicate()
		}
		return
	}

	s.log.Debug("on_packet", "type", pkt.Type, "from", pkt.From, "ttl", pkt.TTL, "incoming", pkt.LastHeader())
	s.eng.OnPacket(pkt, pkt.LastHeader())
}

// Send originates a user message through the engine (console `send DEST
// TEXT`).
func (s *Supervisor) Send(dest, text string) error {
	return s.eng.Send(dest, text)
}

// Recompute forces an SPF recompute if the engine supports it (console
// `recompute`).
func (s *Supervisor) Recompute() {
	if r, ok := s.eng.(engine.Recomputer); ok {
		r.Recompute()
	}
}

// OriginateLSP forces LSP origination if the engine supports it (console
// `lsp`).
func (s *Supervisor) OriginateLSP() {
	if o, ok := s.eng.(engine.ControlOriginator); ok {
		o.OriginateControl()
	}
}
