// Package console implements the operator's line-oriented command loop:
// send DEST TEXT, table, route DEST, lsdb, recompute, ttl N, neighbors,
// stats, lsp, topo, graph, help, and quit.
//
// The dispatch shape — trim, split on whitespace, switch on the first
// token, unknown command prints help — is grounded on the teacher's
// device/room.Server.executeCLI.
package console

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/kprusa/routingd/internal/engine"
	"github.com/kprusa/routingd/internal/lsdb"
	"github.com/kprusa/routingd/internal/spf"
)

// Node is the subset of *node.Supervisor the console needs. A narrow
// interface keeps this package free of an import cycle with internal/node
// and makes the loop trivially testable against a fake.
type Node interface {
	Engine() engine.Engine
	Send(dest, text string) error
	Recompute()
	OriginateLSP()
	Neighbors() []string
	SetTTL(ttl int)
}

// Console runs the blocking line-read loop: one of a node's three
// concurrent actors, alongside the bus receive handler and the timer loop.
type Console struct {
	node Node
	in   *bufio.Scanner
	out  io.Writer
}

// New constructs a Console reading commands from in and writing replies to
// out.
func New(node Node, in io.Reader, out io.Writer) *Console {
	return &Console{node: node, in: bufio.NewScanner(in), out: out}
}

// Run reads and dispatches commands until EOF, an io error, or the
// operator types "quit". It returns nil on a clean "quit", or the
// underlying scan error otherwise.
func (c *Console) Run() error {
	for c.in.Scan() {
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}
		if !c.Dispatch(line) {
			return nil
		}
	}
	return c.in.Err()
}

// Dispatch executes one command line and reports whether the loop should
// continue (false only for "quit").
func (c *Console) Dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "send":
		c.cmdSend(args)
	case "table":
		c.cmdTable()
	case "route":
		c.cmdRoute(args)
	case "lsdb":
		c.cmdLSDB()
	case "recompute":
		c.node.Recompute()
		fmt.Fprintln(c.out, "OK")
	case "ttl":
		c.cmdTTL(args)
	case "neighbors":
		c.cmdNeighbors()
	case "stats":
		c.cmdStats()
	case "lsp":
		c.node.OriginateLSP()
		fmt.Fprintln(c.out, "OK")
	case "topo":
		c.cmdTopo()
	case "graph":
		c.cmdGraphDOT()
	case "help":
		c.cmdHelp()
	case "quit":
		return false
	default:
		c.cmdHelp()
	}
	return true
}

func (c *Console) cmdSend(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "usage: send DEST TEXT")
		return
	}
	dest, text := args[0], strings.Join(args[1:], " ")
	if err := c.node.Send(dest, text); err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

// tableProvider is how the console detects an engine with a routing table, narrowing
// it without an import cycle (StaticSPF and LinkState both implement
// this; Flooding has no table to show).
type tableProvider interface {
	Table() spf.NextHopTable
}

func (c *Console) cmdTable() {
	tp, ok := c.node.Engine().(tableProvider)
	if !ok {
		fmt.Fprintln(c.out, "this engine has no routing table")
		return
	}
	table := tp.Table()
	dests := make([]string, 0, len(table.NextHop))
	for dest := range table.NextHop {
		dests = append(dests, dest)
	}
	sort.Strings(dests)
	for _, dest := range dests {
		fmt.Fprintf(c.out, "%s\tnext_hop=%s\tdist=%g\n", dest, table.NextHop[dest], table.Dist[dest])
	}
}

func (c *Console) cmdRoute(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: route DEST")
		return
	}
	tp, ok := c.node.Engine().(tableProvider)
	if !ok {
		fmt.Fprintln(c.out, "this engine has no routing table")
		return
	}
	table := tp.Table()
	dest := args[0]
	nh, ok := table.NextHop[dest]
	if !ok {
		fmt.Fprintf(c.out, "no route to %s\n", dest)
		return
	}
	fmt.Fprintf(c.out, "%s next_hop=%s dist=%g\n", dest, nh, table.Dist[dest])
}

// lsdbProvider is implemented by LinkState (console `lsdb`/`topo`/`graph`).
type lsdbProvider interface {
	LSDB() *lsdb.LSDB
}

func (c *Console) cmdLSDB() {
	lp, ok := c.node.Engine().(lsdbProvider)
	if !ok {
		fmt.Fprintln(c.out, "this engine has no LSDB")
		return
	}
	entries := lp.LSDB().Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Origin < entries[j].Origin })
	for _, e := range entries {
		fmt.Fprintf(c.out, "%s seq=%d age=%.1fs links=%v\n", e.Origin, e.Seq, e.Age.Seconds(), e.Links)
	}
}

func (c *Console) cmdTopo() {
	lp, ok := c.node.Engine().(lsdbProvider)
	if !ok {
		fmt.Fprintln(c.out, "this engine has no topology view")
		return
	}
	entries := lp.LSDB().Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Origin < entries[j].Origin })
	for _, e := range entries {
		neighbors := make([]string, 0, len(e.Links))
		for nb := range e.Links {
			neighbors = append(neighbors, nb)
		}
		sort.Strings(neighbors)
		fmt.Fprintf(c.out, "%s -> %s\n", e.Origin, strings.Join(neighbors, ", "))
	}
}

// cmdGraphDOT prints a Graphviz DOT rendering of the LSDB's adjacency view
// (SUPPLEMENTED FEATURES #2, grounded on original_source/LSR/node.py's
// _print_graph_dot).
func (c *Console) cmdGraphDOT() {
	lp, ok := c.node.Engine().(lsdbProvider)
	if !ok {
		fmt.Fprintln(c.out, "this engine has no topology view")
		return
	}
	entries := lp.LSDB().Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Origin < entries[j].Origin })

	fmt.Fprintln(c.out, "digraph topology {")
	for _, e := range entries {
		links := make([]string, 0, len(e.Links))
		for nb := range e.Links {
			links = append(links, nb)
		}
		sort.Strings(links)
		for _, nb := range links {
			fmt.Fprintf(c.out, "  %q -> %q [label=%q];\n", e.Origin, nb, fmt.Sprintf("%d", e.Links[nb]))
		}
	}
	fmt.Fprintln(c.out, "}")
}

func (c *Console) cmdTTL(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: ttl N")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		fmt.Fprintln(c.out, "ttl must be a positive integer")
		return
	}
	c.node.SetTTL(n)
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdNeighbors() {
	nbrs := c.node.Neighbors()
	sort.Strings(nbrs)
	fmt.Fprintln(c.out, strings.Join(nbrs, " "))
}

type counterProvider interface {
	Counters() engine.Counters
}

func (c *Console) cmdStats() {
	cp, ok := c.node.Engine().(counterProvider)
	if !ok {
		fmt.Fprintln(c.out, "this engine has no counters")
		return
	}
	ct := cp.Counters()
	fmt.Fprintf(c.out, "rx=%d tx=%d fwd=%d drop_dup=%d drop_ttl=%d drop_cycle=%d drop_bad=%d no_route=%d\n",
		ct.RX, ct.TX, ct.Fwd, ct.DropDup, ct.DropTTL, ct.DropCycle, ct.DropBad, ct.NoRoute)
}

func (c *Console) cmdHelp() {
	fmt.Fprintln(c.out, "commands: send DEST TEXT | table | route DEST | lsdb | recompute | ttl N | neighbors | stats | lsp | topo | graph | help | quit")
}
