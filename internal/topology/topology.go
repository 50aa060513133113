// Package topology loads the JSON topology and names files that configure
// a router's neighbor graph and bus addressing. These files are wire
// contracts at the edge of the system, not ambient config, but someone
// still has to load them.
//
// The edge-shape tolerance and auto-symmetrization are grounded directly on
// original_source/Dijkstra/config_loader.py's load_topology, extended with
// two extra edge shapes the Python original did not accept
// ({"to":id,"cost":c} objects and [id,cost] pairs).
package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Graph is a directed weighted adjacency map, matching internal/spf.Graph's
// shape without importing it (the topology package has no reason to depend
// on the solver).
type Graph map[string]map[string]int

type topoFile struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// LoadTopology reads a `{"type":"topo","config":{...}}` file and returns the
// auto-symmetrized weighted adjacency map.
func LoadTopology(path string) (Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read %s: %w", path, err)
	}

	var tf topoFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("topology: parse %s: %w", path, err)
	}
	if tf.Type != "topo" {
		return nil, fmt.Errorf("topology: %s: type must be %q, got %q", path, "topo", tf.Type)
	}

	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(tf.Config, &cfg); err != nil {
		return nil, fmt.Errorf("topology: %s: config must be an object: %w", path, err)
	}

	g := make(Graph, len(cfg))
	for node, edgesRaw := range cfg {
		edges, err := decodeEdges(edgesRaw)
		if err != nil {
			return nil, fmt.Errorf("topology: %s: node %s: %w", path, node, err)
		}
		g[node] = edges
	}

	symmetrize(g)
	return g, nil
}

// decodeEdges accepts any of four edge shapes:
//
//	{id: cost}
//	[{"to": id, "cost": c}, ...]
//	[[id, c], ...]
//	[id, ...]             (cost defaults to 1)
func decodeEdges(raw json.RawMessage) (map[string]int, error) {
	// {id: cost}
	var asMap map[string]float64
	if err := json.Unmarshal(raw, &asMap); err == nil {
		out := make(map[string]int, len(asMap))
		for id, cost := range asMap {
			out[id] = normalizeCost(cost)
		}
		return out, nil
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err != nil {
		return nil, fmt.Errorf("edges must be an object or array: %w", err)
	}

	out := make(map[string]int, len(asList))
	for _, item := range asList {
		id, cost, err := decodeEdgeItem(item)
		if err != nil {
			return nil, err
		}
		out[id] = cost
	}
	return out, nil
}

func decodeEdgeItem(raw json.RawMessage) (string, int, error) {
	// plain string id, cost defaults to 1
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, 1, nil
	}

	// {"to": id, "cost": c}
	var obj struct {
		To   string  `json:"to"`
		Cost float64 `json:"cost"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.To != "" {
		cost := obj.Cost
		if cost == 0 {
			cost = 1
		}
		return obj.To, normalizeCost(cost), nil
	}

	// [id, cost]
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) == 2 {
		var pid string
		var pcost float64
		if err := json.Unmarshal(pair[0], &pid); err == nil {
			if err := json.Unmarshal(pair[1], &pcost); err == nil {
				return pid, normalizeCost(pcost), nil
			}
		}
	}

	return "", 0, fmt.Errorf("unrecognized edge shape: %s", string(raw))
}

func normalizeCost(c float64) int {
	if c <= 0 {
		return 1
	}
	return int(c)
}

// symmetrize ensures every edge u->v also has a reverse v->u edge with the
// same weight, unless one is already configured — the loader treats the
// topology file as describing an undirected graph by default.
func symmetrize(g Graph) {
	type edge struct {
		u, v string
		w    int
	}
	var toAdd []edge
	for u, nbrs := range g {
		for v, w := range nbrs {
			if g[v] == nil {
				toAdd = append(toAdd, edge{v, u, w})
				continue
			}
			if _, ok := g[v][u]; !ok {
				toAdd = append(toAdd, edge{v, u, w})
			}
		}
	}
	for _, e := range toAdd {
		if g[e.u] == nil {
			g[e.u] = make(map[string]int)
		}
		if _, ok := g[e.u][e.v]; !ok {
			g[e.u][e.v] = e.w
		}
	}
}

// Neighbors returns the sorted neighbor ids of self in g, or an empty slice
// if self has no entry.
func Neighbors(g Graph, self string) []string {
	nbrs := g[self]
	out := make([]string, 0, len(nbrs))
	for id := range nbrs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// --- names file ---

// DefaultChannelScheme formats the default bus channel for a node id when
// the names file does not specify one explicitly.
func DefaultChannelScheme(id string) string {
	return "net:inbox:" + id
}

type namesFile struct {
	Type   string                     `json:"type"`
	Host   string                     `json:"host"`
	Port   int                        `json:"port"`
	Pwd    string                     `json:"pwd"`
	Config map[string]json.RawMessage `json:"config"`
}

// BrokerInfo carries the optional bus connection parameters a names file
// may declare at the top level (the "names" object's host/port/pwd
// fields). The mqtt bus adapter does not read it; cmd/routerd takes the
// broker URL and credentials from the daemon config instead.
type BrokerInfo struct {
	Host string
	Port int
	Pwd  string
}

// Names maps node id to bus channel, resolved from a names file.
type Names struct {
	Broker   BrokerInfo
	Channels map[string]string
}

// LoadNames reads a `{"type":"names", ...}` file and resolves each node's
// channel, accepting both the object form {"channel": "..."} and the
// legacy "host:port" string form, which is translated into a channel of
// the same default scheme so every engine only ever deals in channel
// strings.
func LoadNames(path string) (*Names, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("names: read %s: %w", path, err)
	}

	var nf namesFile
	if err := json.Unmarshal(raw, &nf); err != nil {
		return nil, fmt.Errorf("names: parse %s: %w", path, err)
	}
	if nf.Type != "names" {
		return nil, fmt.Errorf("names: %s: type must be %q, got %q", path, "names", nf.Type)
	}

	channels := make(map[string]string, len(nf.Config))
	for id, raw := range nf.Config {
		ch, err := decodeNameEntry(id, raw)
		if err != nil {
			return nil, fmt.Errorf("names: %s: node %s: %w", path, id, err)
		}
		channels[id] = ch
	}

	return &Names{
		Broker:   BrokerInfo{Host: nf.Host, Port: nf.Port, Pwd: nf.Pwd},
		Channels: channels,
	}, nil
}

func decodeNameEntry(id string, raw json.RawMessage) (string, error) {
	var obj struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Channel != "" {
		return obj.Channel, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		// legacy "host:port" form: fold into the default scheme so callers
		// never need to special-case it.
		return DefaultChannelScheme(id), nil
	}

	return "", fmt.Errorf("unrecognized names entry shape: %s", string(raw))
}

// Channel resolves id's channel, falling back to the default scheme when
// the names file has no entry for it.
func (n *Names) Channel(id string) string {
	if n != nil {
		if ch, ok := n.Channels[id]; ok {
			return ch
		}
	}
	return DefaultChannelScheme(id)
}
