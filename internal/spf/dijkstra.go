// Package spf implements the shortest-path solver shared by the StaticSPF
// and LinkState routing engines.
//
// The priority queue is grounded directly on
// mpisat-qumo/internal/topology/dijkstra.go's container/heap-based
// pqItem/priorityQueue pair — lazy deletion of stale entries included.
package spf

import (
	"container/heap"
	"math"
)

// Graph is a directed weighted adjacency map: node id -> neighbor id ->
// non-negative integer weight. The static-SPF graph is auto-symmetrized by
// the topology loader before reaching the solver; the LSDB's graph() is
// strictly directional. The solver itself makes no assumption either way —
// it accepts any directed weighted graph.
type Graph map[string]map[string]int

// Metric selects how an edge's cost is derived.
type Metric int

const (
	// MetricWeight uses the graph's stored integer cost, defaulting to 1
	// for a negative (invalid) weight.
	MetricWeight Metric = iota
	// MetricHop weights every edge 1 regardless of stored cost.
	MetricHop
)

// ShortestPaths runs Dijkstra's algorithm from source over g and returns
// the distance and predecessor maps. dist[source] is 0; dist[v] is +Inf
// for any node unreachable from source. Ties in the priority queue are
// broken by ascending node id, which is deterministic within a single
// computation even though the tie-break choice itself is arbitrary.
func ShortestPaths(g Graph, source string, metric Metric) (dist map[string]float64, prev map[string]string) {
	nodes := allNodes(g)

	dist = make(map[string]float64, len(nodes))
	prev = make(map[string]string, len(nodes))
	for n := range nodes {
		dist[n] = math.Inf(1)
	}
	dist[source] = 0

	visited := make(map[string]bool, len(nodes))

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{node: source, dist: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		u := item.node

		if visited[u] {
			continue
		}
		if item.dist > dist[u] {
			continue // stale entry: a shorter path was already found
		}
		visited[u] = true

		for v, weight := range g[u] {
			cost := edgeCost(weight, metric)
			nd := dist[u] + cost
			if nd < dist[v] {
				dist[v] = nd
				prev[v] = u
				heap.Push(pq, &pqItem{node: v, dist: nd})
			}
		}
	}

	return dist, prev
}

// edgeCost resolves an edge's weight under the configured metric mode.
func edgeCost(weight int, metric Metric) float64 {
	if metric == MetricHop {
		return 1
	}
	if weight < 0 {
		return 1
	}
	return float64(weight)
}

// allNodes returns the union of every node that appears either as a source
// or as a neighbor in g, so destinations with no outgoing edges of their
// own still receive a distance entry, treated as isolated.
func allNodes(g Graph) map[string]struct{} {
	nodes := make(map[string]struct{})
	for u, edges := range g {
		nodes[u] = struct{}{}
		for v := range edges {
			nodes[v] = struct{}{}
		}
	}
	return nodes
}

// ReconstructPath walks prev from dest back to source and reverses the
// result, returning [source, ..., dest]. Returns an empty path if dest is
// unreachable from source.
func ReconstructPath(prev map[string]string, source, dest string) []string {
	if source == dest {
		return []string{source}
	}

	path := []string{}
	cur := dest
	for {
		path = append(path, cur)
		if cur == source {
			break
		}
		p, ok := prev[cur]
		if !ok {
			return []string{} // unreachable
		}
		cur = p
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	if len(path) == 0 || path[0] != source {
		return []string{}
	}
	return path
}

// NextHopTable holds the routing table derived from a single SPF run.
type NextHopTable struct {
	Dist    map[string]float64
	NextHop map[string]string
	Paths   map[string][]string
}

// BuildNextHopTable runs ShortestPaths from source and reconstructs, for
// every reachable destination d != source, the path [source, ..., d] and
// its next hop (the second element of that path).
func BuildNextHopTable(g Graph, source string, metric Metric) NextHopTable {
	dist, prev := ShortestPaths(g, source, metric)

	nextHop := make(map[string]string)
	paths := make(map[string][]string)

	for d := range allNodes(g) {
		if d == source {
			continue
		}
		path := ReconstructPath(prev, source, d)
		paths[d] = path
		if len(path) >= 2 {
			nextHop[d] = path[1]
		}
	}

	return NextHopTable{Dist: dist, NextHop: nextHop, Paths: paths}
}

// --- priority queue for Dijkstra ---

type pqItem struct {
	node  string
	dist  float64
	index int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].node < pq[j].node
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}
