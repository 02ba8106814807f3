package dag

import (
	"container/heap"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"pipeforge/internal/task"
)

type edgeIndex struct {
	from int
	to   int
}

// Graph is an immutable, validated pipeline DAG. Safe for concurrent reads.
type Graph struct {
	nodesByName map[string]*Node
	nodes       []*Node // canonical order

	edges []edgeIndex // canonical order

	outgoing [][]int // by canonical index, ascending
	incoming [][]int // by canonical index, ascending
	indeg    []int
	depth    []int // longest root distance, by canonical index

	hash GraphHash
}

// New builds and validates a Graph. Rejected: empty task sets, empty or
// duplicate names, edges naming unknown tasks, duplicate edges, self-loops
// and cycles.
func New(tasks []task.Task, edges []Edge) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	nodesByName := make(map[string]*Node, len(tasks))
	nodes := make([]*Node, 0, len(tasks))
	for _, t := range tasks {
		if t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, exists := nodesByName[t.Name]; exists {
			return nil, invalidf("duplicate task name: %q", t.Name)
		}
		n := &Node{Name: t.Name, Task: t, DefinitionHash: computeDefHash(t)}
		nodesByName[t.Name] = n
		nodes = append(nodes, n)
	}

	// Canonical node order: definition hash, then name as tie-breaker.
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].DefinitionHash != nodes[j].DefinitionHash {
			return nodes[i].DefinitionHash < nodes[j].DefinitionHash
		}
		return nodes[i].Name < nodes[j].Name
	})
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	nameToIndex := make(map[string]int, len(nodes))
	for _, n := range nodes {
		nameToIndex[n.Name] = n.canonicalIndex
	}

	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		fromIdx, okFrom := nameToIndex[e.From]
		toIdx, okTo := nameToIndex[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown task (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown task (to): %q", e.To)
		}
		if fromIdx == toIdx {
			return nil, invalidf("self-loop: %q -> %q", e.From, e.To)
		}
		pair := edgeIndex{from: fromIdx, to: toIdx}
		if _, dup := seen[pair]; dup {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}
	sort.Slice(mapped, func(i, j int) bool {
		if mapped[i].from != mapped[j].from {
			return mapped[i].from < mapped[j].from
		}
		return mapped[i].to < mapped[j].to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
		sort.Ints(incoming[i])
	}

	g := &Graph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       mapped,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	g.hash = g.computeGraphHash()
	return g, nil
}

// Hash returns the graph's stable identity.
func (g *Graph) Hash() GraphHash { return g.hash }

// Node returns a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the dependency edges as (From, To) name pairs in canonical
// order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Depth returns the topological depth of name: the length of the longest
// path from any root.
func (g *Graph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

// TopologicalOrder returns a deterministic topological ordering of task
// names. The graph is validated on construction, so this cannot fail.
func (g *Graph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		for _, p := range g.incoming[u] {
			if d := depth[p] + 1; d > depth[u] {
				depth[u] = d
			}
		}
	}
	return depth
}

// validateAcyclic proves acyclicity via Kahn's algorithm; on failure it
// extracts one deterministic cycle witness for the error message.
func (g *Graph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return cycleError(g.findCycle())
}

// topoOrderIndices produces a deterministic topological order: the ready
// queue is a min-heap over canonical indices.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &minHeap{}
	heap.Init(ready)
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		out = append(out, u)
		for _, v := range g.outgoing[u] {
			indeg[v]--
			if indeg[v] == 0 {
				heap.Push(ready, v)
			}
		}
	}
	return out
}

// findCycle walks the graph in canonical order and returns one cycle as a
// closed name path. Only called when a cycle is known to exist.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.nodes[cycle[i]].Name)
	}
	return out
}

type minHeap []int

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// computeDefHash hashes the declarative task definition: name, command argv
// vectors and per-command env, and declared outputs. All fields are
// length-prefixed; maps are visited in sorted key order.
func computeDefHash(t task.Task) DefHash {
	h := sha256.New()
	var len8 [8]byte
	writeField := func(data []byte) {
		binary.BigEndian.PutUint64(len8[:], uint64(len(data)))
		h.Write(len8[:])
		h.Write(data)
	}

	writeField([]byte(t.Name))

	writeField([]byte{byte(len(t.Commands))})
	for _, c := range t.Commands {
		writeField([]byte{byte(len(c.Argv))})
		for _, a := range c.Argv {
			writeField([]byte(a))
		}
		keys := make([]string, 0, len(c.Env))
		for k := range c.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeField([]byte{byte(len(keys))})
		for _, k := range keys {
			writeField([]byte(k))
			writeField([]byte(c.Env[k]))
		}
	}

	outputs := append([]string(nil), t.Outputs...)
	sort.Strings(outputs)
	writeField([]byte{byte(len(outputs))})
	for _, o := range outputs {
		writeField([]byte(o))
	}

	return DefHash(hex.EncodeToString(h.Sum(nil)))
}

func (g *Graph) computeGraphHash() GraphHash {
	h := sha256.New()
	var len8 [8]byte
	writeField := func(data []byte) {
		binary.BigEndian.PutUint64(len8[:], uint64(len(data)))
		h.Write(len8[:])
		h.Write(data)
	}

	writeField([]byte{byte(len(g.nodes))})
	for _, n := range g.nodes {
		writeField([]byte(n.DefinitionHash))
	}
	writeField([]byte{byte(len(g.edges))})
	var idx [4]byte
	for _, e := range g.edges {
		binary.BigEndian.PutUint32(idx[:], uint32(e.from))
		writeField(idx[:])
		binary.BigEndian.PutUint32(idx[:], uint32(e.to))
		writeField(idx[:])
	}
	return GraphHash(hex.EncodeToString(h.Sum(nil)))
}
