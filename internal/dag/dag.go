// Package dag is the deterministic execution engine for the fixed pipeline.
//
// It is split into:
//   - An immutable, validated graph definition (Graph): tasks plus
//     dependency structure plus a stable GraphHash invariant to insertion
//     order.
//   - Mutable execution state (ExecutionState) driven by an explicit state
//     machine with validated transitions.
//
// A failed task transitively skips every dependent; independent tasks are
// unaffected. Scheduling order is a pure function of the graph and the
// state, never of timing.
package dag

import "pipeforge/internal/task"

// GraphHash is the stable identity of a Graph, computed solely from task
// definition content and canonicalized dependency structure.
type GraphHash string

func (h GraphHash) String() string { return string(h) }

// DefHash is the deterministic identity of a single task definition.
type DefHash string

func (h DefHash) String() string { return string(h) }

// Edge is a dependency relation: To runs only after From completed
// successfully.
type Edge struct {
	From string
	To   string
}

// Node is an immutable graph node. Name addresses edges; the graph hash
// derives from the definition hash and the canonical edge structure.
type Node struct {
	Name           string
	Task           task.Task
	DefinitionHash DefHash

	canonicalIndex int
}

// CanonicalIndex is the node's deterministic position in the graph's
// canonical ordering.
func (n *Node) CanonicalIndex() int { return n.canonicalIndex }
