package dag

import (
	"sort"

	"pipeforge/internal/task"
)

// GraphResult is the deterministic summary of one graph execution attempt:
// the final per-node states plus the observed start order, which tests use
// to prove determinism.
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// ExecutionOrder lists tasks in the order they transitioned to RUNNING.
	ExecutionOrder []string

	// Results holds the per-task outcome for every task that ran.
	// Skipped tasks have no entry.
	Results map[string]*task.Result
}

// Succeeded reports whether every node finished COMPLETED.
func (r *GraphResult) Succeeded() bool {
	for _, st := range r.FinalState {
		if st != TaskCompleted {
			return false
		}
	}
	return true
}

// Failed returns the names of FAILED tasks, sorted.
func (r *GraphResult) Failed() []string {
	var out []string
	for name, st := range r.FinalState {
		if st == TaskFailed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Skipped returns the names of SKIPPED tasks, sorted.
func (r *GraphResult) Skipped() []string {
	var out []string
	for name, st := range r.FinalState {
		if st == TaskSkipped {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
