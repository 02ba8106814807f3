package dag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pipeforge/internal/task"
)

// TaskRunner executes a single task.
//
// Tool failures are carried inside the Result's exit code; a non-nil error
// means an infrastructure problem (locking, missing environment) that aborts
// the whole graph.
type TaskRunner interface {
	Run(ctx context.Context, t task.Task) (*task.Result, error)
}

// Executor executes a Graph deterministically, serially or with depth-staged
// parallelism. A fresh Executor is built per execution attempt.
type Executor struct {
	Graph  *Graph
	Runner TaskRunner

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with all nodes initialized to PENDING.
func NewExecutor(g *Graph, runner TaskRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	return &Executor{Graph: g, Runner: runner, state: NewExecutionState(g)}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// RunSerial executes the graph one task at a time. The next task is always
// the first element of the scheduler's ordered list, so the execution order
// is a pure function of the graph and the observed exit codes.
func (e *Executor) RunSerial(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	order := make([]string, 0, len(e.Graph.nodes))
	results := make(map[string]*task.Result, len(e.Graph.nodes))

	for {
		e.mu.Lock()
		ready := GetReadyTasks(e.Graph, e.state)

		if len(ready) == 0 {
			// No runnable tasks: either finished, or deadlocked due to
			// inconsistent state.
			allTerminal := true
			for _, st := range e.state {
				if !IsTerminal(st) {
					allTerminal = false
					break
				}
			}
			e.mu.Unlock()

			if allTerminal {
				return &GraphResult{
					GraphHash:      e.Graph.Hash(),
					FinalState:     e.StateSnapshot(),
					ExecutionOrder: order,
					Results:        results,
				}, nil
			}
			return nil, fmt.Errorf("no ready tasks but graph not finished")
		}

		next := ready[0]
		t := e.Graph.nodesByName[next].Task
		if err := Transition(e.state, next, TaskPending, TaskRunning); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()

		res, err := e.Runner.Run(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("executing %q: %w", next, err)
		}
		if res == nil {
			return nil, fmt.Errorf("executing %q: nil result", next)
		}

		e.mu.Lock()
		order = append(order, next)
		results[next] = res

		if res.Failed() {
			if err := FailAndPropagate(e.Graph, e.state, next); err != nil {
				e.mu.Unlock()
				return nil, err
			}
		} else {
			if err := Transition(e.state, next, TaskRunning, TaskCompleted); err != nil {
				e.mu.Unlock()
				return nil, err
			}
		}
		e.mu.Unlock()
	}
}

type workItem struct {
	name string
	task task.Task
}

type workResult struct {
	name   string
	result *task.Result
	err    error
}

// RunParallel executes the graph with up to concurrency workers.
//
// Dispatch is depth-staged: tasks are handed out in increasing topological
// depth, lexically by name within a depth. Completion order within a stage
// may vary, but the dispatched set and the final states never do.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	maxDepth := 0
	for _, d := range e.Graph.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	byDepth := make([][]string, maxDepth+1)
	for _, n := range e.Graph.nodes {
		d := e.Graph.depth[n.canonicalIndex]
		byDepth[d] = append(byDepth[d], n.Name)
	}
	for d := range byDepth {
		sort.Strings(byDepth[d])
	}

	workCh := make(chan workItem, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res, err := e.Runner.Run(ctx, w.task)
				doneCh <- workResult{name: w.name, result: res, err: err}
			}
		}()
	}

	order := make([]string, 0, len(e.Graph.nodes))
	results := make(map[string]*task.Result, len(e.Graph.nodes))
	inFlight := 0

	depsSatisfied := func(idx int) bool {
		for _, p := range e.Graph.incoming[idx] {
			if !IsSuccessful(e.state[e.Graph.nodes[p].Name]) {
				return false
			}
		}
		return true
	}

	for depth := 0; depth <= maxDepth; depth++ {
		names := byDepth[depth]
		nextToStart := 0

		for {
			e.mu.Lock()
			for inFlight < concurrency && nextToStart < len(names) {
				name := names[nextToStart]
				node := e.Graph.nodesByName[name]
				st := e.state[name]

				// Skipped by an earlier failure; never execute.
				if IsTerminal(st) {
					nextToStart++
					continue
				}
				if st != TaskPending {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("unexpected non-pending state for %q: %s", name, st)
				}
				if !depsSatisfied(node.canonicalIndex) {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("task %q at depth %d is pending but dependencies are not successful", name, depth)
				}

				if err := Transition(e.state, name, TaskPending, TaskRunning); err != nil {
					e.mu.Unlock()
					stopWorkers()
					return nil, err
				}
				order = append(order, name)
				inFlight++
				nextToStart++
				workCh <- workItem{name: name, task: node.Task}
			}

			stageDone := nextToStart >= len(names) && inFlight == 0
			e.mu.Unlock()
			if stageDone {
				break
			}

			select {
			case <-ctx.Done():
				stopWorkers()
				return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
			case r := <-doneCh:
				if r.err != nil {
					stopWorkers()
					return nil, fmt.Errorf("executing %q: %w", r.name, r.err)
				}
				if r.result == nil {
					stopWorkers()
					return nil, fmt.Errorf("executing %q: nil result", r.name)
				}

				e.mu.Lock()
				if cur := e.state[r.name]; cur != TaskRunning {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("completion for %q but state is %s", r.name, cur)
				}
				results[r.name] = r.result

				if r.result.Failed() {
					if err := FailAndPropagate(e.Graph, e.state, r.name); err != nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, err
					}
				} else {
					if err := Transition(e.state, r.name, TaskRunning, TaskCompleted); err != nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, err
					}
				}
				inFlight--
				e.mu.Unlock()
			}
		}
	}

	stopWorkers()

	return &GraphResult{
		GraphHash:      e.Graph.Hash(),
		FinalState:     e.StateSnapshot(),
		ExecutionOrder: order,
		Results:        results,
	}, nil
}
