// Package pipeline wires the fixed task pipeline into an executable graph.
//
// The shape never varies: environment creation feeds dependency
// installation, which gates the four verification and packaging tasks.
// update_dependencies is a maintenance operation invoked on its own and is
// not part of the pipeline graph.
package pipeline

import (
	"context"

	"pipeforge/internal/dag"
	"pipeforge/internal/task"
)

// Build assembles the validated pipeline graph for one toolchain.
func Build(tc *task.Toolchain) (*dag.Graph, error) {
	tasks := []task.Task{
		tc.TaskCreateVenv(),
		tc.TaskInstallDependencies(),
		tc.TaskLint(),
		tc.TaskTypecheck(),
		tc.TaskTestUnit(),
		tc.TaskBuildPackage(),
	}
	edges := []dag.Edge{
		{From: task.CreateVenv, To: task.InstallDependencies},
		{From: task.InstallDependencies, To: task.Lint},
		{From: task.InstallDependencies, To: task.Typecheck},
		{From: task.InstallDependencies, To: task.TestUnit},
		{From: task.InstallDependencies, To: task.BuildPackage},
	}
	return dag.New(tasks, edges)
}

// Execute runs g with runner. Concurrency above one enables depth-staged
// parallel dispatch, which only ever overlaps the independent verification
// tasks; the mutating setup tasks sit alone in their depth stages.
func Execute(ctx context.Context, g *dag.Graph, runner dag.TaskRunner, concurrency int) (*dag.GraphResult, error) {
	ex, err := dag.NewExecutor(g, runner)
	if err != nil {
		return nil, err
	}
	if concurrency > 1 {
		return ex.RunParallel(ctx, concurrency)
	}
	return ex.RunSerial(ctx)
}
