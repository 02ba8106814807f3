// Package task defines the fixed set of named pipeline tasks and the runner
// that executes them. Each task is an ordered list of tool invocations plus
// optional pre- and post-conditions; the first non-zero exit fails the task
// and skips its remaining commands.
package task

import (
	"context"

	"pipeforge/internal/core"
)

// Canonical task names. The set is fixed: the pipeline has no user-defined
// tasks.
const (
	CreateVenv          = "create_venv"
	InstallDependencies = "install_dependencies"
	UpdateDependencies  = "update_dependencies"
	Lint                = "lint"
	Typecheck           = "typecheck"
	TestUnit            = "test_unit"
	BuildPackage        = "build_package"
)

// Task is one named pipeline step.
type Task struct {
	// Name is the canonical task name.
	Name string

	// Summary is a one-line human description for CLI help and logs.
	Summary string

	// Commands run in order; the first non-zero exit aborts the task.
	Commands []core.Command

	// Outputs lists repository-relative artifacts the task produces on
	// success (collected by the artifact layer).
	Outputs []string

	// Mutates marks tasks that change the environment's installed set or
	// the lock files; such tasks hold the environment's exclusive lock.
	Mutates bool

	// NeedsEnv marks tasks that require an already-created environment.
	NeedsEnv bool

	// Pre validates preconditions before any command runs (e.g. lock
	// files parse). A Pre failure is a task failure, not an
	// infrastructure error.
	Pre func(ctx context.Context) error

	// Post verifies the task's outcome after all commands succeeded
	// (e.g. installed set matches the lock files). A Post failure fails
	// the task even though every tool exited zero.
	Post func(ctx context.Context, exec *core.Executor) error
}

// Result is the terminal outcome of one task.
type Result struct {
	Name     string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Failed reports whether the task ended non-zero.
func (r *Result) Failed() bool { return r.ExitCode != 0 }
