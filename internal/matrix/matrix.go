// Package matrix runs the full pipeline once per declared interpreter
// version. Entries are fully isolated: each gets its own environment root
// and its own graph execution, so no state leaks between versions.
package matrix

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pipeforge/internal/config"
	"pipeforge/internal/dag"
	"pipeforge/internal/pipeline"
	"pipeforge/internal/platform"
	"pipeforge/internal/pyenv"
	"pipeforge/internal/task"
)

// Entry is one matrix cell: an interpreter version bound to a dedicated
// environment root.
type Entry struct {
	PythonVersion string
	EnvRoot       string
}

// Entries derives the matrix from the project file. An empty matrix
// degenerates to the single configured version, so `matrix` and `run`
// agree on projects without one.
func Entries(workDir string, project config.Project) ([]Entry, error) {
	versions := project.Python.Matrix
	if len(versions) == 0 {
		versions = []string{project.Python.Version}
	}

	seen := make(map[string]bool, len(versions))
	entries := make([]Entry, 0, len(versions))
	for _, v := range versions {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, fmt.Errorf("empty interpreter version in matrix")
		}
		if seen[v] {
			return nil, fmt.Errorf("duplicate interpreter version in matrix: %s", v)
		}
		seen[v] = true
		entries = append(entries, Entry{
			PythonVersion: v,
			EnvRoot:       filepath.Join(workDir, ".venvs", "py"+v),
		})
	}
	return entries, nil
}

// EntryResult is one entry's outcome. Err carries infrastructure failures;
// task failures live inside Result.
type EntryResult struct {
	Entry  Entry
	Result *dag.GraphResult
	Err    error
}

// Succeeded reports whether the entry's pipeline ran clean.
func (r EntryResult) Succeeded() bool {
	return r.Err == nil && r.Result != nil && r.Result.Succeeded()
}

// Result aggregates every entry, in declaration order.
type Result struct {
	Entries []EntryResult
}

// Succeeded reports overall success: every entry must have succeeded.
func (r *Result) Succeeded() bool {
	if len(r.Entries) == 0 {
		return false
	}
	for _, e := range r.Entries {
		if !e.Succeeded() {
			return false
		}
	}
	return true
}

// Runner executes matrix entries. Concurrency bounds how many entries run
// at once; tasks within an entry always run serially because every entry
// shares the host interpreter cache and its own environment lock.
type Runner struct {
	WorkDir string
	Project config.Project
	Adapter platform.Adapter
	Log     *zap.Logger

	Concurrency int

	// NewTaskRunner builds the per-entry task runner. Swapped in tests to
	// avoid invoking real tools.
	NewTaskRunner func(tc *task.Toolchain) (dag.TaskRunner, error)
}

func NewRunner(workDir string, project config.Project, adapter platform.Adapter, log *zap.Logger) (*Runner, error) {
	if !filepath.IsAbs(workDir) {
		return nil, fmt.Errorf("workdir must be absolute (got %q)", workDir)
	}
	if adapter == nil {
		return nil, fmt.Errorf("nil adapter")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		WorkDir:     workDir,
		Project:     project,
		Adapter:     adapter,
		Log:         log,
		Concurrency: 1,
		NewTaskRunner: func(tc *task.Toolchain) (dag.TaskRunner, error) {
			return task.NewRunner(tc, log)
		},
	}, nil
}

// Run executes every entry and returns the aggregate. Entry failures do not
// stop other entries; only infrastructure errors constructing the matrix
// itself abort early.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	entries, err := Entries(r.WorkDir, r.Project)
	if err != nil {
		return nil, err
	}

	limit := r.Concurrency
	if limit <= 0 {
		limit = 1
	}

	results := make([]EntryResult, len(entries))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry Entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.runEntry(ctx, entry)
		}(i, entry)
	}
	wg.Wait()

	return &Result{Entries: results}, nil
}

func (r *Runner) runEntry(ctx context.Context, entry Entry) EntryResult {
	log := r.Log.With(zap.String("python_version", entry.PythonVersion))
	log.Info("matrix entry starting", zap.String("env_root", entry.EnvRoot))

	env, err := pyenv.New(entry.EnvRoot, r.Adapter)
	if err != nil {
		return EntryResult{Entry: entry, Err: err}
	}

	tc, err := task.NewToolchain(r.WorkDir, r.Project, env, r.Adapter)
	if err != nil {
		return EntryResult{Entry: entry, Err: err}
	}
	tc.PythonVersion = entry.PythonVersion

	g, err := pipeline.Build(tc)
	if err != nil {
		return EntryResult{Entry: entry, Err: err}
	}
	runner, err := r.NewTaskRunner(tc)
	if err != nil {
		return EntryResult{Entry: entry, Err: err}
	}

	res, err := pipeline.Execute(ctx, g, runner, 1)
	if err != nil {
		log.Warn("matrix entry aborted", zap.Error(err))
		return EntryResult{Entry: entry, Err: err}
	}

	if res.Succeeded() {
		log.Info("matrix entry succeeded")
	} else {
		log.Warn("matrix entry failed",
			zap.Strings("failed", res.Failed()),
			zap.Strings("skipped", res.Skipped()))
	}
	return EntryResult{Entry: entry, Result: res}
}
