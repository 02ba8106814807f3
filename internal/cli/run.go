package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"pipeforge/internal/artifact"
	"pipeforge/internal/config"
	"pipeforge/internal/dag"
	"pipeforge/internal/matrix"
	"pipeforge/internal/pipeline"
	"pipeforge/internal/report"
	"pipeforge/internal/runstore"
	"pipeforge/internal/task"
	"pipeforge/internal/watch"
)

// RunTask executes a single named task and returns its semantic exit code.
func (a *App) RunTask(ctx context.Context, name string) (code int, err error) {
	runID := runstore.NewRunID()
	defer a.recovered(&code, &err, runID)

	tc, err := a.Toolchain("")
	if err != nil {
		return ExitCodeFor(err), err
	}
	t, err := tc.ByName(name)
	if err != nil {
		return ExitInvalidInvocation, invalidInvocationf("%v", err)
	}

	run := runstore.Run{
		RunID:         runID,
		Command:       name,
		StartTime:     time.Now().UTC(),
		PythonVersion: tc.Project.Python.Version,
		Status:        runstore.StatusRunning,
	}
	_ = a.Store.SaveRun(run)

	runner, err := a.NewTaskRunner(tc)
	if err != nil {
		a.recordInfraFailure(run, err)
		return ExitCodeFor(err), err
	}
	res, err := runner.Run(ctx, t)
	if err != nil {
		a.recordInfraFailure(run, err)
		return ExitCodeFor(err), err
	}

	run.Outcomes = map[string]runstore.TaskOutcome{
		name: {State: terminalState(res), ExitCode: res.ExitCode},
	}
	if res.Failed() {
		run.Status = runstore.StatusFailed
		run.ExitCode = ExitTaskFailure
		_ = a.Store.SaveRun(run)
		_ = a.Store.SaveFailure(runID, taskFailure(name, res))
		return ExitTaskFailure, nil
	}

	run.Status = runstore.StatusSucceeded
	_ = a.Store.SaveRun(run)
	if name == task.TestUnit {
		a.printTestTotals(tc)
	}
	return ExitSuccess, nil
}

// RunPipeline executes the fixed pipeline graph end to end, records the run
// and its canonical summary, and collects declared artifacts on success.
func (a *App) RunPipeline(ctx context.Context, parallel bool) (code int, err error) {
	runID := runstore.NewRunID()
	defer a.recovered(&code, &err, runID)

	tc, err := a.Toolchain("")
	if err != nil {
		return ExitCodeFor(err), err
	}
	g, err := pipeline.Build(tc)
	if err != nil {
		return ExitInternalError, err
	}

	run := runstore.Run{
		RunID:         runID,
		Command:       "run",
		GraphHash:     g.Hash().String(),
		StartTime:     time.Now().UTC(),
		PythonVersion: tc.Project.Python.Version,
		Status:        runstore.StatusRunning,
	}
	_ = a.Store.SaveRun(run)

	runner, err := a.NewTaskRunner(tc)
	if err != nil {
		a.recordInfraFailure(run, err)
		return ExitCodeFor(err), err
	}

	concurrency := 1
	if parallel {
		concurrency = a.Runtime.Concurrency
	}
	res, err := pipeline.Execute(ctx, g, runner, concurrency)
	if err != nil {
		a.recordInfraFailure(run, err)
		return ExitCodeFor(err), err
	}

	summary, err := report.Summarize(res)
	if err != nil {
		a.recordInfraFailure(run, err)
		return ExitInternalError, err
	}
	canonical, err := summary.CanonicalJSON()
	if err == nil {
		_ = a.Store.SaveSummary(runID, canonical)
		run.SummaryHash, _ = summary.Hash()
	}

	run.Outcomes = outcomes(res)
	a.printOutcomes(res)

	if !res.Succeeded() {
		run.Status = runstore.StatusFailed
		run.ExitCode = ExitTaskFailure
		_ = a.Store.SaveRun(run)
		failed := res.Failed()[0]
		_ = a.Store.SaveFailure(runID, taskFailure(failed, res.Results[failed]))
		return ExitTaskFailure, nil
	}

	if err := a.collectArtifacts(g, res); err != nil {
		a.recordInfraFailure(run, err)
		return ExitInternalError, err
	}
	if res.FinalState[task.TestUnit] == dag.TaskCompleted {
		a.printTestTotals(tc)
	}

	run.Status = runstore.StatusSucceeded
	_ = a.Store.SaveRun(run)
	return ExitSuccess, nil
}

// RunMatrix runs the full pipeline once per declared interpreter version.
func (a *App) RunMatrix(ctx context.Context) (code int, err error) {
	runID := runstore.NewRunID()
	defer a.recovered(&code, &err, runID)

	mr, err := matrix.NewRunner(a.WorkDir, a.Project, a.Adapter, a.Log)
	if err != nil {
		return ExitCodeFor(err), err
	}
	mr.Concurrency = a.Runtime.Concurrency
	mr.NewTaskRunner = a.NewTaskRunner

	run := runstore.Run{
		RunID:     runID,
		Command:   "matrix",
		StartTime: time.Now().UTC(),
		Status:    runstore.StatusRunning,
	}
	_ = a.Store.SaveRun(run)

	res, err := mr.Run(ctx)
	if err != nil {
		a.recordInfraFailure(run, err)
		return ExitCodeFor(err), err
	}

	for _, entry := range res.Entries {
		a.recordMatrixEntry(runID, entry)
		switch {
		case entry.Err != nil:
			fmt.Fprintf(a.ErrOut, "python %s: error: %v\n", entry.Entry.PythonVersion, entry.Err)
		case entry.Succeeded():
			fmt.Fprintf(a.Out, "python %s: ok\n", entry.Entry.PythonVersion)
		default:
			fmt.Fprintf(a.ErrOut, "python %s: failed (%v)\n",
				entry.Entry.PythonVersion, entry.Result.Failed())
		}
	}

	for _, entry := range res.Entries {
		if entry.Err != nil {
			a.recordInfraFailure(run, entry.Err)
			return ExitCodeFor(entry.Err), entry.Err
		}
	}
	if !res.Succeeded() {
		run.Status = runstore.StatusFailed
		run.ExitCode = ExitTaskFailure
		_ = a.Store.SaveRun(run)
		return ExitTaskFailure, nil
	}
	run.Status = runstore.StatusSucceeded
	_ = a.Store.SaveRun(run)
	return ExitSuccess, nil
}

// Watch reruns lint and typecheck whenever the source or test trees change,
// until ctx is cancelled.
func (a *App) Watch(ctx context.Context) (int, error) {
	tc, err := a.Toolchain("")
	if err != nil {
		return ExitCodeFor(err), err
	}
	runner, err := a.NewTaskRunner(tc)
	if err != nil {
		return ExitCodeFor(err), err
	}

	dirs := make([]string, 0, len(a.Project.Paths.Sources)+1)
	for _, s := range a.Project.Paths.Sources {
		dirs = append(dirs, config.ResolveDir(a.WorkDir, s))
	}
	dirs = append(dirs, config.ResolveDir(a.WorkDir, a.Project.Paths.Tests))

	w, err := watch.New(dirs, a.Log, func(ctx context.Context) error {
		for _, t := range []task.Task{tc.TaskLint(), tc.TaskTypecheck()} {
			res, err := runner.Run(ctx, t)
			if err != nil {
				return err
			}
			if res.Failed() {
				return fmt.Errorf("%s exited %d", t.Name, res.ExitCode)
			}
		}
		return nil
	})
	if err != nil {
		return ExitCodeFor(configErr(err)), configErr(err)
	}

	if err := w.Run(ctx); err != nil {
		return ExitInternalError, err
	}
	return ExitSuccess, nil
}

// collectArtifacts gathers declared outputs of completed tasks into the
// output directory.
func (a *App) collectArtifacts(g *dag.Graph, res *dag.GraphResult) error {
	var outputs []string
	for _, n := range g.Nodes() {
		if res.FinalState[n.Name] != dag.TaskCompleted {
			continue
		}
		outputs = append(outputs, n.Task.Outputs...)
	}
	if len(outputs) == 0 {
		return nil
	}
	sort.Strings(outputs)

	c, err := artifact.NewCollector(a.WorkDir, a.Runtime.OutputDir)
	if err != nil {
		return err
	}
	m, err := c.Collect(outputs)
	if err != nil {
		return err
	}
	a.Log.Info("artifacts collected", zap.Int("files", len(m.Entries)), zap.String("dir", c.OutputDir))
	return c.WriteManifest(m)
}

func (a *App) printOutcomes(res *dag.GraphResult) {
	names := make([]string, 0, len(res.FinalState))
	for name := range res.FinalState {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := res.FinalState[name]
		if r, ok := res.Results[name]; ok && st == dag.TaskFailed {
			fmt.Fprintf(a.ErrOut, "%-22s %s (exit %d)\n", name, st, r.ExitCode)
			continue
		}
		fmt.Fprintf(a.Out, "%-22s %s\n", name, st)
	}
}

// printTestTotals reads the JUnit report test_unit just wrote and prints the
// aggregate counts. A missing or stale report is only logged; the tool's exit
// code already decided the outcome.
func (a *App) printTestTotals(tc *task.Toolchain) {
	path := config.ResolveDir(a.WorkDir, tc.Project.Paths.JUnitReport)
	r, err := report.ParseJUnitFile(path)
	if err != nil {
		a.Log.Warn("junit report unreadable", zap.String("path", path), zap.Error(err))
		return
	}
	fmt.Fprintf(a.Out, "tests: %d run, %d failed, %d errored, %d skipped\n",
		r.Tests, r.Failures, r.Errors, r.Skipped)
}

func (a *App) recordMatrixEntry(parentID string, entry matrix.EntryResult) {
	run := runstore.Run{
		RunID:         parentID + "-py" + entry.Entry.PythonVersion,
		Command:       "matrix",
		StartTime:     time.Now().UTC(),
		PythonVersion: entry.Entry.PythonVersion,
	}
	switch {
	case entry.Err != nil:
		run.Status = runstore.StatusError
		run.ExitCode = ExitCodeFor(entry.Err)
	case entry.Succeeded():
		run.Status = runstore.StatusSucceeded
		run.GraphHash = entry.Result.GraphHash.String()
		run.Outcomes = outcomes(entry.Result)
	default:
		run.Status = runstore.StatusFailed
		run.ExitCode = ExitTaskFailure
		run.GraphHash = entry.Result.GraphHash.String()
		run.Outcomes = outcomes(entry.Result)
	}
	_ = a.Store.SaveRun(run)
}

func outcomes(res *dag.GraphResult) map[string]runstore.TaskOutcome {
	out := make(map[string]runstore.TaskOutcome, len(res.FinalState))
	for name, st := range res.FinalState {
		o := runstore.TaskOutcome{State: string(st)}
		if r, ok := res.Results[name]; ok {
			o.ExitCode = r.ExitCode
		}
		out[name] = o
	}
	return out
}

func terminalState(res *task.Result) string {
	if res.Failed() {
		return string(dag.TaskFailed)
	}
	return string(dag.TaskCompleted)
}

func taskFailure(name string, res *task.Result) runstore.Failure {
	msg := fmt.Sprintf("task %s exited %d", name, res.ExitCode)
	if len(res.Stderr) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, res.Stderr)
	}
	return runstore.Failure{
		Class:        runstore.FailureTask,
		TaskName:     &name,
		ErrorMessage: msg,
	}
}
