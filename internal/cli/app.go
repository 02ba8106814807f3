package cli

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"pipeforge/internal/config"
	"pipeforge/internal/dag"
	"pipeforge/internal/platform"
	"pipeforge/internal/pyenv"
	"pipeforge/internal/runstore"
	"pipeforge/internal/task"
)

// App binds one working directory to its loaded configuration, platform
// adapter and run store. All commands execute through it.
type App struct {
	WorkDir string
	Runtime config.Runtime
	Project config.Project
	Adapter platform.Adapter
	Log     *zap.Logger
	Store   *runstore.Store

	// Out and ErrOut receive live tool output.
	Out    io.Writer
	ErrOut io.Writer

	// NewTaskRunner builds the task runner for a toolchain. Swapped in
	// tests to avoid invoking real tools.
	NewTaskRunner func(tc *task.Toolchain) (dag.TaskRunner, error)
}

// NewApp resolves the working directory and loads runtime and project
// configuration. Configuration problems map to the config exit code.
func NewApp(workdirFlag string, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	workDir, err := config.WorkDir(workdirFlag)
	if err != nil {
		return nil, configErr(err)
	}
	rt, err := config.LoadRuntime(workDir)
	if err != nil {
		return nil, configErr(err)
	}
	project, err := config.LoadProject(config.ResolveDir(workDir, rt.ProjectFile))
	if err != nil {
		return nil, configErr(err)
	}
	adapter, err := platform.Host()
	if err != nil {
		return nil, err
	}
	store, err := runstore.NewStore(workDir)
	if err != nil {
		return nil, configErr(err)
	}

	a := &App{
		WorkDir: workDir,
		Runtime: rt,
		Project: project,
		Adapter: adapter,
		Log:     log,
		Store:   store,
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
	}
	a.NewTaskRunner = a.defaultTaskRunner
	return a, nil
}

func (a *App) defaultTaskRunner(tc *task.Toolchain) (dag.TaskRunner, error) {
	r, err := task.NewRunner(tc, a.Log)
	if err != nil {
		return nil, err
	}
	// Tool output streams through live; the captured copy still lands in
	// results and run records.
	r.Exec.Stdout = a.Out
	r.Exec.Stderr = a.ErrOut
	return r, nil
}

// Toolchain builds the toolchain for the configured environment directory.
// pythonVersion overrides the project default when non-empty.
func (a *App) Toolchain(pythonVersion string) (*task.Toolchain, error) {
	env, err := pyenv.New(config.ResolveDir(a.WorkDir, a.Runtime.EnvDir), a.Adapter)
	if err != nil {
		return nil, configErr(err)
	}
	tc, err := task.NewToolchain(a.WorkDir, a.Project, env, a.Adapter)
	if err != nil {
		return nil, configErr(err)
	}
	tc.PythonVersion = pythonVersion
	return tc, nil
}

// recovered converts a panic into the internal-error exit code. Run records
// written before the panic stay on disk.
func (a *App) recovered(code *int, err *error, runID string) {
	if r := recover(); r != nil {
		*code = ExitInternalError
		*err = fmt.Errorf("panic: %v", r)
		a.Log.Error("internal panic", zap.Any("panic", r))
		if runID != "" {
			_ = a.Store.SaveFailure(runID, runstore.Failure{
				Class:        runstore.FailureInternal,
				ErrorMessage: fmt.Sprintf("panic: %v", r),
			})
		}
	}
}

// recordInfraFailure finalizes a run record after an infrastructure error.
func (a *App) recordInfraFailure(run runstore.Run, err error) {
	run.Status = runstore.StatusError
	run.ExitCode = ExitCodeFor(err)
	_ = a.Store.SaveRun(run)
	_ = a.Store.SaveFailure(run.RunID, runstore.Failure{
		Class:        failureClass(err),
		ErrorMessage: err.Error(),
	})
}
