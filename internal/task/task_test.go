package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pipeforge/internal/config"
	"pipeforge/internal/core"
	"pipeforge/internal/lockfile"
	"pipeforge/internal/platform"
	"pipeforge/internal/pyenv"
)

func newToolchain(t *testing.T) *Toolchain {
	t.Helper()
	adapter, err := platform.Select("linux")
	require.NoError(t, err)

	workDir := t.TempDir()
	env, err := pyenv.New(filepath.Join(workDir, ".venv"), adapter)
	require.NoError(t, err)

	project := config.DefaultProject()
	project.Python.Version = "3.11"

	tc, err := NewToolchain(workDir, project, env, adapter)
	require.NoError(t, err)
	return tc
}

// stubInterpreter makes Env.Exists() true without a real Python install.
func stubInterpreter(t *testing.T, tc *Toolchain) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(tc.Env.Interpreter()), 0o755))
	require.NoError(t, os.WriteFile(tc.Env.Interpreter(), []byte("#!stub"), 0o755))
}

func TestAll_CanonicalOrderAndNames(t *testing.T) {
	tc := newToolchain(t)

	var names []string
	for _, task := range tc.All() {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{
		CreateVenv, InstallDependencies, UpdateDependencies,
		Lint, Typecheck, TestUnit, BuildPackage,
	}, names)
}

func TestByName_Unknown(t *testing.T) {
	tc := newToolchain(t)
	_, err := tc.ByName("deploy")
	require.Error(t, err)
}

func TestTaskCreateVenv_UsesVersionedInterpreter(t *testing.T) {
	tc := newToolchain(t)
	task := tc.TaskCreateVenv()

	require.Len(t, task.Commands, 2)
	assert.Equal(t,
		[]string{"python3.11", "-m", "venv", "--clear", tc.Env.Root},
		task.Commands[0].Argv)
	assert.Equal(t,
		[]string{tc.Env.Interpreter(), "-m", "pip", "install", "pip-tools", "build"},
		task.Commands[1].Argv)
	assert.True(t, task.Mutates)
	assert.False(t, task.NeedsEnv)
}

func TestTaskCreateVenv_MatrixVersionOverride(t *testing.T) {
	tc := newToolchain(t)
	tc.PythonVersion = "3.12"
	task := tc.TaskCreateVenv()
	assert.Equal(t, "python3.12", task.Commands[0].Argv[0])
}

func TestTaskInstallDependencies_PreRejectsMissingLockFile(t *testing.T) {
	tc := newToolchain(t)
	task := tc.TaskInstallDependencies()

	err := task.Pre(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrMissing)
}

func TestTaskInstallDependencies_PreRejectsMalformedLockFile(t *testing.T) {
	tc := newToolchain(t)
	writeFile(t, tc.WorkDir, tc.Project.Paths.Lock, "requests>=2.0\n")
	writeFile(t, tc.WorkDir, tc.Project.Paths.DevLock, "")

	err := tc.TaskInstallDependencies().Pre(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrMalformed)
}

func TestTaskInstallDependencies_PreAcceptsPinnedLockFiles(t *testing.T) {
	tc := newToolchain(t)
	writeFile(t, tc.WorkDir, tc.Project.Paths.Lock, "pika==1.3.2\n")
	writeFile(t, tc.WorkDir, tc.Project.Paths.DevLock, "pytest==8.1.1\n")

	require.NoError(t, tc.TaskInstallDependencies().Pre(context.Background()))
}

func TestTaskLint_ScansSourceAndTestTrees(t *testing.T) {
	tc := newToolchain(t)
	task := tc.TaskLint()

	require.Len(t, task.Commands, 1)
	argv := task.Commands[0].Argv
	assert.Equal(t, tc.Env.Interpreter(), argv[0])
	assert.Contains(t, argv, filepath.Join(tc.WorkDir, "src"))
	assert.Contains(t, argv, filepath.Join(tc.WorkDir, "unit_test"))
}

func TestTaskLint_ExtraToolArgs(t *testing.T) {
	tc := newToolchain(t)
	tc.Project.Tools.Flake8 = "--max-line-length 100"
	argv := tc.TaskLint().Commands[0].Argv
	assert.Contains(t, argv, "--max-line-length")
	assert.Contains(t, argv, "100")
}

func TestTaskTestUnit_MakesSourcesImportable(t *testing.T) {
	tc := newToolchain(t)
	task := tc.TaskTestUnit()

	require.Len(t, task.Commands, 1)
	cmd := task.Commands[0]
	assert.Equal(t, filepath.Join(tc.WorkDir, "src"), cmd.Env["PYTHONPATH"])
	assert.Contains(t, cmd.Argv, "--junitxml")
	assert.Contains(t, cmd.Argv, filepath.Join(tc.WorkDir, "build/junit.xml"))
	assert.Equal(t, []string{"build/junit.xml"}, task.Outputs)
}

func TestTaskBuildPackage_PreRequiresManifest(t *testing.T) {
	tc := newToolchain(t)
	task := tc.TaskBuildPackage()

	require.Error(t, task.Pre(context.Background()))

	writeFile(t, tc.WorkDir, "pyproject.toml", "[project]\nname = \"sdk\"\n")
	require.NoError(t, task.Pre(context.Background()))
}

func TestRunner_NeedsEnvWithoutEnvironment(t *testing.T) {
	tc := newToolchain(t)
	r, err := NewRunner(tc, zap.NewNop())
	require.NoError(t, err)

	_, err = r.Run(context.Background(), tc.TaskLint())
	require.Error(t, err)
	assert.ErrorIs(t, err, pyenv.ErrNotCreated)
}

func TestRunner_StopsAtFirstFailingCommand(t *testing.T) {
	tc := newToolchain(t)
	r, err := NewRunner(tc, zap.NewNop())
	require.NoError(t, err)
	r.Exec = core.NewExecutor(tc.WorkDir, []string{"PATH=/usr/bin:/bin"})

	marker := filepath.Join(tc.WorkDir, "after-failure")
	res, err := r.Run(context.Background(), Task{
		Name: "synthetic",
		Commands: []core.Command{
			{Argv: []string{"sh", "-c", "echo first"}},
			{Argv: []string{"sh", "-c", "echo boom >&2; exit 2"}},
			{Argv: []string{"sh", "-c", "touch " + marker}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "first\n", string(res.Stdout))
	assert.Equal(t, "boom\n", string(res.Stderr))
	assert.NoFileExists(t, marker, "commands after a failure must not run")
}

func TestRunner_PreFailureIsTaskFailure(t *testing.T) {
	tc := newToolchain(t)
	r, err := NewRunner(tc, zap.NewNop())
	require.NoError(t, err)

	res, err := r.Run(context.Background(), Task{
		Name:     "synthetic",
		Commands: []core.Command{{Argv: []string{"sh", "-c", "true"}}},
		Pre:      func(context.Context) error { return assert.AnError },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, string(res.Stderr), assert.AnError.Error())
}

func TestRunner_PostFailureFailsSucceededTask(t *testing.T) {
	tc := newToolchain(t)
	r, err := NewRunner(tc, zap.NewNop())
	require.NoError(t, err)
	r.Exec = core.NewExecutor(tc.WorkDir, []string{"PATH=/usr/bin:/bin"})

	res, err := r.Run(context.Background(), Task{
		Name:     "synthetic",
		Commands: []core.Command{{Argv: []string{"sh", "-c", "true"}}},
		Post:     func(context.Context, *core.Executor) error { return assert.AnError },
	})
	require.NoError(t, err)
	assert.True(t, res.Failed())
}

func TestRunner_MissingToolIsTaskFailure(t *testing.T) {
	tc := newToolchain(t)
	r, err := NewRunner(tc, zap.NewNop())
	require.NoError(t, err)
	r.Exec = core.NewExecutor(tc.WorkDir, []string{"PATH=/nonexistent"})

	res, err := r.Run(context.Background(), Task{
		Name:     "synthetic",
		Commands: []core.Command{{Argv: []string{"no-such-interpreter"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)
	assert.Contains(t, string(res.Stderr), "no-such-interpreter")
}

func TestRunner_MutatingTaskHoldsEnvironmentLock(t *testing.T) {
	tc := newToolchain(t)
	stubInterpreter(t, tc)
	r, err := NewRunner(tc, zap.NewNop())
	require.NoError(t, err)
	r.Exec = core.NewExecutor(tc.WorkDir, []string{"PATH=/usr/bin:/bin"})

	res, err := r.Run(context.Background(), Task{
		Name:     "synthetic",
		Mutates:  true,
		NeedsEnv: true,
		Commands: []core.Command{{Argv: []string{"sh", "-c", "true"}}},
	})
	require.NoError(t, err)
	assert.False(t, res.Failed())

	// lock released after the run
	release, err := tc.Env.Exclusive(context.Background())
	require.NoError(t, err)
	release()
}

func TestEssentialHostEnv_Allowlist(t *testing.T) {
	got := essentialHostEnv([]string{
		"PATH=/usr/bin",
		"HOME=/home/u",
		"AWS_SECRET_ACCESS_KEY=hunter2",
		"LANG=C.UTF-8",
	})
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/home/u", "LANG=C.UTF-8"}, got)
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
