package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pipeforge/internal/config"
	"pipeforge/internal/core"
	"pipeforge/internal/lockfile"
	"pipeforge/internal/platform"
	"pipeforge/internal/pyenv"
)

// Toolchain binds a project layout to a concrete environment handle and
// platform adapter. All task definitions are derived from it, so the same
// toolchain always yields the same commands.
type Toolchain struct {
	// WorkDir is the absolute project root.
	WorkDir string

	// Project is the loaded project layout.
	Project config.Project

	// Env is the isolated environment handle tasks operate on.
	Env *pyenv.Env

	// Adapter is the host platform adapter.
	Adapter platform.Adapter

	// PythonVersion overrides Project.Python.Version when non-empty
	// (used by matrix entries).
	PythonVersion string
}

// NewToolchain validates and builds a toolchain.
func NewToolchain(workDir string, project config.Project, env *pyenv.Env, adapter platform.Adapter) (*Toolchain, error) {
	if !filepath.IsAbs(workDir) {
		return nil, fmt.Errorf("workdir must be absolute (got %q)", workDir)
	}
	if env == nil {
		return nil, fmt.Errorf("nil environment")
	}
	if adapter == nil {
		return nil, fmt.Errorf("nil adapter")
	}
	return &Toolchain{WorkDir: workDir, Project: project, Env: env, Adapter: adapter}, nil
}

func (tc *Toolchain) pythonVersion() string {
	if tc.PythonVersion != "" {
		return tc.PythonVersion
	}
	return tc.Project.Python.Version
}

// envPython returns the environment interpreter's argv prefix.
func (tc *Toolchain) envPython(args ...string) core.Command {
	return core.Command{Argv: append([]string{tc.Env.Interpreter()}, args...)}
}

// ExecEnv builds the complete child environment: an allowlisted slice of the
// host environment with activation layered on top. Host variables outside
// the allowlist are never visible to tools.
func (tc *Toolchain) ExecEnv() []string {
	return tc.Env.Activate(essentialHostEnv(os.Environ()))
}

// essentialHostEnv filters the host environment down to the variables the
// toolchain genuinely needs (binary lookup, temp files, locale).
func essentialHostEnv(hostEnv []string) []string {
	allowed := map[string]bool{
		"PATH": true, "HOME": true, "LANG": true, "LC_ALL": true,
		"TMPDIR": true, "TEMP": true, "TMP": true,
		// Windows essentials
		"USERPROFILE": true, "LOCALAPPDATA": true, "SYSTEMROOT": true,
		"PATHEXT": true, "COMSPEC": true,
	}
	out := make([]string, 0, len(hostEnv))
	for _, kv := range hostEnv {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if allowed[strings.ToUpper(name)] {
			out = append(out, kv)
		}
	}
	return out
}

// All returns every task in canonical pipeline order.
func (tc *Toolchain) All() []Task {
	return []Task{
		tc.TaskCreateVenv(),
		tc.TaskInstallDependencies(),
		tc.TaskUpdateDependencies(),
		tc.TaskLint(),
		tc.TaskTypecheck(),
		tc.TaskTestUnit(),
		tc.TaskBuildPackage(),
	}
}

// ByName resolves a canonical task name.
func (tc *Toolchain) ByName(name string) (Task, error) {
	for _, t := range tc.All() {
		if t.Name == name {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("unknown task %q", name)
}

// TaskCreateVenv creates a fresh isolated environment for the configured
// interpreter version and installs the locking and build tooling into it.
// --clear guarantees a clean slate when the environment already exists.
func (tc *Toolchain) TaskCreateVenv() Task {
	base := tc.Adapter.BaseInterpreter(tc.pythonVersion())
	return Task{
		Name:    CreateVenv,
		Summary: "create an isolated environment and install the dependency tooling",
		Commands: []core.Command{
			{Argv: append(append([]string{}, base...), "-m", "venv", "--clear", tc.Env.Root)},
			tc.envPython("-m", "pip", "install", "pip-tools", "build"),
		},
		Mutates: true,
	}
}

// TaskInstallDependencies strict-syncs the environment to the two lock
// files: everything listed is installed at its pinned version, anything not
// listed is removed. The post-condition re-reads the installed set and
// fails the task on any deviation.
func (tc *Toolchain) TaskInstallDependencies() Task {
	lock := tc.abs(tc.Project.Paths.Lock)
	devLock := tc.abs(tc.Project.Paths.DevLock)
	return Task{
		Name:    InstallDependencies,
		Summary: "sync the environment to the lock files exactly",
		Commands: []core.Command{
			tc.envPython("-m", "piptools", "sync", lock, devLock),
		},
		Mutates:  true,
		NeedsEnv: true,
		Pre: func(ctx context.Context) error {
			if _, err := lockfile.ParseFile(lock); err != nil {
				return err
			}
			if _, err := lockfile.ParseFile(devLock); err != nil {
				return err
			}
			return nil
		},
		Post: func(ctx context.Context, exec *core.Executor) error {
			return tc.verifySynced(ctx, exec, lock, devLock)
		},
	}
}

// verifySynced compares pip freeze output against the union of the lock
// files.
func (tc *Toolchain) verifySynced(ctx context.Context, exec *core.Executor, lockPaths ...string) error {
	sets := make([]lockfile.Set, 0, len(lockPaths))
	for _, p := range lockPaths {
		s, err := lockfile.ParseFile(p)
		if err != nil {
			return err
		}
		sets = append(sets, s)
	}
	locked, err := lockfile.Union(sets...)
	if err != nil {
		return err
	}

	res, err := exec.Run(ctx, tc.envPython("-m", "pip", "freeze"))
	if err != nil {
		return fmt.Errorf("read installed set: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("read installed set: pip freeze exited %d: %s", res.ExitCode, res.Stderr)
	}
	installed, err := lockfile.Parse(strings.NewReader(string(res.Stdout)))
	if err != nil {
		return fmt.Errorf("parse installed set: %w", err)
	}

	if d := lockfile.Compare(locked, installed); !d.InSync() {
		return fmt.Errorf("environment out of sync with lock files: %s", d)
	}
	return nil
}

// TaskUpdateDependencies recompiles both lock files from the manifest,
// resolving version ranges to exact pins. Deterministic for a fixed
// manifest and package index; changes over time by design.
func (tc *Toolchain) TaskUpdateDependencies() Task {
	manifest := tc.abs(tc.Project.Paths.Manifest)
	return Task{
		Name:    UpdateDependencies,
		Summary: "recompile the lock files from the project manifest",
		Commands: []core.Command{
			tc.envPython("-m", "piptools", "compile",
				"--output-file", tc.abs(tc.Project.Paths.Lock), manifest),
			tc.envPython("-m", "piptools", "compile", "--extra", "dev",
				"--output-file", tc.abs(tc.Project.Paths.DevLock), manifest),
		},
		Outputs:  []string{tc.Project.Paths.Lock, tc.Project.Paths.DevLock},
		Mutates:  true,
		NeedsEnv: true,
		Pre: func(ctx context.Context) error {
			return tc.requireFile(manifest, "project manifest")
		},
	}
}

// TaskLint runs static style analysis over the source and test trees.
func (tc *Toolchain) TaskLint() Task {
	argv := []string{"-m", "flake8"}
	argv = append(argv, tc.toolArgs(tc.Project.Tools.Flake8)...)
	argv = append(argv, tc.checkedTrees()...)
	return Task{
		Name:     Lint,
		Summary:  "run style analysis over the source and test trees",
		Commands: []core.Command{tc.envPython(argv...)},
		NeedsEnv: true,
	}
}

// TaskTypecheck runs static type analysis over the source and test trees.
func (tc *Toolchain) TaskTypecheck() Task {
	argv := []string{"-m", "mypy"}
	argv = append(argv, tc.toolArgs(tc.Project.Tools.Mypy)...)
	argv = append(argv, tc.checkedTrees()...)
	return Task{
		Name:     Typecheck,
		Summary:  "run type analysis over the source and test trees",
		Commands: []core.Command{tc.envPython(argv...)},
		NeedsEnv: true,
	}
}

// TaskTestUnit executes the unit-test suite with the source tree importable
// and a machine-readable JUnit report as a side effect.
func (tc *Toolchain) TaskTestUnit() Task {
	report := tc.abs(tc.Project.Paths.JUnitReport)
	argv := []string{"-m", "pytest"}
	argv = append(argv, tc.toolArgs(tc.Project.Tools.Pytest)...)
	argv = append(argv, "--junitxml", report, tc.abs(tc.Project.Paths.Tests))

	srcPaths := make([]string, 0, len(tc.Project.Paths.Sources))
	for _, s := range tc.Project.Paths.Sources {
		srcPaths = append(srcPaths, tc.abs(s))
	}

	return Task{
		Name:    TestUnit,
		Summary: "run the unit-test suite and write a JUnit report",
		Commands: []core.Command{{
			Argv: append([]string{tc.Env.Interpreter()}, argv...),
			Env:  map[string]string{"PYTHONPATH": strings.Join(srcPaths, string(os.PathListSeparator))},
		}},
		Outputs:  []string{tc.Project.Paths.JUnitReport},
		NeedsEnv: true,
		Pre: func(ctx context.Context) error {
			return os.MkdirAll(filepath.Dir(report), 0o755)
		},
	}
}

// TaskBuildPackage produces sdist and wheel artifacts into the dist
// directory.
func (tc *Toolchain) TaskBuildPackage() Task {
	manifest := tc.abs(tc.Project.Paths.Manifest)
	return Task{
		Name:    BuildPackage,
		Summary: "build distributable package artifacts",
		Commands: []core.Command{
			tc.envPython("-m", "build", "--outdir", tc.abs(tc.Project.Paths.Dist), tc.WorkDir),
		},
		Outputs:  []string{tc.Project.Paths.Dist},
		NeedsEnv: true,
		Pre: func(ctx context.Context) error {
			return tc.requireFile(manifest, "project manifest")
		},
	}
}

// checkedTrees returns the absolute source and test trees scanned by lint
// and typecheck. Both adapters see identical logical paths.
func (tc *Toolchain) checkedTrees() []string {
	out := make([]string, 0, len(tc.Project.Paths.Sources)+1)
	for _, s := range tc.Project.Paths.Sources {
		out = append(out, tc.abs(s))
	}
	return append(out, tc.abs(tc.Project.Paths.Tests))
}

// toolArgs parses a shell-style extra-arguments string from the project
// file. Invalid strings are caught at project load, so a parse failure here
// degrades to no extra arguments.
func (tc *Toolchain) toolArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	cmd, err := core.ParseCommand(raw)
	if err != nil {
		return nil
	}
	return cmd.Argv
}

func (tc *Toolchain) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Clean(filepath.Join(tc.WorkDir, rel))
}

func (tc *Toolchain) requireFile(path, what string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s not found: %s", what, path)
		}
		return fmt.Errorf("stat %s: %w", what, err)
	}
	return nil
}
