package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeforge/internal/config"
	"pipeforge/internal/dag"
	"pipeforge/internal/platform"
	"pipeforge/internal/pyenv"
	"pipeforge/internal/task"
)

func newToolchain(t *testing.T) *task.Toolchain {
	t.Helper()
	adapter, err := platform.Select("linux")
	require.NoError(t, err)

	workDir := t.TempDir()
	env, err := pyenv.New(filepath.Join(workDir, ".venv"), adapter)
	require.NoError(t, err)

	project := config.DefaultProject()
	project.Python.Version = "3.11"

	tc, err := task.NewToolchain(workDir, project, env, adapter)
	require.NoError(t, err)
	return tc
}

type stubRunner struct {
	fail map[string]int
	ran  []string
}

func (s *stubRunner) Run(_ context.Context, t task.Task) (*task.Result, error) {
	s.ran = append(s.ran, t.Name)
	return &task.Result{Name: t.Name, ExitCode: s.fail[t.Name]}, nil
}

func TestBuild_ShapeAndDepths(t *testing.T) {
	g, err := Build(newToolchain(t))
	require.NoError(t, err)

	require.Len(t, g.Nodes(), 6)
	_, hasUpdate := g.Node(task.UpdateDependencies)
	assert.False(t, hasUpdate, "update_dependencies is not part of the pipeline")

	wantDepth := map[string]int{
		task.CreateVenv:          0,
		task.InstallDependencies: 1,
		task.Lint:                2,
		task.Typecheck:           2,
		task.TestUnit:            2,
		task.BuildPackage:        2,
	}
	for name, want := range wantDepth {
		got, ok := g.Depth(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
}

func TestBuild_StableHashForSameToolchain(t *testing.T) {
	tc := newToolchain(t)
	g1, err := Build(tc)
	require.NoError(t, err)
	g2, err := Build(tc)
	require.NoError(t, err)
	assert.Equal(t, g1.Hash(), g2.Hash())
}

func TestExecute_SerialRunsFullPipelineInOrder(t *testing.T) {
	g, err := Build(newToolchain(t))
	require.NoError(t, err)

	runner := &stubRunner{}
	res, err := Execute(context.Background(), g, runner, 1)
	require.NoError(t, err)

	assert.True(t, res.Succeeded())
	assert.Equal(t, []string{
		task.CreateVenv, task.InstallDependencies, task.BuildPackage,
		task.Lint, task.TestUnit, task.Typecheck,
	}, runner.ran, "setup first, then verification stage in name order")
}

func TestExecute_InstallFailureSkipsVerificationStage(t *testing.T) {
	g, err := Build(newToolchain(t))
	require.NoError(t, err)

	runner := &stubRunner{fail: map[string]int{task.InstallDependencies: 1}}
	res, err := Execute(context.Background(), g, runner, 1)
	require.NoError(t, err)

	assert.False(t, res.Succeeded())
	assert.Equal(t, []string{task.InstallDependencies}, res.Failed())
	assert.ElementsMatch(t,
		[]string{task.Lint, task.Typecheck, task.TestUnit, task.BuildPackage},
		res.Skipped())
	assert.Equal(t, dag.TaskCompleted, res.FinalState[task.CreateVenv])
}

func TestExecute_ParallelMatchesSerialOutcome(t *testing.T) {
	tc := newToolchain(t)

	g1, err := Build(tc)
	require.NoError(t, err)
	sres, err := Execute(context.Background(), g1, &stubRunner{}, 1)
	require.NoError(t, err)

	g2, err := Build(tc)
	require.NoError(t, err)
	pres, err := Execute(context.Background(), g2, &stubRunner{}, 4)
	require.NoError(t, err)

	assert.Equal(t, sres.FinalState, pres.FinalState)
	assert.Equal(t, sres.GraphHash, pres.GraphHash)
}
