package matrix

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pipeforge/internal/config"
	"pipeforge/internal/dag"
	"pipeforge/internal/platform"
	"pipeforge/internal/task"
)

func newRunner(t *testing.T, versions ...string) *Runner {
	t.Helper()
	adapter, err := platform.Select("linux")
	require.NoError(t, err)

	project := config.DefaultProject()
	project.Python.Version = "3.11"
	project.Python.Matrix = versions

	r, err := NewRunner(t.TempDir(), project, adapter, zap.NewNop())
	require.NoError(t, err)
	return r
}

// recordingRunner succeeds every task and records which interpreter each
// toolchain targeted.
type recordingRunner struct {
	mu       sync.Mutex
	versions map[string][]string // version -> task names
	fail     map[string]string   // version -> task name to fail
}

func (rr *recordingRunner) runnerFor(version string) dag.TaskRunner {
	return &entryRunner{parent: rr, version: version}
}

type entryRunner struct {
	parent  *recordingRunner
	version string
}

func (er *entryRunner) Run(_ context.Context, t task.Task) (*task.Result, error) {
	er.parent.mu.Lock()
	er.parent.versions[er.version] = append(er.parent.versions[er.version], t.Name)
	er.parent.mu.Unlock()
	if er.parent.fail[er.version] == t.Name {
		return &task.Result{Name: t.Name, ExitCode: 1}, nil
	}
	return &task.Result{Name: t.Name, ExitCode: 0}, nil
}

func instrument(r *Runner, rr *recordingRunner) {
	r.NewTaskRunner = func(tc *task.Toolchain) (dag.TaskRunner, error) {
		return rr.runnerFor(tc.PythonVersion), nil
	}
}

func TestEntries_FromMatrix(t *testing.T) {
	r := newRunner(t, "3.10", "3.11", "3.12")
	entries, err := Entries(r.WorkDir, r.Project)
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, "3.10", entries[0].PythonVersion)
	assert.Equal(t, filepath.Join(r.WorkDir, ".venvs", "py3.10"), entries[0].EnvRoot)

	roots := map[string]bool{}
	for _, e := range entries {
		assert.False(t, roots[e.EnvRoot], "environment roots must be distinct")
		roots[e.EnvRoot] = true
	}
}

func TestEntries_EmptyMatrixFallsBackToConfiguredVersion(t *testing.T) {
	r := newRunner(t)
	entries, err := Entries(r.WorkDir, r.Project)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3.11", entries[0].PythonVersion)
}

func TestEntries_RejectsDuplicatesAndBlanks(t *testing.T) {
	r := newRunner(t, "3.11", "3.11")
	_, err := Entries(r.WorkDir, r.Project)
	require.Error(t, err)

	r = newRunner(t, "3.11", " ")
	_, err = Entries(r.WorkDir, r.Project)
	require.Error(t, err)
}

func TestRun_AllEntriesSucceed(t *testing.T) {
	r := newRunner(t, "3.10", "3.11")
	rr := &recordingRunner{versions: map[string][]string{}}
	instrument(r, rr)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Succeeded())
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "3.10", res.Entries[0].Entry.PythonVersion)
	assert.Len(t, rr.versions["3.10"], 6, "full pipeline per entry")
	assert.Len(t, rr.versions["3.11"], 6)
}

func TestRun_OneFailingEntryFailsAggregate(t *testing.T) {
	r := newRunner(t, "3.10", "3.11")
	rr := &recordingRunner{
		versions: map[string][]string{},
		fail:     map[string]string{"3.11": task.Lint},
	}
	instrument(r, rr)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Succeeded())
	assert.True(t, res.Entries[0].Succeeded())
	assert.False(t, res.Entries[1].Succeeded())
	assert.Equal(t, []string{task.Lint}, res.Entries[1].Result.Failed())

	// Entries stay isolated: the 3.10 pipeline ran to completion.
	assert.Len(t, rr.versions["3.10"], 6)
}

func TestRun_ConcurrentEntriesKeepDeclarationOrder(t *testing.T) {
	r := newRunner(t, "3.10", "3.11", "3.12")
	r.Concurrency = 3
	rr := &recordingRunner{versions: map[string][]string{}}
	instrument(r, rr)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	var order []string
	for _, e := range res.Entries {
		order = append(order, e.Entry.PythonVersion)
	}
	assert.Equal(t, []string{"3.10", "3.11", "3.12"}, order)
	assert.True(t, res.Succeeded())
}

func TestResult_EmptyIsNotSuccess(t *testing.T) {
	assert.False(t, (&Result{}).Succeeded())
}
