package pyenv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeforge/internal/platform"
)

func posix(t *testing.T) platform.Adapter {
	t.Helper()
	a, err := platform.Select("linux")
	require.NoError(t, err)
	return a
}

func TestNew_RequiresAbsoluteRoot(t *testing.T) {
	_, err := New(".venv", posix(t))
	require.Error(t, err)
}

func TestExistsAndRequireCreated(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".venv")
	env, err := New(root, posix(t))
	require.NoError(t, err)

	assert.False(t, env.Exists())
	assert.ErrorIs(t, env.RequireCreated(), ErrNotCreated)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(env.Interpreter(), []byte("#!stub"), 0o755))

	assert.True(t, env.Exists())
	assert.NoError(t, env.RequireCreated())
}

func TestActivate_SkipsWhenAlreadyActive(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".venv")
	env, err := New(root, posix(t))
	require.NoError(t, err)

	base := []string{"PATH=/usr/bin", "VIRTUAL_ENV=" + root}
	got := env.Activate(base)
	assert.Equal(t, base, got)

	// distinct backing array: the handle never mutates caller state
	got[0] = "PATH=/changed"
	assert.Equal(t, "PATH=/usr/bin", base[0])
}

func TestActivate_AppliesAdapterActivation(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".venv")
	env, err := New(root, posix(t))
	require.NoError(t, err)

	got := env.Activate([]string{"PATH=/usr/bin"})
	assert.Contains(t, got, "VIRTUAL_ENV="+root)
}

func TestExclusive_BlocksSecondHolder(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".venv")
	env, err := New(root, posix(t))
	require.NoError(t, err)

	release, err := env.Exclusive(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = env.Exclusive(ctx)
	require.Error(t, err)

	release()

	release2, err := env.Exclusive(context.Background())
	require.NoError(t, err)
	release2()
}
