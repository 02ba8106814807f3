package platform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_KnownPlatforms(t *testing.T) {
	for _, goos := range []string{"linux", "darwin", "freebsd"} {
		a, err := Select(goos)
		require.NoError(t, err, goos)
		assert.Equal(t, "posix", a.Name())
	}

	a, err := Select("windows")
	require.NoError(t, err)
	assert.Equal(t, "windows", a.Name())
}

func TestSelect_UnknownPlatformIsHardError(t *testing.T) {
	_, err := Select("plan9")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestBaseInterpreter_VersionSelection(t *testing.T) {
	posix, err := Select("linux")
	require.NoError(t, err)
	win, err := Select("windows")
	require.NoError(t, err)

	assert.Equal(t, []string{"python3.11"}, posix.BaseInterpreter("3.11"))
	assert.Equal(t, []string{"python3"}, posix.BaseInterpreter(""))
	assert.Equal(t, []string{"py", "-3.11"}, win.BaseInterpreter("3.11"))
	assert.Equal(t, []string{"py"}, win.BaseInterpreter(""))
}

func TestInterpreterLayout(t *testing.T) {
	posix, _ := Select("linux")
	win, _ := Select("windows")

	root := filepath.Join("work", ".venv")
	assert.Equal(t, filepath.Join(root, "bin", "python"), posix.Interpreter(root))
	assert.Equal(t, filepath.Join(root, "Scripts", "python.exe"), win.Interpreter(root))
}

func TestActivationEnv_PrependsScriptsAndSetsVirtualEnv(t *testing.T) {
	posix, _ := Select("linux")

	base := []string{"PATH=/usr/bin", "HOME=/home/u", "PYTHONHOME=/opt/py"}
	env := posix.ActivationEnv("/work/.venv", base)

	path, ok := lookupEnv(env, "PATH")
	require.True(t, ok)
	assert.Equal(t, "/work/.venv/bin:/usr/bin", path)

	venv, ok := lookupEnv(env, "VIRTUAL_ENV")
	require.True(t, ok)
	assert.Equal(t, "/work/.venv", venv)

	_, ok = lookupEnv(env, "PYTHONHOME")
	assert.False(t, ok, "PYTHONHOME must be dropped on activation")

	// base must not be mutated
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/home/u", "PYTHONHOME=/opt/py"}, base)
}

func TestActivationEnv_EmptyBasePath(t *testing.T) {
	posix, _ := Select("linux")
	env := posix.ActivationEnv("/work/.venv", nil)
	path, ok := lookupEnv(env, "PATH")
	require.True(t, ok)
	assert.Equal(t, "/work/.venv/bin", path)
}

func TestIsActive(t *testing.T) {
	assert.True(t, IsActive("/w/.venv", []string{"VIRTUAL_ENV=/w/.venv"}))
	assert.False(t, IsActive("/w/.venv", []string{"VIRTUAL_ENV=/other"}))
	assert.False(t, IsActive("/w/.venv", []string{"PATH=/usr/bin"}))
}

// Adapters must agree on everything but path layout: same interpreter
// version selection strategy arity, same activation variables.
func TestAdapterEquivalence(t *testing.T) {
	posix, _ := Select("linux")
	win, _ := Select("windows")

	root := "env"
	for _, a := range []Adapter{posix, win} {
		env := a.ActivationEnv(root, []string{"PATH=p"})
		_, hasVenv := lookupEnv(env, "VIRTUAL_ENV")
		assert.True(t, hasVenv, a.Name())
		path, _ := lookupEnv(env, "PATH")
		assert.Contains(t, path, a.ScriptsDir(root), a.Name())
	}
}
