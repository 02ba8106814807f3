// Package platform translates pipeline tasks into OS-specific invocation
// syntax.
//
// Exactly two adapters exist: POSIX and Windows. They are selected once at
// startup and are behaviorally equivalent: given the same environment root,
// both produce the same logical commands, differing only in path layout and
// interpreter discovery. Any other divergence between adapters is a defect.
package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrUnsupportedPlatform is returned when the host OS is neither POSIX nor
// Windows. An unrecognized host is a hard error, never a silent fallthrough
// to an unactivated environment.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Adapter resolves OS-specific details of working with an isolated Python
// environment. All paths returned are absolute when envRoot is absolute.
type Adapter interface {
	// Name is the stable adapter identifier ("posix" or "windows").
	Name() string

	// BaseInterpreter returns the argv prefix that launches a host
	// interpreter of the requested version (e.g. "3.11"), prior to any
	// environment existing. An empty version selects the default host
	// interpreter.
	BaseInterpreter(version string) []string

	// Interpreter returns the path of the environment's own interpreter.
	Interpreter(envRoot string) string

	// ScriptsDir returns the environment's executable directory
	// (bin on POSIX, Scripts on Windows).
	ScriptsDir(envRoot string) string

	// ActivationEnv layers environment activation onto base: the scripts
	// directory is prepended to the search path, VIRTUAL_ENV is set, and
	// PYTHONHOME is dropped. base is not mutated.
	ActivationEnv(envRoot string, base []string) []string
}

// Select returns the adapter for the given GOOS value.
func Select(goos string) (Adapter, error) {
	switch goos {
	case "linux", "darwin", "freebsd", "netbsd", "openbsd":
		return posixAdapter{}, nil
	case "windows":
		return windowsAdapter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, goos)
	}
}

// Host returns the adapter for the running process.
func Host() (Adapter, error) {
	return Select(runtime.GOOS)
}

// IsActive reports whether the process environment already runs inside the
// target isolated environment, in which case activation is a no-op.
func IsActive(envRoot string, processEnv []string) bool {
	for _, kv := range processEnv {
		if v, ok := strings.CutPrefix(kv, "VIRTUAL_ENV="); ok {
			return v == envRoot
		}
	}
	return false
}

// setEnv sets or replaces key in env, returning a new slice.
func setEnv(env []string, key, value string) []string {
	out := make([]string, 0, len(env)+1)
	prefix := key + "="
	replaced := false
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			out = append(out, prefix+value)
			replaced = true
			continue
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, prefix+value)
	}
	return out
}

// dropEnv removes key from env, returning a new slice.
func dropEnv(env []string, key string) []string {
	out := make([]string, 0, len(env))
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// lookupEnv returns the value of key in env.
func lookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}
