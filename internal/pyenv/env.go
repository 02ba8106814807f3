// Package pyenv models an isolated Python environment as an explicit handle
// passed into tasks, instead of ambient shell activation state. A task that
// needs the environment receives the handle; whether activation is needed is
// a checked precondition, not an implicit global.
package pyenv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"pipeforge/internal/platform"
)

// ErrNotCreated is returned when an operation requires an environment that
// does not exist yet.
var ErrNotCreated = errors.New("environment not created")

// Env is a handle to one isolated environment rooted at Root.
//
// The handle is cheap and carries no open resources; mutation guards are
// acquired per operation via Exclusive.
type Env struct {
	// Root is the absolute environment directory.
	Root string

	adapter platform.Adapter
}

// New creates an environment handle. root must be absolute so no task ever
// depends on the process working directory.
func New(root string, adapter platform.Adapter) (*Env, error) {
	if adapter == nil {
		return nil, errors.New("nil adapter")
	}
	root = filepath.Clean(root)
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("environment root must be absolute (got %q)", root)
	}
	return &Env{Root: root, adapter: adapter}, nil
}

// Interpreter returns the path of the environment's interpreter.
func (e *Env) Interpreter() string {
	return e.adapter.Interpreter(e.Root)
}

// Exists reports whether the environment has been created (its interpreter
// is present).
func (e *Env) Exists() bool {
	_, err := os.Stat(e.Interpreter())
	return err == nil
}

// RequireCreated returns ErrNotCreated unless the environment exists.
func (e *Env) RequireCreated() error {
	if !e.Exists() {
		return fmt.Errorf("%w: %s", ErrNotCreated, e.Root)
	}
	return nil
}

// Activate layers activation onto the given base environment. When the
// process already runs inside this environment, base is returned as-is
// (copied), since re-activation would only duplicate path entries.
func (e *Env) Activate(base []string) []string {
	if platform.IsActive(e.Root, base) {
		return append([]string(nil), base...)
	}
	return e.adapter.ActivationEnv(e.Root, base)
}

// Exclusive acquires an advisory file lock guarding mutations of the
// environment's installed package set. The lock file is a sibling of the
// environment root so it survives environment re-creation. The returned
// release function must be called exactly once.
func (e *Env) Exclusive(ctx context.Context) (release func(), err error) {
	lockPath := e.Root + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare env lock dir: %w", err)
	}
	fl := flock.New(lockPath)
	ok, err := fl.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock environment %s: %w", e.Root, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock environment %s: not acquired", e.Root)
	}
	return func() { _ = fl.Unlock() }, nil
}

// Remove deletes the environment directory. Used by matrix runs that want a
// guaranteed-fresh environment per entry.
func (e *Env) Remove() error {
	if e.Root == string(filepath.Separator) {
		return errors.New("refusing to remove filesystem root")
	}
	return os.RemoveAll(e.Root)
}
