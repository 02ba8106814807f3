// Package cli maps pipeline operations onto the command surface: semantic
// exit codes, run recording, and the wiring between configuration, the
// toolchain and the graph engine.
package cli

import (
	"errors"
	"fmt"

	"pipeforge/internal/platform"
	"pipeforge/internal/pyenv"
	"pipeforge/internal/runstore"
)

// Semantic exit codes. Task failures (an invoked tool returned non-zero)
// are distinct from misuse, configuration problems and runner defects.
const (
	ExitSuccess           = 0
	ExitTaskFailure       = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError marks command-line misuse (unknown task, bad arguments).
type InvocationError struct {
	Message string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{Message: fmt.Sprintf(format, args...)}
}

// ConfigError marks an unusable configuration or project environment.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	if e == nil || e.Err == nil {
		return "configuration error"
	}
	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Err: err}
}

// ExitCodeFor translates an infrastructure error to its exit code. Task
// failures never arrive here; they are carried in results, not errors.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var inv *InvocationError
	if errors.As(err, &inv) {
		return ExitInvalidInvocation
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return ExitConfigError
	}
	if errors.Is(err, platform.ErrUnsupportedPlatform) || errors.Is(err, pyenv.ErrNotCreated) {
		return ExitConfigError
	}
	return ExitInternalError
}

// failureClass maps an infrastructure error onto the recorded failure
// taxonomy.
func failureClass(err error) runstore.FailureClass {
	switch ExitCodeFor(err) {
	case ExitInvalidInvocation, ExitConfigError:
		return runstore.FailureConfig
	default:
		return runstore.FailureInternal
	}
}
