package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
)

// ExecResult is the observable outcome of a single tool invocation.
type ExecResult struct {
	// Stdout is the captured standard output.
	Stdout []byte

	// Stderr is the captured standard error.
	Stderr []byte

	// ExitCode is the process exit code. 0 is success; any other value is
	// a task failure carrying the tool's own diagnostics.
	ExitCode int
}

// ErrNotStarted wraps failures where the tool process could not be started
// at all (missing binary, unusable interpreter). These are infrastructure
// errors, distinct from a tool running and exiting non-zero.
var ErrNotStarted = errors.New("command could not be started")

// Executor runs commands in a fixed working directory with an explicit base
// environment. The base environment is typically the platform adapter's
// activation environment for the target isolated environment.
type Executor struct {
	// WorkDir is the directory commands execute in.
	WorkDir string

	// BaseEnv is the complete environment every command starts from.
	// Per-command variables from Command.Env are layered on top.
	BaseEnv []string

	// Stdout and Stderr, when non-nil, receive a live copy of the child's
	// output in addition to capture. Tool diagnostics are surfaced
	// verbatim; nothing is rewrapped or reclassified.
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecutor creates an Executor for workDir with the given base
// environment.
func NewExecutor(workDir string, baseEnv []string) *Executor {
	return &Executor{WorkDir: workDir, BaseEnv: baseEnv}
}

// Run executes one command to completion or context cancellation.
//
// On cancellation the entire process tree is killed (the child is started in
// its own process group on POSIX hosts).
//
// A non-zero exit is NOT an error return: it is a normal result the caller
// translates into task failure. The error return is reserved for
// infrastructure problems.
func (e *Executor) Run(ctx context.Context, command Command) (*ExecResult, error) {
	if len(command.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, command.Argv[0], command.Argv[1:]...)
	cmd.Dir = e.WorkDir
	cmd.Env = mergeEnv(e.BaseEnv, command.Env)
	setProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if e.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdout, e.Stdout)
	}
	if e.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, e.Stderr)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotStarted, command.Argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case waitErr = <-done:
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotStarted, command.Argv[0], waitErr)
		}
	}

	return &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
	}, nil
}

// mergeEnv layers overlay variables onto base in deterministic (sorted key)
// order. base is not mutated.
func mergeEnv(base []string, overlay map[string]string) []string {
	out := append([]string(nil), base...)
	if len(overlay) == 0 {
		return out
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = setEnvVar(out, k, overlay[k])
	}
	return out
}

func setEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
