package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pipeforge/internal/core"
)

// Exit code used when a task's tool binary cannot be launched at all,
// matching the shell convention for "command not found".
const exitNotStarted = 127

// Runner executes tasks against one toolchain. It owns no state beyond its
// collaborators and is safe to reuse across tasks of the same pipeline run.
type Runner struct {
	Toolchain *Toolchain
	Exec      *core.Executor
	Log       *zap.Logger
}

// NewRunner wires a runner for tc. The executor runs in the project root
// with the environment's activation layered over the allowlisted host
// environment.
func NewRunner(tc *Toolchain, log *zap.Logger) (*Runner, error) {
	if tc == nil {
		return nil, errors.New("nil toolchain")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Toolchain: tc,
		Exec:      core.NewExecutor(tc.WorkDir, tc.ExecEnv()),
		Log:       log,
	}, nil
}

// Run executes one task to its terminal state.
//
// The task is atomic from the caller's point of view: the first non-zero
// command exit produces a failed Result and the remaining commands are
// skipped. The error return is reserved for infrastructure problems
// (locking, missing environment); tool failures are carried in the Result.
func (r *Runner) Run(ctx context.Context, t Task) (*Result, error) {
	log := r.Log.With(zap.String("task", t.Name))

	if t.NeedsEnv {
		if err := r.Toolchain.Env.RequireCreated(); err != nil {
			return nil, err
		}
	}

	if t.Mutates {
		release, err := r.Toolchain.Env.Exclusive(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if t.Pre != nil {
		if err := t.Pre(ctx); err != nil {
			log.Warn("precondition failed", zap.Error(err))
			return &Result{
				Name:     t.Name,
				ExitCode: 1,
				Stderr:   []byte(fmt.Sprintf("%s: %v\n", t.Name, err)),
			}, nil
		}
	}

	var stdout, stderr bytes.Buffer
	for i, cmd := range t.Commands {
		log.Info("exec", zap.Int("step", i+1), zap.Int("steps", len(t.Commands)), zap.String("command", cmd.String()))

		res, err := r.Exec.Run(ctx, cmd)
		if err != nil {
			if errors.Is(err, core.ErrNotStarted) {
				// The tool (or interpreter) is unavailable. Still a
				// task failure: the step is reported with the
				// launch diagnostic as its output.
				stderr.WriteString(err.Error() + "\n")
				log.Warn("command not startable", zap.Error(err))
				return &Result{
					Name:     t.Name,
					ExitCode: exitNotStarted,
					Stdout:   stdout.Bytes(),
					Stderr:   stderr.Bytes(),
				}, nil
			}
			return nil, fmt.Errorf("running %s: %w", t.Name, err)
		}

		stdout.Write(res.Stdout)
		stderr.Write(res.Stderr)

		if res.ExitCode != 0 {
			log.Warn("command failed", zap.Int("exit_code", res.ExitCode))
			return &Result{
				Name:     t.Name,
				ExitCode: res.ExitCode,
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
			}, nil
		}
	}

	if t.Post != nil {
		if err := t.Post(ctx, r.Exec); err != nil {
			log.Warn("postcondition failed", zap.Error(err))
			stderr.WriteString(fmt.Sprintf("%s: %v\n", t.Name, err))
			return &Result{
				Name:     t.Name,
				ExitCode: 1,
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
			}, nil
		}
	}

	log.Info("task completed")
	return &Result{
		Name:     t.Name,
		ExitCode: 0,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}
