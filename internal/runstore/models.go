// Package runstore persists the record of every pipeline invocation under
// <workdir>/.pipeforge/runs/<run-id>/. All writes are atomic and durable so
// a crashed runner never leaves a half-written record behind.
package runstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusError     RunStatus = "error"
)

// Run is the persistent record of one invocation.
//
// The schema is append-only: fields may be added but never renamed or
// removed, since older records stay readable by newer binaries.
type Run struct {
	RunID     string    `json:"run_id"`
	Command   string    `json:"command"`
	GraphHash string    `json:"graph_hash,omitempty"`
	StartTime time.Time `json:"start_time"`

	// PythonVersion is the interpreter the run targeted; matrix parents
	// leave it empty and record one child run per entry.
	PythonVersion string `json:"python_version,omitempty"`

	Status   RunStatus `json:"status"`
	ExitCode int       `json:"exit_code"`

	// Outcomes holds the terminal state of each task, keyed by name.
	Outcomes map[string]TaskOutcome `json:"outcomes,omitempty"`

	// SummaryHash is the canonical run-summary digest, set for graph runs.
	SummaryHash string `json:"summary_hash,omitempty"`
}

// TaskOutcome is the per-task terminal record inside a Run.
type TaskOutcome struct {
	State    string `json:"state"`
	ExitCode int    `json:"exit_code"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.Command) == "" {
		errs = append(errs, errors.New("command is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusError:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	// FailureTask: an invoked tool returned non-zero.
	FailureTask FailureClass = "task"
	// FailureConfig: invalid configuration, missing files, unsupported platform.
	FailureConfig FailureClass = "config"
	// FailureInternal: a defect in the runner itself.
	FailureInternal FailureClass = "internal"
)

// Failure records why a run terminated unsuccessfully.
type Failure struct {
	Class FailureClass `json:"class"`

	// TaskName identifies the failing task for task-class failures.
	TaskName *string `json:"task_name,omitempty"`

	ErrorMessage string `json:"error_message"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.Class {
	case FailureTask, FailureConfig, FailureInternal:
	default:
		errs = append(errs, fmt.Errorf("invalid class %q", f.Class))
	}
	if f.TaskName != nil && strings.TrimSpace(*f.TaskName) == "" {
		errs = append(errs, errors.New("task_name must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
