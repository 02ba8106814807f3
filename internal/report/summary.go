// Package report produces the machine-readable outputs of a pipeline run:
// a canonical, deterministic run summary and the parsed JUnit test report.
package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"pipeforge/internal/dag"
)

// RunSummary is the canonical record of one pipeline execution.
//
// Invariants:
//   - No timestamps, durations, pointers, or any runtime-dependent values.
//   - Outcomes are sorted by task name; JSON field order is fixed by a
//     custom marshaler.
//
// Byte-for-byte stability is required: two executions of the same graph
// with the same per-task exit codes produce identical canonical bytes.
type RunSummary struct {
	GraphHash string
	Outcomes  []TaskOutcome
}

// TaskOutcome is the terminal record of a single task.
type TaskOutcome struct {
	Name  string
	State string

	// ExitCode is meaningful only for tasks that ran (COMPLETED or FAILED).
	ExitCode int
}

// Summarize builds the canonical summary from a graph execution result.
func Summarize(res *dag.GraphResult) (RunSummary, error) {
	if res == nil {
		return RunSummary{}, errors.New("nil graph result")
	}

	outcomes := make([]TaskOutcome, 0, len(res.FinalState))
	for name, st := range res.FinalState {
		o := TaskOutcome{Name: name, State: string(st)}
		if r, ok := res.Results[name]; ok {
			o.ExitCode = r.ExitCode
		}
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Name < outcomes[j].Name })

	return RunSummary{GraphHash: string(res.GraphHash), Outcomes: outcomes}, nil
}

// Validate checks basic invariants.
func (s *RunSummary) Validate() error {
	if s == nil {
		return errors.New("summary is nil")
	}
	if s.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i, o := range s.Outcomes {
		if o.Name == "" {
			return fmt.Errorf("outcomes[%d].name is required", i)
		}
		if o.State == "" {
			return fmt.Errorf("outcomes[%d].state is required", i)
		}
	}
	return nil
}

// Canonicalize sorts the outcomes into canonical order.
func (s *RunSummary) Canonicalize() {
	if s == nil {
		return
	}
	sort.SliceStable(s.Outcomes, func(i, j int) bool {
		return s.Outcomes[i].Name < s.Outcomes[j].Name
	})
}

// CanonicalJSON returns the canonical encoding. The receiver is copied so
// the caller's slices are never mutated.
func (s RunSummary) CanonicalJSON() ([]byte, error) {
	cp := RunSummary{GraphHash: s.GraphHash}
	cp.Outcomes = make([]TaskOutcome, len(s.Outcomes))
	copy(cp.Outcomes, s.Outcomes)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex digest of the canonical bytes.
func (s RunSummary) Hash() (string, error) {
	b, err := s.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MarshalJSON fixes the field order regardless of struct evolution.
func (s RunSummary) MarshalJSON() ([]byte, error) {
	if s.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"graphHash\":")
	gh, _ := json.Marshal(s.GraphHash)
	buf.Write(gh)
	buf.WriteByte(',')

	buf.WriteString("\"outcomes\":[")
	for i := range s.Outcomes {
		if i > 0 {
			buf.WriteByte(',')
		}
		ob, err := json.Marshal(s.Outcomes[i])
		if err != nil {
			return nil, err
		}
		buf.Write(ob)
	}
	buf.WriteByte(']')

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits the exit code for tasks that
// never ran.
func (o TaskOutcome) MarshalJSON() ([]byte, error) {
	if o.Name == "" {
		return nil, errors.New("name is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"name\":")
	nb, _ := json.Marshal(o.Name)
	buf.Write(nb)

	buf.WriteByte(',')
	buf.WriteString("\"state\":")
	sb, _ := json.Marshal(o.State)
	buf.Write(sb)

	if o.State == string(dag.TaskCompleted) || o.State == string(dag.TaskFailed) {
		buf.WriteByte(',')
		fmt.Fprintf(&buf, "\"exitCode\":%d", o.ExitCode)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
