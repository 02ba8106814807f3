// Package core executes external tool invocations with captured output and
// explicit, passed-in environments. Nothing in this package consults ambient
// shell state: the caller decides the working directory and every
// environment variable the child process observes.
package core

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Command is a single external tool invocation: an argv vector plus the
// environment variables layered on top of the executor's base environment.
//
// Commands are held as argv, not as shell strings, so the same definition
// runs identically on POSIX and Windows hosts without a shell interpreting
// it in between.
type Command struct {
	// Argv is the program and its arguments. Argv[0] is resolved against
	// the executor's search path.
	Argv []string

	// Env holds additional variables for this invocation only
	// (e.g. PYTHONPATH for the test runner).
	Env map[string]string
}

// ParseCommand splits a shell-style command line into a Command. Used for
// tool argument lists coming from the project file.
func ParseCommand(line string) (Command, error) {
	argv, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(argv) == 0 {
		return Command{}, fmt.Errorf("parse command %q: empty", line)
	}
	return Command{Argv: argv}, nil
}

// String renders the command for logs. Arguments containing whitespace are
// quoted; this is for display, not for re-parsing by a shell.
func (c Command) String() string {
	parts := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		if strings.ContainsAny(a, " \t\"") {
			parts[i] = fmt.Sprintf("%q", a)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}
