// Package lockfile parses and compares pinned Python requirement lists.
//
// A lock file is the fully resolved output of the dependency compiler: one
// pinned requirement per line in the form "name==version". Comments and
// blank lines are tolerated; anything unpinned (ranges, includes, editable
// installs) makes the file malformed, because a lock file that does not pin
// every dependency cannot drive a strict-sync install.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var (
	ErrMissing   = errors.New("lock file missing")
	ErrMalformed = errors.New("lock file malformed")
)

// Requirement is a single pinned dependency.
type Requirement struct {
	Name    string
	Version string
}

func (r Requirement) String() string {
	return r.Name + "==" + r.Version
}

// Set is a collection of pinned requirements keyed by canonical name.
type Set map[string]Requirement

// ParseFile reads and parses the lock file at path.
func ParseFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	defer f.Close()

	set, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse reads a lock file from r.
func Parse(r io.Reader) (Set, error) {
	set := make(Set)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		req, ok, err := parseLine(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		if !ok {
			continue
		}
		if _, dup := set[req.Name]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate requirement %q", ErrMalformed, line, req.Name)
		}
		set[req.Name] = req
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	return set, nil
}

// parseLine parses a single line. ok is false for blank and comment lines.
func parseLine(raw string) (Requirement, bool, error) {
	// pip-compile appends "  # via ..." provenance comments.
	if i := strings.Index(raw, "#"); i >= 0 {
		raw = raw[:i]
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return Requirement{}, false, nil
	}
	if strings.HasPrefix(s, "-") {
		// -r/-c includes and -e editable installs are not pinned content.
		return Requirement{}, false, fmt.Errorf("directive %q not allowed in a lock file", s)
	}

	name, version, found := strings.Cut(s, "==")
	if !found {
		return Requirement{}, false, fmt.Errorf("requirement %q is not pinned with ==", s)
	}
	// Environment markers and extras are stripped down to the core pin.
	if i := strings.Index(version, ";"); i >= 0 {
		version = version[:i]
	}
	name = CanonicalName(strings.TrimSpace(name))
	version = strings.TrimSpace(version)
	if name == "" || version == "" {
		return Requirement{}, false, fmt.Errorf("requirement %q has empty name or version", s)
	}
	if strings.ContainsAny(version, "<>!~*") {
		return Requirement{}, false, fmt.Errorf("requirement %q is not an exact pin", s)
	}
	return Requirement{Name: name, Version: version}, true, nil
}

// CanonicalName normalizes a distribution name the way the packaging tools
// do: lowercase, runs of -, _ and . collapse to a single -.
func CanonicalName(name string) string {
	var b strings.Builder
	prevSep := false
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			prevSep = true
			continue
		}
		if prevSep && b.Len() > 0 {
			b.WriteByte('-')
		}
		prevSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// Union merges sets. Conflicting pins for the same name are an error: the
// runtime and development lock files are compiled from the same manifest and
// must agree.
func Union(sets ...Set) (Set, error) {
	out := make(Set)
	for _, s := range sets {
		for name, req := range s {
			if prev, ok := out[name]; ok && prev.Version != req.Version {
				return nil, fmt.Errorf("%w: conflicting pins for %q: %s vs %s",
					ErrMalformed, name, prev.Version, req.Version)
			}
			out[name] = req
		}
	}
	return out, nil
}

// Diff describes how an installed set deviates from a lock set.
type Diff struct {
	// Missing are locked requirements absent from the installed set.
	Missing []Requirement
	// Extra are installed packages not present in the lock set.
	Extra []Requirement
	// Mismatched are packages installed at a different version than locked.
	Mismatched []Requirement
}

// InSync reports whether the installed set exactly matches the lock set.
func (d Diff) InSync() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.Mismatched) == 0
}

func (d Diff) String() string {
	var parts []string
	for _, r := range d.Missing {
		parts = append(parts, "missing "+r.String())
	}
	for _, r := range d.Extra {
		parts = append(parts, "extra "+r.String())
	}
	for _, r := range d.Mismatched {
		parts = append(parts, "version mismatch "+r.String())
	}
	return strings.Join(parts, "; ")
}

// Compare diffs an installed set (e.g. parsed from pip freeze output)
// against the locked set. Tooling packages that every environment carries
// regardless of the lock files are ignored.
func Compare(locked, installed Set) Diff {
	var d Diff
	for name, req := range locked {
		got, ok := installed[name]
		if !ok {
			d.Missing = append(d.Missing, req)
			continue
		}
		if got.Version != req.Version {
			d.Mismatched = append(d.Mismatched, got)
		}
	}
	for name, req := range installed {
		if isToolingPackage(name) {
			continue
		}
		if _, ok := locked[name]; !ok {
			d.Extra = append(d.Extra, req)
		}
	}
	sortReqs(d.Missing)
	sortReqs(d.Extra)
	sortReqs(d.Mismatched)
	return d
}

// isToolingPackage reports whether name is part of the environment's own
// bootstrap (installed by create_venv, never listed in lock files).
func isToolingPackage(name string) bool {
	switch name {
	case "pip", "setuptools", "wheel", "pip-tools", "build", "pyproject-hooks", "click", "packaging":
		return true
	default:
		return false
	}
}

func sortReqs(reqs []Requirement) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })
}

// Sorted returns the requirements in name order.
func (s Set) Sorted() []Requirement {
	out := make([]Requirement, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	sortReqs(out)
	return out
}
