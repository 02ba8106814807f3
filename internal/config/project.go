package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Project describes the Python project the pipeline operates on. Every path
// is repository-relative; defaults match the conventional src/unit_test
// layout with pip-tools lock files.
type Project struct {
	Python PythonConfig `yaml:"python"`
	Paths  PathsConfig  `yaml:"paths"`
	Tools  ToolsConfig  `yaml:"tools"`
}

// PythonConfig selects interpreter versions.
type PythonConfig struct {
	// Version is the interpreter the single-environment commands use
	// (e.g. "3.11"). Empty selects the host default.
	Version string `yaml:"version"`

	// Matrix lists the versions the matrix command runs against.
	Matrix []string `yaml:"matrix"`
}

// PathsConfig fixes the repository-relative file layout.
type PathsConfig struct {
	Sources     []string `yaml:"sources"`
	Tests       string   `yaml:"tests"`
	Manifest    string   `yaml:"manifest"`
	Lock        string   `yaml:"lock"`
	DevLock     string   `yaml:"dev_lock"`
	JUnitReport string   `yaml:"junit_report"`
	Dist        string   `yaml:"dist"`
}

// ToolsConfig carries extra command-line arguments per tool, parsed
// shell-style.
type ToolsConfig struct {
	Flake8 string `yaml:"flake8"`
	Mypy   string `yaml:"mypy"`
	Pytest string `yaml:"pytest"`
}

// DefaultProject returns the conventional layout used when no project file
// exists.
func DefaultProject() Project {
	return Project{
		Python: PythonConfig{},
		Paths: PathsConfig{
			Sources:     []string{"src"},
			Tests:       "unit_test",
			Manifest:    "pyproject.toml",
			Lock:        "requirements.txt",
			DevLock:     "dev-requirements.txt",
			JUnitReport: "build/junit.xml",
			Dist:        "dist",
		},
	}
}

// LoadProject reads the project file at path. A missing file yields the
// defaults; a present but unparsable file is an error.
func LoadProject(path string) (Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultProject(), nil
		}
		return Project{}, fmt.Errorf("read project file %s: %w", path, err)
	}

	p := DefaultProject()
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Project{}, fmt.Errorf("parse project file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Project{}, fmt.Errorf("project file %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects layouts the pipeline cannot run against.
func (p Project) Validate() error {
	if len(p.Paths.Sources) == 0 {
		return errors.New("paths.sources must name at least one source directory")
	}
	for _, s := range p.Paths.Sources {
		if strings.TrimSpace(s) == "" {
			return errors.New("paths.sources entries must not be empty")
		}
	}
	for name, v := range map[string]string{
		"paths.tests":        p.Paths.Tests,
		"paths.manifest":     p.Paths.Manifest,
		"paths.lock":         p.Paths.Lock,
		"paths.dev_lock":     p.Paths.DevLock,
		"paths.junit_report": p.Paths.JUnitReport,
		"paths.dist":         p.Paths.Dist,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if p.Paths.Lock == p.Paths.DevLock {
		return errors.New("paths.lock and paths.dev_lock must differ")
	}
	return nil
}
