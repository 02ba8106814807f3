// Package config loads runtime settings and the per-project pipeline file.
//
// Runtime settings (directories, concurrency, logging) come from built-in
// defaults overridden by PIPEFORGE_* environment variables; a .env file in
// the working directory is honored when present. The project file
// (pipeforge.yaml) describes the Python project itself: source layout, lock
// file names, interpreter matrix and extra tool arguments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Runtime holds process-level settings.
type Runtime struct {
	// EnvDir is the isolated environment directory, relative to the
	// working directory unless absolute.
	EnvDir string `koanf:"env_dir"`

	// OutputDir receives collected artifacts and reports.
	OutputDir string `koanf:"output_dir"`

	// ProjectFile is the pipeline project file path.
	ProjectFile string `koanf:"project_file"`

	// Concurrency bounds parallel dispatch of independent tasks.
	Concurrency int `koanf:"concurrency"`

	// Verbose lowers the log level to debug.
	Verbose bool `koanf:"verbose"`
}

func defaultRuntime() Runtime {
	return Runtime{
		EnvDir:      ".venv",
		OutputDir:   "build",
		ProjectFile: "pipeforge.yaml",
		Concurrency: 2,
	}
}

// LoadRuntime resolves runtime settings for workDir: defaults, then .env,
// then PIPEFORGE_* process environment variables.
func LoadRuntime(workDir string) (Runtime, error) {
	// Best-effort: a missing .env is the normal case.
	_ = godotenv.Load(filepath.Join(workDir, ".env"))

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultRuntime(), "koanf"), nil); err != nil {
		return Runtime{}, fmt.Errorf("load defaults: %w", err)
	}
	p := env.Provider(".", env.Opt{
		Prefix: "PIPEFORGE_",
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, "PIPEFORGE_")), value
		},
	})
	if err := k.Load(p, nil); err != nil {
		return Runtime{}, fmt.Errorf("load environment overrides: %w", err)
	}

	var rt Runtime
	if err := k.Unmarshal("", &rt); err != nil {
		return Runtime{}, fmt.Errorf("unmarshal runtime config: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}

// Validate rejects settings no run can proceed with.
func (r Runtime) Validate() error {
	if strings.TrimSpace(r.EnvDir) == "" {
		return fmt.Errorf("env_dir is required")
	}
	if strings.TrimSpace(r.OutputDir) == "" {
		return fmt.Errorf("output_dir is required")
	}
	if r.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1 (got %d)", r.Concurrency)
	}
	return nil
}

// ResolveDir resolves a possibly-relative directory under workDir.
func ResolveDir(workDir, dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Clean(filepath.Join(workDir, dir))
}

// WorkDir returns the absolute working directory for a run: the explicit
// flag value when given, the process directory otherwise.
func WorkDir(flagValue string) (string, error) {
	if flagValue != "" {
		abs, err := filepath.Abs(flagValue)
		if err != nil {
			return "", fmt.Errorf("resolve workdir: %w", err)
		}
		return abs, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve workdir: %w", err)
	}
	return wd, nil
}
