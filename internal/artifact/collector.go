// Package artifact collects declared task outputs into the output directory
// after a successful run.
//
// Only files explicitly declared by a task become artifacts; nothing scans
// for "all modified files". Collection order and the manifest encoding are
// deterministic.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry describes one collected artifact file.
type Entry struct {
	// Path is the project-relative source path, slash-separated.
	Path string `json:"path"`

	// Digest is the sha256 hex of the file contents.
	Digest string `json:"digest"`

	Size int64 `json:"size"`
}

// Manifest is the sorted record of a collection pass.
type Manifest struct {
	Entries []Entry `json:"entries"`
}

// Collector copies declared outputs from the project tree into OutputDir,
// preserving relative layout.
type Collector struct {
	// WorkDir is the absolute project root declared outputs resolve against.
	WorkDir string

	// OutputDir receives the collected files and the manifest.
	OutputDir string
}

func NewCollector(workDir, outputDir string) (*Collector, error) {
	if !filepath.IsAbs(workDir) {
		return nil, fmt.Errorf("workdir must be absolute (got %q)", workDir)
	}
	if outputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(workDir, outputDir)
	}
	return &Collector{WorkDir: workDir, OutputDir: outputDir}, nil
}

// Collect resolves the declared outputs, expands directories recursively,
// and copies every file into the output directory with its digest recorded.
// A declared output that does not exist is an error: the task claimed to
// produce it.
func (c *Collector) Collect(declaredOutputs []string) (*Manifest, error) {
	if len(declaredOutputs) == 0 {
		return &Manifest{Entries: []Entry{}}, nil
	}

	var allPaths []string
	for _, output := range declaredOutputs {
		fullPath := output
		if !filepath.IsAbs(output) {
			fullPath = filepath.Join(c.WorkDir, output)
		}

		info, err := os.Stat(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("declared output does not exist: %s", output)
			}
			return nil, fmt.Errorf("stat output %q: %w", output, err)
		}

		if info.IsDir() {
			files, err := filesUnder(fullPath)
			if err != nil {
				return nil, fmt.Errorf("collecting files from %q: %w", output, err)
			}
			allPaths = append(allPaths, files...)
		} else {
			allPaths = append(allPaths, fullPath)
		}
	}

	sort.Strings(allPaths)
	allPaths = dedupeSorted(allPaths)

	manifest := &Manifest{Entries: make([]Entry, 0, len(allPaths))}
	for _, path := range allPaths {
		rel, err := filepath.Rel(c.WorkDir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("artifact %q escapes the project root", path)
		}

		digest, size, err := c.copyInto(path, rel)
		if err != nil {
			return nil, err
		}
		manifest.Entries = append(manifest.Entries, Entry{
			Path:   filepath.ToSlash(rel),
			Digest: digest,
			Size:   size,
		})
	}
	return manifest, nil
}

// WriteManifest writes the manifest as stable JSON into the output directory.
func (c *Collector) WriteManifest(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("nil manifest")
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.OutputDir, "manifest.json"), data, 0o644)
}

func (c *Collector) copyInto(src, rel string) (digest string, size int64, err error) {
	dst := filepath.Join(c.OutputDir, rel)

	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("reading artifact %q: %w", src, err)
	}
	defer in.Close()

	h := sha256.New()

	// An output already inside the output directory is hashed in place;
	// copying onto itself would truncate it.
	if dst == src {
		n, err := io.Copy(h, in)
		if err != nil {
			return "", 0, fmt.Errorf("hashing artifact %q: %w", src, err)
		}
		return hex.EncodeToString(h.Sum(nil)), n, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return "", 0, fmt.Errorf("copying artifact %q: %w", src, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func filesUnder(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func dedupeSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	result := sorted[:1]
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
