// Package hints provides a YAML-backed operator hints file implementing
// universe.Hints: force-skiptest and force-badtest directives targeting a
// package/version/architecture.
//
// Hint *parsing grammar* proper is an external collaborator: the real
// britney hints file has its own free-text DSL maintained by the
// top-level migration driver. This package instead loads a narrow,
// already-structured YAML fixture with graceful degradation on a missing
// or invalid file, so the Verdict Engine has something concrete and
// testable to query.
package hints

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/distrogate/autopkgtest-gate/internal/config"
	"github.com/distrogate/autopkgtest-gate/internal/universe"
)

// Entry is one hint as it appears in the YAML file.
type Entry struct {
	Type    string `yaml:"type"`
	User    string `yaml:"user"`
	Package string `yaml:"package"`
	Arch    string `yaml:"arch"`
	Version string `yaml:"version"`
	Reason  string `yaml:"reason"`
}

// File holds every hint entry loaded from a hints YAML document.
type File struct {
	Hints []Entry `yaml:"hints"`
}

const (
	// DefaultPath is the default location for the hints file.
	DefaultPath = ".gate-hints.yaml"

	// PathEnvVar names the environment variable carrying a custom hints path.
	PathEnvVar = "GATE_HINTS_PATH"
)

// Load reads hint entries from a YAML file at path, degrading gracefully:
// a missing file yields an empty, valid File rather than an error, and
// invalid YAML logs a warning and yields an empty File — hints are an
// optional override layer, never a hard dependency for the engine to run.
func Load(path string) (*File, error) {
	f := &File{Hints: []Entry{}}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("hints file not found, continuing without hints", slog.String("path", path))
			return f, nil
		}

		slog.Warn("failed to read hints file, continuing without hints",
			slog.String("path", path), slog.String("error", err.Error()))

		return f, nil
	}

	if len(data) == 0 {
		return f, nil
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		slog.Warn("failed to parse hints file, continuing without hints",
			slog.String("path", path), slog.String("error", err.Error()))

		return &File{Hints: []Entry{}}, nil
	}

	if f.Hints == nil {
		f.Hints = []Entry{}
	}

	return f, nil
}

// LoadFromEnv loads the hints file named by GATE_HINTS_PATH, falling back
// to DefaultPath.
func LoadFromEnv() (*File, error) {
	return Load(config.GetEnvStr(PathEnvVar, DefaultPath))
}

// Search implements universe.Hints: every entry of hintType targeting pkg
// at version ("all" matches any version).
func (f *File) Search(hintType, pkg, version string) []universe.Hint {
	var out []universe.Hint

	for _, e := range f.Hints {
		if e.Type != hintType || e.Package != pkg {
			continue
		}

		if e.Version != "all" && e.Version != version {
			continue
		}

		out = append(out, universe.Hint{
			Type:    e.Type,
			User:    e.User,
			Package: e.Package,
			Arch:    e.Arch,
			Version: e.Version,
			Reason:  e.Reason,
		})
	}

	return out
}

var _ universe.Hints = (*File)(nil)
