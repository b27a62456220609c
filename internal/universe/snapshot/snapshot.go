// Package snapshot loads a production universe.Suite/universe.PackageUniverse
// pair from a JSON document the migration driver exports — archive parsing
// and dependency resolution happen upstream, so the suite/dependency graph
// are always supplied externally rather than computed here.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/distrogate/autopkgtest-gate/internal/universe"
)

// Document is the wire format cmd/gate reads at startup: one entry per
// source package in each of the source and target suites, plus the flat
// dependency/conflict/reverse-dependency graph resolved for every binary.
type Document struct {
	Source Suite `json:"source"`
	Target Suite `json:"target"`
	Deps   []Dependency `json:"deps,omitempty"`
}

// Suite is the wire form of a universe.Suite: every source and, per
// architecture, every binary it builds.
type Suite struct {
	Sources  []SourceInfo        `json:"sources"`
	Binaries map[string][]BinaryInfo `json:"binaries"` // arch -> binaries
}

// SourceInfo mirrors universe.SourceInfo.
type SourceInfo struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	Binaries          []BinaryID `json:"binaries,omitempty"`
	TestSuite         []string `json:"test_suite,omitempty"`          //nolint:tagliatelle
	TestSuiteTriggers []string `json:"test_suite_triggers,omitempty"` //nolint:tagliatelle
}

// BinaryInfo mirrors universe.BinaryInfo.
type BinaryInfo struct {
	Name   string `json:"name"`
	Arch   string `json:"arch"`
	Source string `json:"source"`
}

// BinaryID mirrors universe.BinaryID.
type BinaryID struct {
	Name string `json:"name"`
	Arch string `json:"arch"`
}

// Dependency is one binary's resolved dependency/conflict/reverse-dependency
// edges, pre-flattened by the migration driver (it already did the apt
// dependency-graph resolution; this module only walks the result).
type Dependency struct {
	Binary       BinaryID     `json:"binary"`
	Dependencies [][]BinaryID `json:"dependencies,omitempty"`
	Conflicts    []BinaryID   `json:"conflicts,omitempty"`
	ReverseDeps  []BinaryID   `json:"reverse_deps,omitempty"` //nolint:tagliatelle
}

// Load reads and decodes a Document from path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe snapshot %s: %w", path, err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads a Document from r.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode universe snapshot: %w", err)
	}

	return &doc, nil
}

// suite adapts Suite to universe.Suite.
type suite struct {
	sources  map[string]universe.SourceInfo
	binaries map[string]map[string]universe.BinaryInfo
}

func (s Suite) toUniverse() *suite {
	sources := make(map[string]universe.SourceInfo, len(s.Sources))

	for _, src := range s.Sources {
		binaries := make([]universe.BinaryID, 0, len(src.Binaries))
		for _, b := range src.Binaries {
			binaries = append(binaries, universe.BinaryID{Name: b.Name, Arch: b.Arch})
		}

		sources[src.Name] = universe.SourceInfo{
			Name:              src.Name,
			Version:           src.Version,
			Binaries:          binaries,
			TestSuite:         src.TestSuite,
			TestSuiteTriggers: src.TestSuiteTriggers,
		}
	}

	binaries := make(map[string]map[string]universe.BinaryInfo, len(s.Binaries))

	for arch, bins := range s.Binaries {
		byName := make(map[string]universe.BinaryInfo, len(bins))
		for _, b := range bins {
			byName[b.Name] = universe.BinaryInfo{
				ID:     universe.BinaryID{Name: b.Name, Arch: b.Arch},
				Source: b.Source,
				Arch:   b.Arch,
			}
		}

		binaries[arch] = byName
	}

	return &suite{sources: sources, binaries: binaries}
}

func (s *suite) Sources() map[string]universe.SourceInfo { return s.sources }

func (s *suite) Binaries(arch string) map[string]universe.BinaryInfo {
	if byName, ok := s.binaries[arch]; ok {
		return byName
	}

	return map[string]universe.BinaryInfo{}
}

// packageUniverse adapts a flat []Dependency into universe.PackageUniverse.
type packageUniverse struct {
	deps    map[universe.BinaryID][][]universe.BinaryID
	negDeps map[universe.BinaryID][]universe.BinaryID
	revDeps map[universe.BinaryID][]universe.BinaryID
}

func newPackageUniverse(edges []Dependency) *packageUniverse {
	pu := &packageUniverse{
		deps:    make(map[universe.BinaryID][][]universe.BinaryID, len(edges)),
		negDeps: make(map[universe.BinaryID][]universe.BinaryID, len(edges)),
		revDeps: make(map[universe.BinaryID][]universe.BinaryID, len(edges)),
	}

	for _, edge := range edges {
		id := universe.BinaryID{Name: edge.Binary.Name, Arch: edge.Binary.Arch}

		for _, group := range edge.Dependencies {
			alternatives := make([]universe.BinaryID, 0, len(group))
			for _, alt := range group {
				alternatives = append(alternatives, universe.BinaryID{Name: alt.Name, Arch: alt.Arch})
			}

			pu.deps[id] = append(pu.deps[id], alternatives)
		}

		for _, c := range edge.Conflicts {
			pu.negDeps[id] = append(pu.negDeps[id], universe.BinaryID{Name: c.Name, Arch: c.Arch})
		}

		for _, r := range edge.ReverseDeps {
			pu.revDeps[id] = append(pu.revDeps[id], universe.BinaryID{Name: r.Name, Arch: r.Arch})
		}
	}

	return pu
}

func (p *packageUniverse) DependenciesOf(id universe.BinaryID) [][]universe.BinaryID {
	return p.deps[id]
}

func (p *packageUniverse) NegativeDependenciesOf(id universe.BinaryID) []universe.BinaryID {
	return p.negDeps[id]
}

func (p *packageUniverse) ReverseDependenciesOf(id universe.BinaryID) []universe.BinaryID {
	return p.revDeps[id]
}

// Suites returns the source and target universe.Suite this document
// describes.
func (d *Document) Suites() (universe.Suite, universe.Suite) {
	return d.Source.toUniverse(), d.Target.toUniverse()
}

// PackageUniverse returns the dependency graph this document describes.
func (d *Document) PackageUniverse() universe.PackageUniverse {
	return newPackageUniverse(d.Deps)
}
