// Package universetest provides in-memory test doubles for the
// universe.Suite, universe.PackageUniverse, universe.Hints, and
// universe.Excuse interfaces, used by tests in internal/triggers,
// internal/verdict, internal/policy and internal/api.
package universetest

import "github.com/distrogate/autopkgtest-gate/internal/universe"

// Suite is a fixed in-memory universe.Suite.
type Suite struct {
	Srcs map[string]universe.SourceInfo
	Bins map[string]map[string]universe.BinaryInfo // arch -> name -> info
}

// NewSuite creates an empty Suite.
func NewSuite() *Suite {
	return &Suite{
		Srcs: make(map[string]universe.SourceInfo),
		Bins: make(map[string]map[string]universe.BinaryInfo),
	}
}

// Sources implements universe.Suite.
func (s *Suite) Sources() map[string]universe.SourceInfo { return s.Srcs }

// Binaries implements universe.Suite.
func (s *Suite) Binaries(arch string) map[string]universe.BinaryInfo {
	if byName, ok := s.Bins[arch]; ok {
		return byName
	}

	return map[string]universe.BinaryInfo{}
}

// AddSource registers a source package.
func (s *Suite) AddSource(info universe.SourceInfo) {
	s.Srcs[info.Name] = info
}

// AddBinary registers a binary package on an architecture.
func (s *Suite) AddBinary(info universe.BinaryInfo) {
	if _, ok := s.Bins[info.Arch]; !ok {
		s.Bins[info.Arch] = make(map[string]universe.BinaryInfo)
	}

	s.Bins[info.Arch][info.ID.Name] = info
}

// Universe is a fixed in-memory universe.PackageUniverse.
type Universe struct {
	Deps    map[universe.BinaryID][][]universe.BinaryID
	NegDeps map[universe.BinaryID][]universe.BinaryID
	RevDeps map[universe.BinaryID][]universe.BinaryID
}

// NewUniverse creates an empty Universe.
func NewUniverse() *Universe {
	return &Universe{
		Deps:    make(map[universe.BinaryID][][]universe.BinaryID),
		NegDeps: make(map[universe.BinaryID][]universe.BinaryID),
		RevDeps: make(map[universe.BinaryID][]universe.BinaryID),
	}
}

// DependenciesOf implements universe.PackageUniverse.
func (u *Universe) DependenciesOf(id universe.BinaryID) [][]universe.BinaryID {
	return u.Deps[id]
}

// NegativeDependenciesOf implements universe.PackageUniverse.
func (u *Universe) NegativeDependenciesOf(id universe.BinaryID) []universe.BinaryID {
	return u.NegDeps[id]
}

// ReverseDependenciesOf implements universe.PackageUniverse.
func (u *Universe) ReverseDependenciesOf(id universe.BinaryID) []universe.BinaryID {
	return u.RevDeps[id]
}

// Hints is a fixed in-memory universe.Hints.
type Hints struct {
	All []universe.Hint
}

// Search implements universe.Hints.
func (h *Hints) Search(hintType, pkg, version string) []universe.Hint {
	var out []universe.Hint

	for _, hint := range h.All {
		if hint.Type == hintType && hint.Package == pkg && (hint.Version == "all" || hint.Version == version) {
			out = append(out, hint)
		}
	}

	return out
}

// Excuse is a fixed in-memory universe.Excuse recording every mutation for
// assertions.
type Excuse struct {
	Missing      []string
	Unsatisfiable []string
	Policy       map[string]interface{}
	Pkgs         map[string][]string
	Depends      []universe.BinaryID

	VerdictInfo []string
	Info        []string
	Reasons     []string
	Bounty      int
	Penalty     int
	Results     []string
}

// NewExcuse creates an empty Excuse.
func NewExcuse() *Excuse {
	return &Excuse{Policy: make(map[string]interface{}), Pkgs: make(map[string][]string)}
}

// MissingBuilds implements universe.Excuse.
func (e *Excuse) MissingBuilds() []string { return e.Missing }

// UnsatisfiableOnArchs implements universe.Excuse.
func (e *Excuse) UnsatisfiableOnArchs() []string { return e.Unsatisfiable }

// PolicyInfo implements universe.Excuse.
func (e *Excuse) PolicyInfo() map[string]interface{} { return e.Policy }

// Packages implements universe.Excuse.
func (e *Excuse) Packages(arch string) []string { return e.Pkgs[arch] }

// DependsPackagesFlattened implements universe.Excuse.
func (e *Excuse) DependsPackagesFlattened() []universe.BinaryID { return e.Depends }

// AddVerdictInfo implements universe.Excuse.
func (e *Excuse) AddVerdictInfo(line string) { e.VerdictInfo = append(e.VerdictInfo, line) }

// AddInfo implements universe.Excuse.
func (e *Excuse) AddInfo(line string) { e.Info = append(e.Info, line) }

// AddReason implements universe.Excuse.
func (e *Excuse) AddReason(reason string) { e.Reasons = append(e.Reasons, reason) }

// AddBounty implements universe.Excuse.
func (e *Excuse) AddBounty(amount int) { e.Bounty += amount }

// AddPenalty implements universe.Excuse.
func (e *Excuse) AddPenalty(amount int) { e.Penalty += amount }

// SetAutopkgtestResults implements universe.Excuse.
func (e *Excuse) SetAutopkgtestResults(labels []string) { e.Results = labels }
