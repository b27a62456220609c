// Package universe declares the narrow read-only interfaces the policy
// engine consumes from its external collaborators: the suite model, the
// package dependency universe, the excuse object, and operator hints.
//
// None of these are implemented here beyond the value types. universetest
// holds test doubles; internal/universe/snapshot loads a Suite and
// PackageUniverse from a JSON export, internal/hints implements Hints, and
// internal/api builds an Excuse from each evaluate request.
// Each interface is kept narrow on purpose: callers only see the handful
// of read operations they actually need, never a concrete storage type.
package universe

// BinaryID identifies one binary package on one architecture.
type BinaryID struct {
	Name string
	Arch string
}

// BinaryInfo describes a binary package as known to a suite.
type BinaryInfo struct {
	ID     BinaryID
	Source string
	Arch   string // "" or "all" for architecture-independent binaries
}

// SourceInfo describes a source package as known to a suite.
type SourceInfo struct {
	Name              string
	Version           string
	Binaries          []BinaryID
	TestSuite         []string // raw Testsuite field entries, e.g. "autopkgtest", "autopkgtest-pkg-perl"
	TestSuiteTriggers []string // binary names whose changes should trigger this source's tests
}

// HasAutopkgtest reports whether the source declares an autopkgtest,
// either directly or via the autodep8 "autopkgtest-pkg*" convention.
func (s SourceInfo) HasAutopkgtest() bool {
	for _, entry := range s.TestSuite {
		if entry == "autopkgtest" || hasAutodep8Prefix(entry) {
			return true
		}
	}

	return false
}

func hasAutodep8Prefix(entry string) bool {
	const prefix = "autopkgtest-pkg"
	return len(entry) >= len(prefix) && entry[:len(prefix)] == prefix
}

// Suite is a read-only view of one archive suite (e.g. "source" or
// "target"): its sources and, per architecture, its binaries.
type Suite interface {
	// Sources returns every source package known to this suite, keyed by name.
	Sources() map[string]SourceInfo
	// Binaries returns every binary package on arch known to this suite, keyed by name.
	Binaries(arch string) map[string]BinaryInfo
}

// PackageUniverse answers dependency-closure queries over binary packages,
// as required by the Trigger Resolver.
type PackageUniverse interface {
	// DependenciesOf returns the binary's dependency groups: each inner
	// slice is a disjunction of alternatives satisfying one dependency.
	DependenciesOf(id BinaryID) [][]BinaryID
	// NegativeDependenciesOf returns the binaries the given binary
	// conflicts with or breaks.
	NegativeDependenciesOf(id BinaryID) []BinaryID
	// ReverseDependenciesOf returns every binary that depends on id.
	ReverseDependenciesOf(id BinaryID) []BinaryID
}

// Hint is a single operator directive targeting a package/version.
type Hint struct {
	Type    string // "force-skiptest", "force-badtest", ...
	User    string
	Package string
	Arch    string // architecture the hint targets, or "source" for every architecture
	Version string // "all" or a specific version
	Reason  string
}

// Hints answers hint lookups by (type, package, version).
type Hints interface {
	// Search returns every hint of the given type targeting package at version.
	Search(hintType, pkg, version string) []Hint
}

// Excuse is the read/write surface the Verdict Engine mutates: the
// per-candidate migration excuse, carrying its built/uninstallable arch
// lists, free-text annotations, score adjustments, and autopkgtest result
// labels.
type Excuse interface {
	MissingBuilds() []string
	UnsatisfiableOnArchs() []string
	PolicyInfo() map[string]interface{}
	Packages(arch string) []string
	DependsPackagesFlattened() []BinaryID

	AddVerdictInfo(line string)
	AddInfo(line string)
	AddReason(reason string)
	AddBounty(amount int)
	AddPenalty(amount int)
	SetAutopkgtestResults(labels []string)
}
