// Package triggers implements the Trigger Resolver: for a migration
// candidate on one architecture, the set of tests that must run and the
// ordered list of source/version co-migration triggers those tests need for
// installability.
//
// Grounded in tests_for_source/request_tests_for_source from
// tools/britney2/britney2/policies/autopkgtest.py, adapted to the narrow
// universe.Suite/PackageUniverse/Excuse interfaces of internal/universe
// rather than britney's global archive state. The traversal shape is a
// worklist over a visited set, built from disjunctive dependency groups.
package triggers

import (
	"sort"
	"strings"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/universe"
)

// Candidate is the migration candidate under evaluation: a source package
// proposed to move from the source suite to the target suite.
type Candidate struct {
	Source   string
	Version  string
	Binaries []universe.BinaryID // every binary the candidate produces, all architectures
}

// Resolver computes tests and triggers against a fixed pair of suites and a
// package dependency universe.
type Resolver struct {
	source universe.Suite
	target universe.Suite
	deps   universe.PackageUniverse

	// testSuiteTriggerIndex inverts every known source's TestSuiteTriggers
	// field: binary name -> names of sources whose tests that binary
	// should trigger. Built once across both suites at construction, as
	// the original builds its inverse map across all suites at init.
	testSuiteTriggerIndex map[string][]string
}

// NewResolver builds a Resolver over the given source/target suites and
// package universe, indexing test-suite triggers from both suites.
func NewResolver(source, target universe.Suite, deps universe.PackageUniverse) *Resolver {
	r := &Resolver{
		source:                source,
		target:                target,
		deps:                  deps,
		testSuiteTriggerIndex: make(map[string][]string),
	}

	for _, suite := range []universe.Suite{source, target} {
		for _, src := range suite.Sources() {
			for _, binName := range src.TestSuiteTriggers {
				r.testSuiteTriggerIndex[binName] = appendUnique(r.testSuiteTriggerIndex[binName], src.Name)
			}
		}
	}

	return r
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}

	return append(list, v)
}

// Tests computes the sorted, deduplicated set of (testsrc, testver) pairs
// that must be evaluated for candidate on arch.
func (r *Resolver) Tests(candidate Candidate, arch string, excuse universe.Excuse) []archive.Trigger {
	if isKernelPackage(candidate.Source) {
		if _, hasMeta := r.target.Sources()["linux-meta"]; hasMeta {
			return nil
		}
	}

	seeds := r.kernelSeeds(candidate, arch)

	selfTested := r.isSelfTested(candidate, arch, excuse)

	if !hasBuiltOnThisArchOrIsArchAll(candidate, arch, r.target) {
		return nil
	}

	var tests []archive.Trigger

	seen := make(map[string]bool)

	addTest := func(testsrc, testver string) {
		if seen[testsrc] {
			return
		}

		seen[testsrc] = true
		tests = append(tests, archive.Trigger{Source: testsrc, Version: testver})
	}

	if selfTested {
		addTest(candidate.Source, candidate.Version)
	}

	allBinaries := append(append([]universe.BinaryID(nil), candidate.Binaries...), seeds...)

	// Reverse-dependency expansion. revdep's source is always resolved
	// through arch's own binaries table, never revdep's own Arch field: a
	// reverse dependency absent from that table on arch is skipped outright.
	for _, bin := range allBinaries {
		for _, revdep := range r.deps.ReverseDependenciesOf(bin) {
			if revdep.Arch != arch {
				continue
			}

			info, ok := r.target.Binaries(arch)[revdep.Name]
			if !ok {
				continue
			}

			targetSrc, ok := r.target.Sources()[info.Source]
			if !ok || targetSrc.Name == candidate.Source {
				continue
			}

			if targetSrc.HasAutopkgtest() {
				addTest(targetSrc.Name, targetSrc.Version)
			}
		}
	}

	// Test-suite-trigger expansion.
	for _, bin := range allBinaries {
		for _, triggeredSrcName := range r.testSuiteTriggerIndex[bin.Name] {
			targetSrc, ok := r.target.Sources()[triggeredSrcName]
			if !ok || targetSrc.Name == candidate.Source {
				continue
			}

			if targetSrc.HasAutopkgtest() {
				addTest(targetSrc.Name, targetSrc.Version)
			}
		}
	}

	sort.Slice(tests, func(i, j int) bool { return tests[i].Source < tests[j].Source })

	return tests
}

// isSelfTested reports whether the candidate itself has an autopkgtest and
// has at least one built binary on arch, per the "self-test" rule.
func (r *Resolver) isSelfTested(candidate Candidate, arch string, excuse universe.Excuse) bool {
	src, ok := r.source.Sources()[candidate.Source]
	if !ok {
		src, ok = r.target.Sources()[candidate.Source]
		if !ok {
			return false
		}
	}

	if !src.HasAutopkgtest() {
		return false
	}

	return len(excuse.Packages(arch)) > 0
}

// kernelSeeds returns extra reverse-dependency seed binaries for the
// linux-meta special case: when candidate is a linux-meta source and one of
// its binaries on arch has "-image" in its name, dkms (if present in the
// target suite on arch) is added as a seed.
func (r *Resolver) kernelSeeds(candidate Candidate, arch string) []universe.BinaryID {
	if !strings.HasPrefix(candidate.Source, "linux-meta") {
		return nil
	}

	hasImageBinary := false

	for _, bin := range candidate.Binaries {
		if bin.Arch == arch && strings.Contains(bin.Name, "-image") {
			hasImageBinary = true
			break
		}
	}

	if !hasImageBinary {
		return nil
	}

	if dkms, ok := r.target.Binaries(arch)["dkms"]; ok {
		return []universe.BinaryID{dkms.ID}
	}

	return nil
}

func isKernelPackage(src string) bool {
	return strings.HasPrefix(src, "linux") && !strings.HasPrefix(src, "linux-meta")
}

func (r *Resolver) sourceOf(suite universe.Suite, bin universe.BinaryID) (universe.SourceInfo, bool) {
	info, ok := suite.Binaries(bin.Arch)[bin.Name]
	if !ok {
		return universe.SourceInfo{}, false
	}

	src, ok := suite.Sources()[info.Source]

	return src, ok
}

// hasBuiltOnThisArchOrIsArchAll reports whether the candidate produces at
// least one arch-specific binary on arch, or produces no arch-specific
// binaries anywhere (i.e. it is arch:all only). A candidate that builds
// arch-specific binaries on *other* architectures but not this one is not
// yet built here and must be skipped, per
// has_built_on_this_arch_or_is_arch_all in tools/britney2/britney2/policies/autopkgtest.py.
func hasBuiltOnThisArchOrIsArchAll(candidate Candidate, arch string, target universe.Suite) bool {
	hasAnyArchSpecific := false

	for _, bin := range candidate.Binaries {
		if bin.Arch == "" || bin.Arch == "all" {
			continue
		}

		hasAnyArchSpecific = true

		if bin.Arch == arch {
			return true
		}
	}

	return !hasAnyArchSpecific
}
