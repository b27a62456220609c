package triggers

import (
	"sort"

	"github.com/distrogate/autopkgtest-gate/internal/universe"
)

// TriggersList computes the ordered, deduplicated list of "<source>/
// <version>" co-migration directives needed for candidate's tests to
// install on arch, with the candidate's own trigger always at index 0.
//
// Grounded in request_tests_for_source's bin_new/bin_triggers worklist
// traversal: starting from the candidate's own binaries, follow
// dependency groups that aren't already installable in the target suite,
// then fold in conflict-resolution binaries and the excuse's flattened
// depends, before projecting everything down to source/version triggers.
func (r *Resolver) TriggersList(candidate Candidate, arch string, excuse universe.Excuse) []string {
	binTriggers := make(map[universe.BinaryID]bool)
	visited := make(map[universe.BinaryID]bool)
	worklist := append([]universe.BinaryID(nil), candidate.Binaries...)

	for len(worklist) > 0 {
		bin := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if visited[bin] {
			continue
		}

		visited[bin] = true
		binTriggers[bin] = true

		for _, group := range r.deps.DependenciesOf(bin) {
			if r.groupInstallableInTarget(group) {
				continue
			}

			for _, alt := range group {
				if !visited[alt] && r.isNewComparedToTarget(alt) {
					worklist = append(worklist, alt)
				}
			}
		}
	}

	// Conflict-resolution binaries: present in target by name, absent in
	// source by name — approximates "a conflict resolved in the new version".
	for bin := range binTriggers {
		for _, neg := range r.deps.NegativeDependenciesOf(bin) {
			_, inTarget := r.target.Binaries(neg.Arch)[neg.Name]
			_, inSource := r.source.Binaries(neg.Arch)[neg.Name]

			if inTarget && !inSource {
				binTriggers[neg] = true
			}
		}
	}

	for _, bin := range excuse.DependsPackagesFlattened() {
		if bin.Arch == arch {
			binTriggers[bin] = true
		}
	}

	candidateBinSet := make(map[universe.BinaryID]bool, len(candidate.Binaries))
	for _, bin := range candidate.Binaries {
		candidateBinSet[bin] = true
	}

	triggerSet := make(map[string]bool)

	for bin := range binTriggers {
		if bin.Arch != arch {
			continue
		}

		r.addSourceTrigger(triggerSet, bin)

		if !candidateBinSet[bin] {
			for _, triggeredName := range r.testSuiteTriggerIndex[bin.Name] {
				r.addSourceTriggerByName(triggerSet, triggeredName)
			}
		}
	}

	primary := candidate.Source + "/" + candidate.Version
	delete(triggerSet, primary)

	others := make([]string, 0, len(triggerSet))
	for t := range triggerSet {
		others = append(others, t)
	}

	sort.Strings(others)

	return append([]string{primary}, others...)
}

// groupInstallableInTarget reports whether any alternative in a dependency
// disjunction group already resolves against the target suite.
func (r *Resolver) groupInstallableInTarget(group []universe.BinaryID) bool {
	for _, alt := range group {
		if _, ok := r.target.Binaries(alt.Arch)[alt.Name]; ok {
			return true
		}
	}

	return false
}

// isNewComparedToTarget reports whether a binary is produced by the source
// suite but absent by name from the target suite.
func (r *Resolver) isNewComparedToTarget(bin universe.BinaryID) bool {
	_, inSource := r.source.Binaries(bin.Arch)[bin.Name]
	_, inTarget := r.target.Binaries(bin.Arch)[bin.Name]

	return inSource && !inTarget
}

// addSourceTrigger emits "<source>/<version>" for bin's owning source in
// the source suite when that source is absent from the target, or present
// there at a different version.
func (r *Resolver) addSourceTrigger(triggerSet map[string]bool, bin universe.BinaryID) {
	src, ok := r.sourceOf(r.source, bin)
	if !ok {
		return
	}

	r.addSourceTriggerByName(triggerSet, src.Name)
}

func (r *Resolver) addSourceTriggerByName(triggerSet map[string]bool, name string) {
	src, ok := r.source.Sources()[name]
	if !ok {
		return
	}

	targetSrc, inTarget := r.target.Sources()[name]
	if !inTarget || targetSrc.Version != src.Version {
		triggerSet[src.Name+"/"+src.Version] = true
	}
}
