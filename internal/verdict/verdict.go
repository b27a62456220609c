// Package verdict implements the Verdict Engine: turning the set of test
// results, pending entries and baselines gathered for a migration
// candidate into a PASS/REJECTED verdict, with hint overrides and
// bounty/penalty adjustments.
//
// Grounded in apply_src_policy_impl from
// tools/britney2/britney2/policies/autopkgtest.py, adapted to mutate the
// narrow universe.Excuse interface instead of britney's Excuse object
// directly.
package verdict

import (
	"errors"
	"fmt"
	"sort"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/baseline"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
	"github.com/distrogate/autopkgtest-gate/internal/triggers"
	"github.com/distrogate/autopkgtest-gate/internal/universe"
)

// Verdict is the Verdict Engine's output domain.
type Verdict string

const (
	Pass                Verdict = "PASS"
	PassHinted          Verdict = "PASS_HINTED"
	RejectedTemporarily Verdict = "REJECTED_TEMPORARILY"
	RejectedPermanently Verdict = "REJECTED_PERMANENTLY"
)

// Label is a per-(testsrc, arch) classification shown on the excuse page.
type Label string

const (
	LabelAlwaysFail        Label = "ALWAYSFAIL"
	LabelRegression        Label = "REGRESSION"
	LabelRunning           Label = "RUNNING"
	LabelRunningReference  Label = "RUNNING-REFERENCE"
	LabelRunningAlwaysFail Label = "RUNNING-ALWAYSFAIL"
	LabelIgnoreFail        Label = "IGNORE-FAIL"
)

// ErrNoResultNoPending signals a test with no stored result and no pending
// entry, which should never happen if the Test Requester ran first.
var ErrNoResultNoPending = errors.New("verdict: no result and not pending")

// Config carries the adt_* tunables the Verdict Engine itself consumes.
type Config struct {
	IgnoreFailureForNewTests bool
	SuccessBounty            int
	RegressionPenalty        int
	SkipDepCheck             func(arch string) bool
}

// Engine evaluates candidates against a populated Result/Pending Store.
// The Test Requester is expected to have already been run for every
// (test, arch) pair before Evaluate is called — Engine only reads the
// resulting state.
type Engine struct {
	Store    *resultstore.Store
	Pending  *resultstore.PendingStore
	Baseline *baseline.Oracle
	Target   universe.Suite
	Hints    universe.Hints
	Config   Config
	URLs     URLs

	// EnqueueReference, when set, is invoked whenever a FAIL/OLD_FAIL with
	// no baseline, or an aged-out (OLD_*) one, surfaces a test present in
	// the target suite, so a reference run can be requested alongside it.
	EnqueueReference func(testsrc, arch string)
}

// Evaluate implements apply(candidate, excuse) -> verdict. arches is the
// configured architecture list for this run; tests is the Trigger
// Resolver's resolved (testsrc, testver) list for candidate, already
// requested via the Test Requester so Store/Pending reflect their current
// state.
func (e *Engine) Evaluate(candidate triggers.Candidate, tests []archive.Trigger, arches []string, excuse universe.Excuse) (Verdict, error) {
	if noBuiltBinaries(candidate) || contains(excuse.MissingBuilds(), "all") {
		excuse.AddVerdictInfo("autopkgtest: no built binaries, not running")
		return RejectedTemporarily, nil
	}

	runnableArches := make([]string, 0, len(arches))
	var messages []string

	sortedArches := append([]string(nil), arches...)
	sort.Strings(sortedArches)

	for _, arch := range sortedArches {
		switch {
		case contains(excuse.MissingBuilds(), arch):
			messages = append(messages, fmt.Sprintf("%s: no build yet", arch))
		case contains(excuse.UnsatisfiableOnArchs(), arch) && !e.skipDepCheck(arch):
			messages = append(messages, fmt.Sprintf("%s: uninstallable, not running", arch))
		default:
			runnableArches = append(runnableArches, arch)
		}
	}

	sortedTests := append([]archive.Trigger(nil), tests...)
	sort.Slice(sortedTests, func(i, j int) bool { return sortedTests[i].Source < sortedTests[j].Source })

	trigger := candidate.Source + "/" + candidate.Version

	verdict := Pass
	allSelfTestsPass := true
	sawSelfTest := false

	var allLabels []string

	for _, test := range sortedTests {
		labelSet := make(map[Label]bool)

		for _, arch := range runnableArches {
			label, err := e.label(trigger, test.Source, test.Version, arch)
			if err != nil {
				return "", err
			}

			labelSet[label] = true
			allLabels = append(allLabels, string(label))

			runID := e.Store.Get(trigger, test.Source, arch).RunID
			messages = append(messages, NewArchMessage(arch, test.Source, label, runID, e.URLs).String())
		}

		if labelSet[LabelRegression] {
			verdict = RejectedPermanently
		} else if (labelSet[LabelRunning] || labelSet[LabelRunningReference]) && verdict == Pass {
			verdict = RejectedTemporarily
		}

		if test.Source == candidate.Source {
			sawSelfTest = true

			if !(len(labelSet) == 1 && isPassLikeLabel(onlyLabel(labelSet))) {
				allSelfTestsPass = false
			}
		}
	}

	if !sawSelfTest {
		allSelfTestsPass = false
	}

	if verdict != Pass {
		if hints := e.Hints.Search("force-skiptest", candidate.Source, candidate.Version); len(hints) > 0 {
			verdict = PassHinted
			messages = append(messages, fmt.Sprintf("skip-test hint by %s", hints[0].User))
		}
	}

	if e.Config.SuccessBounty != 0 && verdict == Pass && allSelfTestsPass {
		excuse.AddBounty(e.Config.SuccessBounty)
	}

	if e.Config.RegressionPenalty != 0 && (verdict == RejectedTemporarily || verdict == RejectedPermanently) {
		excuse.AddPenalty(e.Config.RegressionPenalty)
		verdict = Pass
	}

	excuse.SetAutopkgtestResults(allLabels)

	line := fmt.Sprintf("autopkgtest for %s: %s", candidate.Source, joinMessages(messages))

	if verdict == RejectedTemporarily || verdict == RejectedPermanently {
		excuse.AddVerdictInfo(line)
	} else {
		excuse.AddInfo(line)
	}

	return verdict, nil
}

func (e *Engine) skipDepCheck(arch string) bool {
	if e.Config.SkipDepCheck == nil {
		return false
	}

	return e.Config.SkipDepCheck(arch)
}

// label maps one (testsrc, arch) pair's stored result, pending state, and
// baseline to a status label, looking up the Result/Pending Store under
// the candidate's own trigger — every test run, self or triggered, is
// recorded keyed by the trigger that motivated it, never by the test's
// own source/version.
func (e *Engine) label(trigger, testsrc, testver, arch string) (Label, error) {
	hasResult := e.Store.Has(trigger, testsrc, arch)
	result := e.Store.Get(trigger, testsrc, arch)
	pending := e.Pending.Contains(trigger, testsrc, arch)
	testInTarget := e.testExistsInTarget(testsrc, arch)

	if !hasResult {
		result.Status = archive.None
	}

	switch result.Status {
	case archive.Pass, archive.Neutral, archive.OldPass, archive.OldNeutral:
		return Label(result.Status), nil

	case archive.Fail, archive.OldFail:
		if e.forceBadTest(testsrc, testver, arch) {
			return LabelIgnoreFail, nil
		}

		if result.Status == archive.Fail && e.Config.IgnoreFailureForNewTests && !testInTarget {
			return LabelAlwaysFail, nil
		}

		baselineResult := e.baselineFor(testsrc, arch)

		if testInTarget && needsReferenceRun(baselineResult.Status) && e.EnqueueReference != nil {
			e.EnqueueReference(testsrc, arch)
		}

		if baselineResult.Status == archive.Fail || baselineResult.Status == archive.OldFail {
			return LabelAlwaysFail, nil
		}

		if baselineResult.Status == archive.None {
			return LabelRunningReference, nil
		}

		return LabelRegression, nil

	default: // archive.None: no result recorded yet
		if !pending {
			return "", fmt.Errorf("%w: %s/%s", ErrNoResultNoPending, testsrc, arch)
		}

		baselineResult := e.baselineFor(testsrc, arch)

		if (!testInTarget && e.Config.IgnoreFailureForNewTests) || baselineResult.Status == archive.Fail {
			return LabelRunningAlwaysFail, nil
		}

		return LabelRunning, nil
	}
}

// baselineFor applies the kernel-flavor special rule: outside reference
// mode, a linux-meta or linux/ test source never gets a pass-like baseline
// from a different kernel flavor, so the baseline is forced to FAIL.
func (e *Engine) baselineFor(testsrc, arch string) archive.Result {
	result := e.Baseline.BaselineFor(testsrc, arch)

	if e.Baseline.Mode() != baseline.Reference && isKernelFlavor(testsrc) {
		return archive.Result{Status: archive.Fail}
	}

	return result
}

// needsReferenceRun reports whether a baseline status is stale enough that a
// fresh migration-reference run should be requested alongside whatever
// label this lookup produces: no baseline yet, or one aged out by AgeOut.
func needsReferenceRun(status archive.Status) bool {
	switch status {
	case archive.None, archive.OldFail, archive.OldNeutral, archive.OldPass:
		return true
	default:
		return false
	}
}

func isKernelFlavor(testsrc string) bool {
	return hasPrefix(testsrc, "linux-meta") || hasPrefix(testsrc, "linux/")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// testExistsInTarget reports whether testsrc is known to the target suite
// on arch: either it produces a binary specific to arch, or it produces no
// architecture-specific binaries at all (arch:all only, present
// everywhere).
func (e *Engine) testExistsInTarget(testsrc, arch string) bool {
	src, ok := e.Target.Sources()[testsrc]
	if !ok {
		return false
	}

	hasArchSpecific := false

	for _, bin := range src.Binaries {
		if bin.Arch == "" || bin.Arch == "all" {
			continue
		}

		hasArchSpecific = true

		if bin.Arch == arch {
			return true
		}
	}

	return !hasArchSpecific
}

// forceBadTest reports whether a force-badtest hint matches testsrc at
// testver on arch: the hint targets architecture "source" or arch, with
// version "all" or a version at or above testver.
func (e *Engine) forceBadTest(testsrc, testver, arch string) bool {
	for _, hint := range e.Hints.Search("force-badtest", testsrc, testver) {
		if hint.Arch != "source" && hint.Arch != arch {
			continue
		}

		if hint.Version == "all" || archive.CompareVersions(hint.Version, testver) >= 0 {
			return true
		}
	}

	return false
}

func noBuiltBinaries(candidate triggers.Candidate) bool {
	return len(candidate.Binaries) == 0
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}

	return false
}

func isPassLikeLabel(l Label) bool {
	return l == Label(archive.Pass) || l == Label(archive.Neutral) ||
		l == Label(archive.OldPass) || l == Label(archive.OldNeutral)
}

func onlyLabel(set map[Label]bool) Label {
	for l := range set {
		return l
	}

	return ""
}

func joinMessages(messages []string) string {
	out := ""

	for i, m := range messages {
		if i > 0 {
			out += "; "
		}

		out += m
	}

	return out
}
