// Package archive provides the core domain model for the autopkgtest
// migration policy engine: results, triggers, and test requests.
package archive

import (
	"fmt"
	"strings"
)

// Status is the outcome of an autopkgtest run, or the absence of one.
// Statuses form a total order used to decide which of two results "wins"
// when merging: PASS < NEUTRAL < FAIL < OLD_PASS < OLD_NEUTRAL < OLD_FAIL < NONE.
type Status string

const (
	// Pass indicates the test suite ran and succeeded.
	Pass Status = "PASS"
	// Neutral indicates the test suite ran but declared itself inconclusive.
	Neutral Status = "NEUTRAL"
	// Fail indicates the test suite ran and failed.
	Fail Status = "FAIL"
	// OldPass is Pass aged out by ResultStore.AgeOut.
	OldPass Status = "OLD_PASS"
	// OldNeutral is Neutral aged out by ResultStore.AgeOut.
	OldNeutral Status = "OLD_NEUTRAL"
	// OldFail is Fail aged out by ResultStore.AgeOut.
	OldFail Status = "OLD_FAIL"
	// None means no result has ever been recorded.
	None Status = "NONE"
)

// statusRank fixes the total order used by the monotonic merge rule and by
// Less. Lower rank is a "better" (more wins) status.
var statusRank = map[Status]int{
	Pass:       0,
	Neutral:    1,
	Fail:       2,
	OldPass:    3,
	OldNeutral: 4,
	OldFail:    5,
	None:       6,
}

// Rank returns the status's position in the total order, lower is better.
// Unrecognized statuses rank last, after None.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}

	return len(statusRank)
}

// Less reports whether s is strictly better than other under the status
// ordering (PASS < NEUTRAL < FAIL < OLD_PASS < OLD_NEUTRAL < OLD_FAIL < NONE).
func (s Status) Less(other Status) bool {
	return s.Rank() < other.Rank()
}

// Valid reports whether s is one of the seven recognized statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Aged maps a live status to its OLD_* counterpart. Statuses without an
// aged form (None, and already-aged statuses) are returned unchanged.
func (s Status) Aged() Status {
	switch s {
	case Pass:
		return OldPass
	case Neutral:
		return OldNeutral
	case Fail:
		return OldFail
	default:
		return s
	}
}

// Result is a single (status, version, run_id, timestamp) record for one
// (trigger, source, arch) triple.
type Result struct {
	Status    Status
	Version   string
	RunID     string
	Timestamp int64
}

// ZeroResult is the implicit default a trigger/source/arch holds before any
// update is ever applied: (FAIL, "", "", 0).
func ZeroResult() Result {
	return Result{Status: Fail}
}

// ReferenceTrigger is the sentinel trigger used for baseline reference runs,
// distinct from any real source/version pair.
const ReferenceTrigger = "migration-reference/0"

// Trigger is a parsed "<source>/<version>" directive naming the package
// whose proposed migration motivated a test run.
type Trigger struct {
	Source  string
	Version string
}

// String renders the trigger back to its canonical "<source>/<version>" form.
func (t Trigger) String() string {
	return t.Source + "/" + t.Version
}

// ParseTrigger splits a "<source>/<version>" string into its parts. Malformed
// triggers (no slash, or an empty source) return an error; callers must log
// and skip rather than propagate a fatal error, per the ingest error policy.
func ParseTrigger(raw string) (Trigger, error) {
	idx := strings.Index(raw, "/")
	if idx <= 0 || idx == len(raw)-1 {
		return Trigger{}, fmt.Errorf("%w: %q", ErrMalformedTrigger, raw)
	}

	return Trigger{Source: raw[:idx], Version: raw[idx+1:]}, nil
}

// IsReference reports whether the trigger is the baseline reference sentinel.
func (t Trigger) IsReference() bool {
	return t.Source+"/"+t.Version == ReferenceTrigger
}

// TestRequest names a single test batch: a source/arch pair to run, the
// ordered set of co-migration triggers that motivate it, and whether the
// batch is large enough to route to the "huge" queue.
type TestRequest struct {
	Source   string
	Arch     string
	Triggers []string
	Huge     bool
}

// PrimaryTrigger returns the candidate's own "<source>/<version>" trigger,
// which TriggerResolver guarantees sits at index 0.
func (r TestRequest) PrimaryTrigger() string {
	if len(r.Triggers) == 0 {
		return ""
	}

	return r.Triggers[0]
}

// Srchash implements the archive source-hash convention used to shard
// object-store prefixes: the first four characters of a "lib*" source name,
// otherwise its first character. Panics are impossible; an empty src yields
// an empty hash, matching the original's slice-of-empty-string behavior.
func Srchash(src string) string {
	if strings.HasPrefix(src, "lib") {
		if len(src) < libHashLen {
			return src
		}

		return src[:libHashLen]
	}

	if src == "" {
		return ""
	}

	return src[:1]
}

const libHashLen = 4
