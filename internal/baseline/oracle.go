// Package baseline implements the Baseline Oracle: the reference or
// historical "known good" result for a (source, architecture) pair, used by
// the Verdict Engine to classify a FAIL as a regression or an always-fail.
package baseline

import (
	"sync"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
)

// Mode selects how the oracle computes a baseline.
type Mode int

const (
	// Historical scans every trigger for (src, arch) and returns the most
	// recent non-FAIL result, the default mode.
	Historical Mode = iota
	// Reference looks up the distinguished migration-reference/0 trigger,
	// selected by configuring adt_baseline == "reference".
	Reference
)

type key struct {
	src  string
	arch string
}

// Oracle answers per-(source, arch) baseline lookups against a Result
// Store, memoized for the lifetime of the process the way the source's
// result_in_baseline cache is, but as an explicit per-instance cache rather
// than module-global state.
type Oracle struct {
	store *resultstore.Store
	mode  Mode

	mu    sync.Mutex
	cache map[key]archive.Result
}

// New creates a Baseline Oracle reading from store in the given mode.
func New(store *resultstore.Store, mode Mode) *Oracle {
	return &Oracle{
		store: store,
		mode:  mode,
		cache: make(map[key]archive.Result),
	}
}

// BaselineFor returns the baseline result for (src, arch), memoized. The
// returned Result is always a value copy; callers may not mutate the
// oracle's cache through it.
func (o *Oracle) BaselineFor(src, arch string) archive.Result {
	k := key{src: src, arch: arch}

	o.mu.Lock()
	if cached, ok := o.cache[k]; ok {
		o.mu.Unlock()
		return cached
	}
	o.mu.Unlock()

	var result archive.Result

	switch o.mode {
	case Reference:
		if o.store.Has(archive.ReferenceTrigger, src, arch) {
			result = o.store.Get(archive.ReferenceTrigger, src, arch)
		} else {
			result = archive.Result{Status: archive.None}
		}
	default:
		result = o.historicalBaseline(src, arch)
	}

	o.mu.Lock()
	o.cache[k] = result
	o.mu.Unlock()

	return result
}

// historicalBaseline scans every trigger's result for (src, arch) and
// returns the most recent result that is not FAIL/OLD_FAIL, stopping early
// the moment a PASS is found (the best possible baseline). Absent any
// qualifying result, the default is (FAIL, "", "", 0).
func (o *Oracle) historicalBaseline(src, arch string) archive.Result {
	best := archive.Result{Status: archive.Fail}
	haveBest := false

	for _, leaf := range o.store.IterLeaves() {
		if leaf.Source != src || leaf.Arch != arch {
			continue
		}

		if leaf.Result.Status == archive.Fail || leaf.Result.Status == archive.OldFail {
			continue
		}

		if leaf.Result.Status == archive.Pass {
			return leaf.Result
		}

		if !haveBest || leaf.Result.Timestamp > best.Timestamp {
			best = leaf.Result
			haveBest = true
		}
	}

	return best
}

// Mode reports which baseline strategy this oracle uses.
func (o *Oracle) Mode() Mode {
	return o.mode
}

// Reset clears the memoization cache, used between migration cycles.
func (o *Oracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cache = make(map[key]archive.Result)
}
