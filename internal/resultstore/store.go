// Package resultstore provides the persistent trigger → source → arch →
// result mapping (the Result Store) and the trigger → source → [arch]
// mapping of tests awaiting a result (the Pending Store).
//
// Both stores follow the same shape as internal/storage's in-memory API key
// store: a mutex-guarded nested map that always hands copies to callers,
// generalized here from a single-level map to the three-level
// trigger/source/arch nesting the autopkgtest policy needs.
package resultstore

import (
	"errors"
	"sync"
	"time"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
)

var (
	// ErrReadOnly is returned by Save when the store was opened in shared
	// (read-only) mode — see adt_shared_results_cache.
	ErrReadOnly = errors.New("result store is read-only (shared cache)")
)

// Leaf is one flattened (trigger, source, arch, result) record, returned by
// IterLeaves for callers that need to walk the whole store (aging, saving).
type Leaf struct {
	Trigger string
	Source  string
	Arch    string
	Result  archive.Result
}

// Store is the process-local Result Store: trigger → source → arch →
// archive.Result, guarded by a mutex and always returning copies.
type Store struct {
	mu       sync.RWMutex
	data     map[string]map[string]map[string]archive.Result
	readOnly bool
}

// New creates an empty Result Store. Pass readOnly true when
// adt_shared_results_cache is configured, so Save refuses to overwrite the
// shared file.
func New(readOnly bool) *Store {
	return &Store{
		data:     make(map[string]map[string]map[string]archive.Result),
		readOnly: readOnly,
	}
}

// Get returns the stored result for (trigger, src, arch), or the implicit
// zero result (FAIL, "", "", 0) if none is recorded.
func (s *Store) Get(trigger, src, arch string) archive.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bySource, ok := s.data[trigger]; ok {
		if byArch, ok := bySource[src]; ok {
			if result, ok := byArch[arch]; ok {
				return result
			}
		}
	}

	return archive.ZeroResult()
}

// Has reports whether any result at all (including the implicit zero one)
// has ever been recorded for (trigger, src, arch).
func (s *Store) Has(trigger, src, arch string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bySource, ok := s.data[trigger]; ok {
		if byArch, ok := bySource[src]; ok {
			_, ok := byArch[arch]
			return ok
		}
	}

	return false
}

// Update applies the monotonic merge rule against the stored record for
// (trigger, src, arch), and reports whether the stored record changed.
//
// baselineIsReference selects the reference-trigger override: when true and
// trigger is archive.ReferenceTrigger, the incoming result always overwrites
// if its timestamp is newer, regardless of status.
func (s *Store) Update(trigger, src, arch string, incoming archive.Result, baselineIsReference bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySource, ok := s.data[trigger]
	if !ok {
		bySource = make(map[string]map[string]archive.Result)
		s.data[trigger] = bySource
	}

	byArch, ok := bySource[src]
	if !ok {
		byArch = make(map[string]archive.Result)
		bySource[src] = byArch
	}

	current, existed := byArch[arch]
	if !existed {
		current = archive.ZeroResult()
	}

	if !shouldOverwrite(trigger, current, incoming, baselineIsReference) {
		return false
	}

	byArch[arch] = incoming

	return true
}

// shouldOverwrite implements the monotonic merge rule: a reference-trigger
// override under "reference" baseline mode depends only on recency; every
// other trigger overwrites on strictly better status, or equal status with a
// strictly newer timestamp.
func shouldOverwrite(trigger string, current, incoming archive.Result, baselineIsReference bool) bool {
	if baselineIsReference && trigger == archive.ReferenceTrigger {
		return incoming.Timestamp > current.Timestamp
	}

	if incoming.Status.Less(current.Status) {
		return true
	}

	if incoming.Status == current.Status && incoming.Timestamp > current.Timestamp {
		return true
	}

	return false
}

// CheckTriggerVersion implements the trigger version check: when trigger
// parses as "<trigsrc>/<trigver>" and trigsrc == src, an incoming result for
// a version older than trigver must be dropped before Update is ever called.
// Malformed triggers are reported via the error return so the caller can log
// and skip, per the ingest error policy.
func CheckTriggerVersion(trigger, src, version string) (accept bool, err error) {
	trig, err := archive.ParseTrigger(trigger)
	if err != nil {
		return false, err
	}

	if trig.Source != src {
		return true, nil
	}

	return archive.CompareVersions(version, trig.Version) >= 0, nil
}

// AgeOut walks every leaf and maps live statuses to their OLD_* counterpart
// when either the trigger is the reference sentinel and its timestamp is
// older than now-referenceMaxAge seconds, or isInAnySuite reports the
// result's version is no longer present in any known suite.
func (s *Store) AgeOut(now int64, referenceMaxAge int64, isInAnySuite func(src, version string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for trigger, bySource := range s.data {
		isReference := trigger == archive.ReferenceTrigger

		for src, byArch := range bySource {
			for arch, result := range byArch {
				stale := isInAnySuite != nil && !isInAnySuite(src, result.Version)

				if isReference && referenceMaxAge > 0 && result.Timestamp < now-referenceMaxAge {
					stale = true
				}

				if stale {
					result.Status = result.Status.Aged()
					byArch[arch] = result
				}
			}
		}
	}
}

// IterLeaves returns every (trigger, source, arch, result) record as a flat
// slice, used for saving and for baseline/latest-run scans.
func (s *Store) IterLeaves() []Leaf {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var leaves []Leaf

	for trigger, bySource := range s.data {
		for src, byArch := range bySource {
			for arch, result := range byArch {
				leaves = append(leaves, Leaf{Trigger: trigger, Source: src, Arch: arch, Result: result})
			}
		}
	}

	return leaves
}

// ReadOnly reports whether this store refuses Save (adt_shared_results_cache).
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// now is overridable in tests; production code always uses time.Now.
var now = func() int64 { return time.Now().Unix() }
