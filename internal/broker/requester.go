package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/baseline"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
)

// ObjectStoreFetcher is the narrow slice of ingest.ObjectStoreBackend the
// Test Requester needs: pull any new results for (src, arch) before
// deciding whether a fresh run is still required.
type ObjectStoreFetcher interface {
	FetchResults(ctx context.Context, store *resultstore.Store, pending *resultstore.PendingStore,
		baselineIsReference bool, src, arch string, logger *slog.Logger) error
}

// Requester implements pkg_test_request: given a trigger and a
// (testsrc, arch) pair, decide whether a fresh autopkgtest run must be
// queued, and if so dispatch it through Sink.
type Requester struct {
	Store              *resultstore.Store
	Pending            *resultstore.PendingStore
	Baseline           *baseline.Oracle
	ObjectStore        ObjectStoreFetcher // nil when the file ingest backend is in use
	Sink               Sink
	Series             string
	PPAs               []string
	RetryOlderThanDays int // 0 disables the retry-window branch
	DryRun             bool
	Logger             *slog.Logger
	Now                func() time.Time

	// PersistPath, when non-empty, is where the Pending Store is atomically
	// rewritten after every successful broker-sink publish. The file sink
	// never sets this; it never persists across runs.
	PersistPath string
}

func (r *Requester) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}

	return time.Now()
}

// Request evaluates the decision tree for one (testsrc, arch) against the
// full triggers list (candidate's own "<source>/<version>" at index 0,
// per triggers.Resolver.TriggersList) and dispatches a test request when
// required. huge marks the request for the "huge" queue when no PPA
// routing applies. Only the primary trigger is used as the Result/Pending
// Store lookup key; the rest of triggersList rides along in the published
// request body as co-migration installability helpers.
func (r *Requester) Request(ctx context.Context, triggersList []string, testsrc, arch string, huge bool) error {
	trigger := triggersList[0]

	if !r.Store.Has(trigger, testsrc, arch) && r.ObjectStore != nil {
		baselineIsReference := r.Baseline.Mode() == baseline.Reference

		if err := r.ObjectStore.FetchResults(ctx, r.Store, r.Pending, baselineIsReference, testsrc, arch, r.Logger); err != nil {
			return err
		}

		if r.Store.Has(trigger, testsrc, arch) {
			return nil
		}
	}

	if r.Store.Has(trigger, testsrc, arch) {
		result := r.Store.Get(trigger, testsrc, arch)

		if shouldReturnOnExistingResult(result, r.baselineFor(testsrc, arch), r.RetryOlderThanDays, r.ObjectStore != nil, r.now()) {
			return nil
		}
	}

	if r.Pending.Contains(trigger, testsrc, arch) {
		return nil
	}

	r.Pending.Add(trigger, testsrc, arch)

	if r.DryRun {
		return nil
	}

	queue := ResolveQueue(r.PPAs, huge)
	req := NewRequest(testsrc, queue, triggersList, r.PPAs, r.now())

	if err := r.Sink.Publish(ctx, req); err != nil {
		return err
	}

	if r.PersistPath != "" {
		if err := r.Pending.Save(r.PersistPath); err != nil && r.Logger != nil {
			r.Logger.Warn("failed to persist pending store after publish", "error", err)
		}
	}

	return nil
}

func (r *Requester) baselineFor(testsrc, arch string) archive.Result {
	if r.Baseline == nil {
		return archive.Result{Status: archive.None}
	}

	return r.Baseline.BaselineFor(testsrc, arch)
}

// shouldReturnOnExistingResult implements the "Result present" branch of
// pkg_test_request: OLD_* statuses fall through to a possible re-queue;
// a FAIL whose baseline is a pass-like status retries once the retry
// window has elapsed; otherwise PASS/NEUTRAL return, and a file-backend
// FAIL (no object store to refresh from) also returns since no new data
// is expected.
func shouldReturnOnExistingResult(result, baselineResult archive.Result, retryOlderThanDays int, usesObjectStore bool, now time.Time) bool {
	if isAged(result.Status) {
		return false
	}

	if result.Status == archive.Fail {
		if isPassLike(baselineResult.Status) && retryOlderThanDays > 0 {
			retryAt := result.Timestamp + int64(retryOlderThanDays)*86400
			if retryAt < now.Unix() {
				return false // retry: fall through to re-queue
			}
		}

		// Neither retry branch fired: a file-backend FAIL returns (no new
		// data is ever expected from a one-shot drop); an object-store FAIL
		// falls through to re-queue, since a fresh run might still surface.
		return !usesObjectStore
	}

	return true
}

func isAged(s archive.Status) bool {
	return s == archive.OldPass || s == archive.OldNeutral || s == archive.OldFail
}

func isPassLike(s archive.Status) bool {
	return s == archive.Pass || s == archive.Neutral || s == archive.OldPass || s == archive.OldNeutral
}
