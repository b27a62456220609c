package ingest

import (
	"archive/tar"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
)

// httpTimeout bounds every object-store HTTP call, per the 30-second
// timeout the concurrency model requires (timeouts other than a 401 are
// fatal to the run).
const httpTimeout = 30 * time.Second

// ObjectStoreBackend pulls new results from a swift-style object store:
// listing queries return newline-separated run paths, and each run's
// result.tar carries exitcode/testpkg-version/testinfo.json. Fetches are
// memoized per (source, arch) for the lifetime of the backend.
type ObjectStoreBackend struct {
	BaseURL     string
	Container   string
	Series      string
	SharedCache bool // when true, no marker is sent — every run is re-listed

	client  *http.Client
	limiter *rate.Limiter

	mu   sync.Mutex
	done map[[2]string]bool
}

// NewObjectStoreBackend creates a backend rate-limited to one request per
// interval (burst 1), pacing listing/artifact HTTP calls against the
// object store the way a swift client throttles itself against a shared
// service.
func NewObjectStoreBackend(baseURL, container, series string, sharedCache bool, requestsPerSecond float64) *ObjectStoreBackend {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}

	return &ObjectStoreBackend{
		BaseURL:     baseURL,
		Container:   container,
		Series:      series,
		SharedCache: sharedCache,
		client:      &http.Client{Timeout: httpTimeout},
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		done:        make(map[[2]string]bool),
	}
}

// FetchResults lists and ingests every new run for (src, arch), at most
// once per backend lifetime. Returns ErrFatal-wrapped errors for anything
// that must abort the whole migration cycle; ErrContainerMissing and
// per-artifact problems are logged and absorbed.
func (o *ObjectStoreBackend) FetchResults(
	ctx context.Context,
	store *resultstore.Store,
	pending *resultstore.PendingStore,
	baselineIsReference bool,
	src, arch string,
	logger *slog.Logger,
) error {
	key := [2]string{src, arch}

	o.mu.Lock()
	if o.done[key] {
		o.mu.Unlock()
		return nil
	}
	o.done[key] = true
	o.mu.Unlock()

	paths, err := o.listRuns(ctx, store, src, arch)
	if err != nil {
		if errors.Is(err, ErrContainerMissing) {
			if logger != nil {
				logger.Info("object store container not yet present", "source", src, "arch", arch)
			}

			return nil
		}

		return err
	}

	for _, path := range paths {
		if err := o.fetchOneResult(ctx, store, pending, baselineIsReference, src, arch, path, logger); err != nil {
			if errors.Is(err, ErrFatal) {
				return err
			}

			if logger != nil {
				logger.Warn("skipping damaged or missing artifact", "path", path, "error", err)
			}
		}
	}

	return nil
}

// listRuns queries the object-store listing for (src, arch) and returns the
// newline-separated run paths it names.
func (o *ObjectStoreBackend) listRuns(ctx context.Context, store *resultstore.Store, src, arch string) ([]string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", ErrFatal, err)
	}

	prefix := fmt.Sprintf("%s/%s/%s/%s/", o.Series, arch, archive.Srchash(src), src)

	url := fmt.Sprintf("%s/%s?prefix=%s&delimiter=@", o.BaseURL, o.Container, prefix)

	if !o.SharedCache {
		if marker := o.latestRunID(store, src, arch); marker != "" {
			url += "&marker=" + marker
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build listing request: %w", ErrFatal, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: listing request for %s/%s: %w", ErrFatal, src, arch, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return readLines(resp.Body), nil
	case http.StatusNoContent:
		return nil, nil
	case http.StatusUnauthorized:
		return nil, ErrContainerMissing
	default:
		return nil, fmt.Errorf("%w: listing for %s/%s returned HTTP %d", ErrFatal, src, arch, resp.StatusCode)
	}
}

// latestRunID returns the most recent known run_id for (src, arch) across
// every trigger, used as the listing marker so only newer runs are fetched.
func (o *ObjectStoreBackend) latestRunID(store *resultstore.Store, src, arch string) string {
	var latest string

	for _, leaf := range store.IterLeaves() {
		if leaf.Source != src || leaf.Arch != arch {
			continue
		}

		if leaf.Result.RunID > latest {
			latest = leaf.Result.RunID
		}
	}

	return latest
}

func readLines(r io.Reader) []string {
	var lines []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}

// testInfo is the subset of testinfo.json this backend needs.
type testInfo struct {
	CustomEnvironment []string `json:"custom_environment"`
}

// fetchOneResult downloads <path>/result.tar, extracts its members, and
// folds the result into store/pending for every trigger the artifact
// names. A 404 on the artifact itself is logged and skipped without
// reading any tar content — matching fetch_one_result in the original,
// where the 404 branch returns before the tar is ever opened.
func (o *ObjectStoreBackend) fetchOneResult(
	ctx context.Context,
	store *resultstore.Store,
	pending *resultstore.PendingStore,
	baselineIsReference bool,
	src, arch, path string,
	logger *slog.Logger,
) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrFatal, err)
	}

	url := fmt.Sprintf("%s/%s/%s/result.tar", o.BaseURL, o.Container, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build artifact request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetch artifact %s: %w", ErrFatal, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		if logger != nil {
			logger.Warn("artifact not found, skipping", "path", path)
		}

		return nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: artifact %s returned HTTP %d", ErrFatal, path, resp.StatusCode)
	}

	exitcode, testpkgVersion, info, err := extractArtifact(resp.Body)
	if err != nil {
		return err
	}

	fields := strings.Fields(testpkgVersion)
	if len(fields) != 2 {
		return fmt.Errorf("malformed testpkg-version %q", testpkgVersion)
	}

	ressrc, resver := fields[0], fields[1]
	if ressrc != src {
		return fmt.Errorf("artifact source %q does not match requested %q", ressrc, src)
	}

	triggerTokens := extractTriggers(info)
	if len(triggerTokens) == 0 {
		// No triggers recorded: unconditional skip (see the source's
		// empty-result_triggers log-format bug, fixed here by not logging
		// a formatted message with no argument at all).
		return nil
	}

	runID := lastPathSegment(path)
	timestamp := parseRunTimestamp(runID)
	status := mapExitcode(exitcode)

	for _, trigger := range triggerTokens {
		accept, err := resultstore.CheckTriggerVersion(trigger, src, resver)
		if err != nil {
			if logger != nil {
				logger.Warn("dropping result with malformed trigger", "trigger", trigger, "error", err)
			}

			continue
		}

		if !accept {
			continue
		}

		pending.Remove(trigger, src, arch)
		store.Update(trigger, src, arch, archive.Result{
			Status:    status,
			Version:   resver,
			RunID:     runID,
			Timestamp: timestamp,
		}, baselineIsReference)
	}

	return nil
}

func mapExitcode(code int) archive.Status {
	switch code {
	case 0, 2:
		return archive.Pass
	case 8:
		return archive.Neutral
	default:
		return archive.Fail
	}
}

// extractTriggers pulls ADT_TEST_TRIGGERS= from testinfo.json's
// custom_environment and returns every whitespace-separated token
// containing "/".
func extractTriggers(info testInfo) []string {
	const prefix = "ADT_TEST_TRIGGERS="

	for _, entry := range info.CustomEnvironment {
		if !strings.HasPrefix(entry, prefix) {
			continue
		}

		var tokens []string

		for _, tok := range strings.Fields(strings.TrimPrefix(entry, prefix)) {
			if strings.Contains(tok, "/") {
				tokens = append(tokens, tok)
			}
		}

		return tokens
	}

	return nil
}

func lastPathSegment(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}

	return trimmed
}

// parseRunTimestamp parses the "YYYYMMDD_HHMMSS@" prefix of a run_id
// segment into epoch seconds; an unparseable prefix yields 0.
func parseRunTimestamp(runID string) int64 {
	at := strings.Index(runID, "@")
	if at < 0 {
		return 0
	}

	t, err := time.Parse("20060102_150405", runID[:at])
	if err != nil {
		return 0
	}

	return t.Unix()
}

// extractArtifact reads result.tar and returns the exitcode, the
// "testpkg-version" line, and the parsed testinfo.json. Damaged tars
// (missing members, bad integers, tar errors) are reported as plain errors
// for the caller to log and skip.
func extractArtifact(r io.Reader) (exitcode int, testpkgVersion string, info testInfo, err error) {
	tr := tar.NewReader(r)

	var (
		haveExitcode bool
		haveVersion  bool
		haveInfo     bool
	)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return 0, "", testInfo{}, fmt.Errorf("read tar: %w", err)
		}

		switch header.Name {
		case "exitcode":
			raw, err := io.ReadAll(tr)
			if err != nil {
				return 0, "", testInfo{}, fmt.Errorf("read exitcode: %w", err)
			}

			exitcode, err = strconv.Atoi(strings.TrimSpace(string(raw)))
			if err != nil {
				return 0, "", testInfo{}, fmt.Errorf("parse exitcode: %w", err)
			}

			haveExitcode = true
		case "testpkg-version":
			raw, err := io.ReadAll(tr)
			if err != nil {
				return 0, "", testInfo{}, fmt.Errorf("read testpkg-version: %w", err)
			}

			testpkgVersion = strings.TrimSpace(string(raw))
			haveVersion = true
		case "testinfo.json":
			raw, err := io.ReadAll(tr)
			if err != nil {
				return 0, "", testInfo{}, fmt.Errorf("read testinfo.json: %w", err)
			}

			if err := json.Unmarshal(raw, &info); err != nil {
				return 0, "", testInfo{}, fmt.Errorf("parse testinfo.json: %w", err)
			}

			haveInfo = true
		}
	}

	if !haveExitcode || !haveVersion || !haveInfo {
		return 0, "", testInfo{}, fmt.Errorf("artifact missing required member (exitcode=%v version=%v testinfo=%v)",
			haveExitcode, haveVersion, haveInfo)
	}

	return exitcode, testpkgVersion, info, nil
}
