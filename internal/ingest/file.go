package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
)

// fileResultEntry is one element of the file back-end's JSON drop.
type fileResultEntry struct {
	Suite     string `json:"suite"`
	Trigger   string `json:"trigger"`
	Package   string `json:"package"`
	Arch      string `json:"arch"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	RunID     string `json:"run_id"`
	UpdatedAt string `json:"updated_at"`
}

type fileResultDocument struct {
	Results []fileResultEntry `json:"results"`
}

// blockedOnCIInfra is substituted for a missing version field, so a result
// still records under a stable, greppable placeholder rather than an empty
// string.
const blockedOnCIInfra = "blocked-on-ci-infra"

// FileBackend ingests a single JSON blob shaped {"results": [...]}.
// Unlike the object-store back-end, it fully reconstructs the Pending
// Store on every run: entries missing a status become pending, everything
// else is a terminal result.
type FileBackend struct {
	Path string
}

// Ingest reads Path and updates store/pending for every entry whose suite
// matches targetSuite. baselineIsReference selects the reference-trigger
// monotonic-merge override (see resultstore.Store.Update).
func (f *FileBackend) Ingest(
	store *resultstore.Store,
	pending *resultstore.PendingStore,
	targetSuite string,
	baselineIsReference bool,
	logger *slog.Logger,
) error {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("%w: read results drop %s: %w", ErrFatal, f.Path, err)
	}

	var doc fileResultDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: parse results drop %s: %w", ErrFatal, f.Path, err)
	}

	pending.Reset()

	for _, entry := range doc.Results {
		f.ingestEntry(entry, store, pending, targetSuite, baselineIsReference, logger)
	}

	return nil
}

func (f *FileBackend) ingestEntry(
	entry fileResultEntry,
	store *resultstore.Store,
	pending *resultstore.PendingStore,
	targetSuite string,
	baselineIsReference bool,
	logger *slog.Logger,
) {
	if entry.Suite != targetSuite {
		return
	}

	if entry.Trigger == "" {
		return
	}

	version := entry.Version
	if version == "" {
		version = blockedOnCIInfra
	}

	for _, trigger := range strings.Fields(entry.Trigger) {
		if entry.Status == "" {
			pending.Add(trigger, entry.Package, entry.Arch)
			continue
		}

		if strings.EqualFold(entry.Status, "tmpfail") {
			continue
		}

		status := archive.Status(strings.ToUpper(entry.Status))
		if !status.Valid() {
			if logger != nil {
				logger.Warn("dropping result with unrecognized status",
					"trigger", trigger, "package", entry.Package, "status", entry.Status)
			}

			continue
		}

		accept, err := resultstore.CheckTriggerVersion(trigger, entry.Package, version)
		if err != nil {
			if logger != nil {
				logger.Warn("dropping result with malformed trigger", "trigger", trigger, "error", err)
			}

			continue
		}

		if !accept {
			continue
		}

		timestamp := parseUpdatedAt(entry.UpdatedAt)

		store.Update(trigger, entry.Package, entry.Arch, archive.Result{
			Status:    status,
			Version:   version,
			RunID:     entry.RunID,
			Timestamp: timestamp,
		}, baselineIsReference)

		pending.Remove(trigger, entry.Package, entry.Arch)
	}
}

// parseUpdatedAt parses the first 19 characters of updated_at
// ("YYYY-MM-DDTHH:MM:SS", dropping any trailing timezone offset) to epoch
// seconds. An unparseable timestamp yields 0 rather than aborting ingest.
func parseUpdatedAt(raw string) int64 {
	const layout = "2006-01-02T15:04:05"

	trimmed := raw
	if len(trimmed) > len(layout) {
		trimmed = trimmed[:len(layout)]
	}

	t, err := time.Parse(layout, trimmed)
	if err != nil {
		return 0
	}

	return t.Unix()
}
