package resultstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
)

// marshalResult renders a Result as the canonical 4-element array
// [status, version_or_null, run_id, timestamp].
func marshalResult(r archive.Result) ([]byte, error) {
	var version interface{}
	if r.Version != "" {
		version = r.Version
	}

	return json.Marshal([]interface{}{string(r.Status), version, r.RunID, r.Timestamp})
}

// unmarshalResult decodes a leaf's stored JSON, applying legacy upgrades.
// loadTime fills in a missing timestamp, matching the load-time backfill
// the spec requires rather than a synthetic zero value.
func unmarshalResult(raw json.RawMessage, loadTime int64) (archive.Result, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return archive.Result{}, fmt.Errorf("decode result record: %w", err)
	}

	if len(fields) < 3 {
		return archive.Result{}, fmt.Errorf("result record has %d fields, want at least 3", len(fields))
	}

	status, err := decodeStatus(fields[0])
	if err != nil {
		return archive.Result{}, err
	}

	var version *string
	if err := json.Unmarshal(fields[1], &version); err != nil {
		return archive.Result{}, fmt.Errorf("decode result version: %w", err)
	}

	var runID string
	if err := json.Unmarshal(fields[2], &runID); err != nil {
		return archive.Result{}, fmt.Errorf("decode result run_id: %w", err)
	}

	timestamp := loadTime

	if len(fields) >= 4 {
		if err := json.Unmarshal(fields[3], &timestamp); err != nil {
			return archive.Result{}, fmt.Errorf("decode result timestamp: %w", err)
		}
	}

	result := archive.Result{Status: status, RunID: runID, Timestamp: timestamp}
	if version != nil {
		result.Version = *version
	}

	return result, nil
}

// decodeStatus accepts either the canonical status name or the legacy
// boolean encoding (true→PASS, false→FAIL).
func decodeStatus(raw json.RawMessage) (archive.Status, error) {
	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		if asBool {
			return archive.Pass, nil
		}

		return archive.Fail, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return "", fmt.Errorf("decode result status: %w", err)
	}

	return archive.Status(asString), nil
}

// Load reads the Result Store from a JSON document shaped
// {trigger: {source: {arch: [status, version, run_id, timestamp]}}},
// upgrading legacy records in place. A missing file is not an error: the
// store simply starts empty, matching first-run behavior.
func (s *Store) Load(path string, logger *slog.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read result store %s: %w", path, err)
	}

	var doc map[string]map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse result store %s: %w", path, err)
	}

	loadTime := now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for trigger, bySource := range doc {
		for src, byArch := range bySource {
			for arch, encoded := range byArch {
				result, err := unmarshalResult(encoded, loadTime)
				if err != nil {
					if logger != nil {
						logger.Warn("skipping unreadable result record",
							"trigger", trigger, "source", src, "arch", arch, "error", err)
					}

					continue
				}

				if _, ok := s.data[trigger]; !ok {
					s.data[trigger] = make(map[string]map[string]archive.Result)
				}

				if _, ok := s.data[trigger][src]; !ok {
					s.data[trigger][src] = make(map[string]archive.Result)
				}

				s.data[trigger][src][arch] = result
			}
		}
	}

	return nil
}

// Save atomically rewrites the Result Store to path: write to a sibling
// temp file, then rename over the destination. Refuses when the store is
// read-only (adt_shared_results_cache).
func (s *Store) Save(path string) error {
	if s.readOnly {
		return ErrReadOnly
	}

	s.mu.RLock()
	doc := make(map[string]map[string]map[string]json.RawMessage, len(s.data))

	for trigger, bySource := range s.data {
		encodedSource := make(map[string]map[string]json.RawMessage, len(bySource))

		for src, byArch := range bySource {
			encodedArch := make(map[string]json.RawMessage, len(byArch))

			for arch, result := range byArch {
				encoded, err := marshalResult(result)
				if err != nil {
					s.mu.RUnlock()
					return fmt.Errorf("encode result for %s/%s/%s: %w", trigger, src, arch, err)
				}

				encodedArch[arch] = encoded
			}

			encodedSource[src] = encodedArch
		}

		doc[trigger] = encodedSource
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result store: %w", err)
	}

	return writeFileAtomic(path, data)
}

// readOptionalFile reads path, returning (nil, nil) if it does not exist.
func readOptionalFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return raw, nil
}

// writeFileAtomic writes data to a temp file in the destination's directory
// and renames it into place, so a crash mid-write never leaves a truncated
// store file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("write temp file for %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file into %s: %w", path, err)
	}

	return nil
}
