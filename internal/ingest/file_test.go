package ingest_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/ingest"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
)

func writeDrop(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestFileBackendIngestTerminalResult(t *testing.T) {
	path := writeDrop(t, `{"results": [
		{"suite": "bookworm", "trigger": "foo/2.0", "package": "foo", "arch": "amd64",
		 "version": "2.0", "status": "PASS", "run_id": "r1", "updated_at": "2026-01-02T03:04:05"}
	]}`)

	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	backend := &ingest.FileBackend{Path: path}

	err := backend.Ingest(store, pending, "bookworm", false, slog.Default())
	require.NoError(t, err)

	result := store.Get("foo/2.0", "foo", "amd64")
	assert.Equal(t, archive.Pass, result.Status)
	assert.Equal(t, "2.0", result.Version)
	assert.False(t, pending.Contains("foo/2.0", "foo", "amd64"))
}

func TestFileBackendIngestPendingEntry(t *testing.T) {
	path := writeDrop(t, `{"results": [
		{"suite": "bookworm", "trigger": "foo/2.0", "package": "foo", "arch": "amd64"}
	]}`)

	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	backend := &ingest.FileBackend{Path: path}

	err := backend.Ingest(store, pending, "bookworm", false, slog.Default())
	require.NoError(t, err)

	assert.True(t, pending.Contains("foo/2.0", "foo", "amd64"))
}

func TestFileBackendIngestSkipsOtherSuite(t *testing.T) {
	path := writeDrop(t, `{"results": [
		{"suite": "trixie", "trigger": "foo/2.0", "package": "foo", "arch": "amd64", "status": "PASS"}
	]}`)

	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	backend := &ingest.FileBackend{Path: path}

	err := backend.Ingest(store, pending, "bookworm", false, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, archive.Fail, store.Get("foo/2.0", "foo", "amd64").Status)
}

func TestFileBackendIngestDropsTmpfail(t *testing.T) {
	path := writeDrop(t, `{"results": [
		{"suite": "bookworm", "trigger": "foo/2.0", "package": "foo", "arch": "amd64",
		 "version": "2.0", "status": "tmpfail"}
	]}`)

	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	backend := &ingest.FileBackend{Path: path}

	err := backend.Ingest(store, pending, "bookworm", false, slog.Default())
	require.NoError(t, err)

	assert.False(t, pending.Contains("foo/2.0", "foo", "amd64"))
	assert.Equal(t, archive.Fail, store.Get("foo/2.0", "foo", "amd64").Status)
}

func TestFileBackendIngestMissingVersionPlaceholder(t *testing.T) {
	path := writeDrop(t, `{"results": [
		{"suite": "bookworm", "trigger": "foo/2.0", "package": "foo", "arch": "amd64",
		 "status": "FAIL", "run_id": "r1", "updated_at": "2026-01-02T03:04:05"}
	]}`)

	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	backend := &ingest.FileBackend{Path: path}

	err := backend.Ingest(store, pending, "bookworm", false, slog.Default())
	require.NoError(t, err)

	result := store.Get("foo/2.0", "foo", "amd64")
	assert.Equal(t, "blocked-on-ci-infra", result.Version)
}

func TestFileBackendIngestResetsPendingStoreEachRun(t *testing.T) {
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	pending.Add("stale/1.0", "stale", "amd64")

	path := writeDrop(t, `{"results": []}`)
	backend := &ingest.FileBackend{Path: path}

	err := backend.Ingest(store, pending, "bookworm", false, slog.Default())
	require.NoError(t, err)

	assert.False(t, pending.Contains("stale/1.0", "stale", "amd64"))
}

func TestFileBackendIngestFatalOnMissingFile(t *testing.T) {
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()
	backend := &ingest.FileBackend{Path: filepath.Join(t.TempDir(), "missing.json")}

	err := backend.Ingest(store, pending, "bookworm", false, slog.Default())
	assert.ErrorIs(t, err, ingest.ErrFatal)
}
