package ingest_test

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/ingest"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
)

func buildResultTar(t *testing.T, exitcode, testpkgVersion string, customEnv []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	info := struct {
		CustomEnvironment []string `json:"custom_environment"`
	}{CustomEnvironment: customEnv}

	infoBytes, err := json.Marshal(info)
	require.NoError(t, err)

	members := map[string][]byte{
		"exitcode":        []byte(exitcode),
		"testpkg-version": []byte(testpkgVersion),
		"testinfo.json":   infoBytes,
	}

	for name, content := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content))}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())

	return buf.Bytes()
}

func TestObjectStoreBackendFetchResultsPassRun(t *testing.T) {
	tarball := buildResultTar(t, "0", "foo 2.0", []string{"ADT_TEST_TRIGGERS=foo/2.0"})

	mux := http.NewServeMux()
	mux.HandleFunc("/container", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("bookworm/amd64/f/foo/20260102_030405@\n"))
	})
	mux.HandleFunc("/container/bookworm/amd64/f/foo/20260102_030405@/result.tar", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(tarball)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	backend := ingest.NewObjectStoreBackend(server.URL, "container", "bookworm", true, 1000)
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()

	err := backend.FetchResults(context.Background(), store, pending, false, "foo", "amd64", slog.Default())
	require.NoError(t, err)

	result := store.Get("foo/2.0", "foo", "amd64")
	assert.Equal(t, archive.Pass, result.Status)
	assert.Equal(t, "2.0", result.Version)
	assert.False(t, pending.Contains("foo/2.0", "foo", "amd64"))
}

func TestObjectStoreBackendContainerMissingIsQuiet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/container", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	backend := ingest.NewObjectStoreBackend(server.URL, "container", "bookworm", true, 1000)
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()

	err := backend.FetchResults(context.Background(), store, pending, false, "foo", "amd64", slog.Default())
	assert.NoError(t, err)
}

func TestObjectStoreBackendFetchResultsMemoizedPerSourceArch(t *testing.T) {
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/container", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	backend := ingest.NewObjectStoreBackend(server.URL, "container", "bookworm", true, 1000)
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()

	require.NoError(t, backend.FetchResults(context.Background(), store, pending, false, "foo", "amd64", nil))
	require.NoError(t, backend.FetchResults(context.Background(), store, pending, false, "foo", "amd64", nil))

	assert.Equal(t, 1, calls)
}

func TestObjectStoreBackendOtherStatusIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/container", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	backend := ingest.NewObjectStoreBackend(server.URL, "container", "bookworm", true, 1000)
	store := resultstore.New(false)
	pending := resultstore.NewPendingStore()

	err := backend.FetchResults(context.Background(), store, pending, false, "foo", "amd64", nil)
	assert.ErrorIs(t, err, ingest.ErrFatal)
}
