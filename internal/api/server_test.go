package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrogate/autopkgtest-gate/internal/api"
	"github.com/distrogate/autopkgtest-gate/internal/policy"
	"github.com/distrogate/autopkgtest-gate/internal/universe"
	"github.com/distrogate/autopkgtest-gate/internal/universe/universetest"
)

func newTestFacade(t *testing.T, resultsDrop string) *policy.Facade {
	t.Helper()

	dir := t.TempDir()

	dropPath := filepath.Join(dir, "results.json")
	require.NoError(t, os.WriteFile(dropPath, []byte(resultsDrop), 0o644))

	t.Setenv("GATE_SERIES", "unstable")
	t.Setenv("GATE_ADT_ARCHES", "amd64")
	t.Setenv("GATE_ADT_SWIFT_URL", "file://"+dropPath)
	t.Setenv("GATE_ADT_AMQP", "file://"+filepath.Join(dir, "requests.log"))
	t.Setenv("GATE_RESULT_STORE_PATH", filepath.Join(dir, "results.cache"))
	t.Setenv("GATE_PENDING_STORE_PATH", filepath.Join(dir, "pending.json"))

	cfg := policy.LoadConfigFromEnv()

	source := universetest.NewSuite()
	source.AddSource(universe.SourceInfo{Name: "foo", Version: "2.0", TestSuite: []string{"autopkgtest"}})

	target := universetest.NewSuite()
	deps := universetest.NewUniverse()

	facade, err := policy.NewFacade(cfg, source, target, deps, nil)
	require.NoError(t, err)

	return facade
}

func testServerConfig() api.ServerConfig {
	cfg := api.LoadServerConfig()
	cfg.Port = 0
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.ShutdownTimeout = time.Second

	return cfg
}

func TestHandlePingIsPublic(t *testing.T) {
	facade := newTestFacade(t, `{"results":[]}`)
	server := api.NewServer(testServerConfig(), facade)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", rr.Body.String())
}

func TestHandleEvaluateRejectsMissingSource(t *testing.T) {
	facade := newTestFacade(t, `{"results":[]}`)
	server := api.NewServer(testServerConfig(), facade)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleEvaluateReturnsPassWhenResultAlreadyPassed(t *testing.T) {
	facade := newTestFacade(t, `{"results":[
		{"suite":"unstable","trigger":"foo/2.0","package":"foo","arch":"amd64","version":"2.0","status":"pass"}
	]}`)
	server := api.NewServer(testServerConfig(), facade)

	body := `{
		"source": "foo",
		"version": "2.0",
		"binaries": [{"name": "foo-bin", "arch": "amd64"}],
		"packages_by_arch": {"amd64": ["foo"]}
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.EvaluateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "PASS", resp.Verdict)
}
