package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrogate/autopkgtest-gate/internal/policy"
	"github.com/distrogate/autopkgtest-gate/internal/triggers"
	"github.com/distrogate/autopkgtest-gate/internal/universe"
	"github.com/distrogate/autopkgtest-gate/internal/universe/universetest"
	"github.com/distrogate/autopkgtest-gate/internal/verdict"
)

func setupEnv(t *testing.T, resultsDrop string) {
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
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	setupEnv(t, `{"results":[]}`)

	cfg := policy.LoadConfigFromEnv()
	assert.Equal(t, "unstable", cfg.Series)
	assert.Equal(t, []string{"amd64"}, cfg.Arches)
	assert.False(t, cfg.IgnoreFailureForNewTests)
}

func TestFacadeEvaluatePassWhenSelfTestAlreadyPassed(t *testing.T) {
	setupEnv(t, `{"results":[
		{"suite":"unstable","trigger":"foo/2.0","package":"foo","arch":"amd64","version":"2.0","status":"pass"}
	]}`)

	cfg := policy.LoadConfigFromEnv()

	source := universetest.NewSuite()
	source.AddSource(universe.SourceInfo{Name: "foo", Version: "2.0", TestSuite: []string{"autopkgtest"}})

	target := universetest.NewSuite()
	deps := universetest.NewUniverse()

	facade, err := policy.NewFacade(cfg, source, target, deps, nil)
	require.NoError(t, err)

	candidate := triggers.Candidate{
		Source:   "foo",
		Version:  "2.0",
		Binaries: []universe.BinaryID{{Name: "foo-bin", Arch: "amd64"}},
	}

	excuse := universetest.NewExcuse()
	excuse.Pkgs["amd64"] = []string{"foo"}

	v, err := facade.Evaluate(context.Background(), candidate, excuse)
	require.NoError(t, err)
	assert.Equal(t, verdict.Pass, v)
}

func TestFacadeEvaluateQueuesWhenNoResultYet(t *testing.T) {
	setupEnv(t, `{"results":[]}`)

	cfg := policy.LoadConfigFromEnv()

	source := universetest.NewSuite()
	source.AddSource(universe.SourceInfo{Name: "foo", Version: "2.0", TestSuite: []string{"autopkgtest"}})

	target := universetest.NewSuite()
	deps := universetest.NewUniverse()

	facade, err := policy.NewFacade(cfg, source, target, deps, nil)
	require.NoError(t, err)

	candidate := triggers.Candidate{
		Source:   "foo",
		Version:  "2.0",
		Binaries: []universe.BinaryID{{Name: "foo-bin", Arch: "amd64"}},
	}

	excuse := universetest.NewExcuse()
	excuse.Pkgs["amd64"] = []string{"foo"}

	v, err := facade.Evaluate(context.Background(), candidate, excuse)
	require.NoError(t, err)
	assert.Equal(t, verdict.RejectedTemporarily, v)
	assert.True(t, facade.Pending.Contains("foo/2.0", "foo", "amd64"))
}
