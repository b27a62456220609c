package verdict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distrogate/autopkgtest-gate/internal/verdict"
)

func TestArchMessageStringWithoutCIURL(t *testing.T) {
	msg := verdict.NewArchMessage("amd64", "foo", verdict.LabelRegression, "R1", verdict.URLs{})
	assert.Equal(t, "amd64: REGRESSION", msg.String())
}

func TestArchMessageStringWithCIURLAndRunIDRetry(t *testing.T) {
	urls := verdict.URLs{CIURL: "https://autopkgtest.example", RetryURLMech: "run_id"}
	msg := verdict.NewArchMessage("amd64", "foo", verdict.LabelRegression, "R1", urls)

	assert.Contains(t, msg.String(), "amd64: REGRESSION")
	assert.Contains(t, msg.HistoryURL, "/packages/f/foo/amd64")
	assert.Contains(t, msg.RetryURL, "retry=R1")
	assert.NotContains(t, msg.String(), "reference:")
}

func TestArchMessageStringPackageKeyedRetryWhenNoRunIDMech(t *testing.T) {
	urls := verdict.URLs{CIURL: "https://autopkgtest.example"}
	msg := verdict.NewArchMessage("amd64", "foo", verdict.LabelRegression, "R1", urls)

	assert.Contains(t, msg.RetryURL, "package=foo")
	assert.Contains(t, msg.RetryURL, "arch=amd64")
}

func TestArchMessageStringShowsReferenceURLOnlyForRunningReference(t *testing.T) {
	urls := verdict.URLs{CIURL: "https://autopkgtest.example"}

	running := verdict.NewArchMessage("amd64", "foo", verdict.LabelRunningReference, "", urls)
	assert.Contains(t, running.String(), "reference:")

	regression := verdict.NewArchMessage("amd64", "foo", verdict.LabelRegression, "", urls)
	assert.NotContains(t, regression.String(), "reference:")
}

func TestArchMessageLibPrefixHistoryURL(t *testing.T) {
	urls := verdict.URLs{CIURL: "https://autopkgtest.example"}
	msg := verdict.NewArchMessage("amd64", "libfoo", verdict.LabelAlwaysFail, "", urls)

	assert.Contains(t, msg.HistoryURL, "/packages/libf/libfoo/amd64")
}
