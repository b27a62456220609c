package verdict

import (
	"fmt"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
)

// URLs carries the base CI URL and retry-URL mechanism used to render
// links alongside a verdict annotation — grounded in cloud_url/
// reference_url/retry_url construction from apply_src_policy_impl, minus
// the HTML rendering that policy (excluded per Non-goals) would add.
type URLs struct {
	CIURL        string
	RetryURLMech string // "run_id" selects run-id-keyed retry URLs; any other value gives package-keyed ones
}

// ArchMessage renders one "<arch>: <label>" annotation line for a single
// (arch, testsrc) pair, with retry/reference/history URLs appended when a
// CI URL is configured.
type ArchMessage struct {
	Arch         string
	TestSource   string
	Label        Label
	RunID        string
	RetryURL     string
	ReferenceURL string
	HistoryURL   string
}

// NewArchMessage builds an ArchMessage for one label, deriving its URLs
// from urls when CIURL is configured.
func NewArchMessage(arch, testsrc string, label Label, runID string, urls URLs) ArchMessage {
	msg := ArchMessage{Arch: arch, TestSource: testsrc, Label: label, RunID: runID}

	if urls.CIURL == "" {
		return msg
	}

	msg.HistoryURL = fmt.Sprintf("%s/packages/%s/%s/%s", urls.CIURL, archive.Srchash(testsrc), testsrc, arch)

	if urls.RetryURLMech == "run_id" && runID != "" {
		msg.RetryURL = fmt.Sprintf("%s/request.cgi?retry=%s", urls.CIURL, runID)
	} else {
		msg.RetryURL = fmt.Sprintf("%s/request.cgi?package=%s&arch=%s", urls.CIURL, testsrc, arch)
	}

	msg.ReferenceURL = fmt.Sprintf("%s/request.cgi?package=%s&arch=%s&trigger=migration-reference/0", urls.CIURL, testsrc, arch)

	return msg
}

// String renders the plain-text annotation line: "<arch>: <label>", with
// a parenthesized history/retry/reference URL list when present.
func (m ArchMessage) String() string {
	line := fmt.Sprintf("%s: %s", m.Arch, m.Label)

	var extras []string

	if m.HistoryURL != "" {
		extras = append(extras, "history: "+m.HistoryURL)
	}

	if m.RetryURL != "" {
		extras = append(extras, "retry: "+m.RetryURL)
	}

	if m.Label == LabelRunningReference && m.ReferenceURL != "" {
		extras = append(extras, "reference: "+m.ReferenceURL)
	}

	if len(extras) == 0 {
		return line
	}

	out := line + " ("

	for i, e := range extras {
		if i > 0 {
			out += ", "
		}

		out += e
	}

	return out + ")"
}
