// Package policy implements the Policy Facade: process lifecycle
// (load/persist the Result and Pending Stores, register hints, build the
// Trigger Resolver/Test Requester/Baseline Oracle/Verdict Engine) and the
// single-candidate Evaluate entry point that orchestrates them.
package policy

import (
	"log/slog"

	"github.com/distrogate/autopkgtest-gate/internal/baseline"
	"github.com/distrogate/autopkgtest-gate/internal/config"
)

// Config carries every adt_* tunable, read from GATE_-prefixed
// environment variables through internal/config's getters, the same
// env-first configuration style cmd/gate/main.go uses.
type Config struct {
	// Series names the target suite, used for Kafka topic naming and
	// object-store listing prefixes.
	Series string

	// Arches is the intersected architecture list this process evaluates
	// candidates against (adt_arches, required).
	Arches []string

	// SwiftURL selects the ingest back-end: "file://…" or an
	// "http(s)://…" object-store base URL (adt_swift_url, required).
	SwiftURL string

	// CIURL is the base URL for retry/history/reference links rendered
	// into verdict messages (adt_ci_url).
	CIURL string

	// AMQP is either "amqp://<brokers>" or "file://path" selecting the
	// file sink (adt_amqp). Everything after "amqp://" is split on commas
	// into Kafka broker addresses; a "user:pass@" part is not parsed out
	// and no broker credentials are used.
	AMQP string

	// PPAs, when non-empty, routes requests to the ppa queue and shards
	// the object-store container by PPA (adt_ppas).
	PPAs []string

	// Huge is the test-count cutoff above which a batch is queued to the
	// huge queue (adt_huge, 0 disables).
	Huge int

	// Baseline selects the Baseline Oracle's mode: "reference" or ""
	// (historical, the default) (adt_baseline).
	Baseline string

	// ReferenceMaxAge is, in days, how long a migration-reference/0 run
	// stays fresh before AgeOut marks it OLD_* (adt_reference_max_age).
	ReferenceMaxAge int

	// RetryOlderThan is, in days, how long a FAIL with a good baseline
	// must sit before the Test Requester retries it (adt_retry_older_than,
	// 0 disables).
	RetryOlderThan int

	// RetryURLMech selects "run_id"-keyed retry URLs over package-keyed
	// ones (adt_retry_url_mech).
	RetryURLMech string

	// SharedResultsCache, when non-empty, names a Result Store path this
	// process treats as read-only, never rewriting it
	// (adt_shared_results_cache).
	SharedResultsCache string

	// SuccessBounty/RegressionPenalty are excuse score deltas applied by
	// the Verdict Engine (adt_success_bounty, adt_regression_penalty).
	SuccessBounty     int
	RegressionPenalty int

	// IgnoreFailureForNewTests downgrades a FAIL for a test not in the
	// target suite to ALWAYSFAIL rather than REGRESSION
	// (adt_ignore_failure_for_new_tests).
	IgnoreFailureForNewTests bool

	// DryRun adds pending entries but skips publishing to the broker sink
	// (gate_dry_run). Shutdown still saves the Result and Pending Stores.
	DryRun bool

	// ResultStorePath/PendingStorePath name the on-disk JSON documents
	// loaded at startup and (state permitting) rewritten at shutdown or
	// after every publish.
	ResultStorePath  string
	PendingStorePath string

	// RequestsPerSecond paces object-store HTTP calls
	// (gate_adt_requests_per_second; ObjectStoreBackend defaults to 10
	// when unset).
	RequestsPerSecond float64
}

// LoadConfigFromEnv reads every option from its GATE_ADT_*/GATE_* variable,
// falling back to documented defaults when unset.
func LoadConfigFromEnv() Config {
	return Config{
		Series:                   config.GetEnvStr("GATE_SERIES", "unstable"),
		Arches:                   config.GetEnvFields("GATE_ADT_ARCHES", []string{"amd64"}),
		SwiftURL:                 config.GetEnvStr("GATE_ADT_SWIFT_URL", "file://autopkgtest-results.json"),
		CIURL:                    config.GetEnvStr("GATE_ADT_CI_URL", ""),
		AMQP:                     config.GetEnvStr("GATE_ADT_AMQP", "file://autopkgtest-requests.log"),
		PPAs:                     config.GetEnvFields("GATE_ADT_PPAS", nil),
		Huge:                     config.GetEnvInt("GATE_ADT_HUGE", 0),
		Baseline:                 config.GetEnvStr("GATE_ADT_BASELINE", ""),
		ReferenceMaxAge:          config.GetEnvInt("GATE_ADT_REFERENCE_MAX_AGE", 0),
		RetryOlderThan:           config.GetEnvInt("GATE_ADT_RETRY_OLDER_THAN", 0),
		RetryURLMech:             config.GetEnvStr("GATE_ADT_RETRY_URL_MECH", ""),
		SharedResultsCache:       config.GetEnvStr("GATE_ADT_SHARED_RESULTS_CACHE", ""),
		SuccessBounty:            config.GetEnvInt("GATE_ADT_SUCCESS_BOUNTY", 0),
		RegressionPenalty:        config.GetEnvInt("GATE_ADT_REGRESSION_PENALTY", 0),
		IgnoreFailureForNewTests: config.GetEnvBool("GATE_ADT_IGNORE_FAILURE_FOR_NEW_TESTS", false),
		DryRun:                   config.GetEnvBool("GATE_DRY_RUN", false),
		ResultStorePath:          config.GetEnvStr("GATE_RESULT_STORE_PATH", "autopkgtest-results.cache"),
		PendingStorePath:         config.GetEnvStr("GATE_PENDING_STORE_PATH", "autopkgtest-pending.json"),
		RequestsPerSecond:        float64(config.GetEnvInt("GATE_ADT_REQUESTS_PER_SECOND", 10)),
	}
}

// baselineMode maps the adt_baseline string option to baseline.Mode.
func (c Config) baselineMode() baseline.Mode {
	if c.Baseline == "reference" {
		return baseline.Reference
	}

	return baseline.Historical
}

// isReferenceMode reports whether this run uses the reference baseline,
// the gate for resultstore.Store.Update's baselineIsReference parameter.
func (c Config) isReferenceMode() bool {
	return c.baselineMode() == baseline.Reference
}

// logLevel reads GATE_LOG_LEVEL; kept here so every GATE_ env variable is
// documented in one place. It is unexported and nothing calls it.
func logLevel() slog.Level {
	return config.GetEnvLogLevel("GATE_LOG_LEVEL", slog.LevelInfo)
}
