// Command gate-ingest pre-warms a Result Store from the object-store
// back-end without starting the HTTP facade: it walks every source in the
// target suite snapshot and every configured architecture, pulling new
// autopkgtest runs the way the Test Requester does lazily per candidate,
// then persists the Result/Pending Store to disk. Operators running the
// adt_shared_results_cache deployment mode use this as a scheduled job so
// the shared cache is warm before any gate process starts evaluating
// candidates.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/distrogate/autopkgtest-gate/internal/ingest"
	"github.com/distrogate/autopkgtest-gate/internal/policy"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
	"github.com/distrogate/autopkgtest-gate/internal/universe/snapshot"
)

const ingestTimeout = 10 * time.Minute

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		log.Println("gate-ingest")
		log.Println("one-shot Result Store pre-warm for the autopkgtest-gate shared results cache")
		os.Exit(0)
	}

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	snapshotPath := os.Getenv("GATE_UNIVERSE_SNAPSHOT")
	if snapshotPath == "" {
		log.Fatal("GATE_UNIVERSE_SNAPSHOT is required (path to a universe snapshot JSON document)")
	}

	doc, err := snapshot.Load(snapshotPath)
	if err != nil {
		log.Fatalf("failed to load universe snapshot: %v", err)
	}

	_, target := doc.Suites()

	cfg := policy.LoadConfigFromEnv()
	logger := slog.Default()

	if strings.HasPrefix(cfg.SwiftURL, "file://") {
		log.Fatal("gate-ingest only pre-warms the object-store back-end; GATE_ADT_SWIFT_URL is file://")
	}

	readOnly := cfg.SharedResultsCache != ""
	resultsPath := cfg.ResultStorePath

	if readOnly {
		resultsPath = cfg.SharedResultsCache
	}

	store := resultstore.New(false)
	if err := store.Load(resultsPath, logger); err != nil {
		log.Fatalf("failed to load result store: %v", err)
	}

	pending := resultstore.NewPendingStore()
	if err := pending.Load(cfg.PendingStorePath); err != nil {
		log.Fatalf("failed to load pending store: %v", err)
	}

	container := cfg.Series
	if len(cfg.PPAs) > 0 {
		container = cfg.Series + "-" + strings.Join(cfg.PPAs, "-")
	}

	backend := ingest.NewObjectStoreBackend(cfg.SwiftURL, container, cfg.Series, readOnly, cfg.RequestsPerSecond)
	isReference := strings.EqualFold(cfg.Baseline, "reference")

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	for name, source := range target.Sources() {
		if len(source.TestSuiteTriggers) == 0 && len(source.TestSuite) == 0 {
			continue
		}

		for _, arch := range cfg.Arches {
			if err := backend.FetchResults(ctx, store, pending, isReference, name, arch, logger); err != nil {
				log.Fatalf("fetch results for %s/%s: %v", name, arch, err)
			}
		}
	}

	if err := store.Save(resultsPath); err != nil {
		log.Fatalf("failed to save result store: %v", err)
	}

	if err := pending.Save(cfg.PendingStorePath); err != nil {
		log.Fatalf("failed to save pending store: %v", err)
	}

	logger.Info("result store pre-warm complete", "results_path", resultsPath, "pending_path", cfg.PendingStorePath)
}

func printUsage() {
	log.Print(`gate-ingest - pre-warm the Result Store from the object-store back-end

USAGE:
    gate-ingest [OPTIONS]

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    GATE_UNIVERSE_SNAPSHOT   Path to a universe snapshot JSON document (REQUIRED)
    GATE_SERIES              Target suite name to scan for sources with autopkgtests
    GATE_ADT_ARCHES          Whitespace-separated architectures to pre-warm
    GATE_ADT_SWIFT_URL       Object-store base URL (must not be file://)
    GATE_ADT_BASELINE        "reference" selects the reference-trigger merge rule
    GATE_ADT_SHARED_RESULTS_CACHE  Shared Result Store file; this job loads and rewrites it (gate processes open it read-only)
    GATE_RESULT_STORE_PATH   Local Result Store cache file
    GATE_PENDING_STORE_PATH  Pending Store state file
    GATE_ADT_REQUESTS_PER_SECOND  Object-store listing/fetch rate limit
`)
}
