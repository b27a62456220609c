// Command gate runs the autopkgtest migration policy HTTP facade: it loads
// a universe snapshot exported by the migration driver, builds the Policy
// Facade around it, and serves POST /api/v1/evaluate plus health probes
// until SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/distrogate/autopkgtest-gate/internal/api"
	"github.com/distrogate/autopkgtest-gate/internal/policy"
	"github.com/distrogate/autopkgtest-gate/internal/storage"
	"github.com/distrogate/autopkgtest-gate/internal/universe/snapshot"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		log.Println("gate")
		log.Println("autopkgtest migration policy HTTP facade")
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

	source, target := doc.Suites()

	policyCfg := policy.LoadConfigFromEnv()

	logger := slog.Default()

	facade, err := policy.NewFacade(policyCfg, source, target, doc.PackageUniverse(), logger)
	if err != nil {
		log.Fatalf("failed to build policy facade: %v", err)
	}

	serverCfg := api.LoadServerConfig()

	if apiKeyStore, rlErr := buildAPIKeyStore(); rlErr != nil {
		log.Fatalf("failed to configure API key store: %v", rlErr)
	} else {
		serverCfg.APIKeyStore = apiKeyStore
	}

	server := api.NewServer(serverCfg, facade)

	if err := server.Start(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// buildAPIKeyStore wires a Postgres-backed key store when GATE_AUTH_DATABASE_URL
// is set; otherwise it returns a nil store and the server runs with
// authentication disabled, a convenient local-dev default.
func buildAPIKeyStore() (storage.APIKeyStore, error) {
	if os.Getenv("GATE_AUTH_DATABASE_URL") == "" {
		return nil, nil
	}

	dbCfg := storage.LoadConfig()

	conn, err := storage.NewConnection(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to auth database: %w", err)
	}

	keyStore, err := storage.NewPersistentKeyStore(conn)
	if err != nil {
		return nil, fmt.Errorf("create API key store: %w", err)
	}

	return keyStore, nil
}

func printUsage() {
	log.Print(`gate - autopkgtest migration policy HTTP facade

USAGE:
    gate [OPTIONS]

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    GATE_UNIVERSE_SNAPSHOT   Path to a universe snapshot JSON document (REQUIRED)
    GATE_SERIES              Target suite name passed to the Policy Facade
    GATE_ADT_ARCHES          Whitespace-separated architectures to gate
    GATE_ADT_SWIFT_URL       Result Store backing URL (http(s):// or file://)
    GATE_ADT_AMQP            Test Requester backing URL (amqp:// or file://)
    GATE_RESULT_STORE_PATH   Local Result Store cache file
    GATE_PENDING_STORE_PATH  Pending Store state file
    GATE_AUTH_DATABASE_URL   PostgreSQL URL for API key storage (optional; auth
                             disabled when unset)
    GATE_HTTP_PORT, GATE_HTTP_HOST, GATE_HTTP_READ_TIMEOUT,
    GATE_HTTP_WRITE_TIMEOUT, GATE_HTTP_SHUTDOWN_TIMEOUT, GATE_LOG_LEVEL,
    GATE_CORS_ALLOWED_ORIGINS, GATE_CORS_ALLOWED_METHODS,
    GATE_CORS_ALLOWED_HEADERS, GATE_CORS_MAX_AGE
`)
}
