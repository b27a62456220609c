// Command gate-migrator applies the database schema: the autopkgtest_results
// table used by the adt_shared_results_cache deployment mode and the
// api_keys/api_key_audit_log tables used by API-key auth. Every migration file is
// embedded into the binary at build time, so the tool runs with no
// filesystem dependency beyond DATABASE_URL.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
)

var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrDropRequiresForce = errors.New("drop command requires --force flag for safety (this will destroy all data)")
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
		force       = flag.Bool("force", false, "Force dangerous operations without confirmation")
	)
	flag.Parse()

	if *showVersion {
		printVersionInfo()
		os.Exit(0)
	}

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	runner, err := NewMigrationRunner(cfg)
	if err != nil {
		log.Fatalf("failed to create migration runner: %v", err)
	}

	defer func() { _ = runner.Close() }()

	if err := executeCommand(args[0], runner, *force); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
}

func executeCommand(command string, runner MigrationRunner, force bool) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !force {
			return ErrDropRequiresForce
		}

		return runner.Drop()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func printVersionInfo() {
	log.Println("gate-migrator")
	log.Println("database migration tool for the autopkgtest-gate shared results cache")
}

func printUsage() {
	log.Print(`gate-migrator - autopkgtest_results schema migration tool

USAGE:
    gate-migrator [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration
    status  Show migration status
    version Show current migration version
    drop    Drop all tables (DESTRUCTIVE - requires --force flag)

OPTIONS:
    --help     Show this help message
    --version  Show version information
    --force    Force dangerous operations without confirmation

ENVIRONMENT VARIABLES:
    DATABASE_URL    PostgreSQL connection string (REQUIRED)
    MIGRATION_TABLE Name of migration tracking table (default: schema_migrations)
`)
}
