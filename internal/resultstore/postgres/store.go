// Package postgres provides an optional shared, multi-process Result Store
// backend for adt_shared_results_cache, backed by PostgreSQL instead of a
// single JSON file.
//
// Grounded in internal/storage/persistent_key_store.go's connection-pooled,
// context-scoped query style; the monotonic merge rule itself is
// internal/resultstore.Store's, reapplied here inside a transaction so two
// processes racing an UPSERT on the same (trigger, source, arch) still
// converge on the better result rather than last-writer-wins.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/storage"
)

// Store is a PostgreSQL-backed Result Store for the shared-cache
// deployment mode: multiple migration-policy processes (one per arch, or
// one per PPA run) read and write the same table instead of each keeping
// a private JSON file.
type Store struct {
	conn *storage.Connection
}

// New wraps an established connection as a shared Result Store. Callers
// typically build conn via storage.NewConnection(storage.LoadConfig()),
// the same pattern cmd/gate/main.go uses to stand up its API key store.
func New(conn *storage.Connection) *Store {
	return &Store{conn: conn}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Get returns the stored result for (trigger, src, arch), or the implicit
// zero result if no row exists.
func (s *Store) Get(ctx context.Context, trigger, src, arch string) (archive.Result, error) {
	const query = `
		SELECT status, version, run_id, recorded_at
		FROM autopkgtest_results
		WHERE trigger = $1 AND source = $2 AND arch = $3
	`

	var (
		status  string
		version sql.NullString
		runID   string
		ts      int64
	)

	err := s.conn.QueryRowContext(ctx, query, trigger, src, arch).Scan(&status, &version, &runID, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.ZeroResult(), nil
	}

	if err != nil {
		return archive.Result{}, fmt.Errorf("query result for %s/%s/%s: %w", trigger, src, arch, err)
	}

	return archive.Result{Status: archive.Status(status), Version: version.String, RunID: runID, Timestamp: ts}, nil
}

// Has reports whether any row exists for (trigger, src, arch).
func (s *Store) Has(ctx context.Context, trigger, src, arch string) (bool, error) {
	const query = `SELECT 1 FROM autopkgtest_results WHERE trigger = $1 AND source = $2 AND arch = $3`

	var exists int

	err := s.conn.QueryRowContext(ctx, query, trigger, src, arch).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("check result existence for %s/%s/%s: %w", trigger, src, arch, err)
	}

	return true, nil
}

// Update applies the same monotonic merge rule as resultstore.Store.Update,
// evaluated server-side inside a transaction so concurrent writers from
// different processes never race past each other: SELECT ... FOR UPDATE
// locks the row (or its absence) before the merge decision is made.
func (s *Store) Update(ctx context.Context, trigger, src, arch string, incoming archive.Result, baselineIsReference bool) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin update transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const selectQuery = `
		SELECT status, version, run_id, recorded_at
		FROM autopkgtest_results
		WHERE trigger = $1 AND source = $2 AND arch = $3
		FOR UPDATE
	`

	var (
		status  string
		version sql.NullString
		runID   string
		ts      int64
	)

	current := archive.ZeroResult()

	err = tx.QueryRowContext(ctx, selectQuery, trigger, src, arch).Scan(&status, &version, &runID, &ts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// current stays the zero result.
	case err != nil:
		return false, fmt.Errorf("lock result row for %s/%s/%s: %w", trigger, src, arch, err)
	default:
		current = archive.Result{Status: archive.Status(status), Version: version.String, RunID: runID, Timestamp: ts}
	}

	if !shouldOverwrite(trigger, current, incoming, baselineIsReference) {
		return false, nil
	}

	const upsertQuery = `
		INSERT INTO autopkgtest_results (trigger, source, arch, status, version, run_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trigger, source, arch)
		DO UPDATE SET status = $4, version = $5, run_id = $6, recorded_at = $7
	`

	var versionArg interface{}
	if incoming.Version != "" {
		versionArg = incoming.Version
	}

	if _, err := tx.ExecContext(ctx, upsertQuery, trigger, src, arch,
		string(incoming.Status), versionArg, incoming.RunID, incoming.Timestamp); err != nil {
		return false, fmt.Errorf("upsert result for %s/%s/%s: %w", trigger, src, arch, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit update transaction: %w", err)
	}

	return true, nil
}

// shouldOverwrite mirrors resultstore's monotonic merge rule exactly
// (status ordering or equal-status recency wins), re-implemented here
// rather than shared because it runs inside a SQL transaction against
// driver-scanned values, not against resultstore.Store's in-memory map.
func shouldOverwrite(trigger string, current, incoming archive.Result, baselineIsReference bool) bool {
	if baselineIsReference && trigger == archive.ReferenceTrigger {
		return incoming.Timestamp > current.Timestamp
	}

	if incoming.Status.Less(current.Status) {
		return true
	}

	return incoming.Status == current.Status && incoming.Timestamp > current.Timestamp
}

// IterLeaves returns every stored (trigger, source, arch, result) row.
func (s *Store) IterLeaves(ctx context.Context) ([]Leaf, error) {
	const query = `SELECT trigger, source, arch, status, version, run_id, recorded_at FROM autopkgtest_results`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan result rows: %w", err)
	}
	defer rows.Close()

	var leaves []Leaf

	for rows.Next() {
		var (
			trigger, src, arch, status string
			version                    sql.NullString
			runID                      string
			ts                         int64
		)

		if err := rows.Scan(&trigger, &src, &arch, &status, &version, &runID, &ts); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}

		leaves = append(leaves, Leaf{
			Trigger: trigger, Source: src, Arch: arch,
			Result: archive.Result{Status: archive.Status(status), Version: version.String, RunID: runID, Timestamp: ts},
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}

	return leaves, nil
}

// Leaf mirrors resultstore.Leaf for the shared-cache backend.
type Leaf struct {
	Trigger string
	Source  string
	Arch    string
	Result  archive.Result
}
