// Package ingest implements the Result Ingestor: pulling new autopkgtest
// results from either a single JSON drop (file back-end) or an object-store
// listing plus per-run tar artifacts (object-store back-end), and folding
// them into a Result Store and Pending Store.
package ingest

import "errors"

var (
	// ErrContainerMissing signals the object-store container does not exist
	// yet (HTTP 401 on listing) — logged and treated as "no results", not fatal.
	ErrContainerMissing = errors.New("object store container not yet present")

	// ErrFatal wraps any transient ingest failure (non-2xx, non-401 listing
	// response; network I/O error) that must abort the whole run rather
	// than risk silently missing in-flight test requests.
	ErrFatal = errors.New("fatal ingest error")
)
