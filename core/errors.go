package core

import "errors"

// Sentinel errors for the memory engine. Callers classify failures with
// errors.Is; implementations wrap these with context via fmt.Errorf and %w.
var (
	// ErrStoreUnavailable means the transcript backend cannot be reached.
	// Fatal to the current turn: the caller must retry or surface it, never
	// silently drop the turn.
	ErrStoreUnavailable = errors.New("transcript store unavailable")

	// ErrGraphUnavailable means the entity graph backend cannot be reached.
	// Distinct from ErrNotFound: an unreachable graph must not be reported
	// as "no context found".
	ErrGraphUnavailable = errors.New("entity graph unavailable")

	// ErrEmbeddingFailed means the embedding provider failed; no index entry
	// may be written when it is returned.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrGenerationFailed means the generation provider failed; the caller
	// substitutes the fixed in-character fallback line.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrMalformedExtraction means extraction output did not parse as the
	// expected structure. Treated as zero entities, never a crash.
	ErrMalformedExtraction = errors.New("malformed extraction")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
)
