// Package engine defines the boundary between the index worker tier and
// whatever library actually tokenizes, indexes, and executes queries.
// ftsd never reaches across this boundary directly; the concrete adapter
// lives in internal/engine/bleveengine.
package engine

import (
	"github.com/8fs-io/ftsd/internal/ftypes"
)

// SearchRequest describes a single query against one index.
type SearchRequest struct {
	Query  string
	Limit  int
	Offset int
}

// SearchHit is one ranked result.
type SearchHit struct {
	ID    string
	Score float64
	Doc   ftypes.Document
}

// SearchResult is the full response to a SearchRequest.
type SearchResult struct {
	Hits             []SearchHit
	EstimatedMatches int
}

// Engine is the minimal surface the index worker needs from an embedded
// full-text search library. Every method operates on a single already-open
// index instance; opening/closing instances is the index worker's job.
type Engine interface {
	// Index creates or replaces the document's full document under the
	// engine's own primary-key-to-internal-id mapping.
	Index(id string, doc ftypes.Document) error

	// Get retrieves a previously indexed document by id, or
	// (nil, nil) if absent.
	Get(id string) (ftypes.Document, error)

	// Delete removes a document by id. Deleting an absent id is not an error.
	Delete(id string) error

	// Search executes req and returns ranked hits.
	Search(req SearchRequest) (*SearchResult, error)

	// DocumentCount returns the number of live documents.
	DocumentCount() (int, error)

	// Documents lists up to limit documents ordered by id, starting at
	// offset, and reports the total live document count.
	Documents(offset, limit int) ([]ftypes.Document, int, error)

	// FieldsDistribution counts, for each field name, how many documents
	// currently contain it.
	FieldsDistribution() (map[string]int, error)

	// ApplySettings reconfigures the index's mapping/analyzers for settings.
	// Implementations may need to rebuild underlying structures.
	ApplySettings(settings ftypes.IndexSettings) error

	// Clear drops all documents while preserving settings.
	Clear() error

	// Snapshot copies the engine's on-disk state into dir, which must not
	// yet exist. Safe to call while concurrent reads/writes continue.
	Snapshot(dir string) error

	// Close releases any resources held by the engine instance.
	Close() error
}

// Opener constructs or opens an Engine rooted at a directory, one per index.
type Opener interface {
	Open(dir string, settings ftypes.IndexSettings) (Engine, error)
}
