// Package bleveengine is the concrete engine.Engine implementation backed
// by blevesearch/bleve, the one complete full-text indexing/query library
// surfaced in the retrieved example pack.
package bleveengine

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	"github.com/8fs-io/ftsd/internal/engine"
	"github.com/8fs-io/ftsd/internal/ftypes"
	apperrors "github.com/8fs-io/ftsd/pkg/errors"
)

// sourceField stores the whole original document as JSON so Get can
// reconstruct it verbatim; bleve's own stored-field API returns only
// per-field values, not the original nested structure.
const sourceField = "_source"

const synonymAnalyzer = "ftsd_synonyms"

// Engine wraps a single bleve.Index rooted at one directory. Structural
// mapping changes (ApplySettings, Clear) require holding mu for writing;
// ordinary Index/Get/Delete/Search hold it for reading, matching bleve's
// own internal single-writer/many-reader posture.
type Engine struct {
	mu       sync.RWMutex
	dir      string
	index    bleve.Index
	settings ftypes.IndexSettings
}

// Opener constructs bleveengine.Engine instances.
type Opener struct{}

// Open creates or reopens the bleve index rooted at dir.
func (Opener) Open(dir string, settings ftypes.IndexSettings) (engine.Engine, error) {
	return Open(dir, settings)
}

// Open creates or reopens the bleve index rooted at dir.
func Open(dir string, settings ftypes.IndexSettings) (*Engine, error) {
	idx, err := bleve.Open(dir)
	if err == nil {
		return &Engine{dir: dir, index: idx, settings: settings}, nil
	}
	if err != bleve.ErrorIndexPathDoesNotExist {
		return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to open bleve index", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create index directory", err)
	}

	m, err := buildMapping(settings)
	if err != nil {
		return nil, err
	}

	idx, err = bleve.New(dir, m)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to create bleve index", err)
	}

	return &Engine{dir: dir, index: idx, settings: settings}, nil
}

func buildMapping(settings ftypes.IndexSettings) (mapping.IndexMapping, error) {
	m := bleve.NewIndexMapping()

	if len(settings.StopWords) > 0 {
		tokenMapName := "ftsd_stop_tokens"
		if err := m.AddCustomTokenFilter(tokenMapName, map[string]interface{}{
			"type":           stop.Name,
			"stop_token_map": settings.StopWords,
		}); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to register stop word filter", err)
		}
		if err := m.AddCustomAnalyzer(synonymAnalyzer, map[string]interface{}{
			"type":          custom.Name,
			"tokenizer":     "unicode",
			"token_filters": []string{"to_lower", tokenMapName},
		}); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to register custom analyzer", err)
		}
		m.DefaultAnalyzer = synonymAnalyzer
	}

	docMapping := bleve.NewDocumentMapping()
	sourceMapping := bleve.NewTextFieldMapping()
	sourceMapping.Index = false
	sourceMapping.Store = true
	sourceMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(sourceField, sourceMapping)

	if len(settings.SearchableFields) > 0 {
		docMapping.Dynamic = false
		textMapping := bleve.NewTextFieldMapping()
		for _, field := range settings.SearchableFields {
			docMapping.AddFieldMappingsAt(field, textMapping)
		}
	}

	m.DefaultMapping = docMapping
	return m, nil
}

// Index indexes doc under id, storing the full source alongside bleve's
// own per-field index.
func (e *Engine) Index(id string, doc ftypes.Document) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	source, err := json.Marshal(doc)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to marshal document", err)
	}

	indexed := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		indexed[k] = v
	}
	indexed[sourceField] = string(source)

	if err := e.index.Index(id, indexed); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to index document", err)
	}
	return nil
}

// Get reconstructs a previously indexed document from its stored source.
func (e *Engine) Get(id string) (ftypes.Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	doc, err := e.index.Document(id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to fetch document", err)
	}
	if doc == nil {
		return nil, nil
	}

	var source []byte
	doc.VisitFields(func(field index.Field) {
		if field.Name() == sourceField {
			source = field.Value()
		}
	})
	if source == nil {
		return nil, nil
	}

	var out ftypes.Document
	if err := json.Unmarshal(source, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to unmarshal stored document", err)
	}
	return out, nil
}

// Delete removes id. Deleting an absent id is a no-op, matching bleve.
func (e *Engine) Delete(id string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.index.Delete(id); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to delete document", err)
	}
	return nil
}

// Search executes req against the index. Settings-driven ranking rules
// become a sort order appended after relevance, synonyms expand the query
// terms, a configured distinct attribute deduplicates hits by value, and
// displayed fields (if set) limit what each returned document contains.
func (e *Engine) Search(req engine.SearchRequest) (*engine.SearchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	searchReq := bleve.NewSearchRequestOptions(e.buildQuery(req.Query), req.Limit, req.Offset, false)
	searchReq.Fields = []string{sourceField}
	if len(e.settings.RankingRules) > 0 {
		searchReq.SortBy(append([]string{"-_score"}, e.settings.RankingRules...))
	}

	res, err := e.index.Search(searchReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "search failed", err)
	}

	seenDistinct := make(map[interface{}]bool)
	hits := make([]engine.SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		var doc ftypes.Document
		if raw, ok := hit.Fields[sourceField].(string); ok {
			_ = json.Unmarshal([]byte(raw), &doc)
		}

		if e.settings.DistinctAttribute != "" {
			key := doc[e.settings.DistinctAttribute]
			if seenDistinct[key] {
				continue
			}
			seenDistinct[key] = true
		}

		hits = append(hits, engine.SearchHit{ID: hit.ID, Score: hit.Score, Doc: e.projectDisplayed(doc)})
	}

	return &engine.SearchResult{
		Hits:             hits,
		EstimatedMatches: int(res.Total),
	}, nil
}

// buildQuery wraps req's query string, expanding any configured synonym
// terms into a disjunction over the original query and each synonym.
func (e *Engine) buildQuery(q string) query.Query {
	base := bleve.NewQueryStringQuery(q)
	if len(e.settings.Synonyms) == 0 {
		return base
	}

	disj := bleve.NewDisjunctionQuery(base)
	for _, word := range strings.Fields(q) {
		for _, syn := range e.settings.Synonyms[word] {
			disj.AddQuery(bleve.NewMatchQuery(syn))
		}
	}
	return disj
}

// projectDisplayed limits doc to the settings' displayed fields, if any
// are configured; an empty list means every field is returned.
func (e *Engine) projectDisplayed(doc ftypes.Document) ftypes.Document {
	if len(e.settings.DisplayedFields) == 0 || doc == nil {
		return doc
	}
	projected := make(ftypes.Document, len(e.settings.DisplayedFields))
	for _, field := range e.settings.DisplayedFields {
		if v, ok := doc[field]; ok {
			projected[field] = v
		}
	}
	return projected
}

// DocumentCount reports the number of live documents.
func (e *Engine) DocumentCount() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count, err := e.index.DocCount()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to count documents", err)
	}
	return int(count), nil
}

// Documents lists up to limit documents ordered by id, starting at offset.
func (e *Engine) Documents(offset, limit int) ([]ftypes.Document, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), limit, offset, false)
	req.Fields = []string{sourceField}
	req.SortBy([]string{"_id"})

	res, err := e.index.Search(req)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to list documents", err)
	}

	docs := make([]ftypes.Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		var doc ftypes.Document
		if raw, ok := hit.Fields[sourceField].(string); ok {
			_ = json.Unmarshal([]byte(raw), &doc)
		}
		docs = append(docs, e.projectDisplayed(doc))
	}
	return docs, int(res.Total), nil
}

// FieldsDistribution counts, for each field name, how many documents
// currently contain it.
func (e *Engine) FieldsDistribution() (map[string]int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 1<<20, 0, false)
	req.Fields = []string{sourceField}

	res, err := e.index.Search(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to scan documents for field distribution", err)
	}

	dist := make(map[string]int)
	for _, hit := range res.Hits {
		var doc ftypes.Document
		if raw, ok := hit.Fields[sourceField].(string); ok {
			_ = json.Unmarshal([]byte(raw), &doc)
		}
		for field := range doc {
			dist[field]++
		}
	}
	return dist, nil
}

// ApplySettings rebuilds the underlying bleve index with a new mapping.
// bleve mappings are immutable once an index is created, so this closes
// and recreates the index in place, matching spec.md's "settings are
// applied transactionally" requirement at the tier level.
func (e *Engine) ApplySettings(settings ftypes.IndexSettings) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	docs, err := e.exportAllLocked()
	if err != nil {
		return err
	}

	if err := e.index.Close(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to close index before remapping", err)
	}
	if err := os.RemoveAll(e.dir); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to remove index directory", err)
	}

	m, err := buildMapping(settings)
	if err != nil {
		return err
	}
	idx, err := bleve.New(e.dir, m)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to recreate bleve index", err)
	}
	e.index = idx
	e.settings = settings

	for id, doc := range docs {
		if err := e.indexLocked(id, doc); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops all documents while preserving the current settings.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.Close(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to close index before clearing", err)
	}
	if err := os.RemoveAll(e.dir); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to remove index directory", err)
	}

	m, err := buildMapping(e.settings)
	if err != nil {
		return err
	}
	idx, err := bleve.New(e.dir, m)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to recreate bleve index", err)
	}
	e.index = idx
	return nil
}

// Snapshot copies the index directory tree into dir, which must not yet
// exist. Held under a read lock so concurrent reads proceed but a
// ClearDocuments/ApplySettings rebuild cannot interleave with the copy.
func (e *Engine) Snapshot(dir string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create snapshot directory", err)
	}

	err := filepath.WalkDir(e.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(e.dir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0700)
		}
		return copyFile(path, dest)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to copy index directory", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// Close releases the underlying bleve index handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Close()
}

func (e *Engine) exportAllLocked() (map[string]ftypes.Document, error) {
	docs := make(map[string]ftypes.Document)

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 1<<20, 0, false)
	req.Fields = []string{sourceField}

	res, err := e.index.Search(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to export documents for remapping", err)
	}

	for _, hit := range res.Hits {
		var doc ftypes.Document
		if raw, ok := hit.Fields[sourceField].(string); ok {
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to unmarshal exported document", err)
			}
		}
		docs[hit.ID] = doc
	}
	return docs, nil
}

func (e *Engine) indexLocked(id string, doc ftypes.Document) error {
	source, err := json.Marshal(doc)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to marshal document", err)
	}

	indexed := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		indexed[k] = v
	}
	indexed[sourceField] = string(source)

	if err := e.index.Index(id, indexed); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeEngineError, "failed to re-index document", err)
	}
	return nil
}
