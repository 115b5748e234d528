// Package ftypes holds the data model shared by the name resolver, update
// store, and index worker tiers.
package ftypes

import (
	"time"

	"github.com/google/uuid"
)

// IndexId is the opaque, globally unique identifier minted for an index at
// creation time. It is never reused, even after the owning name is freed.
type IndexId = uuid.UUID

// NewIndexId mints a fresh IndexId.
func NewIndexId() IndexId {
	return uuid.New()
}

// NameBinding is a persisted (IndexName -> IndexId) mapping.
type NameBinding struct {
	Name      string    `json:"name"`
	ID        IndexId   `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// AddMethod controls how AddDocuments merges incoming documents with any
// existing document sharing the same primary key.
type AddMethod string

const (
	AddMethodReplace AddMethod = "replace"
	AddMethodUpdate  AddMethod = "update"
)

// PayloadFormat is the on-wire encoding of a bulk document payload.
type PayloadFormat string

const (
	FormatJSON   PayloadFormat = "json"
	FormatNDJSON PayloadFormat = "ndjson"
	FormatCSV    PayloadFormat = "csv"
)

// JobKind discriminates the tagged UpdateJob.Meta variant.
type JobKind string

const (
	JobAddDocuments    JobKind = "add_documents"
	JobUpdateSettings  JobKind = "update_settings"
	JobClearDocuments  JobKind = "clear_documents"
	JobDeleteDocuments JobKind = "delete_documents"
)

// JobMeta is the tagged variant describing what an UpdateJob does. Exactly
// one of the Kind-specific fields is meaningful for a given Kind.
type JobMeta struct {
	Kind JobKind `json:"kind"`

	// JobAddDocuments
	Method     AddMethod     `json:"method,omitempty"`
	Format     PayloadFormat `json:"format,omitempty"`
	PrimaryKey string        `json:"primary_key,omitempty"`

	// JobUpdateSettings
	Settings *IndexSettings `json:"settings,omitempty"`

	// JobDeleteDocuments
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// JobState is one of Enqueued, Processing, Processed, Failed.
type JobState string

const (
	StateEnqueued   JobState = "enqueued"
	StateProcessing JobState = "processing"
	StateProcessed  JobState = "processed"
	StateFailed     JobState = "failed"
)

// UpdateResult is the success payload of a terminal Processed job.
type UpdateResult struct {
	IndexedDocuments int `json:"indexed_documents,omitempty"`
	DeletedDocuments int `json:"deleted_documents,omitempty"`
}

// UpdateJob is a single durable unit of mutation submitted against one
// index. UpdateID is strictly increasing within an index, never globally.
type UpdateJob struct {
	UpdateID    int64         `json:"update_id"`
	IndexID     IndexId       `json:"index_id"`
	Meta        JobMeta       `json:"meta"`
	PayloadPath string        `json:"payload_path,omitempty"`
	State       JobState      `json:"state"`
	Result      *UpdateResult `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has reached Processed or Failed.
func (j *UpdateJob) Terminal() bool {
	return j.State == StateProcessed || j.State == StateFailed
}

// IndexSettings is the opaque, serializable index configuration owned by
// the index worker and persisted alongside the engine's own state.
type IndexSettings struct {
	SearchableFields  []string          `json:"searchable_fields,omitempty"`
	DisplayedFields   []string          `json:"displayed_fields,omitempty"`
	RankingRules      []string          `json:"ranking_rules,omitempty"`
	StopWords         []string          `json:"stop_words,omitempty"`
	Synonyms          map[string][]string `json:"synonyms,omitempty"`
	DistinctAttribute string            `json:"distinct_attribute,omitempty"`
	PrimaryKey        string            `json:"primary_key,omitempty"`
}

// IndexMeta is the derived, read-mostly summary of an index's state.
type IndexMeta struct {
	ID                IndexId   `json:"id"`
	Name              string    `json:"name"`
	PrimaryKey        string    `json:"primary_key,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	NumberOfDocuments int       `json:"number_of_documents"`
	IsIndexing        bool      `json:"is_indexing"`
	FieldsDistribution map[string]int `json:"fields_distribution,omitempty"`
}

// Document is a single indexed record, keyed by its primary-key value.
type Document = map[string]interface{}
