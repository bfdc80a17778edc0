// Package store persists synced documents. Every pipeline writes into the
// same two tables: documents, keyed by (collection, id) with the mapped
// payload as JSON, and document_history, holding superseded payload
// versions with their validity interval.
package store

import (
	"context"
	"time"
)

// Document is one synced row in its generic stored form.
type Document struct {
	ID            string                 `json:"id"`
	Collection    string                 `json:"collection"`
	CreatedBy     string                 `json:"createdBy"`
	CreatedAt     time.Time              `json:"createdAt"`
	LastCheckedAt time.Time              `json:"lastCheckedAt"`
	LastUpdatedAt time.Time              `json:"lastUpdatedAt"`
	PipelineID    string                 `json:"pipelineId"`
	Payload       map[string]interface{} `json:"payload"`
}

// HistoryRecord is a superseded document version. ValidFrom is the
// LastUpdatedAt of the replaced version; ValidTo is the moment the
// replacement was observed.
type HistoryRecord struct {
	RowID      string                 `json:"rowId"`
	Collection string                 `json:"collection"`
	PipelineID string                 `json:"pipelineId"`
	ValidFrom  time.Time              `json:"validFrom"`
	ValidTo    time.Time              `json:"validTo"`
	Payload    map[string]interface{} `json:"payload"`
}

// DocumentStore is the persistence contract of the sync engine. Lookups are
// bulk by design: the engine resolves a whole sync batch with one call.
type DocumentStore interface {
	// BulkLookup fetches the stored documents for the given ids within a
	// collection. Missing ids are simply absent from the result.
	BulkLookup(ctx context.Context, collection string, ids []string) (map[string]*Document, error)
	// Begin opens a write batch. All writes of one sync batch go through a
	// single Batch and commit or roll back together.
	Begin(ctx context.Context) (Batch, error)
	// Close releases the underlying connections.
	Close()
}

// Batch is one atomic group of writes. Either every insert, update, touch
// and history append lands, or none of them do.
type Batch interface {
	InsertDocuments(ctx context.Context, docs []*Document) error
	UpdateDocuments(ctx context.Context, docs []*Document) error
	// TouchChecked bumps LastCheckedAt on unchanged documents.
	TouchChecked(ctx context.Context, collection string, ids []string, checkedAt time.Time) error
	AppendHistory(ctx context.Context, records []*HistoryRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
