package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory DocumentStore used in tests. Batches buffer
// their writes and apply them on Commit, matching the transactional
// behavior of the postgres store.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[string]map[string]*Document // collection -> id -> doc
	history   []*HistoryRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]map[string]*Document),
	}
}

// BulkLookup fetches stored documents by id. Returned documents are copies;
// mutating them does not touch the store.
func (s *MemoryStore) BulkLookup(ctx context.Context, collection string, ids []string) (map[string]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]*Document, len(ids))
	coll := s.documents[collection]
	for _, id := range ids {
		if doc, ok := coll[id]; ok {
			copied := *doc
			result[id] = &copied
		}
	}
	return result, nil
}

// Begin opens a buffered write batch.
func (s *MemoryStore) Begin(ctx context.Context) (Batch, error) {
	return &memoryBatch{store: s}, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// History returns all appended history records, for test assertions.
func (s *MemoryStore) History() []*HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*HistoryRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Document returns one stored document, or nil.
func (s *MemoryStore) Document(collection, id string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.documents[collection][id]; ok {
		copied := *doc
		return &copied
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.documents[collection])
}

type touch struct {
	collection string
	ids        []string
	checkedAt  time.Time
}

type memoryBatch struct {
	store    *MemoryStore
	inserts  []*Document
	updates  []*Document
	touches  []touch
	appended []*HistoryRecord
	done     bool
}

func (b *memoryBatch) InsertDocuments(ctx context.Context, docs []*Document) error {
	b.inserts = append(b.inserts, docs...)
	return nil
}

func (b *memoryBatch) UpdateDocuments(ctx context.Context, docs []*Document) error {
	b.updates = append(b.updates, docs...)
	return nil
}

func (b *memoryBatch) TouchChecked(ctx context.Context, collection string, ids []string, checkedAt time.Time) error {
	b.touches = append(b.touches, touch{collection: collection, ids: ids, checkedAt: checkedAt})
	return nil
}

func (b *memoryBatch) AppendHistory(ctx context.Context, records []*HistoryRecord) error {
	b.appended = append(b.appended, records...)
	return nil
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range b.inserts {
		coll := s.documents[doc.Collection]
		if coll == nil {
			coll = make(map[string]*Document)
			s.documents[doc.Collection] = coll
		}
		copied := *doc
		coll[doc.ID] = &copied
	}
	for _, doc := range b.updates {
		if existing, ok := s.documents[doc.Collection][doc.ID]; ok {
			existing.LastCheckedAt = doc.LastCheckedAt
			existing.LastUpdatedAt = doc.LastUpdatedAt
			existing.PipelineID = doc.PipelineID
			existing.Payload = doc.Payload
		}
	}
	for _, t := range b.touches {
		for _, id := range t.ids {
			if existing, ok := s.documents[t.collection][id]; ok {
				existing.LastCheckedAt = t.checkedAt
			}
		}
	}
	s.history = append(s.history, b.appended...)

	return nil
}

func (b *memoryBatch) Rollback(ctx context.Context) error {
	b.done = true
	return nil
}
