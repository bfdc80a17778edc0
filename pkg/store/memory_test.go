package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc(id string, at time.Time) *Document {
	return &Document{
		ID:            id,
		Collection:    "things",
		CreatedAt:     at,
		LastCheckedAt: at,
		LastUpdatedAt: at,
		Payload:       map[string]interface{}{"id": id},
	}
}

func TestMemoryStoreCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	batch, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.InsertDocuments(ctx, []*Document{testDoc("1", now), testDoc("2", now)}))

	// Nothing visible before commit.
	assert.Equal(t, 0, s.Count("things"))

	require.NoError(t, batch.Commit(ctx))
	assert.Equal(t, 2, s.Count("things"))

	found, err := s.BulkLookup(ctx, "things", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.NotContains(t, found, "3")
}

func TestMemoryStoreRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	batch, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.InsertDocuments(ctx, []*Document{testDoc("1", time.Now())}))
	require.NoError(t, batch.Rollback(ctx))

	assert.Equal(t, 0, s.Count("things"))
}

func TestMemoryStoreUpdateAndTouch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	batch, _ := s.Begin(ctx)
	require.NoError(t, batch.InsertDocuments(ctx, []*Document{testDoc("1", t0), testDoc("2", t0)}))
	require.NoError(t, batch.Commit(ctx))

	batch, _ = s.Begin(ctx)
	updated := testDoc("1", t0)
	updated.LastCheckedAt = t1
	updated.LastUpdatedAt = t1
	updated.Payload = map[string]interface{}{"id": "1", "v": float64(2)}
	require.NoError(t, batch.UpdateDocuments(ctx, []*Document{updated}))
	require.NoError(t, batch.TouchChecked(ctx, "things", []string{"2"}, t1))
	require.NoError(t, batch.AppendHistory(ctx, []*HistoryRecord{{
		RowID: "1", Collection: "things", ValidFrom: t0, ValidTo: t1,
		Payload: map[string]interface{}{"id": "1"},
	}}))
	require.NoError(t, batch.Commit(ctx))

	doc := s.Document("things", "1")
	assert.Equal(t, t1, doc.LastUpdatedAt)
	assert.Equal(t, float64(2), doc.Payload["v"])
	assert.Equal(t, t0, doc.CreatedAt)

	touched := s.Document("things", "2")
	assert.Equal(t, t1, touched.LastCheckedAt)
	assert.Equal(t, t0, touched.LastUpdatedAt)

	require.Len(t, s.History(), 1)
	assert.Equal(t, "1", s.History()[0].RowID)
}
