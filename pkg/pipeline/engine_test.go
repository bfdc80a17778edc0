package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidesync/tidesync/pkg/errors"
	"github.com/tidesync/tidesync/pkg/mapping"
	"github.com/tidesync/tidesync/pkg/schema"
	"github.com/tidesync/tidesync/pkg/source"
	"github.com/tidesync/tidesync/pkg/store"
	"github.com/tidesync/tidesync/pkg/testutil"
)

// fakeSource is an in-memory connector serving fixed rows.
type fakeSource struct {
	def      *schema.Definition
	key      schema.Key
	rows     []source.Row
	truncate bool
}

func (f *fakeSource) Open(ctx context.Context) error  { return nil }
func (f *fakeSource) Key() schema.Key                 { return f.key }
func (f *fakeSource) Close(ctx context.Context) error { return nil }

func (f *fakeSource) Schema(ctx context.Context) (*schema.Definition, error) {
	return f.def, nil
}

func (f *fakeSource) Cursor(batchSize int) source.Cursor {
	return &fakeCursor{src: f, batchSize: batchSize}
}

type fakeCursor struct {
	src       *fakeSource
	batchSize int
	offset    int
}

func (c *fakeCursor) NextBatch(ctx context.Context) ([]source.Row, error) {
	if c.offset >= len(c.src.rows) {
		return nil, nil
	}
	end := c.offset + c.batchSize
	if end > len(c.src.rows) {
		end = len(c.src.rows)
	}
	batch := c.src.rows[c.offset:end]
	c.offset = end
	return batch, nil
}

func (c *fakeCursor) Truncated() bool {
	return c.src.truncate && c.offset >= len(c.src.rows)
}

func (c *fakeCursor) Close(ctx context.Context) error { return nil }

func personSchema() *schema.Definition {
	return &schema.Definition{
		Title: "people",
		Properties: map[string]*schema.Property{
			"id":   {Type: schema.TypeInteger},
			"name": {Type: schema.TypeString},
		},
		PrimaryKey: "id",
	}
}

func testPipeline() *Pipeline {
	return &Pipeline{
		Name:       "people",
		SourceKind: SourceDatabase,
		DataSource: json.RawMessage(`{}`),
		Schedule:   Schedule{Type: ScheduleEvery, Minutes: 10},
	}
}

func newTestEngine(t *testing.T, docs store.DocumentStore, src source.Connector, at time.Time) *Engine {
	t.Helper()
	e := NewEngine(docs, 50, 10, "tester", testutil.TestLogger(t))
	e.newSource = func(p *Pipeline) (source.Connector, error) { return src, nil }
	e.clock = func() time.Time { return at }
	return e
}

func TestExecuteInsertsNewRows(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: personSchema(),
		key: schema.Key{Name: "id", Source: schema.KeyMetadataDetected},
		rows: []source.Row{
			{"id": float64(1), "name": "ada"},
			{"id": float64(2), "name": "grace"},
		},
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, docs, src, now)

	p := testPipeline()
	report, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Same)
	assert.Equal(t, 2, docs.Count("people"))

	doc := docs.Document("people", "1")
	require.NotNil(t, doc)
	assert.Equal(t, "ada", doc.Payload["name"])
	assert.Equal(t, "tester", doc.CreatedBy)
	assert.Equal(t, "people", doc.PipelineID)
	assert.Equal(t, doc.CreatedAt, doc.LastUpdatedAt)
	assert.Equal(t, doc.CreatedAt, doc.LastCheckedAt)

	// The auto map is recorded for inspection; the persisted field map
	// stays empty so later runs keep mirroring the source.
	assert.Empty(t, p.FieldMap)
	assert.Equal(t, mapping.FieldMap{"id": "id", "name": "name"}, p.LastAutoMap)
	assert.Equal(t, personSchema(), p.LastSourceSchema)
}

func TestExecuteIsIdempotent(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: personSchema(),
		key: schema.Key{Name: "id", Source: schema.KeyMetadataDetected},
		rows: []source.Row{
			{"id": float64(1), "name": "ada"},
		},
	}
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, docs, src, t0)

	p := testPipeline()
	_, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)

	t1 := t0.Add(time.Hour)
	engine.clock = func() time.Time { return t1 }

	report, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 0, report.New)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 1, report.Same)
	assert.Empty(t, docs.History())

	doc := docs.Document("people", "1")
	assert.Equal(t, t0, doc.LastUpdatedAt, "unchanged row keeps its update time")
	assert.Equal(t, t1, doc.LastCheckedAt, "unchanged row is still marked checked")
}

func TestExecuteDetectsChanges(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: personSchema(),
		key: schema.Key{Name: "id", Source: schema.KeyMetadataDetected},
		rows: []source.Row{
			{"id": float64(1), "name": "ada"},
			{"id": float64(2), "name": "grace"},
		},
	}
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, docs, src, t0)

	p := testPipeline()
	_, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)

	src.rows[1] = source.Row{"id": float64(2), "name": "grace hopper"}
	t1 := t0.Add(time.Hour)
	engine.clock = func() time.Time { return t1 }

	report, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 0, report.New)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Same)

	doc := docs.Document("people", "2")
	assert.Equal(t, "grace hopper", doc.Payload["name"])
	assert.Equal(t, t1, doc.LastUpdatedAt)
	assert.Equal(t, t0, doc.CreatedAt, "creation time survives updates")

	history := docs.History()
	require.Len(t, history, 1)
	assert.Equal(t, "2", history[0].RowID)
	assert.Equal(t, "grace", history[0].Payload["name"], "history keeps the superseded payload")
	assert.Equal(t, t0, history[0].ValidFrom)
	assert.Equal(t, t1, history[0].ValidTo)
}

func TestExecutePagesAllBatches(t *testing.T) {
	rows := make([]source.Row, 237)
	for i := range rows {
		rows[i] = source.Row{"id": float64(i + 1), "name": "row"}
	}

	docs := store.NewMemoryStore()
	src := &fakeSource{
		def:  personSchema(),
		key:  schema.Key{Name: "id", Source: schema.KeyMetadataDetected},
		rows: rows,
	}
	engine := newTestEngine(t, docs, src, time.Now().UTC())

	report, err := engine.Execute(context.Background(), testPipeline())
	require.NoError(t, err)

	assert.Equal(t, 237, report.New)
	assert.Equal(t, 237, docs.Count("people"))

	// A second run sees every row unchanged exactly once.
	report, err = engine.Execute(context.Background(), testPipeline())
	require.NoError(t, err)
	assert.Equal(t, 0, report.New)
	assert.Equal(t, 237, report.Same)
}

func TestExecuteGeneratesIDForMissingKeyValue(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: personSchema(),
		key: schema.Key{Name: "id", Source: schema.KeyDeclared},
		rows: []source.Row{
			{"name": "anonymous"},
		},
	}
	engine := newTestEngine(t, docs, src, time.Now().UTC())

	report, err := engine.Execute(context.Background(), testPipeline())
	require.NoError(t, err)
	assert.Equal(t, 1, report.New)
	assert.Equal(t, 1, docs.Count("people"))
}

func TestExecuteFailsWithoutKey(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: personSchema(),
		key: schema.Key{Source: schema.KeyUnresolved},
	}
	engine := newTestEngine(t, docs, src, time.Now().UTC())

	report, err := engine.Execute(context.Background(), testPipeline())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.False(t, report.Success)
	assert.Equal(t, 0, docs.Count("people"))
}

func TestExecuteReportsTruncation(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: personSchema(),
		key: schema.Key{Name: "id", Source: schema.KeyMetadataDetected},
		rows: []source.Row{
			{"id": float64(1), "name": "ada"},
		},
		truncate: true,
	}
	engine := newTestEngine(t, docs, src, time.Now().UTC())

	report, err := engine.Execute(context.Background(), testPipeline())
	require.NoError(t, err)

	assert.True(t, report.Success, "truncation does not fail the run")
	assert.True(t, report.Truncated)
	assert.Equal(t, 1, report.New, "rows before the cut are kept")
}

func TestExecuteExpressionFieldMap(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: &schema.Definition{
			Title: "sums",
			Properties: map[string]*schema.Property{
				"id": {Type: schema.TypeInteger},
				"a":  {Type: schema.TypeInteger},
				"b":  {Type: schema.TypeInteger},
			},
			PrimaryKey: "id",
		},
		key: schema.Key{Name: "id", Source: schema.KeyMetadataDetected},
		rows: []source.Row{
			{"id": float64(1), "a": float64(2), "b": float64(3)},
		},
	}
	engine := newTestEngine(t, docs, src, time.Now().UTC())

	p := testPipeline()
	p.FieldMap = map[string]string{"id": "id", "a": "a", "b": "b", "c": "a + b"}

	_, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)

	doc := docs.Document("people", "1")
	require.NotNil(t, doc)
	assert.Equal(t, float64(5), doc.Payload["c"])
}

func TestExecuteAutoMapFollowsSchemaGrowth(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: personSchema(),
		key: schema.Key{Name: "id", Source: schema.KeyMetadataDetected},
		rows: []source.Row{
			{"id": float64(1), "name": "ada"},
		},
	}
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, docs, src, t0)

	p := testPipeline()
	_, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)
	require.Empty(t, p.FieldMap)

	// The source grows a column between runs.
	src.def.Properties["email"] = &schema.Property{Type: schema.TypeString}
	src.rows[0] = source.Row{"id": float64(1), "name": "ada", "email": "ada@example.com"}
	engine.clock = func() time.Time { return t0.Add(time.Hour) }

	report, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	doc := docs.Document("people", "1")
	require.NotNil(t, doc)
	assert.Equal(t, "ada@example.com", doc.Payload["email"], "new column enters the payload")
	assert.Empty(t, p.FieldMap, "persisted field map stays in auto mode")
	assert.Equal(t, "email", p.LastAutoMap["email"])
}

func TestExecuteRecordsSchemaDrift(t *testing.T) {
	docs := store.NewMemoryStore()
	src := &fakeSource{
		def: personSchema(),
		key: schema.Key{Name: "id", Source: schema.KeyMetadataDetected},
	}
	engine := newTestEngine(t, docs, src, time.Now().UTC())

	p := testPipeline()
	p.LastSourceSchema = &schema.Definition{
		Properties: map[string]*schema.Property{
			"id": {Type: schema.TypeInteger},
		},
	}

	_, err := engine.Execute(context.Background(), p)
	require.NoError(t, err)

	// The observed schema replaces the recorded one; the run proceeds.
	assert.Equal(t, personSchema(), p.LastSourceSchema)
}
