package pipeline

import (
	"context"
	"reflect"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidesync/tidesync/pkg/errors"
	"github.com/tidesync/tidesync/pkg/mapping"
	"github.com/tidesync/tidesync/pkg/metrics"
	"github.com/tidesync/tidesync/pkg/schema"
	"github.com/tidesync/tidesync/pkg/source"
	"github.com/tidesync/tidesync/pkg/source/api"
	"github.com/tidesync/tidesync/pkg/source/database"
	"github.com/tidesync/tidesync/pkg/store"
)

// RunReport summarizes one pipeline execution.
type RunReport struct {
	Pipeline  string
	New       int
	Updated   int
	Same      int
	Truncated bool
	Success   bool
	Message   string
	Duration  time.Duration
}

// Engine executes pipelines: it opens the source, diffs batches against the
// document store and writes new versions plus history.
type Engine struct {
	documents  store.DocumentStore
	mapper     *mapping.Engine
	batchSize  int
	sampleSize int
	createdBy  string
	logger     *zap.Logger

	// clock and newSource are swappable in tests
	clock     func() time.Time
	newSource func(p *Pipeline) (source.Connector, error)
}

// NewEngine builds a sync engine over the given document store.
func NewEngine(documents store.DocumentStore, batchSize, sampleSize int, createdBy string, logger *zap.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = 50
	}
	e := &Engine{
		documents:  documents,
		mapper:     mapping.NewEngine(logger),
		batchSize:  batchSize,
		sampleSize: sampleSize,
		createdBy:  createdBy,
		logger:     logger,
		clock:      time.Now,
	}
	e.newSource = e.newConnector
	return e
}

// Execute runs one pipeline to completion and returns its report. The
// passed pipeline is mutated (field map, last schema) and must be saved by
// the caller afterwards; execution locking is the scheduler's concern.
func (e *Engine) Execute(ctx context.Context, p *Pipeline) (*RunReport, error) {
	start := e.clock()
	log := e.logger.With(zap.String("pipeline", p.Name))
	report := &RunReport{Pipeline: p.Name}

	finish := func(err error) (*RunReport, error) {
		report.Duration = e.clock().Sub(start)
		metrics.RunDuration.WithLabelValues(p.Name).Set(report.Duration.Seconds())
		if err != nil {
			report.Message = err.Error()
			metrics.RunsTotal.WithLabelValues(p.Name, "failure").Inc()
			log.Error("pipeline run failed", zap.Error(err), zap.Duration("duration", report.Duration))
			return report, err
		}
		report.Success = true
		metrics.RunsTotal.WithLabelValues(p.Name, "success").Inc()
		metrics.RowsTotal.WithLabelValues(p.Name, "new").Add(float64(report.New))
		metrics.RowsTotal.WithLabelValues(p.Name, "updated").Add(float64(report.Updated))
		metrics.RowsTotal.WithLabelValues(p.Name, "same").Add(float64(report.Same))
		log.Info("pipeline run finished",
			zap.Int("new", report.New),
			zap.Int("updated", report.Updated),
			zap.Int("same", report.Same),
			zap.Bool("truncated", report.Truncated),
			zap.Duration("duration", report.Duration))
		return report, nil
	}

	conn, err := e.newSource(p)
	if err != nil {
		return finish(err)
	}
	if err := conn.Open(ctx); err != nil {
		return finish(err)
	}
	defer conn.Close(ctx)

	def, err := conn.Schema(ctx)
	if err != nil {
		return finish(err)
	}

	// Drift never blocks a run; it is logged, counted and recorded.
	if p.LastSourceSchema != nil {
		if changes := schema.Diff(p.LastSourceSchema, def); len(changes) > 0 {
			metrics.SchemaDriftTotal.WithLabelValues(p.Name).Inc()
			for _, c := range changes {
				log.Warn("source schema drift",
					zap.String("field", c.Field),
					zap.String("kind", string(c.Kind)),
					zap.String("from", string(c.From)),
					zap.String("to", string(c.To)))
			}
		}
	}
	p.LastSourceSchema = def

	// An empty persisted field map means "mirror the source 1:1" and must
	// stay empty, so schema growth flows into payloads on later runs. The
	// auto map is derived fresh per run and only recorded for inspection.
	autoMap := mapping.AutoMap(def)
	fieldMap := p.FieldMap
	if len(fieldMap) == 0 {
		fieldMap = autoMap
	}
	p.LastAutoMap = autoMap

	key := conn.Key()
	if !key.Resolved() {
		return finish(errors.Newf(errors.ErrorTypeConfig,
			"pipeline %q has no resolvable primary key", p.Name))
	}
	log.Info("primary key resolved",
		zap.String("key", key.Name),
		zap.String("key_source", key.Source.String()))

	cursor := conn.Cursor(e.batchSize)
	defer cursor.Close(ctx)

	collection := p.CollectionName()
	for {
		rows, err := cursor.NextBatch(ctx)
		if err != nil {
			return finish(err)
		}
		if len(rows) == 0 {
			break
		}

		if err := e.syncBatch(ctx, p, collection, key.Name, fieldMap, rows, report); err != nil {
			return finish(err)
		}
	}

	if source.Truncated(cursor) {
		report.Truncated = true
		metrics.TruncatedRunsTotal.WithLabelValues(p.Name).Inc()
		log.Warn("source scan truncated before exhaustion")
	}

	return finish(nil)
}

// syncBatch diffs one source batch against the store and commits all
// resulting writes atomically.
func (e *Engine) syncBatch(ctx context.Context, p *Pipeline, collection, keyField string, fieldMap mapping.FieldMap, rows []source.Row, report *RunReport) error {
	now := e.clock().UTC()

	type entry struct {
		id      string
		payload map[string]interface{}
	}

	entries := make([]entry, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id := source.StringID(row[keyField])
		if id == "" {
			// Rows without a key value still sync, under a generated id.
			id = uuid.NewString()
		}
		entries = append(entries, entry{id: id, payload: e.mapper.Map(row, fieldMap)})
		ids = append(ids, id)
	}

	existing, err := e.documents.BulkLookup(ctx, collection, ids)
	if err != nil {
		return err
	}

	var (
		inserts []*store.Document
		updates []*store.Document
		history []*store.HistoryRecord
		same    []string
	)

	for _, ent := range entries {
		doc, found := existing[ent.id]
		if !found {
			inserts = append(inserts, &store.Document{
				ID:            ent.id,
				Collection:    collection,
				CreatedBy:     e.createdBy,
				CreatedAt:     now,
				LastCheckedAt: now,
				LastUpdatedAt: now,
				PipelineID:    p.Name,
				Payload:       ent.payload,
			})
			continue
		}

		if reflect.DeepEqual(doc.Payload, ent.payload) {
			same = append(same, ent.id)
			continue
		}

		history = append(history, &store.HistoryRecord{
			RowID:      ent.id,
			Collection: collection,
			PipelineID: p.Name,
			ValidFrom:  doc.LastUpdatedAt,
			ValidTo:    now,
			Payload:    doc.Payload,
		})
		updates = append(updates, &store.Document{
			ID:            ent.id,
			Collection:    collection,
			CreatedBy:     doc.CreatedBy,
			CreatedAt:     doc.CreatedAt,
			LastCheckedAt: now,
			LastUpdatedAt: now,
			PipelineID:    p.Name,
			Payload:       ent.payload,
		})
	}

	batch, err := e.documents.Begin(ctx)
	if err != nil {
		return err
	}

	if err := batch.InsertDocuments(ctx, inserts); err != nil {
		_ = batch.Rollback(ctx)
		return err
	}
	if err := batch.UpdateDocuments(ctx, updates); err != nil {
		_ = batch.Rollback(ctx)
		return err
	}
	if err := batch.AppendHistory(ctx, history); err != nil {
		_ = batch.Rollback(ctx)
		return err
	}
	if err := batch.TouchChecked(ctx, collection, same, now); err != nil {
		_ = batch.Rollback(ctx)
		return err
	}
	if err := batch.Commit(ctx); err != nil {
		return err
	}

	report.New += len(inserts)
	report.Updated += len(updates)
	report.Same += len(same)

	return nil
}

// newConnector builds the source connector of a pipeline from its kind and
// opaque data source configuration.
func (e *Engine) newConnector(p *Pipeline) (source.Connector, error) {
	switch p.SourceKind {
	case SourceDatabase:
		var cfg database.Config
		if err := json.Unmarshal(p.DataSource, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid database source configuration")
		}
		return database.New(cfg, p.PrimaryKey, e.logger)
	case SourceAPI:
		var cfg api.Config
		if err := json.Unmarshal(p.DataSource, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid api source configuration")
		}
		return api.New(cfg, p.PrimaryKey, e.sampleSize, e.logger)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown source kind %q", p.SourceKind)
	}
}
