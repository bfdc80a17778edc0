package store

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidesync/tidesync/pkg/errors"
)

const documentsDDL = `
CREATE TABLE IF NOT EXISTS documents (
	collection      TEXT        NOT NULL,
	id              TEXT        NOT NULL,
	created_by      TEXT        NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	last_checked_at TIMESTAMPTZ NOT NULL,
	last_updated_at TIMESTAMPTZ NOT NULL,
	pipeline_id     TEXT        NOT NULL DEFAULT '',
	payload         JSONB       NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS document_history (
	seq         BIGSERIAL   PRIMARY KEY,
	collection  TEXT        NOT NULL,
	row_id      TEXT        NOT NULL,
	pipeline_id TEXT        NOT NULL DEFAULT '',
	valid_from  TIMESTAMPTZ NOT NULL,
	valid_to    TIMESTAMPTZ NOT NULL,
	payload     JSONB       NOT NULL
);

CREATE INDEX IF NOT EXISTS document_history_row_idx
	ON document_history (collection, row_id);
`

// PostgresStore is the pgx-backed document store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the document store and ensures its tables
// exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "document store dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid document store dsn")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "cannot connect to document store")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "document store unreachable")
	}

	if _, err := pool.Exec(ctx, documentsDDL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "cannot create document tables")
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool for sibling stores sharing
// the same database.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// BulkLookup fetches the stored documents for the given ids.
func (s *PostgresStore) BulkLookup(ctx context.Context, collection string, ids []string) (map[string]*Document, error) {
	result := make(map[string]*Document, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, created_by, created_at, last_checked_at, last_updated_at, pipeline_id, payload
		FROM documents
		WHERE collection = $1 AND id = ANY($2)`,
		collection, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "document lookup failed")
	}
	defer rows.Close()

	for rows.Next() {
		doc := &Document{Collection: collection}
		var payload []byte
		if err := rows.Scan(&doc.ID, &doc.CreatedBy, &doc.CreatedAt,
			&doc.LastCheckedAt, &doc.LastUpdatedAt, &doc.PipelineID, &payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot scan document row")
		}
		if err := json.Unmarshal(payload, &doc.Payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot decode document payload")
		}
		result[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error iterating documents")
	}

	return result, nil
}

// Begin opens a transactional write batch.
func (s *PostgresStore) Begin(ctx context.Context) (Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "cannot begin document batch")
	}
	return &postgresBatch{tx: tx}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type postgresBatch struct {
	tx pgx.Tx
}

func (b *postgresBatch) InsertDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, doc := range docs {
		payload, err := json.Marshal(doc.Payload)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "cannot encode document payload")
		}
		batch.Queue(`
			INSERT INTO documents
				(collection, id, created_by, created_at, last_checked_at, last_updated_at, pipeline_id, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			doc.Collection, doc.ID, doc.CreatedBy, doc.CreatedAt,
			doc.LastCheckedAt, doc.LastUpdatedAt, doc.PipelineID, payload)
	}

	if err := b.tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "document insert failed")
	}
	return nil
}

func (b *postgresBatch) UpdateDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, doc := range docs {
		payload, err := json.Marshal(doc.Payload)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "cannot encode document payload")
		}
		batch.Queue(`
			UPDATE documents
			SET last_checked_at = $3, last_updated_at = $4, pipeline_id = $5, payload = $6
			WHERE collection = $1 AND id = $2`,
			doc.Collection, doc.ID, doc.LastCheckedAt, doc.LastUpdatedAt, doc.PipelineID, payload)
	}

	if err := b.tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "document update failed")
	}
	return nil
}

func (b *postgresBatch) TouchChecked(ctx context.Context, collection string, ids []string, checkedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := b.tx.Exec(ctx, `
		UPDATE documents SET last_checked_at = $3
		WHERE collection = $1 AND id = ANY($2)`,
		collection, ids, checkedAt); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "document touch failed")
	}
	return nil
}

func (b *postgresBatch) AppendHistory(ctx context.Context, records []*HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "cannot encode history payload")
		}
		batch.Queue(`
			INSERT INTO document_history
				(collection, row_id, pipeline_id, valid_from, valid_to, payload)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.Collection, rec.RowID, rec.PipelineID, rec.ValidFrom, rec.ValidTo, payload)
	}

	if err := b.tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "history append failed")
	}
	return nil
}

func (b *postgresBatch) Commit(ctx context.Context) error {
	if err := b.tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "document batch commit failed")
	}
	return nil
}

func (b *postgresBatch) Rollback(ctx context.Context) error {
	return b.tx.Rollback(ctx)
}
