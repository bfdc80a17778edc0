package pipeline

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidesync/tidesync/pkg/errors"
)

const pipelinesDDL = `
CREATE TABLE IF NOT EXISTS pipelines (
	name       TEXT  PRIMARY KEY,
	definition JSONB NOT NULL
);
`

// PostgresStore persists pipelines in the same database as the documents.
// The full pipeline, execution state included, lives in one JSONB column;
// pipelines are few and read whole on every scheduler tick.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore ensures the pipelines table exists on the given pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, pipelinesDDL); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "cannot create pipelines table")
	}
	return &PostgresStore{pool: pool}, nil
}

// List returns all pipelines ordered by name.
func (s *PostgresStore) List(ctx context.Context) ([]*Pipeline, error) {
	rows, err := s.pool.Query(ctx, `SELECT definition FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "pipeline listing failed")
	}
	defer rows.Close()

	var pipelines []*Pipeline
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot scan pipeline row")
		}
		p := &Pipeline{}
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot decode pipeline definition")
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// Get returns one pipeline by name.
func (s *PostgresStore) Get(ctx context.Context, name string) (*Pipeline, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT definition FROM pipelines WHERE name = $1`, name).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "pipeline %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "pipeline lookup failed")
	}

	p := &Pipeline{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot decode pipeline definition")
	}
	return p, nil
}

// Create inserts a new pipeline, failing on a name collision.
func (s *PostgresStore) Create(ctx context.Context, p *Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "cannot encode pipeline definition")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pipelines (name, definition) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`, p.Name, raw)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "pipeline create failed")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrorTypeValidation, "pipeline %q already exists", p.Name)
	}
	return nil
}

// Save upserts the full pipeline.
func (s *PostgresStore) Save(ctx context.Context, p *Pipeline) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "cannot encode pipeline definition")
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO pipelines (name, definition) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET definition = EXCLUDED.definition`,
		p.Name, raw); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "pipeline save failed")
	}
	return nil
}

// MemoryStore is an in-memory pipeline store for tests.
type MemoryStore struct {
	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// NewMemoryStore returns an empty in-memory pipeline store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pipelines: make(map[string]*Pipeline)}
}

func (s *MemoryStore) List(ctx context.Context) ([]*Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		copied := *p
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (*Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pipelines[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "pipeline %q not found", name)
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) Create(ctx context.Context, p *Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pipelines[p.Name]; exists {
		return errors.Newf(errors.ErrorTypeValidation, "pipeline %q already exists", p.Name)
	}
	copied := *p
	s.pipelines[p.Name] = &copied
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, p *Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *p
	s.pipelines[p.Name] = &copied
	return nil
}
