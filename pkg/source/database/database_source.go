// Package database implements the relational source connector. It
// introspects an external database through information_schema, infers a
// portable schema from column metadata, and pages through the table in
// primary-key order with offset-based batches.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"go.uber.org/zap"

	"github.com/tidesync/tidesync/pkg/errors"
	"github.com/tidesync/tidesync/pkg/schema"
	"github.com/tidesync/tidesync/pkg/source"
)

// Config holds the connection and target-table parameters of a relational
// source. Schema may be empty; discovery then scans all visible schemata
// for the table.
type Config struct {
	DBType   string `json:"dbType"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	Schema   string `json:"schema,omitempty"`
	Table    string `json:"table"`
}

// Source is a relational source connector for one pipeline execution.
type Source struct {
	cfg         Config
	keyOverride string
	dialect     dialect
	logger      *zap.Logger

	db         *sql.DB
	schemaName string
	tableName  string
	def        *schema.Definition
	key        schema.Key
}

// New validates the configuration and builds an unopened connector.
func New(cfg Config, primaryKeyOverride string, logger *zap.Logger) (*Source, error) {
	if cfg.Host == "" || cfg.Database == "" || cfg.Table == "" || cfg.User == "" {
		return nil, errors.New(errors.ErrorTypeConfig,
			"relational source requires host, user, database and table")
	}

	d, err := dialectFor(cfg.DBType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "unsupported source database")
	}

	return &Source{
		cfg:         cfg,
		keyOverride: primaryKeyOverride,
		dialect:     d,
		logger:      logger,
	}, nil
}

// Open connects to the source database, locates the table, introspects its
// columns and resolves the primary key. Connections are per execution and
// never cached across pipelines.
func (s *Source) Open(ctx context.Context) error {
	db, err := sql.Open(s.dialect.driverName(), s.dialect.dsn(s.cfg))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to open source database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "cannot reach source database")
	}
	s.db = db

	s.schemaName, s.tableName = s.splitSchemaTable()
	if s.schemaName == "" {
		s.schemaName, err = s.findSchemaForTable(ctx, s.tableName)
		if err != nil {
			_ = db.Close()
			return err
		}
	}

	cols, err := s.introspectColumns(ctx)
	if err != nil {
		_ = db.Close()
		return err
	}
	if len(cols) == 0 {
		_ = db.Close()
		return errors.Newf(errors.ErrorTypeNotFound,
			"table %s.%s not found or has no columns", s.schemaName, s.tableName)
	}

	s.def = schema.FromColumns(s.tableName, cols, s.logger)
	s.key = schema.ResolveKey(s.def, s.keyOverride)

	s.logger.Info("relational source opened",
		zap.String("schema", s.schemaName),
		zap.String("table", s.tableName),
		zap.Int("columns", len(cols)),
		zap.String("primary_key", s.key.Name),
		zap.String("key_source", s.key.Source.String()))

	return nil
}

// Schema returns the inferred definition of the source table.
func (s *Source) Schema(ctx context.Context) (*schema.Definition, error) {
	if s.def == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "source not opened")
	}
	return s.def, nil
}

// Key returns the resolved primary key with its provenance.
func (s *Source) Key() schema.Key {
	return s.key
}

// Cursor returns an offset-paging cursor ordered by primary key. Ordering
// is a correctness requirement: without it, paging under concurrent source
// writes can skip or duplicate rows.
func (s *Source) Cursor(batchSize int) source.Cursor {
	return &tableCursor{src: s, batchSize: batchSize}
}

// Close releases the source connection.
func (s *Source) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Source) splitSchemaTable() (string, string) {
	if idx := strings.IndexByte(s.cfg.Table, '.'); idx >= 0 {
		return s.cfg.Table[:idx], s.cfg.Table[idx+1:]
	}
	return s.cfg.Schema, s.cfg.Table
}

// findSchemaForTable scans every discoverable schema's tables and views and
// picks the first whose name contains the target. Ambiguous matches are not
// disambiguated further.
func (s *Source) findSchemaForTable(ctx context.Context, table string) (string, error) {
	query := s.dialect.rebind(`
		SELECT table_schema, table_name
		FROM information_schema.tables
		ORDER BY table_schema, table_name`)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "failed to list source tables")
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeData, "failed to scan table listing")
		}
		if strings.Contains(tableName, table) {
			s.logger.Info("discovered schema for table",
				zap.String("schema", schemaName),
				zap.String("table", tableName))
			return schemaName, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "error iterating table listing")
	}

	return "", errors.Newf(errors.ErrorTypeNotFound, "no schema contains table %q", table)
}

func (s *Source) introspectColumns(ctx context.Context) ([]schema.Column, error) {
	primary, err := s.primaryKeyColumns(ctx)
	if err != nil {
		return nil, err
	}

	query := s.dialect.rebind(`
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`)

	rows, err := s.db.QueryContext(ctx, query, s.schemaName, s.tableName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query table columns")
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan column row")
		}
		cols = append(cols, schema.Column{
			Name:       name,
			DBType:     dataType,
			Nullable:   strings.EqualFold(nullable, "YES"),
			PrimaryKey: primary[name],
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error iterating column rows")
	}

	return cols, nil
}

// primaryKeyColumns returns the declared primary-key columns. Views expose
// none, in which case the key falls back to the name heuristics.
func (s *Source) primaryKeyColumns(ctx context.Context) (map[string]bool, error) {
	query := s.dialect.rebind(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		 AND kcu.table_name = tc.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = ? AND tc.table_name = ?`)

	rows, err := s.db.QueryContext(ctx, query, s.schemaName, s.tableName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query primary key")
	}
	defer rows.Close()

	primary := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan key column")
		}
		primary[name] = true
	}
	return primary, rows.Err()
}

// tableCursor pages SELECT ... ORDER BY <pk> LIMIT ... OFFSET ... through
// the source table.
type tableCursor struct {
	src       *Source
	batchSize int
	batchNum  int
}

// NextBatch fetches the next page of rows ordered by primary key. An empty
// slice ends the scan.
func (c *tableCursor) NextBatch(ctx context.Context) ([]source.Row, error) {
	s := c.src
	if !s.key.Resolved() {
		return nil, errors.New(errors.ErrorTypeConfig, "cannot page source table without a primary key")
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s ORDER BY %s LIMIT %d OFFSET %d",
		s.dialect.quoteIdent(s.schemaName),
		s.dialect.quoteIdent(s.tableName),
		s.dialect.quoteIdent(s.key.Name),
		c.batchSize,
		c.batchNum*c.batchSize)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to fetch source batch")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read result columns")
	}

	var batch []source.Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		targets := make([]interface{}, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan source row")
		}

		row := make(source.Row, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error iterating source rows")
	}

	c.batchNum++
	return batch, nil
}

func (c *tableCursor) Close(ctx context.Context) error {
	return nil
}

// convertValue normalizes driver values into JSON-friendly Go types.
func convertValue(v interface{}) interface{} {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	default:
		return value
	}
}
