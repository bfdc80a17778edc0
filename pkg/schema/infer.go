package schema

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Column is the relational column metadata used for schema inference.
type Column struct {
	Name       string
	DBType     string
	Nullable   bool
	PrimaryKey bool
}

// sqlTypeTable maps declared SQL types to the primitive vocabulary. Matching
// is a case-insensitive substring check in table order, so the more specific
// entries come first.
var sqlTypeTable = []struct {
	match  string
	typ    Type
	format string
}{
	{"VARCHAR", TypeString, ""},
	{"TEXT", TypeString, ""},
	{"CLOB", TypeString, ""},
	{"CHAR", TypeString, ""},
	{"BIGINT", TypeInteger, ""},
	{"SMALLINT", TypeInteger, ""},
	{"TINYINT", TypeInteger, ""},
	{"INTEGER", TypeInteger, ""},
	{"SERIAL", TypeInteger, ""},
	{"INT", TypeInteger, ""},
	{"NUMERIC", TypeNumber, ""},
	{"NUMBER", TypeNumber, ""},
	{"DECIMAL", TypeNumber, ""},
	{"DOUBLE", TypeNumber, ""},
	{"FLOAT", TypeNumber, ""},
	{"REAL", TypeNumber, ""},
	{"BOOL", TypeBoolean, ""},
	{"JSONB", TypeObject, ""},
	{"JSON", TypeObject, ""},
	{"ARRAY", TypeArray, ""},
	{"TIMESTAMP", TypeString, FormatDateTime},
	{"DATETIME", TypeString, FormatDateTime},
	{"DATE", TypeString, FormatDateTime},
}

// dateTimePatterns detect date-time formatted scalars in sampled rows.
var dateTimePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?$`),
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
}

// FromColumns builds a Definition from relational column metadata. Columns
// with an unrecognized declared type are logged and skipped, never fatal.
// Primary-key columns become the required set.
func FromColumns(table string, cols []Column, logger *zap.Logger) *Definition {
	def := &Definition{
		Title:      table,
		Properties: make(map[string]*Property, len(cols)),
	}

	var primaryKeys []string

	for _, col := range cols {
		prop, ok := mapSQLType(col.DBType)
		if !ok {
			logger.Warn("column has unsupported type, skipped in schema",
				zap.String("table", table),
				zap.String("column", col.Name),
				zap.String("db_type", col.DBType))
		} else {
			def.Properties[col.Name] = prop
		}

		if col.PrimaryKey {
			primaryKeys = append(primaryKeys, col.Name)
		}
	}

	sort.Strings(primaryKeys)
	def.Required = primaryKeys
	if len(primaryKeys) > 0 {
		def.PrimaryKey = strings.Join(primaryKeys, ",")
	}

	return def
}

func mapSQLType(dbType string) (*Property, bool) {
	upper := strings.ToUpper(dbType)
	for _, entry := range sqlTypeTable {
		if strings.Contains(upper, entry.match) {
			return &Property{Type: entry.typ, Format: entry.format}, true
		}
	}
	return nil, false
}

// FromSamples builds a Definition by scanning up to sampleSize leading rows
// depth-first. Nested maps recurse into object properties; stringified
// scalars are checked against date-time patterns.
func FromSamples(title string, rows []map[string]interface{}, sampleSize int, logger *zap.Logger) *Definition {
	def := &Definition{
		Title:      title,
		Properties: make(map[string]*Property),
	}

	if sampleSize <= 0 {
		sampleSize = 1
	}
	if len(rows) < sampleSize {
		sampleSize = len(rows)
	}
	if sampleSize == 0 {
		logger.Warn("no sample rows to infer schema from", zap.String("title", title))
		return def
	}

	for _, row := range rows[:sampleSize] {
		mergeProperties(def.Properties, row)
	}

	return def
}

// mergeProperties folds one sampled row into the accumulated property set.
// The first observed non-null type wins for a given field.
func mergeProperties(props map[string]*Property, row map[string]interface{}) {
	for key, value := range row {
		inferred := inferValue(value)
		existing, ok := props[key]
		if !ok {
			props[key] = inferred
			continue
		}
		// A later sample can refine a field first seen as null.
		if existing.Type == TypeString && existing.Format == "" && value != nil && inferred.Type != TypeString {
			props[key] = inferred
			continue
		}
		if existing.Type == TypeObject && inferred.Type == TypeObject {
			for k, v := range inferred.Properties {
				if _, seen := existing.Properties[k]; !seen {
					existing.Properties[k] = v
				}
			}
		}
	}
}

func inferValue(value interface{}) *Property {
	switch v := value.(type) {
	case nil:
		return &Property{Type: TypeString}
	case bool:
		return &Property{Type: TypeBoolean}
	case int, int32, int64:
		return &Property{Type: TypeInteger}
	case float64:
		// JSON numbers decode as float64; integral values are integers.
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return &Property{Type: TypeInteger}
		}
		return &Property{Type: TypeNumber}
	case float32:
		return &Property{Type: TypeNumber}
	case string:
		return &Property{Type: TypeString, Format: detectFormat(v)}
	case map[string]interface{}:
		nested := make(map[string]*Property, len(v))
		mergeProperties(nested, v)
		return &Property{Type: TypeObject, Properties: nested}
	case []interface{}:
		return &Property{Type: TypeArray}
	default:
		return &Property{Type: TypeString, Format: detectFormat(fmt.Sprintf("%v", v))}
	}
}

func detectFormat(s string) string {
	for _, pattern := range dateTimePatterns {
		if pattern.MatchString(s) {
			return FormatDateTime
		}
	}
	return ""
}
