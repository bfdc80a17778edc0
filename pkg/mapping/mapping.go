// Package mapping transforms source rows into document payloads. A field
// map binds each target field to either a source field (identity) or a
// restricted expression evaluated over the row; expressions carry no calls
// into the host process and cannot touch anything but the row values.
package mapping

import (
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/tidesync/tidesync/pkg/schema"
	"github.com/tidesync/tidesync/pkg/source"
)

// FieldMap binds target field names to source expressions. An entry whose
// value equals a source field name copies it verbatim; any other value is
// evaluated as an expression with the row fields in scope.
type FieldMap map[string]string

// AutoMap derives the 1:1 identity map from a schema definition: every
// property maps to the source field of the same name.
func AutoMap(def *schema.Definition) FieldMap {
	fm := make(FieldMap, len(def.Properties))
	for name := range def.Properties {
		fm[name] = name
	}
	return fm
}

// Engine evaluates field maps over source rows. The expression language is
// deliberately small: arithmetic, text concatenation and boolean logic over
// row fields, nothing else.
type Engine struct {
	lang   gval.Language
	logger *zap.Logger
}

// NewEngine builds a mapping engine on the restricted expression language.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		lang: gval.NewLanguage(
			gval.Arithmetic(),
			gval.Text(),
			gval.PropositionalLogic(),
		),
		logger: logger,
	}
}

// Map applies the field map to one source row and returns the document
// payload. A failing expression yields nil for that field and is logged; it
// never fails the row.
func (e *Engine) Map(row source.Row, fm FieldMap) map[string]interface{} {
	payload := make(map[string]interface{}, len(fm))

	for target, expr := range fm {
		if value, ok := row[expr]; ok {
			payload[target] = canonicalize(value)
			continue
		}

		value, err := e.lang.Evaluate(expr, row)
		if err != nil {
			e.logger.Warn("field expression failed",
				zap.String("field", target),
				zap.String("expression", expr),
				zap.Error(err))
			payload[target] = nil
			continue
		}
		payload[target] = canonicalize(value)
	}

	return payload
}

// canonicalize forces a value into the shape it takes after a JSON store
// round trip, so stored and freshly mapped payloads compare equal. Strings
// are additionally trimmed: trailing padding from fixed-width source
// columns must not register as a change.
func canonicalize(value interface{}) interface{} {
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Sprintf("%v", value)
	}
	return out
}
