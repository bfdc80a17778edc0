package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tidesync/tidesync/pkg/schema"
	"github.com/tidesync/tidesync/pkg/source"
)

func TestAutoMap(t *testing.T) {
	def := &schema.Definition{Properties: map[string]*schema.Property{
		"a": {Type: schema.TypeInteger},
		"b": {Type: schema.TypeString},
	}}

	fm := AutoMap(def)
	assert.Equal(t, FieldMap{"a": "a", "b": "b"}, fm)
}

func TestMapIdentity(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))

	row := source.Row{"a": float64(2), "b": "hello"}
	payload := engine.Map(row, FieldMap{"a": "a", "b": "b"})

	assert.Equal(t, float64(2), payload["a"])
	assert.Equal(t, "hello", payload["b"])
}

func TestMapExpression(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))

	row := source.Row{"a": float64(2), "b": float64(3)}
	payload := engine.Map(row, FieldMap{"a": "a", "b": "b", "c": "a + b"})

	require.Contains(t, payload, "c")
	assert.Equal(t, float64(5), payload["c"])
	assert.Equal(t, float64(2), payload["a"])
	assert.Equal(t, float64(3), payload["b"])
}

func TestMapTextExpression(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))

	row := source.Row{"first": "ada", "last": "byron"}
	payload := engine.Map(row, FieldMap{"full": `first + " " + last`})

	assert.Equal(t, "ada byron", payload["full"])
}

func TestMapFailingExpressionYieldsNil(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))

	row := source.Row{"a": float64(2)}
	payload := engine.Map(row, FieldMap{"broken": "a +", "a": "a"})

	require.Contains(t, payload, "broken")
	assert.Nil(t, payload["broken"])
	assert.Equal(t, float64(2), payload["a"])
}

func TestMapTrimsStrings(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))

	row := source.Row{"name": "  padded   "}
	payload := engine.Map(row, FieldMap{"name": "name"})

	assert.Equal(t, "padded", payload["name"])
}

func TestMapCanonicalizesNumbers(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))

	// int64 from a database driver must equal the float64 a JSON store
	// round trip produces.
	row := source.Row{"n": int64(42)}
	payload := engine.Map(row, FieldMap{"n": "n"})

	assert.Equal(t, float64(42), payload["n"])
}

func TestMapMissingSourceField(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))

	payload := engine.Map(source.Row{}, FieldMap{"gone": "gone"})

	require.Contains(t, payload, "gone")
	assert.Nil(t, payload["gone"])
}
