// Package source defines the contracts shared by tidesync source
// connectors. A connector exposes the source schema and hands out cursors
// that page through the source in a stable order; the sync engine consumes
// batches until an empty one signals exhaustion.
package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tidesync/tidesync/pkg/schema"
)

// Row is one source row as an associative structure.
type Row = map[string]interface{}

// Cursor pages through a source. NextBatch returns the next batch of rows;
// an empty batch terminates the scan. Implementations must return rows in a
// stable order across calls.
type Cursor interface {
	NextBatch(ctx context.Context) ([]Row, error)
	Close(ctx context.Context) error
}

// Truncator is implemented by cursors that can end a scan early on a
// transient source error. Truncated reports whether the last empty batch
// meant a failed request rather than genuine exhaustion, so callers can
// surface the distinction without changing the run outcome.
type Truncator interface {
	Truncated() bool
}

// Connector is one open source for a single pipeline execution. Connection
// state is resolved in Open and never shared across pipelines.
type Connector interface {
	Open(ctx context.Context) error
	Schema(ctx context.Context) (*schema.Definition, error)
	Key() schema.Key
	Cursor(batchSize int) Cursor
	Close(ctx context.Context) error
}

// Truncated reports the truncation signal of a cursor, false when the
// cursor does not expose one.
func Truncated(c Cursor) bool {
	if t, ok := c.(Truncator); ok {
		return t.Truncated()
	}
	return false
}

// StringID renders a primary-key value as the stable string form used to
// key documents. Integral floats (JSON numbers) render without a decimal
// point so relational and API sources agree on ids.
func StringID(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case int:
		return strconv.Itoa(id)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case time.Time:
		return id.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", id)
	}
}
