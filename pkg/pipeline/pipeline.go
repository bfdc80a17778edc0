// Package pipeline holds the pipeline model, the sync engine executing one
// pipeline end to end, and the scheduler deciding which pipelines are due.
package pipeline

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tidesync/tidesync/pkg/errors"
	"github.com/tidesync/tidesync/pkg/mapping"
	"github.com/tidesync/tidesync/pkg/schema"
)

// Source kinds accepted in a pipeline definition.
const (
	SourceDatabase = "database"
	SourceAPI      = "api"
)

// Schedule types.
const (
	ScheduleEvery = "every"
	ScheduleAt    = "at"
)

// defaultMaxDuration is the stale-lock timeout the scheduler falls back
// to when neither the pipeline nor the configuration carries one.
const defaultMaxDuration = 600 * time.Second

// Schedule describes when a pipeline should run: either every N minutes or
// once per day at a fixed hour.
type Schedule struct {
	Type    string `json:"type"`
	Minutes int    `json:"minutes,omitempty"`
	Hour    int    `json:"hour,omitempty"`
}

// Due reports whether a run is due at now, given the last run time. Runs
// less than a minute apart are suppressed regardless of schedule, so a
// pipeline cannot double-fire inside one scheduler tick.
func (s Schedule) Due(now, lastRun time.Time) bool {
	if !lastRun.IsZero() && now.Sub(lastRun) < time.Minute {
		return false
	}

	switch s.Type {
	case ScheduleEvery:
		if s.Minutes <= 0 {
			return false
		}
		return lastRun.IsZero() || now.Sub(lastRun) >= time.Duration(s.Minutes)*time.Minute
	case ScheduleAt:
		// Fires only on the minute-zero tick of the configured hour; the
		// suppression above keeps it from firing twice within that minute.
		return now.Hour() == s.Hour && now.Minute() == 0
	default:
		return false
	}
}

// Validate checks the schedule definition.
func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleEvery:
		if s.Minutes <= 0 {
			return errors.New(errors.ErrorTypeValidation, "every-schedule requires positive minutes")
		}
	case ScheduleAt:
		if s.Hour < 0 || s.Hour > 23 {
			return errors.New(errors.ErrorTypeValidation, "at-schedule hour must be 0..23")
		}
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown schedule type %q", s.Type)
	}
	return nil
}

// Pipeline is one configured sync: a source, a field map, a schedule and
// the execution state the scheduler maintains.
type Pipeline struct {
	// Name identifies the pipeline and doubles as the document collection
	// unless Collection overrides it.
	Name       string `json:"name"`
	Collection string `json:"collection,omitempty"`

	// SourceKind selects the connector; DataSource holds its configuration
	// verbatim and is decoded by the matching connector package.
	SourceKind string          `json:"sourceKind"`
	DataSource json.RawMessage `json:"dataSource"`

	// PrimaryKey optionally overrides key resolution.
	PrimaryKey string `json:"primaryKey,omitempty"`

	// FieldMap is the active mapping; empty means map 1:1 from the source
	// schema. LastAutoMap records the derived 1:1 map of the latest run so
	// manual edits can be told apart from schema growth.
	FieldMap    mapping.FieldMap `json:"fieldMap,omitempty"`
	LastAutoMap mapping.FieldMap `json:"lastAutoMap,omitempty"`

	// LastSourceSchema is the schema observed by the previous run, kept for
	// drift detection.
	LastSourceSchema *schema.Definition `json:"lastSourceSchema,omitempty"`

	Schedule Schedule `json:"schedule"`

	// Execution state owned by the scheduler.
	Executing           bool      `json:"executing"`
	LastRun             time.Time `json:"lastRun,omitempty"`
	LastDurationSeconds float64   `json:"lastDurationSeconds,omitempty"`
	// MaxDurationSeconds bounds a run before its lock counts as stale;
	// zero applies the scheduler's configured default.
	MaxDurationSeconds int `json:"maxDurationSeconds,omitempty"`
}

// CollectionName returns the document collection this pipeline writes to.
func (p *Pipeline) CollectionName() string {
	if p.Collection != "" {
		return p.Collection
	}
	return p.Name
}

// Validate checks the pipeline definition for correctness.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return errors.New(errors.ErrorTypeValidation, "pipeline requires a name")
	}
	if p.SourceKind != SourceDatabase && p.SourceKind != SourceAPI {
		return errors.Newf(errors.ErrorTypeValidation, "unknown source kind %q", p.SourceKind)
	}
	if len(p.DataSource) == 0 {
		return errors.New(errors.ErrorTypeValidation, "pipeline requires a data source")
	}
	return p.Schedule.Validate()
}

// Store persists pipeline definitions and their execution state.
type Store interface {
	List(ctx context.Context) ([]*Pipeline, error)
	Get(ctx context.Context, name string) (*Pipeline, error)
	// Create fails when a pipeline of the same name exists.
	Create(ctx context.Context, p *Pipeline) error
	// Save upserts the full pipeline, execution state included.
	Save(ctx context.Context, p *Pipeline) error
}
