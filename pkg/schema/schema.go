// Package schema derives and compares portable schema definitions for
// synced data sets. A Definition describes field names and primitive types
// the way a JSON schema does, whether the source is a relational table
// (column metadata) or an API response (sampled rows).
package schema

import (
	"sort"
)

// Type is the primitive type vocabulary shared by all sources.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// FormatDateTime marks string properties holding timestamps.
const FormatDateTime = "date-time"

// Property describes a single named field. Object properties carry their
// own nested Properties.
type Property struct {
	Type       Type                 `json:"type"`
	Format     string               `json:"format,omitempty"`
	Properties map[string]*Property `json:"properties,omitempty"`
}

// Definition is a portable description of a data set: field names mapped to
// properties, plus the required (primary key) fields.
type Definition struct {
	Title      string               `json:"title"`
	Properties map[string]*Property `json:"properties"`
	Required   []string             `json:"required,omitempty"`
	PrimaryKey string               `json:"primaryKey,omitempty"`
}

// PropertyNames returns the property names in stable sorted order.
func (d *Definition) PropertyNames() []string {
	names := make([]string, 0, len(d.Properties))
	for name := range d.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChangeKind classifies a single drift item between two definitions.
type ChangeKind string

const (
	ChangeAdded       ChangeKind = "added"
	ChangeRemoved     ChangeKind = "removed"
	ChangeTypeChanged ChangeKind = "type_changed"
)

// Change is one field-level difference between two definitions.
type Change struct {
	Field string
	Kind  ChangeKind
	From  Type
	To    Type
}

// Diff compares two definitions field for field and reports the drift.
// A nil old definition means every field of the new one is reported as
// added. Drift is an operator signal only; callers must not let it block
// or alter a running sync.
func Diff(old, new *Definition) []Change {
	var changes []Change

	if new == nil {
		return changes
	}
	if old == nil {
		for _, name := range new.PropertyNames() {
			changes = append(changes, Change{Field: name, Kind: ChangeAdded, To: new.Properties[name].Type})
		}
		return changes
	}

	for _, name := range new.PropertyNames() {
		newProp := new.Properties[name]
		oldProp, ok := old.Properties[name]
		if !ok {
			changes = append(changes, Change{Field: name, Kind: ChangeAdded, To: newProp.Type})
			continue
		}
		if oldProp.Type != newProp.Type {
			changes = append(changes, Change{Field: name, Kind: ChangeTypeChanged, From: oldProp.Type, To: newProp.Type})
		}
	}

	for _, name := range old.PropertyNames() {
		if _, ok := new.Properties[name]; !ok {
			changes = append(changes, Change{Field: name, Kind: ChangeRemoved, From: old.Properties[name].Type})
		}
	}

	return changes
}
