package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStringID(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"bytes", []byte("abc"), "abc"},
		{"int", 42, "42"},
		{"int64", int64(42), "42"},
		{"integral float", float64(42), "42"},
		{"fractional float", 42.5, "42.5"},
		{"time", ts, "2025-06-01T12:00:00Z"},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StringID(tt.value))
		})
	}
}

func TestStringIDAgreesAcrossNumericTypes(t *testing.T) {
	// A bigint scanned as int64 and the same value decoded from JSON as
	// float64 must produce the same document id.
	assert.Equal(t, StringID(int64(1234)), StringID(float64(1234)))
}
