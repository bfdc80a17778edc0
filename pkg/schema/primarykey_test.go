package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuessKey(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{"exact id wins", []string{"name", "id", "customer_id"}, "id"},
		{"suffix next", []string{"name", "customer_id", "order_id"}, "customer_id"},
		{"prefix last", []string{"name", "id_token"}, "id_token"},
		{"case insensitive", []string{"Name", "ID"}, "ID"},
		{"nothing matches", []string{"name", "email"}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GuessKey(tt.names))
		})
	}
}

func TestResolveKeyOverride(t *testing.T) {
	def := &Definition{PrimaryKey: "uid"}

	key := ResolveKey(def, "custom")
	assert.Equal(t, "custom", key.Name)
	assert.Equal(t, KeyDeclared, key.Source)
	assert.True(t, key.Resolved())
}

func TestResolveKeyMetadata(t *testing.T) {
	key := ResolveKey(&Definition{PrimaryKey: "uid"}, "")
	assert.Equal(t, "uid", key.Name)
	assert.Equal(t, KeyMetadataDetected, key.Source)
}

func TestResolveKeyCompositeKeepsFirst(t *testing.T) {
	key := ResolveKey(&Definition{PrimaryKey: "tenant,uid"}, "")
	assert.Equal(t, "tenant", key.Name)
	assert.Equal(t, KeyMetadataDetected, key.Source)
}

func TestResolveKeyRequiredFallback(t *testing.T) {
	key := ResolveKey(&Definition{Required: []string{"code"}}, "")
	assert.Equal(t, "code", key.Name)
	assert.Equal(t, KeyMetadataDetected, key.Source)
}

func TestResolveKeyHeuristic(t *testing.T) {
	def := &Definition{Properties: map[string]*Property{
		"name":        {Type: TypeString},
		"customer_id": {Type: TypeInteger},
	}}

	key := ResolveKey(def, "")
	assert.Equal(t, "customer_id", key.Name)
	assert.Equal(t, KeyHeuristicGuessed, key.Source)
}

func TestResolveKeyUnresolved(t *testing.T) {
	def := &Definition{Properties: map[string]*Property{
		"name": {Type: TypeString},
	}}

	key := ResolveKey(def, "")
	assert.False(t, key.Resolved())
	assert.Equal(t, "unresolved", key.Source.String())

	key = ResolveKey(nil, "")
	assert.False(t, key.Resolved())
}
