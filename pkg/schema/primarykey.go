package schema

import (
	"sort"
	"strings"
)

// KeySource tags where a resolved primary key came from, so the fallback
// chain stays reproducible and testable.
type KeySource int

const (
	// KeyUnresolved means no primary key could be determined
	KeyUnresolved KeySource = iota
	// KeyDeclared means the pipeline configuration named the key explicitly
	KeyDeclared
	// KeyMetadataDetected means source metadata declared the key
	KeyMetadataDetected
	// KeyHeuristicGuessed means the key was guessed from column names
	KeyHeuristicGuessed
)

func (s KeySource) String() string {
	switch s {
	case KeyDeclared:
		return "declared"
	case KeyMetadataDetected:
		return "metadata"
	case KeyHeuristicGuessed:
		return "guessed"
	default:
		return "unresolved"
	}
}

// Key is a resolved primary key with its provenance.
type Key struct {
	Name   string
	Source KeySource
}

// Resolved reports whether a usable key was found.
func (k Key) Resolved() bool {
	return k.Source != KeyUnresolved && k.Name != ""
}

// ResolveKey determines the primary key for a definition. Precedence:
// explicit override, metadata-declared key, name heuristics. Callers must
// treat an unresolved key as a hard configuration error before fetching
// any data.
func ResolveKey(def *Definition, override string) Key {
	if override != "" {
		return Key{Name: override, Source: KeyDeclared}
	}

	if def != nil {
		if def.PrimaryKey != "" {
			// Composite declarations keep only the first column.
			name := def.PrimaryKey
			if idx := strings.IndexByte(name, ','); idx >= 0 {
				name = name[:idx]
			}
			return Key{Name: name, Source: KeyMetadataDetected}
		}
		if len(def.Required) > 0 {
			return Key{Name: def.Required[0], Source: KeyMetadataDetected}
		}
		if guess := GuessKey(def.PropertyNames()); guess != "" {
			return Key{Name: guess, Source: KeyHeuristicGuessed}
		}
	}

	return Key{Source: KeyUnresolved}
}

// GuessKey picks a probable id column from field names. Heuristics are
// applied in fixed priority order: exact "id", then a "_id" suffix, then an
// "id_" prefix; within one tier the alphabetically first name wins.
func GuessKey(names []string) string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	for _, name := range sorted {
		if strings.EqualFold(name, "id") {
			return name
		}
	}
	for _, name := range sorted {
		if strings.HasSuffix(strings.ToLower(name), "_id") {
			return name
		}
	}
	for _, name := range sorted {
		if strings.HasPrefix(strings.ToLower(name), "id_") {
			return name
		}
	}

	return ""
}
