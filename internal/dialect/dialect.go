// Package dialect isolates backend-specific SQL syntax. A Dialect is a
// syntax-only contract: given already-computed SQL sub-expressions it
// produces backend text for JSON extraction, array enumeration, tolerant
// casts and current date/time values. It makes no language-semantic
// decisions.
package dialect

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ArraySource is the rowset produced by enumerating a JSON array. From is
// placed in a FROM clause (already aliased); Value and Ordinal are column
// expressions valid against that alias. Ordinal is only guaranteed to be
// monotonically increasing in element order, not zero- or one-based.
type ArraySource struct {
	From    string
	Value   string
	Ordinal string
}

// Dialect is implemented once per backend.
type Dialect interface {
	// Name returns the registry name ("duckdb", "postgresql", "sqlite").
	Name() string

	// ExtractField extracts a scalar field as text. path is dot-separated
	// and relative to source.
	ExtractField(source, path string) string

	// ExtractJSON extracts a field preserving its JSON representation
	// (used when the result feeds array enumeration or nested extraction).
	ExtractJSON(source, path string) string

	// EnumerateArray enumerates a JSON array expression into rows.
	EnumerateArray(source string) ArraySource

	// Cast converts expr to targetType tolerantly: invalid input yields
	// NULL (or a type-zero value where the backend cannot express NULL),
	// never a query-time error. Target types are FHIR primitive names.
	Cast(expr, targetType string) string

	// Current date/time value expressions.
	CurrentDate() string
	CurrentTimestamp() string
	CurrentTime() string

	// QuoteString renders a SQL string literal. Input is NFC-normalized
	// so semantically equal literals produce identical SQL text.
	QuoteString(s string) string

	// Placeholder returns the i-th (1-based) bind parameter marker.
	Placeholder(i int) string
}

// registry holds the built-in dialects.
var registry = map[string]Dialect{
	"duckdb":     DuckDB{},
	"postgresql": PostgreSQL{},
	"sqlite":     SQLite{},
}

// Get returns the dialect registered under name, trying common aliases.
// Returns nil if no dialect matches.
func Get(name string) Dialect {
	if d, ok := registry[strings.ToLower(name)]; ok {
		return d
	}
	switch strings.ToLower(name) {
	case "postgres", "pg", "pgsql":
		return PostgreSQL{}
	case "duck":
		return DuckDB{}
	case "sqlite3":
		return SQLite{}
	}
	return nil
}

// Names returns the registered dialect names.
func Names() []string {
	return []string{"duckdb", "postgresql", "sqlite"}
}

// quoteSingle renders s as a single-quoted SQL literal with NFC
// normalization and quote doubling.
func quoteSingle(s string) string {
	s = norm.NFC.String(s)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// jsonPath renders a dot-separated relative path as a SQLite-style JSON
// path expression ($.a.b).
func jsonPath(path string) string {
	if path == "" {
		return "$"
	}
	return "$." + path
}
