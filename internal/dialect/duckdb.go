package dialect

import "fmt"

// DuckDB emits DuckDB syntax. DuckDB's JSON extension is SQLite-compatible
// for json_extract/json_each and adds TRY_CAST, which maps directly onto
// the tolerant-cast contract.
type DuckDB struct{}

// Name implements Dialect.
func (DuckDB) Name() string { return "duckdb" }

// ExtractField implements Dialect.
func (DuckDB) ExtractField(source, path string) string {
	return fmt.Sprintf("json_extract_string(%s, '%s')", source, jsonPath(path))
}

// ExtractJSON implements Dialect.
func (DuckDB) ExtractJSON(source, path string) string {
	return fmt.Sprintf("json_extract(%s, '%s')", source, jsonPath(path))
}

// EnumerateArray implements Dialect.
func (DuckDB) EnumerateArray(source string) ArraySource {
	return ArraySource{
		From:    fmt.Sprintf("json_each(%s) AS elem", source),
		Value:   "elem.value",
		Ordinal: "elem.key",
	}
}

// Cast implements Dialect. TRY_CAST yields NULL on invalid input.
func (DuckDB) Cast(expr, targetType string) string {
	return fmt.Sprintf("TRY_CAST(%s AS %s)", expr, duckdbType(targetType))
}

func duckdbType(t string) string {
	switch t {
	case "integer", "positiveInt", "unsignedInt":
		return "INTEGER"
	case "decimal":
		return "DOUBLE"
	case "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "dateTime", "instant", "timestamp":
		return "TIMESTAMP"
	case "time":
		return "TIME"
	default:
		return "VARCHAR"
	}
}

// CurrentDate implements Dialect.
func (DuckDB) CurrentDate() string { return "current_date" }

// CurrentTimestamp implements Dialect.
func (DuckDB) CurrentTimestamp() string { return "current_timestamp" }

// CurrentTime implements Dialect.
func (DuckDB) CurrentTime() string { return "current_time" }

// QuoteString implements Dialect.
func (DuckDB) QuoteString(s string) string { return quoteSingle(s) }

// Placeholder implements Dialect.
func (DuckDB) Placeholder(i int) string { return "?" }
