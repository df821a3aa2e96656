package dialect

import "fmt"

// SQLite emits SQLite syntax. SQLite has no TRY_CAST; casts lean on the
// date()/time() family (NULL on invalid input) and guarded CASE forms for
// booleans. Plain CAST is used for numerics, which coerces rather than
// raises, satisfying the never-raise half of the tolerant-cast contract.
type SQLite struct{}

// Name implements Dialect.
func (SQLite) Name() string { return "sqlite" }

// ExtractField implements Dialect.
func (SQLite) ExtractField(source, path string) string {
	return fmt.Sprintf("json_extract(%s, '%s')", source, jsonPath(path))
}

// ExtractJSON implements Dialect.
func (SQLite) ExtractJSON(source, path string) string {
	return fmt.Sprintf("json_extract(%s, '%s')", source, jsonPath(path))
}

// EnumerateArray implements Dialect. json_each yields key (the array index)
// and value per element.
func (SQLite) EnumerateArray(source string) ArraySource {
	return ArraySource{
		From:    fmt.Sprintf("json_each(%s) AS elem", source),
		Value:   "elem.value",
		Ordinal: "elem.key",
	}
}

// Cast implements Dialect.
func (SQLite) Cast(expr, targetType string) string {
	switch targetType {
	case "integer", "positiveInt", "unsignedInt":
		return fmt.Sprintf("CAST(%s AS INTEGER)", expr)
	case "decimal":
		return fmt.Sprintf("CAST(%s AS REAL)", expr)
	case "boolean":
		return fmt.Sprintf("(CASE WHEN %s IN ('true', 1, '1') THEN 1 WHEN %s IN ('false', 0, '0') THEN 0 END)", expr, expr)
	case "date":
		return fmt.Sprintf("date(%s)", expr)
	case "dateTime", "instant", "timestamp":
		return fmt.Sprintf("datetime(%s)", expr)
	case "time":
		return fmt.Sprintf("time(%s)", expr)
	default:
		return fmt.Sprintf("CAST(%s AS TEXT)", expr)
	}
}

// CurrentDate implements Dialect.
func (SQLite) CurrentDate() string { return "date('now')" }

// CurrentTimestamp implements Dialect.
func (SQLite) CurrentTimestamp() string { return "datetime('now')" }

// CurrentTime implements Dialect.
func (SQLite) CurrentTime() string { return "time('now')" }

// QuoteString implements Dialect.
func (SQLite) QuoteString(s string) string { return quoteSingle(s) }

// Placeholder implements Dialect.
func (SQLite) Placeholder(i int) string { return "?" }
