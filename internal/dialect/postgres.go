package dialect

import (
	"fmt"
	"strings"
)

// PostgreSQL emits PostgreSQL syntax over jsonb columns. Postgres raises on
// invalid casts, so the tolerant-cast contract is met with regex-guarded
// CASE expressions that fall through to NULL.
type PostgreSQL struct{}

// Name implements Dialect.
func (PostgreSQL) Name() string { return "postgresql" }

// ExtractField implements Dialect. #>> extracts as text.
func (PostgreSQL) ExtractField(source, path string) string {
	return fmt.Sprintf("(%s #>> '%s')", source, pgPath(path))
}

// ExtractJSON implements Dialect. #> keeps the jsonb representation.
func (PostgreSQL) ExtractJSON(source, path string) string {
	return fmt.Sprintf("(%s #> '%s')", source, pgPath(path))
}

// EnumerateArray implements Dialect.
func (PostgreSQL) EnumerateArray(source string) ArraySource {
	return ArraySource{
		From:    fmt.Sprintf("jsonb_array_elements(%s) WITH ORDINALITY AS elem(value, ord)", source),
		Value:   "elem.value",
		Ordinal: "elem.ord",
	}
}

// Cast implements Dialect.
func (PostgreSQL) Cast(expr, targetType string) string {
	switch targetType {
	case "integer", "positiveInt", "unsignedInt":
		return fmt.Sprintf("(CASE WHEN (%s)::text ~ '^-?[0-9]+$' THEN (%s)::text::integer END)", expr, expr)
	case "decimal":
		return fmt.Sprintf("(CASE WHEN (%s)::text ~ '^-?[0-9]+(\\.[0-9]+)?$' THEN (%s)::text::numeric END)", expr, expr)
	case "boolean":
		return fmt.Sprintf("(CASE WHEN (%s)::text IN ('true', '1') THEN true WHEN (%s)::text IN ('false', '0') THEN false END)", expr, expr)
	case "date":
		return fmt.Sprintf("(CASE WHEN (%s)::text ~ '^[0-9]{4}-[0-9]{2}-[0-9]{2}' THEN ((%s)::text)::date END)", expr, expr)
	case "dateTime", "instant", "timestamp":
		return fmt.Sprintf("(CASE WHEN (%s)::text ~ '^[0-9]{4}-[0-9]{2}-[0-9]{2}' THEN ((%s)::text)::timestamp END)", expr, expr)
	case "time":
		return fmt.Sprintf("(CASE WHEN (%s)::text ~ '^[0-9]{2}:[0-9]{2}' THEN ((%s)::text)::time END)", expr, expr)
	default:
		return fmt.Sprintf("(%s)::text", expr)
	}
}

// CurrentDate implements Dialect.
func (PostgreSQL) CurrentDate() string { return "CURRENT_DATE" }

// CurrentTimestamp implements Dialect.
func (PostgreSQL) CurrentTimestamp() string { return "CURRENT_TIMESTAMP" }

// CurrentTime implements Dialect.
func (PostgreSQL) CurrentTime() string { return "CURRENT_TIME" }

// QuoteString implements Dialect.
func (PostgreSQL) QuoteString(s string) string { return quoteSingle(s) }

// Placeholder implements Dialect.
func (PostgreSQL) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

// pgPath renders a dotted path as a Postgres text-array path literal.
func pgPath(path string) string {
	if path == "" {
		return "{}"
	}
	return "{" + strings.ReplaceAll(path, ".", ",") + "}"
}
