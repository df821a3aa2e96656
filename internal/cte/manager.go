// Package cte assembles translator fragments into one executable SQL
// statement. Fragments become named CTEs emitted in dependency order; the
// terminal fragment feeds the final SELECT. The assembler owns the row-shape
// rules (enumeration numbering, filter renumbering, record-preserving
// aggregation, bounded recursion for folds); the translator owns the value
// expressions inside them.
package cte

import (
	"fmt"
	"strings"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/translator"
)

// DefaultMaxFoldDepth bounds recursive fold CTEs when Options does not.
const DefaultMaxFoldDepth = 10000

// Options configures one assembly.
type Options struct {
	// Dialect renders array enumeration inside unnest CTEs.
	Dialect dialect.Dialect

	// Table and IDColumn identify the backing resource table.
	Table    string
	IDColumn string

	// MaxFoldDepth bounds recursive fold CTEs; 0 means DefaultMaxFoldDepth.
	MaxFoldDepth int
}

// manager carries per-assembly state.
type manager struct {
	opts   Options
	byName map[string]*translator.Fragment

	// enumerable records which CTEs expose a meaningful multi-row ord.
	enumerable map[string]bool
}

// Assemble renders an ordered fragment list into a single SQL statement.
// The last fragment in the list is the terminal result. Fragments are
// emitted in dependency order, ties broken by emission order, so equal
// fragment lists always produce byte-identical SQL.
func Assemble(frags []*translator.Fragment, opts Options) (string, error) {
	if len(frags) == 0 {
		return "", dependencyErr("", "no fragments to assemble")
	}
	if opts.MaxFoldDepth <= 0 {
		opts.MaxFoldDepth = DefaultMaxFoldDepth
	}

	m := &manager{
		opts:       opts,
		byName:     make(map[string]*translator.Fragment, len(frags)),
		enumerable: make(map[string]bool, len(frags)),
	}
	for _, f := range frags {
		m.byName[f.Name] = f
	}

	ordered, err := m.order(frags)
	if err != nil {
		return "", err
	}

	recursive := false
	var defs []string
	for _, f := range ordered {
		body, err := m.render(f)
		if err != nil {
			return "", err
		}
		if f.Meta.Fold != nil {
			recursive = true
			defs = append(defs, fmt.Sprintf("%s_steps(%s, %s, %s) AS (\n%s\n)",
				f.Name, translator.IDColumn, translator.ValueColumn, translator.OrdinalColumn,
				indent(m.renderFoldSteps(f))))
		}
		defs = append(defs, fmt.Sprintf("%s AS (\n%s\n)", f.Name, indent(body)))
		m.enumerable[f.Name] = m.isEnumerable(f)
	}

	terminal := frags[len(frags)-1]
	with := "WITH "
	if recursive {
		with = "WITH RECURSIVE "
	}
	return fmt.Sprintf("%s%s\nSELECT %s, %s FROM %s ORDER BY %s, %s",
		with, strings.Join(defs, ",\n"),
		translator.IDColumn, translator.ValueColumn, terminal.Name,
		translator.IDColumn, translator.OrdinalColumn), nil
}

// order returns the fragments in dependency order. The translator already
// emits dependencies first, so this is a verification pass as much as a
// sort: a dependency naming no fragment in the list is fatal.
func (m *manager) order(frags []*translator.Fragment) ([]*translator.Fragment, error) {
	placed := make(map[string]bool, len(frags))
	ordered := make([]*translator.Fragment, 0, len(frags))
	remaining := append([]*translator.Fragment(nil), frags...)

	for len(remaining) > 0 {
		progressed := false
		rest := remaining[:0]
		for _, f := range remaining {
			ready := true
			for _, dep := range f.Deps {
				if _, ok := m.byName[dep]; !ok {
					return nil, dependencyErr(f.Name, "dependency %q is not in the fragment list", dep)
				}
				if !placed[dep] {
					ready = false
				}
			}
			if ready {
				ordered = append(ordered, f)
				placed[f.Name] = true
				progressed = true
			} else {
				rest = append(rest, f)
			}
		}
		if !progressed {
			names := make([]string, len(rest))
			for i, f := range rest {
				names[i] = f.Name
			}
			return nil, dependencyErr(names[0], "dependency cycle among fragments %s", strings.Join(names, ", "))
		}
		remaining = rest
	}
	return ordered, nil
}

// render produces one fragment's CTE body.
func (m *manager) render(f *translator.Fragment) (string, error) {
	switch {
	case f.Meta.Literals != nil:
		return m.renderLiterals(f), nil
	case f.Meta.UnionOf != nil:
		return m.renderUnion(f), nil
	case f.Meta.Fold != nil:
		return m.renderFoldResult(f), nil
	case f.Unnest:
		return m.renderUnnest(f), nil
	case f.Aggregate:
		return m.renderAggregate(f), nil
	case f.Meta.Ordinal != nil:
		return m.renderOrdinal(f), nil
	default:
		return m.renderPlain(f), nil
	}
}

// sourceRef returns the FROM clause target and the id column expression
// valid against alias src.
func (m *manager) sourceRef(f *translator.Fragment) (from, idExpr string) {
	if f.Source == "" {
		return m.opts.Table, translator.SourceAlias + "." + m.opts.IDColumn
	}
	return f.Source, translator.SourceAlias + "." + translator.IDColumn
}

func (m *manager) renderLiterals(f *translator.Fragment) string {
	rows := make([]string, len(f.Meta.Literals))
	for i, lit := range f.Meta.Literals {
		rows[i] = fmt.Sprintf("SELECT 1 AS %s, %s AS %s, %d AS %s",
			translator.IDColumn, lit, translator.ValueColumn, i+1, translator.OrdinalColumn)
	}
	return strings.Join(rows, "\nUNION ALL\n")
}

// renderUnnest expands a JSON array into one row per element with a
// per-record contiguous 1-based ordinal. Numbering is partitioned by record
// id so per-record subsetting stays correct across a population.
func (m *manager) renderUnnest(f *translator.Fragment) string {
	from, idExpr := m.sourceRef(f)
	arr := m.opts.Dialect.EnumerateArray(f.Expr)
	return fmt.Sprintf(
		"SELECT %s AS %s, %s AS %s,\n       ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s\nFROM %s %s, %s",
		idExpr, translator.IDColumn,
		arr.Value, translator.ValueColumn,
		idExpr, arr.Ordinal, translator.OrdinalColumn,
		from, translator.SourceAlias, arr.From)
}

// renderPlain handles projections, filters and pass-throughs. A filter over
// an enumerated row-set renumbers survivors so downstream ordinal filters
// see a contiguous sequence.
func (m *manager) renderPlain(f *translator.Fragment) string {
	from, idExpr := m.sourceRef(f)
	valueExpr := f.Expr
	if valueExpr == "" {
		valueExpr = translator.SourceAlias + "." + translator.ValueColumn
	}

	ordExpr := "1"
	if f.Source != "" && m.enumerable[f.Source] {
		if f.Meta.Filter != "" {
			ordExpr = fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s.%s)",
				idExpr, translator.SourceAlias, translator.OrdinalColumn)
		} else {
			ordExpr = translator.SourceAlias + "." + translator.OrdinalColumn
		}
	}

	body := fmt.Sprintf("SELECT %s AS %s, %s AS %s, %s AS %s\nFROM %s %s",
		idExpr, translator.IDColumn,
		valueExpr, translator.ValueColumn,
		ordExpr, translator.OrdinalColumn,
		from, translator.SourceAlias)
	if f.Meta.Filter != "" {
		body += "\nWHERE " + f.Meta.Filter
	}
	return body
}

// renderOrdinal applies a declarative row-position filter and renumbers the
// survivors. last uses a correlated per-record maximum so each record keeps
// its own final element.
func (m *manager) renderOrdinal(f *translator.Fragment) string {
	from, idExpr := m.sourceRef(f)
	src := translator.SourceAlias
	ord := src + "." + translator.OrdinalColumn

	var cond string
	switch f.Meta.Ordinal.Op {
	case translator.OrdinalFirst:
		cond = ord + " = 1"
	case translator.OrdinalLast:
		cond = fmt.Sprintf("%s = (SELECT MAX(s2.%s) FROM %s s2 WHERE s2.%s = %s)",
			ord, translator.OrdinalColumn, from, translator.IDColumn, idExpr)
	case translator.OrdinalTail:
		cond = ord + " > 1"
	case translator.OrdinalSkip:
		cond = fmt.Sprintf("%s > %d", ord, f.Meta.Ordinal.N)
	case translator.OrdinalTake:
		cond = fmt.Sprintf("%s <= %d", ord, f.Meta.Ordinal.N)
	case translator.OrdinalAt:
		cond = fmt.Sprintf("%s = %d", ord, f.Meta.Ordinal.N)
	}

	return fmt.Sprintf(
		"SELECT %s AS %s, %s.%s AS %s,\n       ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s\nFROM %s %s\nWHERE %s",
		idExpr, translator.IDColumn,
		src, translator.ValueColumn, translator.ValueColumn,
		idExpr, ord, translator.OrdinalColumn,
		from, src, cond)
}

// renderAggregate collapses the source rows to one row per record. Record
// derived aggregates join back to the record root so records whose
// collection is empty still produce a row (count() = 0, exists() = false);
// literal-derived aggregates group the literal rows directly.
func (m *manager) renderAggregate(f *translator.Fragment) string {
	src := translator.SourceAlias
	if f.Meta.FromLiterals {
		return fmt.Sprintf("SELECT %s.%s AS %s, %s AS %s, 1 AS %s\nFROM %s %s\nGROUP BY %s.%s",
			src, translator.IDColumn, translator.IDColumn,
			f.Expr, translator.ValueColumn, translator.OrdinalColumn,
			f.Source, src,
			src, translator.IDColumn)
	}

	baseFrom, baseID := m.recordRoot(f)
	return fmt.Sprintf(
		"SELECT %s AS %s, %s AS %s, 1 AS %s\nFROM %s base\nLEFT JOIN %s %s ON %s.%s = %s\nGROUP BY %s",
		baseID, translator.IDColumn,
		f.Expr, translator.ValueColumn, translator.OrdinalColumn,
		baseFrom,
		f.Source, src, src, translator.IDColumn, baseID,
		baseID)
}

// recordRoot walks the source chain to the row-set that is one row per
// record: the base-table fragment when it is a plain per-record projection
// (the resource-type filter), otherwise the table itself.
func (m *manager) recordRoot(f *translator.Fragment) (from, idExpr string) {
	cur := m.byName[f.Source]
	for cur != nil && cur.Source != "" {
		cur = m.byName[cur.Source]
	}
	if cur != nil && !cur.Unnest && !cur.Aggregate {
		return cur.Name, "base." + translator.IDColumn
	}
	return m.opts.Table, "base." + m.opts.IDColumn
}

// renderFoldSteps is the recursive half of a fold: step 0 seeds the
// accumulator per record, step n+1 consumes element n+1. Recursion is
// bounded by MaxFoldDepth so malformed data cannot loop the backend.
func (m *manager) renderFoldSteps(f *translator.Fragment) string {
	spec := f.Meta.Fold
	return fmt.Sprintf(
		"SELECT DISTINCT %s.%s, %s, 0\nFROM %s %s\nUNION ALL\nSELECT %s.%s, %s, %s.%s + 1\nFROM %s_steps %s\nJOIN %s %s ON %s.%s = %s.%s AND %s.%s = %s.%s + 1\nWHERE %s.%s < %d",
		translator.SourceAlias, translator.IDColumn, spec.InitExpr,
		f.Source, translator.SourceAlias,
		translator.FoldStateAlias, translator.IDColumn, spec.StepExpr,
		translator.FoldStateAlias, translator.OrdinalColumn,
		f.Name, translator.FoldStateAlias,
		f.Source, translator.FoldElemAlias,
		translator.FoldElemAlias, translator.IDColumn, translator.FoldStateAlias, translator.IDColumn,
		translator.FoldElemAlias, translator.OrdinalColumn, translator.FoldStateAlias, translator.OrdinalColumn,
		translator.FoldStateAlias, translator.OrdinalColumn, m.opts.MaxFoldDepth)
}

// renderFoldResult keeps each record's deepest accumulator state.
func (m *manager) renderFoldResult(f *translator.Fragment) string {
	fa := translator.FoldStateAlias
	return fmt.Sprintf(
		"SELECT %s.%s AS %s, %s.%s AS %s, 1 AS %s\nFROM %s_steps %s\nWHERE %s.%s = (SELECT MAX(s2.%s) FROM %s_steps s2 WHERE s2.%s = %s.%s)",
		fa, translator.IDColumn, translator.IDColumn,
		fa, translator.ValueColumn, translator.ValueColumn, translator.OrdinalColumn,
		f.Name, fa,
		fa, translator.OrdinalColumn, translator.OrdinalColumn,
		f.Name, translator.IDColumn, fa, translator.IDColumn)
}

// renderUnion concatenates the branch row-sets and renumbers elements so
// branch order is preserved per record.
func (m *manager) renderUnion(f *translator.Fragment) string {
	branches := make([]string, len(f.Meta.UnionOf))
	for i, name := range f.Meta.UnionOf {
		branches[i] = fmt.Sprintf("SELECT %s, %s, %s, %d AS branch FROM %s",
			translator.IDColumn, translator.ValueColumn, translator.OrdinalColumn, i+1, name)
	}
	return fmt.Sprintf(
		"SELECT u.%s AS %s, u.%s AS %s,\n       ROW_NUMBER() OVER (PARTITION BY u.%s ORDER BY u.branch, u.%s) AS %s\nFROM (\n%s\n) u",
		translator.IDColumn, translator.IDColumn,
		translator.ValueColumn, translator.ValueColumn,
		translator.IDColumn, translator.OrdinalColumn, translator.OrdinalColumn,
		indent(strings.Join(branches, "\nUNION ALL\n")))
}

// isEnumerable reports whether a fragment's ord column carries real element
// positions (vs the constant 1 of per-record scalars).
func (m *manager) isEnumerable(f *translator.Fragment) bool {
	switch {
	case f.Unnest, f.Meta.Literals != nil, f.Meta.UnionOf != nil, f.Meta.Ordinal != nil:
		return true
	case f.Aggregate, f.Meta.Fold != nil:
		return false
	default:
		return f.Source != "" && m.enumerable[f.Source]
	}
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
