package cte

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/translator"
)

func assemble(t *testing.T, frags []*translator.Fragment) string {
	t.Helper()
	sql, err := Assemble(frags, Options{
		Dialect:  dialect.SQLite{},
		Table:    "fhir_resources",
		IDColumn: "id",
	})
	require.NoError(t, err)
	return sql
}

func TestAssemblePlainFragment(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "path_1", Expr: "json_extract(src.resource, '$.birthDate')"},
	})

	assert.True(t, strings.HasPrefix(sql, "WITH path_1 AS ("), sql)
	assert.Contains(t, sql, "FROM fhir_resources src")
	assert.Contains(t, sql, "SELECT id, value FROM path_1 ORDER BY id, ord")
	assert.NotContains(t, sql, "RECURSIVE")
}

func TestAssembleUnnestNumbersPerRecord(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "unnest_1", Expr: "json_extract(src.resource, '$.name')", Unnest: true},
	})

	assert.Contains(t, sql, "json_each(json_extract(src.resource, '$.name')) AS elem")
	assert.Contains(t, sql, "ROW_NUMBER() OVER (PARTITION BY src.id ORDER BY elem.key) AS ord")
}

func TestAssembleFilterRenumbers(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "unnest_1", Expr: "json_extract(src.resource, '$.name')", Unnest: true},
		{Name: "where_2", Source: "unnest_1", Deps: []string{"unnest_1"},
			Meta: translator.Meta{Filter: "json_extract(src.value, '$.use') = 'official'"}},
	})

	assert.Contains(t, sql, "WHERE json_extract(src.value, '$.use') = 'official'")
	// Survivors get a fresh contiguous ordinal.
	assert.Contains(t, sql, "ROW_NUMBER() OVER (PARTITION BY src.id ORDER BY src.ord) AS ord")
}

func TestAssembleOrdinalFilters(t *testing.T) {
	base := &translator.Fragment{Name: "unnest_1", Expr: "json_extract(src.resource, '$.name')", Unnest: true}

	tests := []struct {
		name string
		ord  translator.OrdinalFilter
		want string
	}{
		{"first", translator.OrdinalFilter{Op: translator.OrdinalFirst}, "src.ord = 1"},
		{"tail", translator.OrdinalFilter{Op: translator.OrdinalTail}, "src.ord > 1"},
		{"skip", translator.OrdinalFilter{Op: translator.OrdinalSkip, N: 2}, "src.ord > 2"},
		{"take", translator.OrdinalFilter{Op: translator.OrdinalTake, N: 3}, "src.ord <= 3"},
		{"at", translator.OrdinalFilter{Op: translator.OrdinalAt, N: 1}, "src.ord = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ord := tt.ord
			sql := assemble(t, []*translator.Fragment{base, {
				Name: "sub_2", Source: "unnest_1", Deps: []string{"unnest_1"},
				Meta: translator.Meta{Ordinal: &ord},
			}})
			assert.Contains(t, sql, "WHERE "+tt.want)
		})
	}
}

func TestAssembleLastUsesPerRecordMax(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "unnest_1", Expr: "json_extract(src.resource, '$.name')", Unnest: true},
		{Name: "last_2", Source: "unnest_1", Deps: []string{"unnest_1"},
			Meta: translator.Meta{Ordinal: &translator.OrdinalFilter{Op: translator.OrdinalLast}}},
	})

	assert.Contains(t, sql, "(SELECT MAX(s2.ord) FROM unnest_1 s2 WHERE s2.id = src.id)")
}

func TestAssembleAggregatePreservesEmptyRecords(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "unnest_1", Expr: "json_extract(src.resource, '$.name')", Unnest: true},
		{Name: "count_2", Expr: "COUNT(src.value)", Source: "unnest_1",
			Deps: []string{"unnest_1"}, Aggregate: true},
	})

	// Records with no elements must still produce a row.
	assert.Contains(t, sql, "LEFT JOIN unnest_1 src ON src.id = base.id")
	assert.Contains(t, sql, "GROUP BY base.id")
}

func TestAssembleAggregateJoinsResourceFilterRoot(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "resource_1", Expr: "src.resource",
			Meta: translator.Meta{Filter: "json_extract(src.resource, '$.resourceType') = 'Patient'"}},
		{Name: "unnest_2", Expr: "json_extract(src.value, '$.name')",
			Source: "resource_1", Deps: []string{"resource_1"}, Unnest: true},
		{Name: "count_3", Expr: "COUNT(src.value)", Source: "unnest_2",
			Deps: []string{"unnest_2"}, Aggregate: true},
	})

	// Only Patient records count, including those with zero names.
	assert.Contains(t, sql, "FROM resource_1 base")
	assert.NotContains(t, sql, "FROM fhir_resources base")
}

func TestAssembleLiteralAggregateSkipsRecordJoin(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "literals_1", Meta: translator.Meta{Literals: []string{"1", "2", "3"}, FromLiterals: true}},
		{Name: "count_2", Expr: "COUNT(src.value)", Source: "literals_1",
			Deps: []string{"literals_1"}, Aggregate: true,
			Meta: translator.Meta{FromLiterals: true}},
	})

	assert.Contains(t, sql, "GROUP BY src.id")
	assert.NotContains(t, sql, "LEFT JOIN")
}

func TestAssembleLiterals(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "literals_1", Meta: translator.Meta{Literals: []string{"1", "2"}, FromLiterals: true}},
	})

	assert.Contains(t, sql, "SELECT 1 AS id, 1 AS value, 1 AS ord")
	assert.Contains(t, sql, "UNION ALL")
	assert.Contains(t, sql, "SELECT 1 AS id, 2 AS value, 2 AS ord")
}

func TestAssembleUnionRenumbersByBranch(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "a_1", Expr: "json_extract(src.resource, '$.name')", Unnest: true},
		{Name: "b_2", Expr: "json_extract(src.resource, '$.telecom')", Unnest: true},
		{Name: "union_3", Deps: []string{"a_1", "b_2"},
			Meta: translator.Meta{UnionOf: []string{"a_1", "b_2"}}},
	})

	assert.Contains(t, sql, "1 AS branch FROM a_1")
	assert.Contains(t, sql, "2 AS branch FROM b_2")
	assert.Contains(t, sql, "ORDER BY u.branch, u.ord")
}

func TestAssembleFoldEmitsBoundedRecursion(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "literals_1", Meta: translator.Meta{Literals: []string{"1", "2", "3"}, FromLiterals: true}},
		{Name: "fold_2", Source: "literals_1", Deps: []string{"literals_1"},
			Meta: translator.Meta{Fold: &translator.FoldSpec{InitExpr: "0", StepExpr: "f.value + elem.value"}}},
	})

	assert.True(t, strings.HasPrefix(sql, "WITH RECURSIVE "), sql)
	assert.Contains(t, sql, "fold_2_steps(id, value, ord) AS (")
	assert.Contains(t, sql, "SELECT DISTINCT src.id, 0, 0")
	assert.Contains(t, sql, "f.value + elem.value")
	assert.Contains(t, sql, "ON elem.id = f.id AND elem.ord = f.ord + 1")
	assert.Contains(t, sql, "WHERE f.ord < 10000")
	// The result CTE keeps each record's deepest state.
	assert.Contains(t, sql, "(SELECT MAX(s2.ord) FROM fold_2_steps s2 WHERE s2.id = f.id)")
}

func TestAssembleFoldDepthOption(t *testing.T) {
	frags := []*translator.Fragment{
		{Name: "literals_1", Meta: translator.Meta{Literals: []string{"1"}, FromLiterals: true}},
		{Name: "fold_2", Source: "literals_1", Deps: []string{"literals_1"},
			Meta: translator.Meta{Fold: &translator.FoldSpec{InitExpr: "0", StepExpr: "f.value"}}},
	}
	sql, err := Assemble(frags, Options{Dialect: dialect.SQLite{}, Table: "t", IDColumn: "id", MaxFoldDepth: 50})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE f.ord < 50")
}

func TestAssembleMissingDependencyFatal(t *testing.T) {
	_, err := Assemble([]*translator.Fragment{
		{Name: "b_1", Source: "missing", Deps: []string{"missing"}},
	}, Options{Dialect: dialect.SQLite{}, Table: "t", IDColumn: "id"})

	require.Error(t, err)
	assert.True(t, IsDependency(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestAssembleEmptyInputFatal(t *testing.T) {
	_, err := Assemble(nil, Options{Dialect: dialect.SQLite{}, Table: "t", IDColumn: "id"})
	require.Error(t, err)
	assert.True(t, IsDependency(err))
}

func TestAssembleDeterministic(t *testing.T) {
	frags := []*translator.Fragment{
		{Name: "unnest_1", Expr: "json_extract(src.resource, '$.name')", Unnest: true},
		{Name: "first_2", Source: "unnest_1", Deps: []string{"unnest_1"},
			Meta: translator.Meta{Ordinal: &translator.OrdinalFilter{Op: translator.OrdinalFirst}}},
	}
	a := assemble(t, frags)
	b := assemble(t, frags)
	assert.Equal(t, a, b)
}

func TestAssembleOrdersByDependency(t *testing.T) {
	// Deliberately listed out of order; the union must still be emitted
	// after both branches.
	sql := assemble(t, []*translator.Fragment{
		{Name: "a_1", Expr: "json_extract(src.resource, '$.name')", Unnest: true},
		{Name: "union_3", Deps: []string{"a_1", "b_2"},
			Meta: translator.Meta{UnionOf: []string{"a_1", "b_2"}}},
		{Name: "b_2", Expr: "json_extract(src.resource, '$.telecom')", Unnest: true},
	})

	assert.Less(t, strings.Index(sql, "b_2 AS ("), strings.Index(sql, "union_3 AS ("))
	// Terminal is the last fragment in input order.
	assert.Contains(t, sql, "SELECT id, value FROM b_2 ORDER BY id, ord")
}

func TestAssembleResourceFilterShape(t *testing.T) {
	sql := assemble(t, []*translator.Fragment{
		{Name: "resource_1", Expr: "src.resource",
			Meta: translator.Meta{Filter: "json_extract(src.resource, '$.resourceType') = 'Patient'"}},
	})

	assert.Contains(t, sql, "SELECT src.id AS id, src.resource AS value, 1 AS ord")
	assert.Contains(t, sql, "WHERE json_extract(src.resource, '$.resourceType') = 'Patient'")
}
