package translator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/ast"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/fhirpath"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/fhirtypes"
)

func translate(t *testing.T, expression string) []*Fragment {
	t.Helper()
	frags, err := tryTranslate(expression)
	require.NoError(t, err)
	require.NotEmpty(t, frags)
	return frags
}

func tryTranslate(expression string) ([]*Fragment, error) {
	raw, err := fhirpath.Parse(expression)
	if err != nil {
		return nil, err
	}
	node, err := ast.Normalize(raw)
	if err != nil {
		return nil, err
	}
	cat, err := fhirtypes.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	ctx := NewContext("fhir_resources", "id", "resource")
	return New(dialect.SQLite{}, cat, ctx).Run(node)
}

func terminal(frags []*Fragment) *Fragment {
	return frags[len(frags)-1]
}

func TestResourceTypeFilter(t *testing.T) {
	frags := translate(t, "Patient.birthDate")

	require.Len(t, frags, 2)
	assert.Contains(t, frags[0].Meta.Filter, "resourceType")
	assert.Contains(t, frags[0].Meta.Filter, "'Patient'")
	assert.Empty(t, frags[0].Source, "resource filter reads the base table")

	assert.Contains(t, terminal(frags).Expr, "$.birthDate")
	assert.Equal(t, frags[0].Name, terminal(frags).Source)
}

func TestCollectionSegmentsUnnest(t *testing.T) {
	frags := translate(t, "Patient.name.given")

	var unnests []*Fragment
	for _, f := range frags {
		if f.Unnest {
			unnests = append(unnests, f)
		}
	}
	require.Len(t, unnests, 2)
	assert.Contains(t, unnests[0].Expr, "$.name")
	assert.Contains(t, unnests[1].Expr, "$.given")
	assert.Equal(t, unnests[0].Name, unnests[1].Source)
	assert.Equal(t, unnests[1], terminal(frags))
}

func TestScalarPathStaysScalar(t *testing.T) {
	frags := translate(t, "birthDate")
	require.Len(t, frags, 1)
	f := terminal(frags)
	assert.False(t, f.Unnest)
	assert.Contains(t, f.Expr, "$.birthDate")
}

func TestCountAggregatesOverElements(t *testing.T) {
	frags := translate(t, "Patient.name.count()")

	f := terminal(frags)
	assert.True(t, f.Aggregate)
	assert.Equal(t, "COUNT(src.value)", f.Expr)
	assert.Equal(t, "integer", f.Meta.ResultType)

	src := frags[len(frags)-2]
	assert.True(t, src.Unnest)
	assert.Equal(t, src.Name, f.Source)
}

func TestCountOverScalarFieldStaysPerRecord(t *testing.T) {
	frags := translate(t, "Patient.birthDate.count()")

	f := terminal(frags)
	require.True(t, f.Aggregate)

	src := fragByName(frags, f.Source)
	require.NotNil(t, src)
	assert.False(t, src.Unnest, "non-array field must not be enumerated")
	assert.Contains(t, src.Expr, "$.birthDate")
	assert.Equal(t, frags[0].Name, src.Source)
}

func TestEmptyAndExists(t *testing.T) {
	f := terminal(translate(t, "name.empty()"))
	assert.True(t, f.Aggregate)
	assert.Equal(t, "COUNT(src.value) = 0", f.Expr)

	f = terminal(translate(t, "name.exists()"))
	assert.Equal(t, "COUNT(src.value) > 0", f.Expr)
}

func TestWhereEmitsFilterOverElements(t *testing.T) {
	frags := translate(t, "name.where(use = 'official')")

	var filter *Fragment
	for _, f := range frags {
		if f.Meta.Filter != "" {
			filter = f
		}
	}
	require.NotNil(t, filter)
	// $this-relative field access roots at the element value.
	assert.Contains(t, filter.Meta.Filter, "json_extract(src.value, '$.use')")
	assert.Contains(t, filter.Meta.Filter, "'official'")
}

func TestWhereCriteriaDoesNotLeakBindings(t *testing.T) {
	frags := translate(t, "name.where(use = 'official').given")

	// After where, navigation continues from the filtered row-set.
	f := terminal(frags)
	assert.True(t, f.Unnest)
	assert.Contains(t, f.Expr, "$.given")

	// And a later $this is an error again.
	_, err := tryTranslate("name.given + $this")
	require.Error(t, err)
	assert.True(t, IsUnboundVariable(err))
}

func TestExistsWithCriteria(t *testing.T) {
	f := terminal(translate(t, "telecom.exists(system = 'phone')"))
	assert.True(t, f.Aggregate)
	assert.Contains(t, f.Expr, "COUNT(CASE WHEN")
	assert.Contains(t, f.Expr, "'phone'")
	assert.Equal(t, "boolean", f.Meta.ResultType)
}

func TestSelectProjectsElements(t *testing.T) {
	frags := translate(t, "name.select(family)")
	f := terminal(frags)
	assert.False(t, f.Aggregate)
	assert.Contains(t, f.Expr, "$.family")
}

func TestSubsettingOrdinals(t *testing.T) {
	tests := []struct {
		expr string
		op   OrdinalOp
		n    int
	}{
		{"name.first()", OrdinalFirst, 0},
		{"name.last()", OrdinalLast, 0},
		{"name.tail()", OrdinalTail, 0},
		{"name.skip(2)", OrdinalSkip, 2},
		{"name.take(3)", OrdinalTake, 3},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f := terminal(translate(t, tt.expr))
			require.NotNil(t, f.Meta.Ordinal)
			assert.Equal(t, tt.op, f.Meta.Ordinal.Op)
			assert.Equal(t, tt.n, f.Meta.Ordinal.N)
		})
	}
}

func TestIndexerIsZeroBased(t *testing.T) {
	f := terminal(translate(t, "name[0]"))
	require.NotNil(t, f.Meta.Ordinal)
	assert.Equal(t, OrdinalAt, f.Meta.Ordinal.Op)
	assert.Equal(t, 1, f.Meta.Ordinal.N, "index 0 is ordinal 1")
}

func TestSubsettingThenFieldAccess(t *testing.T) {
	frags := translate(t, "name.first().family")
	f := terminal(frags)
	assert.Contains(t, f.Expr, "$.family")

	prev := frags[len(frags)-2]
	require.NotNil(t, prev.Meta.Ordinal)
	assert.Equal(t, prev.Name, f.Source)
}

func TestLiteralUnionAccumulates(t *testing.T) {
	frags := translate(t, "1 | 2 | 3")
	f := terminal(frags)
	require.Len(t, f.Meta.Literals, 3)
	assert.Equal(t, []string{"1", "2", "3"}, f.Meta.Literals)
	assert.True(t, f.Meta.FromLiterals)
}

func TestRowSetUnionPreservesBranchOrder(t *testing.T) {
	frags := translate(t, "name | telecom")

	var union *Fragment
	for _, f := range frags {
		if f.Meta.UnionOf != nil {
			union = f
		}
	}
	require.NotNil(t, union)
	require.Len(t, union.Meta.UnionOf, 2)
	assert.Equal(t, union.Meta.UnionOf, union.Deps)
}

func TestFoldOverLiteralCollection(t *testing.T) {
	frags := translate(t, "(1 | 2 | 3 | 4 | 5 | 6 | 7 | 8 | 9).aggregate($total + $this, 0)")

	var fold *Fragment
	for _, f := range frags {
		if f.Meta.Fold != nil {
			fold = f
		}
	}
	require.NotNil(t, fold, "aggregate over a literal collection must fold the literal set")
	assert.Equal(t, "0", fold.Meta.Fold.InitExpr)
	assert.Equal(t, "f.value + elem.value", fold.Meta.Fold.StepExpr)
	assert.True(t, fold.Meta.FromLiterals)

	src := fragByName(frags, fold.Source)
	require.NotNil(t, src)
	assert.Len(t, src.Meta.Literals, 9)
}

func TestFoldWithoutInitSeedsNull(t *testing.T) {
	frags := translate(t, "name.aggregate($total)")
	var fold *Fragment
	for _, f := range frags {
		if f.Meta.Fold != nil {
			fold = f
		}
	}
	require.NotNil(t, fold)
	assert.Equal(t, "NULL", fold.Meta.Fold.InitExpr)
}

func TestConversionsUseTolerantCasts(t *testing.T) {
	f := terminal(translate(t, "birthDate.toDate()"))
	assert.True(t, strings.HasPrefix(f.Expr, "date("), f.Expr)

	f = terminal(translate(t, "value.toInteger()"))
	assert.Contains(t, f.Expr, "CAST(")
}

func TestConvertsToLiteralRules(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"5.convertsToInteger()", "TRUE"},
		{"5.convertsToBoolean()", "FALSE"},
		{"1.convertsToBoolean()", "TRUE"},
		{"'abc'.convertsToInteger()", "FALSE"},
		{"'123'.convertsToInteger()", "TRUE"},
		{"3.14.convertsToDecimal()", "TRUE"},
		{"5.convertsToString()", "TRUE"},
		{"'2015-01-01'.convertsToDate()", "TRUE"},
		{"'nope'.convertsToDate()", "FALSE"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f := terminal(translate(t, tt.expr))
			assert.Equal(t, tt.want, f.Expr)
		})
	}
}

func TestConvertsToExtractedValueProbes(t *testing.T) {
	f := terminal(translate(t, "birthDate.convertsToDate()"))
	assert.Contains(t, f.Expr, "IS NOT NULL")
	assert.Contains(t, f.Expr, "date(")
}

func TestDateTimeFunctions(t *testing.T) {
	f := terminal(translate(t, "today()"))
	assert.Equal(t, "date('now')", f.Expr)
	assert.Equal(t, "today", f.Meta.DateTimeFn)
	assert.Equal(t, "date", f.Meta.ResultType)
}

func TestOperandCastAgainstTypedLiteral(t *testing.T) {
	f := terminal(translate(t, "birthDate > @1980"))
	assert.Contains(t, f.Expr, "date(json_extract(src.resource, '$.birthDate'))")
	assert.Contains(t, f.Expr, "date('1980-01-01')")
}

func TestOperandCastIsOrderIndependent(t *testing.T) {
	left := terminal(translate(t, "birthDate < today()"))
	right := terminal(translate(t, "today() > birthDate"))
	assert.Contains(t, left.Expr, "date(json_extract")
	assert.Contains(t, right.Expr, "date(json_extract")
}

func TestStringComparisonNotCast(t *testing.T) {
	f := terminal(translate(t, "gender = 'male'"))
	assert.NotContains(t, f.Expr, "CAST")
	assert.Contains(t, f.Expr, "= 'male'")
}

func TestEquivalenceLowersStrings(t *testing.T) {
	f := terminal(translate(t, "gender ~ 'Male'"))
	assert.Contains(t, f.Expr, "LOWER(")
}

func TestOperatorSymbols(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"1 != 2", "<>"},
		{"true xor false", "<>"},
		{"true implies false", "NOT"},
		{"7 mod 3", "%"},
		{"'a' & 'b'", "||"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f := terminal(translate(t, tt.expr))
			assert.Contains(t, f.Expr, tt.want)
		})
	}
}

func TestPolymorphicDirectAccessRewrites(t *testing.T) {
	frags := translate(t, "Observation.value as Quantity")
	f := terminal(frags)
	assert.Contains(t, f.Expr, "valueQuantity")
	for _, frag := range frags {
		assert.NotContains(t, frag.Meta.Filter, "valueQuantity",
			"direct access must rewrite the path, not filter at runtime")
	}
}

func TestPolymorphicTypeTest(t *testing.T) {
	f := terminal(translate(t, "Observation.value is Quantity"))
	assert.Contains(t, f.Expr, "valueQuantity")
	assert.Contains(t, f.Expr, "IS NOT NULL")
}

func TestTypeTestOnLiteralIsCompileTime(t *testing.T) {
	f := terminal(translate(t, "5 is integer"))
	assert.Equal(t, "TRUE", f.Expr)

	f = terminal(translate(t, "5 is string"))
	assert.Equal(t, "FALSE", f.Expr)
}

func TestUnboundVariableFails(t *testing.T) {
	_, err := tryTranslate("$total + 1")
	require.Error(t, err)
	assert.True(t, IsUnboundVariable(err))

	_, err = tryTranslate("name.where($total = 1)")
	require.Error(t, err)
	assert.True(t, IsUnboundVariable(err))
}

func TestUnknownFunctionFails(t *testing.T) {
	_, err := tryTranslate("name.resolve()")
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))
	assert.Contains(t, err.Error(), "resolve")
}

func TestOperandsOverDistinctRowSetsFail(t *testing.T) {
	_, err := tryTranslate("name.count() + telecom.count()")
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))
}

func TestGroupedResultOutranksPath(t *testing.T) {
	// The subsetting call must target the union result, not restart from
	// the record root.
	frags := translate(t, "(name | telecom).count()")
	f := terminal(frags)
	require.True(t, f.Aggregate)
	src := fragByName(frags, f.Source)
	require.NotNil(t, src)
	assert.NotNil(t, src.Meta.UnionOf)
}

func TestLiteralTargetOutranksPath(t *testing.T) {
	f := terminal(translate(t, "5.toString()"))
	assert.Contains(t, f.Expr, "CAST(5 AS TEXT)")
}

func TestFragmentNamesUniqueAndDepsRecorded(t *testing.T) {
	frags := translate(t, "Patient.name.where(use = 'official').given.first()")
	seen := map[string]bool{}
	for _, f := range frags {
		require.False(t, seen[f.Name], "duplicate fragment name %s", f.Name)
		seen[f.Name] = true
		if f.Source != "" {
			assert.Contains(t, f.Deps, f.Source)
		}
	}
}

func fragByName(frags []*Fragment, name string) *Fragment {
	for _, f := range frags {
		if f.Name == name {
			return f
		}
	}
	return nil
}
