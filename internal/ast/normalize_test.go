package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/fhirpath"
)

func normalize(t *testing.T, expression string) Node {
	t.Helper()
	raw, err := fhirpath.Parse(expression)
	require.NoError(t, err)
	node, err := Normalize(raw)
	require.NoError(t, err)
	return node
}

func TestMemberChainBecomesSingleIdentifier(t *testing.T) {
	node := normalize(t, "Patient.name.given")
	id, ok := node.(*Identifier)
	require.True(t, ok, "member chain must normalize to one identifier, got %T", node)
	assert.Equal(t, "Patient.name.given", id.Name)
	assert.Equal(t, []string{"Patient", "name", "given"}, id.Segments())
}

func TestVariableRootKeepsOwnStep(t *testing.T) {
	// $this.given merges into one identifier rooted at the variable.
	node := normalize(t, "$this.given")
	id, ok := node.(*Identifier)
	require.True(t, ok)
	assert.Equal(t, "$this.given", id.Name)
}

func TestParenthesesCollapse(t *testing.T) {
	node := normalize(t, "(((5)))")
	lit, ok := node.(*Literal)
	require.True(t, ok)
	assert.Equal(t, LiteralInteger, lit.Kind)
	assert.Equal(t, "5", lit.Value)
}

func TestFunctionCallNameNeverEmpty(t *testing.T) {
	node := normalize(t, "name.where(use = 'official').first()")
	g, ok := node.(*Generic)
	require.True(t, ok)
	require.Equal(t, "path", g.Rule)
	for _, step := range g.Steps {
		if call, ok := step.(*FunctionCall); ok {
			assert.NotEmpty(t, call.Name)
		}
	}
}

func TestPathStepsOrdered(t *testing.T) {
	node := normalize(t, "name.where(use = 'official').given")
	g, ok := node.(*Generic)
	require.True(t, ok)
	require.Len(t, g.Steps, 3)

	id1, ok := g.Steps[0].(*Identifier)
	require.True(t, ok)
	assert.Equal(t, "name", id1.Name)

	call, ok := g.Steps[1].(*FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "where", call.Name)

	id2, ok := g.Steps[2].(*Identifier)
	require.True(t, ok)
	assert.Equal(t, "given", id2.Name)
}

func TestIndexerBecomesFunctionCall(t *testing.T) {
	node := normalize(t, "name[1]")
	g, ok := node.(*Generic)
	require.True(t, ok)
	require.Len(t, g.Steps, 2)
	call, ok := g.Steps[1].(*FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "[]", call.Name)
	require.Len(t, call.Args, 1)
	lit, ok := call.Args[0].(*Literal)
	require.True(t, ok)
	assert.Equal(t, "1", lit.Value)
}

func TestNegativeLiteralFolds(t *testing.T) {
	node := normalize(t, "-5")
	lit, ok := node.(*Literal)
	require.True(t, ok, "unary minus over a literal must fold, got %T", node)
	assert.Equal(t, LiteralInteger, lit.Kind)
	assert.Equal(t, "-5", lit.Value)
}

func TestDoubleNegationFolds(t *testing.T) {
	node := normalize(t, "--5")
	lit, ok := node.(*Literal)
	require.True(t, ok)
	assert.Equal(t, "5", lit.Value)
}

func TestUnaryMinusOverFieldStaysOperator(t *testing.T) {
	node := normalize(t, "-value")
	op, ok := node.(*Operator)
	require.True(t, ok)
	assert.Equal(t, "-", op.Symbol)
	require.Len(t, op.Operands, 1)
}

func TestUnaryPlusDropped(t *testing.T) {
	node := normalize(t, "+5")
	lit, ok := node.(*Literal)
	require.True(t, ok)
	assert.Equal(t, "5", lit.Value)
}

func TestBinaryOperators(t *testing.T) {
	node := normalize(t, "a.b = 'x'")
	op, ok := node.(*Operator)
	require.True(t, ok)
	assert.Equal(t, "=", op.Symbol)
	require.Len(t, op.Operands, 2)
}

func TestTypeExpressionCarriesTypeName(t *testing.T) {
	node := normalize(t, "value is Quantity")
	op, ok := node.(*Operator)
	require.True(t, ok)
	assert.Equal(t, "is", op.Symbol)
	assert.Equal(t, "Quantity", op.TypeName)
	require.Len(t, op.Operands, 1)
}

func TestLiteralKinds(t *testing.T) {
	tests := []struct {
		input string
		kind  LiteralKind
		value string
	}{
		{"5", LiteralInteger, "5"},
		{"3.14", LiteralDecimal, "3.14"},
		{"'hello'", LiteralString, "hello"},
		{"true", LiteralBoolean, "true"},
		{"@2015-03-04", LiteralDate, "2015-03-04"},
		{"@T14:30", LiteralTime, "14:30:00"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lit, ok := normalize(t, tt.input).(*Literal)
			require.True(t, ok)
			assert.Equal(t, tt.kind, lit.Kind)
			assert.Equal(t, tt.value, lit.Value)
		})
	}
}

func TestDateTimePadding(t *testing.T) {
	tests := []struct {
		input string
		value string
	}{
		{"@2015", "2015-01-01"},
		{"@2015-03", "2015-03-01"},
		{"@2015-03-04T10:30", "2015-03-04 10:30:00"},
		{"@2015-03-04T10:30:00Z", "2015-03-04 10:30:00"},
		{"@2015-03-04T10:30:00+02:00", "2015-03-04 10:30:00"},
		{"@2015-03-04T10:30:00-05:00", "2015-03-04 10:30:00"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lit, ok := normalize(t, tt.input).(*Literal)
			require.True(t, ok)
			assert.Equal(t, tt.value, lit.Value)
		})
	}
}

func TestNormalizeNilNode(t *testing.T) {
	_, err := Normalize(nil)
	require.Error(t, err)
	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
}
