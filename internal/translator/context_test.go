package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeStackShadowing(t *testing.T) {
	c := NewContext("fhir_resources", "id", "resource")

	pop1 := c.Push(map[string]Binding{
		"$this": {Expr: "outer.value"},
	})
	pop2 := c.Push(map[string]Binding{
		"$this": {Expr: "inner.value"},
	})

	b, ok := c.Resolve("$this")
	require.True(t, ok)
	assert.Equal(t, "inner.value", b.Expr, "innermost binding wins")

	pop2()
	b, ok = c.Resolve("$this")
	require.True(t, ok)
	assert.Equal(t, "outer.value", b.Expr)

	pop1()
	_, ok = c.Resolve("$this")
	assert.False(t, ok)
	assert.False(t, c.InLambda())
}

func TestResolveFallsThroughFrames(t *testing.T) {
	c := NewContext("fhir_resources", "id", "resource")
	pop1 := c.Push(map[string]Binding{"$total": {Expr: "f.value"}})
	defer pop1()
	pop2 := c.Push(map[string]Binding{"$this": {Expr: "elem.value"}})
	defer pop2()

	b, ok := c.Resolve("$total")
	require.True(t, ok)
	assert.Equal(t, "f.value", b.Expr)
}

func TestSnapshotRestoresEverything(t *testing.T) {
	c := NewContext("fhir_resources", "id", "resource")
	c.AppendPath("name")
	c.SetSource("unnest_1", true)

	snap := c.Snapshot()

	c.AppendPath("given", "extra")
	c.SetSource("other_2", true)
	c.ResourceType = "Patient"
	c.Push(map[string]Binding{"$this": {Expr: "src.value"}})

	c.Restore(snap)

	assert.Equal(t, []string{"name"}, c.Path())
	assert.Equal(t, "unnest_1", c.Source())
	assert.Empty(t, c.ResourceType)
	assert.False(t, c.InLambda())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := NewContext("fhir_resources", "id", "resource")
	c.AppendPath("name")
	snap := c.Snapshot()

	// Mutating the context must not reach into the snapshot.
	c.AppendPath("given")
	c.Restore(snap)
	assert.Equal(t, []string{"name"}, c.Path())
}

func TestRootExpr(t *testing.T) {
	c := NewContext("fhir_resources", "id", "resource")
	assert.Equal(t, "src.resource", c.RootExpr())

	c.SetSource("unnest_1", true)
	assert.Equal(t, "src.value", c.RootExpr())
}
