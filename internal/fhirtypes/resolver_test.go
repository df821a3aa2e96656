package fhirtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoads(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	require.NotNil(t, cat)
}

func TestIsPolymorphic(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	assert.True(t, cat.IsPolymorphic("value"))
	assert.True(t, cat.IsPolymorphic("onset"))
	assert.True(t, cat.IsPolymorphic("Observation.value"))
	assert.False(t, cat.IsPolymorphic("name"))
	assert.False(t, cat.IsPolymorphic("birthDate"))
}

func TestResolvePhysicalField(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	field, err := cat.ResolvePhysicalField("value", "Quantity")
	require.NoError(t, err)
	assert.Equal(t, "valueQuantity", field)

	// Case-insensitive match, canonical casing in the result.
	field, err = cat.ResolvePhysicalField("value", "quantity")
	require.NoError(t, err)
	assert.Equal(t, "valueQuantity", field)

	_, err = cat.ResolvePhysicalField("name", "Quantity")
	require.Error(t, err)

	_, err = cat.ResolvePhysicalField("value", "HumanName")
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	assert.Equal(t, KindPrimitive, cat.Classify("string"))
	assert.Equal(t, KindPrimitive, cat.Classify("boolean"))
	assert.Equal(t, KindPrimitive, cat.Classify("dateTime"))
	assert.Equal(t, KindStructured, cat.Classify("Quantity"))
	assert.Equal(t, KindStructured, cat.Classify("CodeableConcept"))

	// Unknown names follow the casing convention.
	assert.Equal(t, KindStructured, cat.Classify("SomethingNew"))
	assert.Equal(t, KindPrimitive, cat.Classify("somethingNew"))
}

func TestIsCollection(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	assert.True(t, cat.IsCollection("name"))
	assert.True(t, cat.IsCollection("given"))
	assert.True(t, cat.IsCollection("telecom"))
	assert.True(t, cat.IsCollection("Patient.name"))
	assert.False(t, cat.IsCollection("birthDate"))
	assert.False(t, cat.IsCollection("status"))
}

func TestLoadCatalogRejectsInvalidCUE(t *testing.T) {
	_, err := LoadCatalog("primitives: [1, 2]")
	require.Error(t, err)
}

func TestCandidates(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	assert.Contains(t, cat.Candidates("value"), "Quantity")
	assert.Empty(t, cat.Candidates("name"))
}
