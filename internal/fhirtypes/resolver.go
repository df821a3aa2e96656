// Package fhirtypes resolves FHIR type information for the SQL translator:
// polymorphic (choice-typed) field aliasing, primitive-vs-structured
// classification, and collection cardinality.
//
// The catalog is declared in CUE (catalog.cue, embedded) and parsed with the
// CUE SDK's Go API directly.
package fhirtypes

import (
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed catalog.cue
var catalogSource string

// Kind classifies a target type name.
type Kind int

const (
	// KindPrimitive is a FHIR primitive type (string, boolean, dateTime, ...).
	KindPrimitive Kind = iota

	// KindStructured is a complex type stored as a JSON object (Quantity, ...).
	KindStructured
)

func (k Kind) String() string {
	if k == KindPrimitive {
		return "primitive"
	}
	return "structured"
}

// Resolver is the type-information contract the translator depends on.
type Resolver interface {
	// IsPolymorphic reports whether field is a choice-typed logical field.
	IsPolymorphic(field string) bool

	// ResolvePhysicalField resolves a choice-typed logical field plus a
	// target type to the type-tagged physical field name
	// (value + Quantity -> valueQuantity).
	ResolvePhysicalField(base, targetType string) (string, error)

	// Classify reports whether a type name is primitive or structured.
	Classify(typeName string) Kind

	// IsCollection reports whether field is a repeating element.
	IsCollection(field string) bool
}

// Catalog is the CUE-backed Resolver implementation.
type Catalog struct {
	primitives  map[string]bool
	structured  map[string]bool
	collections map[string]bool
	choice      map[string][]string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// DefaultCatalog parses the embedded catalog once and returns it.
func DefaultCatalog() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = LoadCatalog(catalogSource)
	})
	return defaultCatalog, defaultErr
}

// LoadCatalog parses a CUE catalog document.
func LoadCatalog(source string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(source)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cat := &Catalog{
		primitives:  map[string]bool{},
		structured:  map[string]bool{},
		collections: map[string]bool{},
		choice:      map[string][]string{},
	}

	for field, set := range map[string]map[string]bool{
		"primitives":  cat.primitives,
		"structured":  cat.structured,
		"collections": cat.collections,
	} {
		names, err := stringList(v.LookupPath(cue.ParsePath(field)))
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", field, err)
		}
		for _, name := range names {
			set[name] = true
		}
	}

	choiceVal := v.LookupPath(cue.ParsePath("choice"))
	if choiceVal.Exists() {
		iter, err := choiceVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			types, err := stringList(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("catalog choice.%s: %w", iter.Label(), err)
			}
			cat.choice[iter.Label()] = types
		}
	}

	return cat, nil
}

// IsPolymorphic implements Resolver.
func (c *Catalog) IsPolymorphic(field string) bool {
	_, ok := c.choice[lastSegment(field)]
	return ok
}

// ResolvePhysicalField implements Resolver. The target type match is
// case-insensitive; the physical field uses the catalog's canonical casing.
func (c *Catalog) ResolvePhysicalField(base, targetType string) (string, error) {
	base = lastSegment(base)
	candidates, ok := c.choice[base]
	if !ok {
		return "", fmt.Errorf("field %q is not polymorphic", base)
	}
	for _, t := range candidates {
		if strings.EqualFold(t, targetType) {
			return base + t, nil
		}
	}
	return "", fmt.Errorf("type %q is not a candidate for polymorphic field %q", targetType, base)
}

// Classify implements Resolver. Unknown names follow the FHIR convention:
// lowercase-initial names are primitives, uppercase-initial are structured.
func (c *Catalog) Classify(typeName string) Kind {
	if c.primitives[typeName] || c.primitives[lowerFirst(typeName)] && !c.structured[typeName] {
		return KindPrimitive
	}
	if c.structured[typeName] {
		return KindStructured
	}
	if typeName != "" && typeName[0] >= 'A' && typeName[0] <= 'Z' {
		return KindStructured
	}
	return KindPrimitive
}

// IsCollection implements Resolver.
func (c *Catalog) IsCollection(field string) bool {
	return c.collections[lastSegment(field)]
}

// Candidates returns the candidate target types for a choice field.
func (c *Catalog) Candidates(field string) []string {
	return c.choice[lastSegment(field)]
}

func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		pos := positions[0]
		return fmt.Errorf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), first.Error())
	}
	return err
}

func lastSegment(field string) string {
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		return field[i+1:]
	}
	return field
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
