// Package compiler wires the full pipeline: parse, normalize, translate,
// assemble. It is the only package callers need; the stages stay separately
// importable for tests and tooling.
package compiler

import (
	"fmt"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/ast"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/cte"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/fhirpath"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/fhirtypes"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/translator"
)

// Defaults for the backing resource table.
const (
	DefaultTable          = "fhir_resources"
	DefaultIDColumn       = "id"
	DefaultResourceColumn = "resource"
	DefaultDialect        = "duckdb"
)

// Options configures one compilation.
type Options struct {
	// Dialect is the target backend name (see dialect.Names).
	Dialect string

	// Table, IDColumn and ResourceColumn identify the resource table.
	Table          string
	IDColumn       string
	ResourceColumn string

	// MaxFoldDepth bounds recursive aggregate() CTEs; 0 uses the default.
	MaxFoldDepth int

	// Types overrides the FHIR type catalog (tests inject narrowed ones).
	Types fhirtypes.Resolver
}

func (o *Options) withDefaults() (Options, error) {
	out := *o
	if out.Dialect == "" {
		out.Dialect = DefaultDialect
	}
	if dialect.Get(out.Dialect) == nil {
		return out, fmt.Errorf("unknown dialect %q (supported: %v)", out.Dialect, dialect.Names())
	}
	if out.Table == "" {
		out.Table = DefaultTable
	}
	if out.IDColumn == "" {
		out.IDColumn = DefaultIDColumn
	}
	if out.ResourceColumn == "" {
		out.ResourceColumn = DefaultResourceColumn
	}
	if out.Types == nil {
		cat, err := fhirtypes.DefaultCatalog()
		if err != nil {
			return out, fmt.Errorf("load type catalog: %w", err)
		}
		out.Types = cat
	}
	return out, nil
}

// Result is one successful compilation.
type Result struct {
	// SQL is the complete executable statement.
	SQL string

	// Fragments is the ordered fragment list the SQL was assembled from.
	Fragments []*translator.Fragment

	// AST is the normalized expression tree.
	AST ast.Node

	// Dialect is the resolved backend name.
	Dialect string
}

// Compile translates one FHIRPath expression into a single SQL statement
// returning (id, value) per matching record. Equal inputs always produce
// byte-identical SQL.
func Compile(expression string, opts Options) (*Result, error) {
	resolved, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	d := dialect.Get(resolved.Dialect)

	raw, err := fhirpath.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	node, err := ast.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	ctx := translator.NewContext(resolved.Table, resolved.IDColumn, resolved.ResourceColumn)
	tr := translator.New(d, resolved.Types, ctx)
	frags, err := tr.Run(node)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	sql, err := cte.Assemble(frags, cte.Options{
		Dialect:      d,
		Table:        resolved.Table,
		IDColumn:     resolved.IDColumn,
		MaxFoldDepth: resolved.MaxFoldDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	return &Result{
		SQL:       sql,
		Fragments: frags,
		AST:       node,
		Dialect:   resolved.Dialect,
	}, nil
}

// Validate runs the full pipeline and discards the SQL. It reports the same
// errors Compile would, so a validated expression is guaranteed to compile.
func Validate(expression string, opts Options) error {
	_, err := Compile(expression, opts)
	return err
}
