package translator

// Column and alias contract between the translator and the CTE assembler.
// Every CTE body aliases its primary input row-set as SourceAlias and
// exposes the columns id (source-record identity), value (current value)
// and, for enumerable row-sets, ord (1-based contiguous element position).
// Fold CTEs additionally alias the accumulator row-set and the element
// row-set as FoldStateAlias and FoldElemAlias.
const (
	SourceAlias    = "src"
	FoldStateAlias = "f"
	FoldElemAlias  = "elem"

	IDColumn      = "id"
	ValueColumn   = "value"
	OrdinalColumn = "ord"
)

// OrdinalOp is a declarative row-position filter applied by the assembler
// over an enumerated row-set, partitioned per source record.
type OrdinalOp string

const (
	OrdinalFirst OrdinalOp = "first" // ord = 1
	OrdinalLast  OrdinalOp = "last"  // ord = per-partition MAX(ord)
	OrdinalSkip  OrdinalOp = "skip"  // ord > n
	OrdinalTake  OrdinalOp = "take"  // ord <= n
	OrdinalTail  OrdinalOp = "tail"  // ord > 1
	OrdinalAt    OrdinalOp = "at"    // ord = n
)

// OrdinalFilter pairs an OrdinalOp with its argument where one applies.
type OrdinalFilter struct {
	Op OrdinalOp
	N  int
}

// FoldSpec describes a reduce-with-accumulator over an enumerated row-set.
// InitExpr seeds the accumulator; StepExpr computes the next accumulator
// value and may reference FoldStateAlias.value (the running total) and
// FoldElemAlias.value / FoldElemAlias.ord (the current element and its
// position). The assembler renders it as a bounded recursive CTE.
type FoldSpec struct {
	InitExpr string
	StepExpr string
}

// Meta is free-form fragment metadata consumed by the assembler.
type Meta struct {
	// ResultType is the declared FHIR type of the value column, if known.
	ResultType string

	// RawJSON marks the value column as a raw JSON string rather than a
	// typed scalar.
	RawJSON bool

	// DateTimeFn names the datetime current-value function that produced
	// the fragment ("today", "now", "timeOfDay"), if any.
	DateTimeFn string

	// Ordinal requests a declarative row-position filter over Source.
	Ordinal *OrdinalFilter

	// Fold requests a recursive accumulation over Source.
	Fold *FoldSpec

	// Filter is a WHERE predicate over Source rows (references SourceAlias).
	Filter string

	// UnionOf concatenates two named fragments' row-sets, in order.
	UnionOf []string

	// Literals is an inline literal row-set (one SQL literal per element).
	Literals []string

	// FromLiterals marks row-sets derived from literal collections rather
	// than source records; aggregates over them must not join the record
	// table.
	FromLiterals bool
}

// Fragment is one translated node's SQL output. Fragments are produced by
// the Translator and owned by the CTE assembler afterwards; they are never
// mutated after emission, only wrapped by later fragments.
type Fragment struct {
	// Name is the CTE name, unique within one translation.
	Name string

	// Expr is the SQL value expression, referencing SourceAlias columns.
	// Empty means "pass the source value through".
	Expr string

	// Source names the fragment this one reads from; empty means the
	// resource table itself.
	Source string

	// Deps lists fragment names that must be assembled before this one.
	Deps []string

	// Unnest marks Expr as a JSON array to be expanded into one row per
	// element with per-record ordinal numbering.
	Unnest bool

	// Aggregate marks Expr as collapsing the source rows to one row per
	// source record.
	Aggregate bool

	Meta Meta
}
