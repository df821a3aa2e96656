// Package translator turns normalized FHIRPath ASTs into ordered SQL
// fragment lists. The fragment shape is defined by what the CTE assembler
// (internal/cte) can consume; the two packages share the alias and column
// contract declared in fragment.go.
package translator

import (
	"fmt"
	"strings"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/ast"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/fhirtypes"
)

// operand is a translated sub-expression: a scalar SQL expression against
// the current source, a produced fragment, a literal, or an un-materialized
// literal collection.
type operand struct {
	sql     string        // scalar SQL expression
	jsonSQL string        // raw-JSON form of the same expression, if any
	frag    *Fragment     // row-set result
	lit     *ast.Literal  // literal provenance
	litSet  []string      // literal collection, not yet materialized
	litKind ast.LiteralKind
	pathRef bool          // value deferred into the accumulated path
	typ     string        // declared type, if known
	raw     bool          // untyped extracted value
	dtFn    string        // "today" | "now" | "timeOfDay"
	srcName string        // fragment the scalar expression is valid against
}

// Translator translates one expression. Not safe for concurrent use; build
// a fresh Translator (and Context) per compilation.
type Translator struct {
	dialect dialect.Dialect
	types   fhirtypes.Resolver
	ctx     *Context

	frags  []*Fragment
	byName map[string]*Fragment
	seq    int
}

// New creates a Translator over a fresh fragment list.
func New(d dialect.Dialect, r fhirtypes.Resolver, ctx *Context) *Translator {
	return &Translator{
		dialect: d,
		types:   r,
		ctx:     ctx,
		byName:  map[string]*Fragment{},
	}
}

// Context exposes the translation context (tests exercise scope behavior
// through it).
func (t *Translator) Context() *Context { return t.ctx }

// Run translates a normalized AST into an ordered fragment list whose last
// element is the terminal fragment.
func (t *Translator) Run(node ast.Node) ([]*Fragment, error) {
	op, err := t.visit(node)
	if err != nil {
		return nil, err
	}
	if err := t.finalize(op); err != nil {
		return nil, err
	}
	return t.frags, nil
}

// finalize materializes a trailing operand into the terminal fragment.
func (t *Translator) finalize(op operand) error {
	switch {
	case op.frag != nil:
		if len(t.frags) == 0 || t.frags[len(t.frags)-1] != op.frag {
			// Wrap so the terminal is always the last fragment.
			t.emit("result", &Fragment{Source: op.frag.Name, Meta: Meta{ResultType: op.frag.Meta.ResultType, FromLiterals: op.frag.Meta.FromLiterals}})
		}
		return nil
	case op.litSet != nil:
		t.materializeLiteralSet(op)
		return nil
	case op.pathRef:
		frag, scalar, _, err := t.flushPath(false)
		if err != nil {
			return err
		}
		if scalar != "" {
			t.emit("path", &Fragment{Expr: scalar, Source: t.ctx.Source(), Meta: Meta{ResultType: op.typ, RawJSON: false}})
		} else if frag == nil {
			// Bare resource reference (e.g. just "Patient").
			t.emit("path", &Fragment{Expr: t.ctx.RootExpr(), Source: t.ctx.Source(), Meta: Meta{RawJSON: true}})
		}
		return nil
	case op.sql != "":
		src := op.srcName
		if src == "" {
			src = t.ctx.Source()
		}
		t.emit("expr", &Fragment{Expr: op.sql, Source: src, Meta: Meta{ResultType: op.typ, DateTimeFn: op.dtFn, FromLiterals: t.fromLiterals(src)}})
		return nil
	default:
		return &Error{Code: ErrCodeNormalization, Message: "expression produced no result"}
	}
}

// visit dispatches on the closed node set. Every node category has an
// explicit arm; an unknown category is a hard error, never a no-op.
func (t *Translator) visit(node ast.Node) (operand, error) {
	switch n := node.(type) {
	case *ast.Literal:
		op := t.literalOperand(n)
		t.ctx.pendingLiteral = &op
		return op, nil

	case *ast.Identifier:
		return t.visitIdentifier(n)

	case *ast.Operator:
		return t.visitOperator(n)

	case *ast.FunctionCall:
		return t.visitFunction(n)

	case *ast.Generic:
		return t.visitGeneric(n)

	default:
		return operand{}, &Error{
			Code:    ErrCodeNormalization,
			Source:  node.Text(),
			Message: fmt.Sprintf("no translation rule for node category %q", node.Category()),
		}
	}
}

// visitGeneric walks a path node's steps sequentially. Non-identifier steps
// publish their result as the pending whole-expression value consumed by
// the next step's target resolution.
func (t *Translator) visitGeneric(g *ast.Generic) (operand, error) {
	if g.Rule == "wrapper" && len(g.Steps) == 1 {
		return t.visit(g.Steps[0])
	}
	if g.Rule != "path" {
		return operand{}, &Error{
			Code:    ErrCodeNormalization,
			Source:  g.Source,
			Message: fmt.Sprintf("no translation rule for generic node %q", g.Rule),
		}
	}

	var op operand
	var err error
	for _, step := range g.Steps {
		op, err = t.visit(step)
		if err != nil {
			return operand{}, err
		}
		if _, isIdent := step.(*ast.Identifier); isIdent {
			// An identifier consumes prior pendings via the navigation
			// source; stale pendings must not leak into later calls.
			t.ctx.pendingResult = nil
			t.ctx.pendingLiteral = nil
		} else {
			cp := op
			t.ctx.pendingResult = &cp
			if _, isLit := step.(*ast.Literal); !isLit {
				t.ctx.pendingLiteral = nil
			}
		}
	}
	return op, nil
}

// visitIdentifier handles bound variables (with optional trailing member
// path), lambda-relative fields, the leading resource-type segment, and
// plain path accumulation.
func (t *Translator) visitIdentifier(id *ast.Identifier) (operand, error) {
	segs := id.Segments()

	if strings.HasPrefix(segs[0], "$") {
		b, ok := t.ctx.Resolve(segs[0])
		if !ok {
			return operand{}, unboundVariable(segs[0], id.Name)
		}
		if len(segs) == 1 {
			return operand{sql: b.Expr, jsonSQL: b.Expr, typ: b.Type, raw: b.Type == ""}, nil
		}
		// Variable plus trailing member path: the binding's expression is
		// the extraction root, never an opaque identifier string.
		rest := strings.Join(segs[1:], ".")
		return operand{
			sql:     t.dialect.ExtractField(b.Expr, rest),
			jsonSQL: t.dialect.ExtractJSON(b.Expr, rest),
			raw:     true,
		}, nil
	}

	if t.ctx.InLambda() {
		b, ok := t.ctx.Resolve("$this")
		if !ok {
			return operand{}, unboundVariable("$this", id.Name)
		}
		path := strings.Join(segs, ".")
		return operand{
			sql:     t.dialect.ExtractField(b.Expr, path),
			jsonSQL: t.dialect.ExtractJSON(b.Expr, path),
			raw:     true,
		}, nil
	}

	if t.ctx.Source() == "" && len(t.ctx.Path()) == 0 && t.ctx.ResourceType == "" && isTypeName(segs[0]) {
		t.ctx.ResourceType = segs[0]
		t.emitResourceFilter(segs[0])
		segs = segs[1:]
	}
	t.ctx.AppendPath(segs...)
	return operand{pathRef: true}, nil
}

// emitResourceFilter narrows the base table to one resource type. The
// fragment's value column carries the whole resource document.
func (t *Translator) emitResourceFilter(resourceType string) {
	f := t.emit("resource", &Fragment{
		Expr:   SourceAlias + "." + t.ctx.ResourceCol,
		Source: "",
		Meta: Meta{
			RawJSON: true,
			Filter: fmt.Sprintf("%s = %s",
				t.dialect.ExtractField(SourceAlias+"."+t.ctx.ResourceCol, "resourceType"),
				t.dialect.QuoteString(resourceType)),
		},
	})
	t.ctx.SetSource(f.Name, true)
}

// flushPath converts the accumulated path into extraction fragments and a
// trailing scalar expression. Collection-typed segments trigger unnesting
// fragments; trailing non-collection segments stay scalar unless
// needCollection forces a final materialization. That final fragment is a
// per-record projection, never an unnest: collection segments were already
// consumed by the loop, so the remaining path names a scalar field and
// enumerating it would feed a non-array value to the array iterator.
// Returns the last emitted fragment (nil if none) plus the trailing
// scalar/JSON expressions (empty when the path ended in a fragment).
func (t *Translator) flushPath(needCollection bool) (*Fragment, string, string, error) {
	segs := t.ctx.Path()
	t.ctx.ClearPath()

	root := t.ctx.RootExpr()
	var last *Fragment
	var buffer []string

	for _, seg := range segs {
		buffer = append(buffer, seg)
		if t.types.IsCollection(seg) {
			f := t.emit("unnest", &Fragment{
				Expr:   t.dialect.ExtractJSON(root, strings.Join(buffer, ".")),
				Source: t.ctx.Source(),
				Unnest: true,
				Meta:   Meta{RawJSON: true, FromLiterals: t.fromLiterals(t.ctx.Source())},
			})
			t.ctx.SetSource(f.Name, true)
			root = SourceAlias + "." + ValueColumn
			buffer = nil
			last = f
		}
	}

	if len(buffer) == 0 {
		return last, "", "", nil
	}

	path := strings.Join(buffer, ".")
	if needCollection {
		f := t.emit("single", &Fragment{
			Expr:   t.dialect.ExtractJSON(root, path),
			Source: t.ctx.Source(),
			Meta:   Meta{RawJSON: true, FromLiterals: t.fromLiterals(t.ctx.Source())},
		})
		t.ctx.SetSource(f.Name, true)
		return f, "", "", nil
	}
	return last, t.dialect.ExtractField(root, path), t.dialect.ExtractJSON(root, path), nil
}

// literalOperand renders a literal as dialect-correct SQL.
func (t *Translator) literalOperand(lit *ast.Literal) operand {
	op := operand{lit: lit, litKind: lit.Kind, typ: string(lit.Kind)}
	switch lit.Kind {
	case ast.LiteralInteger, ast.LiteralDecimal:
		op.sql = lit.Value
	case ast.LiteralBoolean:
		if lit.Value == "true" {
			op.sql = "TRUE"
		} else {
			op.sql = "FALSE"
		}
	case ast.LiteralString:
		op.sql = t.dialect.QuoteString(lit.Value)
	case ast.LiteralDate:
		op.sql = t.dialect.Cast(t.dialect.QuoteString(lit.Value), "date")
	case ast.LiteralDateTime:
		op.sql = t.dialect.Cast(t.dialect.QuoteString(lit.Value), "dateTime")
	case ast.LiteralTime:
		op.sql = t.dialect.Cast(t.dialect.QuoteString(lit.Value), "time")
	}
	op.typ = literalType(lit.Kind)
	return op
}

func literalType(k ast.LiteralKind) string {
	switch k {
	case ast.LiteralInteger:
		return "integer"
	case ast.LiteralDecimal:
		return "decimal"
	case ast.LiteralBoolean:
		return "boolean"
	case ast.LiteralDate:
		return "date"
	case ast.LiteralDateTime:
		return "dateTime"
	case ast.LiteralTime:
		return "time"
	default:
		return "string"
	}
}

// emit assigns a deterministic name, records the source dependency, and
// appends the fragment to the ordered list.
func (t *Translator) emit(hint string, f *Fragment) *Fragment {
	t.seq++
	f.Name = fmt.Sprintf("%s_%d", hint, t.seq)
	if f.Source != "" && !contains(f.Deps, f.Source) {
		f.Deps = append(f.Deps, f.Source)
	}
	t.frags = append(t.frags, f)
	t.byName[f.Name] = f
	return f
}

// fromLiterals reports whether a named fragment derives from a literal
// collection rather than source records.
func (t *Translator) fromLiterals(name string) bool {
	if name == "" {
		return false
	}
	if f, ok := t.byName[name]; ok {
		return f.Meta.FromLiterals
	}
	return false
}

// materializeLiteralSet emits an inline literal row-set fragment.
func (t *Translator) materializeLiteralSet(op operand) *Fragment {
	return t.emit("literals", &Fragment{
		Meta: Meta{
			Literals:     op.litSet,
			ResultType:   op.typ,
			FromLiterals: true,
		},
	})
}

func isTypeName(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
