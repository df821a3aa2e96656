package translator

import (
	"fmt"
	"strings"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/ast"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/fhirtypes"
)

// visitOperator translates unary minus, type test/narrowing, union, boolean
// composition, comparison and arithmetic.
func (t *Translator) visitOperator(op *ast.Operator) (operand, error) {
	switch op.Symbol {
	case "-":
		if len(op.Operands) == 1 {
			child, err := t.scalarOperand(op.Operands[0])
			if err != nil {
				return operand{}, err
			}
			return operand{sql: "-(" + child.sql + ")", typ: child.typ, srcName: child.srcName}, nil
		}
	case "is":
		return t.visitTypeTest(op)
	case "as":
		return t.visitTypeNarrow(op)
	case "|":
		return t.visitUnion(op)
	}
	return t.visitBinary(op)
}

// visitBinary handles comparison, arithmetic and boolean operators. Each
// operand is translated under a context snapshot so one operand's path
// navigation never pollutes the other's.
func (t *Translator) visitBinary(op *ast.Operator) (operand, error) {
	if len(op.Operands) != 2 {
		return operand{}, unsupportedf(op.Symbol, op.Text(), "operator %q requires two operands", op.Symbol)
	}
	left, err := t.scalarOperand(op.Operands[0])
	if err != nil {
		return operand{}, err
	}
	right, err := t.scalarOperand(op.Operands[1])
	if err != nil {
		return operand{}, err
	}

	applyOperandCasts(t, &left, &right)
	applyOperandCasts(t, &right, &left)

	src, err := mergeSources(op, left, right)
	if err != nil {
		return operand{}, err
	}

	var sql, typ string
	switch op.Symbol {
	case "=", "<", "<=", ">", ">=":
		sql = fmt.Sprintf("%s %s %s", left.sql, op.Symbol, right.sql)
		typ = "boolean"
	case "!=":
		sql = fmt.Sprintf("%s <> %s", left.sql, right.sql)
		typ = "boolean"
	case "~":
		l, r := left.sql, right.sql
		if left.typ == "string" || right.typ == "string" {
			l, r = "LOWER("+l+")", "LOWER("+r+")"
		}
		sql = fmt.Sprintf("%s = %s", l, r)
		typ = "boolean"
	case "!~":
		l, r := left.sql, right.sql
		if left.typ == "string" || right.typ == "string" {
			l, r = "LOWER("+l+")", "LOWER("+r+")"
		}
		sql = fmt.Sprintf("%s <> %s", l, r)
		typ = "boolean"
	case "and":
		sql = fmt.Sprintf("(%s) AND (%s)", left.sql, right.sql)
		typ = "boolean"
	case "or":
		sql = fmt.Sprintf("(%s) OR (%s)", left.sql, right.sql)
		typ = "boolean"
	case "xor":
		sql = fmt.Sprintf("(%s) <> (%s)", left.sql, right.sql)
		typ = "boolean"
	case "implies":
		sql = fmt.Sprintf("(NOT (%s) OR (%s))", left.sql, right.sql)
		typ = "boolean"
	case "+", "*":
		sql = fmt.Sprintf("%s %s %s", left.sql, op.Symbol, right.sql)
		typ = numericType(left, right)
	case "/", "div":
		sql = fmt.Sprintf("%s / %s", left.sql, right.sql)
		typ = numericType(left, right)
	case "mod":
		sql = fmt.Sprintf("%s %% %s", left.sql, right.sql)
		typ = numericType(left, right)
	case "&":
		sql = fmt.Sprintf("%s || %s", left.sql, right.sql)
		typ = "string"
	default:
		return operand{}, unsupportedf(op.Symbol, op.Text(), "operator %q has no translation rule", op.Symbol)
	}

	return operand{sql: sql, typ: typ, srcName: src}, nil
}

// applyOperandCasts implements the two operand-casting rules, applied in
// both operand orders so the result is order-independent:
//  1. a raw extracted value compared against a typed literal is cast to the
//     literal's type;
//  2. a raw extracted value compared against a datetime current-value
//     function result is cast to that function's declared type.
func applyOperandCasts(t *Translator, raw, other *operand) {
	if !raw.raw {
		return
	}
	if other.lit != nil && castWorthy(other.typ) {
		raw.sql = t.dialect.Cast(raw.sql, other.typ)
		raw.raw = false
		raw.typ = other.typ
		return
	}
	if other.dtFn != "" {
		raw.sql = t.dialect.Cast(raw.sql, dateTimeFnType(other.dtFn))
		raw.raw = false
		raw.typ = dateTimeFnType(other.dtFn)
	}
}

func castWorthy(typ string) bool {
	switch typ {
	case "integer", "decimal", "boolean", "date", "dateTime", "time":
		return true
	}
	return false
}

// dateTimeFnType maps a datetime current-value function to its declared type.
func dateTimeFnType(fn string) string {
	switch fn {
	case "today":
		return "date"
	case "now":
		return "dateTime"
	case "timeOfDay":
		return "time"
	}
	return "dateTime"
}

func numericType(l, r operand) string {
	if l.typ == "decimal" || r.typ == "decimal" {
		return "decimal"
	}
	return "integer"
}

// mergeSources picks the row-set an operator's result is valid against.
// Both operands reading from different row-sets has no translation rule.
func mergeSources(op *ast.Operator, l, r operand) (string, error) {
	switch {
	case l.srcName == "" || l.srcName == r.srcName:
		return r.srcName, nil
	case r.srcName == "":
		return l.srcName, nil
	default:
		return "", unsupportedf(op.Symbol, op.Text(), "operator %q over two distinct row-sets has no translation rule", op.Symbol)
	}
}

// visitTypeTest translates `expr is Type`.
func (t *Translator) visitTypeTest(op *ast.Operator) (operand, error) {
	child, err := t.visit(op.Operands[0])
	if err != nil {
		return operand{}, err
	}

	if child.lit != nil {
		result := "FALSE"
		if strings.EqualFold(child.typ, op.TypeName) {
			result = "TRUE"
		}
		return operand{sql: result, typ: "boolean"}, nil
	}

	if child.pathRef {
		path := t.ctx.Path()
		if len(path) > 0 && t.types.IsPolymorphic(path[len(path)-1]) {
			if _, err := t.narrowAccumulatedPath(op.TypeName, op.Text()); err != nil {
				return operand{}, err
			}
			_, _, jsonExpr, err := t.flushPath(false)
			if err != nil {
				return operand{}, err
			}
			return operand{sql: "(" + jsonExpr + " IS NOT NULL)", typ: "boolean", srcName: t.ctx.Source()}, nil
		}
		frag, scalar, jsonExpr, err := t.flushPath(false)
		if err != nil {
			return operand{}, err
		}
		src := t.ctx.Source()
		if scalar == "" && frag != nil {
			scalar, jsonExpr = SourceAlias+"."+ValueColumn, SourceAlias+"."+ValueColumn
		}
		if t.types.Classify(op.TypeName) == fhirtypes.KindStructured {
			return operand{sql: "(" + jsonExpr + " IS NOT NULL)", typ: "boolean", srcName: src}, nil
		}
		return operand{sql: "(" + t.dialect.Cast(scalar, lowerFirstRune(op.TypeName)) + " IS NOT NULL)", typ: "boolean", srcName: src}, nil
	}

	return operand{sql: "(" + t.dialect.Cast(child.sql, lowerFirstRune(op.TypeName)) + " IS NOT NULL)", typ: "boolean", srcName: child.srcName}, nil
}

// visitTypeNarrow translates `expr as Type`: polymorphic fields resolve to
// the type-tagged physical field; everything else gets a tolerant cast.
func (t *Translator) visitTypeNarrow(op *ast.Operator) (operand, error) {
	child, err := t.visit(op.Operands[0])
	if err != nil {
		return operand{}, err
	}
	if child.pathRef {
		return t.narrowPath(op.TypeName, op.Text())
	}
	return operand{
		sql:     t.dialect.Cast(child.sql, lowerFirstRune(op.TypeName)),
		typ:     lowerFirstRune(op.TypeName),
		srcName: child.srcName,
	}, nil
}

// narrowPath resolves polymorphic narrowing against the accumulated path.
// Direct access (a single pending segment) rewrites the path in place so no
// runtime type filter is needed; nested access falls back to extracting the
// physical field and filtering rows where it is absent.
func (t *Translator) narrowPath(typeName, source string) (operand, error) {
	direct, err := t.narrowAccumulatedPath(typeName, source)
	if err != nil {
		return operand{}, err
	}
	if direct {
		return operand{pathRef: true, typ: typeName}, nil
	}

	_, scalar, jsonExpr, err := t.flushPath(false)
	if err != nil {
		return operand{}, err
	}
	if scalar == "" {
		scalar, jsonExpr = SourceAlias+"."+ValueColumn, SourceAlias+"."+ValueColumn
	}
	expr := scalar
	if t.types.Classify(typeName) == fhirtypes.KindStructured {
		expr = jsonExpr
	}
	f := t.emit("narrow", &Fragment{
		Expr:   expr,
		Source: t.ctx.Source(),
		Meta: Meta{
			ResultType: typeName,
			RawJSON:    t.types.Classify(typeName) == fhirtypes.KindStructured,
			Filter:     jsonExpr + " IS NOT NULL",
		},
	})
	t.ctx.SetSource(f.Name, true)
	return operand{frag: f, srcName: f.Name, typ: typeName}, nil
}

// narrowAccumulatedPath rewrites the trailing polymorphic segment to its
// physical field. Returns whether the access was direct.
func (t *Translator) narrowAccumulatedPath(typeName, source string) (bool, error) {
	path := t.ctx.Path()
	if len(path) == 0 {
		return false, unsupportedf("as", source, "type narrowing requires a field access")
	}
	last := path[len(path)-1]
	if !t.types.IsPolymorphic(last) {
		return false, unsupportedf("as", source, "field %q is not polymorphic", last)
	}
	phys, err := t.types.ResolvePhysicalField(last, typeName)
	if err != nil {
		return false, unsupportedf("as", source, "%v", err)
	}
	path[len(path)-1] = phys
	return len(path) == 1, nil
}

// visitUnion translates `a | b`. Literal-only unions accumulate into one
// un-materialized literal collection; row-set unions concatenate two named
// fragments preserving per-branch element order.
func (t *Translator) visitUnion(op *ast.Operator) (operand, error) {
	left, err := t.unionSide(op.Operands[0])
	if err != nil {
		return operand{}, err
	}
	right, err := t.unionSide(op.Operands[1])
	if err != nil {
		return operand{}, err
	}

	if leftLits, ok := literalRows(left); ok {
		if rightLits, ok := literalRows(right); ok {
			return operand{
				litSet:  append(leftLits, rightLits...),
				litKind: left.litKind,
				typ:     left.typ,
			}, nil
		}
	}

	leftFrag := t.materializeSide(left)
	rightFrag := t.materializeSide(right)
	f := t.emit("union", &Fragment{
		Deps: []string{leftFrag.Name, rightFrag.Name},
		Meta: Meta{
			UnionOf:      []string{leftFrag.Name, rightFrag.Name},
			FromLiterals: leftFrag.Meta.FromLiterals && rightFrag.Meta.FromLiterals,
			ResultType:   leftFrag.Meta.ResultType,
		},
	})
	return operand{frag: f, srcName: f.Name}, nil
}

// unionSide translates one union operand under a snapshot, materializing
// path references into enumerable fragments.
func (t *Translator) unionSide(node ast.Node) (operand, error) {
	snap := t.ctx.Snapshot()
	defer t.ctx.Restore(snap)

	op, err := t.visit(node)
	if err != nil {
		return operand{}, err
	}
	if op.pathRef {
		frag, _, _, err := t.flushPath(true)
		if err != nil {
			return operand{}, err
		}
		return operand{frag: frag, srcName: frag.Name}, nil
	}
	return op, nil
}

func literalRows(op operand) ([]string, bool) {
	if op.litSet != nil {
		return op.litSet, true
	}
	if op.lit != nil {
		return []string{op.sql}, true
	}
	return nil, false
}

// materializeSide turns a union operand into a named fragment.
func (t *Translator) materializeSide(op operand) *Fragment {
	switch {
	case op.frag != nil:
		return op.frag
	case op.litSet != nil || op.lit != nil:
		rows, _ := literalRows(op)
		return t.emit("literals", &Fragment{
			Meta: Meta{Literals: rows, ResultType: op.typ, FromLiterals: true},
		})
	default:
		return t.emit("expr", &Fragment{
			Expr:   op.sql,
			Source: op.srcName,
			Meta:   Meta{ResultType: op.typ, DateTimeFn: op.dtFn},
		})
	}
}

// scalarOperand translates a node to a scalar expression under a snapshot:
// path references flush to extractions, collection flushes surface as the
// value column of the emitted fragment.
func (t *Translator) scalarOperand(node ast.Node) (operand, error) {
	snap := t.ctx.Snapshot()
	defer t.ctx.Restore(snap)

	op, err := t.visit(node)
	if err != nil {
		return operand{}, err
	}
	if op.frag != nil && op.sql == "" {
		op.sql = SourceAlias + "." + ValueColumn
		op.srcName = op.frag.Name
		op.raw = op.frag.Meta.ResultType == ""
		return op, nil
	}
	if op.pathRef {
		declared := op.typ
		frag, scalar, jsonExpr, err := t.flushPath(false)
		if err != nil {
			return operand{}, err
		}
		if scalar == "" && frag != nil {
			scalar, jsonExpr = SourceAlias+"."+ValueColumn, SourceAlias+"."+ValueColumn
		}
		return operand{
			sql:     scalar,
			jsonSQL: jsonExpr,
			raw:     declared == "",
			typ:     declared,
			srcName: t.ctx.Source(),
		}, nil
	}
	return op, nil
}

func lowerFirstRune(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
