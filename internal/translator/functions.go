package translator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/ast"
)

// resolveTarget implements the uniform target-resolution procedure for
// function calls. Priority is a correctness invariant: a completed
// whole-expression result outranks a leftover literal, which outranks the
// accumulated path; otherwise chained calls on grouped or union expressions
// silently operate on the wrong input.
func (t *Translator) resolveTarget() operand {
	if t.ctx.pendingResult != nil {
		op := *t.ctx.pendingResult
		t.ctx.pendingResult = nil
		t.ctx.pendingLiteral = nil
		return op
	}
	if t.ctx.pendingLiteral != nil {
		op := *t.ctx.pendingLiteral
		t.ctx.pendingLiteral = nil
		return op
	}
	return operand{pathRef: true}
}

// elementsTarget materializes the call target as an enumerable fragment
// (id, value, ord per element).
func (t *Translator) elementsTarget() (*Fragment, error) {
	op := t.resolveTarget()
	switch {
	case op.frag != nil:
		return op.frag, nil

	case op.litSet != nil || op.lit != nil:
		rows, _ := literalRows(op)
		return t.emit("literals", &Fragment{
			Meta: Meta{Literals: rows, ResultType: op.typ, FromLiterals: true},
		}), nil

	case op.pathRef:
		if len(t.ctx.Path()) > 0 {
			frag, _, _, err := t.flushPath(true)
			if err != nil {
				return nil, err
			}
			return frag, nil
		}
		if src := t.ctx.Source(); src != "" {
			if f, ok := t.byName[src]; ok {
				return f, nil
			}
		}
		// Whole-record target: one element per record.
		f := t.emit("record", &Fragment{
			Expr: t.ctx.RootExpr(),
			Meta: Meta{RawJSON: true},
		})
		t.ctx.SetSource(f.Name, true)
		return f, nil

	case op.jsonSQL != "":
		f := t.emit("unnest", &Fragment{
			Expr:   op.jsonSQL,
			Source: t.scalarSource(op),
			Unnest: true,
			Meta:   Meta{RawJSON: true, FromLiterals: t.fromLiterals(t.scalarSource(op))},
		})
		t.ctx.SetSource(f.Name, true)
		return f, nil

	default:
		f := t.emit("expr", &Fragment{
			Expr:   op.sql,
			Source: t.scalarSource(op),
			Meta:   Meta{ResultType: op.typ, DateTimeFn: op.dtFn},
		})
		t.ctx.SetSource(f.Name, true)
		return f, nil
	}
}

// scalarTarget materializes the call target as a scalar operand.
func (t *Translator) scalarTarget() (operand, error) {
	op := t.resolveTarget()
	switch {
	case op.frag != nil:
		return operand{
			sql:     SourceAlias + "." + ValueColumn,
			jsonSQL: SourceAlias + "." + ValueColumn,
			srcName: op.frag.Name,
			typ:     op.frag.Meta.ResultType,
			raw:     op.frag.Meta.ResultType == "",
		}, nil
	case op.pathRef:
		frag, scalar, jsonExpr, err := t.flushPath(false)
		if err != nil {
			return operand{}, err
		}
		if scalar == "" {
			if frag != nil {
				return operand{
					sql:     SourceAlias + "." + ValueColumn,
					jsonSQL: SourceAlias + "." + ValueColumn,
					srcName: frag.Name,
					raw:     true,
				}, nil
			}
			return operand{sql: t.ctx.RootExpr(), jsonSQL: t.ctx.RootExpr(), srcName: t.ctx.Source(), raw: true}, nil
		}
		return operand{sql: scalar, jsonSQL: jsonExpr, srcName: t.ctx.Source(), raw: true}, nil
	default:
		return op, nil
	}
}

func (t *Translator) scalarSource(op operand) string {
	if op.srcName != "" {
		return op.srcName
	}
	return t.ctx.Source()
}

// visitFunction dispatches on the function category: counting, filtering
// and projection, subsetting, fold, conversion, type testing, and datetime
// current values. Unknown functions are a hard error.
func (t *Translator) visitFunction(call *ast.FunctionCall) (operand, error) {
	switch call.Name {
	case "today", "now", "timeOfDay":
		return operand{
			sql:  t.currentValue(call.Name),
			dtFn: call.Name,
			typ:  dateTimeFnType(call.Name),
		}, nil

	case "count":
		return t.aggregateCall(call, "COUNT(%s.%s)", "integer")

	case "empty":
		return t.aggregateCall(call, "COUNT(%s.%s) = 0", "boolean")

	case "exists":
		if len(call.Args) == 0 {
			return t.aggregateCall(call, "COUNT(%s.%s) > 0", "boolean")
		}
		return t.existsCriteria(call)

	case "all":
		return t.allCriteria(call)

	case "where":
		return t.whereCall(call)

	case "select":
		return t.selectCall(call)

	case "first":
		return t.subsetCall(call, OrdinalFirst, 0)
	case "last":
		return t.subsetCall(call, OrdinalLast, 0)
	case "tail":
		return t.subsetCall(call, OrdinalTail, 0)
	case "skip":
		n, err := t.intArg(call, 0)
		if err != nil {
			return operand{}, err
		}
		return t.subsetCall(call, OrdinalSkip, n)
	case "take":
		n, err := t.intArg(call, 0)
		if err != nil {
			return operand{}, err
		}
		return t.subsetCall(call, OrdinalTake, n)
	case "[]":
		n, err := t.intArg(call, 0)
		if err != nil {
			return operand{}, err
		}
		return t.subsetCall(call, OrdinalAt, n+1)

	case "aggregate":
		return t.foldCall(call)

	case "toInteger", "toDecimal", "toString", "toBoolean", "toDate", "toDateTime", "toTime":
		return t.conversionCall(call)

	case "convertsToInteger", "convertsToDecimal", "convertsToString", "convertsToBoolean",
		"convertsToDate", "convertsToDateTime", "convertsToTime":
		return t.convertsToCall(call)

	case "ofType":
		return t.ofTypeCall(call)

	case "not":
		op, err := t.scalarTarget()
		if err != nil {
			return operand{}, err
		}
		return operand{sql: "NOT (" + op.sql + ")", typ: "boolean", srcName: op.srcName}, nil

	default:
		return operand{}, unsupportedf(call.Name, call.Source, "function %q has no translation rule", call.Name)
	}
}

func (t *Translator) currentValue(name string) string {
	switch name {
	case "today":
		return t.dialect.CurrentDate()
	case "timeOfDay":
		return t.dialect.CurrentTime()
	default:
		return t.dialect.CurrentTimestamp()
	}
}

// aggregateCall emits a per-record aggregate over the target elements.
// exprFormat receives the source alias and value column.
func (t *Translator) aggregateCall(call *ast.FunctionCall, exprFormat, typ string) (operand, error) {
	if len(call.Args) != 0 {
		return operand{}, unsupportedf(call.Name, call.Source, "%s takes no arguments", call.Name)
	}
	elems, err := t.elementsTarget()
	if err != nil {
		return operand{}, err
	}
	return t.emitAggregate(call.Name, fmt.Sprintf(exprFormat, SourceAlias, ValueColumn), elems, typ), nil
}

func (t *Translator) emitAggregate(hint, expr string, elems *Fragment, typ string) operand {
	f := t.emit(hint, &Fragment{
		Expr:      expr,
		Source:    elems.Name,
		Aggregate: true,
		Meta:      Meta{ResultType: typ, FromLiterals: elems.Meta.FromLiterals},
	})
	t.ctx.SetSource(f.Name, true)
	return operand{frag: f, srcName: f.Name, typ: typ}
}

// lambdaScalar translates a lambda argument to a scalar SQL expression
// under the given variable bindings. The binding frame is popped and the
// context restored on every exit path.
func (t *Translator) lambdaScalar(node ast.Node, bindings map[string]Binding) (string, error) {
	pop := t.ctx.Push(bindings)
	defer pop()
	snap := t.ctx.Snapshot()
	defer t.ctx.Restore(snap)

	op, err := t.visit(node)
	if err != nil {
		return "", err
	}
	if op.pathRef {
		_, scalar, _, err := t.flushPath(false)
		if err != nil {
			return "", err
		}
		if scalar == "" {
			return "", unsupportedf("lambda", node.Text(), "argument expression does not reduce to a scalar")
		}
		return scalar, nil
	}
	if op.frag != nil {
		return "", unsupportedf("lambda", node.Text(), "nested row-set expressions are not supported in lambda arguments")
	}
	return op.sql, nil
}

// elementBindings binds $this and $index for a lambda over an enumerated
// row-set, valid inside a CTE reading that row-set as SourceAlias.
func elementBindings(elems *Fragment) map[string]Binding {
	return map[string]Binding{
		"$this":  {Expr: SourceAlias + "." + ValueColumn, Source: elems.Name},
		"$index": {Expr: "(" + SourceAlias + "." + OrdinalColumn + " - 1)", Source: elems.Name, Type: "integer"},
	}
}

func (t *Translator) whereCall(call *ast.FunctionCall) (operand, error) {
	if len(call.Args) != 1 {
		return operand{}, unsupportedf(call.Name, call.Source, "where requires exactly one criteria argument")
	}
	elems, err := t.elementsTarget()
	if err != nil {
		return operand{}, err
	}
	crit, err := t.lambdaScalar(call.Args[0], elementBindings(elems))
	if err != nil {
		return operand{}, err
	}
	f := t.emit("where", &Fragment{
		Source: elems.Name,
		Meta: Meta{
			Filter:       crit,
			RawJSON:      elems.Meta.RawJSON,
			ResultType:   elems.Meta.ResultType,
			FromLiterals: elems.Meta.FromLiterals,
		},
	})
	t.ctx.SetSource(f.Name, true)
	return operand{frag: f, srcName: f.Name}, nil
}

func (t *Translator) selectCall(call *ast.FunctionCall) (operand, error) {
	if len(call.Args) != 1 {
		return operand{}, unsupportedf(call.Name, call.Source, "select requires exactly one projection argument")
	}
	elems, err := t.elementsTarget()
	if err != nil {
		return operand{}, err
	}
	proj, err := t.lambdaScalar(call.Args[0], elementBindings(elems))
	if err != nil {
		return operand{}, err
	}
	f := t.emit("select", &Fragment{
		Expr:   proj,
		Source: elems.Name,
		Meta:   Meta{FromLiterals: elems.Meta.FromLiterals},
	})
	t.ctx.SetSource(f.Name, true)
	return operand{frag: f, srcName: f.Name}, nil
}

func (t *Translator) existsCriteria(call *ast.FunctionCall) (operand, error) {
	elems, err := t.elementsTarget()
	if err != nil {
		return operand{}, err
	}
	crit, err := t.lambdaScalar(call.Args[0], elementBindings(elems))
	if err != nil {
		return operand{}, err
	}
	expr := fmt.Sprintf("COUNT(CASE WHEN %s THEN 1 END) > 0", crit)
	return t.emitAggregate("exists", expr, elems, "boolean"), nil
}

func (t *Translator) allCriteria(call *ast.FunctionCall) (operand, error) {
	if len(call.Args) != 1 {
		return operand{}, unsupportedf(call.Name, call.Source, "all requires exactly one criteria argument")
	}
	elems, err := t.elementsTarget()
	if err != nil {
		return operand{}, err
	}
	crit, err := t.lambdaScalar(call.Args[0], elementBindings(elems))
	if err != nil {
		return operand{}, err
	}
	// Vacuously true over empty collections; NULL rows come from the
	// record-preserving join in the assembler.
	expr := fmt.Sprintf(
		"COALESCE(SUM(CASE WHEN %s.%s IS NOT NULL AND NOT (%s) THEN 1 ELSE 0 END), 0) = 0",
		SourceAlias, IDColumn, crit)
	return t.emitAggregate("all", expr, elems, "boolean"), nil
}

// subsetCall marks the target with a declarative ordinal filter and
// redirects subsequent field access to the filtered row-set.
func (t *Translator) subsetCall(call *ast.FunctionCall, op OrdinalOp, n int) (operand, error) {
	elems, err := t.elementsTarget()
	if err != nil {
		return operand{}, err
	}
	f := t.emit(string(op), &Fragment{
		Source: elems.Name,
		Meta: Meta{
			Ordinal:      &OrdinalFilter{Op: op, N: n},
			RawJSON:      elems.Meta.RawJSON,
			ResultType:   elems.Meta.ResultType,
			FromLiterals: elems.Meta.FromLiterals,
		},
	})
	t.ctx.SetSource(f.Name, true)
	return operand{frag: f, srcName: f.Name}, nil
}

// foldCall translates aggregate(step [, init]): a reduce with $this, $index
// and $total bound per iteration step. The input collection is resolved
// through the same target-resolution procedure as every other function, so
// folding over a literal collection folds the literal set, never the
// top-level record.
func (t *Translator) foldCall(call *ast.FunctionCall) (operand, error) {
	if len(call.Args) < 1 || len(call.Args) > 2 {
		return operand{}, unsupportedf(call.Name, call.Source, "aggregate requires a step expression and an optional initial value")
	}
	elems, err := t.elementsTarget()
	if err != nil {
		return operand{}, err
	}

	initExpr := "NULL"
	initType := ""
	if len(call.Args) == 2 {
		snap := t.ctx.Snapshot()
		initOp, err := t.visit(call.Args[1])
		t.ctx.Restore(snap)
		if err != nil {
			return operand{}, err
		}
		if initOp.sql == "" {
			return operand{}, unsupportedf(call.Name, call.Source, "aggregate initial value must be a scalar expression")
		}
		initExpr = initOp.sql
		initType = initOp.typ
	}

	bindings := map[string]Binding{
		"$this":  {Expr: FoldElemAlias + "." + ValueColumn, Source: elems.Name},
		"$index": {Expr: "(" + FoldElemAlias + "." + OrdinalColumn + " - 1)", Source: elems.Name, Type: "integer"},
		"$total": {Expr: FoldStateAlias + "." + ValueColumn, Type: initType},
	}
	stepExpr, err := t.lambdaScalar(call.Args[0], bindings)
	if err != nil {
		return operand{}, err
	}

	f := t.emit("fold", &Fragment{
		Source: elems.Name,
		Meta: Meta{
			Fold:         &FoldSpec{InitExpr: initExpr, StepExpr: stepExpr},
			ResultType:   initType,
			FromLiterals: elems.Meta.FromLiterals,
		},
	})
	t.ctx.SetSource(f.Name, true)
	return operand{frag: f, srcName: f.Name, typ: initType}, nil
}

// conversionCall emits a tolerant cast; invalid data yields NULL at
// execution time, never a compile-time failure.
func (t *Translator) conversionCall(call *ast.FunctionCall) (operand, error) {
	typ := conversionTarget(call.Name)
	op, err := t.scalarTarget()
	if err != nil {
		return operand{}, err
	}
	return operand{
		sql:     t.dialect.Cast(op.sql, typ),
		typ:     typ,
		srcName: op.srcName,
	}, nil
}

// convertsToCall evaluates convertibility at compile time for literals and
// as a tolerant-cast NULL probe for extracted values.
func (t *Translator) convertsToCall(call *ast.FunctionCall) (operand, error) {
	typ := conversionTarget(strings.TrimPrefix(call.Name, "convertsTo"))
	op, err := t.scalarTarget()
	if err != nil {
		return operand{}, err
	}
	if op.lit != nil {
		if literalConvertible(op.lit, typ) {
			return operand{sql: "TRUE", typ: "boolean"}, nil
		}
		return operand{sql: "FALSE", typ: "boolean"}, nil
	}
	return operand{
		sql:     "(" + t.dialect.Cast(op.sql, typ) + " IS NOT NULL)",
		typ:     "boolean",
		srcName: op.srcName,
	}, nil
}

func conversionTarget(name string) string {
	name = strings.TrimPrefix(name, "to")
	return lowerFirstRune(name)
}

func (t *Translator) ofTypeCall(call *ast.FunctionCall) (operand, error) {
	if len(call.Args) != 1 {
		return operand{}, unsupportedf(call.Name, call.Source, "ofType requires exactly one type argument")
	}
	typeName := call.Args[0].Text()
	op := t.resolveTarget()
	if !op.pathRef {
		return operand{}, unsupportedf(call.Name, call.Source, "ofType is only supported on field access")
	}
	return t.narrowPath(typeName, call.Source)
}

func (t *Translator) intArg(call *ast.FunctionCall, i int) (int, error) {
	if len(call.Args) <= i {
		return 0, unsupportedf(call.Name, call.Source, "%s requires an integer argument", call.Name)
	}
	lit, ok := call.Args[i].(*ast.Literal)
	if !ok || lit.Kind != ast.LiteralInteger {
		return 0, unsupportedf(call.Name, call.Source, "%s requires an integer literal argument", call.Name)
	}
	n, err := strconv.Atoi(lit.Value)
	if err != nil {
		return 0, unsupportedf(call.Name, call.Source, "invalid integer argument %q", lit.Value)
	}
	return n, nil
}

var (
	integerPattern  = regexp.MustCompile(`^-?[0-9]+$`)
	decimalPattern  = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)
	datePattern     = regexp.MustCompile(`^[0-9]{4}(-[0-9]{2}(-[0-9]{2})?)?`)
	timePattern     = regexp.MustCompile(`^[0-9]{2}(:[0-9]{2}(:[0-9]{2})?)?$`)
	booleanLiterals = map[string]bool{
		"true": true, "false": true, "t": true, "f": true,
		"yes": true, "no": true, "y": true, "n": true, "1": true, "0": true,
		"1.0": true, "0.0": true,
	}
)

// literalConvertible implements the compile-time conversion rules for
// literal receivers.
func literalConvertible(lit *ast.Literal, target string) bool {
	switch target {
	case "integer":
		switch lit.Kind {
		case ast.LiteralInteger, ast.LiteralBoolean:
			return true
		case ast.LiteralString:
			return integerPattern.MatchString(lit.Value)
		}
		return false
	case "decimal":
		switch lit.Kind {
		case ast.LiteralInteger, ast.LiteralDecimal, ast.LiteralBoolean:
			return true
		case ast.LiteralString:
			return decimalPattern.MatchString(lit.Value)
		}
		return false
	case "boolean":
		switch lit.Kind {
		case ast.LiteralBoolean:
			return true
		case ast.LiteralInteger, ast.LiteralDecimal:
			return lit.Value == "0" || lit.Value == "1" || lit.Value == "0.0" || lit.Value == "1.0"
		case ast.LiteralString:
			return booleanLiterals[strings.ToLower(lit.Value)]
		}
		return false
	case "string":
		return true
	case "date":
		switch lit.Kind {
		case ast.LiteralDate, ast.LiteralDateTime:
			return true
		case ast.LiteralString:
			return datePattern.MatchString(lit.Value)
		}
		return false
	case "dateTime":
		switch lit.Kind {
		case ast.LiteralDate, ast.LiteralDateTime:
			return true
		case ast.LiteralString:
			return datePattern.MatchString(lit.Value)
		}
		return false
	case "time":
		switch lit.Kind {
		case ast.LiteralTime:
			return true
		case ast.LiteralString:
			return timePattern.MatchString(lit.Value)
		}
		return false
	}
	return false
}
