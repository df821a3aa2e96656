package ast

import (
	"fmt"
	"strings"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/fhirpath"
)

// NormalizationError reports a raw parse node that could not be mapped onto
// the closed semantic node set. Always fatal.
type NormalizationError struct {
	Rule    string
	Source  string
	Message string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize: %s (rule %q, source %q)", e.Message, e.Rule, e.Source)
}

// binaryRules are the raw operator productions that map 1:1 onto Operator.
var binaryRules = map[string]bool{
	"impliesExpression":        true,
	"orExpression":             true,
	"andExpression":            true,
	"equalityExpression":       true,
	"inequalityExpression":     true,
	"unionExpression":          true,
	"additiveExpression":       true,
	"multiplicativeExpression": true,
}

// Normalize converts a raw parse tree into the closed semantic node set.
//
// Guarantees:
//   - single-child wrapper productions (parenthesized terms) collapse into
//     their child;
//   - a raw node named like a function call whose extracted call name is
//     empty or lacks the call-syntax marker is reclassified (unwrapped or
//     tagged Generic), never emitted as a FunctionCall with an empty name;
//   - unary minus over a numeric literal folds into one negated Literal;
//   - pure member-access chains normalize to a single dotted Identifier.
func Normalize(raw *fhirpath.RawNode) (Node, error) {
	if raw == nil {
		return nil, &NormalizationError{Message: "nil parse node"}
	}

	switch {
	case raw.Rule == "parenthesizedTerm":
		if len(raw.Children) != 1 {
			return nil, &NormalizationError{Rule: raw.Rule, Source: raw.Text, Message: "grouping production must wrap exactly one child"}
		}
		return Normalize(raw.Children[0])

	case raw.Rule == "numberLiteral":
		kind := LiteralInteger
		if strings.ContainsRune(raw.Text, '.') {
			kind = LiteralDecimal
		}
		return &Literal{Kind: kind, Value: raw.Text, Source: raw.Text}, nil

	case raw.Rule == "stringLiteral":
		return &Literal{Kind: LiteralString, Value: raw.Text, Source: raw.Text}, nil

	case raw.Rule == "booleanLiteral":
		return &Literal{Kind: LiteralBoolean, Value: raw.Text, Source: raw.Text}, nil

	case raw.Rule == "dateLiteral":
		return &Literal{Kind: LiteralDate, Value: padDate(raw.Text), Source: raw.Text}, nil

	case raw.Rule == "dateTimeLiteral":
		return &Literal{Kind: LiteralDateTime, Value: padDateTime(raw.Text), Source: raw.Text}, nil

	case raw.Rule == "timeLiteral":
		return &Literal{Kind: LiteralTime, Value: padTime(raw.Text), Source: raw.Text}, nil

	case raw.Rule == "identifier", raw.Rule == "memberInvocation", raw.Rule == "thisInvocation":
		return &Identifier{Name: raw.Text}, nil

	case raw.Rule == "functionCall":
		return normalizeFunctionCall(raw)

	case raw.Rule == "invocationExpression":
		return normalizeInvocation(raw)

	case raw.Rule == "indexerExpression":
		return normalizeIndexer(raw)

	case raw.Rule == "polarityExpression":
		return normalizePolarity(raw)

	case raw.Rule == "typeExpression":
		if len(raw.Children) != 2 || raw.Children[1].Rule != "typeSpecifier" {
			return nil, &NormalizationError{Rule: raw.Rule, Source: raw.Text, Message: "type expression requires operand and type specifier"}
		}
		operand, err := Normalize(raw.Children[0])
		if err != nil {
			return nil, err
		}
		return &Operator{Symbol: raw.Op, Operands: []Node{operand}, TypeName: raw.Children[1].Text, Source: raw.Text}, nil

	case binaryRules[raw.Rule]:
		if len(raw.Children) != 2 {
			return nil, &NormalizationError{Rule: raw.Rule, Source: raw.Text, Message: "binary production requires exactly two operands"}
		}
		left, err := Normalize(raw.Children[0])
		if err != nil {
			return nil, err
		}
		right, err := Normalize(raw.Children[1])
		if err != nil {
			return nil, err
		}
		return &Operator{Symbol: raw.Op, Operands: []Node{left, right}, Source: raw.Text}, nil

	default:
		return nil, &NormalizationError{Rule: raw.Rule, Source: raw.Text, Message: "no semantic category for production"}
	}
}

// normalizeFunctionCall enforces the call-name invariant: a node whose rule
// says "function call" but whose text carries no call marker or no name is
// reclassified rather than emitted with an empty name. Member access chains
// and negated literals historically ended up here when parsers mislabeled
// them; the reclassification is a hard invariant, not a heuristic.
func normalizeFunctionCall(raw *fhirpath.RawNode) (Node, error) {
	open := strings.IndexByte(raw.Text, '(')
	name := ""
	if open >= 0 {
		name = strings.TrimSpace(raw.Text[:open])
	}

	if open < 0 || name == "" {
		if len(raw.Children) == 1 {
			return Normalize(raw.Children[0])
		}
		steps, err := normalizeAll(raw.Children)
		if err != nil {
			return nil, err
		}
		return &Generic{Rule: "wrapper", Source: raw.Text, Steps: steps}, nil
	}

	args, err := normalizeAll(raw.Children)
	if err != nil {
		return nil, err
	}
	return &FunctionCall{Name: name, Args: args, Source: raw.Text}, nil
}

// normalizeInvocation flattens a left-nested invocation chain into ordered
// steps, merging consecutive identifier steps into one dotted Identifier.
func normalizeInvocation(raw *fhirpath.RawNode) (Node, error) {
	if len(raw.Children) != 2 {
		return nil, &NormalizationError{Rule: raw.Rule, Source: raw.Text, Message: "invocation requires target and invocation"}
	}
	steps, err := flattenSteps(raw)
	if err != nil {
		return nil, err
	}
	return stepsToNode(steps, raw.Text)
}

func normalizeIndexer(raw *fhirpath.RawNode) (Node, error) {
	if len(raw.Children) != 2 {
		return nil, &NormalizationError{Rule: raw.Rule, Source: raw.Text, Message: "indexer requires target and index"}
	}
	steps, err := flattenSteps(raw.Children[0])
	if err != nil {
		return nil, err
	}
	index, err := Normalize(raw.Children[1])
	if err != nil {
		return nil, err
	}
	steps = append(steps, &FunctionCall{Name: "[]", Args: []Node{index}, Source: raw.Text})
	return stepsToNode(steps, raw.Text)
}

// flattenSteps linearizes an invocation chain left-to-right.
func flattenSteps(raw *fhirpath.RawNode) ([]Node, error) {
	if raw.Rule == "invocationExpression" && len(raw.Children) == 2 {
		left, err := flattenSteps(raw.Children[0])
		if err != nil {
			return nil, err
		}
		right, err := Normalize(raw.Children[1])
		if err != nil {
			return nil, err
		}
		return appendStep(left, right), nil
	}

	node, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if g, ok := node.(*Generic); ok && g.Rule == "path" {
		return g.Steps, nil
	}
	return []Node{node}, nil
}

// appendStep appends one step, merging identifier-identifier adjacency into
// a dotted path.
func appendStep(steps []Node, next Node) []Node {
	if len(steps) > 0 {
		if prev, ok := steps[len(steps)-1].(*Identifier); ok {
			if id, ok := next.(*Identifier); ok && !strings.HasPrefix(id.Name, "$") {
				steps[len(steps)-1] = &Identifier{Name: prev.Name + "." + id.Name}
				return steps
			}
		}
	}
	return append(steps, next)
}

func stepsToNode(steps []Node, source string) (Node, error) {
	switch len(steps) {
	case 0:
		return nil, &NormalizationError{Rule: "path", Source: source, Message: "empty invocation chain"}
	case 1:
		return steps[0], nil
	default:
		return &Generic{Rule: "path", Source: source, Steps: steps}, nil
	}
}

// normalizePolarity folds unary minus over numeric literals into a single
// negated Literal node. Non-literal operands keep an explicit unary operator.
func normalizePolarity(raw *fhirpath.RawNode) (Node, error) {
	if len(raw.Children) != 1 {
		return nil, &NormalizationError{Rule: raw.Rule, Source: raw.Text, Message: "polarity requires exactly one operand"}
	}
	child, err := Normalize(raw.Children[0])
	if err != nil {
		return nil, err
	}
	if raw.Op == "+" {
		return child, nil
	}
	if lit, ok := child.(*Literal); ok && (lit.Kind == LiteralInteger || lit.Kind == LiteralDecimal) {
		if strings.HasPrefix(lit.Value, "-") {
			return &Literal{Kind: lit.Kind, Value: lit.Value[1:], Source: raw.Text}, nil
		}
		return &Literal{Kind: lit.Kind, Value: "-" + lit.Value, Source: raw.Text}, nil
	}
	return &Operator{Symbol: "-", Operands: []Node{child}, Source: raw.Text}, nil
}

func normalizeAll(raws []*fhirpath.RawNode) ([]Node, error) {
	var nodes []Node
	for _, r := range raws {
		n, err := Normalize(r)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// padDate pads a partial date to a full YYYY-MM-DD value (year-only pads to
// January 1st). Comparison-as-range semantics are deliberately not applied.
func padDate(v string) string {
	switch len(v) {
	case 4: // YYYY
		return v + "-01-01"
	case 7: // YYYY-MM
		return v + "-01"
	default:
		return v
	}
}

// padDateTime pads a partial datetime to YYYY-MM-DD HH:MM:SS at time zero.
// Timezone suffixes are dropped; the stored canonical form is zone-less.
func padDateTime(v string) string {
	parts := strings.SplitN(v, "T", 2)
	date := padDate(parts[0])
	if len(parts) == 1 || parts[1] == "" {
		return date + " 00:00:00"
	}
	t := strings.TrimSuffix(parts[1], "Z")
	if i := strings.IndexAny(t, "+-"); i > 0 {
		t = t[:i]
	}
	return date + " " + padTime(t)
}

// padTime pads a partial time to HH:MM:SS.
func padTime(v string) string {
	switch len(v) {
	case 2: // HH
		return v + ":00:00"
	case 5: // HH:MM
		return v + ":00"
	default:
		return v
	}
}
