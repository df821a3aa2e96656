package ast

// Category identifies the semantic dispatch class of a node. Category and
// concrete type always agree; translators dispatch on the type and may use
// Category for diagnostics.
type Category string

const (
	CategoryIdentifier   Category = "identifier"
	CategoryLiteral      Category = "literal"
	CategoryOperator     Category = "operator"
	CategoryFunctionCall Category = "function"
	CategoryGeneric      Category = "generic"
)

// Node is the normalized AST node.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in the translator.
//
// Nodes are created once per parse and never mutated afterwards; a
// translation pass may revisit subtrees (nested or speculative translation)
// but must treat them as read-only.
type Node interface {
	astNode() // Marker method - seals interface to this package

	// Category returns the semantic dispatch class.
	Category() Category

	// Text returns the raw source text the node covers.
	Text() string

	// Children returns the node's child nodes, in source order.
	Children() []Node
}

// LiteralKind classifies literal values.
type LiteralKind string

const (
	LiteralInteger  LiteralKind = "integer"
	LiteralDecimal  LiteralKind = "decimal"
	LiteralString   LiteralKind = "string"
	LiteralBoolean  LiteralKind = "boolean"
	LiteralDate     LiteralKind = "date"
	LiteralDateTime LiteralKind = "dateTime"
	LiteralTime     LiteralKind = "time"
)

// Identifier is a plain or dotted field reference, optionally rooted at a
// lambda variable ($this.given). Pure member-access chains always normalize
// to a single Identifier, never to a FunctionCall or Generic node.
type Identifier struct {
	Name string // dotted path, e.g. "name.given" or "$this.given"
}

func (*Identifier) astNode()           {}
func (*Identifier) Category() Category { return CategoryIdentifier }
func (n *Identifier) Text() string     { return n.Name }
func (*Identifier) Children() []Node   { return nil }

// Segments returns the dotted path split into segments.
func (n *Identifier) Segments() []string {
	return splitPath(n.Name)
}

// Literal is a constant value. Negated numeric literals are folded into a
// single Literal carrying the negated value during normalization.
type Literal struct {
	Kind   LiteralKind
	Value  string // canonical value text; date/time values are padded
	Source string // original source text
}

func (*Literal) astNode()           {}
func (*Literal) Category() Category { return CategoryLiteral }
func (n *Literal) Text() string     { return n.Source }
func (*Literal) Children() []Node   { return nil }

// Operator is a binary or unary operation. Unary operators carry a single
// operand; binary operators carry exactly two.
type Operator struct {
	Symbol   string // "=", "<", "+", "|", "and", "is", "as", "-" (unary), ...
	Operands []Node
	TypeName string // target type for "is"/"as", otherwise empty
	Source   string // original source span
}

func (*Operator) astNode()           {}
func (*Operator) Category() Category { return CategoryOperator }
func (n *Operator) Children() []Node { return n.Operands }

func (n *Operator) Text() string {
	if n.Source != "" {
		return n.Source
	}
	return n.Symbol
}

// FunctionCall is a call with a resolvable, non-empty name. The normalizer
// guarantees Name is never empty: raw nodes that look like calls but carry
// no call name are reclassified instead.
type FunctionCall struct {
	Name   string
	Args   []Node
	Source string
}

func (*FunctionCall) astNode()           {}
func (*FunctionCall) Category() Category { return CategoryFunctionCall }
func (n *FunctionCall) Text() string     { return n.Source }
func (n *FunctionCall) Children() []Node { return n.Args }

// Generic is the residual category: a path of sequential steps (identifier
// and function-call segments) or a reclassified wrapper. Rule records why
// the node is generic ("path", "wrapper").
type Generic struct {
	Rule   string
	Source string
	Steps  []Node
}

func (*Generic) astNode()           {}
func (*Generic) Category() Category { return CategoryGeneric }
func (n *Generic) Text() string     { return n.Source }
func (n *Generic) Children() []Node { return n.Steps }

func splitPath(s string) []string {
	if s == "" {
		return nil
	}
	var segs []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			segs = append(segs, s[start:i])
			start = i + 1
		}
	}
	return append(segs, s[start:])
}
