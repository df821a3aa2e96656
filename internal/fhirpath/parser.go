package fhirpath

import (
	"fmt"
	"strings"
)

// RawNode is one node of the raw parse tree. Rule carries the grammar
// production name; downstream consumers must not branch on Rule directly.
// The AST normalizer maps raw nodes onto the closed semantic node set.
// Text is the full source span the node covers; operator productions carry
// the operator symbol in Op.
type RawNode struct {
	Rule     string
	Text     string
	Op       string
	Children []*RawNode
}

// ParseError reports a syntax error with the offending token.
type ParseError struct {
	Pos     int
	Token   string
	Message string
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("fhirpath: parse error at position %d near %q: %s", e.Pos, e.Token, e.Message)
	}
	return fmt.Sprintf("fhirpath: parse error at position %d: %s", e.Pos, e.Message)
}

// Parse lexes and parses a FHIRPath expression into a raw parse tree.
func Parse(expression string) (*RawNode, error) {
	tokens, err := Lex(expression)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, &ParseError{Pos: tok.Pos, Token: tok.Value, Message: "unexpected trailing input"}
	}
	return node, nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != TokenEOF {
		p.pos++
	}
	return tok
}

// binaryLevel parses a left-associative binary operator level.
func (p *parser) binaryLevel(rule string, operand func() (*RawNode, error), match func(Token) bool) (*RawNode, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for match(p.peek()) {
		op := p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &RawNode{
			Rule:     rule,
			Text:     left.Text + " " + op.Value + " " + right.Text,
			Op:       op.Value,
			Children: []*RawNode{left, right},
		}
	}
	return left, nil
}

func opIn(values ...string) func(Token) bool {
	return func(tok Token) bool {
		if tok.Kind != TokenOperator && tok.Kind != TokenKeyword {
			return false
		}
		for _, v := range values {
			if tok.Value == v {
				return true
			}
		}
		return false
	}
}

func (p *parser) parseExpression() (*RawNode, error) {
	return p.parseImplies()
}

func (p *parser) parseImplies() (*RawNode, error) {
	return p.binaryLevel("impliesExpression", p.parseOr, opIn("implies"))
}

func (p *parser) parseOr() (*RawNode, error) {
	return p.binaryLevel("orExpression", p.parseAnd, opIn("or", "xor"))
}

func (p *parser) parseAnd() (*RawNode, error) {
	return p.binaryLevel("andExpression", p.parseEquality, opIn("and"))
}

func (p *parser) parseEquality() (*RawNode, error) {
	return p.binaryLevel("equalityExpression", p.parseInequality, opIn("=", "!=", "~", "!~"))
}

func (p *parser) parseInequality() (*RawNode, error) {
	return p.binaryLevel("inequalityExpression", p.parseUnion, opIn("<", "<=", ">", ">="))
}

func (p *parser) parseUnion() (*RawNode, error) {
	return p.binaryLevel("unionExpression", p.parseType, opIn("|"))
}

// parseType handles `expr is Type` and `expr as Type`.
func (p *parser) parseType() (*RawNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Kind != TokenKeyword || (tok.Value != "is" && tok.Value != "as") {
			return left, nil
		}
		op := p.next()
		typeTok := p.next()
		if typeTok.Kind != TokenIdent {
			return nil, &ParseError{Pos: typeTok.Pos, Token: typeTok.Value, Message: "expected type name after " + op.Value}
		}
		spec := &RawNode{Rule: "typeSpecifier", Text: typeTok.Value}
		left = &RawNode{
			Rule:     "typeExpression",
			Text:     left.Text + " " + op.Value + " " + typeTok.Value,
			Op:       op.Value,
			Children: []*RawNode{left, spec},
		}
	}
}

func (p *parser) parseAdditive() (*RawNode, error) {
	return p.binaryLevel("additiveExpression", p.parseMultiplicative, opIn("+", "-", "&"))
}

func (p *parser) parseMultiplicative() (*RawNode, error) {
	return p.binaryLevel("multiplicativeExpression", p.parsePolarity, opIn("*", "/", "div", "mod"))
}

// parsePolarity handles unary + and -.
func (p *parser) parsePolarity() (*RawNode, error) {
	tok := p.peek()
	if tok.Kind == TokenOperator && (tok.Value == "-" || tok.Value == "+") {
		op := p.next()
		child, err := p.parsePolarity()
		if err != nil {
			return nil, err
		}
		return &RawNode{
			Rule:     "polarityExpression",
			Text:     op.Value + child.Text,
			Op:       op.Value,
			Children: []*RawNode{child},
		}, nil
	}
	return p.parseInvocation()
}

// parseInvocation handles postfix member access, function invocation and
// indexers, all left-associative.
func (p *parser) parseInvocation() (*RawNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch tok := p.peek(); {
		case tok.Kind == TokenDot:
			p.next()
			inv, err := p.parseInvocationStep()
			if err != nil {
				return nil, err
			}
			left = &RawNode{
				Rule:     "invocationExpression",
				Text:     left.Text + "." + inv.Text,
				Children: []*RawNode{left, inv},
			}
		case tok.Kind == TokenLBracket:
			p.next()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if closing := p.next(); closing.Kind != TokenRBracket {
				return nil, &ParseError{Pos: closing.Pos, Token: closing.Value, Message: "expected ']'"}
			}
			left = &RawNode{
				Rule:     "indexerExpression",
				Text:     left.Text + "[" + index.Text + "]",
				Children: []*RawNode{left, index},
			}
		default:
			return left, nil
		}
	}
}

// parseInvocationStep parses the production after a '.': a member name,
// a function call, or an environment variable.
func (p *parser) parseInvocationStep() (*RawNode, error) {
	tok := p.next()
	switch tok.Kind {
	case TokenIdent, TokenKeyword:
		if p.peek().Kind == TokenLParen {
			return p.parseFunctionCall(tok.Value)
		}
		return &RawNode{Rule: "memberInvocation", Text: tok.Value}, nil
	case TokenVariable:
		return &RawNode{Rule: "thisInvocation", Text: tok.Value}, nil
	default:
		return nil, &ParseError{Pos: tok.Pos, Token: tok.Value, Message: "expected member or function name after '.'"}
	}
}

// parseFunctionCall parses the argument list; the '(' is still pending.
func (p *parser) parseFunctionCall(name string) (*RawNode, error) {
	if open := p.next(); open.Kind != TokenLParen {
		return nil, &ParseError{Pos: open.Pos, Token: open.Value, Message: "expected '('"}
	}

	var args []*RawNode
	if p.peek().Kind != TokenRParen {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Kind != TokenComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.Kind != TokenRParen {
		return nil, &ParseError{Pos: closing.Pos, Token: closing.Value, Message: "expected ')' after function arguments"}
	}

	var argTexts []string
	for _, a := range args {
		argTexts = append(argTexts, a.Text)
	}
	return &RawNode{
		Rule:     "functionCall",
		Text:     name + "(" + strings.Join(argTexts, ", ") + ")",
		Children: args,
	}, nil
}

func (p *parser) parseTerm() (*RawNode, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokenNumber:
		p.next()
		return &RawNode{Rule: "numberLiteral", Text: tok.Value}, nil

	case TokenString:
		p.next()
		return &RawNode{Rule: "stringLiteral", Text: tok.Value}, nil

	case TokenDate:
		p.next()
		return &RawNode{Rule: "dateLiteral", Text: tok.Value}, nil

	case TokenDateTime:
		p.next()
		return &RawNode{Rule: "dateTimeLiteral", Text: tok.Value}, nil

	case TokenTime:
		p.next()
		return &RawNode{Rule: "timeLiteral", Text: tok.Value}, nil

	case TokenKeyword:
		if tok.Value == "true" || tok.Value == "false" {
			p.next()
			return &RawNode{Rule: "booleanLiteral", Text: tok.Value}, nil
		}
		return nil, &ParseError{Pos: tok.Pos, Token: tok.Value, Message: "unexpected keyword"}

	case TokenVariable:
		p.next()
		return &RawNode{Rule: "thisInvocation", Text: tok.Value}, nil

	case TokenIdent:
		p.next()
		if p.peek().Kind == TokenLParen {
			return p.parseFunctionCall(tok.Value)
		}
		return &RawNode{Rule: "identifier", Text: tok.Value}, nil

	case TokenLParen:
		p.next()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.Kind != TokenRParen {
			return nil, &ParseError{Pos: closing.Pos, Token: closing.Value, Message: "expected ')'"}
		}
		return &RawNode{
			Rule:     "parenthesizedTerm",
			Text:     "(" + inner.Text + ")",
			Children: []*RawNode{inner},
		}, nil

	default:
		return nil, &ParseError{Pos: tok.Pos, Token: tok.Value, Message: "expected a term"}
	}
}
