package fhirpath

import (
	"fmt"
	"strings"
)

// TokenKind classifies lexer output.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenVariable // $this, $index, $total
	TokenNumber
	TokenString   // 'single-quoted'
	TokenDate     // @2015-01-01
	TokenDateTime // @2015-01-01T10:30:00
	TokenTime     // @T14:30
	TokenDot
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenOperator // =, !=, <, <=, >, >=, +, -, *, /, |, &
	TokenKeyword  // and, or, xor, implies, is, as, div, mod, true, false
)

// Token is a single lexeme with its source position.
type Token struct {
	Kind  TokenKind
	Value string
	Pos   int
}

// keywords are identifiers with operator or literal meaning. They are only
// treated as keywords where the grammar expects an operator, never inside a
// member path (e.g. Patient.contained.as is a valid, if unwise, path).
var keywords = map[string]bool{
	"and": true, "or": true, "xor": true, "implies": true,
	"is": true, "as": true, "div": true, "mod": true,
	"true": true, "false": true,
}

// LexError reports an unrecognized character or malformed token.
type LexError struct {
	Pos     int
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("fhirpath: lex error at position %d: %s", e.Pos, e.Message)
}

// Lex splits a FHIRPath expression into tokens. The token stream always ends
// with a TokenEOF entry.
func Lex(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	n := len(input)

	for i < n {
		ch := input[i]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		start := i

		switch {
		case ch == '.':
			tokens = append(tokens, Token{TokenDot, ".", start})
			i++

		case ch == '(':
			tokens = append(tokens, Token{TokenLParen, "(", start})
			i++

		case ch == ')':
			tokens = append(tokens, Token{TokenRParen, ")", start})
			i++

		case ch == '[':
			tokens = append(tokens, Token{TokenLBracket, "[", start})
			i++

		case ch == ']':
			tokens = append(tokens, Token{TokenRBracket, "]", start})
			i++

		case ch == ',':
			tokens = append(tokens, Token{TokenComma, ",", start})
			i++

		case ch == '|' || ch == '+' || ch == '-' || ch == '*' || ch == '/' || ch == '&' || ch == '=' || ch == '~':
			tokens = append(tokens, Token{TokenOperator, string(ch), start})
			i++

		case ch == '!':
			if i+1 < n && (input[i+1] == '=' || input[i+1] == '~') {
				tokens = append(tokens, Token{TokenOperator, input[i : i+2], start})
				i += 2
			} else {
				return nil, &LexError{Pos: start, Message: "expected '=' or '~' after '!'"}
			}

		case ch == '<' || ch == '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, Token{TokenOperator, input[i : i+2], start})
				i += 2
			} else {
				tokens = append(tokens, Token{TokenOperator, string(ch), start})
				i++
			}

		case ch == '\'':
			value, next, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{TokenString, value, start})
			i = next

		case ch == '@':
			tok, next := lexDateTime(input, i)
			tokens = append(tokens, tok)
			i = next

		case ch == '$':
			j := i + 1
			for j < n && isIdentChar(input[j]) {
				j++
			}
			name := input[i:j]
			if name != "$this" && name != "$index" && name != "$total" {
				return nil, &LexError{Pos: start, Message: fmt.Sprintf("unknown environment variable %q", name)}
			}
			tokens = append(tokens, Token{TokenVariable, name, start})
			i = j

		case ch >= '0' && ch <= '9':
			j := i
			seenDot := false
			for j < n && (input[j] >= '0' && input[j] <= '9' || (input[j] == '.' && !seenDot && j+1 < n && input[j+1] >= '0' && input[j+1] <= '9')) {
				if input[j] == '.' {
					seenDot = true
				}
				j++
			}
			tokens = append(tokens, Token{TokenNumber, input[i:j], start})
			i = j

		case isIdentStart(ch):
			j := i
			for j < n && isIdentChar(input[j]) {
				j++
			}
			word := input[i:j]
			if keywords[word] {
				tokens = append(tokens, Token{TokenKeyword, word, start})
			} else {
				tokens = append(tokens, Token{TokenIdent, word, start})
			}
			i = j

		case ch == '`':
			// Delimited identifier: `div` as a field name.
			j := i + 1
			for j < n && input[j] != '`' {
				j++
			}
			if j >= n {
				return nil, &LexError{Pos: start, Message: "unterminated delimited identifier"}
			}
			tokens = append(tokens, Token{TokenIdent, input[i+1 : j], start})
			i = j + 1

		default:
			return nil, &LexError{Pos: start, Message: fmt.Sprintf("unexpected character %q", ch)}
		}
	}

	tokens = append(tokens, Token{TokenEOF, "", n})
	return tokens, nil
}

// lexString consumes a single-quoted string starting at input[i] == '\''.
// Backslash escapes \' \\ \n \t \r are decoded.
func lexString(input string, i int) (string, int, error) {
	var sb strings.Builder
	j := i + 1
	n := len(input)
	for j < n {
		ch := input[j]
		if ch == '\'' {
			return sb.String(), j + 1, nil
		}
		if ch == '\\' && j+1 < n {
			switch input[j+1] {
			case '\'':
				sb.WriteByte('\'')
			case '\\':
				sb.WriteByte('\\')
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(input[j+1])
			}
			j += 2
			continue
		}
		sb.WriteByte(ch)
		j++
	}
	return "", 0, &LexError{Pos: i, Message: "unterminated string literal"}
}

// lexDateTime consumes an @-prefixed date, datetime or time literal.
// Shapes: @2015, @2015-03, @2015-03-04, @2015-03-04T10:30:00, @T14:30.
func lexDateTime(input string, i int) (Token, int) {
	start := i
	j := i + 1
	n := len(input)

	isTime := j < n && input[j] == 'T'
	if isTime {
		j++
	}
	for j < n {
		ch := input[j]
		if ch >= '0' && ch <= '9' || ch == '-' || ch == ':' || ch == '.' || ch == '+' || ch == 'Z' {
			j++
			continue
		}
		if ch == 'T' && !isTime {
			j++
			continue
		}
		break
	}
	value := input[i+1 : j]

	kind := TokenDate
	switch {
	case isTime:
		kind = TokenTime
		value = strings.TrimPrefix(value, "T")
	case strings.ContainsRune(value, 'T'):
		kind = TokenDateTime
	}
	return Token{kind, value, start}, j
}

func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || ch >= '0' && ch <= '9'
}
