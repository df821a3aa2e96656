package translator

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes translation errors.
type ErrorCode string

const (
	// ErrCodeNormalization indicates input that maps to no translation rule
	// at the node level (malformed or out-of-category input).
	ErrCodeNormalization ErrorCode = "NORMALIZATION"

	// ErrCodeUnboundVariable indicates a lambda variable referenced outside
	// any scope that binds it.
	ErrCodeUnboundVariable ErrorCode = "UNBOUND_VARIABLE"

	// ErrCodeUnsupported indicates a function or operator with no
	// translation rule. Never degraded to a no-op.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED_OPERATION"
)

// Error is a translation failure with enough context to locate the
// offending sub-expression.
type Error struct {
	Code      ErrorCode
	Operation string // function/operator/variable name
	Source    string // offending sub-expression text
	Message   string
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (in %q)", e.Code, e.Message, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnsupported returns true if err is an unsupported-operation error.
// Uses errors.As to handle wrapped errors.
func IsUnsupported(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == ErrCodeUnsupported
}

// IsUnboundVariable returns true if err is an unbound-variable error.
func IsUnboundVariable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == ErrCodeUnboundVariable
}

func unsupportedf(operation, source, format string, args ...any) *Error {
	return &Error{
		Code:      ErrCodeUnsupported,
		Operation: operation,
		Source:    source,
		Message:   fmt.Sprintf(format, args...),
	}
}

func unboundVariable(name, source string) *Error {
	return &Error{
		Code:      ErrCodeUnboundVariable,
		Operation: name,
		Source:    source,
		Message:   fmt.Sprintf("variable %s is not bound in any enclosing scope", name),
	}
}
