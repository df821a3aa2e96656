package cte

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes assembly errors.
type ErrorCode string

const (
	// ErrCodeDependency indicates a fragment referencing a dependency that
	// is not in the fragment list. Always fatal; never silently skipped.
	ErrCodeDependency ErrorCode = "ASSEMBLY_DEPENDENCY"
)

// Error is an assembly failure.
type Error struct {
	Code     ErrorCode
	Fragment string // fragment being assembled
	Message  string
}

func (e *Error) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("%s: %s (fragment %q)", e.Code, e.Message, e.Fragment)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDependency returns true if err is a missing-dependency error. Uses
// errors.As to handle wrapped errors.
func IsDependency(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == ErrCodeDependency
}

func dependencyErr(fragment, format string, args ...any) *Error {
	return &Error{
		Code:     ErrCodeDependency,
		Fragment: fragment,
		Message:  fmt.Sprintf(format, args...),
	}
}
