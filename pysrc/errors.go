package pysrc

import (
	"errors"
	"fmt"
)

// ErrInvalidPath indicates a dotted path that is not 2 or 3 Python identifiers.
var ErrInvalidPath = errors.New("invalid dotted path")

// ParseError reports source that is not syntactically valid Python.
type ParseError struct {
	// Line and Column are 1-based.
	Line   int
	Column int
	Near   string
}

func (e *ParseError) Error() string {
	if e.Near == "" {
		return fmt.Sprintf("syntax error at line %d, column %d", e.Line, e.Column)
	}
	return fmt.Sprintf("syntax error at line %d, column %d near %q", e.Line, e.Column, e.Near)
}

// PathNotFoundError reports the dotted path segment that failed to resolve.
type PathNotFoundError struct {
	Path    DottedPath
	Segment string
	// Kind is the declaration kind that was expected: "function", "class" or "method".
	Kind string
}

func (e *PathNotFoundError) Error() string {
	switch e.Kind {
	case "method":
		return fmt.Sprintf("%s: method %q not found in class %q", e.Path, e.Segment, e.Path.Class)
	case "class":
		return fmt.Sprintf("%s: class %q not found in module %q", e.Path, e.Segment, e.Path.Module)
	default:
		return fmt.Sprintf("%s: %s %q not found in module %q", e.Path, e.Kind, e.Segment, e.Path.Module)
	}
}

// UnsupportedConstructError reports a target whose body cannot host the injected statement.
type UnsupportedConstructError struct {
	Target string
	Reason string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("cannot inject into %s: %s", e.Target, e.Reason)
}

// RenderError reports rendered output that failed the post-render structural check.
type RenderError struct {
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return "render check failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "render check failed: " + e.Reason
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
