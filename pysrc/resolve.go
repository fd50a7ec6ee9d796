package pysrc

import (
	"fmt"
	"strings"
	"unicode"
)

// DottedPath names a function (`module.func`) or method (`module.Class.method`).
type DottedPath struct {
	Module string
	// Class is empty for module level functions.
	Class  string
	Member string
}

// ParseDottedPath splits and validates a dotted path of 2 or 3 Python identifiers.
func ParseDottedPath(s string) (DottedPath, error) {
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if !isIdentifier(seg) {
			return DottedPath{}, fmt.Errorf("%w %q: %q is not an identifier", ErrInvalidPath, s, seg)
		}
	}
	switch len(segments) {
	case 2:
		return DottedPath{Module: segments[0], Member: segments[1]}, nil
	case 3:
		return DottedPath{Module: segments[0], Class: segments[1], Member: segments[2]}, nil
	default:
		return DottedPath{}, fmt.Errorf("%w %q: expected module.func or module.Class.method", ErrInvalidPath, s)
	}
}

func (p DottedPath) String() string {
	if p.Class == "" {
		return p.Module + "." + p.Member
	}
	return p.Module + "." + p.Class + "." + p.Member
}

// IsMethod reports whether the path names a method inside a class.
func (p DottedPath) IsMethod() bool {
	return p.Class != ""
}

// ModuleFile returns the file name the module segment refers to.
func (p DottedPath) ModuleFile() string {
	return p.Module + ".py"
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		} else if i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)) {
			continue
		}
		return false
	}
	return true
}

// Target is a resolved declaration together with what is needed to mutate its body.
type Target struct {
	Path DottedPath
	Func *FuncDef
	// Class is the owning class for methods, nil for module functions.
	Class *ClassDef
}

// Resolve finds the declaration a dotted path names. The module segment is not resolved here, it
// only selects which file was parsed. Declarations are searched in source order and the first
// match wins, later redefinitions are ignored.
func Resolve(m *Module, path DottedPath) (*Target, error) {
	if !path.IsMethod() {
		fn := findFunc(m.Body, path.Member)
		if fn == nil {
			return nil, &PathNotFoundError{Path: path, Segment: path.Member, Kind: "function"}
		}
		return &Target{Path: path, Func: fn}, nil
	}

	class := findClass(m.Body, path.Class)
	if class == nil {
		return nil, &PathNotFoundError{Path: path, Segment: path.Class, Kind: "class"}
	}
	var fn *FuncDef
	if class.Body != nil {
		fn = findFunc(class.Body.Stmts, path.Member)
	}
	if fn == nil {
		return nil, &PathNotFoundError{Path: path, Segment: path.Member, Kind: "method"}
	}
	return &Target{Path: path, Func: fn, Class: class}, nil
}

func findFunc(stmts []Stmt, name string) *FuncDef {
	for _, s := range stmts {
		if fn, ok := s.(*FuncDef); ok && fn.Name == name {
			return fn
		}
	}
	return nil
}

func findClass(stmts []Stmt, name string) *ClassDef {
	for _, s := range stmts {
		if c, ok := s.(*ClassDef); ok && c.Name == name {
			return c
		}
	}
	return nil
}
