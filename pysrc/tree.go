// Package pysrc parses Python source into a small typed statement tree, resolves dotted paths to
// function declarations, injects a statement into a declaration body, and renders the tree back
// to source text.
package pysrc

import "strings"

// Span is a half-open byte range into the source a node was parsed from.
type Span struct {
	Start int
	End   int
	// Line is the 1-based line of Start.
	Line int
	// EndLine is the 1-based line of the last byte.
	EndLine int
}

// Stmt is implemented by every statement in a Module. The set is closed: *FuncDef, *ClassDef,
// *OtherStmt and *InjectedStmt.
type Stmt interface {
	// Pos returns the source span of the statement, zero for synthetic statements.
	Pos() Span
	stmtNode()
}

// Module is the root of a parsed source file.
type Module struct {
	Body []Stmt
	// Newline is the line terminator used by the file.
	Newline string

	src []byte
}

// Source returns the bytes the module was parsed from.
func (m *Module) Source() []byte {
	return m.src
}

// Text returns the original source text for the given statement, or the injected code for a
// synthetic statement.
func (m *Module) Text(s Stmt) string {
	if inj, ok := s.(*InjectedStmt); ok {
		return inj.Code
	}
	span := s.Pos()
	return string(m.src[span.Start:span.End])
}

// Block is an ordered statement container owned by a function or class.
type Block struct {
	Stmts []Stmt
	// Inline is set when the block shares the line of its header (`def f(): return 1`).
	Inline bool
}

// FuncDef is a `def` or `async def`, optionally decorated.
type FuncDef struct {
	Name       string
	Async      bool
	Params     string
	Decorators []string
	// Scope lists the enclosing class names, outermost first.
	Scope []string
	Body  *Block
	Span  Span
}

// ClassDef is a `class` statement, optionally decorated.
type ClassDef struct {
	Name       string
	Bases      string
	Decorators []string
	Body       *Block
	Span       Span
}

// StmtRole classifies statements the injector has to step over.
type StmtRole int

const (
	// RoleCode is any executable statement.
	RoleCode StmtRole = iota
	// RoleComment is a comment line.
	RoleComment
	// RoleDocstring is a bare string literal expression statement.
	RoleDocstring
	// RoleEllipsis is a bare `...` placeholder statement.
	RoleEllipsis
)

// OtherStmt is any statement that is neither a function nor a class: imports, assignments,
// expressions, compound statements and comments. It is kept as an opaque span.
type OtherStmt struct {
	Kind string
	Role StmtRole
	Span Span
}

// InjectedStmt is a synthetic statement created by the Injector. It has no source position.
type InjectedStmt struct {
	Code string
}

func (f *FuncDef) Pos() Span      { return f.Span }
func (c *ClassDef) Pos() Span     { return c.Span }
func (o *OtherStmt) Pos() Span    { return o.Span }
func (i *InjectedStmt) Pos() Span { return Span{} }

func (*FuncDef) stmtNode()      {}
func (*ClassDef) stmtNode()     {}
func (*OtherStmt) stmtNode()    {}
func (*InjectedStmt) stmtNode() {}

// QualifiedName returns the function name prefixed with its enclosing classes.
func (f *FuncDef) QualifiedName() string {
	if len(f.Scope) == 0 {
		return f.Name
	}
	return strings.Join(f.Scope, ".") + "." + f.Name
}

// Inspect walks the function and class declarations reachable through module and class bodies in
// source order. fn receives each declaration with its enclosing class chain; returning false stops
// descent into a class.
func Inspect(m *Module, fn func(s Stmt, scope []string) bool) {
	inspectStmts(m.Body, nil, fn)
}

func inspectStmts(stmts []Stmt, scope []string, fn func(Stmt, []string) bool) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *FuncDef:
			fn(s, scope)
		case *ClassDef:
			if fn(s, scope) && s.Body != nil {
				inspectStmts(s.Body.Stmts, append(scope[:len(scope):len(scope)], s.Name), fn)
			}
		}
	}
}
