package pysrc

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Parse builds a Module from Python source. Every call uses its own parser instance, nothing is
// shared or cached between calls.
func Parse(ctx context.Context, src []byte) (*Module, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("python parse failure: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, newParseError(root, src)
	}

	b := &builder{src: src}
	return &Module{
		Body:    b.stmts(root, nil),
		Newline: detectNewline(src),
		src:     src,
	}, nil
}

func detectNewline(src []byte) string {
	if i := bytes.IndexByte(src, '\n'); i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

func newParseError(root *sitter.Node, src []byte) *ParseError {
	n := firstErrorNode(root)
	if n == nil {
		n = root
	}
	pt := n.StartPoint()
	near := string(src[n.StartByte():n.EndByte()])
	if i := strings.IndexAny(near, "\r\n"); i >= 0 {
		near = near[:i]
	}
	return &ParseError{
		Line:   int(pt.Row) + 1,
		Column: int(pt.Column) + 1,
		Near:   strings.TrimSpace(clip(near, 40)),
	}
}

// clip shortens s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// firstErrorNode returns the first ERROR or MISSING node in document order.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if found := firstErrorNode(child); found != nil {
			return found
		}
	}
	return nil
}

type builder struct {
	src []byte
}

func (b *builder) text(n *sitter.Node) string {
	return string(b.src[n.StartByte():n.EndByte()])
}

func (b *builder) span(n *sitter.Node) Span {
	return Span{
		Start:   int(n.StartByte()),
		End:     int(n.EndByte()),
		Line:    int(n.StartPoint().Row) + 1,
		EndLine: int(n.EndPoint().Row) + 1,
	}
}

func (b *builder) stmts(parent *sitter.Node, scope []string) []Stmt {
	count := int(parent.NamedChildCount())
	result := make([]Stmt, 0, count)
	for i := 0; i < count; i++ {
		result = append(result, b.stmt(parent.NamedChild(i), scope))
	}
	return result
}

func (b *builder) stmt(n *sitter.Node, scope []string) Stmt {
	switch n.Type() {
	case "function_definition":
		return b.funcDef(n, n, nil, scope)
	case "class_definition":
		return b.classDef(n, n, nil, scope)
	case "decorated_definition":
		var decorators []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if child := n.NamedChild(i); child.Type() == "decorator" {
				decorators = append(decorators, b.text(child))
			}
		}
		if def := n.ChildByFieldName("definition"); def != nil {
			switch def.Type() {
			case "function_definition":
				return b.funcDef(def, n, decorators, scope)
			case "class_definition":
				return b.classDef(def, n, decorators, scope)
			}
		}
	case "comment":
		return &OtherStmt{Kind: "comment", Role: RoleComment, Span: b.span(n)}
	case "expression_statement":
		return &OtherStmt{Kind: n.Type(), Role: b.expressionRole(n), Span: b.span(n)}
	}
	return &OtherStmt{Kind: n.Type(), Span: b.span(n)}
}

// expressionRole detects docstrings and `...` placeholders. A documentation literal may be
// parenthesized; literals with an f or b prefix in any part are not documentation.
func (b *builder) expressionRole(n *sitter.Node) StmtRole {
	if n.NamedChildCount() != 1 {
		return RoleCode
	}
	child := n.NamedChild(0)
	for child.Type() == "parenthesized_expression" && child.NamedChildCount() == 1 {
		child = child.NamedChild(0)
	}
	switch child.Type() {
	case "ellipsis":
		return RoleEllipsis
	case "string":
		if b.plainString(child) {
			return RoleDocstring
		}
	case "concatenated_string":
		for i := 0; i < int(child.NamedChildCount()); i++ {
			if part := child.NamedChild(i); part.Type() == "string" && !b.plainString(part) {
				return RoleCode
			}
		}
		return RoleDocstring
	}
	return RoleCode
}

// plainString reports whether a string literal has no f or b prefix.
func (b *builder) plainString(n *sitter.Node) bool {
	lit := b.text(n)
	quote := strings.IndexAny(lit, `"'`)
	return quote >= 0 && !strings.ContainsAny(lit[:quote], "fFbB")
}

func (b *builder) funcDef(n, outer *sitter.Node, decorators, scope []string) *FuncDef {
	f := &FuncDef{
		Decorators: decorators,
		Scope:      scope,
		Span:       b.span(outer),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		f.Name = b.text(name)
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		f.Params = b.text(params)
	}
	if kw := childOfType(n, "async"); kw != nil {
		f.Async = true
	}
	f.Body = b.block(n, append(scope[:len(scope):len(scope)], f.Name))
	return f
}

func (b *builder) classDef(n, outer *sitter.Node, decorators, scope []string) *ClassDef {
	c := &ClassDef{
		Decorators: decorators,
		Span:       b.span(outer),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		c.Name = b.text(name)
	}
	if bases := n.ChildByFieldName("superclasses"); bases != nil {
		c.Bases = b.text(bases)
	}
	c.Body = b.block(n, append(scope[:len(scope):len(scope)], c.Name))
	return c
}

func (b *builder) block(def *sitter.Node, scope []string) *Block {
	body := def.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	blk := &Block{Stmts: b.stmts(body, scope)}
	// a comment trailing the header line is not part of an inline body
	if colon := childOfType(def, ":"); colon != nil {
		for _, s := range blk.Stmts {
			if other, ok := s.(*OtherStmt); ok && other.Role == RoleComment {
				continue
			}
			blk.Inline = s.Pos().Line == int(colon.EndPoint().Row)+1
			break
		}
	}
	return blk
}

func childOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child.Type() == typ {
			return child
		}
	}
	return nil
}
