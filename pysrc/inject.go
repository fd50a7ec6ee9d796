package pysrc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSessionCode starts an IPython kernel bound to the local variables of the enclosing
// function. It needs no import statement so it can join a single-line body.
const DefaultSessionCode = `__import__("IPython").embed_kernel(local_ns=locals())`

// compound statements can't be joined into a `;` separated simple statement list
var compoundKinds = []string{
	"if_statement", "for_statement", "while_statement", "try_statement", "with_statement",
	"match_statement", "function_definition", "class_definition", "decorated_definition",
}

// Injector inserts the session statement into a resolved declaration.
type Injector struct {
	code string
}

// NewInjector validates code as a single simple Python statement. Empty code selects
// DefaultSessionCode.
func NewInjector(ctx context.Context, code string) (*Injector, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = DefaultSessionCode
	} else if strings.ContainsAny(code, "\r\n") {
		return nil, errors.New("session statement must be a single line")
	}

	mod, err := Parse(ctx, []byte(code))
	if err != nil {
		return nil, fmt.Errorf("session statement %q: %w", code, err)
	} else if len(mod.Body) != 1 {
		return nil, fmt.Errorf("session statement %q must be exactly one statement", code)
	}
	stmt, ok := mod.Body[0].(*OtherStmt)
	if !ok || stmt.Role != RoleCode || slices.Contains(compoundKinds, stmt.Kind) {
		return nil, fmt.Errorf("session statement %q must be a simple executable statement", code)
	}
	return &Injector{code: code}, nil
}

// Code returns the statement text this injector inserts.
func (i *Injector) Code() string {
	return i.code
}

// Injection describes where the statement was placed in the target body.
type Injection struct {
	// Index is the position of the injected statement in the target body.
	Index int
	// AlreadyInjected is set when the body already started with the statement; the tree was not
	// modified.
	AlreadyInjected bool
}

// Inject inserts the session statement as the first executable statement of the target body.
// Leading comments, a documentation literal and `...` placeholders stay in front of it.
func (i *Injector) Inject(m *Module, t *Target) (Injection, error) {
	body := t.Func.Body
	if body == nil {
		return Injection{}, &UnsupportedConstructError{Target: t.Path.String(), Reason: "declaration has no body"}
	} else if !slices.ContainsFunc(body.Stmts, func(s Stmt) bool { return roleOf(s) != RoleComment }) {
		return Injection{}, &UnsupportedConstructError{Target: t.Path.String(), Reason: "body has no statements"}
	}

	idx := insertionIndex(body)
	if i.Present(m, t.Func) {
		return Injection{Index: idx, AlreadyInjected: true}, nil
	}
	body.Stmts = slices.Insert(body.Stmts, idx, Stmt(&InjectedStmt{Code: i.code}))
	return Injection{Index: idx}, nil
}

// Present reports whether the body of fn already carries the session statement at the place
// Inject would put it.
func (i *Injector) Present(m *Module, fn *FuncDef) bool {
	if fn.Body == nil {
		return false
	}
	idx := insertionIndex(fn.Body)
	return idx < len(fn.Body.Stmts) && sameCode(m.Text(fn.Body.Stmts[idx]), i.code)
}

// insertionIndex returns the index after leading comments, the documentation literal and `...`
// markers. In an indented block a comment sharing the line of the docstring or a marker is
// stepped over too, since the injected statement is rendered on the following line.
func insertionIndex(b *Block) int {
	stmts := b.Stmts
	idx := 0
	for idx < len(stmts) && roleOf(stmts[idx]) == RoleComment {
		idx++
	}
	skipTrailing := func() {
		if !b.Inline && idx < len(stmts) && trailingComment(stmts[idx-1], stmts[idx]) {
			idx++
		}
	}
	if idx < len(stmts) && roleOf(stmts[idx]) == RoleDocstring {
		idx++
		skipTrailing()
	}
	for idx < len(stmts) && roleOf(stmts[idx]) == RoleEllipsis {
		idx++
		skipTrailing()
	}
	return idx
}

// trailingComment reports whether s is a comment on the last line of prev.
func trailingComment(prev, s Stmt) bool {
	if _, synthetic := prev.(*InjectedStmt); synthetic {
		return false
	}
	c, ok := s.(*OtherStmt)
	return ok && c.Role == RoleComment && c.Span.Line == prev.Pos().EndLine
}

func roleOf(s Stmt) StmtRole {
	if other, ok := s.(*OtherStmt); ok {
		return other.Role
	}
	return RoleCode
}

// sameCode compares statements token by token: whitespace is ignored except inside string
// literals, and a run of it between two word characters counts as one separator.
func sameCode(a, b string) bool {
	return normalizeSpace(a) == normalizeSpace(b)
}

func normalizeSpace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	var quote string
	pendingSpace := false
	for i := 0; i < len(s); {
		if quote != "" {
			switch {
			case s[i] == '\\' && i+1 < len(s):
				sb.WriteString(s[i : i+2])
				i += 2
			case strings.HasPrefix(s[i:], quote):
				sb.WriteString(quote)
				i += len(quote)
				quote = ""
			default:
				sb.WriteByte(s[i])
				i++
			}
			continue
		}

		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			pendingSpace = true
			i += size
			continue
		}
		if pendingSpace && sb.Len() > 0 && isWordRune(lastRune(sb.String())) && isWordRune(r) {
			sb.WriteByte(' ')
		}
		pendingSpace = false
		if r == '"' || r == '\'' {
			quote = s[i : i+1]
			if triple := strings.Repeat(quote, 3); strings.HasPrefix(s[i:], triple) {
				quote = triple
			}
			sb.WriteString(quote)
			i += len(quote)
			continue
		}
		sb.WriteString(s[i : i+size])
		i += size
	}
	return sb.String()
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
