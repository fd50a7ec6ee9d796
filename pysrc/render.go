package pysrc

import "bytes"

// Render serializes the module. Original statements are copied through byte for byte, so only
// injected statements differ from the parsed source. An injected statement is laid out to match
// its block: its own line at the neighbour's indentation, or `; ` joined for single-line bodies.
func Render(m *Module) []byte {
	p := &printer{src: m.src, nl: m.Newline}
	p.buf.Grow(len(m.src) + 128)
	p.walk(m.Body, nil)
	p.copyTo(len(p.src))
	return p.buf.Bytes()
}

type printer struct {
	src []byte
	nl  string
	buf bytes.Buffer
	pos int
}

func (p *printer) copyTo(off int) {
	if off > p.pos {
		p.buf.Write(p.src[p.pos:off])
		p.pos = off
	}
}

// walk visits statements in source order; b is nil for the module body, which never holds
// injected statements.
func (p *printer) walk(stmts []Stmt, b *Block) {
	for i, s := range stmts {
		switch s := s.(type) {
		case *InjectedStmt:
			if b != nil {
				p.injected(b, i, s)
			}
		case *FuncDef:
			if s.Body != nil {
				p.walk(s.Body.Stmts, s.Body)
			}
		case *ClassDef:
			if s.Body != nil {
				p.walk(s.Body.Stmts, s.Body)
			}
		}
	}
}

func (p *printer) injected(b *Block, i int, s *InjectedStmt) {
	if i > 0 {
		anchor := b.Stmts[i-1]
		if i > 1 && !b.Inline && trailingComment(b.Stmts[i-2], anchor) {
			anchor = b.Stmts[i-2] // the comment stays on its statement's line
		}
		if prev, ok := anchor.(*OtherStmt); ok && prev.Role != RoleComment {
			if b.Inline {
				p.copyTo(prev.Span.End)
				p.buf.WriteString("; " + s.Code)
			} else {
				p.copyTo(p.lineTail(prev.Span.End))
				p.buf.WriteString(p.nl + p.indentAt(prev.Span.Start) + s.Code)
			}
			return
		}
	}

	for _, next := range b.Stmts[i+1:] {
		if _, synthetic := next.(*InjectedStmt); synthetic {
			continue
		}
		start := next.Pos().Start
		p.copyTo(start)
		if b.Inline {
			p.buf.WriteString(s.Code + "; ")
		} else {
			p.buf.WriteString(s.Code + p.nl + p.indentAt(start))
		}
		return
	}
}

// lineTail returns the end of the line containing off when only blanks or a comment follow off,
// otherwise off itself.
func (p *printer) lineTail(off int) int {
	i := off
	for i < len(p.src) && (p.src[i] == ' ' || p.src[i] == '\t') {
		i++
	}
	if i < len(p.src) && p.src[i] != '#' && p.src[i] != '\r' && p.src[i] != '\n' {
		return off
	}
	end := bytes.IndexByte(p.src[i:], '\n')
	if end < 0 {
		return len(p.src)
	}
	end += i
	if end > 0 && p.src[end-1] == '\r' {
		end--
	}
	return end
}

// indentAt returns the leading whitespace of the line containing off.
func (p *printer) indentAt(off int) string {
	start := bytes.LastIndexByte(p.src[:off], '\n') + 1
	end := start
	for end < off && (p.src[end] == ' ' || p.src[end] == '\t' || p.src[end] == '\f') {
		end++
	}
	return string(p.src[start:end])
}
