package pysrc

import (
	"context"
	"fmt"
	"slices"
)

// Stage is the last pipeline step a transformation completed. Stages only move forward.
type Stage int

const (
	StageNone Stage = iota
	StageParsed
	StageResolved
	StageInjected
	StageSerialized
)

func (s Stage) String() string {
	switch s {
	case StageParsed:
		return "PARSED"
	case StageResolved:
		return "RESOLVED"
	case StageInjected:
		return "INJECTED"
	case StageSerialized:
		return "SERIALIZED"
	default:
		return "NONE"
	}
}

// Transformation is the result of a completed injection pipeline.
type Transformation struct {
	Path      DottedPath
	Stage     Stage
	Target    *Target
	Injection Injection
	// Source is the rendered source, equal to the input when the statement was already present.
	Source []byte
}

// Transform runs parse, resolve, inject and serialize over src. Any failure aborts the pipeline
// and no source is returned.
func Transform(ctx context.Context, src []byte, path DottedPath, injector *Injector) (*Transformation, error) {
	t := &Transformation{Path: path}

	mod, err := Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	t.Stage = StageParsed

	if t.Target, err = Resolve(mod, path); err != nil {
		return nil, err
	}
	t.Stage = StageResolved

	if t.Injection, err = injector.Inject(mod, t.Target); err != nil {
		return nil, err
	}
	t.Stage = StageInjected

	if t.Injection.AlreadyInjected {
		t.Source = slices.Clone(src)
	} else {
		out := Render(mod)
		if err := verifyRender(ctx, mod, out, t, injector.Code()); err != nil {
			return nil, err
		}
		t.Source = out
	}
	t.Stage = StageSerialized
	return t, nil
}

// verifyRender re-parses the output and checks that the target carries the statement at the
// injection index while every other declaration still renders to its original text.
func verifyRender(ctx context.Context, before *Module, out []byte, t *Transformation, code string) error {
	after, err := Parse(ctx, out)
	if err != nil {
		return &RenderError{Reason: "output does not parse", Err: err}
	}
	target, err := Resolve(after, t.Path)
	if err != nil {
		return &RenderError{Reason: "target no longer resolves", Err: err}
	}
	body := target.Func.Body
	if body == nil || t.Injection.Index >= len(body.Stmts) ||
		!sameCode(after.Text(body.Stmts[t.Injection.Index]), code) {
		return &RenderError{Reason: "injected statement missing from target body"}
	} else if len(body.Stmts) != len(t.Target.Func.Body.Stmts) {
		return &RenderError{Reason: "target body statement count changed"}
	}

	var owner Stmt = t.Target.Func
	if t.Target.Class != nil {
		owner = t.Target.Class
		if err := compareUntouched(before, after, t.Target.Class.Body.Stmts, target.Class.Body.Stmts, t.Target.Func); err != nil {
			return err
		}
	}
	return compareUntouched(before, after, before.Body, after.Body, owner)
}

func compareUntouched(before, after *Module, orig, rendered []Stmt, skip Stmt) error {
	if len(orig) != len(rendered) {
		return &RenderError{Reason: fmt.Sprintf("statement count changed from %d to %d", len(orig), len(rendered))}
	}
	for i, s := range orig {
		if s == skip {
			continue
		} else if before.Text(s) != after.Text(rendered[i]) {
			return &RenderError{Reason: fmt.Sprintf("statement at line %d changed", s.Pos().Line)}
		}
	}
	return nil
}
