package pysrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDottedPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    DottedPath
		wantErr bool
	}{
		{input: "mod.func", want: DottedPath{Module: "mod", Member: "func"}},
		{input: "mod.Class.method", want: DottedPath{Module: "mod", Class: "Class", Member: "method"}},
		{input: "_private.__init__", want: DottedPath{Module: "_private", Member: "__init__"}},
		{input: "modulé.naïve", want: DottedPath{Module: "modulé", Member: "naïve"}},
		{input: "mod", wantErr: true},
		{input: "a.b.c.d", wantErr: true},
		{input: "mod..func", wantErr: true},
		{input: "1mod.func", wantErr: true},
		{input: "mod.fu-nc", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDottedPath(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestDottedPathModuleFile(t *testing.T) {
	t.Parallel()

	path, err := ParseDottedPath("pkg.Worker.run")
	require.NoError(t, err)
	assert.Equal(t, "pkg.py", path.ModuleFile())
	assert.True(t, path.IsMethod())
}

const resolveSource = `import os

value = 1

def first():
    return 1

class Worker:
    name = "w"

    def run(self):
        do_work()

    def stop(self):
        pass

def first():
    return 2

class Worker:
    def other(self):
        pass

def Worker():
    pass

if os.name:
    def nested():
        pass
`

func TestResolve(t *testing.T) {
	t.Parallel()

	mod := mustParse(t, resolveSource)

	t.Run("function", func(t *testing.T) {
		target, err := Resolve(mod, DottedPath{Module: "m", Member: "first"})
		require.NoError(t, err)
		assert.Same(t, mod.Body[2], Stmt(target.Func))
		assert.Nil(t, target.Class)
	})

	t.Run("first_definition_wins", func(t *testing.T) {
		target, err := Resolve(mod, DottedPath{Module: "m", Member: "first"})
		require.NoError(t, err)
		assert.Equal(t, 5, target.Func.Span.Line)
	})

	t.Run("method", func(t *testing.T) {
		target, err := Resolve(mod, DottedPath{Module: "m", Class: "Worker", Member: "run"})
		require.NoError(t, err)
		assert.Equal(t, "run", target.Func.Name)
		assert.Equal(t, []string{"Worker"}, target.Func.Scope)
		assert.Same(t, mod.Body[3], Stmt(target.Class))
	})

	t.Run("function_named_like_class", func(t *testing.T) {
		target, err := Resolve(mod, DottedPath{Module: "m", Member: "Worker"})
		require.NoError(t, err)
		assert.Same(t, mod.Body[6], Stmt(target.Func))
	})

	notFound := []struct {
		name    string
		path    DottedPath
		segment string
		kind    string
	}{
		{"missing_function", DottedPath{Module: "m", Member: "missing"}, "missing", "function"},
		{"assignment_is_not_function", DottedPath{Module: "m", Member: "value"}, "value", "function"},
		{"nested_in_if", DottedPath{Module: "m", Member: "nested"}, "nested", "function"},
		{"missing_class", DottedPath{Module: "m", Class: "Missing", Member: "run"}, "Missing", "class"},
		{"missing_method", DottedPath{Module: "m", Class: "Worker", Member: "missing"}, "missing", "method"},
		{"method_in_later_redefinition", DottedPath{Module: "m", Class: "Worker", Member: "other"}, "other", "method"},
		{"class_attribute_is_not_method", DottedPath{Module: "m", Class: "Worker", Member: "name"}, "name", "method"},
		{"function_is_not_class", DottedPath{Module: "m", Class: "first", Member: "run"}, "first", "class"},
	}
	for _, tt := range notFound {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(mod, tt.path)
			require.Error(t, err)

			var pathErr *PathNotFoundError
			require.ErrorAs(t, err, &pathErr)
			assert.Equal(t, tt.segment, pathErr.Segment)
			assert.Equal(t, tt.kind, pathErr.Kind)
			assert.Contains(t, pathErr.Error(), tt.segment)
		})
	}
}
