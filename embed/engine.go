package embed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/PatchLens/go-pynt/pysrc"
)

// Engine instruments a module, runs the command against it, and restores it.
type Engine struct {
	Config *Config
	Runner CommandRunner
	// Journal is optional, without it the sibling backup file is the only durable copy.
	Journal *Journal
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewEngine returns an engine running commands as child processes attached to the terminal.
func NewEngine(config *Config, journal *Journal) *Engine {
	return &Engine{
		Config:  config,
		Runner:  ExecRunner{},
		Journal: journal,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// RunResult describes a completed run.
type RunResult struct {
	RunID          string
	File           string
	Transformation *pysrc.Transformation
	// Diff is only set for dry runs.
	Diff       string
	MarkerPath string
	Command    CommandResult
	// CommandErr holds the non-zero exit of the command, it does not fail the run.
	CommandErr *ExternalCommandError
}

// prepared holds a transformed module that has not touched disk yet.
type prepared struct {
	path pysrc.DottedPath
	file string
	src  []byte
	tr   *pysrc.Transformation
}

func (e *Engine) prepare(ctx context.Context) (*prepared, error) {
	if err := e.Config.Prepare(); err != nil {
		return nil, err
	}
	path, err := pysrc.ParseDottedPath(e.Config.Namespace)
	if err != nil {
		return nil, err
	}
	file := filepath.Join(e.Config.AbsDir, path.ModuleFile())
	src, err := readModule(path.Module, file)
	if err != nil {
		return nil, err
	}
	injector, err := pysrc.NewInjector(ctx, e.Config.Session)
	if err != nil {
		return nil, err
	}
	tr, err := pysrc.Transform(ctx, src, path, injector)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path.ModuleFile(), err)
	}
	return &prepared{path: path, file: file, src: src, tr: tr}, nil
}

func readModule(module, file string) ([]byte, error) {
	src, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &FileNotFoundError{Module: module, Path: file, Err: err}
	}
	return src, err
}

// Show returns the unified diff the injection would produce without touching disk.
func (e *Engine) Show(ctx context.Context) (string, error) {
	p, err := e.prepare(ctx)
	if err != nil {
		return "", err
	}
	return UnifiedDiff(p.path.ModuleFile(), p.src, p.tr.Source)
}

// Run instruments the module, runs the command and restores the module. Every failure before the
// write leaves the file untouched; once the file is swapped restoration is attempted on every exit
// path, including a panic or cancellation of ctx. A failed restoration is returned as a
// *RestoreFailure joined with any other error.
func (e *Engine) Run(ctx context.Context) (result *RunResult, err error) {
	p, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	result = &RunResult{RunID: NewRunID(), File: p.file, Transformation: p.tr}
	if e.Config.DryRun {
		result.Diff, err = UnifiedDiff(p.path.ModuleFile(), p.src, p.tr.Source)
		return result, err
	} else if len(e.Config.Command) == 0 {
		return nil, errors.New("no command given")
	}
	if p.tr.Injection.AlreadyInjected {
		logger.Warnf("%s already starts a session, running the file as is", p.path)
	}

	swap, err := AcquireSwap(p.file, p.path.String(), result.RunID, e.Journal)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := swap.Restore(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	if !bytes.Equal(p.src, swap.Original()) {
		return nil, fmt.Errorf("%s changed while being instrumented", p.file)
	} else if err := swap.Write(p.tr.Source); err != nil {
		return nil, fmt.Errorf("write instrumented module: %w", err)
	}
	logger.Infof("Injected session into %s (line %d of %s)",
		p.path, p.tr.Target.Func.Span.Line, filepath.Base(p.file))

	if !e.Config.NoMarker {
		if result.MarkerPath, err = e.touchMarker(); err != nil {
			logger.Warnf("Unable to touch session marker: %v", err)
			err = nil
		}
	}

	spec := CommandSpec{
		Dir:     e.Config.AbsDir,
		Args:    e.Config.Command,
		Env:     e.Config.Env,
		Timeout: e.Config.Timeout,
		Stdout:  e.Stdout,
		Stderr:  e.Stderr,
	}
	var cmdErr error
	result.Command, cmdErr = e.Runner.Run(ctx, spec)
	if e.Stdout != nil {
		_, _ = fmt.Fprintf(e.Stdout, "p.returncode = %d\n", result.Command.ExitCode)
	}
	if cmdErr != nil {
		var extErr *ExternalCommandError
		if !errors.As(cmdErr, &extErr) {
			return result, cmdErr
		}
		result.CommandErr = extErr
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr // interrupted or timed out from above
		}
		logger.Warnf("Command exited with %d: %v", extErr.ExitCode, extErr.Err)
	}
	return result, nil
}

func (e *Engine) touchMarker() (string, error) {
	dir := e.Config.RuntimeDir
	if dir == "" {
		var err error
		if dir, err = JupyterRuntimeDir(); err != nil {
			return "", err
		}
	}
	return TouchMarker(dir)
}

// Declaration is a callable that can be targeted by a dotted path.
type Declaration struct {
	Path     string
	Kind     string // "function" or "method"
	Line     int
	Async    bool
	Injected bool
}

// List returns the targetable declarations of each module, in module then source order. A module
// is a name resolved in the configured dir or a path to a .py file. Only declarations a dotted
// path resolves to are listed, so shadowed duplicates are left out.
func (e *Engine) List(ctx context.Context, modules []string) ([]Declaration, error) {
	if err := e.Config.Prepare(); err != nil {
		return nil, err
	}
	injector, err := pysrc.NewInjector(ctx, e.Config.Session)
	if err != nil {
		return nil, err
	}

	results := make([][]Declaration, len(modules))
	group := ErrGroupLimitCPU()
	for i, module := range modules {
		group.Go(func() error {
			name, file := e.moduleFile(module)
			src, err := readModule(name, file)
			if err != nil {
				return err
			}
			mod, err := pysrc.Parse(ctx, src)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			results[i] = declarations(name, mod, injector)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []Declaration
	for _, decls := range results {
		all = append(all, decls...)
	}
	return all, nil
}

func (e *Engine) moduleFile(module string) (string, string) {
	if strings.HasSuffix(module, ".py") {
		file := module
		if !filepath.IsAbs(file) {
			file = filepath.Join(e.Config.AbsDir, file)
		}
		return strings.TrimSuffix(filepath.Base(module), ".py"), file
	}
	return module, filepath.Join(e.Config.AbsDir, module+".py")
}

func declarations(module string, mod *pysrc.Module, injector *pysrc.Injector) []Declaration {
	var decls []Declaration
	pysrc.Inspect(mod, func(s pysrc.Stmt, scope []string) bool {
		fn, ok := s.(*pysrc.FuncDef)
		if !ok {
			return len(scope) == 0 // only top-level class bodies hold targetable methods
		}
		path := pysrc.DottedPath{Module: module, Member: fn.Name}
		kind := "function"
		if len(fn.Scope) == 1 {
			path.Class = fn.Scope[0]
			kind = "method"
		}
		if target, err := pysrc.Resolve(mod, path); err != nil || target.Func != fn {
			return false // shadowed by an earlier declaration
		}
		decls = append(decls, Declaration{
			Path:     path.String(),
			Kind:     kind,
			Line:     fn.Span.Line,
			Async:    fn.Async,
			Injected: injector.Present(mod, fn),
		})
		return false
	})
	return decls
}
