package embed

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatchLens/go-pynt/pysrc"
)

const (
	testSession = "start_session(locals())"
	workerSrc   = "class Worker:\n" +
		"    def setup(self):\n" +
		"        self.ready = True\n" +
		"\n" +
		"    def run(self):\n" +
		"        do_work()\n"
	instrumentedRun = "    def run(self):\n        start_session(locals())\n        do_work()\n"
)

type runnerFunc func(ctx context.Context, spec CommandSpec) (CommandResult, error)

func (f runnerFunc) Run(ctx context.Context, spec CommandSpec) (CommandResult, error) {
	return f(ctx, spec)
}

type engineFixture struct {
	engine     *Engine
	file       string
	runtimeDir string
	stdout     *bytes.Buffer
}

func newEngineFixture(t *testing.T, namespace string, runner runnerFunc) *engineFixture {
	t.Helper()

	dir := t.TempDir()
	file := writeModule(t, dir, "pkg.py", workerSrc)
	runtimeDir := filepath.Join(t.TempDir(), "runtime")
	stdout := &bytes.Buffer{}
	return &engineFixture{
		engine: &Engine{
			Config: &Config{
				Namespace:  namespace,
				Command:    []string{"python", "-m", "pytest"},
				Dir:        dir,
				Session:    testSession,
				RuntimeDir: runtimeDir,
			},
			Runner:  runner,
			Journal: NewJournal(NewMemStorage()),
			Stdout:  stdout,
			Stderr:  &bytes.Buffer{},
		},
		file:       file,
		runtimeDir: runtimeDir,
		stdout:     stdout,
	}
}

func (f *engineFixture) requireRestored(t *testing.T) {
	t.Helper()

	content, err := os.ReadFile(f.file)
	require.NoError(t, err)
	assert.Equal(t, workerSrc, string(content))
	assert.NoFileExists(t, f.file+BackupSuffix)
	records, err := f.engine.Journal.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// instrumentedCheck returns a runner asserting the module is instrumented while the command runs.
func instrumentedCheck(t *testing.T, file string, result CommandResult, err error) runnerFunc {
	return func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
		content, rerr := os.ReadFile(file)
		require.NoError(t, rerr)
		assert.Contains(t, string(content), instrumentedRun)
		assert.FileExists(t, file+BackupSuffix)
		return result, err
	}
}

func TestEngineRun(t *testing.T) {
	t.Parallel()

	var called bool
	var fixture *engineFixture
	fixture = newEngineFixture(t, "pkg.Worker.run", func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
		called = true
		assert.Equal(t, []string{"python", "-m", "pytest"}, spec.Args)
		assert.Equal(t, fixture.engine.Config.AbsDir, spec.Dir)
		assert.FileExists(t, filepath.Join(fixture.runtimeDir, MarkerName))
		return instrumentedCheck(t, fixture.file, CommandResult{}, nil)(ctx, spec)
	})

	result, err := fixture.engine.Run(context.Background())
	require.NoError(t, err)
	require.True(t, called)
	assert.Equal(t, pysrc.StageSerialized, result.Transformation.Stage)
	assert.Equal(t, filepath.Join(fixture.runtimeDir, MarkerName), result.MarkerPath)
	assert.Nil(t, result.CommandErr)
	assert.Contains(t, fixture.stdout.String(), "p.returncode = 0\n")
	fixture.requireRestored(t)

	info, err := os.Stat(result.MarkerPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestEngineRunRestores(t *testing.T) {
	t.Parallel()

	t.Run("failing_command", func(t *testing.T) {
		var fixture *engineFixture
		fixture = newEngineFixture(t, "pkg.Worker.run", func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
			return instrumentedCheck(t, fixture.file, CommandResult{ExitCode: 3},
				&ExternalCommandError{Args: spec.Args, ExitCode: 3, Err: errors.New("exit status 3")})(ctx, spec)
		})

		result, err := fixture.engine.Run(context.Background())
		require.NoError(t, err)
		require.NotNil(t, result.CommandErr)
		assert.Equal(t, 3, result.CommandErr.ExitCode)
		assert.Contains(t, fixture.stdout.String(), "p.returncode = 3\n")
		fixture.requireRestored(t)
	})

	t.Run("runner_error", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.run", func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
			return CommandResult{ExitCode: -1}, errors.New("runner broke")
		})

		_, err := fixture.engine.Run(context.Background())
		require.ErrorContains(t, err, "runner broke")
		fixture.requireRestored(t)
	})

	t.Run("panic", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.run", func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
			panic("runner panic")
		})

		assert.PanicsWithValue(t, "runner panic", func() {
			_, _ = fixture.engine.Run(context.Background())
		})
		fixture.requireRestored(t)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fixture := newEngineFixture(t, "pkg.Worker.run", func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
			cancel() // interrupt while the command runs
			return CommandResult{ExitCode: -1}, &ExternalCommandError{ExitCode: -1, Err: ctx.Err()}
		})

		_, err := fixture.engine.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
		fixture.requireRestored(t)
	})
}

func TestEngineRunNoWriteOnError(t *testing.T) {
	t.Parallel()

	neverRun := func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
		t.Error("command must not run")
		return CommandResult{}, nil
	}

	t.Run("path_not_found", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.missing", neverRun)
		_, err := fixture.engine.Run(context.Background())
		var pathErr *pysrc.PathNotFoundError
		require.ErrorAs(t, err, &pathErr)
		assert.Equal(t, "missing", pathErr.Segment)
		fixture.requireRestored(t)
	})

	t.Run("invalid_path", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg", neverRun)
		_, err := fixture.engine.Run(context.Background())
		require.ErrorIs(t, err, pysrc.ErrInvalidPath)
	})

	t.Run("missing_module", func(t *testing.T) {
		fixture := newEngineFixture(t, "other.f", neverRun)
		_, err := fixture.engine.Run(context.Background())
		var notFound *FileNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "other", notFound.Module)
	})

	t.Run("syntax_error", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.f", neverRun)
		require.NoError(t, os.WriteFile(fixture.file, []byte("def f(:\n"), 0o644))
		_, err := fixture.engine.Run(context.Background())
		var parseErr *pysrc.ParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("pending_backup", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.run", neverRun)
		require.NoError(t, os.WriteFile(fixture.file+BackupSuffix, []byte("older"), 0o644))
		_, err := fixture.engine.Run(context.Background())
		require.ErrorIs(t, err, ErrPendingBackup)

		content, err := os.ReadFile(fixture.file)
		require.NoError(t, err)
		assert.Equal(t, workerSrc, string(content))
	})

	t.Run("no_command", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.run", neverRun)
		fixture.engine.Config.Command = nil
		_, err := fixture.engine.Run(context.Background())
		require.Error(t, err)
		fixture.requireRestored(t)
	})
}

func TestEngineRunOptions(t *testing.T) {
	t.Parallel()

	t.Run("dry_run", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.run", func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
			t.Error("command must not run")
			return CommandResult{}, nil
		})
		fixture.engine.Config.DryRun = true

		result, err := fixture.engine.Run(context.Background())
		require.NoError(t, err)
		assert.Contains(t, result.Diff, "+        "+testSession)
		assert.Contains(t, result.Diff, "--- pkg.py")
		fixture.requireRestored(t)
		assert.NoDirExists(t, fixture.runtimeDir)
	})

	t.Run("no_marker", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.run", func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
			return CommandResult{}, nil
		})
		fixture.engine.Config.NoMarker = true

		result, err := fixture.engine.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, result.MarkerPath)
		assert.NoDirExists(t, fixture.runtimeDir)
	})

	t.Run("already_injected", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.setup", nil)
		instrumented := strings.Replace(workerSrc, "        self.ready", "        "+testSession+"\n        self.ready", 1)
		require.NoError(t, os.WriteFile(fixture.file, []byte(instrumented), 0o644))
		fixture.engine.Runner = runnerFunc(func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
			content, err := os.ReadFile(fixture.file)
			require.NoError(t, err)
			assert.Equal(t, instrumented, string(content))
			return CommandResult{}, nil
		})

		result, err := fixture.engine.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, result.Transformation.Injection.AlreadyInjected)

		content, err := os.ReadFile(fixture.file)
		require.NoError(t, err)
		assert.Equal(t, instrumented, string(content))
	})

	t.Run("env_and_timeout", func(t *testing.T) {
		fixture := newEngineFixture(t, "pkg.Worker.run", func(ctx context.Context, spec CommandSpec) (CommandResult, error) {
			assert.Equal(t, []string{"A=1"}, spec.Env)
			assert.Equal(t, testTimeout, spec.Timeout)
			return CommandResult{}, nil
		})
		fixture.engine.Config.Env = []string{"A=1"}
		fixture.engine.Config.Timeout = testTimeout

		_, err := fixture.engine.Run(context.Background())
		require.NoError(t, err)
	})
}

const testTimeout = 42 * time.Second

func TestEngineShow(t *testing.T) {
	t.Parallel()

	fixture := newEngineFixture(t, "pkg.Worker.run", nil)
	diff, err := fixture.engine.Show(context.Background())
	require.NoError(t, err)

	var added []string
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			added = append(added, line)
		}
	}
	assert.Equal(t, []string{"+        " + testSession}, added)
	fixture.requireRestored(t)
}

func TestEngineList(t *testing.T) {
	t.Parallel()

	fixture := newEngineFixture(t, "pkg.Worker.run", nil)
	writeModule(t, fixture.engine.Config.Dir, "other.py", `import os


def helper():
    `+testSession+`
    return 1


async def fetch(): ...


def helper():
    return 2


class Outer:
    class Inner:
        def deep(self):
            pass

    def method(self):
        pass


if os.name:
    def hidden():
        pass
`)

	decls, err := fixture.engine.List(context.Background(), []string{"pkg", "other.py"})
	require.NoError(t, err)
	assert.Equal(t, []Declaration{
		{Path: "pkg.Worker.setup", Kind: "method", Line: 2},
		{Path: "pkg.Worker.run", Kind: "method", Line: 5},
		{Path: "other.helper", Kind: "function", Line: 4, Injected: true},
		{Path: "other.fetch", Kind: "function", Line: 9, Async: true},
		{Path: "other.Outer.method", Kind: "method", Line: 21},
	}, decls)

	_, err = fixture.engine.List(context.Background(), []string{"missing"})
	var notFound *FileNotFoundError
	require.ErrorAs(t, err, &notFound)
}
