// Package cmd provides the root command and CLI setup for pynt.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/PatchLens/go-pynt/embed"
)

// runner executes the external command, replaced in tests.
var runner embed.CommandRunner = embed.ExecRunner{}

// openStorage opens the journal store, replaced in tests.
var openStorage = embed.NewBadgerStorage

type rootOptions struct {
	config     *embed.Config
	configFile string
	command    string
}

// exitCodeError carries the external command's exit code out of Execute.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("command exited with %d", e.code)
}

// NewRootCmd builds the pynt command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{config: embed.DefaultConfig()}
	cmd := &cobra.Command{
		Use:   "pynt NAMESPACE [-c COMMAND | -- ARGV...]",
		Short: "Start an interactive session inside a Python callable",
		Long: `pynt injects a statement that starts an IPython kernel bound to the local
variables of a function or method, runs a command expected to call it, and
restores the module afterwards.

NAMESPACE is module.func or module.Class.method, the module is read from
<dir>/<module>.py. The command is given with -c as a single string split on
whitespace, or as an argv after --:

  pynt pkg.Worker.run -c "python -m pytest tests/test_worker.py"
  pynt pkg.Worker.run -- python -c "import pkg; pkg.Worker().run()"`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.loadConfig(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.parseArgs(args, cmd.ArgsLenAtDash()); err != nil {
				return err
			}
			return opts.run(cmd)
		},
	}

	c := opts.config
	persistent := cmd.PersistentFlags()
	persistent.StringVar(&opts.configFile, "config", "", "yaml config file (default "+embed.ConfigFileName+" when present)")
	persistent.StringVarP(&c.Dir, "dir", "d", c.Dir, "directory holding the module files, also the command working dir")
	persistent.StringVar(&c.Session, "session", c.Session, "statement to inject (default "+`__import__("IPython").embed_kernel(local_ns=locals())`+")")
	persistent.StringVar(&c.JournalDir, "journal", c.JournalDir, "journal directory for crash recovery, empty disables it")
	persistent.IntVar(&c.CacheMB, "cache-mb", c.CacheMB, "journal memory budget in MB")
	persistent.BoolVar(&c.StorageDebug, "storage-debug", c.StorageDebug, "log journal storage internals")
	persistent.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "debug logging")

	flags := cmd.Flags()
	flags.StringVarP(&c.Namespace, "namespace", "n", "", "dotted path of the callable, alternative to the positional argument")
	flags.StringVarP(&opts.command, "cmd", "c", "", "command to run, split on whitespace")
	flags.StringArrayVarP(&c.Env, "env", "e", nil, "extra KEY=VALUE environment entry for the command (can be repeated)")
	flags.DurationVar(&c.Timeout, "timeout", 0, "kill the command after this duration, zero waits indefinitely")
	flags.StringVar(&c.RuntimeDir, "runtime-dir", "", "directory for the .pynt marker (default Jupyter runtime dir)")
	flags.BoolVar(&c.NoMarker, "no-marker", false, "do not touch the .pynt marker")
	flags.BoolVar(&c.PropagateExit, "propagate-exit", false, "exit with the command's exit code")
	flags.BoolVar(&c.DryRun, "dry-run", false, "print the diff of the injection and exit")

	cmd.AddCommand(newShowCmd(opts), newListCmd(opts), newRestoreCmd(opts))
	return cmd
}

// configFields copies a config file value for the flag of the same name.
var configFields = map[string]func(dst, src *embed.Config){
	"dir":            func(dst, src *embed.Config) { dst.Dir = src.Dir },
	"session":        func(dst, src *embed.Config) { dst.Session = src.Session },
	"journal":        func(dst, src *embed.Config) { dst.JournalDir = src.JournalDir },
	"cache-mb":       func(dst, src *embed.Config) { dst.CacheMB = src.CacheMB },
	"storage-debug":  func(dst, src *embed.Config) { dst.StorageDebug = src.StorageDebug },
	"verbose":        func(dst, src *embed.Config) { dst.Verbose = src.Verbose },
	"env":            func(dst, src *embed.Config) { dst.Env = src.Env },
	"timeout":        func(dst, src *embed.Config) { dst.Timeout = src.Timeout },
	"runtime-dir":    func(dst, src *embed.Config) { dst.RuntimeDir = src.RuntimeDir },
	"no-marker":      func(dst, src *embed.Config) { dst.NoMarker = src.NoMarker },
	"propagate-exit": func(dst, src *embed.Config) { dst.PropagateExit = src.PropagateExit },
}

// loadConfig merges the config file under the flags; a flag set on the command line wins.
func (o *rootOptions) loadConfig(flags *pflag.FlagSet) error {
	path, required := o.configFile, true
	if path == "" {
		path, required = embed.ConfigFileName, false
	}
	fromFile := *o.config
	fromFile.Env = nil
	if err := fromFile.LoadConfigFile(path, required); err != nil {
		return err
	}
	for name, copyField := range configFields {
		if flags.Lookup(name) != nil && !flags.Changed(name) {
			copyField(o.config, &fromFile)
		}
	}
	if fromFile.Env != nil && flags.Changed("env") {
		o.config.Env = append(fromFile.Env, o.config.Env...)
	}

	logger, err := embed.NewConsoleLogger(o.config.Verbose)
	if err != nil {
		return err
	}
	embed.SetLogger(logger)
	return nil
}

// parseArgs takes the namespace from the first positional argument unless given with -n, and the
// command from -c or the argv after `--`.
func (o *rootOptions) parseArgs(args []string, dash int) error {
	positional, argv := args, []string(nil)
	if dash >= 0 {
		positional, argv = args[:dash], args[dash:]
	}
	if o.config.Namespace == "" && len(positional) > 0 {
		o.config.Namespace, positional = positional[0], positional[1:]
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected arguments %q, pass the command with -c or after --", positional)
	} else if o.config.Namespace == "" {
		return errors.New("missing NAMESPACE (module.func or module.Class.method)")
	}

	if o.command != "" && len(argv) > 0 {
		return errors.New("give the command either with -c or after --, not both")
	} else if o.command != "" {
		argv = embed.SplitCommand(o.command)
	}
	if len(argv) == 0 && !o.config.DryRun {
		return errors.New("missing command, pass it with -c or after --")
	}
	o.config.Command = argv
	return nil
}

func (o *rootOptions) run(cmd *cobra.Command) error {
	journal, closeJournal, err := o.openJournal()
	if err != nil {
		return err
	}
	defer closeJournal()

	engine := embed.NewEngine(o.config, journal)
	engine.Runner = runner
	engine.Stdout = cmd.OutOrStdout()
	engine.Stderr = cmd.ErrOrStderr()

	result, err := engine.Run(cmd.Context())
	if err != nil {
		return err
	} else if o.config.DryRun {
		_, err = fmt.Fprint(cmd.OutOrStdout(), result.Diff)
		return err
	}
	if o.config.PropagateExit && result.Command.ExitCode != 0 {
		return &exitCodeError{code: max(result.Command.ExitCode, 1)}
	}
	return nil
}

// openJournal returns a nil journal when journaling is disabled.
func (o *rootOptions) openJournal() (*embed.Journal, func(), error) {
	if err := o.config.Prepare(); err != nil {
		return nil, nil, err
	} else if o.config.JournalDir == "" {
		return nil, func() {}, nil
	}
	store, err := openStorage(o.config.JournalDir, o.config.CacheMB, o.config.StorageDebug)
	if err != nil {
		return nil, nil, err
	}
	return embed.NewJournal(store), func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close journal: %v\n", err)
		}
	}, nil
}

// Execute runs the command line and returns the process exit code. An interrupt cancels the run
// context, which stops the command and lets the module be restored.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+strings.TrimSpace(err.Error()))
		return 1
	}
	return 0
}
