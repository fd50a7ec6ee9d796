package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
)

const (
	outputTailBytes = 8 * 1024
	killWaitDelay   = 5 * time.Second
)

// CommandSpec describes the external command run against the instrumented file.
type CommandSpec struct {
	Dir  string
	Args []string
	// Env entries (KEY=VALUE) override the inherited environment.
	Env []string
	// Timeout of zero waits for the command indefinitely.
	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
}

// CommandResult is the outcome of a command that was started.
type CommandResult struct {
	// ExitCode is -1 when the process could not start or was killed.
	ExitCode   int
	Duration   time.Duration
	OutputTail string
}

// CommandRunner runs external commands.
type CommandRunner interface {
	// Run waits for the command to exit. A non-zero exit or launch failure returns an
	// *ExternalCommandError along with the result.
	Run(ctx context.Context, spec CommandSpec) (CommandResult, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// SplitCommand splits a command line on whitespace. Quoting is not interpreted; pass an argv after
// `--` for arguments containing spaces.
func SplitCommand(command string) []string {
	return strings.Fields(command)
}

func (ExecRunner) Run(ctx context.Context, spec CommandSpec) (CommandResult, error) {
	if len(spec.Args) == 0 {
		return CommandResult{ExitCode: -1}, &ExternalCommandError{ExitCode: -1, Err: errors.New("empty command")}
	}
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeSafeEnv(spec.Env)
	cmd.Stdin = os.Stdin // the session may prompt on the terminal
	cmd.WaitDelay = killWaitDelay
	tail := newRollingTail(outputTailBytes)
	cmd.Stdout = TeeWriter(spec.Stdout, tail)
	cmd.Stderr = TeeWriter(spec.Stderr, tail)

	start := time.Now()
	logger.Debugf("Running %q in %s", spec.Args, spec.Dir)
	err := cmd.Run()
	result := CommandResult{ExitCode: -1, Duration: time.Since(start), OutputTail: tail.String()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return result, nil
	} else if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return result, &ExternalCommandError{
		Args:       spec.Args,
		ExitCode:   result.ExitCode,
		OutputTail: limitStringLines(result.OutputTail, 20, false),
		Err:        err,
	}
}

// mergeSafeEnv returns the process environment with env entries overriding inherited keys.
func mergeSafeEnv(env []string) []string {
	envKeys := make([]string, len(env)) // check for os values we want to override
	for i, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		envKeys[i] = parts[0]
	}
	safeEnv := bulk.SliceFilterInPlace(func(envVar string) bool {
		if envVar == "" || envVar == "=" {
			return false // skip malformed
		} else if parts := strings.SplitN(envVar, "=", 2); slices.Contains(envKeys, parts[0]) {
			return false // will be overridden by custom value
		}
		return true
	}, os.Environ())
	return append(safeEnv, env...)
}
