package embed

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPendingBackup indicates a previous run left a backup behind for the same file.
var ErrPendingBackup = errors.New("pending backup exists, run `pynt restore` first")

var errRestoreMismatch = errors.New("content differs from the original after write")

// FileNotFoundError reports a missing module file.
type FileNotFoundError struct {
	Module string
	Path   string
	Err    error
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("module %q: file %s not found", e.Module, e.Path)
}

func (e *FileNotFoundError) Unwrap() error {
	return e.Err
}

// ExternalCommandError reports a command that could not start or exited non-zero. It is
// informational, restoration proceeds regardless.
type ExternalCommandError struct {
	Args []string
	// ExitCode is -1 when the process never started or was killed.
	ExitCode   int
	OutputTail string
	Err        error
}

func (e *ExternalCommandError) Error() string {
	return fmt.Sprintf("command %q failed (exit %d): %v", strings.Join(e.Args, " "), e.ExitCode, e.Err)
}

func (e *ExternalCommandError) Unwrap() error {
	return e.Err
}

// RestoreFailure reports that the original file could not be put back. The instrumented file is
// still on disk and the original bytes remain in BackupPath and the journal.
type RestoreFailure struct {
	Path       string
	BackupPath string
	Err        error
}

func (e *RestoreFailure) Error() string {
	return fmt.Sprintf("RESTORE FAILED for %s, original content kept in %s: %v", e.Path, e.BackupPath, e.Err)
}

func (e *RestoreFailure) Unwrap() error {
	return e.Err
}
