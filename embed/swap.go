package embed

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// BackupSuffix is appended to the module file name for its sibling backup copy.
const BackupSuffix = ".pynt.bkp"

// FileSwap holds the original content of a module file while an instrumented version is on disk.
// The original is kept in memory, in a sibling backup file, and in the journal until Restore
// succeeds.
type FileSwap struct {
	Path       string
	BackupPath string

	mu       sync.Mutex
	mode     fs.FileMode
	original []byte
	journal  *Journal
	written  bool
	restored bool
}

// AcquireSwap snapshots the file at path. It refuses to start when a previous run left a backup
// file or journal record for the same file.
func AcquireSwap(path, namespace, runID string, journal *Journal) (*FileSwap, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	s := &FileSwap{Path: path, BackupPath: path + BackupSuffix, journal: journal}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	} else if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	} else if FileExists(s.BackupPath) {
		return nil, fmt.Errorf("%s: %w", s.BackupPath, ErrPendingBackup)
	}
	if journal != nil {
		if rec, ok, err := journal.Pending(path); err != nil {
			return nil, err
		} else if ok {
			return nil, fmt.Errorf("journal entry from run %s for %s: %w", rec.RunID, path, ErrPendingBackup)
		}
	}
	s.mode = info.Mode().Perm()
	if s.original, err = os.ReadFile(path); err != nil {
		return nil, err
	}

	if err := writeFileSync(s.BackupPath, s.original, s.mode); err != nil {
		_ = removeIfExists(s.BackupPath)
		return nil, fmt.Errorf("write backup: %w", err)
	}
	if journal != nil {
		if _, err := journal.Record(runID, namespace, path, s.mode, s.original); err != nil {
			_ = removeIfExists(s.BackupPath)
			return nil, err
		}
	}
	logger.Debugf("Backed up %s to %s", path, s.BackupPath)
	return s, nil
}

// Original returns the bytes captured before any write.
func (s *FileSwap) Original() []byte {
	return s.original
}

// Write replaces the file content in place, keeping its mode and inode.
func (s *FileSwap) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.restored {
		return errors.New("file swap already restored")
	}
	s.written = true // a partial write still needs restoring
	return writeFileSync(s.Path, data, s.mode)
}

// Restore puts the original content back and removes the backup copies. It is safe to call more
// than once; only the first successful call does work. A *RestoreFailure is returned when the
// original could not be put back, the backup file and journal record are then kept.
func (s *FileSwap) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.restored {
		return nil
	}
	if s.written {
		if err := restoreOriginal(s.Path, s.BackupPath, s.original, s.mode); err != nil {
			logger.Errorf("RESTORE FAILED for %s, original content kept in %s", s.Path, s.BackupPath)
			return &RestoreFailure{Path: s.Path, BackupPath: s.BackupPath, Err: err}
		}
		logger.Debugf("Restored %s", s.Path)
	}
	s.restored = true

	var errs []error
	if err := removeIfExists(s.BackupPath); err != nil {
		errs = append(errs, fmt.Errorf("remove backup: %w", err))
	}
	if s.journal != nil {
		if err := s.journal.Remove(s.Path); err != nil {
			errs = append(errs, fmt.Errorf("remove journal record: %w", err))
		}
	}
	return errors.Join(errs...)
}

// restoreOriginal writes original over path, falling back to moving the backup file into place,
// and then verifies the content on disk.
func restoreOriginal(path, backupPath string, original []byte, mode fs.FileMode) error {
	if err := writeFileSync(path, original, mode); err != nil {
		logger.Warnf("Rewrite of %s failed, moving backup into place: %v", path, err)
		if !FileExists(backupPath) {
			return err
		} else if mvErr := replaceFile(backupPath, path); mvErr != nil {
			return errors.Join(err, mvErr)
		}
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		return err
	} else if !bytes.Equal(onDisk, original) {
		return errRestoreMismatch
	}
	return nil
}

// RestoreBackupFile restores path from its sibling backup file, for runs made without a journal.
// It reports whether a backup was found.
func RestoreBackupFile(path string) (bool, error) {
	backupPath := path + BackupSuffix
	original, err := readFileIfExists(backupPath)
	if err != nil {
		return false, err
	} else if original == nil {
		return false, nil
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := restoreOriginal(path, backupPath, original, mode); err != nil {
		return true, &RestoreFailure{Path: path, BackupPath: backupPath, Err: err}
	}
	return true, removeIfExists(backupPath)
}

// readFileIfExists returns nil content without error for a missing file.
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	} else if data == nil {
		data = []byte{}
	}
	return data, nil
}
