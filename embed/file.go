package embed

import (
	"errors"
	"io/fs"
	"os"
)

// FileExists reports whether the named file exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

// writeFileSync writes data in place, keeping the inode (and so links and ownership) of an
// existing file, and syncs before returning.
func writeFileSync(path string, data []byte, perm fs.FileMode) (err error) {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = out.Write(data); err != nil {
		return err
	}
	return out.Sync()
}

// replaceFile moves source over destination (requires same filesystem).
func replaceFile(source, destination string) error {
	if _, err := os.Stat(destination); err == nil {
		if err = os.Remove(destination); err != nil {
			return err
		}
	}
	return os.Rename(source, destination)
}

// removeIfExists deletes path, a missing file is not an error.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
