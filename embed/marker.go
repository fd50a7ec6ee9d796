package embed

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// MarkerName is the companion file a Jupyter front end watches for to attach to the session.
const MarkerName = ".pynt"

// JupyterRuntimeDir returns the directory Jupyter keeps kernel connection files in, following
// the lookup order of jupyter_core: $JUPYTER_RUNTIME_DIR, then <data dir>/runtime.
func JupyterRuntimeDir() (string, error) {
	if dir := os.Getenv("JUPYTER_RUNTIME_DIR"); dir != "" {
		return dir, nil
	}
	data, err := jupyterDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "runtime"), nil
}

func jupyterDataDir() (string, error) {
	if dir := os.Getenv("JUPYTER_DATA_DIR"); dir != "" {
		return dir, nil
	}
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "jupyter"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".jupyter", "data"), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Jupyter"), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "jupyter"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("cannot locate the jupyter data dir, set JUPYTER_RUNTIME_DIR")
		}
		return filepath.Join(home, ".local", "share", "jupyter"), nil
	}
}

// TouchMarker creates the zero-byte marker in dir if it is absent. An existing marker is
// neither truncated nor written to.
func TouchMarker(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, MarkerName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	return path, f.Close()
}
