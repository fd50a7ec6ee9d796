package embed

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJupyterRuntimeDir(t *testing.T) {
	// modifies the environment, DO NOT RUN IN PARALLEL

	t.Run("runtime_env", func(t *testing.T) {
		t.Setenv("JUPYTER_RUNTIME_DIR", "/tmp/rt")
		t.Setenv("JUPYTER_DATA_DIR", "/tmp/data")

		dir, err := JupyterRuntimeDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/rt", dir)
	})

	t.Run("data_env", func(t *testing.T) {
		t.Setenv("JUPYTER_RUNTIME_DIR", "")
		t.Setenv("JUPYTER_DATA_DIR", "/tmp/data")

		dir, err := JupyterRuntimeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/tmp/data", "runtime"), dir)
	})

	t.Run("platform_default", func(t *testing.T) {
		if runtime.GOOS != "linux" {
			t.Skip("xdg layout is linux only")
		}
		t.Setenv("JUPYTER_RUNTIME_DIR", "")
		t.Setenv("JUPYTER_DATA_DIR", "")
		t.Setenv("XDG_DATA_HOME", "/tmp/xdg")

		dir, err := JupyterRuntimeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/tmp/xdg", "jupyter", "runtime"), dir)
	})
}

func TestTouchMarker(t *testing.T) {
	t.Parallel()

	t.Run("creates_empty", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "runtime")
		path, err := TouchMarker(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, MarkerName), path)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	})

	t.Run("keeps_existing_content", func(t *testing.T) {
		dir := t.TempDir()
		existing := filepath.Join(dir, MarkerName)
		require.NoError(t, os.WriteFile(existing, []byte("front end state"), 0o644))

		for range 3 {
			_, err := TouchMarker(dir)
			require.NoError(t, err)
		}
		content, err := os.ReadFile(existing)
		require.NoError(t, err)
		assert.Equal(t, "front end state", string(content))
	})
}
