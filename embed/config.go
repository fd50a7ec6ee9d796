package embed

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is read from the working directory when no config file is named explicitly.
const ConfigFileName = ".pynt.yaml"

// Config holds the settings of one pynt invocation.
type Config struct {
	// Namespace is the dotted path of the callable, `module.func` or `module.Class.method`.
	Namespace string `yaml:"-"`
	// Command is the argv of the external command that is expected to invoke the callable.
	Command []string `yaml:"-"`
	// Dir holds the module files and is the working dir of the command.
	Dir string `yaml:"dir"`
	// Session is the statement injected, empty selects the IPython kernel default.
	Session       string        `yaml:"session"`
	Timeout       time.Duration `yaml:"timeout"`
	Env           []string      `yaml:"env"`
	RuntimeDir    string        `yaml:"runtime_dir"`
	NoMarker      bool          `yaml:"no_marker"`
	JournalDir    string        `yaml:"journal"` // empty disables the persistent journal
	CacheMB       int           `yaml:"cache_mb"`
	StorageDebug  bool          `yaml:"storage_debug"`
	PropagateExit bool          `yaml:"propagate_exit"`
	Verbose       bool          `yaml:"verbose"`
	DryRun        bool          `yaml:"-"`
	// Computed fields
	AbsDir string `yaml:"-"`
	// Internal state tracking
	prepared bool
}

// DefaultConfig returns the settings used when neither a config file nor flags override them.
func DefaultConfig() *Config {
	return &Config{
		Dir:        ".",
		JournalDir: DefaultJournalDir(),
		CacheMB:    16,
	}
}

// DefaultJournalDir is the per-user location of the run journal.
func DefaultJournalDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pynt", "journal")
	}
	return filepath.Join(os.TempDir(), "pynt-journal")
}

// LoadConfigFile merges the yaml file at path into c. A missing file is not an error unless
// required is set.
func (c *Config) LoadConfigFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	} else if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	logger.Debugf("Loaded config %s", path)
	return nil
}

// Prepare validates the configuration and fills computed fields. It is idempotent.
func (c *Config) Prepare() error {
	if c.prepared {
		return nil
	}
	if c.Dir == "" {
		c.Dir = "."
	}
	absDir, err := filepath.Abs(c.Dir)
	if err != nil {
		return err
	} else if info, err := os.Stat(absDir); err != nil {
		return fmt.Errorf("module dir: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("module dir %s is not a directory", absDir)
	}
	c.AbsDir = absDir

	for _, kv := range c.Env {
		if key, _, ok := strings.Cut(kv, "="); !ok || key == "" {
			return fmt.Errorf("invalid env entry %q, expected KEY=VALUE", kv)
		}
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	} else if c.CacheMB <= 0 {
		c.CacheMB = 16
	}
	if c.JournalDir != "" {
		if c.JournalDir, err = filepath.Abs(c.JournalDir); err != nil {
			return err
		}
	}

	c.prepared = true
	return nil
}
