package dalekbridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects how the Python likelihood is hosted.
type Backend string

const (
	// BackendProcess runs the likelihood in a persistent Python child process.
	BackendProcess Backend = "process"

	// BackendEmbedded loads libpython into the current process.
	BackendEmbedded Backend = "embedded"
)

const (
	// DefaultModule is the Python module holding the DALEK fitness function.
	DefaultModule = "dalek.dalek_helper"

	// DefaultFunction is the fitness function looked up in DefaultModule.
	DefaultFunction = "get_fitness"

	// DefaultArity is the fixed number of positional float arguments passed to
	// the fitness function.
	DefaultArity = 13

	// ConfigEnvVar names the environment variable that points the C export at
	// a YAML config file.
	ConfigEnvVar = "DALEK_BRIDGE_CONFIG"
)

// Config describes the Python side of the bridge. The zero value is not
// usable; start from DefaultConfig or LoadConfig.
type Config struct {
	// Backend is "process" (default) or "embedded".
	Backend Backend `yaml:"backend"`

	// Python is the interpreter used by the process backend. Empty means
	// python3, then python, on PATH.
	Python string `yaml:"python"`

	// PythonLibrary is the libpython shared object used by the embedded
	// backend. Empty means the library discovered next to Python.
	PythonLibrary string `yaml:"python_library"`

	// Module and Function name the fitness callable.
	Module   string `yaml:"module"`
	Function string `yaml:"function"`

	// Arity is the number of parameters marshaled per call. The declared
	// dimensionality of a call never changes it.
	Arity int `yaml:"arity"`

	// PythonPath entries are prepended to sys.path.
	PythonPath []string `yaml:"python_path"`

	// WorkingDir is the working directory of the Python side. The DALEK
	// helper opens its TARDIS config and observed spectrum relative to it.
	WorkingDir string `yaml:"working_dir"`

	// Env holds extra environment variables for the Python child.
	Env map[string]string `yaml:"env"`

	// CallTimeout bounds a single evaluation. Zero waits forever.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Sentinel is returned by Evaluate whenever no valid result exists.
	Sentinel float64 `yaml:"sentinel"`
}

// DefaultConfig returns the configuration matching the DALEK calling
// convention: dalek.dalek_helper.get_fitness with 13 parameters, hosted in a
// child process, NaN on failure.
func DefaultConfig() *Config {
	return &Config{
		Backend:  BackendProcess,
		Module:   DefaultModule,
		Function: DefaultFunction,
		Arity:    DefaultArity,
		Env:      map[string]string{},
		Sentinel: math.NaN(),
	}
}

// ParseConfig decodes YAML on top of DefaultConfig. Unknown keys are an error.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromEnv loads the file named by DALEK_BRIDGE_CONFIG, or returns
// DefaultConfig when the variable is unset.
func LoadConfigFromEnv() (*Config, error) {
	path := os.Getenv(ConfigEnvVar)
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendProcess, BackendEmbedded:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.Module == "" {
		return fmt.Errorf("%w: module is empty", ErrInvalidConfig)
	}
	if c.Function == "" {
		return fmt.Errorf("%w: function is empty", ErrInvalidConfig)
	}
	if c.Arity <= 0 {
		return fmt.Errorf("%w: arity must be positive, got %d", ErrInvalidConfig, c.Arity)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("%w: call_timeout is negative", ErrInvalidConfig)
	}
	return nil
}

// pythonPathEnv joins PythonPath with any inherited PYTHONPATH.
func (c *Config) pythonPathEnv() string {
	entries := append([]string{}, c.PythonPath...)
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		entries = append(entries, existing)
	}
	return strings.Join(entries, string(os.PathListSeparator))
}
