package dalekbridge

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Backend != BackendProcess {
		t.Errorf("Expected process backend, got %q", cfg.Backend)
	}
	if cfg.Module != "dalek.dalek_helper" || cfg.Function != "get_fitness" {
		t.Errorf("Unexpected target %s.%s", cfg.Module, cfg.Function)
	}
	if cfg.Arity != 13 {
		t.Errorf("Expected arity 13, got %d", cfg.Arity)
	}
	if !math.IsNaN(cfg.Sentinel) {
		t.Errorf("Expected NaN sentinel, got %v", cfg.Sentinel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
backend: embedded
python_library: /opt/python/lib/libpython3.11.so
module: mymodel.helper
function: fitness
arity: 3
python_path: [/opt/dalek, /opt/tardis]
working_dir: /data/sn2002bo
env:
  OMP_NUM_THREADS: "1"
call_timeout: 90s
sentinel: -1.0e300
`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Backend != BackendEmbedded {
		t.Errorf("Expected embedded backend, got %q", cfg.Backend)
	}
	if cfg.Module != "mymodel.helper" || cfg.Function != "fitness" || cfg.Arity != 3 {
		t.Errorf("Unexpected target %s.%s/%d", cfg.Module, cfg.Function, cfg.Arity)
	}
	if len(cfg.PythonPath) != 2 || cfg.PythonPath[1] != "/opt/tardis" {
		t.Errorf("Unexpected python_path %v", cfg.PythonPath)
	}
	if cfg.Env["OMP_NUM_THREADS"] != "1" {
		t.Errorf("Unexpected env %v", cfg.Env)
	}
	if cfg.CallTimeout != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %v", cfg.CallTimeout)
	}
	if cfg.Sentinel != -1.0e300 {
		t.Errorf("Expected -1e300 sentinel, got %v", cfg.Sentinel)
	}
}

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("working_dir: /tmp\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Module != DefaultModule || cfg.Arity != DefaultArity || !math.IsNaN(cfg.Sentinel) {
		t.Errorf("Defaults were not kept: %+v", cfg)
	}

	empty, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig on empty input failed: %v", err)
	}
	if empty.Backend != BackendProcess || empty.Env == nil {
		t.Errorf("Unexpected config from empty input: %+v", empty)
	}
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("modul: dalek.dalek_helper\n"))
	if err == nil {
		t.Fatal("Expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "modul") {
		t.Errorf("Error should name the key: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":  func(c *Config) { c.Backend = "cgo" },
		"module":   func(c *Config) { c.Module = "" },
		"function": func(c *Config) { c.Function = "" },
		"arity":    func(c *Config) { c.Arity = 0 },
		"timeout":  func(c *Config) { c.CallTimeout = -time.Second },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv without a file failed: %v", err)
	}
	if cfg.Module != DefaultModule {
		t.Errorf("Expected defaults, got %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "dalek.yaml")
	if err := os.WriteFile(path, []byte("arity: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigEnvVar, path)
	cfg, err = LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if cfg.Arity != 5 {
		t.Errorf("Expected arity 5, got %d", cfg.Arity)
	}

	t.Setenv(ConfigEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestChildEnv(t *testing.T) {
	t.Setenv("PYTHONPATH", "/inherited")
	cfg := DefaultConfig()
	cfg.PythonPath = []string{"/opt/dalek"}
	cfg.Env = map[string]string{"B": "2", "A": "1"}

	env := childEnv(cfg)
	tail := env[len(env)-3:]
	want := []string{
		"PYTHONPATH=/opt/dalek" + string(os.PathListSeparator) + "/inherited",
		"A=1",
		"B=2",
	}
	for i := range want {
		if tail[i] != want[i] {
			t.Errorf("env[%d] = %q, want %q", i, tail[i], want[i])
		}
	}
}
