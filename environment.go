package dalekbridge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// PythonEnvironment describes one Python installation: the interpreter the
// process backend runs and the shared library the embedded backend loads.
type PythonEnvironment struct {
	// PythonPath is the full path to the interpreter.
	PythonPath string

	// PythonVersion is the interpreter version (e.g., 3.10.12).
	PythonVersion Version

	// Prefix is sys.base_prefix, the home of the standard library.
	Prefix string

	// LibDir is sysconfig's LIBDIR.
	LibDir string

	// PythonLibPath is the libpython shared library, or empty when the
	// interpreter was built without one (pyenv's default static build, for
	// instance).
	PythonLibPath string

	// SitePackagesPath is the first site-packages directory.
	SitePackagesPath string
}

// probeScript prints one value per line; keep the order in sync with
// FindPython.
const probeScript = `import site, sys, sysconfig
print("Python " + sys.version.split()[0])
print(sysconfig.get_config_var("LIBDIR") or "")
print(sysconfig.get_config_var("LDLIBRARY") or "")
print(sysconfig.get_config_var("INSTSONAME") or "")
print((site.getsitepackages() or [""])[0])
print(sys.base_prefix)
`

// MinimumPythonVersion is the oldest interpreter the host script runs on.
var MinimumPythonVersion = Version{Major: 3, Minor: 6, Patch: 0}

// FindPython inspects the interpreter at pythonPath. An empty path searches
// PATH for python3, then python. Interpreters older than
// MinimumPythonVersion are rejected with ErrUnsupportedPython.
func FindPython(pythonPath string) (*PythonEnvironment, error) {
	if pythonPath == "" {
		var err error
		pythonPath, err = exec.LookPath("python3")
		if err != nil {
			pythonPath, err = exec.LookPath("python")
			if err != nil {
				return nil, fmt.Errorf("python not found: %v", err)
			}
		}
	}

	out, err := exec.Command(pythonPath, "-c", probeScript).Output()
	if err != nil {
		return nil, fmt.Errorf("error probing %s: %w", pythonPath, err)
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	for len(lines) < 6 {
		lines = append(lines, "")
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	version, err := ParsePythonVersion(lines[0])
	if err != nil {
		return nil, fmt.Errorf("error parsing Python version: %v", err)
	}
	if err := checkPythonVersion(version); err != nil {
		return nil, fmt.Errorf("%s: %w", pythonPath, err)
	}

	env := &PythonEnvironment{
		PythonPath:       pythonPath,
		PythonVersion:    version,
		LibDir:           lines[1],
		SitePackagesPath: lines[4],
		Prefix:           lines[5],
	}
	env.PythonLibPath = findSharedLibrary(env.LibDir, version, lines[2], lines[3])
	return env, nil
}

// findSharedLibrary picks the first existing candidate among LDLIBRARY,
// INSTSONAME and the conventional libpython name for this platform.
func findSharedLibrary(libDir string, version Version, ldLibrary, instSoname string) string {
	if libDir == "" {
		return ""
	}
	conventional := "libpython" + version.MinorString() + ".so"
	if runtime.GOOS == "darwin" {
		conventional = "libpython" + version.MinorString() + ".dylib"
	}
	for _, name := range []string{ldLibrary, instSoname, conventional} {
		if name == "" || strings.HasSuffix(name, ".a") {
			continue
		}
		candidate := filepath.Join(libDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func checkPythonVersion(v Version) error {
	oldest := MinimumPythonVersion
	// an unspecified patch level compares as the lowest release of its minor
	if v.Patch < 0 {
		v.Patch = 0
	}
	if v.Compare(oldest) < 0 {
		return fmt.Errorf("%w: %s is older than %s", ErrUnsupportedPython, v, oldest)
	}
	return nil
}
