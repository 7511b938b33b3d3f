//go:build linux || darwin

package dalekbridge

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"text/template"

	"github.com/ebitengine/purego"
)

//go:embed scripts/embedded_init.py
var embeddedInitTemplate string

// pythonAPI is the slice of the CPython C API the embedded backend uses.
// PyObject pointers are carried as uintptr; a zero value is NULL.
type pythonAPI struct {
	Py_InitializeEx          func(initsigs int32)
	Py_IsInitialized         func() int32
	Py_DecRef                func(o uintptr)
	Py_IncRef                func(o uintptr)
	PyEval_SaveThread        func() uintptr
	PyGILState_Ensure        func() int32
	PyGILState_Release       func(state int32)
	PyRun_SimpleString       func(code string) int32
	PyImport_ImportModule    func(name string) uintptr
	PyObject_HasAttrString   func(o uintptr, name string) int32
	PyObject_GetAttrString   func(o uintptr, name string) uintptr
	PyObject_CallObject      func(callable, args uintptr) uintptr
	PyCallable_Check         func(o uintptr) int32
	PyTuple_New              func(size int) uintptr
	PyTuple_SetItem          func(tuple uintptr, pos int, item uintptr) int32
	PyFloat_FromDouble       func(v float64) uintptr
	PyFloat_AsDouble         func(o uintptr) float64
	PyUnicode_AsUTF8         func(o uintptr) string
	PyErr_Occurred           func() uintptr
	PyErr_Fetch              func(ptype, pvalue, ptraceback *uintptr)
	PyErr_NormalizeException func(ptype, pvalue, ptraceback *uintptr)
	PyErr_Clear              func()
	PyException_SetTraceback func(exc, tb uintptr) int32

	// optional; absent from interpreters that removed the legacy init API
	Py_DecodeLocale  func(s string, size uintptr) uintptr
	Py_SetPythonHome func(home uintptr)
}

func loadPythonAPI(path string) (*pythonAPI, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}

	api := &pythonAPI{}
	required := []struct {
		name string
		fptr interface{}
	}{
		{"Py_InitializeEx", &api.Py_InitializeEx},
		{"Py_IsInitialized", &api.Py_IsInitialized},
		{"Py_DecRef", &api.Py_DecRef},
		{"Py_IncRef", &api.Py_IncRef},
		{"PyEval_SaveThread", &api.PyEval_SaveThread},
		{"PyGILState_Ensure", &api.PyGILState_Ensure},
		{"PyGILState_Release", &api.PyGILState_Release},
		{"PyRun_SimpleString", &api.PyRun_SimpleString},
		{"PyImport_ImportModule", &api.PyImport_ImportModule},
		{"PyObject_HasAttrString", &api.PyObject_HasAttrString},
		{"PyObject_GetAttrString", &api.PyObject_GetAttrString},
		{"PyObject_CallObject", &api.PyObject_CallObject},
		{"PyCallable_Check", &api.PyCallable_Check},
		{"PyTuple_New", &api.PyTuple_New},
		{"PyTuple_SetItem", &api.PyTuple_SetItem},
		{"PyFloat_FromDouble", &api.PyFloat_FromDouble},
		{"PyFloat_AsDouble", &api.PyFloat_AsDouble},
		{"PyUnicode_AsUTF8", &api.PyUnicode_AsUTF8},
		{"PyErr_Occurred", &api.PyErr_Occurred},
		{"PyErr_Fetch", &api.PyErr_Fetch},
		{"PyErr_NormalizeException", &api.PyErr_NormalizeException},
		{"PyErr_Clear", &api.PyErr_Clear},
		{"PyException_SetTraceback", &api.PyException_SetTraceback},
	}
	for _, sym := range required {
		addr, err := purego.Dlsym(handle, sym.name)
		if err != nil {
			return nil, fmt.Errorf("%s: missing symbol %s: %w", path, sym.name, err)
		}
		purego.RegisterFunc(sym.fptr, addr)
	}

	decode, derr := purego.Dlsym(handle, "Py_DecodeLocale")
	setHome, herr := purego.Dlsym(handle, "Py_SetPythonHome")
	if derr == nil && herr == nil {
		purego.RegisterFunc(&api.Py_DecodeLocale, decode)
		purego.RegisterFunc(&api.Py_SetPythonHome, setHome)
	}
	return api, nil
}

// EmbeddedRuntime runs the fitness function inside this process through
// libpython. There is exactly one per process: the interpreter is
// initialized on first use and never finalized, since numpy does not
// survive a Py_Finalize/Py_Initialize cycle.
//
// Calls are serialized and each one holds the GIL on a locked OS thread.
// A context can stop a call from starting but cannot interrupt one that is
// running.
type EmbeddedRuntime struct {
	api     *pythonAPI
	library string
	mu      sync.Mutex
}

var (
	embeddedOnce    sync.Once
	embeddedRuntime *EmbeddedRuntime
	embeddedErr     error
)

// NewEmbeddedRuntime initializes the in-process interpreter. Later calls
// return the same runtime (or the same error) regardless of cfg.
func NewEmbeddedRuntime(cfg *Config) (*EmbeddedRuntime, error) {
	embeddedOnce.Do(func() {
		embeddedRuntime, embeddedErr = startEmbedded(cfg)
	})
	return embeddedRuntime, embeddedErr
}

type embeddedInitData struct {
	WorkingDir string
	Prepend    string
	Append     string
}

func renderEmbeddedInit(cfg *Config, sitePackages string) (string, error) {
	enc := func(v interface{}) string {
		b, _ := json.Marshal(v)
		return string(b)
	}
	prepend := cfg.PythonPath
	if prepend == nil {
		prepend = []string{}
	}
	appendPaths := []string{}
	if sitePackages != "" {
		appendPaths = append(appendPaths, sitePackages)
	}

	tmpl, err := template.New("embeddedInit").Parse(embeddedInitTemplate)
	if err != nil {
		return "", fmt.Errorf("error parsing init template: %w", err)
	}
	var out bytes.Buffer
	err = tmpl.Execute(&out, embeddedInitData{
		WorkingDir: enc(cfg.WorkingDir),
		Prepend:    enc(prepend),
		Append:     enc(appendPaths),
	})
	if err != nil {
		return "", fmt.Errorf("error executing init template: %w", err)
	}
	return out.String(), nil
}

func startEmbedded(cfg *Config) (*EmbeddedRuntime, error) {
	library := cfg.PythonLibrary
	var env *PythonEnvironment
	if library == "" || cfg.Python != "" {
		var err error
		env, err = FindPython(cfg.Python)
		if err != nil && library == "" {
			return nil, err
		}
		if library == "" {
			library = env.PythonLibPath
		}
	}
	if library == "" {
		return nil, fmt.Errorf("no shared libpython found for %s; set python_library", env.PythonPath)
	}

	api, err := loadPythonAPI(library)
	if err != nil {
		return nil, err
	}

	sitePackages := ""
	if env != nil {
		sitePackages = env.SitePackagesPath
	}
	script, err := renderEmbeddedInit(cfg, sitePackages)
	if err != nil {
		return nil, err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hosted := api.Py_IsInitialized() != 0
	var gil int32
	if hosted {
		// we were loaded into a process that already runs Python
		gil = api.PyGILState_Ensure()
	} else {
		if env != nil && env.Prefix != "" && api.Py_SetPythonHome != nil {
			// Py_SetPythonHome keeps the pointer; the decoded string is never freed
			if home := api.Py_DecodeLocale(env.Prefix, 0); home != 0 {
				api.Py_SetPythonHome(home)
			}
		}
		api.Py_InitializeEx(0)
		if api.Py_IsInitialized() == 0 {
			return nil, errors.New("python: could not initialize the python interpreter")
		}
	}

	rc := api.PyRun_SimpleString(script)

	if hosted {
		api.PyGILState_Release(gil)
	} else {
		api.PyEval_SaveThread()
	}
	if rc != 0 {
		return nil, errors.New("python: bridge initialization script failed")
	}

	logger().Printf("embedded python initialized from %s", library)
	return &EmbeddedRuntime{api: api, library: library}, nil
}

// Library is the path of the loaded libpython.
func (er *EmbeddedRuntime) Library() string {
	return er.library
}

// Call resolves module.function and calls it with args as Python floats.
func (er *EmbeddedRuntime) Call(ctx context.Context, module, function string, args []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &EvaluationError{Module: module, Function: function, Err: err}
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	gil := er.api.PyGILState_Ensure()
	defer er.api.PyGILState_Release(gil)

	return er.call(module, function, args)
}

// call runs with the GIL held. Every temporary reference is released right
// after its last use.
func (er *EmbeddedRuntime) call(module, function string, args []float64) (float64, error) {
	py := er.api

	mod := py.PyImport_ImportModule(module)
	if mod == 0 {
		return 0, er.failure(module, function, ErrModuleNotFound)
	}

	if py.PyObject_HasAttrString(mod, function) == 0 {
		py.Py_DecRef(mod)
		return 0, er.failure(module, function, ErrFunctionNotFound)
	}
	fn := py.PyObject_GetAttrString(mod, function)
	py.Py_DecRef(mod)
	if fn == 0 {
		return 0, er.failure(module, function, ErrFunctionNotFound)
	}
	if py.PyCallable_Check(fn) == 0 {
		py.Py_DecRef(fn)
		return 0, er.failure(module, function, ErrNotCallable)
	}

	tuple := py.PyTuple_New(len(args))
	if tuple == 0 {
		py.Py_DecRef(fn)
		return 0, er.failure(module, function, ErrCallFailed)
	}
	for i, v := range args {
		item := py.PyFloat_FromDouble(v)
		if item == 0 {
			py.Py_DecRef(tuple)
			py.Py_DecRef(fn)
			return 0, er.failure(module, function, ErrCallFailed)
		}
		// PyTuple_SetItem steals the reference to item
		py.PyTuple_SetItem(tuple, i, item)
	}

	result := py.PyObject_CallObject(fn, tuple)
	py.Py_DecRef(tuple)
	py.Py_DecRef(fn)
	if result == 0 {
		return 0, er.failure(module, function, ErrCallFailed)
	}

	value := py.PyFloat_AsDouble(result)
	py.Py_DecRef(result)
	if value == -1 && py.PyErr_Occurred() != 0 {
		return 0, er.failure(module, function, ErrNonNumericResult)
	}
	return value, nil
}

func (er *EmbeddedRuntime) failure(module, function string, kind error) error {
	return &EvaluationError{
		Module:    module,
		Function:  function,
		Err:       kind,
		Exception: er.fetchException(),
	}
}

// fetchException takes the pending Python error, if any, and clears it.
func (er *EmbeddedRuntime) fetchException() *PythonException {
	py := er.api
	if py.PyErr_Occurred() == 0 {
		return nil
	}

	var typ, val, tb uintptr
	py.PyErr_Fetch(&typ, &val, &tb)
	py.PyErr_NormalizeException(&typ, &val, &tb)
	defer func() {
		py.Py_DecRef(typ)
		py.Py_DecRef(val)
		py.Py_DecRef(tb)
	}()
	if val == 0 {
		return &PythonException{Exception: "UnknownError", Message: "python reported an error without a value"}
	}
	if tb != 0 {
		py.PyException_SetTraceback(val, tb)
	}

	helper := py.PyImport_ImportModule("_dalekbridge")
	if helper == 0 {
		py.PyErr_Clear()
		return &PythonException{Exception: "UnknownError", Message: "bridge helper module is missing"}
	}
	describe := py.PyObject_GetAttrString(helper, "describe")
	py.Py_DecRef(helper)
	if describe == 0 {
		py.PyErr_Clear()
		return &PythonException{Exception: "UnknownError", Message: "bridge helper has no describe"}
	}

	argTuple := py.PyTuple_New(1)
	py.Py_IncRef(val)
	py.PyTuple_SetItem(argTuple, 0, val)
	described := py.PyObject_CallObject(describe, argTuple)
	py.Py_DecRef(argTuple)
	py.Py_DecRef(describe)
	if described == 0 {
		py.PyErr_Clear()
		return &PythonException{Exception: "UnknownError", Message: "could not describe exception"}
	}
	text := py.PyUnicode_AsUTF8(described)
	py.Py_DecRef(described)

	ex, err := NewPythonExceptionFromJSON([]byte(text))
	if err != nil {
		return &PythonException{Exception: "UnknownError", Message: text}
	}
	return ex
}

// Close is a no-op: the interpreter lives until the process exits.
func (er *EmbeddedRuntime) Close() error {
	return nil
}
