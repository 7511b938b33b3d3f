package dalekbridge

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by Evaluate before Setup has succeeded.
	ErrNotInitialized = errors.New("dalekbridge: Setup has not been called")

	// ErrAlreadyInitialized is returned by every Setup call after the first.
	// The Python runtime cannot be finalized and started again in one process.
	ErrAlreadyInitialized = errors.New("dalekbridge: already initialized")

	// ErrInvalidConfig wraps config validation failures.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrUnsupportedPython means the interpreter is too old for the bridge.
	ErrUnsupportedPython = errors.New("unsupported python version")

	// ErrShortVector is returned when fewer than Arity parameters are supplied.
	ErrShortVector = errors.New("parameter vector shorter than arity")

	// ErrModuleNotFound means the fitness module could not be imported.
	ErrModuleNotFound = errors.New("module not found")

	// ErrFunctionNotFound means the module has no attribute of that name.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrNotCallable means the attribute exists but cannot be called.
	ErrNotCallable = errors.New("attribute is not callable")

	// ErrCallFailed means the fitness function raised.
	ErrCallFailed = errors.New("fitness function raised")

	// ErrNonNumericResult means the return value did not convert to float.
	ErrNonNumericResult = errors.New("result is not a number")

	// ErrRuntimeClosed means the Python runtime is gone.
	ErrRuntimeClosed = errors.New("python runtime closed")

	// ErrProtocol means the Python host sent something unexpected.
	ErrProtocol = errors.New("protocol error")
)

// EvaluationError describes a failed call into the Python likelihood.
// Err is one of the sentinel errors above; Exception is set when Python
// raised.
type EvaluationError struct {
	Module    string
	Function  string
	Err       error
	Exception *PythonException
}

func (e *EvaluationError) Error() string {
	msg := fmt.Sprintf("%s.%s: %v", e.Module, e.Function, e.Err)
	if e.Exception != nil {
		msg += ": " + e.Exception.Exception + ": " + e.Exception.Message
	}
	return msg
}

func (e *EvaluationError) Unwrap() []error {
	if e.Exception != nil {
		return []error{e.Err, e.Exception}
	}
	return []error{e.Err}
}

// errorForKind maps the failure kinds reported by the Python side onto the
// sentinel errors.
func errorForKind(kind string) error {
	switch kind {
	case "module_not_found":
		return ErrModuleNotFound
	case "function_not_found":
		return ErrFunctionNotFound
	case "not_callable":
		return ErrNotCallable
	case "exception":
		return ErrCallFailed
	case "non_numeric":
		return ErrNonNumericResult
	default:
		return fmt.Errorf("%w: unknown failure kind %q", ErrProtocol, kind)
	}
}
