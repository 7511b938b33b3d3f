package dalekbridge

import (
	"encoding/json"
	"strings"
)

// PythonException is an exception raised on the Python side of a fitness
// call, with its chain of causes.
type PythonException struct {
	// Exception is the exception class name (e.g., "ValueError").
	Exception string `json:"exception" msgpack:"exception"`

	// Message is str() of the exception.
	Message string `json:"message" msgpack:"message"`

	// Traceback is the formatted Python traceback.
	Traceback string `json:"traceback" msgpack:"traceback"`

	// ExceptionArgs holds exc.args; values that are not plain scalars arrive
	// as their repr().
	ExceptionArgs []interface{} `json:"args,omitempty" msgpack:"args,omitempty"`

	// Cause is __cause__ (or __context__ when no explicit cause was set).
	Cause *PythonException `json:"cause,omitempty" msgpack:"cause,omitempty"`
}

// ToString renders the exception and every cause with their tracebacks.
func (e *PythonException) ToString() string {
	var b strings.Builder
	for ex, first := e, true; ex != nil; ex, first = ex.Cause, false {
		if !first {
			b.WriteString("\nCaused by: ")
		}
		b.WriteString(ex.Exception)
		b.WriteString(": ")
		b.WriteString(ex.Message)
		if ex.Traceback != "" {
			b.WriteString("\n")
			b.WriteString(strings.TrimRight(ex.Traceback, "\n"))
		}
	}
	return b.String()
}

func (e *PythonException) Error() string {
	return e.Exception + ": " + e.Message
}

// NewPythonExceptionFromJSON parses the JSON produced by the embedded
// runtime's _dalekbridge.describe helper.
func NewPythonExceptionFromJSON(data []byte) (*PythonException, error) {
	var pyException PythonException
	if err := json.Unmarshal(data, &pyException); err != nil {
		return nil, err
	}
	return &pyException, nil
}
