package dalekbridge

import (
	"context"
	"fmt"
)

// Runtime calls a Python function by module and attribute name with float
// arguments and returns its float result. Implementations re-resolve the
// module and function on every call and report failures as *EvaluationError.
type Runtime interface {
	Call(ctx context.Context, module, function string, args []float64) (float64, error)

	// Close releases what the runtime can release. An embedded interpreter
	// is never finalized.
	Close() error
}

// NewRuntime builds the backend selected by cfg.Backend.
func NewRuntime(cfg *Config) (Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendProcess:
		fp, err := NewFitnessProcess(cfg)
		if err != nil {
			return nil, err
		}
		return fp, nil
	case BackendEmbedded:
		er, err := NewEmbeddedRuntime(cfg)
		if err != nil {
			return nil, err
		}
		return er, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
