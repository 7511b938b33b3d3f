//go:build !(linux || darwin)

package dalekbridge

import (
	"context"
	"errors"
)

// EmbeddedRuntime is only available on linux and darwin.
type EmbeddedRuntime struct{}

// NewEmbeddedRuntime always fails on this platform.
func NewEmbeddedRuntime(cfg *Config) (*EmbeddedRuntime, error) {
	return nil, errors.New("the embedded backend is not supported on this platform")
}

func (er *EmbeddedRuntime) Call(ctx context.Context, module, function string, args []float64) (float64, error) {
	return 0, &EvaluationError{Module: module, Function: function, Err: ErrRuntimeClosed}
}

func (er *EmbeddedRuntime) Close() error {
	return nil
}
