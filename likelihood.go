package dalekbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Likelihood evaluates one Python fitness function through a Runtime.
type Likelihood struct {
	runtime  Runtime
	module   string
	function string
	arity    int
	sentinel float64
	timeout  time.Duration
}

// NewLikelihood binds rt to the function named by cfg.
func NewLikelihood(cfg *Config, rt Runtime) (*Likelihood, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rt == nil {
		return nil, errors.New("dalekbridge: nil runtime")
	}
	return &Likelihood{
		runtime:  rt,
		module:   cfg.Module,
		function: cfg.Function,
		arity:    cfg.Arity,
		sentinel: cfg.Sentinel,
		timeout:  cfg.CallTimeout,
	}, nil
}

// Arity is the number of parameters read from each vector.
func (l *Likelihood) Arity() int {
	return l.arity
}

// Sentinel is the value Evaluate returns alongside an error.
func (l *Likelihood) Sentinel() float64 {
	return l.sentinel
}

// Runtime returns the runtime calls go through.
func (l *Likelihood) Runtime() Runtime {
	return l.runtime
}

// Evaluate calls the fitness function with the first Arity values of theta.
// On failure it returns the sentinel and an error; theta is never modified.
func (l *Likelihood) Evaluate(ctx context.Context, theta []float64) (float64, error) {
	result := l.sentinel

	if len(theta) < l.arity {
		err := fmt.Errorf("%w: got %d, need %d", ErrShortVector, len(theta), l.arity)
		logger().Printf("%s.%s: %v", l.module, l.function, err)
		return result, err
	}
	args := make([]float64, l.arity)
	copy(args, theta)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	value, err := l.runtime.Call(ctx, l.module, l.function, args)
	if err != nil {
		logFailure(err)
		return result, err
	}
	result = value
	return result, nil
}

func logFailure(err error) {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) && evalErr.Exception != nil {
		logger().Printf("%v\n%s", err, evalErr.Exception.ToString())
		return
	}
	logger().Printf("%v", err)
}

// Close releases the runtime.
func (l *Likelihood) Close() error {
	return l.runtime.Close()
}

var (
	setupOnce   sync.Once
	setupMu     sync.RWMutex
	defaultLike *Likelihood
	setupErr    error
)

// unsetSentinel is returned by Evaluate when there is no likelihood. A
// failed Setup still installs its configured sentinel here.
var unsetSentinel = DefaultConfig().Sentinel

// Setup builds the runtime described by cfg and installs it as the
// process-wide likelihood used by Evaluate. Only the first call does any
// work: later calls return ErrAlreadyInitialized, or the first call's error
// if it failed, since a Python interpreter cannot be restarted in-process.
func Setup(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	first := false
	setupOnce.Do(func() {
		first = true
		setSentinel(cfg.Sentinel)
		rt, err := NewRuntime(cfg)
		if err != nil {
			setupErr = err
			return
		}
		setupErr = installDefault(cfg, rt)
	})
	if first {
		return setupErr
	}
	if setupErr != nil {
		return setupErr
	}
	return ErrAlreadyInitialized
}

// SetupWithRuntime is Setup for a runtime built by the caller.
func SetupWithRuntime(cfg *Config, rt Runtime) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	first := false
	setupOnce.Do(func() {
		first = true
		setSentinel(cfg.Sentinel)
		setupErr = installDefault(cfg, rt)
	})
	if first {
		return setupErr
	}
	if setupErr != nil {
		return setupErr
	}
	return ErrAlreadyInitialized
}

func setSentinel(v float64) {
	setupMu.Lock()
	unsetSentinel = v
	setupMu.Unlock()
}

func installDefault(cfg *Config, rt Runtime) error {
	l, err := NewLikelihood(cfg, rt)
	if err != nil {
		rt.Close()
		return err
	}
	setupMu.Lock()
	defaultLike = l
	setupMu.Unlock()
	return nil
}

// MustSetup runs Setup and logs instead of returning. A failed setup leaves
// Evaluate returning the sentinel.
func MustSetup(cfg *Config) {
	if err := Setup(cfg); err != nil && !errors.Is(err, ErrAlreadyInitialized) {
		logger().Printf("setup failed: %v", err)
	}
}

// Default returns the process-wide likelihood, or nil before Setup.
func Default() *Likelihood {
	setupMu.RLock()
	defer setupMu.RUnlock()
	return defaultLike
}

// Evaluate is the sampler-shaped entry point. It reads exactly Arity values
// of theta whatever nDims says, never touches phi or nDerived, and returns
// the sentinel on any failure.
func Evaluate(theta []float64, nDims int, phi []float64, nDerived int) float64 {
	setupMu.RLock()
	l, sentinel := defaultLike, unsetSentinel
	setupMu.RUnlock()
	if l == nil {
		logger().Printf("%v", ErrNotInitialized)
		return sentinel
	}
	value, _ := l.Evaluate(context.Background(), theta)
	return value
}
