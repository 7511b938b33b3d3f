package dalekbridge

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRuntime records calls and answers with fn.
type fakeRuntime struct {
	mu     sync.Mutex
	calls  [][]float64
	fn     func(ctx context.Context, args []float64) (float64, error)
	closed bool
}

func (f *fakeRuntime) Call(ctx context.Context, module, function string, args []float64) (float64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]float64(nil), args...))
	f.mu.Unlock()
	if f.fn == nil {
		return 0, nil
	}
	return f.fn(ctx, args)
}

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

func sumRuntime() *fakeRuntime {
	return &fakeRuntime{fn: func(_ context.Context, args []float64) (float64, error) {
		sum := 0.0
		for _, v := range args {
			sum += v
		}
		return sum, nil
	}}
}

// resetSetup clears the process-wide likelihood so each test starts fresh.
func resetSetup(t *testing.T) {
	t.Helper()
	reset := func() {
		setupMu.Lock()
		setupOnce = sync.Once{}
		defaultLike = nil
		setupErr = nil
		unsetSentinel = math.NaN()
		setupMu.Unlock()
	}
	reset()
	t.Cleanup(reset)
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetLogger(log.New(&buf, "", 0))
	t.Cleanup(func() { SetLogger(nil) })
	return &buf
}

func TestLikelihoodZeroVector(t *testing.T) {
	rt := &fakeRuntime{fn: func(context.Context, []float64) (float64, error) { return -42.5, nil }}
	l, err := NewLikelihood(DefaultConfig(), rt)
	if err != nil {
		t.Fatalf("NewLikelihood failed: %v", err)
	}

	got, err := l.Evaluate(context.Background(), make([]float64, 13))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != -42.5 {
		t.Errorf("Expected -42.5, got %v", got)
	}
	if len(rt.calls) != 1 || len(rt.calls[0]) != 13 {
		t.Errorf("Expected one call with 13 args, got %v", rt.calls)
	}
}

func TestLikelihoodReadsOnlyArity(t *testing.T) {
	rt := sumRuntime()
	l, _ := NewLikelihood(DefaultConfig(), rt)

	theta := make([]float64, 20)
	for i := range theta {
		theta[i] = 1
	}
	got, err := l.Evaluate(context.Background(), theta)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != 13 {
		t.Errorf("Expected sum of 13 ones, got %v", got)
	}
}

func TestLikelihoodShortVector(t *testing.T) {
	captureLog(t)
	rt := sumRuntime()
	l, _ := NewLikelihood(DefaultConfig(), rt)

	got, err := l.Evaluate(context.Background(), make([]float64, 12))
	if !errors.Is(err, ErrShortVector) {
		t.Errorf("Expected ErrShortVector, got %v", err)
	}
	if !math.IsNaN(got) {
		t.Errorf("Expected NaN sentinel, got %v", got)
	}
	if len(rt.calls) != 0 {
		t.Error("Runtime should not be called for a short vector")
	}
}

func TestLikelihoodDoesNotModifyTheta(t *testing.T) {
	rt := &fakeRuntime{fn: func(_ context.Context, args []float64) (float64, error) {
		args[0] = 999
		return 0, nil
	}}
	l, _ := NewLikelihood(DefaultConfig(), rt)

	theta := ReferenceTheta()
	if _, err := l.Evaluate(context.Background(), theta); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if theta[0] != 0.001574 {
		t.Errorf("theta was modified: %v", theta[0])
	}
}

func TestLikelihoodDeterministic(t *testing.T) {
	rt := &fakeRuntime{fn: func(_ context.Context, args []float64) (float64, error) {
		return math.Log(args[11]) * args[12] / args[1], nil
	}}
	l, _ := NewLikelihood(DefaultConfig(), rt)

	first, _ := l.Evaluate(context.Background(), ReferenceTheta())
	for i := 0; i < 5; i++ {
		got, _ := l.Evaluate(context.Background(), ReferenceTheta())
		if math.Float64bits(got) != math.Float64bits(first) {
			t.Fatalf("Call %d returned %v, want %v", i, got, first)
		}
	}
}

func TestLikelihoodFailureReturnsSentinel(t *testing.T) {
	logs := captureLog(t)
	cfg := DefaultConfig()
	cfg.Sentinel = -1e300
	rt := &fakeRuntime{fn: func(context.Context, []float64) (float64, error) {
		return 0, &EvaluationError{
			Module:    cfg.Module,
			Function:  cfg.Function,
			Err:       ErrCallFailed,
			Exception: &PythonException{Exception: "ValueError", Message: "negative abundance", Traceback: "Traceback (most recent call last):"},
		}
	}}
	l, _ := NewLikelihood(cfg, rt)

	got, err := l.Evaluate(context.Background(), ReferenceTheta())
	if !errors.Is(err, ErrCallFailed) {
		t.Errorf("Expected ErrCallFailed, got %v", err)
	}
	if got != -1e300 {
		t.Errorf("Expected configured sentinel, got %v", got)
	}
	if !strings.Contains(logs.String(), "negative abundance") || !strings.Contains(logs.String(), "Traceback") {
		t.Errorf("Expected exception and traceback in log, got %q", logs.String())
	}
}

func TestLikelihoodTimeout(t *testing.T) {
	captureLog(t)
	cfg := DefaultConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	rt := &fakeRuntime{fn: func(ctx context.Context, _ []float64) (float64, error) {
		<-ctx.Done()
		return 0, &EvaluationError{Module: cfg.Module, Function: cfg.Function, Err: ctx.Err()}
	}}
	l, _ := NewLikelihood(cfg, rt)

	_, err := l.Evaluate(context.Background(), ReferenceTheta())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestEvaluateBeforeSetup(t *testing.T) {
	resetSetup(t)
	logs := captureLog(t)

	got := Evaluate(ReferenceTheta(), 13, nil, 0)
	if !math.IsNaN(got) {
		t.Errorf("Expected NaN before Setup, got %v", got)
	}
	if !strings.Contains(logs.String(), "Setup has not been called") {
		t.Errorf("Expected a diagnostic, got %q", logs.String())
	}
}

func TestSetupOnce(t *testing.T) {
	resetSetup(t)
	rt := sumRuntime()

	if err := SetupWithRuntime(DefaultConfig(), rt); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	first := Default()

	other := sumRuntime()
	if err := SetupWithRuntime(DefaultConfig(), other); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}
	if err := Setup(DefaultConfig()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized from Setup, got %v", err)
	}
	if Default() != first {
		t.Error("A second Setup replaced the likelihood")
	}

	for i := 0; i < 10; i++ {
		if got := Evaluate(ReferenceTheta(), 13, nil, 0); math.IsNaN(got) {
			t.Fatalf("Evaluate %d returned the sentinel", i)
		}
	}
	if len(rt.calls) != 10 || len(other.calls) != 0 {
		t.Errorf("Expected 10 calls on the first runtime, got %d and %d", len(rt.calls), len(other.calls))
	}
}

func TestEvaluateIgnoresDimsAndDerived(t *testing.T) {
	resetSetup(t)
	rt := sumRuntime()
	if err := SetupWithRuntime(DefaultConfig(), rt); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	theta := make([]float64, 13)
	theta[0] = 2
	phi := []float64{7, 8, 9}
	for _, nDims := range []int{0, 3, 13, 100} {
		if got := Evaluate(theta, nDims, phi, len(phi)); got != 2 {
			t.Errorf("nDims=%d: expected 2, got %v", nDims, got)
		}
	}
	if phi[0] != 7 || phi[1] != 8 || phi[2] != 9 {
		t.Errorf("phi was modified: %v", phi)
	}
	for _, call := range rt.calls {
		if len(call) != 13 {
			t.Errorf("Expected 13 args, got %d", len(call))
		}
	}
}

func TestFailedSetupKeepsSentinel(t *testing.T) {
	resetSetup(t)
	captureLog(t)
	cfg := DefaultConfig()
	cfg.Sentinel = -7
	cfg.Arity = 0

	rt := sumRuntime()
	if err := SetupWithRuntime(cfg, rt); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
	if !rt.closed {
		t.Error("Runtime should be closed after a failed setup")
	}
	if err := SetupWithRuntime(DefaultConfig(), sumRuntime()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Later Setup should report the first failure, got %v", err)
	}
	if got := Evaluate(ReferenceTheta(), 13, nil, 0); got != -7 {
		t.Errorf("Expected configured sentinel -7, got %v", got)
	}
}
