// Package dalekbridge lets a Go (or C) nested sampler call the DALEK supernova
// fitness function, a Python routine that runs TARDIS, as its log-likelihood.
//
// The bridge does two things: it starts a Python runtime once per process,
// and it turns a 13-element parameter vector into one float by calling
// dalek.dalek_helper.get_fitness with those values as positional arguments.
//
// # Backends
//
// Two runtimes implement the Runtime interface:
//
// FitnessProcess runs a long-lived Python child. Requests and replies are
// MessagePack maps in length-prefixed frames over inherited pipes, the same
// scheme on both sides:
//
//	cfg := dalekbridge.DefaultConfig()
//	cfg.WorkingDir = "/data/sn2002bo"
//	fp, err := dalekbridge.NewFitnessProcess(cfg)
//	fitness, err := fp.Call(ctx, cfg.Module, cfg.Function, theta)
//	fp.Close()
//
// EmbeddedRuntime loads libpython into the current process with purego. The
// interpreter is initialized once and never finalized.
//
// # Sampler entry points
//
// Setup installs the process-wide likelihood; Evaluate has the sampler's
// shape and never fails, returning the configured sentinel (NaN by default)
// instead:
//
//	if err := dalekbridge.Setup(cfg); err != nil {
//		log.Fatal(err)
//	}
//	logL := dalekbridge.Evaluate(theta, len(theta), nil, 0)
//
// Callers that want the reason for a failure use (*Likelihood).Evaluate, whose
// errors match ErrModuleNotFound, ErrFunctionNotFound, ErrNotCallable,
// ErrCallFailed and ErrNonNumericResult through errors.Is. When Python raised,
// errors.As recovers the *PythonException with its traceback.
//
// # Configuration
//
// Config is loaded from YAML with LoadConfig. The C export in
// cmd/dalek-likelihood reads the file named by DALEK_BRIDGE_CONFIG.
package dalekbridge
