// Command dalek-eval evaluates the DALEK fitness function once and prints the
// result. With no positional values it uses the reference parameter vector.
//
//	dalek-eval -config dalek.yaml
//	dalek-eval -backend embedded 0.001574 0.575 ...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/richinsley/dalekbridge"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default: $"+dalekbridge.ConfigEnvVar+" or built-in defaults)")
	backend := flag.String("backend", "", "override the backend: process or embedded")
	timeout := flag.Duration("timeout", 0, "override the per-call timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [v1 ... vN]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, *backend, *timeout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "dalek-eval: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, backend string, timeout time.Duration, positional []string) error {
	var cfg *dalekbridge.Config
	var err error
	if configPath != "" {
		cfg, err = dalekbridge.LoadConfig(configPath)
	} else {
		cfg, err = dalekbridge.LoadConfigFromEnv()
	}
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Backend = dalekbridge.Backend(backend)
	}
	if timeout > 0 {
		cfg.CallTimeout = timeout
	}

	theta, err := selectTheta(positional, cfg.Arity)
	if err != nil {
		return err
	}

	rt, err := dalekbridge.NewRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	l, err := dalekbridge.NewLikelihood(cfg, rt)
	if err != nil {
		return err
	}

	start := time.Now()
	fitness, err := l.Evaluate(context.Background(), theta)
	if err != nil {
		return err
	}
	fmt.Printf("%v\n", fitness)
	fmt.Fprintf(os.Stderr, "evaluated in %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// selectTheta parses the positional values, or falls back to the reference
// vector, which only fits the default arity.
func selectTheta(positional []string, arity int) ([]float64, error) {
	if len(positional) > 0 {
		return parseTheta(positional, arity)
	}
	reference := dalekbridge.ReferenceTheta()
	if arity != len(reference) {
		return nil, fmt.Errorf("the reference vector has %d values but arity is %d; pass %d values on the command line",
			len(reference), arity, arity)
	}
	return reference, nil
}

func parseTheta(args []string, arity int) ([]float64, error) {
	if len(args) != arity {
		return nil, fmt.Errorf("expected %d values, got %d", arity, len(args))
	}
	theta := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			name := strconv.Itoa(i + 1)
			if i < len(dalekbridge.ParameterNames) {
				name = dalekbridge.ParameterNames[i]
			}
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		theta[i] = v
	}
	return theta, nil
}
