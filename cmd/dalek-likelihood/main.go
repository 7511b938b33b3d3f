// Command dalek-likelihood builds a shared library exposing the DALEK fitness
// function with the sampler's C likelihood signature:
//
//	go build -buildmode=c-shared -o libdalek.so ./cmd/dalek-likelihood
//
// The sampler calls cpp_loglikelihood_setup once, then cpp_loglikelihood per
// point. Configuration comes from the YAML file named by DALEK_BRIDGE_CONFIG.
package main

/*
#include <stddef.h>
*/
import "C"

import (
	"log"
	"unsafe"

	"github.com/richinsley/dalekbridge"
)

//export cpp_loglikelihood_setup
func cpp_loglikelihood_setup() {
	cfg, err := dalekbridge.LoadConfigFromEnv()
	if err != nil {
		log.Printf("dalek-likelihood: %v; using defaults", err)
		cfg = dalekbridge.DefaultConfig()
	}
	dalekbridge.MustSetup(cfg)
}

// cpp_loglikelihood reads exactly arity doubles from theta. nDims, phi and
// nDerived are part of the sampler signature and are not used.
//
//export cpp_loglikelihood
func cpp_loglikelihood(theta *C.double, nDims *C.int, phi *C.double, nDerived *C.int) C.double {
	l := dalekbridge.Default()
	if l == nil || theta == nil {
		return C.double(dalekbridge.Evaluate(nil, 0, nil, 0))
	}
	values := unsafe.Slice((*float64)(unsafe.Pointer(theta)), l.Arity())
	return C.double(dalekbridge.Evaluate(values, l.Arity(), nil, 0))
}

func main() {}
