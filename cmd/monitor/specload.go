package main

import (
	"fmt"
	"os"

	"github.com/ptltl/monitor/internal/evaluator"
	"github.com/ptltl/monitor/internal/parser"
	"github.com/ptltl/monitor/internal/preprocess"
	"github.com/ptltl/monitor/internal/specast"
	"github.com/ptltl/monitor/internal/spectypes"
	"github.com/ptltl/monitor/internal/typecheck"
)

// Exit codes, per spec.md §6.
const (
	exitSuccess       = 0
	exitSpecLoadError = 1
	exitTypeError     = 2
	exitEvaluatorFail = 3
)

// exitCodeFor maps a cobra-propagated error to an exit code when
// runMonitor itself didn't already call os.Exit directly.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	return exitSpecLoadError
}

// loadSpec reads, parses, type-checks, and preprocesses a spec file,
// returning an Evaluator ready to run. On failure it prints to stderr
// and exits with the code spec.md §6 assigns to that failure class.
func loadSpec(path string) (*specast.Spec, *spectypes.Context, *evaluator.Evaluator) {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: reading spec file: %v\n", err)
		os.Exit(exitSpecLoadError)
	}

	spec, err := parser.Parse(string(src))
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: parsing spec: %v\n", err)
		os.Exit(exitSpecLoadError)
	}

	ctx, err := typecheck.Check(spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: type error: %v\n", err)
		os.Exit(exitTypeError)
	}

	preprocess.Run(spec)

	return spec, ctx, evaluator.New(spec, ctx)
}
