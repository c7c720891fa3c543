package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ptltl/monitor/internal/parser"
	"github.com/ptltl/monitor/internal/typecheck"
	"github.com/spf13/cobra"
)

var lintCmd = &cobra.Command{
	Use:   "lint <spec-path>",
	Short: "Parse and type-check a spec file without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  runLint,
}

func runLint(cmd *cobra.Command, args []string) error {
	if err := lintFile(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		var typeErr *typecheck.Error
		if errors.As(err, &typeErr) {
			os.Exit(exitTypeError)
		}
		os.Exit(exitSpecLoadError)
	}
	fmt.Printf("%s: ok\n", args[0])
	return nil
}

func lintFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("monitor lint: reading spec file: %w", err)
	}
	spec, err := parser.Parse(string(src))
	if err != nil {
		return fmt.Errorf("monitor lint: parsing spec: %w", err)
	}
	if _, err := typecheck.Check(spec); err != nil {
		return fmt.Errorf("monitor lint: type error: %w", err)
	}
	return nil
}
