package main

import (
	"fmt"
	"os"

	"github.com/ptltl/monitor/internal/driver"
	"github.com/ptltl/monitor/internal/tracescrub"
	"github.com/ptltl/monitor/internal/violationlog"
	"github.com/spf13/cobra"
)

func runMonitor(cmd *cobra.Command, args []string) error {
	specPath := args[0]
	tag := "generic"
	if len(args) == 2 {
		tag = args[1]
	}
	if !validProtocolTag(tag) {
		fmt.Fprintf(os.Stderr, "monitor: unknown protocol tag %q\n", tag)
		os.Exit(exitSpecLoadError)
	}

	logger := newLogger()
	spec, ctx, eval := loadSpec(specPath)

	scrub, err := tracescrub.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: initializing trace scrubber: %v\n", err)
		os.Exit(exitEvaluatorFail)
	}

	var vlogOut *os.File = os.Stderr
	if violationLog != "" {
		f, err := os.OpenFile(violationLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "monitor: opening violation log: %v\n", err)
			os.Exit(exitEvaluatorFail)
		}
		defer f.Close()
		vlogOut = f
	}
	vlog := violationlog.New(vlogOut, nil)

	logFn := func(format string, fargs ...any) {
		logger.Debug(fmt.Sprintf(format, fargs...))
	}

	d := driver.New(spec, ctx, eval, tag, os.Stdout, vlog, scrub, logFn)
	if err := d.Run(os.Stdin); err != nil {
		if _, ok := err.(*driver.FatalError); ok {
			fmt.Fprintf(os.Stderr, "monitor: fatal evaluator error: %v\n", err)
			os.Exit(exitEvaluatorFail)
		}
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(exitEvaluatorFail)
	}
	return nil
}

func validProtocolTag(tag string) bool {
	switch tag {
	case "ssh", "rtsp", "dtls", "sip", "dnsmasq", "dns", "ftp", "generic":
		return true
	default:
		return false
	}
}
