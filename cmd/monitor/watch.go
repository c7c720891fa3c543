package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <spec-path>",
	Short: "Re-lint a spec file on every save",
	Long: `watch layers live re-linting on top of lint: it re-parses and
re-type-checks the spec file whenever it changes on disk. It never
touches a running evaluator — use it while authoring a spec, not while
monitoring a live session.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	path := args[0]
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("monitor watch: resolving path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("monitor watch: starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("monitor watch: watching directory: %w", err)
	}

	relint := func() {
		if err := lintFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return
		}
		fmt.Printf("%s: ok\n", path)
	}

	relint()
	fmt.Fprintf(os.Stderr, "monitor watch: watching %s (ctrl-c to stop)\n", abs)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				relint()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "monitor watch: %v\n", err)
		}
	}
}
