// Command dbg is a source-level debugger for x86_64 Linux executables
// carrying DWARF debug info (spec.md §1). Grounded on the teacher's
// cmd/dlv/main.go, trimmed from delve's build/test/attach/headless
// subcommands down to this core's single positional-argument form:
// `dbg <executable-path>`.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vajexal/dbg/pkg/config"
	"github.com/vajexal/dbg/pkg/debugger"
	"github.com/vajexal/dbg/pkg/dwarfindex"
	"github.com/vajexal/dbg/pkg/logflags"
	"github.com/vajexal/dbg/pkg/terminal"
)

var (
	logFlag bool
	logSpec string
)

func main() {
	os.Exit(run())
}

func run() int {
	var exitCode int

	root := &cobra.Command{
		Use:   "dbg <executable-path>",
		Short: "dbg is an interactive source-level debugger for x86_64 Linux/DWARF executables.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runDebugger(args[0])
			exitCode = code
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().BoolVar(&logFlag, "log", false, "Enable subsystem logging.")
	root.Flags().StringVar(&logSpec, "log-output", "", "Comma separated list of subsystems to log: inferior, dwarf, eval.")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func runDebugger(path string) (int, error) {
	if err := logflags.Setup(logFlag, logSpec, os.Stderr); err != nil {
		return 1, err
	}

	if _, err := os.Stat(path); err != nil {
		return 1, fmt.Errorf("dbg: %w", err)
	}

	index, err := dwarfindex.Open(path)
	if err != nil {
		return 1, fmt.Errorf("dbg: MalformedDebugInfo: %w", err)
	}

	conf := config.Load()
	dbg := debugger.New(path, nil, index)
	t := terminal.New(dbg, conf)

	return t.Run()
}
