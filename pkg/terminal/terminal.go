// Package terminal implements the REPL front end (spec.md §6):
// reading a command per line, dispatching it against a live
// pkg/debugger.Debugger, and reporting results and errors back to the
// user. Grounded on the teacher's pkg/terminal/terminal.go, adapted
// from an RPC client driving a remote headless server to direct,
// in-process calls against a Debugger.
package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/vajexal/dbg/pkg/config"
	"github.com/vajexal/dbg/pkg/debugger"
)

const historyFileName = ".dbg_history"

// ExitRequestError signals that the `quit` command was issued; Run
// treats it as a clean shutdown rather than a command failure.
type ExitRequestError struct{}

func (ExitRequestError) Error() string { return "exit requested" }

// Term owns the REPL's line editor, command table, and the Debugger it
// drives.
type Term struct {
	Debugger *debugger.Debugger
	conf     *config.Config

	prompt string
	line   *liner.State
	cmds   *Commands
	stdout io.Writer

	// currentFile tracks the file of the last reported source location,
	// used by `break`'s bare-line form (spec.md §6).
	currentFile string
}

// New builds a Term around dbg, merging any user-configured command
// aliases on top of the built-in command table.
func New(dbg *debugger.Debugger, conf *config.Config) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	return &Term{
		Debugger: dbg,
		conf:     conf,
		prompt:   "(dbg) ",
		line:     liner.NewLiner(),
		cmds:     cmds,
		stdout:   newOutput(),
	}
}

func newOutput() io.Writer {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}

// Run executes the REPL loop until `quit`, EOF, or an unrecoverable
// prompt failure, returning the process exit code (spec.md §6).
func (t *Term) Run() (int, error) {
	defer t.line.Close()

	t.line.SetCompleter(t.complete)

	if histPath, err := config.FilePath(historyFileName); err == nil {
		if f, err := os.Open(histPath); err == nil {
			t.line.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Fprintln(t.stdout, "Type 'help' for the list of commands.")

	for {
		line, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "quit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("terminal: prompt failed: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		if err := t.cmds.Call(line, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}
	l = strings.TrimSuffix(l, "\n")
	if strings.TrimSpace(l) != "" {
		t.line.AppendHistory(l)
	}
	return l, nil
}

func (t *Term) complete(line string) []string {
	return t.cmds.completions.PrefixSearch(strings.ToLower(line))
}

func (t *Term) handleExit() (int, error) {
	if t.Debugger.State() != debugger.NoInferior {
		if err := t.Debugger.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "error killing inferior: %v\n", err)
		}
	}
	if histPath, err := config.FilePath(historyFileName); err == nil {
		if f, err := os.Create(histPath); err == nil {
			t.line.WriteHistory(f)
			f.Close()
		}
	}
	return 0, nil
}

// substitutePath rewrites a DWARF-recorded source path per the
// config's substitute-path rules (spec.md §9's path-substitution
// note, generalized from the teacher's identically-named helper).
func (t *Term) substitutePath(path string) string {
	if t.conf == nil {
		return path
	}
	return t.conf.SubstitutePath.Apply(path)
}

// formatLine renders a source line number for a location report,
// wrapped in the user's configured ANSI color (source-list-line-color
// in config.yml) whenever that setting is nonzero, whether or not the
// output is a terminal, matching the teacher's line-number coloring in
// source listings.
func (t *Term) formatLine(line int) string {
	if t.conf == nil || t.conf.SourceListLineColor == 0 {
		return fmt.Sprintf("%d", line)
	}
	return fmt.Sprintf("\x1b[%dm%d\x1b[0m", t.conf.SourceListLineColor, line)
}
