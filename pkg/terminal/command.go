package terminal

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/vajexal/dbg/pkg/breakpoint"
	"github.com/vajexal/dbg/pkg/eval"
	"github.com/vajexal/dbg/pkg/inferior"
)

// cmdfunc is the signature every REPL command implements: given the
// remainder of the input line after the command word, act on t and
// report any failure for Run to print.
type cmdfunc func(t *Term, args string) error

type command struct {
	aliases []string
	helpMsg string
	fn      cmdfunc
}

func (c command) match(word string) bool {
	for _, a := range c.aliases {
		if a == word {
			return true
		}
	}
	return false
}

// Commands is the dispatch table for every REPL command (spec.md §6),
// grounded on the teacher's pkg/terminal/command.go DebugCommands/Call,
// trimmed to this core's single-client, no-RPC command set.
type Commands struct {
	cmds        []command
	completions *trie.Trie
}

// DebugCommands builds the built-in command table.
func DebugCommands() *Commands {
	c := &Commands{}
	c.cmds = []command{
		{aliases: []string{"help", "h"}, fn: cmdHelp, helpMsg: "Prints the list of commands, or help for one command."},
		{aliases: []string{"breakpoint", "break", "b"}, fn: cmdBreak, helpMsg: "breakpoint <file:line>|<line>|<function> — sets a breakpoint."},
		{aliases: []string{"remove", "rm"}, fn: cmdRemove, helpMsg: "remove <file:line>|<function> — removes a breakpoint."},
		{aliases: []string{"list", "l"}, fn: cmdList, helpMsg: "list — prints the breakpoint catalog, one per line."},
		{aliases: []string{"enable"}, fn: cmdEnable, helpMsg: "enable <file:line>|<function> — (re)installs a breakpoint."},
		{aliases: []string{"disable"}, fn: cmdDisable, helpMsg: "disable <file:line>|<function> — uninstalls a breakpoint without forgetting it."},
		{aliases: []string{"clear"}, fn: cmdClear, helpMsg: "clear — removes every breakpoint."},
		{aliases: []string{"run", "r"}, fn: cmdRun, helpMsg: "run — spawns the inferior and resumes it."},
		{aliases: []string{"stop"}, fn: cmdStop, helpMsg: "stop — kills the inferior."},
		{aliases: []string{"continue", "cont", "c"}, fn: cmdContinue, helpMsg: "continue — resumes a stopped inferior."},
		{aliases: []string{"step"}, fn: cmdStep, helpMsg: "step — runs until the source line changes, stepping over calls."},
		{aliases: []string{"step-in"}, fn: cmdStepIn, helpMsg: "step-in — like step, but stops on entering a call."},
		{aliases: []string{"step-out"}, fn: cmdStepOut, helpMsg: "step-out — runs until the current function returns."},
		{aliases: []string{"print", "p"}, fn: cmdPrint, helpMsg: "print [path] — prints one variable, or every variable in scope."},
		{aliases: []string{"set"}, fn: cmdSet, helpMsg: "set <path> [=] <value> — assigns value to a variable."},
		{aliases: []string{"location", "loc"}, fn: cmdLocation, helpMsg: "location — prints the current source location."},
		{aliases: []string{"quit", "q"}, fn: cmdQuit, helpMsg: "quit — exits the debugger."},
	}

	c.completions = trie.New()
	for _, cmd := range c.cmds {
		for _, a := range cmd.aliases {
			c.completions.Add(a, nil)
		}
	}
	return c
}

// Merge adds user-configured aliases on top of the built-ins, matching
// command names to their canonical first alias.
func (c *Commands) Merge(extra map[string][]string) {
	for canonical, aliases := range extra {
		for i := range c.cmds {
			if c.cmds[i].match(canonical) {
				c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
				for _, a := range aliases {
					c.completions.Add(a, nil)
				}
				break
			}
		}
	}
}

func (c *Commands) find(word string) cmdfunc {
	word = strings.ToLower(word)
	for _, cmd := range c.cmds {
		if cmd.match(word) {
			return cmd.fn
		}
	}
	return nil
}

// Call tokenizes line via the bash-like cosiner/argv grammar (so
// quoted strings in `set x = "a b"` survive whitespace splitting),
// then dispatches the first token as the command word.
func (c *Commands) Call(line string, t *Term) error {
	parsed, err := argv.Argv(line, nil, nil)
	if err != nil || len(parsed) == 0 || len(parsed[0]) == 0 {
		return fmt.Errorf("ParseError: could not tokenize %q", line)
	}
	word := parsed[0][0]
	rest := strings.Join(parsed[0][1:], " ")

	fn := c.find(word)
	if fn == nil {
		return fmt.Errorf("ParseError: unknown command %q", word)
	}
	return fn(t, rest)
}

func cmdHelp(t *Term, args string) error {
	args = strings.TrimSpace(args)
	if args != "" {
		word := strings.ToLower(args)
		for _, cmd := range t.cmds.cmds {
			if cmd.match(word) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return fmt.Errorf("ParseError: unknown command %q", args)
	}

	names := make([]string, 0, len(t.cmds.cmds))
	byName := make(map[string]string, len(t.cmds.cmds))
	for _, cmd := range t.cmds.cmds {
		byName[cmd.aliases[0]] = cmd.helpMsg
		names = append(names, cmd.aliases[0])
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(t.stdout, "  %-10s %s\n", n, byName[n])
	}
	return nil
}

func cmdBreak(t *Term, args string) error {
	spec, err := parseSpec(strings.TrimSpace(args), t.currentFile)
	if err != nil {
		return err
	}
	bp, err := t.Debugger.AddBreakpoint(spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint %d set at %s\n", bp.ID, bp.Specifier)
	return nil
}

func cmdRemove(t *Term, args string) error {
	spec, err := parseSpec(strings.TrimSpace(args), t.currentFile)
	if err != nil {
		return err
	}
	return t.Debugger.RemoveBreakpoint(spec)
}

func cmdList(t *Term, args string) error {
	for _, bp := range t.Debugger.ListBreakpoints() {
		status := ""
		if !bp.Enabled {
			status = " (disabled)"
		}
		fmt.Fprintf(t.stdout, "%s%s\n", bp.Specifier, status)
	}
	return nil
}

func cmdEnable(t *Term, args string) error {
	spec, err := parseSpec(strings.TrimSpace(args), t.currentFile)
	if err != nil {
		return err
	}
	return t.Debugger.EnableBreakpoint(spec)
}

func cmdDisable(t *Term, args string) error {
	spec, err := parseSpec(strings.TrimSpace(args), t.currentFile)
	if err != nil {
		return err
	}
	return t.Debugger.DisableBreakpoint(spec)
}

func cmdClear(t *Term, args string) error {
	return t.Debugger.ClearBreakpoints()
}

func cmdRun(t *Term, args string) error {
	ev, err := t.Debugger.Run()
	if err != nil {
		return err
	}
	return t.reportStop(ev)
}

func cmdStop(t *Term, args string) error {
	if err := t.Debugger.Stop(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "Inferior stopped.")
	return nil
}

func cmdContinue(t *Term, args string) error {
	ev, err := t.Debugger.Continue()
	if err != nil {
		return err
	}
	return t.reportStop(ev)
}

func cmdStep(t *Term, args string) error {
	ev, err := t.Debugger.Step()
	if err != nil {
		return err
	}
	return t.reportStop(ev)
}

func cmdStepIn(t *Term, args string) error {
	ev, err := t.Debugger.StepIn()
	if err != nil {
		return err
	}
	return t.reportStop(ev)
}

func cmdStepOut(t *Term, args string) error {
	ev, err := t.Debugger.StepOut()
	if err != nil {
		return err
	}
	return t.reportStop(ev)
}

func cmdLocation(t *Term, args string) error {
	loc, err := t.Debugger.Location()
	if err != nil {
		return err
	}
	t.currentFile = loc.File
	fmt.Fprintf(t.stdout, "%s:%s\n", t.substitutePath(loc.File), t.formatLine(loc.Line))
	return nil
}

func cmdPrint(t *Term, args string) error {
	args = strings.TrimSpace(args)
	ev, pc, err := t.Debugger.Evaluator()
	if err != nil {
		return err
	}
	if t.conf != nil && t.conf.MaxStringLen != nil {
		ev.MaxStringLen = *t.conf.MaxStringLen
	}

	if args == "" {
		vars, err := ev.Index.VariablesInScope(pc - ev.LoadBase)
		if err != nil {
			return fmt.Errorf("eval: %w", err)
		}

		printedLocal := false
		printedBlankBeforeGlobals := false
		for _, v := range vars {
			if v.IsGlobal && printedLocal && !printedBlankBeforeGlobals {
				fmt.Fprintln(t.stdout)
				printedBlankBeforeGlobals = true
			}
			if err := printOne(t, ev, pc, v.Name); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", v.Name, err)
				continue
			}
			if !v.IsGlobal {
				printedLocal = true
			}
		}
		return nil
	}
	return printOne(t, ev, pc, args)
}

func printOne(t *Term, ev *eval.Evaluator, pc uint64, pathStr string) error {
	path, err := eval.ParsePath(pathStr)
	if err != nil {
		return fmt.Errorf("ParseError: %v", err)
	}
	resolved, err := ev.Resolve(path, pc)
	if err != nil {
		return err
	}
	val, err := ev.Print(resolved)
	if err != nil {
		return err
	}
	if resolved.Type.Name != "" {
		fmt.Fprintf(t.stdout, "%s %s = %s\n", resolved.Type.Name, pathStr, val)
	} else {
		fmt.Fprintf(t.stdout, "%s = %s\n", pathStr, val)
	}
	return nil
}

func cmdSet(t *Term, args string) error {
	pathStr, valStr, ok := splitSetArgs(args)
	if !ok {
		return fmt.Errorf("ParseError: usage: set <path> [=] <value>")
	}
	ev, pc, err := t.Debugger.Evaluator()
	if err != nil {
		return err
	}
	path, err := eval.ParsePath(pathStr)
	if err != nil {
		return fmt.Errorf("ParseError: %v", err)
	}
	resolved, err := ev.Resolve(path, pc)
	if err != nil {
		return err
	}
	lit, err := eval.ParseLiteral(valStr)
	if err != nil {
		return err
	}
	return ev.Set(resolved, lit)
}

func cmdQuit(t *Term, args string) error {
	return ExitRequestError{}
}

// splitSetArgs splits "path = value" or "path value" into its two
// halves, accepting an optional "=" per spec.md §6.
func splitSetArgs(args string) (path, value string, ok bool) {
	args = strings.TrimSpace(args)
	if idx := strings.Index(args, "="); idx >= 0 {
		path = strings.TrimSpace(args[:idx])
		value = strings.TrimSpace(args[idx+1:])
	} else if idx := strings.IndexAny(args, " \t"); idx >= 0 {
		path = strings.TrimSpace(args[:idx])
		value = strings.TrimSpace(args[idx+1:])
	}
	return path, value, path != "" && value != ""
}

// parseSpec parses a breakpoint location argument into a
// breakpoint.Specifier: "file:line", a bare line number (resolved
// against currentFile), or a bare function name.
func parseSpec(args string, currentFile string) (breakpoint.Specifier, error) {
	if args == "" {
		return breakpoint.Specifier{}, fmt.Errorf("ParseError: expected a location")
	}
	if idx := strings.LastIndex(args, ":"); idx >= 0 {
		file := args[:idx]
		line, err := strconv.Atoi(args[idx+1:])
		if err != nil {
			return breakpoint.Specifier{}, fmt.Errorf("ParseError: bad line number in %q", args)
		}
		return breakpoint.Specifier{Kind: "file-line", File: file, Line: line}, nil
	}
	if line, err := strconv.Atoi(args); err == nil {
		if currentFile == "" {
			return breakpoint.Specifier{}, fmt.Errorf("ParseError: no current file for bare line %q", args)
		}
		return breakpoint.Specifier{Kind: "bare-line", File: currentFile, Line: line}, nil
	}
	return breakpoint.Specifier{Kind: "function", Func: args}, nil
}

// reportStop prints the outcome of a run/continue/step command: the
// exit status if the inferior is gone, otherwise the new source
// location, and refreshes currentFile for subsequent bare-line
// breakpoints.
func (t *Term) reportStop(ev inferior.StopEvent) error {
	switch ev.Kind {
	case inferior.StopExited:
		fmt.Fprintf(t.stdout, "Process exited with status %d\n", ev.ExitStatus)
		return nil
	case inferior.StopSignalled:
		fmt.Fprintf(t.stdout, "Process terminated by signal %v\n", ev.Signal)
		return nil
	}

	loc, err := t.Debugger.Location()
	if err != nil {
		return err
	}
	t.currentFile = loc.File
	fmt.Fprintf(t.stdout, "%s:%s\n", t.substitutePath(loc.File), t.formatLine(loc.Line))
	return nil
}
