// Package debugger is the Execution Director (spec.md §4.5): the
// top-level state machine that drives run/continue/step/step-in/
// step-out/stop by composing the Inferior Controller, Breakpoint
// Manager, and DWARF Index. Grounded on proctl/proctl.go's
// Continue/Next/Step and original_source/src/session.rs's
// step/step_in/step_out/rewind/check_func_prologue/get_func_return_addr,
// adapted from delve's Go-runtime-aware stepping to this core's plain
// single-instruction/frame-pointer approach.
package debugger

import (
	"encoding/binary"
	"fmt"

	"github.com/vajexal/dbg/pkg/breakpoint"
	"github.com/vajexal/dbg/pkg/dwarfindex"
	"github.com/vajexal/dbg/pkg/eval"
	"github.com/vajexal/dbg/pkg/inferior"
)

// State is the debugger's top-level state (spec.md §3).
type State int

const (
	NoInferior State = iota
	Running
	Stopped
)

// ErrNotRunning is returned for commands issued in an illegal state.
type ErrNotRunning struct{ Command string }

func (e ErrNotRunning) Error() string { return fmt.Sprintf("NotRunning: %s", e.Command) }

// ErrAlreadyRunning guards `run` against a live inferior.
type ErrAlreadyRunning struct{}

func (ErrAlreadyRunning) Error() string { return "AlreadyRunning" }

// funcProloguePrefix is the canonical x86_64 SysV unoptimized-compile
// frame setup: endbr64; push %rbp; mov %rsp,%rbp. step-out verifies
// this before trusting rbp+8 as a return address, matching
// original_source/src/session.rs's check_func_prologue /
// FUNC_PROLOGUE_MAGIC_BYTES.
var funcProloguePrefix = []byte{0xf3, 0x0f, 0x1e, 0xfa, 0x55, 0x48, 0x89, 0xe5}

// Debugger owns one session's state machine: at most one inferior at a
// time, the breakpoint catalog (which survives across runs), and the
// immutable DWARF Index built once at start-up.
type Debugger struct {
	Path  string
	Argv  []string
	Index *dwarfindex.Index
	BPs   *breakpoint.Manager

	state    State
	inf      *inferior.Inferior
	loadBase uint64
}

// New wires a Debugger around an already-built DWARF Index and a fresh
// breakpoint catalog (so breakpoints persist across runs of the same
// binary, per spec.md §3's lifecycle note).
func New(path string, argv []string, index *dwarfindex.Index) *Debugger {
	return &Debugger{Path: path, Argv: argv, Index: index, BPs: breakpoint.NewManager(), state: NoInferior}
}

// State reports the current top-level state.
func (d *Debugger) State() State { return d.state }

// Run spawns a new inferior, resolves the load base, installs enabled
// breakpoints, and resumes. Fails with ErrAlreadyRunning if an
// inferior already exists in Running or Stopped state.
func (d *Debugger) Run() (inferior.StopEvent, error) {
	if d.state != NoInferior {
		return inferior.StopEvent{}, ErrAlreadyRunning{}
	}

	inf, err := inferior.Spawn(d.Path, d.Argv)
	if err != nil {
		return inferior.StopEvent{}, err
	}
	d.inf = inf
	d.state = Stopped

	// A non-PIE (ET_EXEC) binary's DWARF addresses are already absolute;
	// only a PIE (ET_DYN) binary needs the /proc/PID/maps load bias, per
	// spec.md §9's PIE/non-PIE distinction.
	var base uint64
	if d.Index.IsPIE() {
		base, err = inf.LoadBase(d.Path)
		if err != nil {
			// No matching /proc/maps entry under this heuristic; treat as
			// zero load bias rather than failing the run outright.
			base = 0
		}
	}
	d.loadBase = base

	if err := d.BPs.InstallAll(d.inf, d.loadBase); err != nil {
		return inferior.StopEvent{}, err
	}

	return d.resumeAndWait()
}

// Continue resumes a stopped inferior.
func (d *Debugger) Continue() (inferior.StopEvent, error) {
	if d.state != Stopped {
		return inferior.StopEvent{}, ErrNotRunning{Command: "continue"}
	}
	return d.resumeAndWait()
}

// resumeAndWait implements spec.md §4.5's shared resume-and-wait
// sequence: continue_exec, wait_stop, and on a breakpoint-hit, the
// hit-handling protocol followed by reporting back to Stopped.
func (d *Debugger) resumeAndWait() (inferior.StopEvent, error) {
	d.state = Running
	if err := d.inf.ContinueExec(0); err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	return d.waitAndClassify()
}

// waitAndClassify blocks on wait_stop and disambiguates a SIGTRAP stop
// into breakpoint-hit versus single-step-complete using the current
// breakpoint catalog, running the hit-handling protocol for a real hit.
func (d *Debugger) waitAndClassify() (inferior.StopEvent, error) {
	ev, err := d.inf.WaitStop()
	if err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}

	switch ev.Kind {
	case inferior.StopExited, inferior.StopSignalled:
		d.state = NoInferior
		d.inf.Close()
		d.inf = nil
		return ev, nil
	}

	regs, err := d.inf.ReadRegs()
	if err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}

	if bp, ok := d.BPs.AtBreakpoint(regs.PC(), d.loadBase); ok {
		if err := d.BPs.StepOverCurrent(bp, d.loadBase, d.inf, d.inf, func() error {
			if err := d.inf.SingleStep(); err != nil {
				return err
			}
			_, err := d.inf.WaitStop()
			return err
		}); err != nil {
			return inferior.StopEvent{}, err
		}
		d.state = Stopped
		return inferior.StopEvent{Kind: inferior.StopBreakpoint}, nil
	}

	d.state = Stopped
	return inferior.StopEvent{Kind: inferior.StopSingleStep}, nil
}

func (d *Debugger) handleGone(cause error) error {
	d.state = NoInferior
	if d.inf != nil {
		d.inf.Close()
		d.inf = nil
	}
	return fmt.Errorf("InferiorGone: %w", cause)
}

// Stop kills the inferior and transitions to NoInferior. Per spec.md
// §5, uninstall_all is elided since the address space is destroyed
// anyway; the breakpoint catalog itself (saved bytes) is untouched so
// a subsequent `run` reuses it.
func (d *Debugger) Stop() error {
	if d.state == NoInferior {
		return ErrNotRunning{Command: "stop"}
	}
	err := d.inf.Kill()
	d.inf.Close()
	d.inf = nil
	d.state = NoInferior
	for _, bp := range d.BPs.List() {
		bp.Installed = false
	}
	return err
}

// Location returns the current SourceLocation.
func (d *Debugger) Location() (dwarfindex.SourceLocation, error) {
	if d.state != Stopped {
		return dwarfindex.SourceLocation{}, ErrNotRunning{Command: "location"}
	}
	pc, err := d.pc()
	if err != nil {
		return dwarfindex.SourceLocation{}, err
	}
	loc, ok := d.Index.AddrToSource(pc - d.loadBase)
	if !ok {
		return dwarfindex.SourceLocation{}, fmt.Errorf("MalformedDebugInfo: no source location for pc %#x", pc)
	}
	return loc, nil
}

// PC returns the inferior's current instruction pointer, exported for
// collaborators (pkg/eval) that need it to resolve in-scope variables.
func (d *Debugger) PC() (uint64, error) { return d.pc() }

func (d *Debugger) pc() (uint64, error) {
	regs, err := d.inf.ReadRegs()
	if err != nil {
		return 0, d.handleGone(err)
	}
	return regs.PC(), nil
}

// LoadBase exposes the resolved PIE load bias.
func (d *Debugger) LoadBase() uint64 { return d.loadBase }

// Inferior exposes the live inferior for collaborators (pkg/eval) that
// need direct register/memory access. Returns nil when NoInferior.
func (d *Debugger) Inferior() *inferior.Inferior { return d.inf }

func (d *Debugger) requireStopped(cmd string) error {
	if d.state != Stopped {
		return ErrNotRunning{Command: cmd}
	}
	return nil
}

// AddBreakpoint resolves and registers spec, installing it immediately
// if the inferior is currently stopped.
func (d *Debugger) AddBreakpoint(spec breakpoint.Specifier) (*breakpoint.Breakpoint, error) {
	bp, err := d.BPs.Add(spec, d.Index)
	if err != nil {
		return nil, err
	}
	if d.state == Stopped {
		if err := d.BPs.InstallAll(d.inf, d.loadBase); err != nil {
			return nil, err
		}
	}
	return bp, nil
}

// RemoveBreakpoint deletes the breakpoint matching spec.
func (d *Debugger) RemoveBreakpoint(spec breakpoint.Specifier) error {
	if d.state == Stopped {
		return d.BPs.Remove(spec, d.inf, d.loadBase)
	}
	return d.BPs.Remove(spec, noopMem{}, d.loadBase)
}

// EnableBreakpoint marks spec enabled, installing it immediately if the
// inferior is currently stopped.
func (d *Debugger) EnableBreakpoint(spec breakpoint.Specifier) error {
	if d.state == Stopped {
		return d.BPs.Enable(spec, d.inf, d.loadBase, true)
	}
	return d.BPs.Enable(spec, noopMem{}, d.loadBase, false)
}

// DisableBreakpoint marks spec disabled, uninstalling it immediately if
// the inferior is currently stopped.
func (d *Debugger) DisableBreakpoint(spec breakpoint.Specifier) error {
	if d.state == Stopped {
		return d.BPs.Disable(spec, d.inf, d.loadBase)
	}
	return d.BPs.Disable(spec, noopMem{}, d.loadBase)
}

// ListBreakpoints returns the catalog in insertion order.
func (d *Debugger) ListBreakpoints() []*breakpoint.Breakpoint { return d.BPs.List() }

// ClearBreakpoints removes every breakpoint, uninstalling each one
// first if the inferior is currently stopped.
func (d *Debugger) ClearBreakpoints() error {
	if d.state == Stopped {
		if err := d.BPs.UninstallAll(d.inf, d.loadBase); err != nil {
			return err
		}
	}
	d.BPs.Clear()
	return nil
}

// noopMem satisfies breakpoint.MemAccess for catalog mutations made
// while NoInferior, where there is no live memory to touch.
type noopMem struct{}

func (noopMem) ReadMem(addr uint64, buf []byte) error  { return fmt.Errorf("breakpoint: no inferior") }
func (noopMem) WriteMem(addr uint64, buf []byte) error { return nil }

// Evaluator builds an expression evaluator bound to the inferior's
// current register snapshot, for pkg/terminal's print/set commands.
func (d *Debugger) Evaluator() (*eval.Evaluator, uint64, error) {
	if err := d.requireStopped("print/set"); err != nil {
		return nil, 0, err
	}
	regs, err := d.inf.ReadRegs()
	if err != nil {
		return nil, 0, d.handleGone(err)
	}
	return &eval.Evaluator{Index: d.Index, Mem: d.inf, Regs: regs, LoadBase: d.loadBase}, regs.PC(), nil
}

// Step runs until the source line changes from the one currently
// stopped at, stepping over (not into) any calls encountered along the
// way, grounded on original_source/src/session.rs's step and
// proctl/threads.go's Next.
func (d *Debugger) Step() (inferior.StopEvent, error) {
	if err := d.requireStopped("step"); err != nil {
		return inferior.StopEvent{}, err
	}
	return d.stepLoop()
}

// StepIn single-steps one instruction; if that lands exactly on a new
// function's entry address it stops there. Otherwise it keeps
// single-stepping (following calls rather than stepping over them, as
// Step does) until the next line boundary, per
// original_source/src/session.rs's step_in.
func (d *Debugger) StepIn() (inferior.StopEvent, error) {
	if err := d.requireStopped("step-in"); err != nil {
		return inferior.StopEvent{}, err
	}
	beforeFn, _ := d.Index.EnclosingFunction(mustSub(d))

	ev, err := d.stepInstruction()
	if err != nil || ev.Kind == inferior.StopExited || ev.Kind == inferior.StopSignalled {
		return ev, err
	}

	regs, err := d.inf.ReadRegs()
	if err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	pc := regs.PC() - d.loadBase
	if afterFn, ok := d.Index.EnclosingFunction(pc); ok && pc == afterFn.LowPC {
		if beforeFn == nil || afterFn.LowPC != beforeFn.LowPC {
			d.state = Stopped
			return inferior.StopEvent{Kind: inferior.StopSingleStep}, nil
		}
	}
	return d.stepIntoLoop()
}

// StepOut resumes until the current function returns to its caller,
// verifying the function's frame-pointer prologue before trusting the
// computed return address, per original_source/src/session.rs's
// step_out/check_func_prologue/get_func_return_addr.
func (d *Debugger) StepOut() (inferior.StopEvent, error) {
	if err := d.requireStopped("step-out"); err != nil {
		return inferior.StopEvent{}, err
	}
	retAddr, err := d.returnAddrFromFrame()
	if err != nil {
		return inferior.StopEvent{}, err
	}
	return d.runToAddr(retAddr)
}

// stepLoop is Step's loop body: keep single-stepping, running over any
// call encountered, until the current source location differs from
// the one at loop entry.
func (d *Debugger) stepLoop() (inferior.StopEvent, error) {
	startLoc, err := d.Location()
	if err != nil {
		return inferior.StopEvent{}, err
	}
	regs, err := d.inf.ReadRegs()
	if err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	startSP := regs.SP()

	for {
		ev, err := d.stepInstruction()
		if err != nil {
			return inferior.StopEvent{}, err
		}
		if ev.Kind == inferior.StopExited || ev.Kind == inferior.StopSignalled {
			return ev, nil
		}

		regs, err = d.inf.ReadRegs()
		if err != nil {
			return inferior.StopEvent{}, d.handleGone(err)
		}

		if regs.SP() < startSP {
			retAddr, err := d.readWordAt(regs.SP())
			if err != nil {
				return inferior.StopEvent{}, err
			}
			ev, err = d.runToAddr(retAddr)
			if err != nil {
				return inferior.StopEvent{}, err
			}
			if ev.Kind == inferior.StopExited || ev.Kind == inferior.StopSignalled {
				return ev, nil
			}
			continue
		}

		loc, ok := d.Index.AddrToSource(regs.PC() - d.loadBase)
		if !ok {
			continue
		}
		if loc != startLoc {
			return inferior.StopEvent{Kind: inferior.StopSingleStep}, nil
		}
	}
}

// stepIntoLoop is StepIn's fallback path: unlike stepLoop, it never
// runs a call to completion on an SP decrease, so a single-step that
// lands inside a callee stops there as soon as the source location
// changes, per original_source/src/session.rs's step_in (lines
// 186-205), which is a pure single-step-until-line-change loop.
func (d *Debugger) stepIntoLoop() (inferior.StopEvent, error) {
	startLoc, err := d.Location()
	if err != nil {
		return inferior.StopEvent{}, err
	}

	for {
		ev, err := d.stepInstruction()
		if err != nil {
			return inferior.StopEvent{}, err
		}
		if ev.Kind == inferior.StopExited || ev.Kind == inferior.StopSignalled {
			return ev, nil
		}

		pc, err := d.pc()
		if err != nil {
			return inferior.StopEvent{}, err
		}
		loc, ok := d.Index.AddrToSource(pc - d.loadBase)
		if !ok {
			continue
		}
		if loc != startLoc {
			return inferior.StopEvent{Kind: inferior.StopSingleStep}, nil
		}
	}
}

// stepInstruction executes exactly one machine instruction and
// classifies the result, updating d.state.
func (d *Debugger) stepInstruction() (inferior.StopEvent, error) {
	d.state = Running
	if err := d.inf.SingleStep(); err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	ev, err := d.inf.WaitStop()
	if err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	if ev.Kind == inferior.StopExited || ev.Kind == inferior.StopSignalled {
		d.state = NoInferior
		d.inf.Close()
		d.inf = nil
		return ev, nil
	}
	d.state = Stopped
	return ev, nil
}

// runToAddr places a temporary trap at a runtime address (a call's
// return address, or the current function's caller-return address)
// and resumes until it fires, restoring the original byte and
// rewinding the instruction pointer back onto it afterward, matching
// proctl/threads.go's continueToReturnAddress. If addr already carries
// a live user breakpoint, it defers to the normal resume-and-classify
// path instead of laying a second trap over it. If a different
// installed breakpoint fires first (e.g. one set inside the callee
// being stepped over), the temporary trap is torn down and the real
// breakpoint's hit-handling protocol runs instead of rewinding to addr.
func (d *Debugger) runToAddr(addr uint64) (inferior.StopEvent, error) {
	if existing, ok := d.BPs.Lookup(addr - d.loadBase); ok && existing.Installed {
		return d.resumeAndWait()
	}

	orig := make([]byte, 1)
	if err := d.inf.ReadMem(addr, orig); err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	if err := d.inf.WriteMem(addr, []byte{0xCC}); err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}

	d.state = Running
	if err := d.inf.ContinueExec(0); err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	ev, err := d.inf.WaitStop()
	if err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	if ev.Kind == inferior.StopExited || ev.Kind == inferior.StopSignalled {
		d.state = NoInferior
		d.inf.Close()
		d.inf = nil
		return ev, nil
	}

	regs, err := d.inf.ReadRegs()
	if err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}

	if bp, ok := d.BPs.AtBreakpoint(regs.PC(), d.loadBase); ok {
		// A different installed breakpoint fired before control reached
		// addr (common during step-over/step-out when a user breakpoint
		// sits inside the callee). Clean up the temporary trap and run
		// the normal hit-handling protocol for the breakpoint that
		// actually fired, rather than blindly restoring and rewinding to
		// addr and silently skipping it.
		if err := d.inf.WriteMem(addr, orig); err != nil {
			return inferior.StopEvent{}, d.handleGone(err)
		}
		if err := d.BPs.StepOverCurrent(bp, d.loadBase, d.inf, d.inf, func() error {
			if err := d.inf.SingleStep(); err != nil {
				return err
			}
			_, err := d.inf.WaitStop()
			return err
		}); err != nil {
			return inferior.StopEvent{}, err
		}
		d.state = Stopped
		return inferior.StopEvent{Kind: inferior.StopBreakpoint}, nil
	}

	if err := d.inf.WriteMem(addr, orig); err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	if err := d.inf.SetPC(addr); err != nil {
		return inferior.StopEvent{}, d.handleGone(err)
	}
	d.state = Stopped
	return ev, nil
}

func (d *Debugger) readWordAt(addr uint64) (uint64, error) {
	buf := make([]byte, 8)
	if err := d.inf.ReadMem(addr, buf); err != nil {
		return 0, d.handleGone(err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// returnAddrFromFrame reads the current frame's return address,
// following original_source/src/session.rs's get_func_return_addr:
// the exact stack slot depends on how far execution has progressed
// into the function's prologue, since the frame pointer isn't valid
// until `push %rbp; mov %rsp,%rbp` has executed.
func (d *Debugger) returnAddrFromFrame() (uint64, error) {
	fn, ok := d.Index.EnclosingFunction(mustSub(d))
	if !ok {
		return 0, fmt.Errorf("MalformedDebugInfo: no enclosing function")
	}

	entryBytes := make([]byte, len(funcProloguePrefix))
	if err := d.inf.ReadMem(fn.LowPC+d.loadBase, entryBytes); err != nil {
		return 0, err
	}
	if !bytesEqual(entryBytes, funcProloguePrefix) {
		return 0, fmt.Errorf("MalformedDebugInfo: function %s was not compiled with a standard frame pointer prologue", fn.Name)
	}

	pc, err := d.pc()
	if err != nil {
		return 0, err
	}
	regs, err := d.inf.ReadRegs()
	if err != nil {
		return 0, err
	}

	intoPrologue := pc - (fn.LowPC + d.loadBase)
	var slot uint64
	switch {
	case intoPrologue <= 4: // before "push %rbp" has executed
		slot = regs.SP()
	case intoPrologue <= 8: // rbp pushed, rsp not yet moved into rbp
		slot = regs.SP() + 8
	default: // full prologue executed; rbp is the canonical frame pointer
		slot = regs.FP() + 8
	}

	buf := make([]byte, 8)
	if err := d.inf.ReadMem(slot, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func mustSub(d *Debugger) uint64 {
	pc, _ := d.pc()
	return pc - d.loadBase
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
