// Package inferior wraps the OS-level ptrace primitives the debug
// engine drives the traced child with: spawn-and-trace, resume,
// single-step, wait-for-stop, and register/memory access. Grounded on
// proctl/ptrace_linux.go, proctl/threads_linux_amd64.go, and
// proctl/registers_linux_amd64.go, generalized from delve's
// multi-thread Go-process model down to this core's single-threaded
// contract (spec.md §4.2, §5).
package inferior

import (
	"fmt"
	"os"
	"syscall"

	"github.com/creack/pty"
	sys "golang.org/x/sys/unix"

	"github.com/vajexal/dbg/pkg/logflags"
)

// StopKind classifies what wait_stop observed.
type StopKind int

const (
	StopUnknown StopKind = iota
	StopBreakpoint
	StopSingleStep
	StopExited
	StopSignalled
)

// StopEvent is the semantic classification of a wait_stop result,
// mirroring spec.md §3's StopEvent tagged union.
type StopEvent struct {
	Kind       StopKind
	ExitStatus int
	Signal     sys.Signal
}

// Inferior is a single traced child process and its controlling pty.
type Inferior struct {
	Pid int
	pty *os.File
	tty *os.File
}

// Spawn forks path with argv, requesting ptrace on the child before
// exec so the parent receives the implicit SIGTRAP stop at the first
// instruction of the new image. The child's stdio is attached to a
// fresh pseudo-terminal (grounded in creack/pty's Start helper) so the
// traced program's terminal-dependent behavior (line buffering,
// signal-generating control characters) matches running it standalone,
// independent of the debugger's own controlling terminal.
func Spawn(path string, argv []string) (*Inferior, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("inferior: SpawnFailure: %w", err)
	}

	attr := &os.ProcAttr{
		Files: []*os.File{tty, tty, tty},
		Sys: &syscall.SysProcAttr{
			Ptrace:  true,
			Setsid:  true,
			Setctty: true,
			Ctty:    int(tty.Fd()),
		},
	}

	argvFull := append([]string{path}, argv...)
	proc, err := os.StartProcess(path, argvFull, attr)
	if err != nil {
		ptmx.Close()
		tty.Close()
		return nil, fmt.Errorf("inferior: SpawnFailure: %w", err)
	}

	var ws sys.WaitStatus
	if _, err := sys.Wait4(proc.Pid, &ws, 0, nil); err != nil {
		return nil, fmt.Errorf("inferior: SpawnFailure: initial wait: %w", err)
	}
	if !ws.Stopped() {
		return nil, fmt.Errorf("inferior: SpawnFailure: child did not stop at exec, status=%v", ws)
	}

	// PTRACE_O_EXITKILL ensures the child dies with us rather than
	// being orphaned if the debugger itself is killed.
	if err := sys.PtraceSetOptions(proc.Pid, sys.PTRACE_O_EXITKILL); err != nil {
		return nil, fmt.Errorf("inferior: SpawnFailure: %w", err)
	}

	if logflags.Inferior() {
		logflags.InferiorLogger().Debugf("spawned pid %d for %s %v", proc.Pid, path, argv)
	}
	return &Inferior{Pid: proc.Pid, pty: ptmx, tty: tty}, nil
}

// Close releases the pty file descriptors. Does not touch the child
// process; callers are responsible for killing it first via Kill.
func (inf *Inferior) Close() {
	inf.pty.Close()
	inf.tty.Close()
}

// Kill terminates the inferior and reaps it, for use on `stop` and on
// debugger shutdown.
func (inf *Inferior) Kill() error {
	if err := sys.Kill(inf.Pid, sys.SIGKILL); err != nil && err != sys.ESRCH {
		return fmt.Errorf("inferior: %w", err)
	}
	var ws sys.WaitStatus
	sys.Wait4(inf.Pid, &ws, 0, nil)
	return nil
}

// ContinueExec resumes the child, optionally forwarding a pending
// signal. Per spec.md §4.2's ordering rule, every ContinueExec must be
// followed by exactly one WaitStop before the next resume.
func (inf *Inferior) ContinueExec(sig int) error {
	if err := sys.PtraceCont(inf.Pid, sig); err != nil {
		return fmt.Errorf("inferior: InferiorGone: %w", err)
	}
	return nil
}

// SingleStep instructs the kernel to execute exactly one instruction
// in the child before delivering a trace-trap stop.
func (inf *Inferior) SingleStep() error {
	if err := sys.PtraceSingleStep(inf.Pid); err != nil {
		return fmt.Errorf("inferior: InferiorGone: %w", err)
	}
	return nil
}

// WaitStop blocks until the kernel reports the child has stopped,
// exited, or been killed by a signal, and classifies the result. It
// does not decide whether a SIGTRAP is a breakpoint-hit versus a
// single-step-complete; that decision needs the prior instruction
// pointer and is made by the caller (Execution Director) given the
// current set of installed breakpoint addresses.
func (inf *Inferior) WaitStop() (StopEvent, error) {
	var ws sys.WaitStatus
	_, err := sys.Wait4(inf.Pid, &ws, 0, nil)
	if err != nil {
		return StopEvent{}, fmt.Errorf("inferior: %w", err)
	}

	switch {
	case ws.Exited():
		if logflags.Inferior() {
			logflags.InferiorLogger().Debugf("pid %d exited with status %d", inf.Pid, ws.ExitStatus())
		}
		return StopEvent{Kind: StopExited, ExitStatus: ws.ExitStatus()}, nil
	case ws.Signaled():
		if logflags.Inferior() {
			logflags.InferiorLogger().Debugf("pid %d killed by signal %v", inf.Pid, ws.Signal())
		}
		return StopEvent{Kind: StopSignalled, Signal: ws.Signal()}, nil
	case ws.Stopped():
		if ws.StopSignal() == sys.SIGTRAP {
			// Breakpoint-vs-single-step disambiguation happens one
			// level up; report the raw trap and let the caller decide.
			return StopEvent{Kind: StopSingleStep}, nil
		}
		if logflags.Inferior() {
			logflags.InferiorLogger().Debugf("pid %d stopped by signal %v", inf.Pid, ws.StopSignal())
		}
		return StopEvent{Kind: StopSignalled, Signal: ws.StopSignal()}, nil
	}
	return StopEvent{Kind: StopUnknown}, nil
}

// Regs mirrors the subset of golang.org/x/sys/unix.PtraceRegs this
// core reads and writes: the instruction pointer, stack pointer, and
// frame pointer, plus indexed access to the DWARF-numbered general
// purpose registers used by location expressions.
type Regs struct {
	raw sys.PtraceRegs
}

// ReadRegs fetches the child's current general-purpose register set.
func (inf *Inferior) ReadRegs() (*Regs, error) {
	var raw sys.PtraceRegs
	if err := sys.PtraceGetRegs(inf.Pid, &raw); err != nil {
		return nil, fmt.Errorf("inferior: InferiorGone: %w", err)
	}
	return &Regs{raw: raw}, nil
}

// WriteRegs writes back a (possibly mutated) register set.
func (inf *Inferior) WriteRegs(r *Regs) error {
	if err := sys.PtraceSetRegs(inf.Pid, &r.raw); err != nil {
		return fmt.Errorf("inferior: InferiorGone: %w", err)
	}
	return nil
}

func (r *Regs) PC() uint64      { return r.raw.Rip }
func (r *Regs) SetPC(pc uint64) { r.raw.Rip = pc }
func (r *Regs) SP() uint64      { return r.raw.Rsp }
func (r *Regs) FP() uint64      { return r.raw.Rbp }

// SetPC reads the current register set, overwrites the instruction
// pointer, and writes it back in one step. Implements
// pkg/breakpoint.PCSetter, used to rewind the instruction pointer onto
// a trapped instruction before stepping over it.
func (inf *Inferior) SetPC(pc uint64) error {
	regs, err := inf.ReadRegs()
	if err != nil {
		return err
	}
	regs.SetPC(pc)
	return inf.WriteRegs(regs)
}

// ByDwarfNum returns the value of the register DWARF calls regN under
// the x86_64 System V register-number mapping, the subset this core's
// location-expression evaluator (pkg/dwarf/op) needs.
func (r *Regs) ByDwarfNum(n uint64) (uint64, error) {
	switch n {
	case 0:
		return r.raw.Rax, nil
	case 1:
		return r.raw.Rdx, nil
	case 2:
		return r.raw.Rcx, nil
	case 3:
		return r.raw.Rbx, nil
	case 4:
		return r.raw.Rsi, nil
	case 5:
		return r.raw.Rdi, nil
	case 6:
		return r.raw.Rbp, nil
	case 7:
		return r.raw.Rsp, nil
	case 8:
		return r.raw.R8, nil
	case 9:
		return r.raw.R9, nil
	case 10:
		return r.raw.R10, nil
	case 11:
		return r.raw.R11, nil
	case 12:
		return r.raw.R12, nil
	case 13:
		return r.raw.R13, nil
	case 14:
		return r.raw.R14, nil
	case 15:
		return r.raw.R15, nil
	case 16:
		return r.raw.Rip, nil
	}
	return 0, fmt.Errorf("inferior: unsupported DWARF register number %d", n)
}

// ReadMem reads len(buf) bytes of inferior memory starting at addr via
// PTRACE_PEEKDATA, word at a time, matching
// proctl/threads_linux_amd64.go's readMemory.
func (inf *Inferior) ReadMem(addr uint64, buf []byte) error {
	n, err := sys.PtracePeekData(inf.Pid, uintptr(addr), buf)
	if err != nil {
		return fmt.Errorf("inferior: InferiorGone: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("inferior: short read at %#x: got %d of %d bytes", addr, n, len(buf))
	}
	return nil
}

// WriteMem writes buf to inferior memory starting at addr via
// PTRACE_POKEDATA.
func (inf *Inferior) WriteMem(addr uint64, buf []byte) error {
	n, err := sys.PtracePokeData(inf.Pid, uintptr(addr), buf)
	if err != nil {
		return fmt.Errorf("inferior: InferiorGone: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("inferior: short write at %#x: wrote %d of %d bytes", addr, n, len(buf))
	}
	return nil
}

// LoadBase reads the inferior's ELF load bias for position-independent
// executables from /proc/PID/maps: the lowest mapped address of the
// first executable-file-backed mapping whose path matches exe.
func (inf *Inferior) LoadBase(exe string) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", inf.Pid))
	if err != nil {
		return 0, fmt.Errorf("inferior: %w", err)
	}
	return parseLoadBase(string(data), exe)
}
