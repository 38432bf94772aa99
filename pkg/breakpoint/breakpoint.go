// Package breakpoint maintains the user's breakpoint catalog and the
// low-level software-breakpoint installation/removal protocol.
// Grounded on proctl/breakpoints.go's BreakPoint/setBreakpoint, with
// the hardware debug-register path dropped (see DESIGN.md) since this
// core only ever installs the 0xCC trap byte.
package breakpoint

import (
	"fmt"
)

// trapInstruction is INT3 on x86_64, the one-byte software breakpoint
// trap delivered as SIGTRAP to the tracer.
const trapInstruction = 0xCC

// Specifier is the user's original textual breakpoint request,
// retained verbatim for listing/removal regardless of load base.
type Specifier struct {
	// Kind is one of "file-line", "bare-line", or "function".
	Kind string
	File string
	Line int
	Func string
}

func (s Specifier) String() string {
	switch s.Kind {
	case "file-line", "bare-line":
		return fmt.Sprintf("%s:%d", s.File, s.Line)
	case "function":
		return s.Func
	}
	return "?"
}

// Breakpoint is one entry in the catalog: the user's specifier, its
// resolved address, and the installation state at that address.
type Breakpoint struct {
	ID          int
	Specifier   Specifier
	Addr        uint64 // DWARF-relative; caller applies load base
	SavedByte   byte
	Enabled     bool
	Installed   bool
	HasSavedByte bool
	Temp        bool
}

// Resolver looks up an address for a specifier, the Breakpoint
// Manager's sole dependency on the DWARF Index (kept as an interface
// so tests can fake it without a real binary).
type Resolver interface {
	ResolveLine(file string, line int) (uint64, bool)
	ResolveFunction(name string) (uint64, bool)
}

// MemAccess is the Breakpoint Manager's sole dependency on the
// Inferior Controller: reading and writing the single byte at a
// resolved, load-base-adjusted address.
type MemAccess interface {
	ReadMem(addr uint64, buf []byte) error
	WriteMem(addr uint64, buf []byte) error
}

// ErrUnknownLocation is returned when a specifier cannot be resolved
// via the DWARF Index.
type ErrUnknownLocation struct{ Specifier Specifier }

func (e ErrUnknownLocation) Error() string {
	return fmt.Sprintf("UnknownLocation: %s", e.Specifier)
}

// ErrUnknownBreakpoint is returned by operations referencing a
// specifier not in the catalog.
type ErrUnknownBreakpoint struct{ Specifier Specifier }

func (e ErrUnknownBreakpoint) Error() string {
	return fmt.Sprintf("UnknownBreakpoint: %s", e.Specifier)
}

// Manager is the Breakpoint Manager (spec.md §4.3): a catalog of
// user breakpoints plus the install/uninstall/hit-handling protocol.
// It is not thread-safe; the engine is single-threaded (spec.md §5).
type Manager struct {
	byAddr map[uint64]*Breakpoint
	order  []uint64 // insertion order, for stable `list` output
	nextID int
}

// NewManager returns an empty catalog.
func NewManager() *Manager {
	return &Manager{byAddr: make(map[uint64]*Breakpoint)}
}

// Add resolves specifier via resolver and registers a new, enabled,
// not-yet-installed breakpoint. Resolution failure leaves the catalog
// unchanged and returns ErrUnknownLocation.
func (m *Manager) Add(spec Specifier, resolver Resolver) (*Breakpoint, error) {
	addr, ok := m.resolve(spec, resolver)
	if !ok {
		return nil, ErrUnknownLocation{Specifier: spec}
	}
	if existing, ok := m.byAddr[addr]; ok {
		return existing, nil
	}

	m.nextID++
	bp := &Breakpoint{ID: m.nextID, Specifier: spec, Addr: addr, Enabled: true}
	m.byAddr[addr] = bp
	m.order = append(m.order, addr)
	return bp, nil
}

func (m *Manager) resolve(spec Specifier, resolver Resolver) (uint64, bool) {
	switch spec.Kind {
	case "file-line", "bare-line":
		return resolver.ResolveLine(spec.File, spec.Line)
	case "function":
		return resolver.ResolveFunction(spec.Func)
	}
	return 0, false
}

// find locates a registered breakpoint by specifier (matched on
// resolved file:line or function name, ignoring whether the original
// request was a bare or file-qualified line).
func (m *Manager) find(spec Specifier) (*Breakpoint, bool) {
	for _, addr := range m.order {
		bp := m.byAddr[addr]
		if specMatches(bp.Specifier, spec) {
			return bp, true
		}
	}
	return nil, false
}

func specMatches(have, want Specifier) bool {
	if want.Kind == "function" {
		return have.Func == want.Func
	}
	return have.File == want.File && have.Line == want.Line
}

// Remove deletes the breakpoint matching specifier, uninstalling it
// first if it was installed.
func (m *Manager) Remove(spec Specifier, mem MemAccess, loadBase uint64) error {
	bp, ok := m.find(spec)
	if !ok {
		return ErrUnknownBreakpoint{Specifier: spec}
	}
	if bp.Installed {
		if err := m.uninstall(bp, mem, loadBase); err != nil {
			return err
		}
	}
	delete(m.byAddr, bp.Addr)
	for i, addr := range m.order {
		if addr == bp.Addr {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns every breakpoint in the catalog in insertion order.
func (m *Manager) List() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(m.order))
	for _, addr := range m.order {
		out = append(out, m.byAddr[addr])
	}
	return out
}

// Lookup returns the breakpoint registered at a DWARF-relative
// address, if any.
func (m *Manager) Lookup(addr uint64) (*Breakpoint, bool) {
	bp, ok := m.byAddr[addr]
	return bp, ok
}

// Enable marks a breakpoint as enabled; it is installed the next time
// InstallAll runs or immediately if the inferior is currently running.
func (m *Manager) Enable(spec Specifier, mem MemAccess, loadBase uint64, running bool) error {
	bp, ok := m.find(spec)
	if !ok {
		return ErrUnknownBreakpoint{Specifier: spec}
	}
	bp.Enabled = true
	if running && !bp.Installed {
		return m.install(bp, mem, loadBase)
	}
	return nil
}

// Disable marks a breakpoint as disabled and uninstalls it if it was
// installed; per spec.md §4.3, disabled breakpoints are recorded but
// never installed.
func (m *Manager) Disable(spec Specifier, mem MemAccess, loadBase uint64) error {
	bp, ok := m.find(spec)
	if !ok {
		return ErrUnknownBreakpoint{Specifier: spec}
	}
	bp.Enabled = false
	if bp.Installed {
		return m.uninstall(bp, mem, loadBase)
	}
	return nil
}

// Clear removes every breakpoint from the catalog without touching
// inferior memory. Callers with a live inferior restore the original
// bytes first (UninstallAll), as Debugger.ClearBreakpoints does.
func (m *Manager) Clear() {
	m.byAddr = make(map[uint64]*Breakpoint)
	m.order = nil
}

// InstallAll installs every enabled, uninstalled breakpoint, adjusting
// each DWARF-relative address by loadBase. Called after a fresh
// `run`'s first stop and is a no-op for already-installed ones.
func (m *Manager) InstallAll(mem MemAccess, loadBase uint64) error {
	for _, addr := range m.order {
		bp := m.byAddr[addr]
		if bp.Enabled && !bp.Installed {
			if err := m.install(bp, mem, loadBase); err != nil {
				return err
			}
		}
	}
	return nil
}

// UninstallAll restores every installed breakpoint's original byte.
// Per spec.md §5, this step is skipped on `stop`/cancellation since
// the inferior's address space is being destroyed anyway; it exists
// for callers that need a clean memory image while the inferior keeps
// running, such as Debugger.ClearBreakpoints.
func (m *Manager) UninstallAll(mem MemAccess, loadBase uint64) error {
	for _, addr := range m.order {
		bp := m.byAddr[addr]
		if bp.Installed {
			if err := m.uninstall(bp, mem, loadBase); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) install(bp *Breakpoint, mem MemAccess, loadBase uint64) error {
	runtimeAddr := bp.Addr + loadBase
	orig := make([]byte, 1)
	if err := mem.ReadMem(runtimeAddr, orig); err != nil {
		return fmt.Errorf("breakpoint: %w", err)
	}
	if err := mem.WriteMem(runtimeAddr, []byte{trapInstruction}); err != nil {
		return fmt.Errorf("breakpoint: %w", err)
	}
	bp.SavedByte = orig[0]
	bp.HasSavedByte = true
	bp.Installed = true
	return nil
}

func (m *Manager) uninstall(bp *Breakpoint, mem MemAccess, loadBase uint64) error {
	runtimeAddr := bp.Addr + loadBase
	if err := mem.WriteMem(runtimeAddr, []byte{bp.SavedByte}); err != nil {
		return fmt.Errorf("breakpoint: %w", err)
	}
	bp.Installed = false
	return nil
}

// PCSetter is the Breakpoint Manager's dependency on the Inferior
// Controller's register access, needed to rewind the instruction
// pointer back onto a trapped instruction before stepping over it.
type PCSetter interface {
	SetPC(pc uint64) error
}

// AtBreakpoint reports whether pc (read immediately after a SIGTRAP
// stop) lands one byte past an installed breakpoint's runtime address,
// per spec.md §4.2's ip-decrement rule for classifying a trap as a
// breakpoint-hit.
func (m *Manager) AtBreakpoint(pc, loadBase uint64) (*Breakpoint, bool) {
	bp, ok := m.byAddr[pc-1-loadBase]
	if !ok || !bp.Installed {
		return nil, false
	}
	return bp, true
}

// StepOverCurrent implements spec.md §4.3's hit-handling protocol
// steps (1)-(4): rewind the instruction pointer onto bp's address,
// uninstall its trap, single-step the original instruction, and
// reinstall the trap, leaving the breakpoint's invariant (enabled =>
// installed while running) restored. The caller (Execution Director)
// performs the wait_stop between the single-step and the reinstall.
func (m *Manager) StepOverCurrent(bp *Breakpoint, loadBase uint64, mem MemAccess, pcSetter PCSetter, step func() error) error {
	if err := pcSetter.SetPC(bp.Addr + loadBase); err != nil {
		return fmt.Errorf("breakpoint: %w", err)
	}
	if err := m.uninstall(bp, mem, loadBase); err != nil {
		return err
	}
	if err := step(); err != nil {
		return fmt.Errorf("breakpoint: %w", err)
	}
	return m.install(bp, mem, loadBase)
}
