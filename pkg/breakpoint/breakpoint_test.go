package breakpoint

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	lines map[string]uint64
	funcs map[string]uint64
}

func (f fakeResolver) ResolveLine(file string, line int) (uint64, bool) {
	addr, ok := f.lines[file+":"+strconv.Itoa(line)]
	return addr, ok
}

func (f fakeResolver) ResolveFunction(name string) (uint64, bool) {
	addr, ok := f.funcs[name]
	return addr, ok
}

type fakeMem struct {
	data map[uint64]byte
}

func newFakeMem() *fakeMem { return &fakeMem{data: make(map[uint64]byte)} }

func (m *fakeMem) ReadMem(addr uint64, buf []byte) error {
	for i := range buf {
		buf[i] = m.data[addr+uint64(i)]
	}
	return nil
}

func (m *fakeMem) WriteMem(addr uint64, buf []byte) error {
	for i, b := range buf {
		m.data[addr+uint64(i)] = b
	}
	return nil
}

type fakePCSetter struct{ pc uint64 }

func (f *fakePCSetter) SetPC(pc uint64) error {
	f.pc = pc
	return nil
}

func TestManagerAddAndList(t *testing.T) {
	m := NewManager()
	r := fakeResolver{lines: map[string]uint64{"hello.c:10": 0x1000}}

	bp, err := m.Add(Specifier{Kind: "file-line", File: "hello.c", Line: 10}, r)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0x1000), bp.Addr)
	assert.True(t, bp.Enabled)
	assert.False(t, bp.Installed)

	list := m.List()
	assert.Len(t, list, 1)
	assert.Equal(t, "hello.c:10", list[0].Specifier.String())
}

func TestManagerAddUnknownLocation(t *testing.T) {
	m := NewManager()
	r := fakeResolver{}
	_, err := m.Add(Specifier{Kind: "function", Func: "missing"}, r)
	assert.Error(t, err)
	var unknown ErrUnknownLocation
	assert.ErrorAs(t, err, &unknown)
}

func TestManagerAddSameLocationTwiceReturnsSame(t *testing.T) {
	m := NewManager()
	r := fakeResolver{funcs: map[string]uint64{"main": 0x2000}}

	first, err := m.Add(Specifier{Kind: "function", Func: "main"}, r)
	assert.NoError(t, err)
	second, err := m.Add(Specifier{Kind: "function", Func: "main"}, r)
	assert.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, m.List(), 1)
}

func TestManagerInstallAndUninstall(t *testing.T) {
	m := NewManager()
	r := fakeResolver{funcs: map[string]uint64{"main": 0x2000}}
	mem := newFakeMem()
	const loadBase = 0x400000

	mem.data[0x2000+loadBase] = 0x55
	_, err := m.Add(Specifier{Kind: "function", Func: "main"}, r)
	assert.NoError(t, err)

	assert.NoError(t, m.InstallAll(mem, loadBase))
	assert.Equal(t, byte(trapInstruction), mem.data[0x2000+loadBase])

	bp, ok := m.Lookup(0x2000)
	assert.True(t, ok)
	assert.True(t, bp.Installed)
	assert.Equal(t, byte(0x55), bp.SavedByte)

	assert.NoError(t, m.UninstallAll(mem, loadBase))
	assert.Equal(t, byte(0x55), mem.data[0x2000+loadBase])
	assert.False(t, bp.Installed)
}

func TestManagerDisableUninstallsAndEnableReinstalls(t *testing.T) {
	m := NewManager()
	r := fakeResolver{funcs: map[string]uint64{"main": 0x2000}}
	mem := newFakeMem()
	const loadBase = 0

	mem.data[0x2000] = 0x55
	spec := Specifier{Kind: "function", Func: "main"}
	_, err := m.Add(spec, r)
	assert.NoError(t, err)
	assert.NoError(t, m.InstallAll(mem, loadBase))

	assert.NoError(t, m.Disable(spec, mem, loadBase))
	bp, _ := m.Lookup(0x2000)
	assert.False(t, bp.Enabled)
	assert.False(t, bp.Installed)
	assert.Equal(t, byte(0x55), mem.data[0x2000])

	assert.NoError(t, m.Enable(spec, mem, loadBase, true))
	assert.True(t, bp.Enabled)
	assert.True(t, bp.Installed)
}

func TestManagerRemoveUnknownBreakpoint(t *testing.T) {
	m := NewManager()
	err := m.Remove(Specifier{Kind: "function", Func: "nope"}, newFakeMem(), 0)
	assert.Error(t, err)
	var unknown ErrUnknownBreakpoint
	assert.ErrorAs(t, err, &unknown)
}

func TestAtBreakpointAppliesIPDecrementRule(t *testing.T) {
	m := NewManager()
	r := fakeResolver{funcs: map[string]uint64{"main": 0x2000}}
	mem := newFakeMem()
	const loadBase = 0x1000

	_, err := m.Add(Specifier{Kind: "function", Func: "main"}, r)
	assert.NoError(t, err)
	assert.NoError(t, m.InstallAll(mem, loadBase))

	// Trap delivers with PC one past the trap byte's runtime address.
	hitPC := uint64(0x2000 + loadBase + 1)
	bp, ok := m.AtBreakpoint(hitPC, loadBase)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x2000), bp.Addr)

	_, ok = m.AtBreakpoint(0x2000+loadBase, loadBase)
	assert.False(t, ok)
}

func TestStepOverCurrentRestoresTrap(t *testing.T) {
	m := NewManager()
	r := fakeResolver{funcs: map[string]uint64{"main": 0x2000}}
	mem := newFakeMem()
	const loadBase = 0

	mem.data[0x2000] = 0x55
	_, err := m.Add(Specifier{Kind: "function", Func: "main"}, r)
	assert.NoError(t, err)
	assert.NoError(t, m.InstallAll(mem, loadBase))

	bp, _ := m.Lookup(0x2000)
	pcs := &fakePCSetter{}
	stepped := false
	err = m.StepOverCurrent(bp, loadBase, mem, pcs, func() error {
		stepped = true
		// While stepped over, the trap byte must be removed.
		assert.Equal(t, byte(0x55), mem.data[0x2000])
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, stepped)
	assert.Equal(t, uint64(0x2000), pcs.pc)
	assert.True(t, bp.Installed)
	assert.Equal(t, byte(trapInstruction), mem.data[0x2000])
}

func TestClearDropsCatalogWithoutTouchingMemory(t *testing.T) {
	m := NewManager()
	r := fakeResolver{funcs: map[string]uint64{"main": 0x2000}}
	_, err := m.Add(Specifier{Kind: "function", Func: "main"}, r)
	assert.NoError(t, err)

	m.Clear()
	assert.Empty(t, m.List())
}
