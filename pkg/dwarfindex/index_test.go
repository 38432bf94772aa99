package dwarfindex

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"
)

func entryWithFrameBase(instr []byte) *dwarf.Entry {
	return &dwarf.Entry{
		Tag: dwarf.TagSubprogram,
		Field: []dwarf.Field{
			{Attr: dwarf.AttrFrameBase, Val: instr},
		},
	}
}

func TestResolveFrameBaseRegister(t *testing.T) {
	// DW_OP_reg6 (rbp)
	fb, err := resolveFrameBase(entryWithFrameBase([]byte{0x56}))
	assert.NoError(t, err)
	assert.Equal(t, FrameBaseRegister, fb.Kind)
	assert.EqualValues(t, 6, fb.Reg)
}

func TestResolveFrameBaseRegx(t *testing.T) {
	// DW_OP_regx 12 (ULEB128 0x0c)
	fb, err := resolveFrameBase(entryWithFrameBase([]byte{0x90, 0x0c}))
	assert.NoError(t, err)
	assert.Equal(t, FrameBaseRegister, fb.Kind)
	assert.EqualValues(t, 12, fb.Reg)
}

func TestResolveFrameBaseCallFrameCFA(t *testing.T) {
	fb, err := resolveFrameBase(entryWithFrameBase([]byte{0x9c}))
	assert.NoError(t, err)
	assert.Equal(t, FrameBaseCFA, fb.Kind)
	assert.EqualValues(t, regRBP, fb.Reg)
	assert.EqualValues(t, 16, fb.Offset)
}

func TestResolveFrameBaseMissingDefaultsToCFA(t *testing.T) {
	fb, err := resolveFrameBase(&dwarf.Entry{Tag: dwarf.TagSubprogram})
	assert.NoError(t, err)
	assert.Equal(t, FrameBaseCFA, fb.Kind)
}

func TestResolveFrameBaseRejectsUnsupportedOpcode(t *testing.T) {
	// DW_OP_fbreg, unsupported directly as a frame_base expression.
	_, err := resolveFrameBase(entryWithFrameBase([]byte{0x91, 0x00}))
	assert.Error(t, err)
}

func TestIndexIsPIEReportsFieldAndSetPIEOverrides(t *testing.T) {
	idx := &Index{isPIE: true}
	assert.True(t, idx.IsPIE())
	idx.SetPIE(false)
	assert.False(t, idx.IsPIE())
}

func TestHasSuffixPathMatchesComponentBoundary(t *testing.T) {
	assert.True(t, hasSuffixPath("/build/src/main.c", "src/main.c"))
	assert.True(t, hasSuffixPath("main.c", "main.c"))
	assert.False(t, hasSuffixPath("/build/src/notmain.c", "main.c"))
	assert.False(t, hasSuffixPath("main.c", "src/main.c"))
}

func TestEnclosingFunctionBinarySearch(t *testing.T) {
	idx := &Index{
		functions: []*Function{
			{Name: "a", LowPC: 0x1000, HighPC: 0x1010},
			{Name: "b", LowPC: 0x1010, HighPC: 0x1030},
			{Name: "c", LowPC: 0x2000, HighPC: 0x2010},
		},
	}

	fn, ok := idx.EnclosingFunction(0x1020)
	assert.True(t, ok)
	assert.Equal(t, "b", fn.Name)

	_, ok = idx.EnclosingFunction(0x1900)
	assert.False(t, ok)

	_, ok = idx.EnclosingFunction(0x0500)
	assert.False(t, ok)
}

func TestFunctionByAddrExactMatchOnly(t *testing.T) {
	idx := &Index{
		functions: []*Function{
			{Name: "a", LowPC: 0x1000, HighPC: 0x1010},
			{Name: "b", LowPC: 0x2000, HighPC: 0x2010},
		},
	}

	fn, ok := idx.FunctionByAddr(0x2000)
	assert.True(t, ok)
	assert.Equal(t, "b", fn.Name)

	_, ok = idx.FunctionByAddr(0x2001)
	assert.False(t, ok)
}
