package reader

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryPCRangeAbsoluteHighPC(t *testing.T) {
	entry := &dwarf.Entry{
		Field: []dwarf.Field{
			{Attr: dwarf.AttrLowpc, Val: uint64(0x1000)},
			{Attr: dwarf.AttrHighpc, Val: uint64(0x2000), Class: dwarf.ClassAddress},
		},
	}
	low, high, ok := EntryPCRange(entry)
	assert.True(t, ok)
	assert.EqualValues(t, 0x1000, low)
	assert.EqualValues(t, 0x2000, high)
}

func TestEntryPCRangeLengthEncodedHighPC(t *testing.T) {
	entry := &dwarf.Entry{
		Field: []dwarf.Field{
			{Attr: dwarf.AttrLowpc, Val: uint64(0x1000)},
			{Attr: dwarf.AttrHighpc, Val: uint64(0x40), Class: dwarf.ClassConstant},
		},
	}
	low, high, ok := EntryPCRange(entry)
	assert.True(t, ok)
	assert.EqualValues(t, 0x1000, low)
	assert.EqualValues(t, 0x1040, high)
}

func TestEntryPCRangeMissingLowPC(t *testing.T) {
	entry := &dwarf.Entry{Field: []dwarf.Field{
		{Attr: dwarf.AttrHighpc, Val: uint64(0x40)},
	}}
	_, _, ok := EntryPCRange(entry)
	assert.False(t, ok)
}

func TestInstructionsForEntryPlainLocation(t *testing.T) {
	want := []byte{0x03, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	entry := &dwarf.Entry{
		Tag:   dwarf.TagVariable,
		Field: []dwarf.Field{{Attr: dwarf.AttrLocation, Val: want}},
	}
	got, err := InstructionsForEntry(entry)
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	// The returned slice must be a copy, not an alias.
	got[0] = 0xff
	assert.NotEqual(t, got[0], entry.Field[0].Val.([]byte)[0])
}

func TestInstructionsForEntryMemberUsesDataMemberLoc(t *testing.T) {
	want := []byte{0x23, 0x08}
	entry := &dwarf.Entry{
		Tag:   dwarf.TagMember,
		Field: []dwarf.Field{{Attr: dwarf.AttrDataMemberLoc, Val: want}},
	}
	got, err := InstructionsForEntry(entry)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInstructionsForEntryMissingLocation(t *testing.T) {
	entry := &dwarf.Entry{Tag: dwarf.TagVariable}
	_, err := InstructionsForEntry(entry)
	assert.Error(t, err)
}
