// Package reader provides a cursor over DWARF debug_info entries,
// wrapping the standard library's debug/dwarf.Reader with the walk
// operations the rest of the debug engine needs repeatedly: seeking to
// a compile unit or an already-found entry, and resolving a
// subprogram's pc range and a variable's location-expression bytes.
package reader

import (
	"debug/dwarf"
	"errors"
	"fmt"
)

// Reader augments debug/dwarf.Reader with the seek and attribute helpers
// below. Its depth field is reset by Seek but is not updated by Next
// and is not exposed to callers.
type Reader struct {
	*dwarf.Reader
	depth int
}

// New returns a reader positioned at the start of data's debug_info.
func New(data *dwarf.Data) *Reader {
	return &Reader{data.Reader(), 0}
}

// Seek moves the reader to an arbitrary offset, resetting depth tracking.
func (r *Reader) Seek(off dwarf.Offset) {
	r.depth = 0
	r.Reader.Seek(off)
}

// SeekToEntry moves the reader to entry and consumes it, so a
// subsequent Next call returns entry's first child (if any).
func (r *Reader) SeekToEntry(entry *dwarf.Entry) error {
	r.Seek(entry.Offset)
	_, err := r.Next()
	return err
}

// EntryPCRange resolves an entry's low_pc/high_pc attribute pair, if
// present. Used for subprogram and lexical-block scope ranges.
func EntryPCRange(entry *dwarf.Entry) (lowpc, highpc uint64, ok bool) {
	lowpc, lok := entry.Val(dwarf.AttrLowpc).(uint64)
	if !lok {
		return 0, 0, false
	}
	highpc, err := highPC(entry, lowpc)
	if err != nil {
		return 0, 0, false
	}
	return lowpc, highpc, true
}

// highPC resolves the subprogram's high_pc attribute, which DWARF
// permits to encode either as an absolute address or as a length
// relative to low_pc depending on its class.
func highPC(entry *dwarf.Entry, lowpc uint64) (uint64, error) {
	field := entry.AttrField(dwarf.AttrHighpc)
	if field == nil {
		return 0, errors.New("no high_pc attribute")
	}
	switch v := field.Val.(type) {
	case uint64:
		if field.Class == dwarf.ClassAddress {
			return v, nil
		}
		return lowpc + v, nil
	case int64:
		return lowpc + uint64(v), nil
	}
	return 0, fmt.Errorf("unsupported high_pc encoding %T", field.Val)
}

// NextCompileUnit advances to the next compile-unit entry.
func (r *Reader) NextCompileUnit() (*dwarf.Entry, error) {
	for entry, err := r.Next(); entry != nil; entry, err = r.Next() {
		if err != nil {
			return nil, err
		}
		if entry.Tag == dwarf.TagCompileUnit {
			return entry, nil
		}
	}
	return nil, nil
}

// InstructionsForEntry returns a copy of entry's location expression
// bytes, choosing the member-location or plain-location attribute as
// appropriate.
func InstructionsForEntry(entry *dwarf.Entry) ([]byte, error) {
	attr := dwarf.AttrLocation
	if entry.Tag == dwarf.TagMember {
		attr = dwarf.AttrDataMemberLoc
	}
	instr, ok := entry.Val(attr).([]byte)
	if !ok {
		return nil, fmt.Errorf("entry %s has no location expression", entry.Tag)
	}
	return append([]byte{}, instr...), nil
}
