package eval

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/vajexal/dbg/pkg/types"
)

// Print formats a resolved value per spec.md §4.4's printing rules,
// grounded on original_source/src/printer.rs's Printer::print_value.
func (e *Evaluator) Print(r *Resolved) (string, error) {
	return e.printTyped(r.Type, r)
}

func (e *Evaluator) printTyped(t *types.Info, r *Resolved) (string, error) {
	switch t.Kind {
	case types.KindBool:
		v, err := e.readScalar(r, t.ByteSize)
		if err != nil {
			return "", err
		}
		if v != 0 {
			return "true", nil
		}
		return "false", nil

	case types.KindSignedInt:
		v, err := e.readScalar(r, t.ByteSize)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", signExtend(v, t.ByteSize)), nil

	case types.KindUnsignedInt:
		v, err := e.readScalar(r, t.ByteSize)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", v), nil

	case types.KindFloat:
		v, err := e.readScalar(r, t.ByteSize)
		if err != nil {
			return "", err
		}
		if t.ByteSize == 4 {
			return fmt.Sprintf("%g", math.Float32frombits(uint32(v))), nil
		}
		return fmt.Sprintf("%g", math.Float64frombits(v)), nil

	case types.KindPointer:
		addr, err := e.readScalar(r, 8)
		if err != nil {
			return "", err
		}
		if t.IsFunctionPointer() {
			if fn, ok := e.Index.FunctionByAddr(addr - e.LoadBase); ok {
				return fn.Name, nil
			}
			return fmt.Sprintf("%#x", addr), nil
		}
		if t.IsCharPointer() && addr != 0 {
			s, err := e.readCString(addr)
			if err == nil {
				return fmt.Sprintf("%q", s), nil
			}
		}
		return fmt.Sprintf("%#x", addr), nil

	case types.KindEnum:
		v, err := e.readScalar(r, t.ByteSize)
		if err != nil {
			return "", err
		}
		for _, variant := range t.Variants {
			if variant.Value == int64(v) {
				return variant.Name, nil
			}
		}
		return fmt.Sprintf("%d", v), nil

	case types.KindFunction:
		addr, err := e.readScalar(r, 8)
		if err != nil {
			return "", err
		}
		if fn, ok := e.Index.FunctionByAddr(addr - e.LoadBase); ok {
			return fn.Name, nil
		}
		return fmt.Sprintf("%#x", addr), nil

	case types.KindStruct, types.KindUnion:
		if !r.HasAddr {
			return "", ErrTypeMismatch{Reason: "cannot print a register-resident struct"}
		}
		var parts []string
		for _, f := range t.Fields {
			fieldVal, err := e.printTyped(f.Type, &Resolved{Type: f.Type, HasAddr: true, Addr: r.Addr + uint64(f.Offset)})
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s = %s", f.Name, fieldVal))
		}
		return "{ " + strings.Join(parts, ", ") + " }", nil

	case types.KindArray:
		if !r.HasAddr {
			return "", ErrTypeMismatch{Reason: "cannot print a register-resident array"}
		}
		if t.IsCharArray() && t.ByteSize > 0 {
			bound := uint64(t.ByteSize)
			if e.MaxStringLen > 0 && uint64(e.MaxStringLen) < bound {
				bound = uint64(e.MaxStringLen)
			}
			s, err := e.readBoundedCString(r.Addr, bound)
			if err == nil {
				return fmt.Sprintf("%q", s), nil
			}
		}
		elem, err := t.Elem()
		if err != nil {
			return "", fmt.Errorf("eval: %w", err)
		}
		n := t.ArrayLength
		if n < 0 {
			n = 0
		}
		var parts []string
		for i := int64(0); i < n; i++ {
			v, err := e.printTyped(elem, &Resolved{Type: elem, HasAddr: true, Addr: r.Addr + uint64(i)*uint64(elem.ByteSize)})
			if err != nil {
				return "", err
			}
			parts = append(parts, v)
		}
		return "[ " + strings.Join(parts, ", ") + " ]", nil
	}
	return "", fmt.Errorf("eval: cannot print value of kind %v", t.Kind)
}

// readScalar reads a width-byte little-endian scalar from either
// inferior memory or the resolved register value.
func (e *Evaluator) readScalar(r *Resolved, width int64) (uint64, error) {
	if !r.HasAddr {
		return r.RegValue, nil
	}
	// r.Addr is already a runtime address; see readWord in eval.go.
	buf := make([]byte, 8)
	if err := e.Mem.ReadMem(r.Addr, buf[:width]); err != nil {
		return 0, fmt.Errorf("eval: %w", err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func signExtend(v uint64, byteSize int64) int64 {
	switch byteSize {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

// readCString reads a bounded, chunked NUL-terminated byte sequence
// from inferior memory, matching original_source/src/session.rs's
// read_c_string (chunked reads rather than a byte-at-a-time
// PTRACE_PEEKDATA loop), capped well above any realistic C string.
func (e *Evaluator) readCString(addr uint64) (string, error) {
	const defaultMaxLen = 1 << 16
	maxLen := uint64(defaultMaxLen)
	if e.MaxStringLen > 0 {
		maxLen = uint64(e.MaxStringLen)
	}
	return e.readBoundedCString(addr, maxLen)
}

// readBoundedCString is readCString's shared core, bounded to maxLen
// bytes rather than the global cap. char[] arrays use this directly,
// bounded to their own declared size, since the backing memory isn't
// NUL-terminated beyond the array's storage.
func (e *Evaluator) readBoundedCString(addr uint64, maxLen uint64) (string, error) {
	const chunkSize = 512

	var out []byte
	for uint64(len(out)) < maxLen {
		want := chunkSize
		if remain := maxLen - uint64(len(out)); uint64(want) > remain {
			want = int(remain)
		}
		buf := make([]byte, want)
		if err := e.Mem.ReadMem(addr+uint64(len(out)), buf); err != nil {
			return "", fmt.Errorf("eval: %w", err)
		}
		if idx := indexByte(buf, 0); idx >= 0 {
			out = append(out, buf[:idx]...)
			return string(out), nil
		}
		out = append(out, buf...)
	}
	return string(out), nil
}

func indexByte(buf []byte, b byte) int {
	for i, c := range buf {
		if c == b {
			return i
		}
	}
	return -1
}
