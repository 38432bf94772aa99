// Package op evaluates the small subset of DWARF location expressions
// this debugger needs: an absolute address (globals), a register
// number (value lives in a register), a register-relative address
// (DW_OP_bregN, common for optimized-code parameters), or a
// frame-base-relative offset (stack locals/arguments, expressed as
// DW_OP_fbreg). Anything else is reported as an unsupported expression
// rather than guessed at.
package op

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Opcode is a single DWARF location-expression opcode.
type Opcode byte

const (
	DW_OP_addr        Opcode = 0x03
	DW_OP_const1u     Opcode = 0x08
	DW_OP_const1s     Opcode = 0x09
	DW_OP_const2u     Opcode = 0x0a
	DW_OP_const2s     Opcode = 0x0b
	DW_OP_const4u     Opcode = 0x0c
	DW_OP_const4s     Opcode = 0x0d
	DW_OP_const8u     Opcode = 0x0e
	DW_OP_const8s     Opcode = 0x0f
	DW_OP_constu      Opcode = 0x10
	DW_OP_consts      Opcode = 0x11
	DW_OP_plus           Opcode = 0x22
	DW_OP_plus_uconst    Opcode = 0x23
	DW_OP_breg0          Opcode = 0x70 // DW_OP_breg0..breg31 are contiguous
	DW_OP_breg31         Opcode = 0x8f
	DW_OP_reg0           Opcode = 0x50 // DW_OP_reg0..reg31 are contiguous
	DW_OP_reg31          Opcode = 0x6f
	DW_OP_regx           Opcode = 0x90
	DW_OP_fbreg          Opcode = 0x91
	DW_OP_call_frame_cfa Opcode = 0x9c
)

// Piece is the outcome of evaluating a location expression: either a
// memory address or a register number holding the value directly.
type Piece struct {
	IsRegister bool
	RegNum     uint64
	Addr       uint64
}

// FrameBase describes how to compute a function's frame base, needed
// to evaluate DW_OP_fbreg. Per spec this core supports exactly two
// forms: the frame base is a fixed register (commonly rbp), or it is
// DW_OP_call_frame_cfa and the caller has already resolved CFA as
// frame-pointer-plus-constant and supplies it as a plain address.
type FrameBase struct {
	// Addr is the resolved frame base address (e.g. the current value
	// of rbp, or rbp+16 for the SysV CFA convention).
	Addr uint64
}

// ReadRegister resolves a DWARF register number to its current value.
// Supplied by the caller so this package stays independent of any
// particular Inferior representation.
type ReadRegister func(regnum uint64) (uint64, error)

// Evaluate runs instructions against frame base and register reader,
// returning the single resulting Piece. staticBase is added to
// DW_OP_addr operands to account for a PIE load bias.
func Evaluate(instructions []byte, frameBase FrameBase, staticBase uint64, readReg ReadRegister) (Piece, error) {
	buf := bytes.NewBuffer(instructions)
	var stack []int64

	push := func(v int64) { stack = append(stack, v) }
	pop := func() (int64, error) {
		if len(stack) == 0 {
			return 0, fmt.Errorf("op: stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	var result Piece
	haveResult := false

	for buf.Len() > 0 {
		opcodeByte, err := buf.ReadByte()
		if err != nil {
			return Piece{}, err
		}
		opcode := Opcode(opcodeByte)

		switch {
		case opcode == DW_OP_addr:
			var addr uint64
			if err := binary.Read(buf, binary.LittleEndian, &addr); err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_addr: %w", err)
			}
			push(int64(addr + staticBase))

		case opcode == DW_OP_const1u:
			b, err := buf.ReadByte()
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_const1u: %w", err)
			}
			push(int64(b))

		case opcode == DW_OP_const1s:
			b, err := buf.ReadByte()
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_const1s: %w", err)
			}
			push(int64(int8(b)))

		case opcode == DW_OP_const2u:
			var v uint16
			if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_const2u: %w", err)
			}
			push(int64(v))

		case opcode == DW_OP_const2s:
			var v int16
			if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_const2s: %w", err)
			}
			push(int64(v))

		case opcode == DW_OP_const4u:
			var v uint32
			if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_const4u: %w", err)
			}
			push(int64(v))

		case opcode == DW_OP_const4s:
			var v int32
			if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_const4s: %w", err)
			}
			push(int64(v))

		case opcode == DW_OP_const8u:
			var v uint64
			if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_const8u: %w", err)
			}
			push(int64(v))

		case opcode == DW_OP_const8s:
			var v int64
			if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_const8s: %w", err)
			}
			push(v)

		case opcode >= DW_OP_breg0 && opcode <= DW_OP_breg31:
			offset, err := readSleb128(buf)
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_breg%d: %w", opcode-DW_OP_breg0, err)
			}
			regVal, err := readReg(uint64(opcode - DW_OP_breg0))
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_breg%d: %w", opcode-DW_OP_breg0, err)
			}
			push(int64(regVal) + offset)

		case opcode == DW_OP_fbreg:
			offset, err := readSleb128(buf)
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_fbreg: %w", err)
			}
			result = Piece{Addr: uint64(int64(frameBase.Addr) + offset)}
			haveResult = true

		case opcode == DW_OP_call_frame_cfa:
			push(int64(frameBase.Addr))

		case opcode >= DW_OP_reg0 && opcode <= DW_OP_reg31:
			result = Piece{IsRegister: true, RegNum: uint64(opcode - DW_OP_reg0)}
			haveResult = true

		case opcode == DW_OP_regx:
			regnum, err := readUleb128(buf)
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_regx: %w", err)
			}
			result = Piece{IsRegister: true, RegNum: regnum}
			haveResult = true

		case opcode == DW_OP_consts:
			v, err := readSleb128(buf)
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_consts: %w", err)
			}
			push(v)

		case opcode == DW_OP_constu:
			v, err := readUleb128(buf)
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_constu: %w", err)
			}
			push(int64(v))

		case opcode == DW_OP_plus:
			b, err := pop()
			if err != nil {
				return Piece{}, err
			}
			a, err := pop()
			if err != nil {
				return Piece{}, err
			}
			push(a + b)

		case opcode == DW_OP_plus_uconst:
			v, err := readUleb128(buf)
			if err != nil {
				return Piece{}, fmt.Errorf("op: DW_OP_plus_uconst: %w", err)
			}
			a, err := pop()
			if err != nil {
				return Piece{}, err
			}
			push(a + int64(v))

		default:
			return Piece{}, fmt.Errorf("op: unsupported opcode %#x", opcodeByte)
		}
	}

	if haveResult {
		return result, nil
	}
	if len(stack) > 0 {
		return Piece{Addr: uint64(stack[len(stack)-1])}, nil
	}
	return Piece{}, fmt.Errorf("op: expression produced no result")
}

func readUleb128(buf *bytes.Buffer) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

func readSleb128(buf *bytes.Buffer) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = buf.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && (b&0x40) != 0 {
		result |= -1 << shift
	}
	return result, nil
}
