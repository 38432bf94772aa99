package eval

import (
	"encoding/binary"
	"fmt"

	"github.com/vajexal/dbg/pkg/dwarf/op"
	"github.com/vajexal/dbg/pkg/dwarfindex"
	"github.com/vajexal/dbg/pkg/logflags"
	"github.com/vajexal/dbg/pkg/types"
)

// ErrUnknownVariable reports a root name with no match in scope.
type ErrUnknownVariable struct{ Name string }

func (e ErrUnknownVariable) Error() string { return fmt.Sprintf("UnknownVariable: %s", e.Name) }

// ErrTypeMismatch reports a suffix, prefix op, or set value incompatible
// with the current type.
type ErrTypeMismatch struct{ Reason string }

func (e ErrTypeMismatch) Error() string { return fmt.Sprintf("TypeMismatch: %s", e.Reason) }

// Memory is the evaluator's dependency on the Inferior Controller's
// memory access.
type Memory interface {
	ReadMem(addr uint64, buf []byte) error
	WriteMem(addr uint64, buf []byte) error
}

// Registers is the evaluator's dependency on the Inferior Controller's
// register access, needed to evaluate location expressions (frame
// base and register-resident variables).
type Registers interface {
	ByDwarfNum(n uint64) (uint64, error)
}

// Resolved is the outcome of resolving a Path: either a memory address
// (the common case) or a bare register value (for a register-resident
// root variable, or the pointer value produced by `&`). A suffix or `&`
// on a register-resident value is a TypeMismatch; `*` dereferences the
// register value as a pointer.
type Resolved struct {
	Type *types.Info

	HasAddr bool
	Addr    uint64

	// RegValue/HasRegValue hold a register-resident value when HasAddr
	// is false. Readonly is true for a value produced by the `&`
	// prefix op, which yields a value with no memory address of its own.
	HasRegValue bool
	RegValue    uint64
	Readonly    bool
}

// Evaluator resolves and formats paths against one DWARF index and the
// inferior's current register/memory state at a given stop.
type Evaluator struct {
	Index *dwarfindex.Index
	Mem   Memory
	Regs  Registers

	// LoadBase is added to every DWARF-relative address before a
	// memory access and subtracted before any DWARF reverse lookup.
	LoadBase uint64

	// MaxStringLen overrides the default cap on bytes read for a
	// char*/char[] before truncating, when nonzero, per the config
	// package's max-string-len setting.
	MaxStringLen int
}

// Resolve resolves path against the variables in scope at pc.
func (e *Evaluator) Resolve(path Path, pc uint64) (*Resolved, error) {
	vars, err := e.Index.VariablesInScope(pc - e.LoadBase)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}

	var root *dwarfindex.Variable
	for _, v := range vars {
		if v.Name == path.Root {
			root = v
			break
		}
	}
	if root == nil {
		return nil, ErrUnknownVariable{Name: path.Root}
	}
	if logflags.Eval() {
		logflags.EvalLogger().Debugf("resolved root %q among %d in-scope variables at pc %#x", path.Root, len(vars), pc)
	}

	fn, _ := e.Index.EnclosingFunction(pc - e.LoadBase)
	piece, err := e.evaluateLocation(root.Instructions, fn)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}

	cur := &Resolved{Type: root.Type}
	if piece.IsRegister {
		regVal, err := e.Regs.ByDwarfNum(piece.RegNum)
		if err != nil {
			return nil, fmt.Errorf("eval: %w", err)
		}
		cur.HasRegValue = true
		cur.RegValue = regVal
	} else {
		cur.HasAddr = true
		cur.Addr = piece.Addr
	}

	for _, suf := range path.Suffixes {
		cur, err = e.applySuffix(cur, suf)
		if err != nil {
			return nil, err
		}
	}

	for i := len(path.PrefixOps) - 1; i >= 0; i-- {
		cur, err = e.applyPrefix(cur, path.PrefixOps[i])
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (e *Evaluator) evaluateLocation(instructions []byte, fn *dwarfindex.Function) (op.Piece, error) {
	var fb op.FrameBase
	if fn != nil {
		switch fn.FrameBase.Kind {
		case dwarfindex.FrameBaseRegister:
			regVal, err := e.Regs.ByDwarfNum(fn.FrameBase.Reg)
			if err != nil {
				return op.Piece{}, err
			}
			fb.Addr = regVal
		case dwarfindex.FrameBaseCFA:
			regVal, err := e.Regs.ByDwarfNum(fn.FrameBase.Reg)
			if err != nil {
				return op.Piece{}, err
			}
			fb.Addr = uint64(int64(regVal) + fn.FrameBase.Offset)
		}
	}
	return op.Evaluate(instructions, fb, e.LoadBase, e.Regs.ByDwarfNum)
}

func (e *Evaluator) applySuffix(cur *Resolved, suf Suffix) (*Resolved, error) {
	if !cur.HasAddr {
		return nil, ErrTypeMismatch{Reason: "cannot apply a suffix to a register-resident value"}
	}
	if suf.HasIdx {
		if cur.Type.Kind != types.KindArray {
			return nil, ErrTypeMismatch{Reason: fmt.Sprintf("[%d] requires an array type, got %v", suf.Index, cur.Type.Kind)}
		}
		elem, err := cur.Type.Elem()
		if err != nil {
			return nil, fmt.Errorf("eval: %w", err)
		}
		return &Resolved{Type: elem, HasAddr: true, Addr: cur.Addr + uint64(suf.Index)*uint64(elem.ByteSize)}, nil
	}

	if cur.Type.Kind != types.KindStruct && cur.Type.Kind != types.KindUnion {
		return nil, ErrTypeMismatch{Reason: fmt.Sprintf(".%s requires a struct or union type, got %v", suf.Field, cur.Type.Kind)}
	}
	for _, f := range cur.Type.Fields {
		if f.Name == suf.Field {
			return &Resolved{Type: f.Type, HasAddr: true, Addr: cur.Addr + uint64(f.Offset)}, nil
		}
	}
	return nil, ErrTypeMismatch{Reason: fmt.Sprintf("no field %q on %s", suf.Field, cur.Type.Name)}
}

func (e *Evaluator) applyPrefix(cur *Resolved, prefixOp byte) (*Resolved, error) {
	switch prefixOp {
	case '*':
		if cur.Type.Kind != types.KindPointer && cur.Type.Kind != types.KindArray {
			return nil, ErrTypeMismatch{Reason: fmt.Sprintf("* requires a pointer or array type, got %v", cur.Type.Kind)}
		}
		elem, err := cur.Type.Elem()
		if err != nil {
			return nil, fmt.Errorf("eval: %w", err)
		}
		word, err := e.readWord(cur)
		if err != nil {
			return nil, err
		}
		return &Resolved{Type: elem, HasAddr: true, Addr: word}, nil

	case '&':
		if !cur.HasAddr {
			return nil, ErrTypeMismatch{Reason: "cannot take the address of a register-resident value"}
		}
		return &Resolved{Type: types.NewPointerTo(cur.Type), HasRegValue: true, RegValue: cur.Addr, Readonly: true}, nil
	}
	return nil, fmt.Errorf("eval: unknown prefix op %q", prefixOp)
}

func (e *Evaluator) readWord(cur *Resolved) (uint64, error) {
	if cur.Type.Kind == types.KindArray {
		// *array degrades to the array's own base address (element 0),
		// matching pointer-array equivalence for a single dereference.
		if cur.HasAddr {
			return cur.Addr, nil
		}
		return cur.RegValue, nil
	}
	if !cur.HasAddr {
		return cur.RegValue, nil
	}
	// cur.Addr is already a runtime address: it was derived either from
	// a DW_OP_addr expression (load base applied inside op.Evaluate) or
	// from a frame-base-relative offset off a live register value.
	buf := make([]byte, 8)
	if err := e.Mem.ReadMem(cur.Addr, buf); err != nil {
		return 0, fmt.Errorf("eval: %w", err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}
