package eval

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vajexal/dbg/pkg/types"
)

// LiteralKind classifies a parsed `set` value per spec.md §6's value
// grammar: integer (dec or 0x…), float, boolean, double-quoted string
// with C escapes, identifier, or null.
type LiteralKind int

const (
	LiteralInt LiteralKind = iota
	LiteralFloat
	LiteralBool
	LiteralString
	LiteralIdent
	LiteralNull
)

// Literal is a parsed, not-yet-typed `set` right-hand side.
type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Bool  bool
	Str   string
	Ident string
}

// ParseLiteral parses one `set` value token.
func ParseLiteral(s string) (Literal, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "null":
		return Literal{Kind: LiteralNull}, nil
	case s == "true":
		return Literal{Kind: LiteralBool, Bool: true}, nil
	case s == "false":
		return Literal{Kind: LiteralBool, Bool: false}, nil
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		unescaped, err := unescapeC(s[1 : len(s)-1])
		if err != nil {
			return Literal{}, fmt.Errorf("eval: ParseError: %w", err)
		}
		return Literal{Kind: LiteralString, Str: unescaped}, nil
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return Literal{}, fmt.Errorf("eval: ParseError: bad hex literal %q: %w", s, err)
		}
		return Literal{Kind: LiteralInt, Int: int64(v)}, nil
	}

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Literal{Kind: LiteralInt, Int: v}, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Literal{Kind: LiteralFloat, Float: v}, nil
	}
	if isIdentLiteral(s) {
		return Literal{Kind: LiteralIdent, Ident: s}, nil
	}
	return Literal{}, fmt.Errorf("eval: ParseError: unrecognized value %q", s)
}

func isIdentLiteral(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func unescapeC(s string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("trailing backslash")
		}
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case '0':
			out.WriteByte(0)
		case '\\':
			out.WriteByte('\\')
		case '"':
			out.WriteByte('"')
		default:
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return out.String(), nil
}

// Set assigns literal to the resolved target, per spec.md §4.4's
// type-directed coercion table, grounded on
// original_source/src/commands/var.rs's set_var.
func (e *Evaluator) Set(r *Resolved, lit Literal) error {
	if r.Readonly {
		return ErrTypeMismatch{Reason: "target has no memory address"}
	}
	if !r.HasAddr {
		return ErrTypeMismatch{Reason: "cannot set a register-resident value"}
	}
	if lit.Kind == LiteralString && r.Type.ByteSize == 1 &&
		(r.Type.Kind == types.KindSignedInt || r.Type.Kind == types.KindUnsignedInt) {
		// `set *s = "…"`: write the string and its NUL terminator
		// starting at the char target.
		return e.Mem.WriteMem(r.Addr, append([]byte(lit.Str), 0))
	}

	switch r.Type.Kind {
	case types.KindBool:
		if lit.Kind != LiteralBool {
			return ErrTypeMismatch{Reason: "expected a boolean literal"}
		}
		v := uint64(0)
		if lit.Bool {
			v = 1
		}
		return e.writeScalar(r.Addr, v, r.Type.ByteSize)

	case types.KindSignedInt:
		if lit.Kind != LiteralInt {
			return ErrTypeMismatch{Reason: "expected an integer literal"}
		}
		if err := checkSignedRange(lit.Int, r.Type.ByteSize); err != nil {
			return ErrTypeMismatch{Reason: err.Error()}
		}
		return e.writeScalar(r.Addr, uint64(lit.Int), r.Type.ByteSize)

	case types.KindUnsignedInt:
		if lit.Kind != LiteralInt {
			return ErrTypeMismatch{Reason: "expected an integer literal"}
		}
		if lit.Int < 0 {
			return ErrTypeMismatch{Reason: "negative literal for unsigned target"}
		}
		if err := checkUnsignedRange(uint64(lit.Int), r.Type.ByteSize); err != nil {
			return ErrTypeMismatch{Reason: err.Error()}
		}
		return e.writeScalar(r.Addr, uint64(lit.Int), r.Type.ByteSize)

	case types.KindFloat:
		var f float64
		switch lit.Kind {
		case LiteralFloat:
			f = lit.Float
		case LiteralInt:
			f = float64(lit.Int)
		default:
			return ErrTypeMismatch{Reason: "expected a numeric literal"}
		}
		var bits uint64
		if r.Type.ByteSize == 4 {
			bits = uint64(math.Float32bits(float32(f)))
		} else {
			bits = math.Float64bits(f)
		}
		return e.writeScalar(r.Addr, bits, r.Type.ByteSize)

	case types.KindPointer:
		return e.setPointer(r, lit)

	case types.KindEnum:
		if lit.Kind != LiteralIdent {
			return ErrTypeMismatch{Reason: "expected a variant name"}
		}
		for _, v := range r.Type.Variants {
			if v.Name == lit.Ident {
				return e.writeScalar(r.Addr, uint64(v.Value), r.Type.ByteSize)
			}
		}
		return ErrTypeMismatch{Reason: fmt.Sprintf("%q is not a variant of %s", lit.Ident, r.Type.Name)}

	case types.KindFunction:
		if lit.Kind != LiteralIdent {
			return ErrTypeMismatch{Reason: "expected a function name"}
		}
		fn, ok := e.Index.Function(lit.Ident)
		if !ok {
			return ErrTypeMismatch{Reason: fmt.Sprintf("no function named %q", lit.Ident)}
		}
		return e.writeScalar(r.Addr, fn.LowPC+e.LoadBase, 8)
	}

	return ErrTypeMismatch{Reason: fmt.Sprintf("cannot set a value of kind %v", r.Type.Kind)}
}

// setPointer dispatches pointer-target assignment: a char* may accept
// a quoted string (written at the pointer's pointee address, no fresh
// allocation per spec.md's explicit non-goal), otherwise an integer
// literal, "null", or a function identifier (writing that function's
// entry address).
func (e *Evaluator) setPointer(r *Resolved, lit Literal) error {
	if lit.Kind == LiteralString {
		if !r.Type.IsCharPointer() {
			return ErrTypeMismatch{Reason: "a string literal may only be assigned through a char pointer target"}
		}
		pointee, err := e.readScalar(r, 8)
		if err != nil {
			return err
		}
		data := append([]byte(lit.Str), 0)
		return e.Mem.WriteMem(pointee, data)
	}

	switch lit.Kind {
	case LiteralNull:
		return e.writeScalar(r.Addr, 0, 8)
	case LiteralInt:
		return e.writeScalar(r.Addr, uint64(lit.Int), 8)
	case LiteralIdent:
		fn, ok := e.Index.Function(lit.Ident)
		if !ok {
			return ErrTypeMismatch{Reason: fmt.Sprintf("no function named %q", lit.Ident)}
		}
		return e.writeScalar(r.Addr, fn.LowPC+e.LoadBase, 8)
	}
	return ErrTypeMismatch{Reason: "expected an address literal, null, or function name"}
}

func (e *Evaluator) writeScalar(addr uint64, v uint64, byteSize int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	if err := e.Mem.WriteMem(addr, buf[:byteSize]); err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	return nil
}

func checkSignedRange(v int64, byteSize int64) error {
	var lo, hi int64
	switch byteSize {
	case 1:
		lo, hi = math.MinInt8, math.MaxInt8
	case 2:
		lo, hi = math.MinInt16, math.MaxInt16
	case 4:
		lo, hi = math.MinInt32, math.MaxInt32
	default:
		return nil
	}
	if v < lo || v > hi {
		return fmt.Errorf("%d does not fit in a %d-byte signed integer", v, byteSize)
	}
	return nil
}

func checkUnsignedRange(v uint64, byteSize int64) error {
	var hi uint64
	switch byteSize {
	case 1:
		hi = math.MaxUint8
	case 2:
		hi = math.MaxUint16
	case 4:
		hi = math.MaxUint32
	default:
		return nil
	}
	if v > hi {
		return fmt.Errorf("%d does not fit in a %d-byte unsigned integer", v, byteSize)
	}
	return nil
}
