// Package types resolves DWARF type information into the tagged-union
// shape the evaluator and printer need, built directly on the standard
// library's debug/dwarf.Type and its concrete implementations
// (PtrType, StructType, ArrayType, IntType, UintType, FloatType,
// BoolType, EnumType, FuncType, TypedefType). Grounded on
// proctl/variables.go's extractValue, which switches on exactly these
// concrete types rather than on a vendored parallel type system.
package types

import (
	"debug/dwarf"
	"fmt"
)

// Kind classifies a resolved type for the evaluator's printing and
// assignment logic.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindSignedInt
	KindUnsignedInt
	KindFloat
	KindPointer
	KindArray
	KindStruct
	KindUnion
	KindEnum
	KindFunction
)

// Field describes one member of a struct or union type.
type Field struct {
	Name   string
	Type   *Info
	Offset int64
}

// EnumVariant names one enumerator and its constant value.
type EnumVariant struct {
	Name  string
	Value int64
}

// Info is the resolved, DWARF-typedef-stripped description of a
// variable's type. Pointer and array element types are resolved
// lazily via Elem() to tolerate self-referential (linked-list, tree)
// type graphs without infinite recursion at resolve time.
type Info struct {
	Name     string
	Kind     Kind
	ByteSize int64

	// elem/resolver support deferred resolution of the pointee or
	// element type, keyed on the underlying debug/dwarf.Type rather
	// than re-walked eagerly. elemInfo is an escape hatch for synthetic
	// types built outside a Resolver (the `&` prefix op's result),
	// which have a concrete pointee Info already in hand.
	elem     dwarf.Type
	resolver *Resolver
	elemInfo *Info

	// ArrayLength is the element count for a fixed-size array, or -1 if
	// the bound could not be determined statically. Unused outside
	// KindArray.
	ArrayLength int64

	Fields   []Field       // struct/union
	Variants []EnumVariant // enum

	// FuncReturn describes a KindFunction type's return type (reached
	// from a pointer-to-function through Elem); nil otherwise. Only the return type is tracked, matching spec.md's
	// function-pointer printing/assignment needs.
	FuncReturn *Info
}

// Elem resolves the pointee (for KindPointer) or element type (for
// KindArray). It is resolved on demand rather than eagerly so that
// cyclic structures (e.g. a struct containing a pointer to itself)
// don't recurse indefinitely while building Info.
func (i *Info) Elem() (*Info, error) {
	if i.elemInfo != nil {
		return i.elemInfo, nil
	}
	if i.elem == nil || i.resolver == nil {
		return nil, fmt.Errorf("types: %s has no element type", i.Name)
	}
	return i.resolver.resolve(i.elem)
}

// NewPointerTo builds a synthetic pointer-type Info wrapping elem,
// used by the evaluator's `&` (address-of) prefix op, which has a
// concrete pointee Info in hand but no DWARF type offset to key a
// Resolver cache entry on.
func NewPointerTo(elem *Info) *Info {
	return &Info{Kind: KindPointer, ByteSize: 8, Name: "ptr", elemInfo: elem}
}

// NewArrayOf builds a synthetic fixed-length array-type Info wrapping
// elem, the array-typed counterpart to NewPointerTo for callers that
// have a concrete element Info in hand but no DWARF type offset.
func NewArrayOf(elem *Info, length int64) *Info {
	return &Info{Kind: KindArray, ByteSize: length * elem.ByteSize, Name: "arr", ArrayLength: length, elemInfo: elem}
}

// Resolver turns debug/dwarf.Type values into Info, memoizing by the
// dwarf.Type pointer so repeated references to the same type (the
// overwhelmingly common case for struct fields and parameters)
// resolve once. debug/dwarf.Data itself caches Type() by offset, so
// two references to the same DWARF type entry yield the identical
// dwarf.Type value, making it a stable cache key.
type Resolver struct {
	data  *dwarf.Data
	cache map[dwarf.Type]*Info
}

// NewResolver constructs a Resolver over the given DWARF data.
func NewResolver(data *dwarf.Data) *Resolver {
	return &Resolver{data: data, cache: make(map[dwarf.Type]*Info)}
}

// ResolveAttr resolves the type referenced by entry's AttrType
// attribute.
func (r *Resolver) ResolveAttr(entry *dwarf.Entry) (*Info, error) {
	off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return nil, fmt.Errorf("types: entry has no type attribute")
	}
	dt, err := r.data.Type(off)
	if err != nil {
		return nil, fmt.Errorf("types: %w", err)
	}
	return r.resolve(dt)
}

// ResolveOffset resolves the type at a raw DWARF offset, used when a
// caller already has the offset (e.g. a member's AttrType) rather than
// a live dwarf.Type value.
func (r *Resolver) ResolveOffset(off dwarf.Offset) (*Info, error) {
	dt, err := r.data.Type(off)
	if err != nil {
		return nil, fmt.Errorf("types: %w", err)
	}
	return r.resolve(dt)
}

func (r *Resolver) resolve(dt dwarf.Type) (*Info, error) {
	if dt == nil {
		return nil, fmt.Errorf("types: nil type")
	}
	if cached, ok := r.cache[dt]; ok {
		return cached, nil
	}

	info := &Info{}
	// Pre-populate the cache before recursing into fields/elements, so
	// a self-referential type (struct Node { struct Node *next; })
	// resolving its own type mid-build finds the partially-built Info
	// rather than looping forever.
	r.cache[dt] = info
	if err := r.fill(info, dt); err != nil {
		delete(r.cache, dt)
		return nil, err
	}
	return info, nil
}

func (r *Resolver) fill(info *Info, dt dwarf.Type) error {
	info.Name = dt.Common().Name
	info.ByteSize = dt.Size()

	switch t := dt.(type) {
	case *dwarf.BoolType:
		info.Kind = KindBool

	case *dwarf.CharType:
		info.Kind = KindSignedInt

	case *dwarf.UcharType:
		info.Kind = KindUnsignedInt

	case *dwarf.IntType:
		info.Kind = KindSignedInt

	case *dwarf.UintType:
		info.Kind = KindUnsignedInt

	case *dwarf.FloatType:
		info.Kind = KindFloat

	case *dwarf.PtrType:
		info.Kind = KindPointer
		if info.ByteSize <= 0 {
			info.ByteSize = 8
		}
		info.elem = t.Type
		info.resolver = r

	case *dwarf.ArrayType:
		info.Kind = KindArray
		info.elem = t.Type
		info.resolver = r
		info.ArrayLength = t.Count
		if info.ByteSize <= 0 && t.Count > 0 && t.Type != nil {
			info.ByteSize = t.Count * t.Type.Size()
		}

	case *dwarf.StructType:
		if t.Kind == "union" {
			info.Kind = KindUnion
		} else {
			info.Kind = KindStruct
		}
		if t.Incomplete {
			return fmt.Errorf("types: incomplete struct/union type %q", t.StructName)
		}
		for _, f := range t.Field {
			fieldInfo, err := r.resolve(f.Type)
			if err != nil {
				return err
			}
			info.Fields = append(info.Fields, Field{
				Name:   f.Name,
				Type:   fieldInfo,
				Offset: f.ByteOffset,
			})
		}

	case *dwarf.EnumType:
		info.Kind = KindEnum
		if info.ByteSize <= 0 {
			info.ByteSize = 4
		}
		for _, v := range t.Val {
			info.Variants = append(info.Variants, EnumVariant{Name: v.Name, Value: v.Val})
		}

	case *dwarf.FuncType:
		info.Kind = KindFunction
		if t.ReturnType != nil {
			ret, err := r.resolve(t.ReturnType)
			if err != nil {
				return err
			}
			info.FuncReturn = ret
		}

	case *dwarf.TypedefType:
		// Typedefs are stripped: resolve through to the underlying type
		// but keep the typedef's own name for display purposes.
		name := info.Name
		underlying, err := r.resolve(t.Type)
		if err != nil {
			return err
		}
		*info = *underlying
		info.Name = name

	case *dwarf.QualType:
		// const/volatile/atomic qualifiers don't change representation.
		underlying, err := r.resolve(t.Type)
		if err != nil {
			return err
		}
		*info = *underlying

	case *dwarf.VoidType:
		info.Kind = KindInvalid
		info.Name = "void"

	case *dwarf.UnspecifiedType:
		info.Kind = KindInvalid

	default:
		return fmt.Errorf("types: unsupported DWARF type %T for %q", dt, info.Name)
	}
	return nil
}

// IsCharPointer reports whether info describes a pointer to a
// single-byte character type, the case the printer special-cases to
// read and display as a C string rather than a raw hex address.
func (i *Info) IsCharPointer() bool {
	if i.Kind != KindPointer {
		return false
	}
	elem, err := i.Elem()
	if err != nil {
		return false
	}
	return elem.ByteSize == 1 && (elem.Kind == KindSignedInt || elem.Kind == KindUnsignedInt)
}

// IsCharArray reports whether info describes a fixed-size array of a
// single-byte character type, the array counterpart to IsCharPointer
// that the printer special-cases to read and display as a C string.
func (i *Info) IsCharArray() bool {
	if i.Kind != KindArray {
		return false
	}
	elem, err := i.Elem()
	if err != nil {
		return false
	}
	return elem.ByteSize == 1 && (elem.Kind == KindSignedInt || elem.Kind == KindUnsignedInt)
}

// IsFunctionPointer reports whether info describes a pointer whose
// pointee is a subroutine type, the case the printer special-cases to
// substitute the pointed-to function's name for its raw address.
func (i *Info) IsFunctionPointer() bool {
	if i.Kind != KindPointer {
		return false
	}
	elem, err := i.Elem()
	if err != nil {
		return false
	}
	return elem.Kind == KindFunction
}
