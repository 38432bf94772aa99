// Package dwarfindex builds the lookup tables the rest of the debug
// engine needs from a binary's DWARF sections: file+line <-> address,
// function name -> entry address, address -> enclosing function and
// source line, and address -> in-scope variable list. Grounded on
// proctl/variables.go's scope-walking helpers (variablesByTag,
// LocalVariables, FunctionArguments, EvalSymbol) and
// proctl/proctl_linux.go's findExecutable/LoadInformation, adapted
// from Go-program introspection to arbitrary C-family DWARF.
package dwarfindex

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	dwreader "github.com/vajexal/dbg/pkg/dwarf/reader"
	"github.com/vajexal/dbg/pkg/dwarf/line"
	"github.com/vajexal/dbg/pkg/logflags"
	"github.com/vajexal/dbg/pkg/types"
)

// FrameBaseKind classifies the two frame_base expression forms this
// core supports (see spec's design note on frame-base expressions).
type FrameBaseKind int

const (
	FrameBaseRegister FrameBaseKind = iota
	FrameBaseCFA                    // frame-pointer + constant
)

// FrameBase is a subprogram's resolved DW_AT_frame_base description.
type FrameBase struct {
	Kind   FrameBaseKind
	Reg    uint64 // valid when Kind == FrameBaseRegister
	Offset int64  // valid when Kind == FrameBaseCFA; CFA = fp-register value + Offset
}

// Function describes a resolved subprogram.
type Function struct {
	Name      string
	LowPC     uint64
	HighPC    uint64
	DeclLine  int
	FrameBase FrameBase
	Entry     *dwarf.Entry
	CU        *dwarf.Entry
}

// Variable is a resolved, not-yet-evaluated variable: its name, type,
// and the location-expression bytes needed to compute its address or
// register.
type Variable struct {
	Name         string
	Type         *types.Info
	Instructions []byte
	IsParameter  bool
	IsGlobal     bool
}

// SourceLocation is a (file, 1-based line) pair.
type SourceLocation struct {
	File string
	Line int
}

// Index is the built, immutable DWARF lookup table for one binary.
type Index struct {
	data     *dwarf.Data
	resolver *types.Resolver
	isPIE    bool

	functions   []*Function // sorted by LowPC
	funcsByName map[string]*Function

	lineTables map[dwarf.Offset]*line.Table // keyed by CU offset
	cus        []*dwarf.Entry

	globals     []*Variable
	globalsByCU map[dwarf.Offset][]*Variable

	lineCache *lru.Cache // addr -> SourceLocation
	addrCache *lru.Cache // file:line -> addr
}

// Open reads the ELF file at path and builds an Index from its
// .debug_* sections. Fails with an error if the file is not an ELF
// binary, is not x86_64, or carries no usable DWARF.
func Open(path string) (*Index, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dwarfindex: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("dwarfindex: unsupported machine %s, this core targets x86_64", f.Machine)
	}

	data, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("dwarfindex: no usable DWARF debug info: %w", err)
	}

	idx, err := Build(data)
	if err != nil {
		return nil, err
	}
	// ET_DYN covers both real shared objects and PIE executables (the
	// default output of modern gcc/clang); ET_EXEC is a non-PIE
	// executable, whose DWARF addresses are already absolute and need
	// no runtime load bias. See Index.IsPIE.
	idx.isPIE = f.Type == elf.ET_DYN
	return idx, nil
}

// Build constructs an Index from already-parsed DWARF data, exposed
// separately from Open so tests can drive it against a synthetic
// *dwarf.Data fixture without a real ELF file on disk. isPIE defaults
// to true, matching Open's common case (a PIE executable); callers
// that build from a non-PIE fixture should clear it explicitly.
func Build(data *dwarf.Data) (*Index, error) {
	lineCache, err := lru.New(256)
	if err != nil {
		return nil, err
	}
	addrCache, err := lru.New(256)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		data:        data,
		resolver:    types.NewResolver(data),
		isPIE:       true,
		funcsByName: make(map[string]*Function),
		lineTables:  make(map[dwarf.Offset]*line.Table),
		globalsByCU: make(map[dwarf.Offset][]*Variable),
		lineCache:   lineCache,
		addrCache:   addrCache,
	}

	if err := idx.build(); err != nil {
		return nil, err
	}
	return idx, nil
}

// IsPIE reports whether the binary is position-independent (ET_DYN),
// meaning runtime addresses need the /proc/PID/maps load bias added to
// every DWARF-relative address. A non-PIE (ET_EXEC) binary's DWARF
// addresses are already absolute and IsPIE reports false.
func (idx *Index) IsPIE() bool { return idx.isPIE }

// SetPIE overrides the PIE classification, exposed for callers (tests,
// or Build callers working from a non-ELF fixture) that know the
// binary's actual ELF type but built the Index from raw DWARF data via
// Build rather than Open.
func (idx *Index) SetPIE(pie bool) { idx.isPIE = pie }

func (idx *Index) build() error {
	r := dwreader.New(idx.data)
	for {
		cu, err := r.NextCompileUnit()
		if err != nil {
			return fmt.Errorf("dwarfindex: %w", err)
		}
		if cu == nil {
			break
		}
		idx.cus = append(idx.cus, cu)

		tbl, err := line.ReadTable(idx.data, cu)
		if err != nil {
			return fmt.Errorf("dwarfindex: %w", err)
		}
		idx.lineTables[cu.Offset] = tbl

		if err := idx.indexCompileUnit(cu); err != nil {
			return err
		}
	}
	sort.Slice(idx.functions, func(i, j int) bool { return idx.functions[i].LowPC < idx.functions[j].LowPC })
	return nil
}

// indexCompileUnit walks one compile unit's top-level entries,
// collecting subprograms and file-scope variables.
func (idx *Index) indexCompileUnit(cu *dwarf.Entry) error {
	r := dwreader.New(idx.data)
	if err := r.SeekToEntry(cu); err != nil {
		return fmt.Errorf("dwarfindex: %w", err)
	}

	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("dwarfindex: %w", err)
		}
		if entry == nil || entry.Tag == 0 {
			break
		}

		switch entry.Tag {
		case dwarf.TagSubprogram:
			fn, err := idx.buildFunction(entry, cu)
			if err == nil && fn != nil {
				idx.functions = append(idx.functions, fn)
				if _, exists := idx.funcsByName[fn.Name]; !exists {
					idx.funcsByName[fn.Name] = fn
				}
			} else if err != nil && logflags.DWARF() {
				logflags.DWARFLogger().Debugf("skipping subprogram entry at %#x: %v", entry.Offset, err)
			}
			if entry.Children {
				r.SkipChildren()
			}

		case dwarf.TagVariable:
			v, err := idx.buildVariable(entry)
			if err == nil && v != nil {
				v.IsGlobal = true
				idx.globals = append(idx.globals, v)
				idx.globalsByCU[cu.Offset] = append(idx.globalsByCU[cu.Offset], v)
			} else if err != nil && logflags.DWARF() {
				logflags.DWARFLogger().Debugf("skipping global variable entry at %#x: %v", entry.Offset, err)
			}

		default:
			if entry.Children {
				r.SkipChildren()
			}
		}
	}
	return nil
}

func (idx *Index) buildFunction(entry *dwarf.Entry, cu *dwarf.Entry) (*Function, error) {
	name, _ := entry.Val(dwarf.AttrName).(string)
	if name == "" {
		return nil, fmt.Errorf("dwarfindex: subprogram with no name")
	}
	lowpc, highpc, ok := dwreader.EntryPCRange(entry)
	if !ok {
		// A declaration-only subprogram entry (e.g. an extern
		// prototype); not a definition, skip.
		return nil, fmt.Errorf("dwarfindex: %s has no pc range", name)
	}
	declLine, _ := entry.Val(dwarf.AttrDeclLine).(int64)

	fb, err := resolveFrameBase(entry)
	if err != nil {
		return nil, err
	}

	return &Function{
		Name:      name,
		LowPC:     lowpc,
		HighPC:    highpc,
		DeclLine:  int(declLine),
		FrameBase: fb,
		Entry:     entry,
		CU:        cu,
	}, nil
}

// resolveFrameBase decodes DW_AT_frame_base, accepting exactly the two
// forms spec.md's design notes allow: a bare register ref
// (DW_OP_reg0..31 / DW_OP_regx) or DW_OP_call_frame_cfa with the CFA
// itself conventionally frame-pointer+16 on x86_64 SysV (return addr
// + saved rbp both pushed below the canonical frame pointer). Anything
// else is reported so the caller can surface MalformedDebugInfo.
func resolveFrameBase(entry *dwarf.Entry) (FrameBase, error) {
	instr, ok := entry.Val(dwarf.AttrFrameBase).([]byte)
	if !ok || len(instr) == 0 {
		// No frame_base at all: assume the conventional rbp-based
		// convention used throughout this scope (unoptimized compiles).
		return FrameBase{Kind: FrameBaseCFA, Reg: regRBP, Offset: 16}, nil
	}

	op := instr[0]
	switch {
	case op >= 0x50 && op <= 0x6f: // DW_OP_reg0..DW_OP_reg31
		return FrameBase{Kind: FrameBaseRegister, Reg: uint64(op - 0x50)}, nil
	case op == 0x90: // DW_OP_regx
		regnum, err := readFrameBaseUleb128(instr[1:])
		if err != nil {
			return FrameBase{}, fmt.Errorf("dwarfindex: %w", err)
		}
		return FrameBase{Kind: FrameBaseRegister, Reg: regnum}, nil
	case op == 0x9c: // DW_OP_call_frame_cfa
		return FrameBase{Kind: FrameBaseCFA, Reg: regRBP, Offset: 16}, nil
	case op == 0x91: // DW_OP_fbreg used directly as frame_base is malformed here
		return FrameBase{}, fmt.Errorf("dwarfindex: unsupported frame_base expression opcode %#x", op)
	default:
		return FrameBase{}, fmt.Errorf("dwarfindex: unsupported frame_base expression opcode %#x", op)
	}
}

// readFrameBaseUleb128 decodes a ULEB128-encoded register number
// following a DW_OP_regx opcode byte.
func readFrameBaseUleb128(b []byte) (uint64, error) {
	var result uint64
	var shift uint
	for _, c := range b {
		result |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("dwarfindex: truncated DW_OP_regx operand")
}

// regRBP is the DWARF register number for rbp in the x86_64 System V
// register-number mapping.
const regRBP = 6

func (idx *Index) buildVariable(entry *dwarf.Entry) (*Variable, error) {
	name, _ := entry.Val(dwarf.AttrName).(string)
	if name == "" {
		return nil, fmt.Errorf("dwarfindex: variable with no name")
	}
	typ, err := idx.resolver.ResolveAttr(entry)
	if err != nil {
		return nil, fmt.Errorf("dwarfindex: variable %s: %w", name, err)
	}
	instr, err := dwreader.InstructionsForEntry(entry)
	if err != nil {
		// Optimized-away or external-declaration-only variables carry
		// no location; skip rather than fail the whole build.
		return nil, err
	}
	return &Variable{
		Name:         name,
		Type:         typ,
		Instructions: instr,
		IsParameter:  entry.Tag == dwarf.TagFormalParameter,
	}, nil
}

// ResolveFunction returns the entry address of the named subprogram.
func (idx *Index) ResolveFunction(name string) (uint64, bool) {
	fn, ok := idx.funcsByName[name]
	if !ok {
		return 0, false
	}
	return fn.LowPC, true
}

// Function returns the full record for the named subprogram.
func (idx *Index) Function(name string) (*Function, bool) {
	fn, ok := idx.funcsByName[name]
	return fn, ok
}

// FunctionByAddr returns the subprogram whose entry address (LowPC)
// equals addr, used to print a function-pointer value as a name
// rather than a bare hex address when it matches a known function.
func (idx *Index) FunctionByAddr(addr uint64) (*Function, bool) {
	i := sort.Search(len(idx.functions), func(i int) bool { return idx.functions[i].LowPC >= addr })
	if i < len(idx.functions) && idx.functions[i].LowPC == addr {
		return idx.functions[i], true
	}
	return nil, false
}

// EnclosingFunction returns the subprogram whose [LowPC, HighPC) range
// contains addr, found via binary search over the address-sorted
// function table.
func (idx *Index) EnclosingFunction(addr uint64) (*Function, bool) {
	i := sort.Search(len(idx.functions), func(i int) bool { return idx.functions[i].LowPC > addr })
	if i == 0 {
		return nil, false
	}
	fn := idx.functions[i-1]
	if addr >= fn.LowPC && addr < fn.HighPC {
		return fn, true
	}
	return nil, false
}

// ResolveLine returns the lowest address recorded for file:line. File
// is matched as a trailing run of whole path components of the
// recorded compilation path,
// since DWARF's recorded source paths and the user's typed path may
// differ in how much directory prefix is included.
func (idx *Index) ResolveLine(file string, ln int) (uint64, bool) {
	key := fmt.Sprintf("%s:%d", file, ln)
	if cached, ok := idx.addrCache.Get(key); ok {
		return cached.(uint64), true
	}

	best := uint64(0)
	found := false
	for _, tbl := range idx.lineTables {
		for _, row := range tbl.AllStatements() {
			if row.Line != ln || !hasSuffixPath(row.File, file) {
				continue
			}
			if !found || row.Address < best {
				best = row.Address
				found = true
			}
		}
	}
	if found {
		idx.addrCache.Add(key, best)
	}
	return best, found
}

// AddrToSource reverse-maps an address to its source location via the
// owning compile unit's line table.
func (idx *Index) AddrToSource(addr uint64) (SourceLocation, bool) {
	if cached, ok := idx.lineCache.Get(addr); ok {
		return cached.(SourceLocation), true
	}
	fn, ok := idx.EnclosingFunction(addr)
	if !ok {
		return SourceLocation{}, false
	}
	tbl, ok := idx.lineTables[fn.CU.Offset]
	if !ok {
		return SourceLocation{}, false
	}
	file, ln, ok := tbl.PCToLine(addr)
	if !ok {
		return SourceLocation{}, false
	}
	loc := SourceLocation{File: file, Line: ln}
	idx.lineCache.Add(addr, loc)
	return loc, true
}

// VariablesInScope returns every variable whose declaring scope
// contains addr, innermost lexical block first, the function's direct
// parameters/locals next, and file-scope globals last. Within a
// scope, variables are returned in source-declaration (DWARF sibling)
// order.
func (idx *Index) VariablesInScope(addr uint64) ([]*Variable, error) {
	var out []*Variable

	if fn, ok := idx.EnclosingFunction(addr); ok {
		levels, err := idx.scopedVariables(fn, addr)
		if err != nil {
			return nil, err
		}
		for i := len(levels) - 1; i >= 0; i-- {
			out = append(out, levels[i]...)
		}
	}

	out = append(out, idx.globals...)
	return out, nil
}

// scopedVariables walks fn's DWARF subtree, grouping formal parameters
// and local variables by nesting depth, descending only into lexical
// blocks whose pc range contains addr (or that carry no range at all,
// which DWARF permits for a block covering the whole function).
func (idx *Index) scopedVariables(fn *Function, addr uint64) ([][]*Variable, error) {
	r := dwreader.New(idx.data)
	if err := r.SeekToEntry(fn.Entry); err != nil {
		return nil, fmt.Errorf("dwarfindex: %w", err)
	}

	var levels [][]*Variable
	if err := idx.walkScope(r, addr, &levels, 0); err != nil {
		return nil, err
	}
	return levels, nil
}

func (idx *Index) walkScope(r *dwreader.Reader, addr uint64, levels *[][]*Variable, depth int) error {
	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("dwarfindex: %w", err)
		}
		if entry == nil || entry.Tag == 0 {
			return nil
		}

		switch entry.Tag {
		case dwarf.TagFormalParameter, dwarf.TagVariable:
			v, err := idx.buildVariable(entry)
			if err == nil && v != nil {
				for len(*levels) <= depth {
					*levels = append(*levels, nil)
				}
				(*levels)[depth] = append((*levels)[depth], v)
			}
			if entry.Children {
				r.SkipChildren()
			}

		case dwarf.TagLexDwarfBlock:
			lowpc, highpc, hasRange := dwreader.EntryPCRange(entry)
			inRange := !hasRange || (addr >= lowpc && addr < highpc)
			if entry.Children {
				if inRange {
					if err := idx.walkScope(r, addr, levels, depth+1); err != nil {
						return err
					}
				} else {
					r.SkipChildren()
				}
			}

		default:
			if entry.Children {
				r.SkipChildren()
			}
		}
	}
}

// ResolveType resolves a type id (a raw DWARF type offset) to a
// types.Info, following typedef/const/volatile transparently.
func (idx *Index) ResolveType(off dwarf.Offset) (*types.Info, error) {
	return idx.resolver.ResolveOffset(off)
}

// hasSuffixPath reports whether full ends in suffix, matching on path
// component boundaries rather than raw byte suffix (so "src/main.c"
// matches a recorded "/build/src/main.c" but not "notmain.c").
func hasSuffixPath(full, suffix string) bool {
	if full == suffix {
		return true
	}
	if len(full) > len(suffix) && full[len(full)-len(suffix)-1] == '/' && full[len(full)-len(suffix):] == suffix {
		return true
	}
	return false
}
