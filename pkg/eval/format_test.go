package eval

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vajexal/dbg/pkg/dwarfindex"
	"github.com/vajexal/dbg/pkg/types"
)

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

func (m *fakeMem) putU64(addr uint64, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	m.WriteMem(addr, buf)
}

func newEvaluator(mem *fakeMem) *Evaluator {
	return &Evaluator{Index: &dwarfindex.Index{}, Mem: mem}
}

func TestPrintSignedInt(t *testing.T) {
	mem := newFakeMem()
	var neg5 int64 = -5
	mem.putU64(0x1000, uint64(neg5)&0xff)
	e := newEvaluator(mem)

	typ := &types.Info{Kind: types.KindSignedInt, ByteSize: 1, Name: "char"}
	s, err := e.Print(&Resolved{Type: typ, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "-5", s)
}

func TestPrintUnsignedInt(t *testing.T) {
	mem := newFakeMem()
	mem.putU64(0x1000, 200)
	e := newEvaluator(mem)

	typ := &types.Info{Kind: types.KindUnsignedInt, ByteSize: 1, Name: "unsigned char"}
	s, err := e.Print(&Resolved{Type: typ, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "200", s)
}

func TestPrintBool(t *testing.T) {
	mem := newFakeMem()
	mem.putU64(0x1000, 1)
	e := newEvaluator(mem)

	typ := &types.Info{Kind: types.KindBool, ByteSize: 1, Name: "bool"}
	s, err := e.Print(&Resolved{Type: typ, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "true", s)
}

func TestPrintCharPointerAsString(t *testing.T) {
	mem := newFakeMem()
	strAddr := uint64(0x2000)
	for i, c := range []byte("hi") {
		mem.data[strAddr+uint64(i)] = c
	}
	mem.putU64(0x1000, strAddr)
	e := newEvaluator(mem)

	charInfo := &types.Info{Kind: types.KindSignedInt, ByteSize: 1, Name: "char"}
	ptrInfo := types.NewPointerTo(charInfo)

	s, err := e.Print(&Resolved{Type: ptrInfo, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, `"hi"`, s)
}

func TestPrintNullPointerAsHex(t *testing.T) {
	mem := newFakeMem()
	mem.putU64(0x1000, 0)
	e := newEvaluator(mem)

	intInfo := &types.Info{Kind: types.KindSignedInt, ByteSize: 4, Name: "int"}
	ptrInfo := types.NewPointerTo(intInfo)

	s, err := e.Print(&Resolved{Type: ptrInfo, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "0x0", s)
}

func TestPrintEnum(t *testing.T) {
	mem := newFakeMem()
	mem.putU64(0x1000, 2)
	e := newEvaluator(mem)

	typ := &types.Info{
		Kind:     types.KindEnum,
		ByteSize: 4,
		Name:     "color",
		Variants: []types.EnumVariant{{Name: "RED", Value: 0}, {Name: "GREEN", Value: 1}, {Name: "BLUE", Value: 2}},
	}
	s, err := e.Print(&Resolved{Type: typ, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "BLUE", s)
}

func TestPrintStruct(t *testing.T) {
	mem := newFakeMem()
	mem.putU64(0x1000, 7)   // x
	mem.putU64(0x1004, 9)   // y (offset 4)
	e := newEvaluator(mem)

	intInfo := &types.Info{Kind: types.KindSignedInt, ByteSize: 4, Name: "int"}
	structInfo := &types.Info{
		Kind: types.KindStruct,
		Name: "point",
		Fields: []types.Field{
			{Name: "x", Type: intInfo, Offset: 0},
			{Name: "y", Type: intInfo, Offset: 4},
		},
	}

	s, err := e.Print(&Resolved{Type: structInfo, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "{ x = 7, y = 9 }", s)
}

func TestPrintArray(t *testing.T) {
	mem := newFakeMem()
	mem.putU64(0x1000, 1)
	mem.putU64(0x1004, 2)
	mem.putU64(0x1008, 3)
	e := newEvaluator(mem)

	intInfo := &types.Info{Kind: types.KindSignedInt, ByteSize: 4, Name: "int"}
	arrInfo := types.NewArrayOf(intInfo, 3)

	s, err := e.Print(&Resolved{Type: arrInfo, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "[ 1, 2, 3 ]", s)
}

func TestPrintCharArrayAsString(t *testing.T) {
	mem := newFakeMem()
	for i, c := range []byte("hi\x00\x00") {
		mem.data[0x1000+uint64(i)] = c
	}
	e := newEvaluator(mem)

	byteInfo := &types.Info{Kind: types.KindUnsignedInt, ByteSize: 1, Name: "unsigned char"}
	arrInfo := types.NewArrayOf(byteInfo, 4)

	s, err := e.Print(&Resolved{Type: arrInfo, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, `"hi"`, s)
}

func TestPrintDataPointerNotMisreadAsFunctionName(t *testing.T) {
	mem := newFakeMem()
	mem.putU64(0x1000, 0x4000)
	e := newEvaluator(mem)

	intInfo := &types.Info{Kind: types.KindSignedInt, ByteSize: 4, Name: "int"}
	ptrInfo := types.NewPointerTo(intInfo)

	s, err := e.Print(&Resolved{Type: ptrInfo, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "0x4000", s)
}

func TestSetRejectsReadonlyTarget(t *testing.T) {
	mem := newFakeMem()
	e := newEvaluator(mem)
	typ := &types.Info{Kind: types.KindSignedInt, ByteSize: 4}
	err := e.Set(&Resolved{Type: typ, Readonly: true}, Literal{Kind: LiteralInt, Int: 1})
	assert.Error(t, err)
}

func TestSetIntRangeCheck(t *testing.T) {
	mem := newFakeMem()
	e := newEvaluator(mem)
	typ := &types.Info{Kind: types.KindSignedInt, ByteSize: 1}
	err := e.Set(&Resolved{Type: typ, HasAddr: true, Addr: 0x1000}, Literal{Kind: LiteralInt, Int: 1000})
	assert.Error(t, err)
}

func TestSetIntWritesMemory(t *testing.T) {
	mem := newFakeMem()
	e := newEvaluator(mem)
	typ := &types.Info{Kind: types.KindSignedInt, ByteSize: 4}
	err := e.Set(&Resolved{Type: typ, HasAddr: true, Addr: 0x1000}, Literal{Kind: LiteralInt, Int: 20})
	assert.NoError(t, err)

	s, err := e.Print(&Resolved{Type: typ, HasAddr: true, Addr: 0x1000})
	assert.NoError(t, err)
	assert.Equal(t, "20", s)
}
