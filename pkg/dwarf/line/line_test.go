package line

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTable() *Table {
	return &Table{rows: []Row{
		{Address: 0x1000, File: "hello.c", Line: 9, IsStmt: true},
		{Address: 0x1004, File: "hello.c", Line: 10, IsStmt: true},
		{Address: 0x1008, File: "hello.c", Line: 10, IsStmt: false},
		{Address: 0x100c, File: "hello.c", Line: 11, IsStmt: true},
		{Address: 0x1010, File: "hello.c", Line: 11, IsStmt: true, EndSeq: true},
	}}
}

func TestPCToLineUsesLastRowAtOrBeforePC(t *testing.T) {
	tbl := sampleTable()

	file, ln, ok := tbl.PCToLine(0x1006)
	assert.True(t, ok)
	assert.Equal(t, "hello.c", file)
	assert.Equal(t, 10, ln)

	_, _, ok = tbl.PCToLine(0x0500)
	assert.False(t, ok, "pc before the first row has no mapping")
}

func TestPCToLineEndOfSequenceIsNotALine(t *testing.T) {
	tbl := sampleTable()
	_, _, ok := tbl.PCToLine(0x1010)
	assert.False(t, ok)
}

func TestAllStatementsExcludesEndSeqAndNonStmt(t *testing.T) {
	tbl := sampleTable()
	rows := tbl.AllStatements()
	assert.Len(t, rows, 3)
	for _, r := range rows {
		assert.False(t, r.EndSeq)
		assert.True(t, r.IsStmt)
	}
}
