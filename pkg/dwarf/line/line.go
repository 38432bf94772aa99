// Package line resolves between program counters and source
// locations using the DWARF line-number program. Rather than porting
// the teacher's hand-rolled opcode state machine, this wraps the
// standard library's debug/dwarf.LineReader (see DESIGN.md), which
// implements the same DWARF v2-v5 line-number state machine and
// exposes exactly the File/Line/Address triple this debugger needs.
package line

import (
	"debug/dwarf"
	"fmt"
	"sort"
)

// Row is one row of a compilation unit's line table: the address at
// which the given file/line becomes the current source location, and
// whether that address begins a new statement worth stopping at.
type Row struct {
	Address uint64
	File    string
	Line    int
	IsStmt  bool
	EndSeq  bool
}

// Table is a compilation unit's line-number table, sorted by address,
// used for address<->line lookups.
type Table struct {
	rows []Row
}

// ReadTable reads the complete line table for the compile unit entry.
func ReadTable(data *dwarf.Data, cu *dwarf.Entry) (*Table, error) {
	lr, err := data.LineReader(cu)
	if err != nil {
		return nil, fmt.Errorf("line: %w", err)
	}
	if lr == nil {
		return &Table{}, nil
	}

	var rows []Row
	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			break
		}
		file := ""
		if entry.File != nil {
			file = entry.File.Name
		}
		rows = append(rows, Row{
			Address: entry.Address,
			File:    file,
			Line:    entry.Line,
			IsStmt:  entry.IsStmt,
			EndSeq:  entry.EndSequence,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Address < rows[j].Address })
	return &Table{rows: rows}, nil
}

// PCToLine returns the source file/line whose row covers pc: the last
// row with Address <= pc in the same sequence, per DWARF's "state
// machine value applies until the next row" rule.
func (t *Table) PCToLine(pc uint64) (file string, line int, ok bool) {
	idx := -1
	for i, r := range t.rows {
		if r.Address > pc {
			break
		}
		idx = i
	}
	if idx == -1 || t.rows[idx].EndSeq {
		return "", 0, false
	}
	return t.rows[idx].File, t.rows[idx].Line, true
}

// AllStatements returns every statement-boundary row in the table,
// ordered by address.
func (t *Table) AllStatements() []Row {
	var out []Row
	for _, r := range t.rows {
		if !r.EndSeq && r.IsStmt {
			out = append(out, r)
		}
	}
	return out
}

