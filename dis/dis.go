// Package dis renders linear instruction streams as human-readable
// disassembly listings, which is useful for debugging graph round trips.
package dis

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/flowgraph/instr"
	"github.com/deepnoodle-ai/flowgraph/op"
)

// Row is one rendered node of a stream.
type Row struct {
	Offset   int
	Opcode   string
	Operands string
	Info     string
}

// Disassemble converts the stream's nodes into display rows, one per node,
// pseudo markers included.
func Disassemble(stream *instr.Stream) []Row {
	rows := make([]Row, 0, len(stream.Nodes))
	for i, n := range stream.Nodes {
		row := Row{Offset: i}
		switch v := n.(type) {
		case instr.Label:
			row.Opcode = "LABEL"
			row.Info = v.String()
		case instr.SetLine:
			row.Opcode = "SET_LINE"
			row.Operands = fmt.Sprintf("%d", int(v))
		case *instr.RegionBegin:
			row.Opcode = "REGION_BEGIN"
			row.Operands = fmt.Sprintf("%v", v.Target)
			if v.PushLastIndex {
				row.Info = "lasti"
			}
		case *instr.RegionEnd:
			row.Opcode = "REGION_END"
			row.Operands = fmt.Sprintf("%v", v.Begin.Target)
		case *instr.Instr:
			row.Opcode = op.GetInfo(v.Code()).Name
			if v.Arg() != nil {
				row.Operands = fmt.Sprintf("%v", v.Arg())
			}
			if loc := v.Location(); !loc.IsZero() {
				row.Info = fmt.Sprintf("line %d", loc.Line)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

var headers = [4]string{"OFFSET", "OPCODE", "OPERANDS", "INFO"}

var opcodeColor = color.New(color.FgCyan)

// Print writes the rows to w as an ASCII table.
func Print(rows []Row, w io.Writer) {
	cells := make([][4]string, len(rows))
	for i, row := range rows {
		cells[i] = [4]string{
			fmt.Sprintf("%d", row.Offset),
			row.Opcode,
			row.Operands,
			row.Info,
		}
	}

	var widths [4]int
	for col, h := range headers {
		widths[col] = len(h)
	}
	for _, row := range cells {
		for col, cell := range row {
			if len(cell) > widths[col] {
				widths[col] = len(cell)
			}
		}
	}

	var border strings.Builder
	for _, width := range widths {
		border.WriteString("+")
		border.WriteString(strings.Repeat("-", width+2))
	}
	border.WriteString("+")

	fmt.Fprintln(w, border.String())
	for col, h := range headers {
		fmt.Fprintf(w, "| %s ", center(h, widths[col]))
	}
	fmt.Fprintln(w, "|")
	fmt.Fprintln(w, border.String())

	for _, row := range cells {
		fmt.Fprintf(w, "| %*s ", widths[0], row[0])
		fmt.Fprintf(w, "| %s ", opcodeColor.Sprintf("%-*s", widths[1], row[1]))
		fmt.Fprintf(w, "| %*s ", widths[2], row[2])
		fmt.Fprintf(w, "| %-*s |\n", widths[3], row[3])
	}
	fmt.Fprintln(w, border.String())
}

func center(s string, width int) string {
	gap := width - len(s)
	left := gap / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
}
