// Package instr defines the instruction model consumed by the flowgraph
// core: concrete instructions, symbolic labels, line-tag markers, and the
// begin/end markers bracketing exception-protected regions.
package instr

import (
	"fmt"
	"sync/atomic"

	"github.com/deepnoodle-ai/flowgraph/op"
)

// Node is the interface implemented by everything that may appear in a
// linear instruction stream or a basic block: *Instr, Label, SetLine,
// *RegionBegin and *RegionEnd.
type Node interface {
	node()
}

// Location represents a position in source code.
type Location struct {
	Line   int // 1-based line number, 0 if unknown
	Column int // 1-based column number, 0 if unknown
}

// String returns a formatted string representation of the location.
func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// IsZero returns true if the location has not been set.
func (l Location) IsZero() bool {
	return l.Line == 0 && l.Column == 0
}

// Instr is a single instruction: an opcode plus an optional operand and
// source location. An Instr is immutable once constructed. When an
// instruction moves between blocks it is copied, never aliased, so the
// With* methods return modified copies.
//
// The operand is one of:
//   - nil for opcodes without an operand
//   - an int or uint16 literal (constant index, argument count, ...)
//   - a Label, for jump and region targets in a linear stream
//   - a block identity, once the instruction belongs to a graph
type Instr struct {
	code op.Code
	arg  any
	loc  Location
}

// New creates an instruction with the given opcode and operand. Pass nil
// for opcodes that take no operand.
func New(code op.Code, arg any) *Instr {
	return &Instr{code: code, arg: arg}
}

func (i *Instr) node() {}

// Code returns the opcode.
func (i *Instr) Code() op.Code {
	return i.code
}

// Arg returns the operand.
func (i *Instr) Arg() any {
	return i.arg
}

// Location returns the source location, which may be zero.
func (i *Instr) Location() Location {
	return i.loc
}

// Copy returns a copy of the instruction.
func (i *Instr) Copy() *Instr {
	c := *i
	return &c
}

// WithArg returns a copy of the instruction with the operand replaced.
func (i *Instr) WithArg(arg any) *Instr {
	c := *i
	c.arg = arg
	return &c
}

// WithLocation returns a copy of the instruction with the given location.
func (i *Instr) WithLocation(loc Location) *Instr {
	c := *i
	c.loc = loc
	return &c
}

// WithLine returns a copy of the instruction with the line replaced and
// the column preserved.
func (i *Instr) WithLine(line int) *Instr {
	c := *i
	c.loc.Line = line
	return &c
}

// IsJump returns true if the instruction transfers control to a target.
func (i *Instr) IsJump() bool {
	return op.IsJump(i.code)
}

// IsCondJump returns true if the instruction jumps conditionally.
func (i *Instr) IsCondJump() bool {
	return op.IsCondJump(i.code)
}

// IsUncondJump returns true if the instruction always jumps.
func (i *Instr) IsUncondJump() bool {
	return op.IsUncondJump(i.code)
}

// IsTerminal returns true if the instruction ends execution of the unit.
func (i *Instr) IsTerminal() bool {
	return op.IsTerminal(i.code)
}

// IsFinal returns true if no instruction following this one in the same
// block can ever execute.
func (i *Instr) IsFinal() bool {
	return op.IsFinal(i.code)
}

// StackEffect returns the instruction's static stack effect as a
// (pre-condition minimum, net delta) pair. For conditional jumps, taken
// selects between the branch-taken and not-taken outcomes.
func (i *Instr) StackEffect(taken bool) (pre, delta int) {
	return op.StackEffect(i.code, i.operand(), taken)
}

// operand returns the numeric value of the operand for opcodes whose stack
// effect depends on it. Non-numeric operands have no bearing on effects.
func (i *Instr) operand() int {
	switch v := i.arg.(type) {
	case int:
		return v
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// String returns a compact representation like "LOAD_CONST 3".
func (i *Instr) String() string {
	info := op.GetInfo(i.code)
	name := info.Name
	if name == "" {
		name = fmt.Sprintf("OP_%d", i.code)
	}
	if i.arg == nil {
		return name
	}
	return fmt.Sprintf("%s %v", name, i.arg)
}

var labelCounter uint64

// Label is a placeholder identity used as a jump or region target while a
// unit is in linear form. Labels carry no position of their own: a label
// node in the stream marks the position it stands for. Building a graph
// resolves every label reference to a block identity.
type Label struct {
	id uint64
}

// NewLabel mints a label with a fresh identity.
func NewLabel() Label {
	return Label{id: atomic.AddUint64(&labelCounter, 1)}
}

func (l Label) node() {}

// IsZero returns true for an unminted label.
func (l Label) IsZero() bool {
	return l.id == 0
}

// String returns a representation like "L7".
func (l Label) String() string {
	return fmt.Sprintf("L%d", l.id)
}

// SetLine is a pseudo-instruction that tags all subsequent instructions
// with a source line until the next SetLine. Legalizing a block folds
// these markers into the instructions themselves.
type SetLine int

func (s SetLine) node() {}
