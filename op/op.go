// Package op defines the opcode catalog consumed by the flowgraph core,
// along with the static stack effect of each opcode.
package op

// Code is an integer opcode that indicates an operation to execute.
type Code uint16

const (
	Invalid Code = 0

	// Execution
	Nop         Code = 1
	Halt        Code = 2
	Call        Code = 3
	ReturnValue Code = 4
	Throw       Code = 5

	// Jump. Targets are symbolic (a label or a basic block), never a
	// bytecode offset: direction is meaningless inside a graph.
	Jump            Code = 10
	PopJumpIfFalse  Code = 12
	PopJumpIfTrue   Code = 13
	PopJumpIfNotNil Code = 14
	PopJumpIfNil    Code = 15
	ForIter         Code = 16 // Jumps when the iterator is exhausted

	// Load
	LoadAttr   Code = 20
	LoadFast   Code = 21
	LoadGlobal Code = 23
	LoadConst  Code = 24

	// Store
	StoreAttr   Code = 30
	StoreFast   Code = 31
	StoreGlobal Code = 33

	// Operations
	BinaryOp      Code = 40
	CompareOp     Code = 41
	UnaryNegative Code = 42
	UnaryNot      Code = 43

	// Build
	BuildList   Code = 50
	BuildMap    Code = 51
	BuildString Code = 53

	// Containers
	BinarySubscr Code = 60
	StoreSubscr  Code = 61
	ContainsOp   Code = 62
	Length       Code = 63
	Unpack       Code = 65

	// Stack
	Swap   Code = 70
	Copy   Code = 71
	PopTop Code = 72

	// Push constants
	Nil   Code = 80
	False Code = 81
	True  Code = 82

	// Iteration
	GetIter Code = 91
	Range   Code = 92
)

// Info contains information about an opcode.
type Info struct {
	Code         Code
	Name         string
	OperandCount int
}

var infos = make([]Info, 256)

func init() {
	type opInfo struct {
		op    Code
		name  string
		count int
	}
	ops := []opInfo{
		{BinaryOp, "BINARY_OP", 1},
		{BinarySubscr, "BINARY_SUBSCR", 0},
		{BuildList, "BUILD_LIST", 1},
		{BuildMap, "BUILD_MAP", 1},
		{BuildString, "BUILD_STRING", 1},
		{Call, "CALL", 1},
		{CompareOp, "COMPARE_OP", 1},
		{ContainsOp, "CONTAINS_OP", 1},
		{Copy, "COPY", 1},
		{False, "FALSE", 0},
		{ForIter, "FOR_ITER", 1},
		{GetIter, "GET_ITER", 0},
		{Halt, "HALT", 0},
		{Jump, "JUMP", 1},
		{Length, "LENGTH", 0},
		{LoadAttr, "LOAD_ATTR", 1},
		{LoadConst, "LOAD_CONST", 1},
		{LoadFast, "LOAD_FAST", 1},
		{LoadGlobal, "LOAD_GLOBAL", 1},
		{Nil, "NIL", 0},
		{Nop, "NOP", 0},
		{PopJumpIfFalse, "POP_JUMP_IF_FALSE", 1},
		{PopJumpIfNil, "POP_JUMP_IF_NIL", 1},
		{PopJumpIfNotNil, "POP_JUMP_IF_NOT_NIL", 1},
		{PopJumpIfTrue, "POP_JUMP_IF_TRUE", 1},
		{PopTop, "POP_TOP", 0},
		{Range, "RANGE", 0},
		{ReturnValue, "RETURN_VALUE", 0},
		{StoreAttr, "STORE_ATTR", 1},
		{StoreFast, "STORE_FAST", 1},
		{StoreGlobal, "STORE_GLOBAL", 1},
		{StoreSubscr, "STORE_SUBSCR", 0},
		{Swap, "SWAP", 1},
		{Throw, "THROW", 0},
		{True, "TRUE", 0},
		{UnaryNegative, "UNARY_NEGATIVE", 0},
		{UnaryNot, "UNARY_NOT", 0},
		{Unpack, "UNPACK", 1},
	}
	for _, o := range ops {
		infos[o.op] = Info{
			Name:         o.name,
			Code:         o.op,
			OperandCount: o.count,
		}
	}
}

// GetInfo returns information about the given opcode.
func GetInfo(c Code) Info {
	return infos[c]
}

// IsJump returns true if the opcode transfers control to a target block.
func IsJump(c Code) bool {
	switch c {
	case Jump, PopJumpIfFalse, PopJumpIfTrue, PopJumpIfNotNil, PopJumpIfNil, ForIter:
		return true
	}
	return false
}

// IsCondJump returns true if the opcode jumps only when its condition holds.
func IsCondJump(c Code) bool {
	return IsJump(c) && c != Jump
}

// IsUncondJump returns true if the opcode always jumps.
func IsUncondJump(c Code) bool {
	return c == Jump
}

// IsTerminal returns true if the opcode ends execution of the current unit
// without a jump target (return, throw, halt).
func IsTerminal(c Code) bool {
	switch c {
	case ReturnValue, Throw, Halt:
		return true
	}
	return false
}

// IsFinal returns true if no instruction following this one in the same
// block can ever execute.
func IsFinal(c Code) bool {
	return IsTerminal(c) || IsUncondJump(c)
}

// StackEffect returns the static stack effect of an opcode as a pair
// (pre, delta): pre is the minimum number of operands that must be on the
// stack before the instruction runs, and delta is the net change in stack
// depth after it completes. For conditional jumps the effect may differ
// between the branch-taken and not-taken outcomes; taken selects which one
// is reported. The operand is consulted only for opcodes whose effect
// depends on it (Call, the Build ops, Unpack, Swap, Copy).
func StackEffect(c Code, operand int, taken bool) (pre, delta int) {
	switch c {
	case Nop, Halt, Jump:
		return 0, 0
	case Call:
		return operand + 1, -operand
	case ReturnValue, Throw:
		return 1, -1
	case PopJumpIfFalse, PopJumpIfTrue, PopJumpIfNotNil, PopJumpIfNil:
		return 1, -1
	case ForIter:
		// Not taken: the iterator stays and the next value is pushed.
		// Taken: the iterator is exhausted and popped.
		if taken {
			return 1, -1
		}
		return 1, 1
	case LoadConst, LoadFast, LoadGlobal, Nil, True, False:
		return 0, 1
	case LoadAttr, UnaryNegative, UnaryNot, Length, GetIter, Range:
		return 1, 0
	case StoreFast, StoreGlobal, PopTop:
		return 1, -1
	case StoreAttr:
		return 2, -2
	case BinaryOp, CompareOp, ContainsOp, BinarySubscr:
		return 2, -1
	case StoreSubscr:
		return 3, -3
	case BuildList, BuildString:
		return operand, 1 - operand
	case BuildMap:
		return 2 * operand, 1 - 2*operand
	case Unpack:
		return 1, operand - 1
	case Swap:
		return operand, 0
	case Copy:
		return operand, 1
	}
	return 0, 0
}
