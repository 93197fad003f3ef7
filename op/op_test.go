package op

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo(LoadConst)
	require.Equal(t, "LOAD_CONST", info.Name)
	require.Equal(t, 1, info.OperandCount)
	require.Equal(t, LoadConst, info.Code)
}

func TestGetInfoAllOpcodes(t *testing.T) {
	tests := []struct {
		code     Code
		name     string
		operands int
	}{
		{Nop, "NOP", 0},
		{Halt, "HALT", 0},
		{Call, "CALL", 1},
		{ReturnValue, "RETURN_VALUE", 0},
		{Throw, "THROW", 0},
		{Jump, "JUMP", 1},
		{PopJumpIfFalse, "POP_JUMP_IF_FALSE", 1},
		{PopJumpIfTrue, "POP_JUMP_IF_TRUE", 1},
		{PopJumpIfNotNil, "POP_JUMP_IF_NOT_NIL", 1},
		{PopJumpIfNil, "POP_JUMP_IF_NIL", 1},
		{ForIter, "FOR_ITER", 1},
		{LoadAttr, "LOAD_ATTR", 1},
		{LoadFast, "LOAD_FAST", 1},
		{LoadGlobal, "LOAD_GLOBAL", 1},
		{LoadConst, "LOAD_CONST", 1},
		{StoreAttr, "STORE_ATTR", 1},
		{StoreFast, "STORE_FAST", 1},
		{StoreGlobal, "STORE_GLOBAL", 1},
		{BinaryOp, "BINARY_OP", 1},
		{CompareOp, "COMPARE_OP", 1},
		{UnaryNegative, "UNARY_NEGATIVE", 0},
		{UnaryNot, "UNARY_NOT", 0},
		{BuildList, "BUILD_LIST", 1},
		{BuildMap, "BUILD_MAP", 1},
		{BuildString, "BUILD_STRING", 1},
		{BinarySubscr, "BINARY_SUBSCR", 0},
		{StoreSubscr, "STORE_SUBSCR", 0},
		{ContainsOp, "CONTAINS_OP", 1},
		{Length, "LENGTH", 0},
		{Unpack, "UNPACK", 1},
		{Swap, "SWAP", 1},
		{Copy, "COPY", 1},
		{PopTop, "POP_TOP", 0},
		{Nil, "NIL", 0},
		{False, "FALSE", 0},
		{True, "TRUE", 0},
		{GetIter, "GET_ITER", 0},
		{Range, "RANGE", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := GetInfo(tt.code)
			require.Equal(t, tt.name, info.Name)
			require.Equal(t, tt.operands, info.OperandCount)
			require.Equal(t, tt.code, info.Code)
		})
	}
}

func TestPredicates(t *testing.T) {
	require.True(t, IsJump(Jump))
	require.True(t, IsJump(PopJumpIfFalse))
	require.True(t, IsJump(ForIter))
	require.False(t, IsJump(LoadConst))

	require.True(t, IsUncondJump(Jump))
	require.False(t, IsUncondJump(PopJumpIfFalse))

	require.True(t, IsCondJump(PopJumpIfTrue))
	require.True(t, IsCondJump(ForIter))
	require.False(t, IsCondJump(Jump))

	require.True(t, IsTerminal(ReturnValue))
	require.True(t, IsTerminal(Throw))
	require.True(t, IsTerminal(Halt))
	require.False(t, IsTerminal(Jump))

	require.True(t, IsFinal(ReturnValue))
	require.True(t, IsFinal(Jump))
	require.False(t, IsFinal(PopJumpIfFalse))
	require.False(t, IsFinal(LoadConst))
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		name    string
		code    Code
		operand int
		taken   bool
		pre     int
		delta   int
	}{
		{"load const", LoadConst, 0, false, 0, 1},
		{"pop top", PopTop, 0, false, 1, -1},
		{"binary op", BinaryOp, 0, false, 2, -1},
		{"store subscr", StoreSubscr, 0, false, 3, -3},
		{"call no args", Call, 0, false, 1, 0},
		{"call three args", Call, 3, false, 4, -3},
		{"build list", BuildList, 2, false, 2, -1},
		{"build map", BuildMap, 2, false, 4, -3},
		{"unpack", Unpack, 3, false, 1, 2},
		{"swap", Swap, 2, false, 2, 0},
		{"copy", Copy, 1, false, 1, 1},
		{"cond jump not taken", PopJumpIfFalse, 0, false, 1, -1},
		{"cond jump taken", PopJumpIfFalse, 0, true, 1, -1},
		{"for iter not taken", ForIter, 0, false, 1, 1},
		{"for iter taken", ForIter, 0, true, 1, -1},
		{"return", ReturnValue, 0, false, 1, -1},
		{"jump", Jump, 0, false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pre, delta := StackEffect(tt.code, tt.operand, tt.taken)
			require.Equal(t, tt.pre, pre, "pre")
			require.Equal(t, tt.delta, delta, "delta")
		})
	}
}
