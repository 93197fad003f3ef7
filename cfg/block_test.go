package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowgraph/errz"
	"github.com/deepnoodle-ai/flowgraph/instr"
	"github.com/deepnoodle-ai/flowgraph/op"
)

func TestBlockLastInstruction(t *testing.T) {
	g := NewGraph()
	b := g.BlockAt(0)
	require.Nil(t, b.LastInstruction())

	begin := instr.NewRegionBegin(instr.NewLabel(), false)
	b.Append(
		instr.New(op.LoadConst, uint16(0)),
		begin,
		instr.SetLine(3),
	)
	last := b.LastInstruction()
	require.NotNil(t, last)
	require.Equal(t, op.LoadConst, last.Code())
}

func TestBlockSliceAndCopyPreserveFallthrough(t *testing.T) {
	g := NewGraph()
	b := g.BlockAt(0)
	next := g.AddBlock()
	b.SetNext(next.ID())
	b.Append(
		instr.New(op.Nil, nil),
		instr.New(op.PopTop, nil),
		instr.New(op.Nil, nil),
	)

	sliced := b.Slice(1, 3)
	require.Equal(t, NoBlock, sliced.ID())
	require.Equal(t, next.ID(), sliced.Next())
	require.Equal(t, 2, sliced.Len())

	cp := b.Copy()
	require.Equal(t, next.ID(), cp.Next())
	require.Equal(t, b.Len(), cp.Len())

	// The copy owns its nodes slice.
	cp.Append(instr.New(op.ReturnValue, nil))
	require.Equal(t, 3, b.Len())
}

func TestBlockJump(t *testing.T) {
	g := NewGraph()
	b := g.BlockAt(0)
	target := g.AddBlock()

	_, ok := b.Jump()
	require.False(t, ok)

	b.Append(instr.New(op.Nil, nil))
	_, ok = b.Jump()
	require.False(t, ok)

	b.Append(instr.New(op.Jump, target.ID()))
	id, ok := b.Jump()
	require.True(t, ok)
	require.Equal(t, target.ID(), id)
}

func TestBlockLegalize(t *testing.T) {
	g := NewGraph()
	b := g.BlockAt(0)
	b.Append(
		instr.New(op.Nil, nil), // no line: inherits the first line
		instr.SetLine(3),
		instr.New(op.Nil, nil).WithLocation(instr.Location{Line: 7, Column: 2}), // overridden by the marker
		instr.New(op.PopTop, nil),
	)

	last := b.Legalize(10)
	require.Equal(t, 3, last)
	require.Equal(t, 3, b.Len()) // marker removed

	in0 := b.Node(0).(*instr.Instr)
	require.Equal(t, 10, in0.Location().Line)
	in1 := b.Node(1).(*instr.Instr)
	require.Equal(t, 3, in1.Location().Line)
	in2 := b.Node(2).(*instr.Instr)
	require.Equal(t, 3, in2.Location().Line)
}

func TestBlockLegalizeTracksExplicitLines(t *testing.T) {
	g := NewGraph()
	b := g.BlockAt(0)
	b.Append(
		instr.New(op.Nil, nil).WithLocation(instr.Location{Line: 5}),
		instr.New(op.PopTop, nil), // inherits line 5
	)
	last := b.Legalize(1)
	require.Equal(t, 5, last)
	require.Equal(t, 5, b.Node(1).(*instr.Instr).Location().Line)
}

func TestBlockValidate(t *testing.T) {
	g := NewGraph()
	target := g.AddBlock()

	tests := []struct {
		name  string
		nodes []instr.Node
		valid bool
	}{
		{
			name: "valid block with trailing jump",
			nodes: []instr.Node{
				instr.New(op.Nil, nil),
				instr.New(op.PopJumpIfTrue, target.ID()),
			},
			valid: true,
		},
		{
			name: "markers after the jump are fine",
			nodes: []instr.Node{
				instr.New(op.Jump, target.ID()),
				instr.NewRegionEnd(instr.NewRegionBegin(target.ID(), false)),
			},
			valid: true,
		},
		{
			name: "jump not last",
			nodes: []instr.Node{
				instr.New(op.Jump, target.ID()),
				instr.New(op.Nil, nil),
			},
			valid: false,
		},
		{
			name: "unresolved jump target",
			nodes: []instr.Node{
				instr.New(op.Jump, instr.NewLabel()),
			},
			valid: false,
		},
		{
			name: "unresolved region target",
			nodes: []instr.Node{
				instr.NewRegionBegin(instr.NewLabel(), false),
				instr.New(op.Nil, nil),
			},
			valid: false,
		},
		{
			name: "label node in a block",
			nodes: []instr.Node{
				instr.NewLabel(),
			},
			valid: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &BasicBlock{nodes: tt.nodes}
			err := b.Validate()
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.True(t, errz.IsKind(err, errz.KindStructure))
			}
		})
	}
}

func TestBlockValidateAggregatesViolations(t *testing.T) {
	b := &BasicBlock{nodes: []instr.Node{
		instr.New(op.Jump, instr.NewLabel()), // unresolved target and not last
		instr.New(op.Nil, nil),
		instr.NewRegionBegin(instr.NewLabel(), false), // unresolved target
	}}
	err := b.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "3 errors occurred")
}
