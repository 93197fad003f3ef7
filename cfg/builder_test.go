package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowgraph/errz"
	"github.com/deepnoodle-ai/flowgraph/instr"
	"github.com/deepnoodle-ai/flowgraph/op"
)

func TestBuildSingleBlock(t *testing.T) {
	stream := instr.NewStream().Append(
		instr.New(op.LoadConst, uint16(0)),
		instr.New(op.ReturnValue, nil),
	)
	g, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	require.Equal(t, 2, g.BlockAt(0).Len())
}

func TestBuildPreservesMetadata(t *testing.T) {
	stream := instr.NewStream().Append(instr.New(op.ReturnValue, nil))
	stream.Name = "f"
	stream.Params = []string{"x", "y"}
	stream.FirstLine = 7
	stream.Flags = instr.UnitSuspendable

	g, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, "f", g.Name)
	require.Equal(t, []string{"x", "y"}, g.Params)
	require.Equal(t, 7, g.FirstLine)
	require.Equal(t, instr.UnitSuspendable, g.Flags)
}

func TestBuildConditionalJumpSplits(t *testing.T) {
	target := instr.NewLabel()
	stream := instr.NewStream().Append(
		instr.New(op.Nil, nil),
		instr.New(op.PopJumpIfTrue, target),
		instr.New(op.LoadConst, uint16(0)),
		instr.New(op.ReturnValue, nil),
		target,
		instr.New(op.LoadConst, uint16(1)),
		instr.New(op.ReturnValue, nil),
	)

	g, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	b0, b1, b2 := g.BlockAt(0), g.BlockAt(1), g.BlockAt(2)
	require.Equal(t, 2, b0.Len())
	require.Equal(t, b1.ID(), b0.Next())
	require.Equal(t, NoBlock, b1.Next())

	// The jump operand resolved from the label to the target block.
	jump, ok := b0.Jump()
	require.True(t, ok)
	require.Equal(t, b2.ID(), jump)
}

func TestBuildKeepsDeadCode(t *testing.T) {
	stream := instr.NewStream().Append(
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
		instr.New(op.True, nil),
		instr.New(op.ReturnValue, nil),
	)

	g, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())
	require.Equal(t, NoBlock, g.BlockAt(0).Next())

	dead, err := g.DeadBlocks()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Same(t, g.BlockAt(1), dead[0])
}

func TestBuildDoesNotMutateTheStream(t *testing.T) {
	handler := instr.NewLabel()
	begin := instr.NewRegionBegin(handler, false)
	jump := instr.New(op.Jump, handler)
	stream := instr.NewStream().Append(
		begin,
		instr.New(op.Nil, nil),
		instr.NewRegionEnd(begin),
		jump,
		handler,
		instr.New(op.ReturnValue, nil),
	)

	_, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, handler, begin.Target)
	require.Equal(t, handler, jump.Arg())
}

func TestBuildSimpleRegion(t *testing.T) {
	handler := instr.NewLabel()
	begin := instr.NewRegionBegin(handler, false)
	stream := instr.NewStream().Append(
		begin,
		instr.New(op.Nil, nil),
		instr.New(op.PopTop, nil),
		instr.NewRegionEnd(begin),
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
		handler,
		instr.New(op.PopTop, nil),
		instr.New(op.ReturnValue, nil),
	)

	g, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())

	b0, b1 := g.BlockAt(0), g.BlockAt(1)
	built, ok := b0.Node(0).(*instr.RegionBegin)
	require.True(t, ok)
	require.NotSame(t, begin, built)
	require.Equal(t, b1.ID(), built.Target)

	end, ok := b0.Node(3).(*instr.RegionEnd)
	require.True(t, ok)
	require.Same(t, built, end.Begin)
}

func TestBuildClonesRegionAcrossDisconnectedBlocks(t *testing.T) {
	handler := instr.NewLabel()
	begin := instr.NewRegionBegin(handler, false)
	stream := instr.NewStream().Append(
		begin,
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
		instr.New(op.LoadConst, uint16(0)), // dead, still inside the region
		instr.NewRegionEnd(begin),
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
		handler,
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
	)

	g, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	b0, b1, b2 := g.BlockAt(0), g.BlockAt(1), g.BlockAt(2)
	require.Equal(t, NoBlock, b0.Next())

	// The first block closes its fragment before the terminal leaves it.
	require.Equal(t, 4, b0.Len())
	first, ok := b0.Node(0).(*instr.RegionBegin)
	require.True(t, ok)
	end0, ok := b0.Node(3).(*instr.RegionEnd)
	require.True(t, ok)
	require.Same(t, first, end0.Begin)

	// The dead block reopens an independent fragment with the same handler.
	second, ok := b1.Node(0).(*instr.RegionBegin)
	require.True(t, ok)
	require.NotSame(t, first, second)
	require.Equal(t, b2.ID(), first.Target)
	require.Equal(t, b2.ID(), second.Target)
	end1, ok := b1.Node(2).(*instr.RegionEnd)
	require.True(t, ok)
	require.Same(t, second, end1.Begin)
}

func TestBuildRegionEndAfterTerminal(t *testing.T) {
	handler := instr.NewLabel()
	begin := instr.NewRegionBegin(handler, false)
	stream := instr.NewStream().Append(
		begin,
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
		instr.NewRegionEnd(begin),
		handler,
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
	)

	g, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())

	// The end lands in the block the return closed, not in the handler.
	b0 := g.BlockAt(0)
	require.Equal(t, 4, b0.Len())
	_, ok := b0.Node(3).(*instr.RegionEnd)
	require.True(t, ok)
	require.Equal(t, 2, g.BlockAt(1).Len())
}

func TestBuildQueuesRegionEndForJumpTarget(t *testing.T) {
	exit := instr.NewLabel()
	handler := instr.NewLabel()
	begin := instr.NewRegionBegin(handler, false)
	stream := instr.NewStream().Append(
		begin,
		instr.New(op.Nil, nil),
		instr.New(op.PopJumpIfTrue, exit), // jumps past the region end
		instr.New(op.Nil, nil),
		instr.NewRegionEnd(begin),
		exit,
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
		handler,
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
	)

	g, err := Build(stream)
	require.NoError(t, err)
	require.Equal(t, 4, g.Len())

	b0, b1, b2 := g.BlockAt(0), g.BlockAt(1), g.BlockAt(2)
	built := b0.Node(0).(*instr.RegionBegin)

	// The jump target is owed the region end so the region does not leak
	// along the taken path.
	end, ok := b2.Node(0).(*instr.RegionEnd)
	require.True(t, ok)
	require.Same(t, built, end.Begin)

	// The straight-line path keeps its own end.
	end1, ok := b1.Node(1).(*instr.RegionEnd)
	require.True(t, ok)
	require.Same(t, built, end1.Begin)

	jump, ok := b0.Jump()
	require.True(t, ok)
	require.Equal(t, b2.ID(), jump)
}

func TestBuildDeduplicatesQueuedRegionEnds(t *testing.T) {
	exit := instr.NewLabel()
	handler := instr.NewLabel()
	begin := instr.NewRegionBegin(handler, false)
	stream := instr.NewStream().Append(
		begin,
		instr.New(op.Nil, nil),
		instr.New(op.PopJumpIfTrue, exit),
		instr.New(op.Nil, nil),
		instr.New(op.PopJumpIfTrue, exit),
		instr.New(op.Nil, nil),
		instr.NewRegionEnd(begin),
		exit,
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
		handler,
		instr.New(op.Nil, nil),
		instr.New(op.ReturnValue, nil),
	)

	g, err := Build(stream)
	require.NoError(t, err)

	// Both jumps converge on the same block; it receives one end marker.
	exitBlock := g.BlockAt(3)
	ends := 0
	for _, n := range exitBlock.Nodes() {
		if _, ok := n.(*instr.RegionEnd); ok {
			ends++
		}
	}
	require.Equal(t, 1, ends)
	_, ok := exitBlock.Node(0).(*instr.RegionEnd)
	require.True(t, ok)
}

func TestBuildErrors(t *testing.T) {
	t.Run("undefined jump label", func(t *testing.T) {
		stream := instr.NewStream().Append(
			instr.New(op.Jump, instr.NewLabel()),
		)
		_, err := Build(stream)
		require.Error(t, err)
		require.True(t, errz.IsKind(err, errz.KindLookup))
	})

	t.Run("regions cannot nest", func(t *testing.T) {
		h1, h2 := instr.NewLabel(), instr.NewLabel()
		stream := instr.NewStream().Append(
			instr.NewRegionBegin(h1, false),
			instr.NewRegionBegin(h2, false),
			instr.New(op.ReturnValue, nil),
			h1,
			h2,
			instr.New(op.ReturnValue, nil),
		)
		_, err := Build(stream)
		require.Error(t, err)
		require.True(t, errz.IsKind(err, errz.KindStructure))
	})

	t.Run("end without a begin", func(t *testing.T) {
		orphan := instr.NewRegionBegin(instr.NewLabel(), false)
		stream := instr.NewStream().Append(
			instr.New(op.Nil, nil),
			instr.NewRegionEnd(orphan),
			instr.New(op.ReturnValue, nil),
		)
		_, err := Build(stream)
		require.Error(t, err)
		require.True(t, errz.IsKind(err, errz.KindStructure))
	})

	t.Run("region target must be a label", func(t *testing.T) {
		stream := instr.NewStream().Append(
			instr.NewRegionBegin(BlockID(1), false),
			instr.New(op.ReturnValue, nil),
		)
		_, err := Build(stream)
		require.Error(t, err)
		require.True(t, errz.IsKind(err, errz.KindStructure))
	})
}
