package cfg

import (
	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/flowgraph/errz"
	"github.com/deepnoodle-ai/flowgraph/instr"
)

// BlockID is the stable identity of a basic block within its graph. The
// identity never changes, unlike the block's position, which shifts as
// blocks are inserted and deleted. Jump and region targets inside a graph
// are stored as BlockIDs rather than block pointers.
type BlockID int

// NoBlock is the zero BlockID, used for a missing fallthrough successor.
const NoBlock BlockID = 0

// BasicBlock is an owned, ordered run of instructions and pseudo markers
// with a single entry point. Only the last real instruction may be a jump.
// A block optionally falls through to a successor when its last real
// instruction is neither a jump nor terminal.
//
// Blocks are owned exclusively by their graph: they are created by the
// builder or by graph edits (AddBlock, SplitBlock) and destroyed only by
// explicit deletion.
type BasicBlock struct {
	id    BlockID
	next  BlockID
	nodes []instr.Node
}

// ID returns the block's stable identity, or NoBlock for a detached block
// produced by Slice or Copy.
func (b *BasicBlock) ID() BlockID {
	return b.id
}

// Next returns the fallthrough successor, or NoBlock if there is none.
func (b *BasicBlock) Next() BlockID {
	return b.next
}

// SetNext sets the fallthrough successor.
func (b *BasicBlock) SetNext(id BlockID) {
	b.next = id
}

// Len returns the number of nodes in the block, pseudo markers included.
func (b *BasicBlock) Len() int {
	return len(b.nodes)
}

// Node returns the node at the given position.
func (b *BasicBlock) Node(i int) instr.Node {
	return b.nodes[i]
}

// Nodes returns a copy of the block's nodes.
func (b *BasicBlock) Nodes() []instr.Node {
	out := make([]instr.Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// Append adds nodes to the end of the block.
func (b *BasicBlock) Append(nodes ...instr.Node) {
	b.nodes = append(b.nodes, nodes...)
}

// insert places a node at the given position, shifting the rest.
func (b *BasicBlock) insert(i int, n instr.Node) {
	b.nodes = append(b.nodes, nil)
	copy(b.nodes[i+1:], b.nodes[i:])
	b.nodes[i] = n
}

// Slice returns a detached block holding the nodes in [from, to). The
// fallthrough reference is preserved on the new block.
func (b *BasicBlock) Slice(from, to int) *BasicBlock {
	nodes := make([]instr.Node, to-from)
	copy(nodes, b.nodes[from:to])
	return &BasicBlock{next: b.next, nodes: nodes}
}

// Copy returns a detached copy of the block, preserving the fallthrough
// reference.
func (b *BasicBlock) Copy() *BasicBlock {
	return b.Slice(0, len(b.nodes))
}

// LastInstruction returns the last real instruction in the block, skipping
// trailing pseudo markers, or nil if the block holds no real instruction.
func (b *BasicBlock) LastInstruction() *instr.Instr {
	for i := len(b.nodes) - 1; i >= 0; i-- {
		if in, ok := b.nodes[i].(*instr.Instr); ok {
			return in
		}
	}
	return nil
}

// Jump returns the target of the block's jump, if its last real
// instruction is a jump with a resolved target.
func (b *BasicBlock) Jump() (BlockID, bool) {
	last := b.LastInstruction()
	if last == nil || !last.IsJump() {
		return NoBlock, false
	}
	target, ok := last.Arg().(BlockID)
	return target, ok
}

// trailingRegionEnd returns the first RegionEnd found after position i,
// provided only pseudo markers separate it from i, or nil if none does.
func (b *BasicBlock) trailingRegionEnd(i int) *instr.RegionEnd {
	for j := i + 1; j < len(b.nodes); j++ {
		if end, ok := b.nodes[j].(*instr.RegionEnd); ok {
			return end
		}
	}
	return nil
}

// Legalize folds SetLine markers into instructions: pending SetLine values
// are assigned to the instructions that follow, instructions without a
// line inherit firstLine, and the now-redundant markers are removed. It
// returns the last known line, used to seed the next block.
func (b *BasicBlock) Legalize(firstLine int) int {
	var markerPos []int
	setLine := 0
	currentLine := firstLine

	for pos, n := range b.nodes {
		switch v := n.(type) {
		case instr.SetLine:
			setLine = int(v)
			currentLine = int(v)
			markerPos = append(markerPos, pos)
		case *instr.Instr:
			if setLine != 0 {
				b.nodes[pos] = v.WithLine(setLine)
			} else if v.Location().Line == 0 {
				b.nodes[pos] = v.WithLine(currentLine)
			} else {
				currentLine = v.Location().Line
			}
		}
	}

	for i := len(markerPos) - 1; i >= 0; i-- {
		pos := markerPos[i]
		b.nodes = append(b.nodes[:pos], b.nodes[pos+1:]...)
	}

	return currentLine
}

// Validate checks the block's structural invariants: every node must be an
// instruction or pseudo marker, only the last real instruction may be a
// jump, and jump and region targets must be resolved block identities. All
// violations found are aggregated into a single structure error.
func (b *BasicBlock) Validate() error {
	var result *multierror.Error
	lastReal := -1
	for i := len(b.nodes) - 1; i >= 0; i-- {
		if _, ok := b.nodes[i].(*instr.Instr); ok {
			lastReal = i
			break
		}
	}
	for i, n := range b.nodes {
		switch v := n.(type) {
		case *instr.Instr:
			if v.IsJump() {
				if i != lastReal {
					result = multierror.Append(result, errz.New(errz.KindStructure,
						"only the last instruction of a basic block can be a jump (%s at %d)", v, i))
				}
				if _, ok := v.Arg().(BlockID); !ok {
					result = multierror.Append(result, errz.New(errz.KindStructure,
						"jump target must be a basic block, got %T", v.Arg()))
				}
			}
		case *instr.RegionBegin:
			if _, ok := v.Target.(BlockID); !ok {
				result = multierror.Append(result, errz.New(errz.KindStructure,
					"region target must be a basic block, got %T", v.Target))
			}
		case *instr.RegionEnd, instr.SetLine:
		case instr.Label:
			result = multierror.Append(result, errz.New(errz.KindStructure,
				"a basic block cannot contain a label (%s at %d)", v, i))
		default:
			result = multierror.Append(result, errz.New(errz.KindStructure,
				"unexpected node of type %T at %d", n, i))
		}
	}
	return result.ErrorOrNil()
}
