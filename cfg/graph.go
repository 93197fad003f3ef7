package cfg

import (
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/oleiade/lane/v2"

	"github.com/deepnoodle-ai/flowgraph/errz"
	"github.com/deepnoodle-ai/flowgraph/instr"
	"github.com/deepnoodle-ai/flowgraph/op"
)

// Graph is a control-flow graph: an insertion-ordered arena of basic
// blocks connected by jump, fallthrough and region-handler edges, plus the
// unit-level metadata that must survive a round trip to linear form. The
// graph owns its blocks exclusively.
type Graph struct {
	// ID uniquely identifies the graph for diagnostics. It is minted at
	// construction and never participates in equality.
	ID string

	// Unit metadata carried through build and flatten.
	Name      string
	Params    []string
	FirstLine int
	Flags     instr.UnitFlags

	blocks []*BasicBlock
	index  map[BlockID]int
	nextID BlockID
}

// NewGraph creates a graph holding a single empty entry block.
func NewGraph() *Graph {
	g := &Graph{
		ID:        uuid.Must(uuid.NewV4()).String(),
		FirstLine: 1,
		index:     map[BlockID]int{},
	}
	g.AddBlock()
	return g
}

// Len returns the number of blocks in the graph.
func (g *Graph) Len() int {
	return len(g.blocks)
}

// BlockAt returns the block at the given position.
func (g *Graph) BlockAt(i int) *BasicBlock {
	return g.blocks[i]
}

// Blocks returns the blocks in position order. The returned slice is a
// copy; the blocks themselves are the graph's own.
func (g *Graph) Blocks() []*BasicBlock {
	out := make([]*BasicBlock, len(g.blocks))
	copy(out, g.blocks)
	return out
}

// Block returns the block with the given identity.
func (g *Graph) Block(id BlockID) (*BasicBlock, error) {
	i, err := g.BlockIndex(id)
	if err != nil {
		return nil, err
	}
	return g.blocks[i], nil
}

// BlockIndex returns the position of the block with the given identity.
// An unknown identity is a caller error, reported as a lookup failure.
func (g *Graph) BlockIndex(id BlockID) (int, error) {
	i, ok := g.index[id]
	if !ok {
		return 0, errz.New(errz.KindLookup, "block %d is not part of this graph", id)
	}
	return i, nil
}

// AddBlock appends a new empty block to the arena and returns it.
func (g *Graph) AddBlock() *BasicBlock {
	g.nextID++
	block := &BasicBlock{id: g.nextID}
	g.index[block.id] = len(g.blocks)
	g.blocks = append(g.blocks, block)
	return block
}

// adopt inserts a detached block into the arena at the given position,
// assigning it an identity and shifting the positions of later blocks.
func (g *Graph) adopt(block *BasicBlock, at int) {
	g.nextID++
	block.id = g.nextID
	g.blocks = append(g.blocks, nil)
	copy(g.blocks[at+1:], g.blocks[at:])
	g.blocks[at] = block
	g.index[block.id] = at
	for i := at + 1; i < len(g.blocks); i++ {
		g.index[g.blocks[i].id] = i
	}
}

// SplitBlock splits the block with the given identity at a node offset.
// An offset of 0 returns the block unchanged. Otherwise the nodes from
// offset onward move into a new block that follows immediately, the two
// blocks are linked by fallthrough, and the new block inherits the old
// fallthrough successor. An offset past the end of the block is an error.
func (g *Graph) SplitBlock(id BlockID, offset int) (*BasicBlock, error) {
	pos, err := g.BlockIndex(id)
	if err != nil {
		return nil, err
	}
	block := g.blocks[pos]
	if offset < 0 {
		return nil, errz.New(errz.KindStructure, "split offset must be positive")
	}
	if offset > block.Len() {
		return nil, errz.New(errz.KindStructure,
			"split offset %d is out of the block (len %d)", offset, block.Len())
	}
	if offset == 0 {
		return block, nil
	}

	tail := block.Slice(offset, block.Len())
	if tail.Len() == 0 && pos+1 < len(g.blocks) {
		return g.blocks[pos+1], nil
	}

	block.nodes = block.nodes[:offset]
	g.adopt(tail, pos+1)
	block.next = tail.id
	return tail, nil
}

// Delete removes the block with the given identity from the arena. The
// positions of all following blocks shift down by one. References to the
// deleted block elsewhere in the graph are the caller's responsibility.
func (g *Graph) Delete(id BlockID) error {
	pos, err := g.BlockIndex(id)
	if err != nil {
		return err
	}
	g.blocks = append(g.blocks[:pos], g.blocks[pos+1:]...)
	delete(g.index, id)
	for i := pos; i < len(g.blocks); i++ {
		g.index[g.blocks[i].id] = i
	}
	return nil
}

// DeadBlocks returns the blocks unreachable from the entry block via jump,
// region-handler and fallthrough edges. Every block visited by the walk is
// validated before its contents are read. The walk uses an explicit stack so
// chains of blocks are not bounded by the native call stack.
func (g *Graph) DeadBlocks() ([]*BasicBlock, error) {
	if len(g.blocks) == 0 {
		return nil, nil
	}
	seen := make(map[BlockID]bool, len(g.blocks))
	stack := lane.NewStack(g.blocks[0])
	for {
		block, ok := stack.Pop()
		if !ok {
			break
		}
		if seen[block.id] {
			continue
		}
		seen[block.id] = true
		if err := block.Validate(); err != nil {
			return nil, err
		}
		fallsThrough := true
		for _, n := range block.nodes {
			switch v := n.(type) {
			case *instr.Instr:
				if target, ok := v.Arg().(BlockID); ok {
					if t, err := g.Block(target); err == nil {
						stack.Push(t)
					}
				}
				if v.IsFinal() {
					fallsThrough = false
				}
			case *instr.RegionBegin:
				if target, ok := v.Target.(BlockID); ok {
					if t, err := g.Block(target); err == nil {
						stack.Push(t)
					}
				}
			}
		}
		if fallsThrough && block.next != NoBlock {
			if t, err := g.Block(block.next); err == nil {
				stack.Push(t)
			}
		}
	}
	var dead []*BasicBlock
	for _, b := range g.blocks {
		if !seen[b.id] {
			dead = append(dead, b)
		}
	}
	return dead, nil
}

// Legalize legalizes every block in position order, threading the running
// line from one block into the next, starting from the unit's first line.
// A malformed block stops the pass with a structure error.
func (g *Graph) Legalize() error {
	line := g.FirstLine
	for _, b := range g.blocks {
		if err := b.Validate(); err != nil {
			return err
		}
		line = b.Legalize(line)
	}
	return nil
}

// String returns a compact representation for debugging.
func (g *Graph) String() string {
	return fmt.Sprintf("<Graph %q blocks=%d>", g.Name, len(g.blocks))
}

// flatItem is one entry of the flattened instruction view used for graph
// comparison. Block references are reduced to positions so two graphs with
// different identities but the same shape compare equal.
type flatItem struct {
	kind   string // "instr", "begin" or "end"
	name   string
	arg    any
	loc    instr.Location
	target int  // target block position, for jumps and region begins
	lasti  bool // for region begins
	region int  // region ordinal, for begins and ends
}

// flatInstructions reduces the graph to a linear, identity-free view: one
// item per significant node, with jump and region targets replaced by
// block positions and everything after a block's first final instruction
// (dead code) omitted.
func (g *Graph) flatInstructions() ([]flatItem, error) {
	var items []flatItem
	regions := map[*instr.RegionBegin]int{}

	for _, block := range g.blocks {
		if err := block.Validate(); err != nil {
			return nil, err
		}
	blockLoop:
		for i, n := range block.nodes {
			switch v := n.(type) {
			case *instr.RegionBegin:
				target, err := g.BlockIndex(v.Target.(BlockID))
				if err != nil {
					return nil, err
				}
				if _, ok := regions[v]; !ok {
					regions[v] = len(regions)
				}
				items = append(items, flatItem{
					kind:   "begin",
					region: regions[v],
					target: target,
					lasti:  v.PushLastIndex,
				})
			case *instr.RegionEnd:
				ordinal, ok := regions[v.Begin]
				if !ok {
					return nil, errz.New(errz.KindStructure,
						"region end does not match any region begin in this graph")
				}
				items = append(items, flatItem{kind: "end", region: ordinal})
			case *instr.Instr:
				if v.IsJump() || v.IsFinal() {
					item := flatItem{kind: "instr", name: instrName(v), loc: v.Location()}
					if v.IsJump() {
						target, err := g.BlockIndex(v.Arg().(BlockID))
						if err != nil {
							return nil, err
						}
						item.target = target
					} else {
						item.arg = v.Arg()
					}
					items = append(items, item)
					if te := block.trailingRegionEnd(i); te != nil {
						ordinal, ok := regions[te.Begin]
						if !ok {
							return nil, errz.New(errz.KindStructure,
								"region end does not match any region begin in this graph")
						}
						items = append(items, flatItem{kind: "end", region: ordinal})
					}
					break blockLoop
				}
				items = append(items, flatItem{
					kind: "instr",
					name: instrName(v),
					arg:  v.Arg(),
					loc:  v.Location(),
				})
			}
		}
	}
	return items, nil
}

func instrName(i *instr.Instr) string {
	return op.GetInfo(i.Code()).Name
}

// Equal compares two graphs for semantic equivalence: same parameter
// names, same unit flags and first line, and the same flattened
// instruction sequence with targets compared by block position. The
// fallthrough wiring of otherwise-identical sequences is deliberately not
// compared. Enumerating an invalid graph is an error.
func (g *Graph) Equal(other *Graph) (bool, error) {
	if other == nil {
		return false, nil
	}
	if g.Name != other.Name || g.Flags != other.Flags || g.FirstLine != other.FirstLine {
		return false, nil
	}
	if len(g.Params) != len(other.Params) {
		return false, nil
	}
	for i := range g.Params {
		if g.Params[i] != other.Params[i] {
			return false, nil
		}
	}
	a, err := g.flatInstructions()
	if err != nil {
		return false, err
	}
	b, err := other.flatInstructions()
	if err != nil {
		return false, err
	}
	if len(a) != len(b) {
		return false, nil
	}
	for i := range a {
		if a[i] != b[i] {
			return false, nil
		}
	}
	return true, nil
}
