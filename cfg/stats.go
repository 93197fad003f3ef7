package cfg

import "github.com/deepnoodle-ai/flowgraph/instr"

// Stats contains statistics about a control-flow graph.
// This is useful for auditing a unit before serializing it.
type Stats struct {
	// BlockCount is the total number of basic blocks.
	BlockCount int

	// InstructionCount is the total number of real instructions across all
	// blocks, pseudo markers excluded.
	InstructionCount int

	// RegionCount is the number of region fragments in the graph.
	RegionCount int

	// DeadBlockCount is the number of blocks unreachable from the entry.
	DeadBlockCount int
}

// Stats computes statistics over the graph's blocks. Every block is validated
// before its contents are counted.
func (g *Graph) Stats() (Stats, error) {
	stats := Stats{BlockCount: len(g.blocks)}
	for _, block := range g.blocks {
		if err := block.Validate(); err != nil {
			return Stats{}, err
		}
		for _, n := range block.nodes {
			switch n.(type) {
			case *instr.Instr:
				stats.InstructionCount++
			case *instr.RegionBegin:
				stats.RegionCount++
			}
		}
	}
	dead, err := g.DeadBlocks()
	if err != nil {
		return Stats{}, err
	}
	stats.DeadBlockCount = len(dead)
	return stats, nil
}
