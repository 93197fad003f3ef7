package cfg

import (
	"github.com/deepnoodle-ai/flowgraph/errz"
	"github.com/deepnoodle-ai/flowgraph/instr"
)

// Build converts a linear instruction stream into a control-flow graph.
//
// The stream is scanned once to find every position targeted by a jump or
// a region begin; those positions become block boundaries. A second sweep
// then fills blocks, starting a new one at each boundary, after each jump
// (connected by fallthrough when the jump is conditional) and after each
// terminal instruction (not connected, but kept: dead code may still hold
// region markers that matter).
//
// A region split across two blocks that are not connected by fallthrough
// must not silently span them. The sweep closes the region at the end of
// the earlier block and opens a cloned fragment at the start of the later
// one, so each block's region markers stay self-contained. Region ends
// that belong at the head of a block that does not exist yet are queued by
// target label and flushed once all blocks do, de-duplicated per fragment
// so converging paths deliver each end at most once.
//
// A final pass substitutes every label reference, in jump operands and
// region targets, with the identity of the block the label resolved to.
func Build(stream *instr.Stream, opts ...Option) (*Graph, error) {
	cfg := newConfig(opts)

	// Pass 1: label definitions, referenced labels, region end positions.
	labelToIndex := map[instr.Label]int{}
	var targetLabels []instr.Label
	regionEndLoc := map[*instr.RegionBegin]int{}
	for i, n := range stream.Nodes {
		switch v := n.(type) {
		case instr.Label:
			labelToIndex[v] = i
		case *instr.Instr:
			if lbl, ok := v.Arg().(instr.Label); ok {
				targetLabels = append(targetLabels, lbl)
			}
		case *instr.RegionBegin:
			lbl, ok := v.Target.(instr.Label)
			if !ok {
				return nil, errz.New(errz.KindStructure,
					"region target in a linear stream must be a label, got %T", v.Target)
			}
			targetLabels = append(targetLabels, lbl)
		case *instr.RegionEnd:
			regionEndLoc[v.Begin] = i
		}
	}

	blockStarts := map[int]instr.Label{}
	for _, lbl := range targetLabels {
		pos, ok := labelToIndex[lbl]
		if !ok {
			return nil, errz.New(errz.KindLookup, "jump to undefined label %s", lbl)
		}
		blockStarts[pos] = lbl
	}

	g := NewGraph()
	g.Name = stream.Name
	g.Params = append([]string(nil), stream.Params...)
	g.FirstLine = stream.FirstLine
	g.Flags = stream.Flags

	// Pass 2: sweep the stream into blocks.
	block := g.BlockAt(0)
	labels := map[instr.Label]*BasicBlock{}

	// Input region begin -> the fragments minted for it, latest last.
	tryBegins := map[*instr.RegionBegin][]*instr.RegionBegin{}
	// Region ends to prepend to the block a label resolves to. A block
	// reached through several paths may be owed several distinct ends.
	addRegionEnd := map[instr.Label][]*instr.RegionEnd{}

	var activeBegin *instr.RegionBegin
	beginInsertedInBlock := false
	var lastInstr *instr.Instr

	latestFragment := func(begin *instr.RegionBegin) (*instr.RegionBegin, error) {
		fragments := tryBegins[begin]
		if len(fragments) == 0 {
			return nil, errz.New(errz.KindStructure, "region end does not match an open region")
		}
		return fragments[len(fragments)-1], nil
	}

	for index, node := range stream.Nodes {
		// Reference to the block we just closed, if this position starts
		// a new one.
		var oldBlock *BasicBlock

		if label, isStart := blockStarts[index]; isStart {
			if index != 0 {
				if li := block.LastInstruction(); li != nil {
					oldBlock = block
					newBlock := g.AddBlock()
					if !li.IsFinal() {
						block.next = newBlock.id
					}
					block = newBlock
				}
			}
			labels[label] = block
		} else if block.LastInstruction() != nil && lastInstr != nil {
			if lastInstr.IsFinal() {
				// Dead code follows a final instruction; keep it in a
				// block of its own, disconnected.
				oldBlock = block
				block = g.AddBlock()
			} else if lastInstr.IsJump() {
				oldBlock = block
				newBlock := g.AddBlock()
				block.next = newBlock.id
				block = newBlock
			}
		}

		insertedInOld := false
		if oldBlock != nil {
			insertedInOld = beginInsertedInBlock
			beginInsertedInBlock = false
		}

		if oldBlock != nil && lastInstr != nil {
			// A region end directly after a final instruction belongs to
			// the block that final instruction closed.
			if _, isEnd := node.(*instr.RegionEnd); isEnd && lastInstr.IsFinal() {
				if activeBegin == nil {
					return nil, errz.New(errz.KindStructure, "region end does not match an open region")
				}
				fragment, err := latestFragment(activeBegin)
				if err != nil {
					return nil, err
				}
				oldBlock.Append(instr.NewRegionEnd(fragment))
				activeBegin = nil
				continue
			}

			if activeBegin != nil {
				// A jump over the region's end leaves the region: the
				// target block is owed the end marker.
				if lastInstr.IsJump() {
					if endLoc, tracked := regionEndLoc[activeBegin]; tracked {
						if lbl, ok := lastInstr.Arg().(instr.Label); ok {
							pos, defined := labelToIndex[lbl]
							if !defined {
								return nil, errz.New(errz.KindLookup, "jump to undefined label %s", lbl)
							}
							if pos >= endLoc {
								fragment, err := latestFragment(activeBegin)
								if err != nil {
									return nil, err
								}
								addRegionEnd[lbl] = append(addRegionEnd[lbl], instr.NewRegionEnd(fragment))
							}
						}
					}
				}

				// The region began in the block we just closed and the
				// new block is disconnected: close the fragment there and
				// open a fresh one here.
				if lastInstr.IsFinal() && insertedInOld {
					fragment, err := latestFragment(activeBegin)
					if err != nil {
						return nil, err
					}
					oldBlock.Append(instr.NewRegionEnd(fragment))
					clone := activeBegin.Clone()
					block.Append(clone)
					tryBegins[activeBegin] = append(tryBegins[activeBegin], clone)
					beginInsertedInBlock = true
					cfg.logger.Debug().Msg("cloned region across disconnected blocks")
				}
			}
		}

		lastInstr = nil

		switch v := node.(type) {
		case instr.Label:
			continue
		case instr.SetLine:
			block.Append(v)
		case *instr.Instr:
			lastInstr = v
			block.Append(v.Copy())
		case *instr.RegionBegin:
			if activeBegin != nil {
				return nil, errz.New(errz.KindStructure,
					"regions cannot nest: a region is already open")
			}
			clone := v.Clone()
			activeBegin = v
			beginInsertedInBlock = true
			tryBegins[v] = []*instr.RegionBegin{clone}
			block.Append(clone)
		case *instr.RegionEnd:
			fragment, err := latestFragment(v.Begin)
			if err != nil {
				return nil, err
			}
			activeBegin = nil
			beginInsertedInBlock = false
			block.Append(instr.NewRegionEnd(fragment))
		}
	}

	// Flush queued region ends onto the blocks their labels resolved to,
	// skipping fragments the block already closes at its head.
	for lbl, ends := range addRegionEnd {
		target, ok := labels[lbl]
		if !ok {
			return nil, errz.New(errz.KindLookup, "jump to undefined label %s", lbl)
		}
		existing := map[uint64]bool{}
		for _, n := range target.nodes {
			end, isEnd := n.(*instr.RegionEnd)
			if !isEnd {
				break
			}
			existing[end.Begin.ID()] = true
		}
		for _, end := range ends {
			if !existing[end.Begin.ID()] {
				target.insert(0, end)
				existing[end.Begin.ID()] = true
			}
		}
	}

	// Resolve label references to block identities.
	for _, b := range g.blocks {
		for i, n := range b.nodes {
			in, ok := n.(*instr.Instr)
			if !ok {
				continue
			}
			lbl, ok := in.Arg().(instr.Label)
			if !ok {
				continue
			}
			target, defined := labels[lbl]
			if !defined {
				return nil, errz.New(errz.KindLookup, "jump to undefined label %s", lbl)
			}
			b.nodes[i] = in.WithArg(target.id)
		}
	}
	for orig, fragments := range tryBegins {
		lbl := orig.Target.(instr.Label)
		target, defined := labels[lbl]
		if !defined {
			return nil, errz.New(errz.KindLookup, "region targets undefined label %s", lbl)
		}
		for _, fragment := range fragments {
			fragment.Target = target.id
		}
	}

	cfg.logger.Debug().Int("blocks", g.Len()).Msg("built control-flow graph")
	return g, nil
}
