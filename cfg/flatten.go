package cfg

import (
	"github.com/deepnoodle-ai/flowgraph/errz"
	"github.com/deepnoodle-ai/flowgraph/instr"
)

// Flatten converts the graph back into a linear instruction stream.
//
// Blocks are emitted in position order. A label is minted only for blocks
// that are an actual jump or region target; fallthrough-only blocks get
// none. Region fragments that the builder split across blocks are fused
// back together: an emitted RegionEnd immediately followed by a
// RegionBegin with the same handler target and flag collapses into the
// single region that was originally there, keeping the earlier begin with
// the smaller of the two recorded entry depths. Only the first end seen
// for a given fragment survives; duplicates delivered along converging
// paths are dropped. Once all blocks are emitted, jump operands and region
// targets are rewritten from block identities to the new labels.
func (g *Graph) Flatten(opts ...Option) (*instr.Stream, error) {
	cfg := newConfig(opts)

	// Mint labels only for blocks something jumps to.
	used := map[BlockID]bool{}
	for _, block := range g.blocks {
		if err := block.Validate(); err != nil {
			return nil, err
		}
		if target, ok := block.Jump(); ok {
			used[target] = true
		}
		for _, n := range block.nodes {
			if begin, ok := n.(*instr.RegionBegin); ok {
				used[begin.Target.(BlockID)] = true
			}
		}
	}

	labels := map[BlockID]instr.Label{}
	var nodes []instr.Node

	// Graph fragment -> the begin emitted for it (possibly shared after a
	// fusion).
	begins := map[*instr.RegionBegin]*instr.RegionBegin{}
	seenEnd := map[*instr.RegionBegin]bool{}

	// Last emitted begin and end, tracked to fuse adjacent fragments. Each
	// holds the graph-side marker and the emitted one.
	type beginPair struct{ graph, out *instr.RegionBegin }
	type endPair struct{ graph, out *instr.RegionEnd }
	var lastBegin *beginPair
	var lastEnd *endPair

	fused := 0
	for _, block := range g.blocks {
		if used[block.id] {
			label := instr.NewLabel()
			labels[block.id] = label
			nodes = append(nodes, label)
		}

		for _, n := range block.nodes {
			switch v := n.(type) {
			case *instr.RegionBegin:
				// A begin while one is still open can only be the second
				// half of a split region; the fragments must agree.
				if lastBegin != nil {
					if lastBegin.graph.Target != v.Target ||
						lastBegin.graph.PushLastIndex != v.PushLastIndex {
						return nil, errz.New(errz.KindStructure,
							"cannot fuse region fragments with different handlers")
					}
					lastBegin.out.EntryDepth = minDepth(lastBegin.out.EntryDepth, v.EntryDepth)
				}
				// An end right before a matching begin is the split the
				// builder made: drop both and continue the earlier region.
				if lastEnd != nil {
					entry := lastEnd.graph.Begin
					if entry.Target == v.Target && entry.PushLastIndex == v.PushLastIndex {
						lastEnd.out.Begin.EntryDepth = minDepth(entry.EntryDepth, v.EntryDepth)
						begins[v] = lastEnd.out.Begin
						nodes = removeNode(nodes, lastEnd.out)
						fused++
						continue
					}
				}
				out := v.Clone()
				begins[v] = out
				lastBegin = &beginPair{graph: v, out: out}
				lastEnd = nil
				nodes = append(nodes, out)
			case *instr.RegionEnd:
				if seenEnd[v.Begin] {
					continue
				}
				seenEnd[v.Begin] = true
				out, ok := begins[v.Begin]
				if !ok {
					return nil, errz.New(errz.KindStructure,
						"region end emitted before its begin")
				}
				end := instr.NewRegionEnd(out)
				lastBegin = nil
				lastEnd = &endPair{graph: v, out: end}
				nodes = append(nodes, end)
			case *instr.Instr:
				lastEnd = nil
				nodes = append(nodes, v.Copy())
			default:
				// SetLine markers pass through and do not interrupt an
				// end/begin pair that is about to fuse.
				nodes = append(nodes, n)
			}
		}
	}

	// Rewrite block identities to the labels minted above.
	for i, n := range nodes {
		in, ok := n.(*instr.Instr)
		if !ok {
			continue
		}
		id, ok := in.Arg().(BlockID)
		if !ok {
			continue
		}
		label, minted := labels[id]
		if !minted {
			return nil, errz.New(errz.KindLookup, "jump targets block %d, which was not emitted", id)
		}
		nodes[i] = in.WithArg(label)
	}
	retargeted := map[*instr.RegionBegin]bool{}
	for _, out := range begins {
		if retargeted[out] {
			continue
		}
		retargeted[out] = true
		id := out.Target.(BlockID)
		label, minted := labels[id]
		if !minted {
			return nil, errz.New(errz.KindLookup, "region targets block %d, which was not emitted", id)
		}
		out.Target = label
	}

	cfg.logger.Debug().Int("nodes", len(nodes)).Int("fused", fused).Msg("flattened control-flow graph")

	return &instr.Stream{
		Name:      g.Name,
		Params:    append([]string(nil), g.Params...),
		FirstLine: g.FirstLine,
		Flags:     g.Flags,
		Nodes:     nodes,
	}, nil
}

// minDepth folds two recorded entry depths, where either may still be
// unresolved: the result is unresolved unless both are known.
func minDepth(a, b int) int {
	if a == instr.UnsetDepth || b == instr.UnsetDepth {
		return instr.UnsetDepth
	}
	if a < b {
		return a
	}
	return b
}

// removeNode removes the first occurrence of target from nodes.
func removeNode(nodes []instr.Node, target instr.Node) []instr.Node {
	for i, n := range nodes {
		if n == target {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}
