package cfg

import (
	"github.com/oleiade/lane/v2"

	"github.com/deepnoodle-ai/flowgraph/errz"
	"github.com/deepnoodle-ai/flowgraph/instr"
)

// Regions can never nest, so a single running minimum per visit is enough
// to know the depth an exception rewinds to anywhere inside the open
// region.

// fingerprint identifies one analysis of a block: the depth it started at
// and the handler context it was entered under (-1 for a normal entry, 0
// or 1 for a handler entry without/with the extra last-instruction slot).
type fingerprint struct {
	size    int
	handler int8
}

// depthState is the bookkeeping shared by every visit of one analysis run.
type depthState struct {
	cfg config
	g   *Graph

	// Blocks currently being visited, to cut off cycles.
	inProgress map[BlockID]bool

	// Fingerprints each block has already been analyzed under.
	startSizes map[BlockID]map[fingerprint]bool

	// Region begins encountered during traversal, to resolve at the end.
	regionBegins []*instr.RegionBegin

	// Depth a handler block must start at: the smallest depth its region
	// ever reached, the only value the runtime can rewind to safely.
	handlerStart map[BlockID]int

	// Largest depth used by a handler block, recorded for the smallest
	// start size and folded into the global maximum at the end.
	handlerMax map[BlockID]int
}

func (st *depthState) startSize(id BlockID) map[fingerprint]bool {
	m, ok := st.startSizes[id]
	if !ok {
		m = map[fingerprint]bool{}
		st.startSizes[id] = m
	}
	return m
}

func (st *depthState) handlerStartFor(id BlockID) int {
	if v, ok := st.handlerStart[id]; ok {
		return v
	}
	return instr.DeadRegionDepth
}

// relevant reports whether analyzing a block under fp could produce new
// information. With handler-context memoization any unseen fingerprint is
// relevant; otherwise only a start depth exceeding every previous one is,
// since larger depths dominate smaller ones.
func (st *depthState) relevant(id BlockID, fp fingerprint) bool {
	sizes := st.startSizes[id]
	if st.cfg.profile.HandlerContextMemo {
		return !sizes[fp]
	}
	if len(sizes) == 0 {
		return true
	}
	for prev := range sizes {
		if fp.size <= prev.size {
			return false
		}
	}
	return true
}

// visit phases. A visit suspends whenever it must descend into a successor
// and resumes at the recorded phase once the child's maximum is known.
const (
	phaseStart          = iota // first entry: memo checks, handler pushes
	phaseLoop                  // iterating the block's nodes
	phaseAfterJump             // child was a jump target
	phaseAfterHandler          // child was a handler; continue the loop
	phaseAfterHandlerFn        // child was a handler; then finish
	phaseAfterNext             // child was the fallthrough successor
)

// visit computes the stack usage of a single block. It is resumable: step
// runs until the visit either finishes or needs the result of a child
// visit, so the whole traversal is bounded by the explicit driver stack
// rather than the native call stack.
type visit struct {
	st    *depthState
	block *BasicBlock

	size    int
	maxsize int
	minsize int

	// Handler context this block was entered under (-1 if none).
	handler int8

	// Region begun before jumping into this block with no end met yet,
	// then maintained as the currently open region.
	region *instr.RegionBegin

	phase int
	idx   int // position in block.nodes

	// Handler sub-visit bookkeeping, valid while a handler child runs.
	pendingHandler BlockID
	pendingMin     int
}

// applyEffect applies one stack effect to the running size. When effect
// checks are enabled the pre-condition is subtracted first and must leave
// the stack non-negative; otherwise only the net delta is applied.
func (v *visit) applyEffect(pre, delta int) error {
	if v.st.cfg.checkEffects {
		v.size -= pre
		if v.size < 0 {
			return errz.New(errz.KindUnderflow, "failed to compute stack depth, got negative size")
		}
		v.size += pre + delta
	} else {
		v.size += delta
		if v.size < 0 {
			return errz.New(errz.KindUnderflow, "failed to compute stack depth, got negative size")
		}
	}
	if v.size > v.maxsize {
		v.maxsize = v.size
	}
	if v.size < v.minsize {
		v.minsize = v.size
	}
	return nil
}

// handlerVisit prepares a sub-visit of a region's handler block, seeded at
// the smallest depth the region reached, if that seed improves on every
// earlier one. It returns nil when the handler needs no new analysis.
func (v *visit) handlerVisit(begin *instr.RegionBegin) (*visit, error) {
	target, ok := begin.Target.(BlockID)
	if !ok {
		return nil, errz.New(errz.KindStructure, "region target must be a basic block, got %T", begin.Target)
	}
	if v.minsize >= v.st.handlerStartFor(target) {
		return nil, nil
	}
	block, err := v.st.g.Block(target)
	if err != nil {
		return nil, err
	}
	handler := int8(0)
	if begin.PushLastIndex {
		handler = 1
	}
	v.pendingHandler = target
	v.pendingMin = v.minsize
	return &visit{
		st:      v.st,
		block:   block,
		size:    v.minsize,
		maxsize: v.maxsize,
		minsize: v.minsize,
		handler: handler,
	}, nil
}

// recordHandler stores a finished handler sub-visit's result: the seed it
// ran under becomes the handler's required entry depth and its maximum is
// tracked separately from ordinary block maxima.
func (v *visit) recordHandler(result int) {
	v.st.handlerStart[v.pendingHandler] = v.pendingMin
	v.st.handlerMax[v.pendingHandler] = result
}

// finish ends the visit, releasing the in-progress marker.
func (v *visit) finish() (bool, int, *visit, error) {
	delete(v.st.inProgress, v.block.id)
	return true, v.maxsize, nil, nil
}

// step advances the visit. in carries the child result when resuming.
// It returns either done with the visit's maximum, or a child visit to
// run first.
func (v *visit) step(in int) (done bool, out int, child *visit, err error) {
	switch v.phase {
	case phaseStart:
		fp := fingerprint{size: v.size, handler: v.handler}
		if v.st.inProgress[v.block.id] || !v.st.relevant(v.block.id, fp) {
			// Already running (a cycle) or already analyzed under
			// parameters that make this pass redundant.
			return true, v.maxsize, nil, nil
		}
		v.st.inProgress[v.block.id] = true
		v.st.startSize(v.block.id)[fp] = true
		if v.handler >= 0 {
			// Entering through the exception edge pushes the faulting
			// value, plus the last-instruction slot when the flag asks.
			if err := v.applyEffect(0, 1+int(v.handler)); err != nil {
				return false, 0, nil, err
			}
		}
		v.phase = phaseLoop

	case phaseAfterJump:
		if in > v.maxsize {
			v.maxsize = in
		}
		jump := v.block.nodes[v.idx].(*instr.Instr)
		if jump.IsUncondJump() {
			// Nothing after an unconditional jump runs, except that a
			// trailing region end still closes the open region here.
			if te := v.block.trailingRegionEnd(v.idx); te != nil && te.Begin == v.region {
				child, err := v.handlerVisit(te.Begin)
				if err != nil {
					return false, 0, nil, err
				}
				if child != nil {
					v.phase = phaseAfterHandlerFn
					return false, 0, child, nil
				}
			}
			return v.finish()
		}
		pre, delta := jump.StackEffect(false)
		if err := v.applyEffect(pre, delta); err != nil {
			return false, 0, nil, err
		}
		v.idx++
		v.phase = phaseLoop

	case phaseAfterHandler:
		v.recordHandler(in)
		v.region = nil
		v.idx++
		v.phase = phaseLoop

	case phaseAfterHandlerFn:
		v.recordHandler(in)
		return v.finish()

	case phaseAfterNext:
		v.maxsize = in
		return v.finish()
	}

	for v.idx < len(v.block.nodes) {
		switch n := v.block.nodes[v.idx].(type) {
		case instr.SetLine:
			v.idx++

		case *instr.RegionBegin:
			if v.region != nil {
				return false, 0, nil, errz.New(errz.KindStructure,
					"regions cannot nest: a region is already open")
			}
			// The begin pins the running minimum: an exception anywhere
			// inside the region rewinds the stack to the smallest depth
			// reached since this point.
			v.st.regionBegins = append(v.st.regionBegins, n)
			v.region = n
			v.minsize = v.size
			v.idx++

		case *instr.RegionEnd:
			// Blocks reached along several paths may start with ends
			// that are only meaningful on one of them.
			if n.Begin != v.region {
				v.idx++
				continue
			}
			child, err := v.handlerVisit(n.Begin)
			if err != nil {
				return false, 0, nil, err
			}
			if child != nil {
				v.phase = phaseAfterHandler
				return false, 0, child, nil
			}
			v.region = nil
			v.idx++

		case *instr.Instr:
			if n.IsJump() {
				// The branch-taken path is visited as a child seeded at
				// the post-branch depth.
				pre, delta := n.StackEffect(true)
				childVisit := &visit{
					st:      v.st,
					size:    v.size,
					maxsize: v.maxsize,
					minsize: v.minsize,
					handler: -1,
				}
				if err := childVisit.applyEffect(pre, delta); err != nil {
					return false, 0, nil, err
				}
				target, ok := n.Arg().(BlockID)
				if !ok {
					return false, 0, nil, errz.New(errz.KindStructure,
						"jump target must be a basic block, got %T", n.Arg())
				}
				block, err := v.st.g.Block(target)
				if err != nil {
					return false, 0, nil, err
				}
				childVisit.block = block
				// A region does not follow the jump out when a trailing
				// end closes it right after a final instruction.
				childVisit.region = v.region
				if n.IsFinal() && v.block.trailingRegionEnd(v.idx) != nil {
					childVisit.region = nil
				}
				v.phase = phaseAfterJump
				return false, 0, childVisit, nil
			}

			pre, delta := n.StackEffect(false)
			if err := v.applyEffect(pre, delta); err != nil {
				return false, 0, nil, err
			}
			if n.IsFinal() {
				// Terminal instruction: everything after it is dead, but
				// a trailing region end still closes the open region.
				if te := v.block.trailingRegionEnd(v.idx); te != nil {
					child, err := v.handlerVisit(te.Begin)
					if err != nil {
						return false, 0, nil, err
					}
					if child != nil {
						v.phase = phaseAfterHandlerFn
						return false, 0, child, nil
					}
				}
				return v.finish()
			}
			v.idx++

		default:
			return false, 0, nil, errz.New(errz.KindStructure,
				"unexpected node of type %T in block %d", n, v.block.id)
		}
	}

	if v.block.next != NoBlock {
		block, err := v.st.g.Block(v.block.next)
		if err != nil {
			return false, 0, nil, err
		}
		v.phase = phaseAfterNext
		return false, 0, &visit{
			st:      v.st,
			block:   block,
			size:    v.size,
			maxsize: v.maxsize,
			minsize: v.minsize,
			handler: -1,
			region:  v.region,
		}, nil
	}
	return v.finish()
}

// ComputeStackDepth walks the graph from the entry block and returns the
// operand stack depth the unit needs: the maximum depth any reachable path
// produces, handler blocks included. Unless disabled by an option, every
// region begin marker also gets its handler entry depth resolved: the
// minimum depth reached inside the region, which is the value the runtime
// rewinds the stack to before entering the handler.
//
// The traversal runs on an explicit stack of resumable visits, so graphs
// of any shape terminate without bounding block chains by the native call
// stack. Memoization keeps revisits finite on cyclic graphs. A computed
// depth below zero means the graph is malformed and is a fatal error.
func (g *Graph) ComputeStackDepth(opts ...Option) (int, error) {
	cfg := newConfig(opts)
	if len(g.blocks) == 0 {
		return 0, nil
	}
	for _, block := range g.blocks {
		if err := block.Validate(); err != nil {
			return 0, err
		}
	}

	st := &depthState{
		cfg:          cfg,
		g:            g,
		inProgress:   map[BlockID]bool{},
		startSizes:   map[BlockID]map[fingerprint]bool{},
		handlerStart: map[BlockID]int{},
		handlerMax:   map[BlockID]int{},
	}

	initial := 0
	if cfg.profile.SuspendEntrySlot && g.Flags&instr.UnitSuspendable != 0 {
		// The runtime parks one value on the stack before a suspendable
		// unit resumes.
		initial = 1
	}

	pending := lane.NewStack[*visit]()
	current := &visit{st: st, block: g.blocks[0], size: initial, maxsize: initial, minsize: initial, handler: -1}
	result := 0
	ret := 0
	for {
		done, out, child, err := current.step(ret)
		if err != nil {
			return 0, err
		}
		if child != nil {
			pending.Push(current)
			current = child
			ret = 0
			continue
		}
		if !done {
			return 0, errz.New(errz.KindStructure, "visit neither finished nor descended")
		}
		parent, ok := pending.Pop()
		if !ok {
			result = out
			break
		}
		current = parent
		ret = out
	}

	for _, max := range st.handlerMax {
		if max > result {
			result = max
		}
	}

	// Unreachable blocks may still hold region begins. Force their depth
	// to the sentinel so a later fusion with a live fragment can never be
	// constrained by a region that never runs.
	for _, block := range g.blocks {
		if len(st.startSizes[block.id]) > 0 {
			continue
		}
		for _, n := range block.nodes {
			if begin, ok := n.(*instr.RegionBegin); ok && begin.EntryDepth == instr.UnsetDepth {
				begin.EntryDepth = instr.DeadRegionDepth
			}
		}
	}

	if cfg.resolveRegions {
		for _, begin := range st.regionBegins {
			target := begin.Target.(BlockID)
			begin.EntryDepth = st.handlerStartFor(target)
		}
	}

	cfg.logger.Debug().Int("depth", result).Msg("computed stack depth")
	return result, nil
}
