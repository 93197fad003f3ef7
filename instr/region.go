package instr

import (
	"fmt"
	"sync/atomic"
)

const (
	// UnsetDepth marks a region whose handler entry depth has not been
	// resolved by stack analysis yet.
	UnsetDepth = -1

	// DeadRegionDepth is the sentinel entry depth forced onto regions that
	// only occur in unreachable blocks. It is large enough that fusing a
	// dead region with a live one can never lower the live region's depth.
	DeadRegionDepth = 32768
)

var regionCounter uint64

// RegionBegin opens an exception-protected region. Should anything inside
// the region fault, the operand stack is rewound to the region's entry
// depth and control transfers to the handler block. Regions never nest
// along a single control-flow path: at most one region is open at a time.
//
// A RegionBegin may be cloned while a graph is built or flattened, when a
// region has to be represented as several self-contained fragments across
// disconnected blocks. Clones share the target and flag but carry their
// own identity and depth bookkeeping until the fragments are fused again.
type RegionBegin struct {
	id uint64

	// Target is the handler block: a Label in a linear stream, a block
	// identity once resolved into a graph.
	Target any

	// PushLastIndex indicates that handler entry pushes an extra
	// "last instruction" slot on top of the faulting value.
	PushLastIndex bool

	// EntryDepth is the stack depth at which the handler starts. It is
	// UnsetDepth until stack analysis resolves it.
	EntryDepth int
}

// NewRegionBegin creates a region begin marker with an unresolved entry
// depth and a fresh identity.
func NewRegionBegin(target any, pushLastIndex bool) *RegionBegin {
	return &RegionBegin{
		id:            atomic.AddUint64(&regionCounter, 1),
		Target:        target,
		PushLastIndex: pushLastIndex,
		EntryDepth:    UnsetDepth,
	}
}

func (r *RegionBegin) node() {}

// ID returns the marker's identity. Clones have distinct identities.
func (r *RegionBegin) ID() uint64 {
	return r.id
}

// Clone returns a fragment of the region with the same target, flag and
// recorded depth, but a fresh identity and independent bookkeeping.
func (r *RegionBegin) Clone() *RegionBegin {
	return &RegionBegin{
		id:            atomic.AddUint64(&regionCounter, 1),
		Target:        r.Target,
		PushLastIndex: r.PushLastIndex,
		EntryDepth:    r.EntryDepth,
	}
}

// String returns a representation like "RegionBegin -> L3 (lasti)".
func (r *RegionBegin) String() string {
	if r.PushLastIndex {
		return fmt.Sprintf("RegionBegin -> %v (lasti)", r.Target)
	}
	return fmt.Sprintf("RegionBegin -> %v", r.Target)
}

// RegionEnd closes the exception-protected region opened by Begin. It
// references the begin marker by identity, so cloned fragments have their
// own matching ends.
type RegionEnd struct {
	Begin *RegionBegin
}

// NewRegionEnd creates the end marker matching the given begin.
func NewRegionEnd(begin *RegionBegin) *RegionEnd {
	return &RegionEnd{Begin: begin}
}

func (r *RegionEnd) node() {}

// Copy returns a copy of the end marker referencing the same begin.
func (r *RegionEnd) Copy() *RegionEnd {
	return &RegionEnd{Begin: r.Begin}
}

// String returns a representation like "RegionEnd of RegionBegin -> L3".
func (r *RegionEnd) String() string {
	return fmt.Sprintf("RegionEnd of %v", r.Begin)
}
