package instr

// UnitFlags carries execution-unit level flags that affect analysis.
type UnitFlags uint8

const (
	// UnitSuspendable marks a unit that can suspend and resume (a
	// generator or coroutine body). On runtimes that pre-push a resume
	// slot, analysis of such a unit starts at depth 1 instead of 0.
	UnitSuspendable UnitFlags = 1 << iota
)

// Stream is a linear instruction sequence together with the unit-level
// metadata that must survive a round trip through a control-flow graph.
// Jump and region targets are labels; a Label node marks the position its
// references resolve to.
type Stream struct {
	Name      string
	Params    []string
	FirstLine int
	Flags     UnitFlags
	Nodes     []Node
}

// NewStream creates an empty stream starting at line 1.
func NewStream() *Stream {
	return &Stream{FirstLine: 1}
}

// Append adds nodes to the end of the stream.
func (s *Stream) Append(nodes ...Node) *Stream {
	s.Nodes = append(s.Nodes, nodes...)
	return s
}

// Instructions returns the real instructions in the stream, in order,
// skipping labels and pseudo markers.
func (s *Stream) Instructions() []*Instr {
	var out []*Instr
	for _, n := range s.Nodes {
		if in, ok := n.(*Instr); ok {
			out = append(out, in)
		}
	}
	return out
}

// Len returns the number of nodes in the stream.
func (s *Stream) Len() int {
	return len(s.Nodes)
}
