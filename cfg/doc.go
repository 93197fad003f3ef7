// Package cfg models stack-machine executable units as control-flow
// graphs, and converts between that form and a linear instruction stream.
//
// # Key Types
//
//   - [Graph]: an insertion-ordered arena of basic blocks plus unit metadata
//   - [BasicBlock]: a single-entry instruction run with an optional
//     fallthrough successor
//   - [BlockID]: the stable identity jump and region targets are stored as
//
// # Operations
//
//   - [Build]: linear stream -> graph, resolving labels to block identities
//     and keeping exception regions self-contained per block
//   - [Graph.Flatten]: graph -> linear stream, re-synthesizing labels and
//     fusing region fragments the builder split
//   - [Graph.ComputeStackDepth]: the operand stack depth the unit needs,
//     with handler entry depths resolved onto the region markers
//   - Graph edits: [Graph.AddBlock], [Graph.SplitBlock], [Graph.Delete],
//     [Graph.DeadBlocks]
//
// # Invariants
//
// Only the last real instruction of a block may be a jump, and jump and
// region targets must identify blocks of the same graph; violations are
// reported whenever block contents are enumerated. Exception regions never
// nest along a control-flow path. A computed stack depth below zero means
// the graph is malformed and cannot be serialized.
//
// Everything here is synchronous and CPU-bound: no I/O, no goroutines.
// Graph traversals run on explicit stacks so deep block chains are never
// bounded by the native call stack. Independent graphs can be processed
// concurrently without synchronization.
package cfg
