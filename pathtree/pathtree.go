// ABOUTME: Prefix tree over call chains, keyed by FrameKey, growing lazily
// ABOUTME: Internal nodes are call-sites; leaves are allocation-sites

package pathtree

import (
	"github.com/cespare/xxhash/v2"

	"github.com/JacksonGL/alloctrace/callstack"
	"github.com/JacksonGL/alloctrace/host"
	"github.com/JacksonGL/alloctrace/location"
	"github.com/JacksonGL/alloctrace/sitestats"
)

// Kind tags a Node as either an Internal call-site or a terminal Leaf
// allocation-site.
type Kind uint8

const (
	KindInternal Kind = iota
	KindLeaf
)

// FrameKey identifies a call-site for the purpose of child lookup: two
// visits to the same (function, line, column) collapse onto the same key.
type FrameKey uint64

// FrameKeyFor hashes a shadow-stack frame's (function identity, line,
// column) into a FrameKey, mixing with xxhash so that distinct columns on
// the same line, and distinct lines within the same function, never
// collide in practice.
func FrameKeyFor(f callstack.Frame) FrameKey {
	line, col := f.Function.LineCharOffset(f.Function.StatementStartOffset(f.Function.EnclosingStatementIndex(f.Offset)))
	var buf [24]byte
	identity := uint64(f.Function.Identity())
	buf[0] = byte(identity)
	buf[1] = byte(identity >> 8)
	buf[2] = byte(identity >> 16)
	buf[3] = byte(identity >> 24)
	buf[4] = byte(identity >> 32)
	buf[5] = byte(identity >> 40)
	buf[6] = byte(identity >> 48)
	buf[7] = byte(identity >> 56)
	putUint64(buf[8:16], uint64(line))
	putUint64(buf[16:24], uint64(col))
	return FrameKey(xxhash.Sum64(buf[:]))
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// locationOf resolves the (file, line, column) a frame's current offset
// maps to. It does not touch a location.FileMap: interning happens at
// emission time, only for nodes that survive thresholding, not here.
func locationOf(f callstack.Frame) location.Source {
	url, ok := f.Function.SourceURL()
	if !ok || url == "" {
		return location.Internal
	}
	stmtIdx := f.Function.EnclosingStatementIndex(f.Offset)
	charOffset := f.Function.StatementStartOffset(stmtIdx)
	line, col := f.Function.LineCharOffset(charOffset)
	return location.New(url, line, col)
}

// orderedChildren is a small insertion-ordered map from FrameKey to *Node.
// The corpus carries no third-party ordered-map dependency to ground one
// on, so this is the one deliberately stdlib-only piece of the tree.
type orderedChildren struct {
	index map[FrameKey]int
	nodes []*Node
}

func newOrderedChildren() *orderedChildren {
	return &orderedChildren{index: make(map[FrameKey]int)}
}

func (c *orderedChildren) get(k FrameKey) (*Node, bool) {
	i, ok := c.index[k]
	if !ok {
		return nil, false
	}
	return c.nodes[i], true
}

func (c *orderedChildren) set(k FrameKey, n *Node) {
	c.index[k] = len(c.nodes)
	c.nodes = append(c.nodes, n)
}

func (c *orderedChildren) forEach(fn func(*Node)) {
	for _, n := range c.nodes {
		fn(n)
	}
}

// Node is one entry of the path tree: either Internal (has children) or
// Leaf (owns a SiteStats). Exactly one of children/Stats is meaningful,
// selected by Kind.
type Node struct {
	Kind Kind
	Loc  location.Source
	// FunctionName is the display name of the function this node's frame
	// belongs to, carried through for the emitted report's "src.function".
	FunctionName string
	// SourceData and SourceCesu8 are the frame's raw source bytes captured
	// once, when this node was first created, so the Reporter can intern
	// them into a location.FileMap lazily at emission time instead of
	// eagerly for every visited frame. Empty for internal/host frames.
	SourceData  []byte
	SourceCesu8 bool

	// Internal-only.
	children *orderedChildren

	// Leaf-only.
	Stats *sitestats.SiteStats

	// Aggregated by Reporter's estimate/flag phases; valid only after
	// Emit has run for the current cycle.
	LiveCount   uint64
	LiveSize    uint64
	Interesting bool
	// FlaggedSize sums, per host.TracingFlag, the size of every live
	// object (leaf) or descendant (internal) that raised that flag.
	// Reporter adds the sizes of all flags together; when that combined
	// total is at least 50% of LiveSize, every flag that contributed to it
	// is surfaced in the emitted "warnings" array.
	FlaggedSize map[host.TracingFlag]uint64
}

// ForEachChild iterates an Internal node's children in insertion order.
// Calling it on a Leaf is a no-op.
func (n *Node) ForEachChild(fn func(*Node)) {
	if n.children != nil {
		n.children.forEach(fn)
	}
}

// Tree owns every Node ever created and the roots of the forest. The
// current simplification keys attribution on only the top user frame, so
// in practice the forest is one level deep: one Leaf root per distinct
// allocation site. ExtendFor is written in the general recursive form so
// enabling full-chain attribution only changes how many frames a caller
// passes in, not this type.
type Tree struct {
	roots   *orderedChildren
	newWeak func(name string) host.WeakSet
}

// New constructs an empty tree. newWeak is used to allocate a fresh weak
// set for each newly created leaf's SiteStats, matching the host's
// recycler.weak_set_alloc() seam.
func New(newWeak func(name string) host.WeakSet) *Tree {
	return &Tree{roots: newOrderedChildren(), newWeak: newWeak}
}

// ExtendFor walks frames (innermost first) from the tree's roots,
// creating any missing nodes, until it reaches or creates the leaf for
// frames[0]. It returns that leaf's Node.
func (t *Tree) ExtendFor(frames []callstack.Frame) *Node {
	return t.extend(t.roots, frames, len(frames)-1)
}

func (t *Tree) extend(level *orderedChildren, frames []callstack.Frame, i int) *Node {
	key := FrameKeyFor(frames[i])
	node, ok := level.get(key)
	if !ok {
		loc := locationOf(frames[i])
		name := frames[i].Function.DisplayName()
		data, cesu8, _ := frames[i].Function.UTF8Source()
		if i == 0 {
			node = &Node{Kind: KindLeaf, Loc: loc, FunctionName: name, SourceData: data, SourceCesu8: cesu8, Stats: sitestats.New(t.newWeak(loc.File()))}
		} else {
			node = &Node{Kind: KindInternal, Loc: loc, FunctionName: name, SourceData: data, SourceCesu8: cesu8, children: newOrderedChildren()}
		}
		level.set(key, node)
	}
	if i == 0 {
		return node
	}
	return t.extend(node.children, frames, i-1)
}

// ForEachRoot iterates the forest's roots in insertion order.
func (t *Tree) ForEachRoot(fn func(*Node)) {
	t.roots.forEach(fn)
}

// FreeTree destroys every node in post-order, closing each leaf's
// SiteStats (and thereby its weak set) as it is reached.
func (t *Tree) FreeTree() {
	t.roots.forEach(freeNode)
	t.roots = newOrderedChildren()
}

func freeNode(n *Node) {
	if n.Kind == KindLeaf {
		if n.Stats != nil {
			_ = n.Stats.Close()
		}
		return
	}
	n.children.forEach(freeNode)
}

// PathToRoot walks down from the tree's roots to the leaf reached by
// frames (innermost first), returning every node visited along the way,
// root first. Useful for reporting a leaf's full call chain.
func PathToRoot(t *Tree, frames []callstack.Frame) []*Node {
	var path []*Node
	level := t.roots
	for i := len(frames) - 1; i >= 0; i-- {
		node, ok := level.get(FrameKeyFor(frames[i]))
		if !ok {
			return path
		}
		path = append(path, node)
		if node.Kind == KindLeaf {
			break
		}
		level = node.children
	}
	return path
}
