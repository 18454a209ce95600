package awaittree

import (
	"fmt"
	"time"
)

// nodeID is a stable handle to a node in an arena. It packs the slot index
// with a per-slot generation counter, so a handle held across suspension
// points stays valid for the node's lifetime and reliably reads as stale
// once the slot has been released or reused.
type nodeID uint64

// nilNode is the zero nodeID; no live node ever has it, since slot
// generations start at 1.
const nilNode nodeID = 0

func makeNodeID(index, gen uint32) nodeID {
	return nodeID(uint64(gen)<<32 | uint64(index))
}

func (id nodeID) index() uint32 { return uint32(id) }
func (id nodeID) gen() uint32   { return uint32(id >> 32) }

// nodeState tracks the execution state of one span node.
type nodeState uint8

const (
	// nodeActive means the operation is being executed right now.
	nodeActive nodeState = iota
	// nodePending means the operation is suspended awaiting some event.
	nodePending
	// nodeCompleted means the operation finished; timing is frozen.
	nodeCompleted
)

// node is one span instance in the tree.
type node struct {
	span          Span
	state         nodeState
	createdAt     time.Time
	lastResumedAt time.Time
	// activeTotal accumulates time spent in nodeActive across all
	// resume intervals; the open interval of a currently-Active node
	// is not included until it suspends, completes, or is dumped.
	activeTotal time.Duration
	parent      nodeID // nilNode for the root and for detached subtree roots
	children    []nodeID
}

type slot struct {
	node node
	gen  uint32
	live bool
}

// arena stores nodes in reusable slots. Nodes never move once allocated;
// removal only recycles the slot and bumps its generation.
type arena struct {
	slots []slot
	free  []uint32
}

func (a *arena) alloc(n node) nodeID {
	var idx uint32
	if l := len(a.free); l > 0 {
		idx = a.free[l-1]
		a.free = a.free[:l-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	s.live = true
	s.node = n
	return makeNodeID(idx, s.gen)
}

// lookup resolves a handle, reporting false for stale or recycled ids.
func (a *arena) lookup(id nodeID) (*node, bool) {
	idx := id.index()
	if int(idx) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[idx]
	if !s.live || s.gen != id.gen() {
		return nil, false
	}
	return &s.node, true
}

// get resolves a handle that the caller asserts is live. A stale handle is
// a broken wrapper discipline, which would corrupt the tree silently if
// ignored, so it panics.
func (a *arena) get(id nodeID) *node {
	n, ok := a.lookup(id)
	if !ok {
		panic(fmt.Sprintf("awaittree: use of dead span node %#x", uint64(id)))
	}
	return n
}

// release recycles a single slot. The caller is responsible for having
// unlinked the node from its parent and dealt with its children first.
func (a *arena) release(id nodeID) {
	idx := id.index()
	s := &a.slots[idx]
	if !s.live || s.gen != id.gen() {
		return
	}
	s.live = false
	s.node = node{}
	a.free = append(a.free, idx)
}

// each visits every live node in slot order.
func (a *arena) each(fn func(id nodeID, n *node)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			fn(makeNodeID(uint32(i), s.gen), &s.node)
		}
	}
}

// liveCount returns the number of live nodes.
func (a *arena) liveCount() int {
	count := 0
	for i := range a.slots {
		if a.slots[i].live {
			count++
		}
	}
	return count
}
