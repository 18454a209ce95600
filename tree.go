package awaittree

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// treeIDs issues process-unique tree identities, used by the registry to
// tell a tree apart from a later tree registered under the same key.
var treeIDs atomic.Uint64

// Tree is the live span tree for one task.
//
// Exactly one goroutine at a time drives any given instrumented operation
// on the tree, but distinct operations (for example the branches of a
// fan-out) may mutate it in parallel, and dumps may be requested from
// unrelated goroutines. Every access therefore takes the tree lock, held
// only across an individual mutation or a snapshot copy, never across the
// instrumented computation itself.
type Tree struct {
	mu    sync.Mutex
	arena arena
	root  nodeID
	done  bool // root finalized; the tree is read-only from then on

	id            uint64
	clock         clockz.Clock
	logger        *zap.Logger
	verbose       bool
	warnThreshold time.Duration
}

func newTree(rootSpan Span, cfg Config) *Tree {
	t := &Tree{
		id:            treeIDs.Add(1),
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		verbose:       cfg.Verbose,
		warnThreshold: cfg.WarnThreshold,
	}
	now := t.clock.Now()
	t.root = t.arena.alloc(node{
		span:          rootSpan,
		state:         nodeActive,
		createdAt:     now,
		lastResumedAt: now,
		parent:        nilNode,
	})
	return t
}

// ID returns the process-unique identity of this tree.
func (t *Tree) ID() uint64 { return t.id }

// Snapshot produces a point-in-time consistent copy of the tree, safe to
// format or serialize while the task keeps running.
func (t *Tree) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	s := Snapshot{
		Tree:          t.copyNode(t.root, now),
		verbose:       t.verbose,
		warnThreshold: t.warnThreshold,
	}
	t.arena.each(func(id nodeID, n *node) {
		if id != t.root && n.parent == nilNode {
			s.Detached = append(s.Detached, t.copyNode(id, now))
		}
	})
	return s
}

// copyNode converts one subtree to its immutable export form.
// Caller holds the lock.
func (t *Tree) copyNode(id nodeID, now time.Time) SpanNode {
	n := t.arena.get(id)
	elapsed := n.activeTotal
	if n.state == nodeActive {
		elapsed += now.Sub(n.lastResumedAt)
	}
	out := SpanNode{
		ID:          uint64(id),
		Name:        n.span.name,
		Verbose:     n.span.verbose,
		LongRunning: n.span.longRunning,
		Active:      n.state == nodeActive,
		Elapsed:     elapsed,
	}
	for _, c := range n.children {
		out.Children = append(out.Children, t.copyNode(c, now))
	}
	return out
}

// attachChild allocates a new Active node as the last child of parent.
// Reports false without attaching when the tree has been sealed or the
// parent was removed by an out-of-band cancellation: a body may legally
// still be running while its span is torn down around it, so a dead parent
// here is an ordinary race, not a discipline violation. Both checks happen
// under the same lock as the allocation, so the answer cannot go stale.
func (t *Tree) attachChild(parent nodeID, span Span) (nodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nilNode, false
	}
	if _, ok := t.arena.lookup(parent); !ok {
		return nilNode, false
	}
	now := t.clock.Now()
	child := t.arena.alloc(node{
		span:          span,
		state:         nodeActive,
		createdAt:     now,
		lastResumedAt: now,
		parent:        parent,
	})
	// alloc may have grown the slot slice; resolve the parent after it.
	p := t.arena.get(parent)
	p.children = append(p.children, child)
	return child, true
}

// resume transitions a node Pending -> Active. Calling it on an
// already-Active node is a no-op, so re-entrant resumes are safe.
func (t *Tree) resume(id nodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkMutable()
	n := t.arena.get(id)
	switch n.state {
	case nodeActive:
	case nodePending:
		n.state = nodeActive
		n.lastResumedAt = t.clock.Now()
	case nodeCompleted:
		panic(fmt.Sprintf("awaittree: resume of completed span %q", n.span.name))
	}
}

// suspend transitions a node Active -> Pending, accruing the elapsed
// resume interval. A no-op on an already-Pending node.
func (t *Tree) suspend(id nodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkMutable()
	n := t.arena.get(id)
	switch n.state {
	case nodePending:
	case nodeActive:
		n.activeTotal += t.clock.Now().Sub(n.lastResumedAt)
		n.state = nodePending
	case nodeCompleted:
		panic(fmt.Sprintf("awaittree: suspend of completed span %q", n.span.name))
	}
}

// tryResume resumes a node if it is still live and Pending. Used where an
// out-of-band cancellation may have removed the node between the suspend
// and the resume of a bracketed wait, which is a normal discard, not a
// discipline violation.
func (t *Tree) tryResume(id nodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	n, ok := t.arena.lookup(id)
	if !ok || n.state != nodePending {
		return
	}
	n.state = nodeActive
	n.lastResumedAt = t.clock.Now()
}

// trySuspend is the lenient counterpart of tryResume for the entry side of
// a bracketed wait.
func (t *Tree) trySuspend(id nodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	n, ok := t.arena.lookup(id)
	if !ok || n.state != nodeActive {
		return
	}
	n.activeTotal += t.clock.Now().Sub(n.lastResumedAt)
	n.state = nodePending
}

// stepIn prepares a previously-attached node for another resume interval
// under the given parent. When the parent differs from the one the node is
// currently linked to (the driving operation moved, for example after
// losing a select), the node is re-parented with its accrued timing kept.
// Reports false without touching the node when the tree has been sealed,
// under the same lock as the mutation itself.
//
// Re-parenting a node under its own descendant would cut a cycle loose from
// the root, silently losing both spans from every dump; that is a broken
// wrapper discipline and panics.
func (t *Tree) stepIn(id, parent nodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return false
	}
	n := t.arena.get(id)
	if n.state == nodeCompleted {
		panic(fmt.Sprintf("awaittree: step into completed span %q", n.span.name))
	}
	if n.parent != parent {
		// A dead requested parent means the caller's span was cancelled
		// while this operation was suspended. Resume in place; the node
		// stays where cancellation left it, detached or under its old
		// parent, until a live resume point claims it.
		if p, ok := t.arena.lookup(parent); ok {
			if t.isAncestor(id, parent) {
				panic(fmt.Sprintf("awaittree: span %q cannot step in under its own descendant", n.span.name))
			}
			t.unlink(id, n)
			p.children = append(p.children, id)
			n.parent = parent
		}
	}
	if n.state == nodePending {
		n.state = nodeActive
		n.lastResumedAt = t.clock.Now()
	}
	return true
}

// isAncestor reports whether id is on the parent chain of from, inclusive.
// Caller holds the lock.
func (t *Tree) isAncestor(id, from nodeID) bool {
	for cur := from; cur != nilNode; {
		if cur == id {
			return true
		}
		n, ok := t.arena.lookup(cur)
		if !ok {
			return false
		}
		cur = n.parent
	}
	return false
}

// finalize marks a node Completed. The node and its resolved timing stay in
// the arena for later reads; only cancellation removes it. Finalizing twice
// is a wrapper bug and panics.
func (t *Tree) finalize(id nodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkMutable()
	n := t.arena.get(id)
	if n.state == nodeCompleted {
		panic(fmt.Sprintf("awaittree: double finalize of span %q", n.span.name))
	}
	if n.state == nodeActive {
		n.activeTotal += t.clock.Now().Sub(n.lastResumedAt)
	}
	n.state = nodeCompleted
	if id == t.root {
		t.done = true
	}
}

// tryFinalize is the lenient counterpart of finalize for bodies that may be
// outlived by their task: when the tree was sealed around the running body
// the node is already frozen or gone, which reports false instead of
// panicking. The done check and the finalize share one lock acquisition.
func (t *Tree) tryFinalize(id nodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return false
	}
	n, ok := t.arena.lookup(id)
	if !ok {
		return false
	}
	if n.state == nodeCompleted {
		panic(fmt.Sprintf("awaittree: double finalize of span %q", n.span.name))
	}
	if n.state == nodeActive {
		n.activeTotal += t.clock.Now().Sub(n.lastResumedAt)
	}
	n.state = nodeCompleted
	return true
}

// cancel removes a node and its settled descendants from the arena.
// Descendants that are still Active or Pending are detached instead: they
// are owned by live operations of their own, which keep their accrued time
// and either re-attach on their next resume or vanish when cancelled
// themselves. Safe to call at any point in the node's lifetime, and
// idempotent: cancelling an already-removed node is a no-op.
func (t *Tree) cancel(id nodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.arena.lookup(id)
	if !ok {
		return
	}
	t.unlink(id, n)
	t.drop(id, n)
	if id == t.root {
		t.done = true
	}
}

// unlink removes id from its parent's child list, if it has one.
// Caller holds the lock.
func (t *Tree) unlink(id nodeID, n *node) {
	if n.parent == nilNode {
		return
	}
	if p, ok := t.arena.lookup(n.parent); ok {
		for i, c := range p.children {
			if c == id {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}
	n.parent = nilNode
}

// drop releases a node, recursively dropping completed children and
// detaching live ones. Caller holds the lock and has unlinked the node.
func (t *Tree) drop(id nodeID, n *node) {
	for _, c := range n.children {
		child, ok := t.arena.lookup(c)
		if !ok {
			continue
		}
		if child.state == nodeCompleted {
			child.parent = nilNode
			t.drop(c, child)
		} else {
			child.parent = nilNode
		}
	}
	t.arena.release(id)
}

// abort ends the tree early: every child of the root is cancelled and the
// root itself is finalized. Used when the top-level wrapper unwinds without
// completing, so that handles held elsewhere can still read the tree.
// Idempotent.
func (t *Tree) abort() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	r := t.arena.get(t.root)
	children := append([]nodeID(nil), r.children...)
	for _, c := range children {
		if n, ok := t.arena.lookup(c); ok {
			t.unlink(c, n)
			t.drop(c, n)
		}
	}
	if r.state == nodeActive {
		r.activeTotal += t.clock.Now().Sub(r.lastResumedAt)
	}
	r.state = nodeCompleted
	t.done = true
}

// checkMutable guards against mutation after the root was finalized.
// Caller holds the lock.
func (t *Tree) checkMutable() {
	if t.done {
		panic("awaittree: mutation of a completed tree")
	}
}

// nodeCount returns the number of live nodes, for tests.
func (t *Tree) nodeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.liveCount()
}

// detachedCount returns the number of detached subtree roots, for tests.
func (t *Tree) detachedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	t.arena.each(func(id nodeID, n *node) {
		if id != t.root && n.parent == nilNode {
			count++
		}
	})
	return count
}
