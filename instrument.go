package awaittree

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPending signals, when returned from an Operation.Await body, that the
// operation is suspended waiting for some event rather than finished. The
// node stays in the tree as Pending and the next Await resumes it.
var ErrPending = errors.New("awaittree: operation pending")

type opState uint8

const (
	opUnstarted opState = iota
	opStarted
	opCompleted
	opCancelled
)

// Operation is the instrumented wrapper for one suspend/resume-capable unit
// of work. Its lifecycle is
//
//	Unstarted -> Attached+Active <-> Pending -> Completed | Cancelled
//
// Each Await call is one resume interval. The first call attaches a node
// under the caller's current span; later calls resume the same node,
// re-parenting it if the caller's position in the tree has changed since.
// A body returning ErrPending suspends the node; any other return completes
// it. An Operation discarded before completion must be cancelled, or its
// node lingers in the tree as a permanently-pending ghost.
//
// Drive an Operation from one goroutine at a time.
type Operation struct {
	span Span

	mu    sync.Mutex
	state opState
	tree  *Tree
	node  nodeID
}

// NewOperation creates an unstarted operation for the given span. Nothing
// is attached to any tree until the first Await.
func NewOperation(span Span) *Operation {
	return &Operation{span: span}
}

// Await drives the operation for one resume interval by running fn. The
// node is Active while fn runs and the context passed to fn carries it as
// the attachment point for nested operations.
//
// fn's outcome is passed through untouched; an error return is a completed
// operation like any other, except ErrPending, which suspends instead. If
// fn panics the operation is cancelled and the panic resumes.
//
// When ctx carries no tree, or a different tree than the operation first
// attached to, fn runs uninstrumented.
func (o *Operation) Await(ctx context.Context, fn func(context.Context) error) error {
	tree, node, ok := o.enter(ctx)
	if !ok {
		return fn(ctx)
	}

	completed := false
	defer func() {
		if !completed {
			// fn is unwinding; drop the subtree and let the panic resume.
			o.Cancel()
		}
	}()

	err := fn(withBinding(ctx, binding{tree: tree, node: node}))
	completed = true

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == opCancelled {
		// Cancelled out-of-band while fn was running; the node is
		// already gone. The result still passes through.
		return err
	}
	if errors.Is(err, ErrPending) {
		tree.trySuspend(node)
		return err
	}
	// tryFinalize reports false when the whole task was torn down around
	// the running body; the operation still counts as completed.
	tree.tryFinalize(node)
	o.state = opCompleted
	return err
}

// enter attaches or resumes the operation's node for one resume interval.
// Reports false when the body should run uninstrumented instead: outside any
// task, under a foreign tree, or racing the teardown of its own task.
func (o *Operation) enter(ctx context.Context) (*Tree, nodeID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case opCompleted, opCancelled:
		panic("awaittree: Await on a finished operation")
	case opUnstarted:
		b, ok := currentBinding(ctx)
		if !ok {
			// Not in an instrumented task; stay unstarted so a later
			// Await inside one can still attach.
			return nil, nilNode, false
		}
		node, ok := b.tree.attachChild(b.node, o.span)
		if !ok {
			// The task ended, or the caller's span was cancelled
			// out-of-band while its body was still running.
			b.tree.logger.Warn("operation started under a finished or cancelled span",
				zap.String("span", o.span.name))
			return nil, nilNode, false
		}
		o.tree = b.tree
		o.node = node
		o.state = opStarted
	case opStarted:
		b, ok := currentBinding(ctx)
		if !ok {
			o.tree.logger.Warn("operation resumed outside any instrumented context",
				zap.String("span", o.span.name))
			return nil, nilNode, false
		}
		if b.tree != o.tree {
			o.tree.logger.Warn("operation resumed under a different tree than it first attached to",
				zap.String("span", o.span.name),
				zap.Uint64("attached_tree", o.tree.id),
				zap.Uint64("current_tree", b.tree.id))
			return nil, nilNode, false
		}
		if !o.tree.stepIn(o.node, b.node) {
			o.tree.logger.Warn("operation resumed after its task ended",
				zap.String("span", o.span.name))
			return nil, nilNode, false
		}
	}
	return o.tree, o.node, true
}

// Cancel discards the operation before completion, removing its node and
// settled descendants from the tree. Idempotent; a no-op once the
// operation has completed or was already cancelled.
func (o *Operation) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case opStarted:
		o.tree.cancel(o.node)
		o.state = opCancelled
	case opUnstarted:
		o.state = opCancelled
	case opCompleted, opCancelled:
	}
}

// Await runs fn as a one-shot instrumented operation under the current span
// of ctx. The node is attached on entry, Active while fn runs, and
// finalized when fn returns; fn's error is passed through untouched. If fn
// panics the node's subtree is removed and the panic resumes. When ctx
// carries no tree, fn simply runs uninstrumented.
func Await(ctx context.Context, span Span, fn func(context.Context) error) error {
	op := NewOperation(span)
	err := op.Await(ctx, fn)
	if errors.Is(err, ErrPending) {
		// A one-shot operation has no later resume; don't leave a ghost.
		op.Cancel()
	}
	return err
}

// Suspend brackets a blocking wait inside an Await body, marking the
// current span Pending for the duration of wait. Time spent inside wait is
// excluded from the span's accumulated active duration.
//
//	awaittree.Suspend(ctx, func() { <-ch })
func Suspend(ctx context.Context, wait func()) {
	b, ok := currentBinding(ctx)
	if !ok {
		wait()
		return
	}
	b.tree.trySuspend(b.node)
	defer b.tree.tryResume(b.node)
	wait()
}
