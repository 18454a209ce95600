package awaittree

import "context"

// bindingKeyType is a private type for context keys to avoid collisions.
type bindingKeyType string

const bindingKey bindingKeyType = "awaittree"

// binding identifies the tree node currently executing on a context chain.
//
// The context value chain is the per-goroutine stack of instrumented
// operations: entering an operation derives a child context (push), and
// returning to the caller's context is the pop. Pairing is guaranteed on
// every exit path, including panics, because the parent context is never
// mutated, only shadowed.
type binding struct {
	tree *Tree
	node nodeID
}

func withBinding(ctx context.Context, b binding) context.Context {
	return context.WithValue(ctx, bindingKey, b)
}

// currentBinding extracts the innermost instrumented operation from a
// context. Reports false if the context chain is not instrumented.
func currentBinding(ctx context.Context) (binding, bool) {
	if ctx == nil {
		return binding{}, false
	}
	b, ok := ctx.Value(bindingKey).(binding)
	return b, ok
}

// CurrentTree returns a snapshot of the span tree of the task driving ctx.
// Reports false if ctx is not instrumented. Useful to check which task is
// executing a shared code path.
func CurrentTree(ctx context.Context) (Snapshot, bool) {
	b, ok := currentBinding(ctx)
	if !ok {
		return Snapshot{}, false
	}
	return b.tree.Snapshot(), true
}
