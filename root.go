package awaittree

import "context"

// TreeRoot is the strong handle over one task's tree, returned by
// Registry.Register. It is consumed by the task's top-level Instrument call
// and may be retained afterwards for read access; the registry only ever
// holds the tree weakly and stops resolving it once the task ends.
type TreeRoot struct {
	tree     *Tree
	registry *Registry
	key      Key
}

// Instrument runs fn as the task's top-level instrumented operation. The
// context passed to fn carries the tree's root as attachment point, so
// every Await inside fn lands in this tree.
//
// When fn returns, the root is finalized, the tree becomes read-only and
// the registry entry is released (unless another registration replaced it
// in the meantime). If fn panics, in-flight children are cancelled, the
// tree is sealed and the panic resumes. fn's error is returned untouched.
func (r *TreeRoot) Instrument(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	completed := false
	defer func() {
		if !completed {
			r.tree.abort()
		}
		if r.registry != nil {
			r.registry.release(r.key, r.tree.id)
		}
	}()

	err := fn(withBinding(ctx, binding{tree: r.tree, node: r.tree.root}))
	completed = true
	r.tree.finalize(r.tree.root)
	return err
}

// Snapshot dumps the tree. Valid at any point in the task's lifetime,
// including after completion, and regardless of what the registry currently
// resolves for the task's key.
func (r *TreeRoot) Snapshot() Snapshot {
	return r.tree.Snapshot()
}
