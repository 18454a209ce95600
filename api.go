// Package awaittree generates live, informative tree dumps of nested
// asynchronous operations: a stack trace for cooperatively-composed work.
//
// Unlike a sampling profiler, awaittree only records explicitly instrumented
// operations. Each logical task owns one span tree; instrumented operations
// attach to the tree when they start, toggle between Active and Pending as
// they run and wait, and leave the tree (or remain as completed history) when
// they end. Any goroutine may dump a task's tree at any time without
// interrupting the task itself.
//
// Core Components:
//   - Tree: arena-backed span tree for one task, guarded by a narrow lock.
//   - Span: descriptor for one instrumented operation (name + flags).
//   - Operation: multi-resume wrapper with poll-like suspend semantics.
//   - Registry: process-wide task-key -> tree mapping with auto-expiry.
//
// Basic Usage:
//
//	registry := awaittree.NewRegistry(awaittree.Config{})
//	root := registry.Register("worker-1", awaittree.NewSpan("worker 1"))
//
//	go root.Instrument(ctx, func(ctx context.Context) error {
//		return awaittree.Await(ctx, awaittree.NewSpan("fetch batch"),
//			func(ctx context.Context) error {
//				// nested awaits attach under "fetch batch"
//				return nil
//			})
//	})
//
//	// From any other goroutine:
//	if tree, ok := registry.Get("worker-1"); ok {
//		fmt.Println(tree)
//	}
//
// Thread Safety:
//
// Registry and Tree are safe for concurrent use by multiple goroutines.
// A single Operation must be driven by one goroutine at a time, matching
// the cooperative model it instruments; distinct operations on the same
// tree may run in parallel.
//
// Dumps are point-in-time consistent: a Snapshot is copied under the tree
// lock between two mutations and never observes a half-attached node.
package awaittree

// Key identifies a task in a Registry. Any comparable value works; string
// and integer keys are typical.
type Key = any
