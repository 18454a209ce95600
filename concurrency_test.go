package awaittree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// verifyNode walks a snapshot subtree, checking it is well formed: names
// present and no repeated node ids (the structure is a strict tree).
func verifyNode(t *testing.T, n SpanNode, seen map[uint64]bool) {
	t.Helper()
	if n.Name == "" {
		t.Error("observed a node with no name")
	}
	if seen[n.ID] {
		t.Errorf("observed node id %d twice in one snapshot", n.ID)
	}
	seen[n.ID] = true
	for _, c := range n.Children {
		verifyNode(t, c, seen)
	}
}

func TestConcurrentDriversAndDumpers(t *testing.T) {
	const (
		drivers    = 4
		dumpers    = 3
		iterations = 200
	)

	reg := NewRegistry(Config{})
	var stop atomic.Bool
	var wg sync.WaitGroup

	// Drivers: independent tasks mutating their trees as fast as they can.
	for d := 0; d < drivers; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				root := reg.Register(fmt.Sprintf("task-%d", d), Spanf("task %d", d))
				_ = root.Instrument(context.Background(), func(ctx context.Context) error {
					return Await(ctx, Spanf("outer %d", i), func(ctx context.Context) error {
						op := NewOperation(NewSpan("inner"))
						_ = op.Await(ctx, func(context.Context) error { return ErrPending })
						Suspend(ctx, func() {})
						_ = op.Await(ctx, func(context.Context) error { return nil })
						return nil
					})
				})
			}
			stop.Store(true)
		}(d)
	}

	// Dumpers: unrelated goroutines snapshotting and rendering throughout.
	for m := 0; m < dumpers; m++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				for _, task := range reg.Collect() {
					seen := map[uint64]bool{}
					verifyNode(t, task.Tree.Tree, seen)
					for _, d := range task.Tree.Detached {
						verifyNode(t, d, seen)
					}
					_ = task.Tree.Render(true)
				}
			}
		}()
	}

	wg.Wait()
}
