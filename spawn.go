package awaittree

import "context"

// Spawn starts fn on a new goroutine as an instrumented task registered in
// the given registry under key. The returned channel yields fn's result
// once and is then closed, serving as a join handle.
func (r *Registry) Spawn(ctx context.Context, key Key, rootSpan Span, fn func(context.Context) error) <-chan error {
	root := r.Register(key, rootSpan)
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- root.Instrument(ctx, fn)
	}()
	return done
}

// Spawn starts fn on a new goroutine as an instrumented task registered in
// the global registry under key. If the global registry is not initialized
// the task still runs, just untracked.
func Spawn(ctx context.Context, key Key, rootSpan Span, fn func(context.Context) error) <-chan error {
	if r := CurrentRegistry(); r != nil {
		return r.Spawn(ctx, key, rootSpan, fn)
	}
	return spawnPlain(ctx, fn)
}

// SpawnAnonymous is Spawn with a generated unique key.
func SpawnAnonymous(ctx context.Context, rootSpan Span, fn func(context.Context) error) <-chan error {
	if r := CurrentRegistry(); r != nil {
		return r.Spawn(ctx, r.anonymousKey(), rootSpan, fn)
	}
	return spawnPlain(ctx, fn)
}

func spawnPlain(ctx context.Context, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- fn(ctx)
	}()
	return done
}
