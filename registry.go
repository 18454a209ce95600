package awaittree

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// DefaultWarnThreshold is the pending duration past which a node is
// highlighted in dumps when Config.WarnThreshold is left zero.
const DefaultWarnThreshold = 10 * time.Second

// Config controls the behavior of every tree created by a Registry.
type Config struct {
	// Verbose includes verbose-flagged spans in default dumps.
	Verbose bool

	// WarnThreshold is the elapsed duration past which a node is
	// highlighted as unusually long pending, unless flagged long-running.
	// Zero selects DefaultWarnThreshold; negative disables highlighting.
	WarnThreshold time.Duration

	// Clock supplies timestamps. Defaults to the real clock; inject a
	// fake for deterministic tests.
	Clock clockz.Clock

	// Logger receives warnings about broken instrumentation discipline,
	// such as an operation resumed under the wrong tree. Defaults to a
	// no-op logger.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clockz.RealClock
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	switch {
	case c.WarnThreshold == 0:
		c.WarnThreshold = DefaultWarnThreshold
	case c.WarnThreshold < 0:
		c.WarnThreshold = 0
	}
	return c
}

// TaskTree pairs a task key with a snapshot of its tree, as returned by
// Registry.Collect.
type TaskTree struct {
	Key  Key
	Tree Snapshot
}

// Registry maps task keys to live trees. Entries are weak: a tree expires
// from the registry as soon as its top-level Instrument call returns, so
// lookups only ever resolve tasks that are still running (or not yet
// started). Safe for concurrent use by multiple goroutines; none of its
// operations block on a task's own execution.
type Registry struct {
	config Config

	mu      sync.RWMutex
	entries map[Key]*Tree
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:  config.withDefaults(),
		entries: make(map[Key]*Tree),
	}
}

// Register creates a tree rooted at rootSpan and makes it resolvable under
// key. The returned TreeRoot is the strong handle; pass its Instrument the
// task body.
//
// Registering an already-used key silently supersedes the old entry. Task
// keys are caller-managed and reuse is expected, for example on task
// restart. The superseded TreeRoot stays valid for its own tree.
func (r *Registry) Register(key Key, rootSpan Span) *TreeRoot {
	tree := newTree(rootSpan, r.config)

	r.mu.Lock()
	r.entries[key] = tree
	r.mu.Unlock()

	return &TreeRoot{tree: tree, registry: r, key: key}
}

// RegisterAnonymous registers a tree under a generated unique key.
func (r *Registry) RegisterAnonymous(rootSpan Span) *TreeRoot {
	return r.Register(r.anonymousKey(), rootSpan)
}

// anonymousKey generates a unique key for anonymous registrations.
func (r *Registry) anonymousKey() Key {
	return xid.New().String()
}

// Get dumps the tree registered under key. Reports false if the key was
// never registered, was removed, or its task has already ended; a miss is
// an ordinary outcome, not an error.
func (r *Registry) Get(key Key) (Snapshot, bool) {
	r.mu.RLock()
	tree, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return tree.Snapshot(), true
}

// Remove de-registers key. Idempotent; the tree itself is untouched and
// any TreeRoot over it stays usable.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// Clear de-registers everything.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[Key]*Tree)
	r.mu.Unlock()
}

// Collect returns a point-in-time dump of every registered task. Tasks
// that end between the snapshot and its use simply no longer resolve; the
// returned snapshots remain valid regardless.
func (r *Registry) Collect() []TaskTree {
	r.mu.RLock()
	trees := make([]TaskTree, 0, len(r.entries))
	keys := make([]Key, 0, len(r.entries))
	live := make([]*Tree, 0, len(r.entries))
	for k, t := range r.entries {
		keys = append(keys, k)
		live = append(live, t)
	}
	r.mu.RUnlock()

	// Snapshots are taken outside the registry lock: each takes the
	// per-tree lock and must not stall unrelated registrations.
	for i, t := range live {
		trees = append(trees, TaskTree{Key: keys[i], Tree: t.Snapshot()})
	}
	return trees
}

// release drops the entry for key if it still refers to the given tree.
// Called by TreeRoot when its task ends; the identity check keeps a later
// registration under the same key from being clobbered.
func (r *Registry) release(key Key, treeID uint64) {
	r.mu.Lock()
	if tree, ok := r.entries[key]; ok && tree.id == treeID {
		delete(r.entries, key)
	}
	r.mu.Unlock()
}
