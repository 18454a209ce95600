package awaittree

import "fmt"

// Span describes one instrumented operation: a display name plus flags that
// control how the node is rendered. Spans are cheap values; modifiers return
// a copy, so a Span can be built inline:
//
//	awaittree.NewSpan("flush buffer").LongRunning()
//	awaittree.Spanf("fetch chunk %d", i).Verbose()
type Span struct {
	name        string
	verbose     bool
	longRunning bool
}

// NewSpan creates a span descriptor with the given display name.
func NewSpan(name string) Span {
	return Span{name: name}
}

// Spanf creates a span descriptor with a formatted display name.
// The name is formatted once, here, never again on dumps.
func Spanf(format string, args ...any) Span {
	return Span{name: fmt.Sprintf(format, args...)}
}

// Verbose marks the span as verbose. Verbose nodes are hidden from
// non-verbose dumps.
func (s Span) Verbose() Span {
	s.verbose = true
	return s
}

// LongRunning marks the span as expected to stay pending for a long time,
// exempting it from the "pending unusually long" highlighting in dumps.
func (s Span) LongRunning() Span {
	s.longRunning = true
	return s
}

// Name returns the display name.
func (s Span) Name() string { return s.name }

// IsVerbose reports whether the span is hidden from non-verbose dumps.
func (s Span) IsVerbose() bool { return s.verbose }

// IsLongRunning reports whether the span is exempt from stall highlighting.
func (s Span) IsLongRunning() bool { return s.longRunning }

func (s Span) String() string { return s.name }
