package awaittree

import (
	"fmt"
	"strings"
	"time"
)

// SpanNode is the immutable export form of one span, shaped for lossless
// structured serialization. Elapsed marshals as integer nanoseconds.
type SpanNode struct {
	ID          uint64        `json:"id"`
	Name        string        `json:"name"`
	Verbose     bool          `json:"is_verbose"`
	LongRunning bool          `json:"is_long_running"`
	Active      bool          `json:"is_active"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Children    []SpanNode    `json:"children"`
}

// Snapshot is a point-in-time consistent view of one task's span tree.
// It is a plain value: safe to retain, format, and serialize after the
// underlying tree has moved on or been dropped.
//
// Detached holds subtrees whose former parent was cancelled while they were
// still in flight; they keep their accrued timing and re-attach to the main
// tree on their next resume.
type Snapshot struct {
	Tree     SpanNode   `json:"tree"`
	Detached []SpanNode `json:"detached,omitempty"`

	// Render defaults, inherited from the registry config.
	verbose       bool
	warnThreshold time.Duration
}

// String renders the snapshot with the registry's default verbosity.
func (s Snapshot) String() string {
	return s.Render(s.verbose)
}

// Render produces the indented text form of the tree, one line per node:
//
//	name [elapsed]
//	  child [elapsed]
//
// Nodes flagged verbose are omitted unless verbose rendering is requested.
// A node pending longer than the warn threshold is highlighted with "!!!"
// unless flagged long-running.
func (s Snapshot) Render(verbose bool) string {
	var b strings.Builder
	s.renderNode(&b, s.Tree, 0, verbose)
	for _, d := range s.Detached {
		if d.Verbose && !verbose {
			continue
		}
		fmt.Fprintf(&b, "[Detached %d]\n", d.ID)
		s.renderNode(&b, d, 1, verbose)
	}
	return b.String()
}

func (s Snapshot) renderNode(b *strings.Builder, n SpanNode, depth int, verbose bool) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Name)
	if s.warnThreshold > 0 && n.Elapsed >= s.warnThreshold && !n.LongRunning {
		fmt.Fprintf(b, " !!! [%s]", fmtDuration(n.Elapsed))
	} else {
		fmt.Fprintf(b, " [%s]", fmtDuration(n.Elapsed))
	}
	b.WriteByte('\n')
	for _, c := range n.Children {
		if c.Verbose && !verbose {
			continue
		}
		s.renderNode(b, c, depth+1, verbose)
	}
}

// fmtDuration trims a duration to display precision: sub-second values to
// the microsecond, everything else to the millisecond.
func fmtDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Microsecond).String()
	}
	return d.Round(time.Millisecond).String()
}
