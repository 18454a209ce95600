package awaittree

import "testing"

func TestNewSpan(t *testing.T) {
	s := NewSpan("fetch row")
	if s.Name() != "fetch row" {
		t.Errorf("expected name 'fetch row', got %q", s.Name())
	}
	if s.IsVerbose() || s.IsLongRunning() {
		t.Error("expected flags unset by default")
	}
}

func TestSpanf(t *testing.T) {
	s := Spanf("chunk %d of %d", 3, 7)
	if s.Name() != "chunk 3 of 7" {
		t.Errorf("expected formatted name, got %q", s.Name())
	}
}

func TestSpanModifiersChain(t *testing.T) {
	s := NewSpan("idle").Verbose().LongRunning()
	if !s.IsVerbose() || !s.IsLongRunning() {
		t.Error("expected both flags set")
	}

	// Modifiers are value semantics; the original is untouched.
	base := NewSpan("base")
	_ = base.Verbose()
	if base.IsVerbose() {
		t.Error("expected the original span unchanged")
	}
}

func TestSpanString(t *testing.T) {
	if got := NewSpan("x").String(); got != "x" {
		t.Errorf("expected 'x', got %q", got)
	}
}
