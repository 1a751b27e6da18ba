package ring

import (
	"testing"
	"time"
)

func frame(s string) Frame {
	return Frame{Lines: []string{s}, At: time.Now()}
}

func TestBuffer_PushAndTail(t *testing.T) {
	b := New(3)
	b.Push(frame("a"))
	b.Push(frame("b"))
	b.Push(frame("c"))

	tail := b.Tail(10)
	if len(tail) != 3 {
		t.Fatalf("want 3 frames, got %d", len(tail))
	}
	want := []string{"a", "b", "c"}
	for i, f := range tail {
		if f.Lines[0] != want[i] {
			t.Errorf("tail[%d] = %q, want %q", i, f.Lines[0], want[i])
		}
	}
}

func TestBuffer_OverflowDiscardsOldest(t *testing.T) {
	b := New(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.Push(frame(s))
	}
	if b.Len() != 3 {
		t.Fatalf("want len 3 after overflow, got %d", b.Len())
	}
	tail := b.Tail(3)
	want := []string{"c", "d", "e"}
	for i, f := range tail {
		if f.Lines[0] != want[i] {
			t.Errorf("tail[%d] = %q, want %q", i, f.Lines[0], want[i])
		}
	}
}

func TestBuffer_TailLessThanSize(t *testing.T) {
	b := New(5)
	for _, s := range []string{"a", "b", "c"} {
		b.Push(frame(s))
	}
	tail := b.Tail(2)
	want := []string{"b", "c"}
	for i, f := range tail {
		if f.Lines[0] != want[i] {
			t.Errorf("tail[%d] = %q, want %q", i, f.Lines[0], want[i])
		}
	}
}

func TestBuffer_ZeroCapacityFallsBackToDefault(t *testing.T) {
	b := New(0)
	if b.Cap() != DefaultCapacity {
		t.Fatalf("want default capacity %d, got %d", DefaultCapacity, b.Cap())
	}
}

func TestBuffer_TailZero(t *testing.T) {
	b := New(3)
	b.Push(frame("a"))
	if tail := b.Tail(0); len(tail) != 0 {
		t.Fatalf("want empty tail, got %d", len(tail))
	}
}
