package fabric

import (
	"bytes"
	"testing"
	"unsafe"
)

type point struct {
	X, Y int32
}

func (point) noPointers() {}

// P1: capacity round-trip.
func TestRawMessageFromStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello, fabric", string(make([]byte, 4096))} {
		m := NewRawMessageFromString(s)
		if m.Len() != len(s) {
			t.Fatalf("len = %d, want %d", m.Len(), len(s))
		}
		if got := m.AsSlice(); !bytes.Equal(got, []byte(s)) {
			t.Fatalf("AsSlice = %q, want %q", got, s)
		}
	}
}

// P2: struct round-trip.
func TestStructRoundTrip(t *testing.T) {
	var zero point
	m := NewRawMessage(int(unsafe.Sizeof(zero)))
	v := point{X: -7, Y: 1024}
	WriteStruct(m, 0, v)
	got := ReadStruct[point](m, 0)
	if got != v {
		t.Fatalf("got %+v, want %+v", got, v)
	}
}

// P3: dup independence.
func TestDupIndependence(t *testing.T) {
	a := NewRawMessageFromString("original")
	b := a.Dup()

	b.WriteFromSlice(0, []byte("mutated!"))

	if got := a.AsSlice(); string(got) != "original" {
		t.Fatalf("a mutated through b: %q", got)
	}
	if got := b.AsSlice(); string(got) != "mutated!" {
		t.Fatalf("b = %q, want mutated!", got)
	}
}

// P4: clone aliasing.
func TestCloneAliasing(t *testing.T) {
	a := NewRawMessageFromString("shared")
	b := a.Clone()

	b.WriteFromSlice(0, []byte("SHARED"))

	if got := a.AsSlice(); string(got) != "SHARED" {
		t.Fatalf("a = %q, want SHARED (should alias b)", got)
	}
}

func TestSetLenBeyondCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic setting len beyond cap")
		}
	}()
	m := NewRawMessage(4)
	m.SetLen(5)
}

func TestWritePastEndPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic writing past end of buffer")
		}
	}()
	m := NewRawMessage(4)
	m.WriteFromSlice(2, []byte("abc"))
}

func TestResizePreservesPrefix(t *testing.T) {
	m := NewRawMessageFromString("abcdef")
	m.Resize(3)
	if got := m.AsSlice(); string(got) != "abc" {
		t.Fatalf("got %q, want abc", got)
	}
	if m.Cap() != 3 {
		t.Fatalf("cap = %d, want 3", m.Cap())
	}
}

func TestZeroCapacityPromotedToOne(t *testing.T) {
	m := NewRawMessage(0)
	if m.Cap() != 1 {
		t.Fatalf("cap = %d, want 1", m.Cap())
	}
}
