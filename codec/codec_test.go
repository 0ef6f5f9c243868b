package codec

import (
	"testing"

	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

func TestArrayViewRoundTrip(t *testing.T) {
	desc := NewNumericDescriptor(track.DTypeFloat64, []int64{4})
	block := make([]byte, 64)

	view := ArrayView[float64](desc, block)
	if len(view) != 4 {
		t.Fatalf("expected 4 elements, got %d", len(view))
	}
	view[0] = 3.5
	view[3] = -1.25

	view2 := ArrayView[float64](desc, block)
	if view2[0] != 3.5 || view2[3] != -1.25 {
		t.Fatalf("expected values to persist through the backing block, got %v", view2)
	}
}

func TestOpaqueViewIsWholeBlock(t *testing.T) {
	desc := NewOpaqueDescriptor()
	block := make([]byte, 32)
	view := View(desc, block)
	if len(view) != len(block) {
		t.Fatalf("expected opaque view to span the whole block, got %d", len(view))
	}
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	block := make([]byte, 16)
	n, err := PutLengthPrefixed(block, []byte("hello"))
	if err != nil {
		t.Fatalf("PutLengthPrefixed: %v", err)
	}
	if n != 9 {
		t.Fatalf("expected 9 bytes written, got %d", n)
	}
	got, err := GetLengthPrefixed(block)
	if err != nil {
		t.Fatalf("GetLengthPrefixed: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestLengthPrefixedTooLarge(t *testing.T) {
	block := make([]byte, 4)
	if _, err := PutLengthPrefixed(block, []byte("hello")); err == nil {
		t.Fatal("expected an error for an oversized payload")
	}
}
