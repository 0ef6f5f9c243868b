package shmseg

import (
	"bytes"
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "shmseg-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmp)
	restore := SetDir(tmp)
	defer restore()
	os.Exit(m.Run())
}

func TestCreateOpenRoundTrip(t *testing.T) {
	seg, err := Create("smoke-segment", 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer Unlink(seg.Name())

	want := bytes.Repeat([]byte{0xAB}, 128)
	copy(seg.Slice(0, 128), want)
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open("smoke-segment", 4096, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	got := reopened.Slice(0, 128)
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %x want %x", got, want)
	}
}

func TestCreateCollision(t *testing.T) {
	seg, err := Create("collide", 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer func() {
		seg.Close()
		Unlink("collide")
	}()

	if _, err := Create("collide", 64); err == nil {
		t.Fatal("expected collision error on duplicate Create")
	}
}

func TestSliceOutOfRangePanics(t *testing.T) {
	seg, err := Create("oob", 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer func() {
		seg.Close()
		Unlink("oob")
	}()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range slice")
		}
	}()
	seg.Slice(32, 64)
}
