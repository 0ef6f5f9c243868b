package client

import (
	"os"
	"testing"

	"github.com/AntonyMei/SharedMemoryObjectStore/codec"
	"github.com/AntonyMei/SharedMemoryObjectStore/shmseg"
	"github.com/AntonyMei/SharedMemoryObjectStore/store"
	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "client-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmp)
	restore := shmseg.SetDir(tmp)
	defer restore()
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New()
	if err := st.Create("arr", 4, []int64{32}, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { st.Stop() })
	return st
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	st := newTestStore(t)

	wh, err := CreateEntry(st, "arr", []*track.Descriptor{codec.NewNumericDescriptor(track.DTypeFloat64, []int64{4})})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	views, err := wh.OpenShm()
	if err != nil {
		t.Fatalf("OpenShm: %v", err)
	}
	arr := codec.ArrayView[float64](wh.Descriptors()[0], views[0])
	arr[0], arr[1], arr[2], arr[3] = 1, 2, 3, 4

	key, err := wh.CommitEntry()
	if err != nil {
		t.Fatalf("CommitEntry: %v", err)
	}

	rh, err := OpenEntry(st, "arr", key)
	if err != nil {
		t.Fatalf("OpenEntry: %v", err)
	}
	readViews, err := rh.OpenShm()
	if err != nil {
		t.Fatalf("OpenShm (read): %v", err)
	}
	got := codec.ArrayView[float64](rh.Descriptors()[0], readViews[0])
	if got[0] != 1 || got[1] != 2 || got[2] != 3 || got[3] != 4 {
		t.Fatalf("unexpected round-tripped values: %v", got)
	}
	if err := rh.ReleaseEntry(); err != nil {
		t.Fatalf("ReleaseEntry: %v", err)
	}
}

func TestPopThenFreeHandle(t *testing.T) {
	st := newTestStore(t)

	wh, err := CreateEntry(st, "arr", []*track.Descriptor{codec.NewOpaqueDescriptor()})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if _, err := wh.CommitEntry(); err != nil {
		t.Fatalf("CommitEntry: %v", err)
	}

	ph, err := PopFromObject(st, "arr", false)
	if err != nil {
		t.Fatalf("PopFromObject: %v", err)
	}
	if err := ph.FreeHandle(); err != nil {
		t.Fatalf("FreeHandle: %v", err)
	}

	if _, err := PopFromObject(st, "arr", false); err == nil {
		t.Fatal("expected the second pop to fail on an empty object")
	}
}

func TestReleaseEntryOnWriteHandleFails(t *testing.T) {
	st := newTestStore(t)
	wh, err := CreateEntry(st, "arr", []*track.Descriptor{codec.NewOpaqueDescriptor()})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if err := wh.ReleaseEntry(); err == nil {
		t.Fatal("expected ReleaseEntry on a write handle to fail")
	}
}
