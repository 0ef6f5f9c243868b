package object

import (
	"errors"
	"os"
	"testing"

	"github.com/AntonyMei/SharedMemoryObjectStore/shmseg"
	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "object-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmp)
	restore := shmseg.SetDir(tmp)
	defer restore()
	os.Exit(m.Run())
}

func newTestObject(t *testing.T, capacity int, trackCount int) *Object {
	t.Helper()
	sizes := make([]int64, trackCount)
	for i := range sizes {
		sizes[i] = 64
	}
	obj, err := New("queue", capacity, sizes, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { obj.Stop() })
	return obj
}

func descsFor(obj *Object) []*track.Descriptor {
	out := make([]*track.Descriptor, obj.TrackCount())
	for i := range out {
		out[i] = track.NewDescriptor(false, track.DTypeInvalid, nil)
	}
	return out
}

func push(t *testing.T, obj *Object) uint64 {
	t.Helper()
	descs := descsFor(obj)
	if err := obj.AllocateBlock(descs); err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	key, err := obj.AppendEntryConfig(descs)
	if err != nil {
		t.Fatalf("AppendEntryConfig: %v", err)
	}
	return key
}

func TestObjectCreatePushPop(t *testing.T) {
	obj := newTestObject(t, 4, 3)
	for i := 0; i < 4; i++ {
		push(t, obj)
	}
	for i := 0; i < 4; i++ {
		descs, err := obj.PopEntryConfig(false)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if len(descs) != obj.TrackCount() {
			t.Fatalf("expected %d descriptors, got %d", obj.TrackCount(), len(descs))
		}
		if err := obj.FreeBlockMapping(descs); err != nil {
			t.Fatalf("FreeBlockMapping: %v", err)
		}
	}
	if _, err := obj.PopEntryConfig(false); !errors.Is(err, smoserr.ErrEmpty) {
		t.Fatalf("expected ErrEmpty on fifth pop, got %v", err)
	}
}

func TestObjectKeysAgreeAcrossTracks(t *testing.T) {
	obj := newTestObject(t, 4, 3)
	k0, k1, k2 := push(t, obj), push(t, obj), push(t, obj)
	if !(k0 < k1 && k1 < k2) {
		t.Fatalf("expected strictly increasing keys, got %d %d %d", k0, k1, k2)
	}
}

func TestObjectPopFIFOOrder(t *testing.T) {
	obj := newTestObject(t, 4, 3)
	keys := []uint64{push(t, obj), push(t, obj), push(t, obj)}
	for i, want := range keys {
		idx := obj.GetEntryIdxList()
		if len(idx) == 0 || idx[0] != want {
			t.Fatalf("pop %d: expected smallest live key %d, idx list is %v", i, want, idx)
		}
		descs, err := obj.PopEntryConfig(false)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if err := obj.FreeBlockMapping(descs); err != nil {
			t.Fatalf("FreeBlockMapping: %v", err)
		}
	}
}

func TestObjectReaderBlocksDelete(t *testing.T) {
	obj := newTestObject(t, 2, 2)
	key := push(t, obj)

	if _, err := obj.ReadEntryConfig(key); err != nil {
		t.Fatalf("ReadEntryConfig: %v", err)
	}
	if err := obj.DeleteEntryConfig(key, false); !errors.Is(err, smoserr.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := obj.ReleaseReadReference(key); err != nil {
		t.Fatalf("ReleaseReadReference: %v", err)
	}
	if err := obj.DeleteEntryConfig(key, false); err != nil {
		t.Fatalf("delete after release: %v", err)
	}
}

func TestObjectReadLatestAfterDelete(t *testing.T) {
	obj := newTestObject(t, 4, 2)
	_, kb, kc := push(t, obj), push(t, obj), push(t, obj)

	key, _, err := obj.ReadLatestEntryConfig()
	if err != nil || key != kc {
		t.Fatalf("expected latest %d, got %d err=%v", kc, key, err)
	}
	obj.ReleaseReadReference(key)
	if err := obj.DeleteEntryConfig(kc, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	key, _, err = obj.ReadLatestEntryConfig()
	if err != nil || key != kb {
		t.Fatalf("expected latest %d after delete, got %d err=%v", kb, key, err)
	}
	obj.ReleaseReadReference(key)
}

func TestObjectCatalogQueries(t *testing.T) {
	obj := newTestObject(t, 4, 3)
	push(t, obj)
	push(t, obj)

	if n := obj.GetEntryCount(); n != 2 {
		t.Fatalf("expected 2 live entries, got %d", n)
	}
	if names := obj.GetShmNameList(); len(names) != 3 {
		t.Fatalf("expected 3 segment names, got %d", len(names))
	}
	if sizes := obj.GetBlockSizeList(); len(sizes) != 3 || sizes[0] != 64 {
		t.Fatalf("unexpected block size list %v", sizes)
	}
	idx := obj.GetEntryIdxList()
	if len(idx) != 2 || idx[0] >= idx[1] {
		t.Fatalf("expected sorted idx list, got %v", idx)
	}
}

func TestObjectCapacitySaturation(t *testing.T) {
	obj := newTestObject(t, 2, 2)
	push(t, obj)
	push(t, obj)
	if err := obj.AllocateBlock(descsFor(obj)); !errors.Is(err, smoserr.ErrNoFreeBlock) {
		t.Fatalf("expected ErrNoFreeBlock, got %v", err)
	}
}

func TestObjectDimensionMismatchRejected(t *testing.T) {
	obj := newTestObject(t, 2, 3)
	if err := obj.AllocateBlock(descsFor(obj)[:2]); !errors.Is(err, smoserr.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}
