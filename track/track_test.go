package track

import (
	"errors"
	"os"
	"testing"

	"github.com/AntonyMei/SharedMemoryObjectStore/shmseg"
	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
)

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "track-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmp)
	restore := shmseg.SetDir(tmp)
	defer restore()
	os.Exit(m.Run())
}

func newTestTrack(t *testing.T, capacity int) *Track {
	t.Helper()
	tr, err := New("q", "0", 128, capacity)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { tr.Stop() })
	return tr
}

func push(t *testing.T, tr *Track) uint64 {
	t.Helper()
	d := NewDescriptor(false, DTypeInvalid, nil)
	if err := tr.AllocateBlock(d); err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	key, err := tr.AppendEntryConfig(d)
	if err != nil {
		t.Fatalf("AppendEntryConfig: %v", err)
	}
	return key
}

func TestCreatePushPop(t *testing.T) {
	tr := newTestTrack(t, 4)
	var keys []uint64
	for i := 0; i < 4; i++ {
		keys = append(keys, push(t, tr))
	}
	for i, want := range keys {
		key, d, err := tr.PopEntryConfig(false)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if key != want {
			t.Fatalf("pop %d: expected key %d, got %d", i, want, key)
		}
		if d.BlockIdx < 0 {
			t.Fatalf("popped descriptor has no block")
		}
	}
	if _, _, err := tr.PopEntryConfig(false); !errors.Is(err, smoserr.ErrEmpty) {
		t.Fatalf("expected ErrEmpty on fifth pop, got %v", err)
	}
}

func TestFIFOOrder(t *testing.T) {
	tr := newTestTrack(t, 4)
	k0, k1, k2 := push(t, tr), push(t, tr), push(t, tr)
	if !(k0 < k1 && k1 < k2) {
		t.Fatalf("expected strictly increasing keys, got %d %d %d", k0, k1, k2)
	}
	for _, want := range []uint64{k0, k1, k2} {
		key, _, err := tr.PopEntryConfig(false)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if key != want {
			t.Fatalf("expected pop order %d, got %d", want, key)
		}
	}
}

func TestReaderBlocksDelete(t *testing.T) {
	tr := newTestTrack(t, 2)
	key := push(t, tr)

	if _, err := tr.ReadEntryConfig(key); err != nil {
		t.Fatalf("ReadEntryConfig: %v", err)
	}
	if err := tr.DeleteEntryConfig(key, false); !errors.Is(err, smoserr.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := tr.ReleaseReadReference(key); err != nil {
		t.Fatalf("ReleaseReadReference: %v", err)
	}
	if err := tr.DeleteEntryConfig(key, false); err != nil {
		t.Fatalf("delete after release: %v", err)
	}
}

func TestReadLatestAfterDelete(t *testing.T) {
	tr := newTestTrack(t, 4)
	_, kb, kc := push(t, tr), push(t, tr), push(t, tr)
	_ = kb

	key, _, err := tr.ReadLatestEntryConfig()
	if err != nil || key != kc {
		t.Fatalf("expected latest %d, got %d err=%v", kc, key, err)
	}
	tr.ReleaseReadReference(key)
	if err := tr.DeleteEntryConfig(kc, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	key, _, err = tr.ReadLatestEntryConfig()
	if err != nil || key != kb {
		t.Fatalf("expected latest %d after delete, got %d err=%v", kb, key, err)
	}
	tr.ReleaseReadReference(key)
}

func TestDoubleReleaseFaults(t *testing.T) {
	tr := newTestTrack(t, 2)
	key := push(t, tr)
	tr.ReadEntryConfig(key)
	tr.ReleaseReadReference(key)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a Fault panic on double release")
		}
		f, ok := r.(*smoserr.Fault)
		if !ok || f.Kind != smoserr.ReadRefDoubleRelease {
			t.Fatalf("expected ReadRefDoubleRelease fault, got %#v", r)
		}
	}()
	tr.ReleaseReadReference(key)
}

func TestCapacitySaturation(t *testing.T) {
	tr := newTestTrack(t, 2)
	push(t, tr)
	push(t, tr)
	d := NewDescriptor(false, DTypeInvalid, nil)
	if err := tr.AllocateBlock(d); !errors.Is(err, smoserr.ErrNoFreeBlock) {
		t.Fatalf("expected ErrNoFreeBlock, got %v", err)
	}
}

func TestNumericEntryOffsetAndAppend(t *testing.T) {
	tr := newTestTrack(t, 1)
	d := NewDescriptor(true, DTypeFloat64, []int64{4})
	if err := tr.AllocateBlock(d); err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	offset, err := tr.GetEntryOffset(d)
	if err != nil {
		t.Fatalf("GetEntryOffset: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected offset 0, got %d", offset)
	}
	if _, err := tr.AppendEntryConfig(d); err != nil {
		t.Fatalf("AppendEntryConfig: %v", err)
	}
}
