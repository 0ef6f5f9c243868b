// Package client implements the worker-process side of SMOS: a Handle that
// bundles an entry's descriptors with its locally mapped segments
// (SPEC_FULL.md §4.4). A Handle is acquired by CreateEntry (write) or by
// OpenEntry / ReadFromObject / PopFromObject / BatchReadFromObject /
// ReadLatestFromObject (read). A write handle is torn down by CommitEntry; a
// read handle by exactly one of ReleaseEntry (keyed reads) or FreeHandle
// (after PopFromObject). Failing to tear a read handle down leaks its
// reader reference or block in the store and its local memory mapping.
package client

import (
	"fmt"

	"github.com/AntonyMei/SharedMemoryObjectStore/codec"
	"github.com/AntonyMei/SharedMemoryObjectStore/shmseg"
	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

// Backend is the subset of store.Store a Handle needs. Satisfied directly
// by *store.Store for an in-process client, and by *coordinator.Conn for an
// out-of-process one; a Handle never depends on the concrete store package.
type Backend interface {
	AllocateBlock(name string, descs []*track.Descriptor) error
	AppendEntryConfig(name string, descs []*track.Descriptor) (uint64, error)
	ReadEntryConfig(name string, key uint64) ([]*track.Descriptor, error)
	ReadLatestEntryConfig(name string) (uint64, []*track.Descriptor, error)
	BatchReadEntryConfig(name string, keys []uint64) ([][]*track.Descriptor, error)
	ReleaseReadReference(name string, key uint64) error
	PopEntryConfig(name string, force bool) ([]*track.Descriptor, error)
	FreeBlockMapping(name string, descs []*track.Descriptor) error
	GetEntryOffset(name string, descs []*track.Descriptor) ([]int64, error)
	GetBlockSizeList(name string) ([]int64, error)
	GetShmNameList(name string) ([]string, error)
	GetMaxCapacity(name string) (int, error)
}

// suppressedKinds holds the resource kinds this process has told the host's
// resource tracker to stop auto-cleaning. It is a documented no-op on every
// platform Go runs SMOS on today: Go has no multiprocessing resource
// tracker of its own to patch, unlike the reference implementation's host
// runtime. The hook exists so a future platform integration has a single,
// already-wired call site instead of requiring every client entry point to
// be revisited.
var suppressedKinds = map[string]bool{}

// SuppressResourceTracker registers kind (e.g. "shared_memory") as exempt
// from automatic cleanup by the host's process-level resource tracker, if
// one exists. Call once per process at startup, before opening any segment
// by name; see SPEC_FULL.md §D for why this hook is carried even though it
// is a no-op under Go's runtime.
func SuppressResourceTracker(kind string) {
	suppressedKinds[kind] = true
}

// Handle is a client-side aggregate of one entry's descriptors and local
// segment mappings.
type Handle struct {
	backend    Backend
	objectName string
	descs      []*track.Descriptor
	segs       []*shmseg.Segment
	key        uint64
	hasKey     bool
	forRead    bool
}

// CreateEntry allocates one block per descriptor (one descriptor per track,
// in track order) and returns an uncommitted write handle. Call OpenShm to
// obtain writable views, write into them, then CommitEntry.
func CreateEntry(backend Backend, objectName string, descs []*track.Descriptor) (*Handle, error) {
	if err := backend.AllocateBlock(objectName, descs); err != nil {
		return nil, fmt.Errorf("client: create_entry %s: %w", objectName, err)
	}
	return &Handle{backend: backend, objectName: objectName, descs: descs, forRead: false}, nil
}

// OpenEntry opens a read handle on the live entry at key.
func OpenEntry(backend Backend, objectName string, key uint64) (*Handle, error) {
	descs, err := backend.ReadEntryConfig(objectName, key)
	if err != nil {
		return nil, fmt.Errorf("client: open_entry %s key %d: %w", objectName, key, err)
	}
	return &Handle{backend: backend, objectName: objectName, descs: descs, key: key, hasKey: true, forRead: true}, nil
}

// ReadFromObject is an alias of OpenEntry matching the reference API's
// naming for the common read path.
func ReadFromObject(backend Backend, objectName string, key uint64) (*Handle, error) {
	return OpenEntry(backend, objectName, key)
}

// ReadLatestFromObject opens a read handle on the entry with the largest
// live key.
func ReadLatestFromObject(backend Backend, objectName string) (*Handle, error) {
	key, descs, err := backend.ReadLatestEntryConfig(objectName)
	if err != nil {
		return nil, fmt.Errorf("client: read_latest_from_object %s: %w", objectName, err)
	}
	return &Handle{backend: backend, objectName: objectName, descs: descs, key: key, hasKey: true, forRead: true}, nil
}

// BatchReadFromObject opens one read handle per key in keys, under a single
// store-side batch acquisition. See store.Store.BatchReadEntryConfig for
// the no-rollback-on-partial-failure policy this inherits.
func BatchReadFromObject(backend Backend, objectName string, keys []uint64) ([]*Handle, error) {
	descLists, err := backend.BatchReadEntryConfig(objectName, keys)
	if err != nil {
		return nil, fmt.Errorf("client: batch_read_from_object %s: %w", objectName, err)
	}
	out := make([]*Handle, len(keys))
	for i, descs := range descLists {
		out[i] = &Handle{backend: backend, objectName: objectName, descs: descs, key: keys[i], hasKey: true, forRead: true}
	}
	return out, nil
}

// PopFromObject removes and returns a read handle on the smallest live key.
// The handle's blocks are not returned to the free pool until FreeHandle is
// called on it.
func PopFromObject(backend Backend, objectName string, force bool) (*Handle, error) {
	descs, err := backend.PopEntryConfig(objectName, force)
	if err != nil {
		return nil, fmt.Errorf("client: pop_from_object %s: %w", objectName, err)
	}
	return &Handle{backend: backend, objectName: objectName, descs: descs, forRead: true}, nil
}

// ObjectName returns the name of the object this handle was acquired from.
func (h *Handle) ObjectName() string { return h.objectName }

// Key returns the entry's key and whether one has been assigned: false for
// an uncommitted write handle or one acquired from PopFromObject.
func (h *Handle) Key() (uint64, bool) { return h.key, h.hasKey }

// Descriptors returns the handle's per-track descriptors, one per track in
// track order.
func (h *Handle) Descriptors() []*track.Descriptor { return h.descs }

// OpenShm maps every track's underlying segment and returns one byte view
// per track, positioned at the entry's block. Write handles get a writable
// mapping; read handles get a read-only one. CommitEntry, ReleaseEntry and
// FreeHandle tear the mappings down.
func (h *Handle) OpenShm() ([][]byte, error) {
	names, err := h.backend.GetShmNameList(h.objectName)
	if err != nil {
		return nil, err
	}
	blockSizes, err := h.backend.GetBlockSizeList(h.objectName)
	if err != nil {
		return nil, err
	}
	capacity, err := h.backend.GetMaxCapacity(h.objectName)
	if err != nil {
		return nil, err
	}
	offsets, err := h.backend.GetEntryOffset(h.objectName, h.descs)
	if err != nil {
		return nil, err
	}

	segs := make([]*shmseg.Segment, len(h.descs))
	views := make([][]byte, len(h.descs))
	for i, desc := range h.descs {
		segSize := blockSizes[i] * int64(capacity)
		seg, err := shmseg.Open(names[i], segSize, !h.forRead)
		if err != nil {
			for _, opened := range segs[:i] {
				if opened != nil {
					opened.Close()
				}
			}
			return nil, fmt.Errorf("client: open_shm track %d of %s: %w", i, h.objectName, err)
		}
		segs[i] = seg
		block := seg.Slice(offsets[i], blockSizes[i])
		views[i] = codec.View(desc, block)
	}
	h.segs = segs
	return views, nil
}

// closeShm unmaps every segment this handle opened. Safe to call more than
// once or on a handle that never called OpenShm.
func (h *Handle) closeShm() error {
	var firstErr error
	for _, seg := range h.segs {
		if seg == nil {
			continue
		}
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.segs = nil
	return firstErr
}

// CommitEntry appends this write handle's descriptors as a new entry,
// returning its assigned key, and tears down the local mapping. Calling
// CommitEntry on a read handle is a programming error and returns an error
// rather than mutating the store.
func (h *Handle) CommitEntry() (uint64, error) {
	if h.forRead {
		return 0, fmt.Errorf("client: commit_entry called on a read handle for %s", h.objectName)
	}
	key, err := h.backend.AppendEntryConfig(h.objectName, h.descs)
	if err != nil {
		return 0, fmt.Errorf("client: commit_entry %s: %w", h.objectName, err)
	}
	h.key = key
	h.hasKey = true
	h.closeShm()
	return key, nil
}

// ReleaseEntry decrements the entry's pending-reader count and tears down
// the local mapping. Defined only for read handles acquired with a known
// key (OpenEntry, ReadFromObject, ReadLatestFromObject, BatchReadFromObject).
func (h *Handle) ReleaseEntry() error {
	if !h.forRead || !h.hasKey {
		return fmt.Errorf("client: release_entry called on a handle with no reader reference for %s", h.objectName)
	}
	if err := h.backend.ReleaseReadReference(h.objectName, h.key); err != nil {
		return fmt.Errorf("client: release_entry %s key %d: %w", h.objectName, h.key, err)
	}
	return h.closeShm()
}

// FreeHandle tears down the local mapping and returns the handle's blocks
// to their tracks' free pools. Used after PopFromObject, whose handle holds
// no pending-reader reference to release.
func (h *Handle) FreeHandle() error {
	if err := h.backend.FreeBlockMapping(h.objectName, h.descs); err != nil {
		return fmt.Errorf("client: free_handle %s: %w", h.objectName, err)
	}
	return h.closeShm()
}
