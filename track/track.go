// Package track implements Track, the component that owns one shared-memory
// segment divided into equal-size blocks (SPEC_FULL.md §4.1). A Track keeps
// a free-block pool, a live-entry map keyed by a monotonically increasing
// entry key, and enforces the per-entry pending-reader count.
//
// Track does not synchronize its own operations, exactly like the
// reference DataTrack, it trusts its owning Object to serialize calls under
// the object's reader/writer lock (see the object package). Calling Track
// methods concurrently without that discipline is undefined.
package track

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/AntonyMei/SharedMemoryObjectStore/shmseg"
	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
)

// Track owns one shared-memory segment and the bookkeeping that turns it
// into a fixed-capacity block pool with a FIFO-ordered, keyed live-entry map.
type Track struct {
	name      string // logical track name, e.g. "myobj:0"; stable across recreation
	blockSize int64
	capacity  int

	seg *shmseg.Segment

	freePool []int  // stack of free block indices
	freed    []bool // freed[i] == true iff block i is currently in freePool

	live    map[uint64]*Descriptor
	nextKey uint64
}

// New creates a Track's backing segment and initializes its free-block pool.
// It retries segment creation with a freshly generated name tag on a
// collision, which is the mechanism that lets two objects sharing a base
// name coexist briefly during destructive replacement.
func New(objectName, trackName string, blockSize int64, capacity int) (*Track, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("track: capacity must be positive, got %d", capacity)
	}
	name := fmt.Sprintf("%s:%s", objectName, trackName)
	var seg *shmseg.Segment
	for {
		segName := segmentName(objectName, trackName)
		s, err := shmseg.Create(segName, blockSize*int64(capacity))
		if err == nil {
			seg = s
			break
		}
		if !shmseg.Exists(segName) {
			return nil, fmt.Errorf("track: creating segment for %s: %w", name, err)
		}
		// name collision: retry with a fresh random tag
	}

	t := &Track{
		name:      name,
		blockSize: blockSize,
		capacity:  capacity,
		seg:       seg,
		freePool:  make([]int, capacity),
		freed:     make([]bool, capacity),
		live:      make(map[uint64]*Descriptor),
	}
	for i := 0; i < capacity; i++ {
		t.freePool[i] = i
		t.freed[i] = true
	}
	return t, nil
}

// Name returns the track's logical (non-segment) name.
func (t *Track) Name() string { return t.name }

// SegmentName returns the name of the underlying shared-memory segment, the
// one a client must pass to shmseg.Open.
func (t *Track) SegmentName() string { return t.seg.Name() }

// BlockSize returns the fixed block size of this track.
func (t *Track) BlockSize() int64 { return t.blockSize }

// Capacity returns max_capacity.
func (t *Track) Capacity() int { return t.capacity }

// AllocateBlock reserves a free block for a new, not-yet-visible entry and
// stamps desc with the block index and this track's name. It does not make
// the entry visible to readers; that happens in AppendEntryConfig.
func (t *Track) AllocateBlock(desc *Descriptor) error {
	if len(t.freePool) == 0 {
		return smoserr.ErrNoFreeBlock
	}
	idx := t.freePool[len(t.freePool)-1]
	t.freePool = t.freePool[:len(t.freePool)-1]
	t.freed[idx] = false
	desc.BlockIdx = idx
	desc.TrackName = t.name
	return nil
}

// AppendEntryConfig inserts desc into the live-entry map under the current
// next_key and advances the counter, returning the assigned key.
func (t *Track) AppendEntryConfig(desc *Descriptor) (uint64, error) {
	if desc.BlockIdx == unallocatedBlock {
		smoserr.Raise(smoserr.UnallocatedEntry, fmt.Sprintf("append on track %s: entry has no allocated block", t.name))
	}
	if desc.TrackName != t.name {
		smoserr.Raise(smoserr.TrackMismatch, fmt.Sprintf("track %s received entry_config for track %s", t.name, desc.TrackName))
	}
	if t.nextKey == ^uint64(0) {
		return 0, smoserr.ErrKeySpaceExhausted
	}
	key := t.nextKey
	t.live[key] = desc.clone()
	t.nextKey++
	return key, nil
}

// ReadEntryConfig increments the pending-reader count of the entry at key
// and returns a snapshot copy of its descriptor.
func (t *Track) ReadEntryConfig(key uint64) (*Descriptor, error) {
	d, ok := t.live[key]
	if !ok {
		return nil, smoserr.ErrNoSuchEntry
	}
	d.PendingReaders++
	return d.clone(), nil
}

// ReadLatestEntryConfig behaves like ReadEntryConfig but targets the
// largest key currently live.
func (t *Track) ReadLatestEntryConfig() (uint64, *Descriptor, error) {
	if len(t.live) == 0 {
		return 0, nil, smoserr.ErrEmpty
	}
	key := slices.Max(maps.Keys(t.live))
	d := t.live[key]
	d.PendingReaders++
	return key, d.clone(), nil
}

// ReleaseReadReference decrements the pending-reader count of the entry at
// key. A release that would take the count negative is a ReadRefDoubleRelease
// fault, not a recoverable error. It may be raised on the offending call or
// on a later one, consistent with the reference implementation.
func (t *Track) ReleaseReadReference(key uint64) error {
	d, ok := t.live[key]
	if !ok {
		return smoserr.ErrNoSuchEntry
	}
	d.PendingReaders--
	if d.PendingReaders < 0 {
		smoserr.Raise(smoserr.ReadRefDoubleRelease, fmt.Sprintf("track %s key %d", t.name, key))
	}
	return nil
}

// DeleteEntryConfig removes the descriptor at key and returns its block to
// the free pool, subject to the pending-reader guard unless force is set.
func (t *Track) DeleteEntryConfig(key uint64, force bool) error {
	d, ok := t.live[key]
	if !ok {
		return smoserr.ErrNoSuchEntry
	}
	if d.PendingReaders != 0 && !force {
		return smoserr.ErrPermissionDenied
	}
	delete(t.live, key)
	t.freeBlock(d.BlockIdx)
	return nil
}

// PopEntryConfig removes and returns the smallest live key and its
// descriptor, subject to the same reader-count guard as DeleteEntryConfig.
// Unlike delete, the block is *not* returned to the pool; the caller owes a
// later FreeBlockMapping. The key is returned alongside the descriptor so
// Object can verify every track popped the same key.
func (t *Track) PopEntryConfig(force bool) (uint64, *Descriptor, error) {
	if len(t.live) == 0 {
		return 0, nil, smoserr.ErrEmpty
	}
	key := slices.Min(maps.Keys(t.live))
	d := t.live[key]
	if d.PendingReaders != 0 && !force {
		return 0, nil, smoserr.ErrPermissionDenied
	}
	delete(t.live, key)
	return key, d.clone(), nil
}

// FreeBlockMapping returns the block named by a previously popped descriptor
// to the free pool.
func (t *Track) FreeBlockMapping(desc *Descriptor) error {
	if desc.TrackName != t.name {
		smoserr.Raise(smoserr.TrackMismatch, fmt.Sprintf("track %s received entry_config for track %s", t.name, desc.TrackName))
	}
	t.freeBlock(desc.BlockIdx)
	return nil
}

func (t *Track) freeBlock(idx int) {
	if idx < 0 || idx >= t.capacity {
		smoserr.Raise(smoserr.MappingError, fmt.Sprintf("track %s: block index %d out of range", t.name, idx))
	}
	if t.freed[idx] {
		smoserr.Raise(smoserr.BlockDoubleRelease, fmt.Sprintf("track %s: block %d already free", t.name, idx))
	}
	t.freed[idx] = true
	t.freePool = append(t.freePool, idx)
}

// GetEntryOffset returns the byte offset of desc's block within the segment.
func (t *Track) GetEntryOffset(desc *Descriptor) (int64, error) {
	if desc.BlockIdx < 0 || desc.BlockIdx >= t.capacity {
		smoserr.Raise(smoserr.MappingError, fmt.Sprintf("entry mapped to %d, out of range [0, %d)", desc.BlockIdx, t.capacity))
	}
	return int64(desc.BlockIdx) * t.blockSize, nil
}

// GetEntryCount returns the number of live entries.
func (t *Track) GetEntryCount() int { return len(t.live) }

// GetEntryIdxList returns every live entry key, sorted ascending.
func (t *Track) GetEntryIdxList() []uint64 {
	keys := maps.Keys(t.live)
	slices.Sort(keys)
	return keys
}

// Stop unlinks the underlying segment. It is irreversible.
func (t *Track) Stop() error {
	if err := t.seg.Close(); err != nil {
		return err
	}
	return shmseg.Unlink(t.seg.Name())
}

// Segment exposes the underlying mapped segment for in-process access. No
// other package in this module calls it; clients map the segment
// themselves via shmseg.Open using SegmentName/BlockSize/GetEntryOffset.
func (t *Track) Segment() *shmseg.Segment { return t.seg }
