// Package object implements Object, the component that aggregates
// track_count aligned Tracks under one name and one fair reader/writer lock
// (SPEC_FULL.md §4.2). Object fans every operation out across its tracks in
// track order 0..track_count-1 and verifies the tracks agree on the
// resulting status; disagreement is a TrackUnaligned fault, never a
// returned error, because it can only mean a prior bug corrupted the
// cross-track alignment invariant.
package object

import (
	"fmt"

	"github.com/AntonyMei/SharedMemoryObjectStore/rwlock"
	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

// Object is a named collection of aligned tracks.
type Object struct {
	name        string
	maxCapacity int
	tracks      []*track.Track
	lock        rwlock.FairRWLock
}

// New creates an Object with track_count tracks, each sized blockSizes[i] x
// maxCapacity. trackNames, if non-nil, must have the same length as
// blockSizes; an empty entry (or a nil slice) defaults a track's human name
// to its ordinal.
func New(name string, maxCapacity int, blockSizes []int64, trackNames []string) (*Object, error) {
	trackCount := len(blockSizes)
	if trackCount == 0 {
		return nil, fmt.Errorf("object: track_count must be >= 1")
	}
	if trackNames != nil && len(trackNames) != trackCount {
		return nil, smoserr.ErrDimensionMismatch
	}

	tracks := make([]*track.Track, 0, trackCount)
	for i := 0; i < trackCount; i++ {
		tname := fmt.Sprintf("%d", i)
		if trackNames != nil && trackNames[i] != "" {
			tname = trackNames[i]
		}
		tr, err := track.New(name, tname, blockSizes[i], maxCapacity)
		if err != nil {
			for _, created := range tracks {
				created.Stop()
			}
			return nil, fmt.Errorf("object %s: creating track %s: %w", name, tname, err)
		}
		tracks = append(tracks, tr)
	}

	return &Object{
		name:        name,
		maxCapacity: maxCapacity,
		tracks:      tracks,
	}, nil
}

// Name returns the object's name.
func (o *Object) Name() string { return o.name }

// TrackCount returns track_count.
func (o *Object) TrackCount() int { return len(o.tracks) }

// unaligned raises TrackUnaligned with a message identifying the op.
func (o *Object) unaligned(op string) {
	smoserr.Raise(smoserr.TrackUnaligned, fmt.Sprintf("object %s: tracks disagreed during %s", o.name, op))
}

// AllocateBlock reserves one block per track for a new, uncommitted entry.
// descs must have one element per track. An implementation MAY run
// allocation under the writer lock, trading allocation/allocation
// concurrency for a simpler consistency argument; this is that choice.
func (o *Object) AllocateBlock(descs []*track.Descriptor) error {
	if len(descs) != len(o.tracks) {
		return smoserr.ErrDimensionMismatch
	}
	o.lock.EnterWriter()
	defer o.lock.LeaveWriter()

	var firstErr error
	for i, tr := range o.tracks {
		err := tr.AllocateBlock(descs[i])
		if i == 0 {
			firstErr = err
		} else if (err == nil) != (firstErr == nil) {
			o.unaligned("allocate_block")
		}
	}
	return firstErr
}

// AppendEntryConfig commits descs (previously allocated) as a new entry,
// returning the key assigned to it. All tracks must agree on the key.
func (o *Object) AppendEntryConfig(descs []*track.Descriptor) (uint64, error) {
	if len(descs) != len(o.tracks) {
		return 0, smoserr.ErrDimensionMismatch
	}
	o.lock.EnterWriter()
	defer o.lock.LeaveWriter()

	var key uint64
	for i, tr := range o.tracks {
		k, err := tr.AppendEntryConfig(descs[i])
		if err != nil {
			return 0, err
		}
		if i == 0 {
			key = k
		} else if k != key {
			o.unaligned("append_entry_config")
		}
	}
	return key, nil
}

// ReadEntryConfig returns one descriptor per track for the entry at key,
// incrementing its pending-reader count in every track.
func (o *Object) ReadEntryConfig(key uint64) ([]*track.Descriptor, error) {
	o.lock.EnterReader()
	defer o.lock.LeaveReader()

	out := make([]*track.Descriptor, len(o.tracks))
	var firstErr error
	for i, tr := range o.tracks {
		d, err := tr.ReadEntryConfig(key)
		if i == 0 {
			firstErr = err
		} else if (err == nil) != (firstErr == nil) {
			o.unaligned("read_entry_config")
		}
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, firstErr
}

// ReadLatestEntryConfig returns the common latest key and one descriptor per
// track.
func (o *Object) ReadLatestEntryConfig() (uint64, []*track.Descriptor, error) {
	o.lock.EnterReader()
	defer o.lock.LeaveReader()

	out := make([]*track.Descriptor, len(o.tracks))
	var key uint64
	for i, tr := range o.tracks {
		k, d, err := tr.ReadLatestEntryConfig()
		if err != nil {
			return 0, nil, err
		}
		if i == 0 {
			key = k
		} else if k != key {
			o.unaligned("read_latest_entry_config")
		}
		out[i] = d
	}
	return key, out, nil
}

// ReleaseReadReference decrements the pending-reader count of the entry at
// key in every track.
func (o *Object) ReleaseReadReference(key uint64) error {
	o.lock.EnterReader()
	defer o.lock.LeaveReader()

	var firstErr error
	for i, tr := range o.tracks {
		err := tr.ReleaseReadReference(key)
		if i == 0 {
			firstErr = err
		} else if (err == nil) != (firstErr == nil) {
			o.unaligned("release_read_reference")
		}
	}
	return firstErr
}

// DeleteEntryConfig removes the entry at key from every track, subject to
// the pending-reader guard unless force is set.
func (o *Object) DeleteEntryConfig(key uint64, force bool) error {
	o.lock.EnterWriter()
	defer o.lock.LeaveWriter()

	var firstErr error
	for i, tr := range o.tracks {
		err := tr.DeleteEntryConfig(key, force)
		if i == 0 {
			firstErr = err
		} else if err != firstErr {
			o.unaligned("delete_entry_config")
		}
	}
	return firstErr
}

// PopEntryConfig removes and returns the smallest live key's descriptors
// from every track. The blocks are not returned to the free pool; the
// caller owes a later FreeBlockMapping.
func (o *Object) PopEntryConfig(force bool) ([]*track.Descriptor, error) {
	o.lock.EnterWriter()
	defer o.lock.LeaveWriter()

	out := make([]*track.Descriptor, len(o.tracks))
	var firstErr error
	var firstKey uint64
	for i, tr := range o.tracks {
		key, d, err := tr.PopEntryConfig(force)
		if i == 0 {
			firstErr = err
			firstKey = key
		} else if (err == nil) != (firstErr == nil) {
			o.unaligned("pop_entry_config")
		} else if err == nil && key != firstKey {
			o.unaligned("pop_entry_config")
		}
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// FreeBlockMapping returns the blocks named by descs (one per track,
// previously obtained from PopEntryConfig) to their tracks' free pools.
func (o *Object) FreeBlockMapping(descs []*track.Descriptor) error {
	if len(descs) != len(o.tracks) {
		return smoserr.ErrDimensionMismatch
	}
	o.lock.EnterWriter()
	defer o.lock.LeaveWriter()

	for i, tr := range o.tracks {
		if err := tr.FreeBlockMapping(descs[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetEntryOffset returns the per-track byte offsets for descs.
func (o *Object) GetEntryOffset(descs []*track.Descriptor) ([]int64, error) {
	if len(descs) != len(o.tracks) {
		return nil, smoserr.ErrDimensionMismatch
	}
	o.lock.EnterReader()
	defer o.lock.LeaveReader()

	out := make([]int64, len(o.tracks))
	for i, tr := range o.tracks {
		off, err := tr.GetEntryOffset(descs[i])
		if err != nil {
			return nil, err
		}
		out[i] = off
	}
	return out, nil
}

// GetShmNameList returns the underlying segment name of every track.
func (o *Object) GetShmNameList() []string {
	o.lock.EnterReader()
	defer o.lock.LeaveReader()

	out := make([]string, len(o.tracks))
	for i, tr := range o.tracks {
		out[i] = tr.SegmentName()
	}
	return out
}

// GetBlockSizeList returns the block size of every track.
func (o *Object) GetBlockSizeList() []int64 {
	o.lock.EnterReader()
	defer o.lock.LeaveReader()

	out := make([]int64, len(o.tracks))
	for i, tr := range o.tracks {
		out[i] = tr.BlockSize()
	}
	return out
}

// GetEntryCount returns the number of live entries (common across tracks).
func (o *Object) GetEntryCount() int {
	o.lock.EnterReader()
	defer o.lock.LeaveReader()
	return o.tracks[0].GetEntryCount()
}

// GetEntryIdxList returns every live entry key, sorted ascending.
func (o *Object) GetEntryIdxList() []uint64 {
	o.lock.EnterReader()
	defer o.lock.LeaveReader()
	return o.tracks[0].GetEntryIdxList()
}

// MaxCapacity returns the object's fixed max_capacity.
func (o *Object) MaxCapacity() int { return o.maxCapacity }

// Stop stops every track, unlinking their segments. Irreversible.
func (o *Object) Stop() error {
	o.lock.EnterWriter()
	defer o.lock.LeaveWriter()

	var firstErr error
	for _, tr := range o.tracks {
		if err := tr.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
