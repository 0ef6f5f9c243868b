package track

// DType tags the element type of a numeric entry. The zero value is never a
// valid numeric dtype; opaque entries leave DType unset and rely on
// Numeric == false instead.
type DType int

const (
	DTypeInvalid DType = iota
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeInt64
	DTypeUint8
	DTypeUint16
	DTypeUint32
	DTypeUint64
	DTypeFloat32
	DTypeFloat64
)

// Size returns the width in bytes of one element of the dtype, or 0 for
// DTypeInvalid.
func (d DType) Size() int {
	switch d {
	case DTypeInt8, DTypeUint8:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	case DTypeInt32, DTypeUint32, DTypeFloat32:
		return 4
	case DTypeInt64, DTypeUint64, DTypeFloat64:
		return 8
	default:
		return 0
	}
}

// unallocatedBlock is the sentinel BlockIdx of a descriptor that has been
// constructed but not yet passed through Track.AllocateBlock.
const unallocatedBlock = -1

// Descriptor is the single source of truth for one entry's placement and
// type within one track: EntryDescriptor in SPEC_FULL.md §3. The bytes in
// the block it names are opaque to every component in this package; only
// the codec package and the client that wrote them interpret them.
type Descriptor struct {
	// Numeric distinguishes a typed numeric array entry (Numeric == true,
	// DType/Shape populated) from an opaque blob entry (Numeric == false).
	Numeric bool
	DType   DType
	Shape   []int64

	// TrackName is the owning track's logical "{object}:{track}" name
	// (without the segment's random tag); it is filled
	// in by Track.AllocateBlock and checked by every subsequent call that
	// takes a Descriptor back, to catch a caller accidentally mixing up
	// descriptors from different tracks (TrackMismatch).
	TrackName string

	// BlockIdx is the index of the block this entry occupies, or
	// unallocatedBlock before AllocateBlock has run.
	BlockIdx int

	// PendingReaders counts outstanding read handles on this entry. It is
	// only meaningful on the descriptor stored in a track's live-entry map;
	// copies handed back to callers are snapshots and do not track further
	// concurrent mutation.
	PendingReaders int
}

// clone returns a copy of d suitable for handing to a caller outside the
// track's own storage. Mutating the copy (e.g. via client bookkeeping)
// must never affect the canonical descriptor in the live-entry map.
func (d *Descriptor) clone() *Descriptor {
	cp := *d
	if d.Shape != nil {
		cp.Shape = append([]int64(nil), d.Shape...)
	}
	return &cp
}

// NewDescriptor constructs an unallocated descriptor ready to be passed to
// Track.AllocateBlock. Use codec.NewNumericDescriptor / codec.NewOpaqueDescriptor
// from calling code instead of constructing one directly; this constructor
// exists so the track package itself (and its tests) do not depend on codec.
func NewDescriptor(numeric bool, dtype DType, shape []int64) *Descriptor {
	return &Descriptor{
		Numeric: numeric,
		DType:   dtype,
		Shape:   shape,
		BlockIdx: unallocatedBlock,
	}
}
