// Package codec provides the view layer between a raw mapped shared-memory
// block and the typed value a client actually wants: a numeric array view
// backed by the mapping (zero copy) or an opaque byte slice (SPEC_FULL.md
// §4.5). It also owns the two Descriptor constructors client code is meant
// to call, so callers outside the track package never build a Descriptor by
// hand.
package codec

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/exp/constraints"

	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

// NewNumericDescriptor builds a Descriptor for a typed numeric array entry
// of the given shape. The caller later writes bytes equal to the array's
// native little-endian encoding into the mapped block.
func NewNumericDescriptor(dtype track.DType, shape []int64) *track.Descriptor {
	return track.NewDescriptor(true, dtype, shape)
}

// NewOpaqueDescriptor builds a Descriptor for an opaque blob entry; the
// caller writes any self-delimiting encoding no longer than the track's
// block size into the mapped block.
func NewOpaqueDescriptor() *track.Descriptor {
	return track.NewDescriptor(false, track.DTypeInvalid, nil)
}

// ElementCount returns the total number of scalar elements a numeric
// descriptor's shape describes (the product of its dimensions).
func ElementCount(desc *track.Descriptor) int64 {
	n := int64(1)
	for _, d := range desc.Shape {
		n *= d
	}
	return n
}

// View returns the raw byte slice a descriptor occupies within block, sized
// to the descriptor's own footprint: block_size for an opaque entry, or
// element_count * dtype_size for a numeric one. It does not copy.
func View(desc *track.Descriptor, block []byte) []byte {
	if !desc.Numeric {
		return block
	}
	n := ElementCount(desc) * int64(desc.DType.Size())
	if n > int64(len(block)) {
		smoserr.Raise(smoserr.MappingError, "codec: numeric entry footprint exceeds block size")
	}
	return block[:n]
}

// ArrayView reinterprets a numeric descriptor's backing bytes as a typed
// slice of T, backed directly by the mapping: writes through the returned
// slice are visible to every other mapper of the same segment. T must match
// desc.DType's width; callers choose T based on desc.DType themselves, the
// same way the reference implementation dispatches on dtype before handing
// back a numpy view.
func ArrayView[T constraints.Integer | constraints.Float](desc *track.Descriptor, block []byte) []T {
	raw := View(desc, block)
	var zero T
	width := int(unsafe.Sizeof(zero))
	if width == 0 || len(raw)%width != 0 {
		smoserr.Raise(smoserr.MappingError, "codec: element width does not evenly divide block view")
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), len(raw)/width)
}

// PutLengthPrefixed and GetLengthPrefixed below exist for opaque-entry
// framing: a caller that wants a simple length-prefixed record inside an
// opaque block can use them instead of hand-rolling an encoding.

// PutLengthPrefixed writes a 4-byte little-endian length prefix followed by
// payload into block, returning the number of bytes written. It fails if
// the framed record would not fit.
func PutLengthPrefixed(block []byte, payload []byte) (int, error) {
	total := 4 + len(payload)
	if total > len(block) {
		return 0, smoserr.ErrDimensionMismatch
	}
	binary.LittleEndian.PutUint32(block[:4], uint32(len(payload)))
	copy(block[4:total], payload)
	return total, nil
}

// GetLengthPrefixed reads back a record written by PutLengthPrefixed.
func GetLengthPrefixed(block []byte) ([]byte, error) {
	if len(block) < 4 {
		return nil, smoserr.ErrDimensionMismatch
	}
	n := binary.LittleEndian.Uint32(block[:4])
	if int(4+n) > len(block) {
		return nil, smoserr.ErrDimensionMismatch
	}
	return block[4 : 4+n], nil
}
