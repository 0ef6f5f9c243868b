package track

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dchest/siphash"
)

// segKey is a per-process random 128-bit key, generated once at startup and
// mixed with a monotonic counter to produce the random u64 tag appended to
// every segment name (SPEC_FULL.md §6 "Segment naming"). Hashing a counter
// with siphash is cheaper than a crypto/rand read per track creation and
// still gives every track in the process a distinct, unpredictable tag.
var (
	segKeyLo, segKeyHi uint64
	segCounter         uint64
)

func init() {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("track: failed to seed segment name generator: " + err.Error())
	}
	segKeyLo = binary.LittleEndian.Uint64(seed[0:8])
	segKeyHi = binary.LittleEndian.Uint64(seed[8:16])
}

// nextTag returns the next random-looking u64 tag for a segment name.
func nextTag() uint64 {
	n := atomic.AddUint64(&segCounter, 1)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	return siphash.Hash(segKeyLo, segKeyHi, buf[:])
}

// segmentName builds the "{object_name}:{track_name}_{random_u64}" name
// from SPEC_FULL.md §6, retrying with a fresh tag is the caller's
// responsibility (see New).
func segmentName(objectName, trackName string) string {
	return fmt.Sprintf("%s:%s_%d", objectName, trackName, nextTag())
}
