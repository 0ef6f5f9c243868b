// Package coordinator exposes a store.Store over a local-network RPC
// channel (SPEC_FULL.md §4, §5 cancellation/ordering notes) so that worker
// processes can reach a store living in a different process. It is
// structured the way tenant.Manager structures its own control channel: a
// net.Listener accepting one goroutine per connection, a small
// connection-level handshake, and a serialized request/response protocol
// on top. Where tenant/tnproto hand-rolls an ion-encoded wire format tied to
// the query-plan IR, SMOS has no such IR to reuse, so Request/Response here
// are plain structs framed with encoding/gob, the same "roll your own
// wire format instead of adopting a generic RPC framework" choice the
// teacher made, carried over without pulling in an unrelated RPC stack.
package coordinator

import (
	"github.com/google/uuid"

	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
	"github.com/AntonyMei/SharedMemoryObjectStore/store"
	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

// Op identifies which Store method a Request invokes.
type Op string

const (
	OpCreate                Op = "create"
	OpRemove                Op = "remove"
	OpAllocateBlock         Op = "allocate_block"
	OpAppendEntryConfig     Op = "append_entry_config"
	OpReadEntryConfig       Op = "read_entry_config"
	OpReadLatestEntryConfig Op = "read_latest_entry_config"
	OpBatchReadEntryConfig  Op = "batch_read_entry_config"
	OpReleaseReadReference  Op = "release_read_reference"
	OpDeleteEntryConfig     Op = "delete_entry_config"
	OpPopEntryConfig        Op = "pop_entry_config"
	OpFreeBlockMapping      Op = "free_block_mapping"
	OpGetEntryOffset        Op = "get_entry_offset"
	OpBatchGetEntryOffset   Op = "batch_get_entry_offset"
	OpGetBlockSizeList      Op = "get_block_size_list"
	OpGetShmNameList        Op = "get_shm_name_list"
	OpGetMaxCapacity        Op = "get_max_capacity"
	OpGetTrackCount         Op = "get_track_count"
	OpGetEntryCount         Op = "get_entry_count"
	OpGetEntryIdxList       Op = "get_entry_idx_list"
	OpProfile               Op = "profile"
	OpStop                  Op = "stop"
)

// Request is one RPC call. Only the fields relevant to Op are populated;
// the rest carry their zero value and are ignored by the server.
type Request struct {
	ID   uuid.UUID
	Op   Op
	Name string

	MaxCapacity   int
	BlockSizeList []int64
	TrackNameList []string

	Descs     []*track.Descriptor
	DescLists [][]*track.Descriptor

	Key   uint64
	Keys  []uint64
	Force bool
}

// Response is the reply to a Request carrying the same ID. Err is the empty
// string on success; see errorToWire/wireToError for the sentinel mapping.
type Response struct {
	ID  uuid.UUID
	Err string

	Key         uint64
	Descs       []*track.Descriptor
	DescLists   [][]*track.Descriptor
	Offsets     []int64
	OffsetLists [][]int64
	Names       []string
	Sizes       []int64
	Count       int
	Keys        []uint64
	Profiles    []store.Profile
}

// wireErrors lists every sentinel error that must survive a round trip
// through the wire as the same value, so errors.Is keeps working for a
// client talking to a remote store exactly as it does for an in-process one.
// Faults never appear here: Server.dispatch panics on one rather than
// returning it, and nothing on the connection goroutine recovers the panic,
// so the server process terminates before a Response is ever encoded.
var wireErrors = []error{
	smoserr.ErrNoFreeBlock,
	smoserr.ErrNoSuchEntry,
	smoserr.ErrEmpty,
	smoserr.ErrPermissionDenied,
	smoserr.ErrKeySpaceExhausted,
	smoserr.ErrAlreadyExists,
	smoserr.ErrNotFound,
	smoserr.ErrDimensionMismatch,
	smoserr.ErrInputType,
	smoserr.ErrPortBusy,
}

func errorToWire(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func wireToError(s string) error {
	if s == "" {
		return nil
	}
	for _, sentinel := range wireErrors {
		if sentinel.Error() == s {
			return sentinel
		}
	}
	return errString(s)
}

// errString is a plain error for a server-side failure with no matching
// sentinel (e.g. a wrapped fmt.Errorf message); it loses errors.Is identity
// but preserves the message for logging.
type errString string

func (e errString) Error() string { return string(e) }
