package coordinator

import (
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

// handshakeRetries bounds the number of times Dial retries after a
// transient handshake failure before giving up, per SPEC_FULL.md §5's
// "bounded retry for transient endpoint-handshake failures" note.
const handshakeRetries = 3

// connectionRefusedRetryInterval is how long Dial waits between attempts
// while the coordinator has not started listening yet. It retries
// indefinitely in that case, since a client has no way to know whether the
// coordinator is merely slow to start or never will.
const connectionRefusedRetryInterval = time.Second

// Conn is a client connection to a coordinator Server. It implements
// client.Backend, so a client.Handle can be driven over the wire exactly
// as it drives an in-process *store.Store.
type Conn struct {
	conn    net.Conn
	authkey []byte
	mu      sync.Mutex
	enc     *gob.Encoder
	dec     *gob.Decoder
}

// Dial connects to a coordinator Server at addr, retrying forever at
// connectionRefusedRetryInterval while the connection is refused (the
// server has not started yet), and retrying up to handshakeRetries times on
// a transient handshake mismatch before returning ErrHandshakeMismatch.
func Dial(addr string, authkey []byte) (*Conn, error) {
	handshakeFailures := 0
	for {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			if isConnRefused(err) {
				time.Sleep(connectionRefusedRetryInterval)
				continue
			}
			return nil, fmt.Errorf("coordinator: dial %s: %w", addr, err)
		}

		if err := clientHandshake(conn, authkey); err != nil {
			conn.Close()
			if handshakeFailures < handshakeRetries {
				handshakeFailures++
				continue
			}
			return nil, fmt.Errorf("coordinator: handshake with %s failed after %d attempts: %w",
				addr, handshakeRetries+1, err)
		}

		return &Conn{
			conn:    conn,
			authkey: authkey,
			enc:     gob.NewEncoder(conn),
			dec:     gob.NewDecoder(conn),
		}, nil
	}
}

func clientHandshake(conn net.Conn, authkey []byte) error {
	challenge := make([]byte, challengeSize)
	if _, err := readFull(conn, challenge); err != nil {
		return err
	}
	resp, err := digest(authkey, challenge)
	if err != nil {
		return err
	}
	if _, err := conn.Write(resp); err != nil {
		return err
	}

	ack := make([]byte, 1)
	if _, err := readFull(conn, ack); err != nil {
		return err
	}
	if ack[0] != 1 {
		return ErrHandshakeMismatch
	}
	return nil
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) roundTrip(req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req.ID = uuid.New()
	if err := c.enc.Encode(req); err != nil {
		return nil, fmt.Errorf("coordinator: sending request: %w", err)
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("coordinator: reading response: %w", err)
	}
	return &resp, wireToError(resp.Err)
}

func (c *Conn) call(req *Request) (*Response, error) {
	resp, err := c.roundTrip(req)
	if resp == nil {
		return nil, err
	}
	return resp, err
}

// Create registers a new object on the remote store.
func (c *Conn) Create(name string, maxCapacity int, blockSizeList []int64, trackNameList []string) error {
	_, err := c.call(&Request{Op: OpCreate, Name: name, MaxCapacity: maxCapacity, BlockSizeList: blockSizeList, TrackNameList: trackNameList})
	return err
}

// Remove stops and unregisters a remote object.
func (c *Conn) Remove(name string) error {
	_, err := c.call(&Request{Op: OpRemove, Name: name})
	return err
}

// AllocateBlock satisfies client.Backend.
func (c *Conn) AllocateBlock(name string, descs []*track.Descriptor) error {
	resp, err := c.call(&Request{Op: OpAllocateBlock, Name: name, Descs: descs})
	if err != nil {
		return err
	}
	copy(descs, resp.Descs)
	return nil
}

// AppendEntryConfig satisfies client.Backend.
func (c *Conn) AppendEntryConfig(name string, descs []*track.Descriptor) (uint64, error) {
	resp, err := c.call(&Request{Op: OpAppendEntryConfig, Name: name, Descs: descs})
	if err != nil {
		return 0, err
	}
	return resp.Key, nil
}

// ReadEntryConfig satisfies client.Backend.
func (c *Conn) ReadEntryConfig(name string, key uint64) ([]*track.Descriptor, error) {
	resp, err := c.call(&Request{Op: OpReadEntryConfig, Name: name, Key: key})
	if err != nil {
		return nil, err
	}
	return resp.Descs, nil
}

// ReadLatestEntryConfig satisfies client.Backend.
func (c *Conn) ReadLatestEntryConfig(name string) (uint64, []*track.Descriptor, error) {
	resp, err := c.call(&Request{Op: OpReadLatestEntryConfig, Name: name})
	if err != nil {
		return 0, nil, err
	}
	return resp.Key, resp.Descs, nil
}

// BatchReadEntryConfig satisfies client.Backend.
func (c *Conn) BatchReadEntryConfig(name string, keys []uint64) ([][]*track.Descriptor, error) {
	resp, err := c.call(&Request{Op: OpBatchReadEntryConfig, Name: name, Keys: keys})
	if err != nil {
		return nil, err
	}
	return resp.DescLists, nil
}

// ReleaseReadReference satisfies client.Backend.
func (c *Conn) ReleaseReadReference(name string, key uint64) error {
	_, err := c.call(&Request{Op: OpReleaseReadReference, Name: name, Key: key})
	return err
}

// DeleteEntryConfig removes the entry at key from the remote object, subject
// to the pending-reader guard unless force is set.
func (c *Conn) DeleteEntryConfig(name string, key uint64, force bool) error {
	_, err := c.call(&Request{Op: OpDeleteEntryConfig, Name: name, Key: key, Force: force})
	return err
}

// PopEntryConfig satisfies client.Backend.
func (c *Conn) PopEntryConfig(name string, force bool) ([]*track.Descriptor, error) {
	resp, err := c.call(&Request{Op: OpPopEntryConfig, Name: name, Force: force})
	if err != nil {
		return nil, err
	}
	return resp.Descs, nil
}

// FreeBlockMapping satisfies client.Backend.
func (c *Conn) FreeBlockMapping(name string, descs []*track.Descriptor) error {
	_, err := c.call(&Request{Op: OpFreeBlockMapping, Name: name, Descs: descs})
	return err
}

// GetEntryOffset satisfies client.Backend.
func (c *Conn) GetEntryOffset(name string, descs []*track.Descriptor) ([]int64, error) {
	resp, err := c.call(&Request{Op: OpGetEntryOffset, Name: name, Descs: descs})
	if err != nil {
		return nil, err
	}
	return resp.Offsets, nil
}

// BatchGetEntryOffset returns one offset list per entry in descLists.
func (c *Conn) BatchGetEntryOffset(name string, descLists [][]*track.Descriptor) ([][]int64, error) {
	resp, err := c.call(&Request{Op: OpBatchGetEntryOffset, Name: name, DescLists: descLists})
	if err != nil {
		return nil, err
	}
	return resp.OffsetLists, nil
}

// GetBlockSizeList satisfies client.Backend.
func (c *Conn) GetBlockSizeList(name string) ([]int64, error) {
	resp, err := c.call(&Request{Op: OpGetBlockSizeList, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Sizes, nil
}

// GetShmNameList satisfies client.Backend.
func (c *Conn) GetShmNameList(name string) ([]string, error) {
	resp, err := c.call(&Request{Op: OpGetShmNameList, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// GetMaxCapacity satisfies client.Backend.
func (c *Conn) GetMaxCapacity(name string) (int, error) {
	resp, err := c.call(&Request{Op: OpGetMaxCapacity, Name: name})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// GetTrackCount returns track_count for the named remote object.
func (c *Conn) GetTrackCount(name string) (int, error) {
	resp, err := c.call(&Request{Op: OpGetTrackCount, Name: name})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// GetEntryCount returns the live entry count for the named remote object.
func (c *Conn) GetEntryCount(name string) (int, error) {
	resp, err := c.call(&Request{Op: OpGetEntryCount, Name: name})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// GetEntryIdxList returns the sorted live key list for the named remote
// object.
func (c *Conn) GetEntryIdxList(name string) ([]uint64, error) {
	resp, err := c.call(&Request{Op: OpGetEntryIdxList, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// Profile returns a catalog snapshot from the remote store.
func (c *Conn) Profile() ([]ProfileEntry, error) {
	resp, err := c.call(&Request{Op: OpProfile})
	if err != nil {
		return nil, err
	}
	out := make([]ProfileEntry, len(resp.Profiles))
	for i, p := range resp.Profiles {
		out[i] = ProfileEntry{Name: p.Name, EntryCount: p.EntryCount, Capacity: p.Capacity}
	}
	return out, nil
}

// ProfileEntry mirrors store.Profile without importing the store package
// into client-facing code that only needs the coordinator.
type ProfileEntry struct {
	Name       string
	EntryCount int
	Capacity   int
}

// Stop asks the remote store to stop every object it holds.
func (c *Conn) Stop() error {
	_, err := c.call(&Request{Op: OpStop})
	return err
}
