package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
	"github.com/AntonyMei/SharedMemoryObjectStore/store"
)

// challengeSize is the number of random bytes the server sends the client
// to authenticate against, mirroring the role multiprocessing.managers'
// authkey handshake plays in the reference implementation.
const challengeSize = 32

// ErrHandshakeMismatch is returned when a connection's authkey response
// does not match the expected digest. SPEC_FULL.md §5 describes this as a
// transient endpoint-handshake failure that the client retries a bounded
// number of times before giving up. See Dial.
var ErrHandshakeMismatch = errors.New("coordinator: handshake digest mismatch")

// Server exposes one store.Store over a TCP listener scoped to a port
// range, keyed by an authkey every client must present.
type Server struct {
	store   *store.Store
	authkey []byte
	log     *log.Logger

	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger installs a logger for connection-level diagnostics. A nil
// logger (the default) discards all output.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New constructs a Server bound to st, authenticating connections against
// authkey. It does not start listening; call Listen then Serve.
func New(st *store.Store, authkey []byte, opts ...Option) *Server {
	s := &Server{store: st, authkey: authkey, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// Listen scans [portLow, portHigh] on ip and binds the first free port,
// returning the bound address. It returns smoserr.ErrPortBusy if every port
// in the range is already taken.
func (s *Server) Listen(ip string, portLow, portHigh int) (string, error) {
	for port := portLow; port <= portHigh; port++ {
		addr := fmt.Sprintf("%s:%d", ip, port)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		s.listener = l
		return l.Addr().String(), nil
	}
	return "", smoserr.ErrPortBusy
}

// Addr returns the address Listen bound to, or the empty string if Listen
// has not been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until Stop is called, handling each on its own
// goroutine. It blocks until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Stop closes the listener, then waits for every accepted connection's
// goroutine to exit, up to ctx's deadline, the same bounded-drain shape as
// http.Server.Shutdown(ctx). Stop does not close accepted connections; a
// connection goroutine exits only when its client closes the connection or
// a read or write on it fails. It does not stop the underlying store; call
// store.Stop separately.
func (s *Server) Stop(ctx context.Context) error {
	close(s.done)
	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return closeErr
	case <-ctx.Done():
		if closeErr != nil {
			return closeErr
		}
		return ctx.Err()
	}
}

func (s *Server) handshake(conn net.Conn) bool {
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		s.logf("coordinator: generating challenge: %v", err)
		return false
	}
	if _, err := conn.Write(challenge); err != nil {
		s.logf("coordinator: writing challenge: %v", err)
		return false
	}

	want, err := digest(s.authkey, challenge)
	if err != nil {
		s.logf("coordinator: computing handshake digest: %v", err)
		return false
	}
	got := make([]byte, len(want))
	if _, err := readFull(conn, got); err != nil {
		s.logf("coordinator: reading handshake response: %v", err)
		return false
	}
	ok := bytesEqual(got, want)
	ack := []byte{0}
	if ok {
		ack[0] = 1
	}
	if _, err := conn.Write(ack); err != nil {
		s.logf("coordinator: writing handshake ack: %v", err)
		return false
	}
	if !ok {
		s.logf("coordinator: handshake mismatch from %s", conn.RemoteAddr())
	}
	return ok
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	if !s.handshake(conn) {
		return
	}

	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(&req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req *Request) *Response {
	resp := &Response{ID: req.ID}
	var err error
	switch req.Op {
	case OpCreate:
		err = s.store.Create(req.Name, req.MaxCapacity, req.BlockSizeList, req.TrackNameList)
	case OpRemove:
		err = s.store.Remove(req.Name)
	case OpAllocateBlock:
		err = s.store.AllocateBlock(req.Name, req.Descs)
		resp.Descs = req.Descs
	case OpAppendEntryConfig:
		resp.Key, err = s.store.AppendEntryConfig(req.Name, req.Descs)
	case OpReadEntryConfig:
		resp.Descs, err = s.store.ReadEntryConfig(req.Name, req.Key)
	case OpReadLatestEntryConfig:
		resp.Key, resp.Descs, err = s.store.ReadLatestEntryConfig(req.Name)
	case OpBatchReadEntryConfig:
		resp.DescLists, err = s.store.BatchReadEntryConfig(req.Name, req.Keys)
	case OpReleaseReadReference:
		err = s.store.ReleaseReadReference(req.Name, req.Key)
	case OpDeleteEntryConfig:
		err = s.store.DeleteEntryConfig(req.Name, req.Key, req.Force)
	case OpPopEntryConfig:
		resp.Descs, err = s.store.PopEntryConfig(req.Name, req.Force)
	case OpFreeBlockMapping:
		err = s.store.FreeBlockMapping(req.Name, req.Descs)
	case OpGetEntryOffset:
		resp.Offsets, err = s.store.GetEntryOffset(req.Name, req.Descs)
	case OpBatchGetEntryOffset:
		resp.OffsetLists, err = s.store.BatchGetEntryOffset(req.Name, req.DescLists)
	case OpGetBlockSizeList:
		resp.Sizes, err = s.store.GetBlockSizeList(req.Name)
	case OpGetShmNameList:
		resp.Names, err = s.store.GetShmNameList(req.Name)
	case OpGetMaxCapacity:
		resp.Count, err = s.store.GetMaxCapacity(req.Name)
	case OpGetTrackCount:
		resp.Count, err = s.store.GetTrackCount(req.Name)
	case OpGetEntryCount:
		resp.Count, err = s.store.GetEntryCount(req.Name)
	case OpGetEntryIdxList:
		resp.Keys, err = s.store.GetEntryIdxList(req.Name)
	case OpProfile:
		resp.Profiles = s.store.Profile()
	case OpStop:
		err = s.store.Stop()
	default:
		// Every Request this server ever decodes was built by this
		// module's own Op constants; reaching here means the wire
		// protocol itself is corrupt or out of sync with a future
		// version, not an ordinary client mistake.
		smoserr.Raise(smoserr.ServerDropOut, fmt.Sprintf("coordinator: dispatch reached default case for op %q", req.Op))
	}
	resp.Err = errorToWire(err)
	return resp
}

func digest(authkey, challenge []byte) ([]byte, error) {
	h, err := blake2b.New256(authkey)
	if err != nil {
		return nil, fmt.Errorf("coordinator: authkey rejected by blake2b: %w", err)
	}
	h.Write(challenge)
	return h.Sum(nil), nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
