// Package shmseg wraps the POSIX named shared-memory segment underneath one
// Track: creation, mapping, and unlinking. It is the only package in this
// module that talks to the operating system's shared-memory namespace
// directly; everything above it (track, object, store) manipulates
// *descriptions* of segments and never touches the bytes.
//
// Segment names collide across independent objects that happen to share a
// base name; Create fails if the name is already taken, and track.New
// retries with a freshly generated name in that case, which is what lets
// two objects named identically coexist briefly during destructive
// replacement (see SPEC_FULL.md §B, track naming).
package shmseg

import (
	"fmt"
	"os"

	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
)

// dir is the POSIX shared-memory directory. It is a var, not a const, so
// tests can redirect it to a scratch directory without touching the real
// /dev/shm namespace.
var dir = "/dev/shm"

// SetDir overrides the shared-memory directory and returns a function that
// restores the previous value. Intended for tests in this module and
// dependents that want to avoid touching the real /dev/shm namespace.
func SetDir(path string) (restore func()) {
	prev := dir
	dir = path
	return func() { dir = prev }
}

// Segment is a memory-mapped, named shared-memory region.
type Segment struct {
	name string
	file *os.File
	size int64
	mem  []byte
}

// path returns the filesystem path backing the named segment.
func path(name string) string {
	return dir + "/" + name
}

// Create creates a brand-new segment of exactly size bytes, failing if the
// name is already taken. The returned Segment owns a read-write mapping.
func Create(name string, size int64) (*Segment, error) {
	f, err := os.OpenFile(path(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path(name))
		return nil, err
	}
	if err := fallocate(f, size); err != nil {
		f.Close()
		os.Remove(path(name))
		return nil, err
	}
	mem, err := mmap(f, size, false)
	if err != nil {
		f.Close()
		os.Remove(path(name))
		return nil, err
	}
	return &Segment{name: name, file: f, size: size, mem: mem}, nil
}

// Open maps an already-existing segment of the given size. Clients use Open
// to map a segment whose name, offset, and geometry were handed to them by
// the coordinator; the store process never calls Open on its own segments
// after Create.
func Open(name string, size int64, writable bool) (*Segment, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path(name), flags, 0)
	if err != nil {
		return nil, err
	}
	mem, err := mmap(f, size, !writable)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Segment{name: name, file: f, size: size, mem: mem}, nil
}

// Name returns the segment's backing name.
func (s *Segment) Name() string { return s.name }

// Size returns the segment's total byte size.
func (s *Segment) Size() int64 { return s.size }

// Bytes returns the raw mapped memory. Callers must not retain the slice
// past a call to Close.
func (s *Segment) Bytes() []byte { return s.mem }

// Slice returns the sub-slice of the mapping covering one block, given the
// block's byte offset within the segment and its length. It raises a MappingError Fault if
// the requested range falls outside the mapping. A caller bug, not a
// recoverable condition.
func (s *Segment) Slice(offset, length int64) []byte {
	if offset < 0 || length < 0 || offset+length > s.size {
		smoserr.Raise(smoserr.MappingError, fmt.Sprintf("shmseg: slice [%d:%d) out of range for segment of size %d", offset, offset+length, s.size))
	}
	return s.mem[offset : offset+length : offset+length]
}

// Close unmaps the segment and closes the local file descriptor without
// removing the segment from the shared-memory namespace. Use Close on every
// mapping a client opens; use Unlink exactly once, from the track that owns
// the segment, when the owning object is stopped.
func (s *Segment) Close() error {
	if s.mem != nil {
		if err := unmap(s.file, s.mem); err != nil {
			s.file.Close()
			return err
		}
		s.mem = nil
	}
	return s.file.Close()
}

// Unlink removes the segment from the shared-memory namespace. Any process
// still holding a mapping observes a hard read fault on subsequent access.
// This is documented store behavior, not prevented by SMOS.
func Unlink(name string) error {
	return os.Remove(path(name))
}

// Exists reports whether a segment with the given name is already present,
// used only to decide whether a name collision should be retried with a
// freshly generated tag.
func Exists(name string) bool {
	_, err := os.Stat(path(name))
	return err == nil
}
