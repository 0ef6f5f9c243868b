// Package store implements Store, the process-wide catalog of Objects
// (SPEC_FULL.md §4.3). Store owns a name -> *object.Object map guarded by
// its own fair reader/writer lock, distinct from and acquired before any
// Object's own lock: create/remove/stop take the writer side, every other
// operation takes the reader side, looks the name up, and delegates.
package store

import (
	"fmt"
	"log"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/AntonyMei/SharedMemoryObjectStore/object"
	"github.com/AntonyMei/SharedMemoryObjectStore/rwlock"
	"github.com/AntonyMei/SharedMemoryObjectStore/smoserr"
	"github.com/AntonyMei/SharedMemoryObjectStore/track"
)

// Store is the top-level catalog of named objects.
type Store struct {
	lock    rwlock.FairRWLock
	objects map[string]*object.Object
	log     *log.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger installs a logger for catalog-level events (create, remove).
// A nil logger (the default) discards all output.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{objects: make(map[string]*object.Object)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// Create registers a new object under name, failing with ErrAlreadyExists if
// the name is taken.
func (s *Store) Create(name string, maxCapacity int, blockSizeList []int64, trackNameList []string) error {
	s.lock.EnterWriter()
	defer s.lock.LeaveWriter()

	if _, ok := s.objects[name]; ok {
		return smoserr.ErrAlreadyExists
	}
	obj, err := object.New(name, maxCapacity, blockSizeList, trackNameList)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", name, err)
	}
	s.objects[name] = obj
	s.logf("store: created object %q (capacity=%d tracks=%d)", name, maxCapacity, len(blockSizeList))
	return nil
}

// Remove stops and unregisters the object named name, failing with
// ErrNotFound if it does not exist.
func (s *Store) Remove(name string) error {
	s.lock.EnterWriter()
	defer s.lock.LeaveWriter()

	obj, ok := s.objects[name]
	if !ok {
		return smoserr.ErrNotFound
	}
	if err := obj.Stop(); err != nil {
		return fmt.Errorf("store: remove %s: %w", name, err)
	}
	delete(s.objects, name)
	s.logf("store: removed object %q", name)
	return nil
}

// lookup returns the named object under the reader side of the store lock.
// Callers must hold s.lock for reading before calling it.
func (s *Store) lookup(name string) (*object.Object, error) {
	obj, ok := s.objects[name]
	if !ok {
		return nil, smoserr.ErrNotFound
	}
	return obj, nil
}

// AllocateBlock delegates to the named object's AllocateBlock.
func (s *Store) AllocateBlock(name string, descs []*track.Descriptor) error {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return err
	}
	return obj.AllocateBlock(descs)
}

// AppendEntryConfig delegates to the named object's AppendEntryConfig.
func (s *Store) AppendEntryConfig(name string, descs []*track.Descriptor) (uint64, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	return obj.AppendEntryConfig(descs)
}

// ReadEntryConfig delegates to the named object's ReadEntryConfig.
func (s *Store) ReadEntryConfig(name string, key uint64) ([]*track.Descriptor, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return obj.ReadEntryConfig(key)
}

// ReadLatestEntryConfig delegates to the named object's ReadLatestEntryConfig.
func (s *Store) ReadLatestEntryConfig(name string) (uint64, []*track.Descriptor, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return 0, nil, err
	}
	return obj.ReadLatestEntryConfig()
}

// BatchReadEntryConfig reads every key in keys under one acquisition of the
// store's reader lock. If a key is missing it returns the error immediately;
// reader references already taken on earlier keys in the batch are not
// rolled back (SPEC_FULL.md §E, following the reference implementation),
// callers that observe a partial failure should assume those references
// leaked and release what they know to exist.
func (s *Store) BatchReadEntryConfig(name string, keys []uint64) ([][]*track.Descriptor, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	out := make([][]*track.Descriptor, len(keys))
	for i, key := range keys {
		descs, err := obj.ReadEntryConfig(key)
		if err != nil {
			return nil, fmt.Errorf("store: batch read %s key %d: %w", name, key, err)
		}
		out[i] = descs
	}
	return out, nil
}

// ReleaseReadReference delegates to the named object's ReleaseReadReference.
func (s *Store) ReleaseReadReference(name string, key uint64) error {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return err
	}
	return obj.ReleaseReadReference(key)
}

// DeleteEntryConfig delegates to the named object's DeleteEntryConfig.
func (s *Store) DeleteEntryConfig(name string, key uint64, force bool) error {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return err
	}
	return obj.DeleteEntryConfig(key, force)
}

// PopEntryConfig delegates to the named object's PopEntryConfig.
func (s *Store) PopEntryConfig(name string, force bool) ([]*track.Descriptor, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return obj.PopEntryConfig(force)
}

// FreeBlockMapping delegates to the named object's FreeBlockMapping.
func (s *Store) FreeBlockMapping(name string, descs []*track.Descriptor) error {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return err
	}
	return obj.FreeBlockMapping(descs)
}

// GetEntryOffset delegates to the named object's GetEntryOffset.
func (s *Store) GetEntryOffset(name string, descs []*track.Descriptor) ([]int64, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return obj.GetEntryOffset(descs)
}

// BatchGetEntryOffset returns one offset list per element of descLists.
func (s *Store) BatchGetEntryOffset(name string, descLists [][]*track.Descriptor) ([][]int64, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	out := make([][]int64, len(descLists))
	for i, descs := range descLists {
		offs, err := obj.GetEntryOffset(descs)
		if err != nil {
			return nil, fmt.Errorf("store: batch offset %s entry %d: %w", name, i, err)
		}
		out[i] = offs
	}
	return out, nil
}

// GetBlockSizeList delegates to the named object's GetBlockSizeList.
func (s *Store) GetBlockSizeList(name string) ([]int64, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return obj.GetBlockSizeList(), nil
}

// GetShmNameList delegates to the named object's GetShmNameList.
func (s *Store) GetShmNameList(name string) ([]string, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return obj.GetShmNameList(), nil
}

// GetMaxCapacity delegates to the named object's MaxCapacity, which a client
// needs (together with GetBlockSizeList) to compute a track's total segment
// size before calling shmseg.Open.
func (s *Store) GetMaxCapacity(name string) (int, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	return obj.MaxCapacity(), nil
}

// GetTrackCount delegates to the named object's TrackCount.
func (s *Store) GetTrackCount(name string) (int, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	return obj.TrackCount(), nil
}

// GetEntryCount delegates to the named object's GetEntryCount.
func (s *Store) GetEntryCount(name string) (int, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	return obj.GetEntryCount(), nil
}

// GetEntryIdxList delegates to the named object's GetEntryIdxList.
func (s *Store) GetEntryIdxList(name string) ([]uint64, error) {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()
	obj, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return obj.GetEntryIdxList(), nil
}

// Profile snapshot of one cataloged object, returned by Profile.
type Profile struct {
	Name       string
	EntryCount int
	Capacity   int
}

// Profile returns a snapshot of every object's (name, entry_count, capacity)
// under the reader side of the store lock, sorted by name for stable
// operator output.
func (s *Store) Profile() []Profile {
	s.lock.EnterReader()
	defer s.lock.LeaveReader()

	out := make([]Profile, 0, len(s.objects))
	for name, obj := range s.objects {
		out = append(out, Profile{
			Name:       name,
			EntryCount: obj.GetEntryCount(),
			Capacity:   obj.MaxCapacity(),
		})
	}
	slices.SortFunc(out, func(a, b Profile) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Stop stops every cataloged object. The store must not be used after Stop
// returns; the lock is left held in its final writer-acquired state for the
// duration of the call and never released for further use.
func (s *Store) Stop() error {
	s.lock.EnterWriter()

	var firstErr error
	for name, obj := range s.objects {
		if err := obj.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store: stop %s: %w", name, err)
		}
	}
	s.objects = make(map[string]*object.Object)
	return firstErr
}
