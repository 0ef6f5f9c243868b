//go:build darwin
// +build darwin

package shmseg

import (
	"os"
	"syscall"
)

func mmap(f *os.File, size int64, ro bool) ([]byte, error) {
	prot := syscall.PROT_READ | syscall.PROT_WRITE
	if ro {
		prot = syscall.PROT_READ
	}
	return syscall.Mmap(int(f.Fd()), 0, int(size), prot, syscall.MAP_SHARED)
}

func unmap(f *os.File, buf []byte) error {
	return syscall.Munmap(buf)
}

// darwin has no fallocate(2) equivalent reachable from the syscall package;
// the preceding Truncate already extends the file to the right size, so
// there is nothing further to pre-allocate here.
func fallocate(f *os.File, size int64) error {
	return nil
}
