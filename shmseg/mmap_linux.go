//go:build linux
// +build linux

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

func fallocate(f *os.File, size int64) error {
	return syscall.Fallocate(int(f.Fd()), 0, 0, size)
}
