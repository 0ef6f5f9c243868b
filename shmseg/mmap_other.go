//go:build !linux && !darwin
// +build !linux,!darwin

package shmseg

import (
	"io"
	"os"
)

// On platforms without a syscall.Mmap binding, fall back to an in-process
// buffer that is flushed back to the backing file on unmap. This is not a
// true shared mapping. SMOS is single-host by construction but the
// reference build targets are linux/darwin; this fallback exists only so
// the module still compiles elsewhere.
func mmap(f *os.File, size int64, ro bool) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

func unmap(f *os.File, buf []byte) error {
	_, err := f.WriteAt(buf, 0)
	return err
}

func fallocate(f *os.File, size int64) error {
	return nil
}
