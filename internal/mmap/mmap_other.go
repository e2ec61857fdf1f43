//go:build !linux && !darwin

package mmap

import (
	"io"
	"os"
)

// openPlatform falls back to reading the whole file, for hosts without a
// supported mmap syscall wired up (e.g. Windows, where the equivalent is
// CreateFileMapping/MapViewOfFile; spec.md's open questions explicitly
// scope that dance as omittable for platforms without the hazard it
// defends against).
func openPlatform(f *os.File, size int64) (*File, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &File{data: data}, nil
}
