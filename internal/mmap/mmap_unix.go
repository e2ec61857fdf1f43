//go:build linux || darwin

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func openPlatform(f *os.File, size int64) (*File, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &File{
		data: data,
		closer: func() error {
			return unix.Munmap(data)
		},
	}, nil
}
