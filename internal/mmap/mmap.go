// Package mmap opens a file as a read-only memory-mapped byte slice, the
// access method spec.md §4 requires for the DAG, previous-state, scan
// cache, and digest cache files. On platforms without mmap support it
// falls back to reading the whole file into memory, which is
// observationally identical from the caller's point of view (a read-only
// []byte) at the cost of not sharing pages across processes.
package mmap

import "os"

// File is a read-only mapped view of a file's contents.
type File struct {
	data   []byte
	closer func() error
}

// Data returns the mapped bytes. The slice is read-only: writing to it is
// undefined behavior.
func (f *File) Data() []byte { return f.data }

// Close unmaps the file.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}

// Open maps path read-only. A missing file is reported via the returned
// error wrapping os.ErrNotExist-compatible errors (checkable with
// os.IsNotExist), which callers treat per spec.md §7 CacheOrDagMissing:
// tolerated, treated as an empty/absent file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return &File{data: nil}, nil
	}
	return openPlatform(f, fi.Size())
}
