package binfmt

import (
	"encoding/binary"
	"fmt"
)

// ErrMagicMismatch means the file's stored magic number did not match the
// expected value for its format; per spec.md §7, callers treat this
// identically to the file being absent.
var ErrMagicMismatch = fmt.Errorf("binfmt: magic mismatch")

// CheckMagic reads the little-endian uint32 at the start of data and
// compares it against rawMagic^MagicXOR, returning the data that follows
// it (the mapped body) on success.
func CheckMagic(data []byte, rawMagic uint32) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrMagicMismatch
	}
	got := binary.LittleEndian.Uint32(data[:4])
	if got != rawMagic^MagicXOR {
		return nil, ErrMagicMismatch
	}
	return data[4:], nil
}

// Ptr32 is a self-relative 32-bit pointer as stored at offset `at` within
// a memory-mapped file: the signed delta from `at` to the target, with
// delta 0 read back as a null pointer.
type Ptr32 int32

// IsNull reports whether the pointer encodes as null (delta 0).
func (p Ptr32) IsNull() bool { return p == 0 }

// Resolve returns the absolute file offset the pointer at position `at`
// refers to, or ok=false if the pointer is null.
func (p Ptr32) Resolve(at int64) (target int64, ok bool) {
	if p.IsNull() {
		return 0, false
	}
	return at + int64(p), true
}

// ReadPtr32 reads a Ptr32 from data at byte offset off.
func ReadPtr32(data []byte, off int64) Ptr32 {
	return Ptr32(int32(binary.LittleEndian.Uint32(data[off : off+4])))
}

// ReadArrayHeader reads a FrozenArray<T> header ({int32 count; ptr32
// elem0}) at byte offset off, returning the element count and the
// absolute file offset of element zero (ok=false, offset meaningless, if
// count is zero or the pointer is null).
func ReadArrayHeader(data []byte, off int64) (count int32, elemZeroOffset int64, ok bool) {
	count = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	ptrAt := off + 4
	ptr := ReadPtr32(data, ptrAt)
	target, hasTarget := ptr.Resolve(ptrAt)
	if count == 0 || !hasTarget {
		return count, 0, false
	}
	return count, target, true
}

// ReadU32 reads a little-endian uint32 at off.
func ReadU32(data []byte, off int64) uint32 {
	return binary.LittleEndian.Uint32(data[off : off+4])
}

// ReadI32 reads a little-endian int32 at off.
func ReadI32(data []byte, off int64) int32 {
	return int32(ReadU32(data, off))
}

// ReadU64 reads a little-endian uint64 at off.
func ReadU64(data []byte, off int64) uint64 {
	return binary.LittleEndian.Uint64(data[off : off+8])
}

// ReadString reads a nul-terminated string starting at off.
func ReadString(data []byte, off int64) string {
	end := off
	for data[end] != 0 {
		end++
	}
	return string(data[off:end])
}
