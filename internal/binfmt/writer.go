// Package binfmt implements the engine's segmented binary file format: an
// append-only multi-segment writer with late pointer fixup (spec.md §4.5),
// and the reader-side primitives for walking the resulting memory-mapped,
// self-relative-pointer layout (FrozenPtr, FrozenArray).
//
// Each output file is one flush of a Writer: an ordered list of Segments,
// numbered in creation order, each an independently growing byte buffer. A pointer written
// into segment A that targets an offset in segment B is resolved once, at
// Flush time, to a signed 32-bit byte delta between the two final
// positions in the concatenated file.
package binfmt

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/orcaman/writerseeker"
)

// Align is the segment alignment boundary required by spec.md §4.5.
const Align = 16

// ErrRelocationTooLarge is returned by Flush when a fixup's delta does
// not fit in a signed 32-bit integer.
type ErrRelocationTooLarge struct {
	Delta int64
}

func (e *ErrRelocationTooLarge) Error() string {
	return fmt.Sprintf("binfmt: relocation delta %d does not fit in int32", e.Delta)
}

// Target names a location inside a segment: the offset of the first byte
// of the pointed-to data.
type Target struct {
	Segment int
	Offset  int64
}

type fixup struct {
	from Target // where the pointer word itself lives
	to   Target // what it points at; a negative Segment (NullTarget) means null
}

// Segment is one append-only region of the final file.
type Segment struct {
	w      *writerseeker.WriteSeeker
	size   int64
	writer *Writer
	index  int
}

// Writer assembles an ordered list of Segments and fixes up cross-segment
// pointers at Flush time.
type Writer struct {
	magic    uint32
	segments []*Segment
	fixups   []fixup
}

// MagicXOR is the constant every frozen file format's stored magic number
// is XORed against (spec.md §4.5).
const MagicXOR = 0x7810221e

// NewWriter creates a Writer whose on-disk magic number will be
// rawMagic^MagicXOR.
func NewWriter(rawMagic uint32) *Writer {
	return &Writer{magic: rawMagic ^ MagicXOR}
}

// NewSegment appends a new, initially empty Segment and returns it.
func (w *Writer) NewSegment() *Segment {
	s := &Segment{w: &writerseeker.WriteSeeker{}, writer: w, index: len(w.segments)}
	w.segments = append(w.segments, s)
	return s
}

// Offset returns the segment-relative byte offset the next Append* call
// will write to.
func (s *Segment) Offset() int64 { return s.size }

// Target returns a Target naming the segment's current write position.
func (s *Segment) Target() Target { return Target{Segment: s.index, Offset: s.size} }

func (s *Segment) write(p []byte) {
	s.w.Write(p)
	s.size += int64(len(p))
}

// AppendBytes appends raw bytes verbatim.
func (s *Segment) AppendBytes(p []byte) { s.write(p) }

// AppendU8 appends a single byte.
func (s *Segment) AppendU8(v uint8) { s.write([]byte{v}) }

// AppendU32 appends a little-endian uint32.
func (s *Segment) AppendU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.write(b[:])
}

// AppendI32 appends a little-endian int32.
func (s *Segment) AppendI32(v int32) { s.AppendU32(uint32(v)) }

// AppendU64 appends a little-endian uint64.
func (s *Segment) AppendU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.write(b[:])
}

// AppendString appends s's bytes followed by a single nul terminator.
func (s *Segment) AppendString(str string) {
	s.write([]byte(str))
	s.write([]byte{0})
}

// AppendPointer reserves a 4-byte pointer word at the segment's current
// position and records a fixup that will rewrite it at Flush time to the
// signed delta from this word's final file offset to target's. The
// NullTarget() sentinel (Segment -1) encodes as the literal value 0,
// which the reader interprets as a null pointer.
func (s *Segment) AppendPointer(target Target) {
	from := s.Target()
	s.writer.fixups = append(s.writer.fixups, fixup{from: from, to: target})
	s.AppendU32(0) // placeholder, rewritten during Flush
}

// NullTarget returns the sentinel Target meaning "no target" (encodes as
// delta 0).
func NullTarget() Target { return Target{Segment: -1} }

// AppendArray appends a FrozenArray header {int32 count; ptr32 elem0} for
// an array of count elements starting at elemZero. If count is zero,
// elemZero is ignored and a null pointer is written.
func (s *Segment) AppendArray(count int, elemZero Target) {
	s.AppendI32(int32(count))
	if count == 0 {
		s.AppendPointer(NullTarget())
	} else {
		s.AppendPointer(elemZero)
	}
}

// pad appends zero bytes until size is a multiple of Align.
func (s *Segment) pad() {
	for s.size%Align != 0 {
		s.write([]byte{0})
	}
}

// Flush computes segment offsets, resolves all fixups, and writes the
// magic number followed by every segment (in index order, 16-byte
// aligned) to w.
func (wr *Writer) Flush(w io.Writer) error {
	for _, s := range wr.segments {
		s.pad()
	}

	globalOffset := make([]int64, len(wr.segments))
	var running int64
	for i, s := range wr.segments {
		globalOffset[i] = running
		running += s.size
	}

	// apply fixups by seeking back into each segment's in-memory buffer.
	for _, fx := range wr.fixups {
		var delta int64
		if fx.to.Segment < 0 {
			delta = 0
		} else {
			sourceGlobal := globalOffset[fx.from.Segment] + fx.from.Offset
			targetGlobal := globalOffset[fx.to.Segment] + fx.to.Offset
			delta = targetGlobal - sourceGlobal
		}
		if delta > 1<<31-1 || delta < -(1<<31) {
			return &ErrRelocationTooLarge{Delta: delta}
		}
		seg := wr.segments[fx.from.Segment]
		if _, err := seg.w.Seek(fx.from.Offset, io.SeekStart); err != nil {
			return err
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(delta)))
		if _, err := seg.w.Write(b[:]); err != nil {
			return err
		}
		if _, err := seg.w.Seek(0, io.SeekEnd); err != nil {
			return err
		}
	}

	var magicBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], wr.magic)
	if _, err := w.Write(magicBuf[:]); err != nil {
		return err
	}
	for _, s := range wr.segments {
		r, err := s.w.Reader()
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, r); err != nil {
			return err
		}
	}
	return nil
}

// FlushFile is a convenience wrapper that flushes to a temp file in dir
// and atomically renames it over dir/name on success. The temp file's
// name is chosen by renameio.TempFile; it is not <name>.tmp. The temp
// file is removed on failure. This uses the same rename-based commit primitive
// (github.com/google/renameio) the teacher uses for its package database
// writes.
func FlushFile(wr *Writer, dir, name string) error {
	path := filepath.Join(dir, name)
	t, err := renameio.TempFile(dir, path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if err := wr.Flush(t); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
