// Package pathbuf implements the normalized path representation used
// throughout the engine: an absolute/relative flag, a Windows drive-letter
// segment, a count of un-cancellable leading ".." segments, and an ordered
// list of real path segments.
package pathbuf

import (
	"errors"
	"strings"
)

// MaxSegments and MaxBytes bound a Buf as required by spec.md §4.2.
const (
	MaxSegments = 64
	MaxBytes    = 512
)

// ErrPathTooLong is returned by Init/Concat when the result would exceed
// MaxSegments or MaxBytes.
var ErrPathTooLong = errors.New("pathbuf: path too long")

// Buf is a normalized path.
type Buf struct {
	Absolute     bool
	WindowsDrive bool // segment 0 is a drive letter, e.g. "C:"
	LeadingDots  int  // ".." segments before the first real segment
	Segments     []string
}

func isSeparator(c byte) bool { return c == '/' || c == '\\' }

// Init normalizes s into a Buf, collapsing "." segments, cancelling ".."
// against preceding real segments, and counting any leading ".." that
// cannot be cancelled.
func Init(s string) (Buf, error) {
	var b Buf

	rest := s
	if len(rest) >= 2 && rest[1] == ':' && isAlpha(rest[0]) {
		b.WindowsDrive = true
		b.Absolute = true
		b.Segments = append(b.Segments, rest[:2])
		rest = rest[2:]
	}
	if len(rest) > 0 && isSeparator(rest[0]) {
		b.Absolute = true
	}

	var raw []string
	start := 0
	for i := 0; i <= len(rest); i++ {
		if i == len(rest) || isSeparator(rest[i]) {
			if i > start {
				raw = append(raw, rest[start:i])
			}
			start = i + 1
		}
	}

	base := len(b.Segments) // index of first "real" segment slot (past drive)
	for _, seg := range raw {
		switch seg {
		case ".":
			continue
		case "..":
			if len(b.Segments) > base {
				b.Segments = b.Segments[:len(b.Segments)-1]
			} else if !b.Absolute {
				b.LeadingDots++
			}
			// an absolute path (or one with a drive) silently clamps at the
			// root: a ".." that would escape it is simply dropped.
		default:
			b.Segments = append(b.Segments, seg)
		}
	}

	if err := b.checkLimits(); err != nil {
		return Buf{}, err
	}
	return b, nil
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (b Buf) checkLimits() error {
	if len(b.Segments) > MaxSegments {
		return ErrPathTooLong
	}
	total := 0
	for _, seg := range b.Segments {
		total += len(seg) + 1
	}
	if total > MaxBytes {
		return ErrPathTooLong
	}
	return nil
}

// Equal reports whether a and b normalize to the same path: same
// Absolute, WindowsDrive and LeadingDots, same segment count and
// identical segment bytes.
func Equal(a, b Buf) bool {
	if a.Absolute != b.Absolute || a.WindowsDrive != b.WindowsDrive {
		return false
	}
	if a.LeadingDots != b.LeadingDots {
		return false
	}
	if len(a.Segments) != len(b.Segments) {
		return false
	}
	for i := range a.Segments {
		if a.Segments[i] != b.Segments[i] {
			return false
		}
	}
	return true
}

// driveSegIndex returns the index of the first non-drive segment, i.e. 1 if
// segment 0 is a drive letter, else 0.
func (b Buf) driveSegIndex() int {
	if b.WindowsDrive {
		return 1
	}
	return 0
}

// Concat appends b onto a, the way joining a relative path onto a base
// directory does. If b is absolute, the result is b. Otherwise, b's
// LeadingDots real segments are first popped from a (clamped at the root,
// or at the Windows drive segment if present), and then b's segments are
// appended.
func Concat(a, b Buf) (Buf, error) {
	if b.Absolute {
		return b, nil
	}

	result := Buf{
		Absolute:     a.Absolute,
		WindowsDrive: a.WindowsDrive,
		LeadingDots:  a.LeadingDots,
		Segments:     append([]string(nil), a.Segments...),
	}

	floor := result.driveSegIndex()
	pop := b.LeadingDots
	for pop > 0 && len(result.Segments) > floor {
		result.Segments = result.Segments[:len(result.Segments)-1]
		pop--
	}
	if !result.Absolute {
		result.LeadingDots += pop
	}
	result.Segments = append(result.Segments, b.Segments...)

	if err := result.checkLimits(); err != nil {
		return Buf{}, err
	}
	return result, nil
}

// Format renders b using sep ('/' or '\') as the path separator,
// re-emitting any leading ".." segments.
func Format(b Buf, sep byte) string {
	var sb strings.Builder
	wroteAny := false
	writeSep := func() {
		if wroteAny && !strings.HasSuffix(sb.String(), string(sep)) {
			sb.WriteByte(sep)
		}
	}
	if b.Absolute && !b.WindowsDrive {
		sb.WriteByte(sep)
		wroteAny = true
	}
	start := 0
	if b.WindowsDrive {
		sb.WriteString(b.Segments[0])
		sb.WriteByte(sep)
		wroteAny = true
		start = 1
	}
	for i := 0; i < b.LeadingDots; i++ {
		writeSep()
		sb.WriteString("..")
		wroteAny = true
	}
	for _, seg := range b.Segments[start:] {
		writeSep()
		sb.WriteString(seg)
		wroteAny = true
	}
	if !wroteAny {
		return "."
	}
	return sb.String()
}

// FormatNative formats with the platform's native separator.
func FormatNative(b Buf) string {
	return Format(b, nativeSeparator)
}
