// File: protocol/scan.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Token and value scanning over the NUL-terminated handshake buffers.
// All matching is ASCII-only; case folding covers A-Z exactly. A failed
// match never moves the cursor, so the caller can probe alternatives
// against the same position.

package protocol

// cursor walks a NUL-terminated byte buffer. The buffer's producer
// guarantees a NUL somewhere within the slice.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) peek() byte {
	return c.buf[c.pos]
}

// find returns the index of the first occurrence of seq at or after the
// cursor, scanning no further than the NUL terminator, or -1.
func (c *cursor) find(seq string) int {
	for i := c.pos; c.buf[i] != 0; i++ {
		if i+len(seq) > len(c.buf) {
			return -1
		}
		j := 0
		for j < len(seq) && c.buf[i+j] == seq[j] {
			j++
		}
		if j == len(seq) {
			return i
		}
	}
	return -1
}

func lowerASCII(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// matchToken advances the cursor past token if it is present at the
// current position, optionally folding case and skipping leading
// spaces. Reports whether the token matched.
func matchToken(token string, c *cursor, caseInsensitive, ignoreLeadingSP bool) bool {
	pos := c.pos

	if ignoreLeadingSP {
		for c.buf[pos] == '\x20' {
			pos++
		}
	}

	i := 0
	for i < len(token) && c.buf[pos] != 0 {
		a, b := token[i], c.buf[pos]
		if caseInsensitive {
			a, b = lowerASCII(a), lowerASCII(b)
		}
		if a != b {
			return false
		}
		i++
		pos++
	}

	// Ran into the terminator before the token completed.
	if i < len(token) {
		return false
	}

	c.pos = pos
	return true
}

// matchValue locates the next occurrence of termseq, returns the bytes
// between the cursor and the terminator (optionally trimmed of leading
// and trailing spaces), and advances the cursor past the terminator.
// The returned slice aliases the cursor's buffer; it is non-nil exactly
// when the terminator was found, and may be empty.
func matchValue(termseq string, c *cursor, ignoreLeadingSP, ignoreTrailingSP bool) ([]byte, bool) {
	end := c.find(termseq)
	if end < 0 {
		return nil, false
	}

	start := c.pos
	c.pos = end + len(termseq)

	if ignoreLeadingSP {
		for start < end && c.buf[start] == '\x20' {
			start++
		}
	}

	if start == end {
		return c.buf[start:end], true
	}

	if ignoreTrailingSP {
		for end > start && c.buf[end-1] == '\x20' {
			end--
		}
	}

	return c.buf[start:end], true
}

// validateValue reports whether actual equals expected, byte for byte,
// optionally folding ASCII case.
func validateValue(expected string, actual []byte, caseInsensitive bool) bool {
	if len(expected) != len(actual) {
		return false
	}
	for i := 0; i < len(expected); i++ {
		a, b := expected[i], actual[i]
		if caseInsensitive {
			a, b = lowerASCII(a), lowerASCII(b)
		}
		if a != b {
			return false
		}
	}
	return true
}
