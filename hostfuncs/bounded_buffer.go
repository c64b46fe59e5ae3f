package hostfuncs

import (
	"bytes"
)

// DefaultMaxOutputSize caps what a POSIX-mode guest may write to stdout (10MB).
const DefaultMaxOutputSize = 10 * 1024 * 1024

// DefaultMaxRequestSize bounds byte arguments a guest hands to the host (1MB).
const DefaultMaxRequestSize = 1 * 1024 * 1024

// BoundedBuffer collects the stdout of a POSIX-mode guest. Bytes past the
// limit are counted in Dropped and discarded; the guest never sees a short
// write.
type BoundedBuffer struct {
	buf     bytes.Buffer
	limit   int
	Dropped int64
}

// NewBoundedBuffer returns a buffer that keeps at most limit bytes. A
// non-positive limit keeps nothing.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	if limit < 0 {
		limit = 0
	}
	return &BoundedBuffer{limit: limit}
}

// Write implements io.Writer and always reports len(p).
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	keep := min(len(p), b.limit-b.buf.Len())
	if keep > 0 {
		b.buf.Write(p[:keep])
	} else {
		keep = 0
	}
	b.Dropped += int64(len(p) - keep)
	return len(p), nil
}

// Truncated reports whether any output was discarded.
func (b *BoundedBuffer) Truncated() bool { return b.Dropped > 0 }

// Bytes returns what was kept.
func (b *BoundedBuffer) Bytes() []byte { return b.buf.Bytes() }

// Len returns the number of bytes kept.
func (b *BoundedBuffer) Len() int { return b.buf.Len() }
