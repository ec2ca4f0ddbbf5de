// Package buffer implements a growable, prependable byte buffer used to
// stage socket reads and writes. It mirrors the classic muduo-style buffer:
// prependable | readable | writable, with indices that move forward except
// when the buffer is fully drained and resets to the origin, when makeSpace
// compacts the readable span to the origin, or when Unwrite retracts the
// write cursor.
package buffer

import (
	"golang.org/x/sys/unix"
)

// initialSize is the default capacity for a new Buffer.
const initialSize = 1024

// cheapPrepend is the space reserved at the front of a new Buffer so that
// callers can fold a short header in front of an already-staged payload
// without a reallocation.
const cheapPrepend = 8

// spillSize is the size of the stack-local scratch buffer readFd spills
// into when the writable span isn't big enough to hold everything the
// kernel has ready. 64KiB matches the original buffer's extrabuf.
const spillSize = 64 * 1024

// Buffer is a contiguous mutable byte region with a read cursor and a write
// cursor. It is NOT safe for concurrent use; each Connection owns two of
// them privately.
type Buffer struct {
	buf       []byte
	readerIdx int
	writerIdx int
}

// New returns a Buffer with the default initial capacity.
func New() *Buffer {
	return NewSize(initialSize)
}

// NewSize returns a Buffer whose backing array is sized for at least
// initSize readable+writable bytes plus the cheap-prepend region.
func NewSize(initSize int) *Buffer {
	b := &Buffer{
		buf: make([]byte, cheapPrepend+initSize),
	}
	b.readerIdx = cheapPrepend
	b.writerIdx = cheapPrepend
	return b
}

// ReadableBytes returns the number of bytes available to retrieve.
func (b *Buffer) ReadableBytes() int { return b.writerIdx - b.readerIdx }

// WritableBytes returns the number of bytes that can be appended before a
// growth or compaction is required.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writerIdx }

// PrependableBytes returns the number of bytes available before the read
// cursor, including any already-retrieved space at the front.
func (b *Buffer) PrependableBytes() int { return b.readerIdx }

// Peek returns the readable span without copying or advancing any cursor.
func (b *Buffer) Peek() []byte { return b.buf[b.readerIdx:b.writerIdx] }

// EnsureWriteable guarantees WritableBytes() >= n after it returns. It never
// shrinks the buffer.
func (b *Buffer) EnsureWriteable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// HasWritten advances the write cursor by n. Callers must have already
// copied n bytes into the writable span (e.g. via BeginWrite).
func (b *Buffer) HasWritten(n int) {
	b.writerIdx += n
}

// Unwrite retracts the write cursor by n, e.g. after over-estimating how
// much a subsequent encode step would produce.
func (b *Buffer) Unwrite(n int) {
	b.writerIdx -= n
}

// BeginWrite returns the writable span so a caller can encode directly into
// the buffer and then call HasWritten with the number of bytes produced.
func (b *Buffer) BeginWrite() []byte { return b.buf[b.writerIdx:] }

// Retrieve advances the read cursor by n, discarding that many readable
// bytes. The buffer resets to the origin once fully drained.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIdx += n
		return
	}
	b.RetrieveAll()
}

// RetrieveUntil advances the read cursor up to (but not including) end, an
// index into the backing array that must point inside the current readable
// span.
func (b *Buffer) RetrieveUntil(end int) {
	b.Retrieve(end - b.readerIdx)
}

// RetrieveAll discards every readable byte and resets both cursors to the
// origin, reclaiming the whole buffer for future writes.
func (b *Buffer) RetrieveAll() {
	b.readerIdx = cheapPrepend
	b.writerIdx = cheapPrepend
}

// RetrieveAllToStr copies out the entire readable span as a string and
// resets the buffer, per the original RetrieveAllToStr.
func (b *Buffer) RetrieveAllToStr() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// RetrieveToBytes copies out the entire readable span as a fresh []byte and
// resets the buffer.
func (b *Buffer) RetrieveToBytes() []byte {
	out := make([]byte, b.ReadableBytes())
	copy(out, b.Peek())
	b.RetrieveAll()
	return out
}

// Append copies data onto the writable span, growing the buffer first if
// necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWriteable(len(data))
	copy(b.BeginWrite(), data)
	b.HasWritten(len(data))
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// makeSpace implements the growth policy: relocate the readable span to the
// origin and reuse the existing array when there's enough slack between the
// prependable and writable regions combined; otherwise grow the backing
// array to fit exactly what's needed.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes()-cheapPrepend < n {
		newCap := b.writerIdx + n
		newBuf := make([]byte, newCap)
		copy(newBuf, b.buf[:b.writerIdx])
		b.buf = newBuf
		return
	}

	readable := b.ReadableBytes()
	copy(b.buf[cheapPrepend:], b.buf[b.readerIdx:b.writerIdx])
	b.readerIdx = cheapPrepend
	b.writerIdx = b.readerIdx + readable
}

// ReadFd reads from fd into the writable span, spilling overflow into a
// 64KiB stack buffer via a two-element vectored read so a single syscall can
// drain more than the buffer currently has room for. Whatever lands in the
// spill region is appended (causing at most one growth/copy).
//
// Returns the number of bytes read and the errno observed on the read
// syscall (nil on a clean read, unix.EAGAIN on would-block, etc).
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [spillSize]byte
	writable := b.WritableBytes()

	iov := make([][]byte, 0, 2)
	iov = append(iov, b.buf[b.writerIdx:])
	iov = append(iov, extra[:])

	n, err := readv(fd, iov)
	if n <= 0 {
		return n, err
	}

	if n <= writable {
		b.HasWritten(n)
	} else {
		b.HasWritten(writable)
		b.Append(extra[:n-writable])
	}
	return n, err
}

// WriteFd writes the readable span directly to fd and retrieves whatever
// was actually sent.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.Retrieve(n)
	}
	return n, err
}

// readv performs a vectored read via readv(2), retrying on EINTR the same
// way the original buffer's ReadFd does.
func readv(fd int, iov [][]byte) (int, error) {
	for {
		n, err := unix.Readv(fd, iov)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
