// Package conn implements the per-client connection state machine: read
// drain, codec invocation, and scatter/gather response write.
package conn

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/go-reactor/webreactor/internal/buffer"
	"github.com/go-reactor/webreactor/internal/httpcodec"
)

// LiveCount is the process-wide count of currently-open connections,
// incremented by Init and decremented by Close. It exists as a free
// function pair rather than a singleton struct because exactly one of it
// is ever needed per process, mirroring the original HttpConn::userCount.
var liveCount int64

// LiveCount reports the number of connections currently between Init and
// Close.
func LiveCount() int64 { return atomic.LoadInt64(&liveCount) }

// largePayloadThreshold is the point past which Write keeps looping even in
// level-triggered mode, so a single writable event can make real progress
// on a large response instead of bouncing straight back to epoll.
const largePayloadThreshold = 10240

// Connection is one client's private state: two byte buffers and the
// scatter/gather cursors over them. It is not safe for concurrent use — the
// one-shot epoll arming (see internal/reactor) guarantees at most one
// goroutine ever touches a given Connection at a time.
type Connection struct {
	fd         int
	remoteAddr string
	closed     bool
	et         bool

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer

	resp       httpcodec.Response
	bodyOffset int
	keepAlive  bool

	srcDir string
}

// New allocates a Connection bound to srcDir (the static content root) and
// the configured edge-trigger mode. Call Init once a real fd is accepted.
func New(srcDir string, edgeTriggered bool) *Connection {
	return &Connection{
		readBuf:  buffer.New(),
		writeBuf: buffer.New(),
		srcDir:   srcDir,
		et:       edgeTriggered,
		closed:   true,
	}
}

// Init resets a Connection for reuse against a freshly accepted fd.
func (c *Connection) Init(fd int, remoteAddr string) {
	c.fd = fd
	c.remoteAddr = remoteAddr
	c.closed = false
	c.keepAlive = false
	c.bodyOffset = 0
	c.readBuf.RetrieveAll()
	c.writeBuf.RetrieveAll()
	atomic.AddInt64(&liveCount, 1)
}

// Fd returns the underlying descriptor.
func (c *Connection) Fd() int { return c.fd }

// RemoteAddr returns the peer address recorded at Init.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Closed reports whether Close has already run.
func (c *Connection) Closed() bool { return c.closed }

// KeepAlive reports whether the most recently processed request asked to
// keep the connection open.
func (c *Connection) KeepAlive() bool { return c.keepAlive }

// ToWriteBytes is the sum of unsent header and body bytes.
func (c *Connection) ToWriteBytes() int {
	return c.writeBuf.ReadableBytes() + (c.resp.FileLen() - c.bodyOffset)
}

// Read drains the socket into the read buffer. In edge-triggered mode it
// keeps calling readFd until the kernel reports EAGAIN, since ET only
// signals readiness on transition; in level-triggered mode one call
// suffices, since epoll will re-signal if more remains. The returned values
// are those of the last readFd call: unix.EAGAIN (with n == -1) on a clean
// would-block stop, n == 0 with a nil error on EOF, or whatever error
// halted the drain. A level-triggered read that got data returns its byte
// count and a nil error.
func (c *Connection) Read() (int, error) {
	var n int
	var err error
	for {
		n, err = c.readBuf.ReadFd(c.fd)
		if err != nil || n <= 0 {
			break
		}
		if !c.et {
			break
		}
	}
	return n, err
}

// Write performs vectored writes across the write buffer (header) and any
// mapped response file (body), advancing cursors after each partial write.
// It loops while edge-triggered, or while there's still more than
// largePayloadThreshold bytes left to send, stopping on full drain, EAGAIN,
// or a fatal error.
func (c *Connection) Write() (int, error) {
	var lastN int
	var lastErr error

	for {
		headerLen := c.writeBuf.ReadableBytes()
		bodyRemaining := c.resp.FileLen() - c.bodyOffset

		if headerLen == 0 && bodyRemaining == 0 {
			return lastN, nil
		}

		iovs := make([][]byte, 0, 2)
		if headerLen > 0 {
			iovs = append(iovs, c.writeBuf.Peek())
		}
		if bodyRemaining > 0 {
			iovs = append(iovs, c.resp.File()[c.bodyOffset:])
		}

		n, err := unix.Writev(c.fd, iovs)
		lastN, lastErr = n, err
		if err != nil {
			return n, err
		}
		if n <= 0 {
			return n, nil
		}

		if n > headerLen {
			c.writeBuf.RetrieveAll()
			c.bodyOffset += n - headerLen
		} else {
			c.writeBuf.Retrieve(n)
		}

		remaining := c.ToWriteBytes()
		if remaining == 0 {
			return lastN, lastErr
		}
		if !c.et && remaining <= largePayloadThreshold {
			return lastN, lastErr
		}
	}
}

// Process parses whatever is in the read buffer and, on a complete request
// (well-formed or not), builds the corresponding response into the write
// buffer. It returns true iff a response was staged — the caller should
// then switch the descriptor to write interest — and false iff the read
// buffer was empty, meaning the caller should keep waiting for input.
func (c *Connection) Process() bool {
	if c.readBuf.ReadableBytes() == 0 {
		return false
	}

	req, ok, syntaxErr := parseOne(c.readBuf)
	if !ok {
		return false
	}

	if syntaxErr {
		c.keepAlive = false
		c.resp.Init(c.srcDir, "", false, httpcodec.StatusBadRequest)
	} else {
		c.keepAlive = req.KeepAlive
		c.resp.Init(c.srcDir, req.Path, req.KeepAlive, httpcodec.StatusOK)
	}

	c.bodyOffset = 0
	if err := c.resp.MakeResponse(c.writeBuf); err != nil {
		c.keepAlive = false
	}
	return true
}

// parseOne is a thin indirection so tests can stub out the codec boundary
// without standing up real request bytes for every case.
var parseOne = httpcodec.ParseRequest

// Close releases the mapped response body, closes the descriptor, and
// marks the connection closed. It is idempotent.
func (c *Connection) Close() error {
	c.resp.UnmapFile()
	if c.closed {
		return nil
	}
	c.closed = true
	atomic.AddInt64(&liveCount, -1)
	return unix.Close(c.fd)
}
