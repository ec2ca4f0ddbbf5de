package conn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketpair returns two connected, non-blocking unix-domain socket fds so
// Connection's read/write paths can be exercised without a real TCP stack.
func socketpair(t *testing.T) (clientFd, serverFd int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestConn(t *testing.T, et bool) (*Connection, int) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))

	client, server := socketpair(t)
	c := New(dir, et)
	c.Init(server, "127.0.0.1:0")
	return c, client
}

func TestKeepAlivePipelineTwoRequestsInOrder(t *testing.T) {
	c, client := newTestConn(t, false)

	reqBytes := []byte("GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n")
	_, err := unix.Write(client, append(append([]byte{}, reqBytes...), reqBytes...))
	require.NoError(t, err)

	n, err := c.Read()
	require.True(t, n > 0 && (err == nil || err == unix.EAGAIN))

	require.True(t, c.Process())
	require.True(t, c.KeepAlive())
	_, err = c.Write()
	require.NoError(t, err)
	require.Equal(t, 0, c.ToWriteBytes())

	// pipelined second request is still sitting in the read buffer.
	require.True(t, c.Process())
	require.True(t, c.KeepAlive())
	_, err = c.Write()
	require.NoError(t, err)
	require.Equal(t, 0, c.ToWriteBytes())
}

func TestMalformedRequestProducesBadRequestAndDropsKeepAlive(t *testing.T) {
	c, client := newTestConn(t, false)

	_, err := unix.Write(client, []byte("NOT-HTTP\r\n\r\n"))
	require.NoError(t, err)

	_, err = c.Read()
	require.True(t, err == nil || err == unix.EAGAIN)

	require.True(t, c.Process())
	require.False(t, c.KeepAlive())
}

func TestEdgeTriggeredReadDrainsEverythingBeforeEAGAIN(t *testing.T) {
	c, client := newTestConn(t, true)

	payload := make([]byte, 128*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		off := 0
		for off < len(payload) {
			n, err := unix.Write(client, payload[off:])
			if err != nil {
				return
			}
			off += n
		}
	}()
	<-done

	// One edge-triggered Read keeps calling readFd until EAGAIN; its return
	// values are only the last call's, so the drained total is read off the
	// buffer.
	_, err := c.Read()
	require.Equal(t, unix.EAGAIN, err)
	require.Equal(t, len(payload), c.readBuf.ReadableBytes())
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newTestConn(t, false)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.True(t, c.Closed())
}

func TestProcessReturnsFalseOnEmptyReadBuffer(t *testing.T) {
	c, _ := newTestConn(t, false)
	require.False(t, c.Process())
}

func TestToWriteBytesZeroAfterFullDrain(t *testing.T) {
	c, client := newTestConn(t, false)
	defer unix.Close(client)

	_, err := unix.Write(client, []byte("GET /index.html HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	_, err = c.Read()
	require.True(t, err == nil || err == unix.EAGAIN)
	require.True(t, c.Process())

	for c.ToWriteBytes() > 0 {
		_, err := c.Write()
		if err != nil && err != unix.EAGAIN {
			t.Fatalf("unexpected write error: %v", err)
		}
		// drain the peer side so the socket buffer never fills and stalls.
		buf := make([]byte, 4096)
		unix.Read(client, buf)
	}
	require.Equal(t, 0, c.ToWriteBytes())
}
