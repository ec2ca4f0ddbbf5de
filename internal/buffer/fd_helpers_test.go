package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// pipeFds returns a pair of raw fds backing an anonymous pipe, for driving
// ReadFd/WriteFd tests without standing up a real socket.
func pipeFds(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	return fds[0], fds[1]
}

func closeFd(fd int) {
	_ = unix.Close(fd)
}

func writeAll(fd int, data []byte) {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			return
		}
		data = data[n:]
	}
}
