// Package netpoll is a thin façade over epoll(7), the readiness
// demultiplexer the reactor core is built on. It exposes exactly the four
// operations the rest of the core needs — add, modify, remove, wait — plus
// random access into the last batch of ready events.
package netpoll

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Interest bits. Readable/Writable/EdgeTriggered/OneShot/ReadHangup are
// combined to build the interest mask passed to Add/Modify; Hangup/Err are
// only ever read from events returned by Wait. ReadHangup shows up in both.
const (
	Readable      = unix.EPOLLIN
	Writable      = unix.EPOLLOUT
	EdgeTriggered = unix.EPOLLET
	OneShot       = unix.EPOLLONESHOT
	ReadHangup    = unix.EPOLLRDHUP
	Hangup        = unix.EPOLLHUP
	Err           = unix.EPOLLERR
)

// maxEvents bounds the event vector passed to a single epoll_wait call. The
// vector is never resized mid-wait, per the readiness demultiplexer
// contract.
const maxEvents = 1024

// Event is one ready (fd, interest-bits) pair.
type Event struct {
	Fd     int
	Events uint32
}

// Readable reports whether the event signals the descriptor has data to
// read.
func (e Event) Readable() bool { return e.Events&unix.EPOLLIN != 0 }

// Writable reports whether the event signals the descriptor is ready to
// accept writes.
func (e Event) Writable() bool { return e.Events&unix.EPOLLOUT != 0 }

// HungUp reports a peer hangup, a local hangup or an error condition, any
// of which the reactor treats identically: close the connection.
func (e Event) HungUp() bool {
	return e.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0
}

// Poller wraps a single epoll instance. Add, Modify and Remove are safe for
// concurrent use: the kernel-side API is thread-safe across independent
// descriptors, and the reactor's mutation discipline (see server.go) never
// issues concurrent calls for the same fd. Wait fills one shared event
// array, so only one goroutine may call it at a time.
type Poller struct {
	epfd   int
	events [maxEvents]unix.EpollEvent
}

// Open creates a new epoll instance.
func Open() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("netpoll: epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd}, nil
}

// Add registers fd for the given interest mask.
func (p *Poller) Add(fd int, events uint32) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: events}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify changes the interest mask for an already-registered fd. This is
// how the reactor re-arms a one-shot descriptor for its next interest.
func (p *Poller) Modify(fd int, events uint32) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: events}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd. The kernel also does this automatically on
// close(2), but the reactor calls it explicitly before closing so that a
// concurrently re-created fd with the same number can never be confused
// with the old registration.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one descriptor is ready, timeoutMs have
// elapsed, or an unmasked signal interrupts the call — which, per the
// demultiplexer contract, is surfaced as zero ready events rather than
// propagated as an error. timeoutMs == -1 blocks indefinitely; 0 polls.
func (p *Poller) Wait(timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events[:], timeoutMs)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("netpoll: epoll_wait: %w", err)
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = Event{Fd: int(p.events[i].Fd), Events: p.events[i].Events}
	}
	return out, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
