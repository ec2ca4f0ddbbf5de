// Package reactor wires the readiness demultiplexer, the heap timer, the
// worker pool and per-connection handlers into a single-process
// event-driven HTTP server. The acceptor goroutine is the sole owner of
// the demultiplexer additions/removals, the timer, and the connection
// registry; it drives everything from one select loop that merges epoll
// readiness, worker-requested closes, and the idle-timeout wake-up — the
// same three-way merge gaio's own loop() uses to reconcile a blocking
// poll with asynchronous signals.
package reactor

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/go-reactor/webreactor/internal/conn"
	"github.com/go-reactor/webreactor/internal/netpoll"
	"github.com/go-reactor/webreactor/internal/timer"
	"github.com/go-reactor/webreactor/internal/workerpool"
)

// Config is the enumerated configuration surface.
type Config struct {
	Port      int
	TrigMode  int // 0 neither, 1 conn-ET, 2 listen-ET, 3 both
	TimeoutMs int // <=0 disables the reaper
	OptLinger bool
	ThreadNum int
	SrcDir    string
	MaxFD     int // 0 means the default of 65536
}

const defaultMaxFD = 65536

// busyMessage is sent verbatim to a client rejected for capacity.
const busyMessage = "Server busy!"

// closeRequestBacklog bounds how many pending worker-initiated close
// requests the acceptor goroutine may lag behind by. Closing is cheap and
// the acceptor loop is always runnable, so this only needs to absorb a
// burst, not provide real queuing capacity.
const closeRequestBacklog = 256

// Server is the reactor. Construct with New, then call Run on the
// goroutine that should own the event loop (Run blocks until Stop).
type Server struct {
	cfg Config
	log *zap.Logger

	listenFd int

	poller *netpoll.Poller
	timer  *timer.Heap
	pool   *workerpool.Pool

	registry map[int]*conn.Connection

	listenEvent uint32
	connEvent   uint32
	connET      bool

	pumpEvents    chan []netpoll.Event
	closeRequests chan *conn.Connection
	dieCh         chan struct{}
	stopped       bool

	// connPool recycles *conn.Connection objects across accept/close
	// cycles, mirroring gaio's own aiocbPool.
	connPool sync.Pool
}

// New constructs a Server bound to cfg but does not open the listener;
// call Start to bind/listen and Run to serve.
func New(cfg Config, log *zap.Logger) *Server {
	if cfg.MaxFD <= 0 {
		cfg.MaxFD = defaultMaxFD
	}
	if cfg.ThreadNum <= 0 {
		cfg.ThreadNum = 1
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:           cfg,
		log:           log,
		registry:      make(map[int]*conn.Connection),
		timer:         timer.New(),
		pumpEvents:    make(chan []netpoll.Event, 1),
		closeRequests: make(chan *conn.Connection, closeRequestBacklog),
		dieCh:         make(chan struct{}),
	}
	s.initEventMode(cfg.TrigMode)
	s.connPool.New = func() interface{} { return conn.New(s.cfg.SrcDir, s.connET) }
	return s
}

// initEventMode sets the listener/connection interest masks per trigMode,
// mirroring WebServer::InitEventMode_. Connection descriptors always carry
// EPOLLONESHOT so concurrent worker handling of the same fd is structurally
// impossible.
func (s *Server) initEventMode(trigMode int) {
	s.listenEvent = uint32(netpoll.ReadHangup)
	s.connEvent = uint32(netpoll.OneShot | netpoll.ReadHangup)

	switch trigMode {
	case 1:
		s.connEvent |= uint32(netpoll.EdgeTriggered)
	case 2:
		s.listenEvent |= uint32(netpoll.EdgeTriggered)
	case 3:
		s.listenEvent |= uint32(netpoll.EdgeTriggered)
		s.connEvent |= uint32(netpoll.EdgeTriggered)
	}
	s.connET = s.connEvent&uint32(netpoll.EdgeTriggered) != 0
}

// Start binds and listens: AF_INET/SOCK_STREAM, SO_REUSEADDR, optional
// SO_LINGER, backlog 6, non-blocking. A failure here is a configuration
// error and must prevent Run from ever entering its loop.
func (s *Server) Start() error {
	if s.cfg.Port < 1024 || s.cfg.Port > 65535 {
		return fmt.Errorf("reactor: port %d out of range [1024,65535]", s.cfg.Port)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}

	if s.cfg.OptLinger {
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1}); err != nil {
			unix.Close(fd)
			return fmt.Errorf("reactor: setsockopt SO_LINGER: %w", err)
		}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: bind port %d: %w", s.cfg.Port, err)
	}

	if err := unix.Listen(fd, 6); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}

	poller, err := netpoll.Open()
	if err != nil {
		unix.Close(fd)
		return err
	}
	if err := poller.Add(fd, uint32(netpoll.Readable)|s.listenEvent); err != nil {
		unix.Close(fd)
		poller.Close()
		return fmt.Errorf("reactor: add listener: %w", err)
	}

	s.listenFd = fd
	s.poller = poller
	s.pool = workerpool.New(s.cfg.ThreadNum)
	s.pool.OnPanic(func(r interface{}) {
		s.log.Error("worker task panicked", zap.Any("recover", r))
	})

	s.log.Info("server start",
		zap.Int("port", s.cfg.Port),
		zap.Bool("listen_et", s.listenEvent&uint32(netpoll.EdgeTriggered) != 0),
		zap.Bool("conn_et", s.connET),
		zap.Int("threads", s.cfg.ThreadNum),
	)
	return nil
}

// Run pumps epoll events and drives the reactor loop until Stop is called.
// It must run on its own goroutine; it blocks until shutdown.
func (s *Server) Run() {
	go s.pump()

	wakeTimer := time.NewTimer(time.Hour)
	if !wakeTimer.Stop() {
		<-wakeTimer.C
	}
	resetWake := func() {
		next := s.timer.NextTick()
		if !wakeTimer.Stop() {
			select {
			case <-wakeTimer.C:
			default:
			}
		}
		if next < 0 {
			return
		}
		wakeTimer.Reset(time.Duration(next) * time.Millisecond)
	}
	resetWake()

	for {
		select {
		case events, ok := <-s.pumpEvents:
			if !ok {
				return
			}
			s.handleEvents(events)
		case c := <-s.closeRequests:
			s.closeConn(c)
		case <-wakeTimer.C:
			// the timer heap has at least one expired entry; NextTick
			// below ticks it and fires its close-on-expire callback.
		case <-s.dieCh:
			return
		}
		resetWake()
	}
}

// pump continuously calls epoll_wait and forwards each ready batch to the
// acceptor goroutine over a channel, so Run's select can merge it with
// other asynchronous signals without threading a timeout through epoll
// itself.
func (s *Server) pump() {
	defer close(s.pumpEvents)
	for {
		select {
		case <-s.dieCh:
			return
		default:
		}

		events, err := s.poller.Wait(-1)
		if err != nil {
			return
		}
		select {
		case s.pumpEvents <- events:
		case <-s.dieCh:
			return
		}
	}
}

func (s *Server) handleEvents(events []netpoll.Event) {
	for _, e := range events {
		if e.Fd == s.listenFd {
			s.acceptAll()
			continue
		}

		c, ok := s.registry[e.Fd]
		if !ok {
			continue
		}

		switch {
		case e.HungUp():
			s.closeConn(c)
		case e.Readable():
			s.timer.Adjust(c.Fd(), s.cfg.TimeoutMs)
			s.pool.Submit(func() { s.onRead(c) })
		case e.Writable():
			s.timer.Adjust(c.Fd(), s.cfg.TimeoutMs)
			s.pool.Submit(func() { s.onWrite(c) })
		default:
			s.log.Warn("unexpected event", zap.Int("fd", e.Fd), zap.Uint32("events", e.Events))
		}
	}
}

// acceptAll drains the listener. In edge-triggered mode it keeps accepting
// until the kernel reports EAGAIN; otherwise, matching the original's
// do/while, it always attempts at least one accept.
func (s *Server) acceptAll() {
	listenerET := s.listenEvent&uint32(netpoll.EdgeTriggered) != 0
	for {
		fd, sa, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				s.log.Warn("accept failed", zap.Error(err))
			}
			return
		}

		if conn.LiveCount() >= int64(s.cfg.MaxFD) {
			unix.Write(fd, []byte(busyMessage))
			unix.Close(fd)
			s.log.Warn("clients full, rejecting connection")
		} else {
			s.addClient(fd, sa)
		}

		if !listenerET {
			return
		}
	}
}

func (s *Server) addClient(fd int, sa unix.Sockaddr) {
	remote := formatSockaddr(sa)

	c := s.connPool.Get().(*conn.Connection)
	c.Init(fd, remote)

	if s.cfg.TimeoutMs > 0 {
		s.timer.Add(fd, s.cfg.TimeoutMs, func() { s.closeConn(c) })
	}
	if err := s.poller.Add(fd, uint32(netpoll.Readable)|s.connEvent); err != nil {
		s.log.Error("add client to poller failed", zap.Int("fd", fd), zap.Error(err))
		s.closeConn(c)
		return
	}

	s.registry[fd] = c
	s.log.Info("client in", zap.Int("fd", fd), zap.String("remote", remote))
}

// onRead is a worker entry point: drain the socket, then hand off to
// onProcess. A non-EAGAIN failure means the connection must die, but the
// worker does not tear it down directly — it routes the request back to
// the acceptor goroutine, which is the sole mutator of the timer and
// registry.
func (s *Server) onRead(c *conn.Connection) {
	n, err := c.Read()
	if n <= 0 && !errors.Is(err, unix.EAGAIN) {
		s.requestClose(c)
		return
	}
	s.onProcess(c)
}

// onProcess parses whatever is buffered and re-arms for the next interest:
// writable on a staged response, readable if there was nothing to parse
// yet.
func (s *Server) onProcess(c *conn.Connection) {
	if c.Process() {
		s.poller.Modify(c.Fd(), uint32(netpoll.Writable)|s.connEvent)
	} else {
		s.poller.Modify(c.Fd(), uint32(netpoll.Readable)|s.connEvent)
	}
}

// onWrite drains the scatter/gather write. On full drain with keep-alive it
// immediately re-processes (in case a pipelined request is already
// buffered); on full drain without keep-alive, or any error other than
// EAGAIN, the connection is closed. When bytes remain after EAGAIN, or
// after a level-triggered Write stops at largePayloadThreshold without an
// error, it re-arms for writable.
func (s *Server) onWrite(c *conn.Connection) {
	_, err := c.Write()

	if c.ToWriteBytes() == 0 {
		if c.KeepAlive() {
			s.onProcess(c)
			return
		}
		s.requestClose(c)
		return
	}

	if err == nil || errors.Is(err, unix.EAGAIN) {
		s.poller.Modify(c.Fd(), uint32(netpoll.Writable)|s.connEvent)
		return
	}

	s.requestClose(c)
}

// requestClose hands a close-worthy connection back to the acceptor
// goroutine. Called from worker goroutines; closeConn itself must only run
// on the acceptor goroutine since it mutates the timer and registry.
func (s *Server) requestClose(c *conn.Connection) {
	select {
	case s.closeRequests <- c:
	case <-s.dieCh:
	}
}

// closeConn tears a connection down: remove it from the demultiplexer,
// cancel its timer entry, drop it from the registry, and release its
// resources. The timer's own expiry callback is exactly this function, so
// a timed-out connection is torn down identically to an explicit close.
// Must only be called from the acceptor goroutine.
func (s *Server) closeConn(c *conn.Connection) {
	if c.Closed() {
		return
	}
	s.log.Info("client quit", zap.Int("fd", c.Fd()))
	s.poller.Remove(c.Fd())
	s.timer.Cancel(c.Fd())
	delete(s.registry, c.Fd())
	c.Close()
	s.connPool.Put(c)
}

// Stop shuts the reactor down: stops the pump, drains the worker pool, and
// closes the listener and poller. Open connections are not drained.
func (s *Server) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.dieCh)
	if s.pool != nil {
		s.pool.Shutdown()
	}
	if s.poller != nil {
		s.poller.Close()
	}
	if s.listenFd != 0 {
		unix.Close(s.listenFd)
	}
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return fmt.Sprintf("%s:%d", ip.String(), a.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip.String(), a.Port)
	default:
		return "unknown"
	}
}
