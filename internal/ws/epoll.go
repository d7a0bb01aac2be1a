//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Epoll reports which registered connections have data to read, so one
// event loop serves every connection instead of a goroutine each.
// Readiness is level-triggered; the server's per-connection processing flag
// absorbs repeated reports while a frame is being read.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFd   map[int]net.Conn
	fdOf   map[net.Conn]int // Remove must not touch a possibly closed socket
	events []unix.EpollEvent
	closed bool
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Epoll{
		fd:     fd,
		byFd:   make(map[int]net.Conn),
		fdOf:   make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add watches conn for read readiness and hang-ups.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return fmt.Errorf("epoll: %T has no socket descriptor", conn)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return net.ErrClosed
	}

	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	e.byFd[fd] = conn
	e.fdOf[conn] = fd
	return nil
}

// Remove stops watching conn. Removing an unknown connection is a no-op.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fd, ok := e.fdOf[conn]
	if !ok {
		return nil
	}
	delete(e.fdOf, conn)
	delete(e.byFd, fd)

	if e.closed {
		return nil
	}
	// The kernel drops closed descriptors from the interest list itself.
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// Wait blocks until at least one connection is ready and returns the ready
// set. It returns net.ErrClosed once Close has been called.
func (e *Epoll) Wait() ([]net.Conn, error) {
	for {
		n, err := unix.EpollWait(e.fd, e.events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}

		e.mu.RLock()
		closed := e.closed
		var conns []net.Conn
		if err == nil {
			conns = make([]net.Conn, 0, n)
			for _, ev := range e.events[:n] {
				if conn, ok := e.byFd[int(ev.Fd)]; ok {
					conns = append(conns, conn)
				}
			}
		}
		e.mu.RUnlock()

		switch {
		case closed:
			return nil, net.ErrClosed
		case err != nil:
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}
		return conns, nil
	}
}

// Resume is a no-op: level-triggered epoll keeps reporting unread data.
func (e *Epoll) Resume(net.Conn) {}

// Close releases the epoll descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.byFd = nil
	e.fdOf = nil
	return unix.Close(e.fd)
}

// socketFD returns conn's descriptor without dup'ing it, or -1.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	if err := raw.Control(func(sfd uintptr) { fd = int(sfd) }); err != nil {
		return -1
	}
	return fd
}
