//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll provides a goroutine-per-connection fallback for non-Linux
// platforms so the server runs on macOS and Windows during development.
// Every registered connection is reported ready once; it is reported again
// only after the server calls Resume, and the server's read deadline bounds
// how long an idle connection holds a worker.
type Epoll struct {
	mu      sync.Mutex
	rearm   map[net.Conn]chan struct{}
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

// NewEpoll creates a new fallback epoll instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		rearm:   make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection and starts its readiness loop.
func (e *Epoll) Add(conn net.Conn) error {
	ch := make(chan struct{}, 1)
	e.mu.Lock()
	e.rearm[conn] = ch
	e.mu.Unlock()

	go e.monitor(conn, ch)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, rearm chan struct{}) {
	for {
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}

		select {
		case _, ok := <-rearm:
			if !ok {
				return
			}
		case <-e.done:
			return
		}
	}
}

// Resume reports conn ready again after the server finished reading it.
func (e *Epoll) Resume(conn net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.rearm[conn]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Remove unregisters a connection and stops its readiness loop.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.rearm[conn]; ok {
		delete(e.rearm, conn)
		close(ch)
	}
	return nil
}

// Wait blocks until at least one connection is ready for reading and
// returns every connection that is ready now.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

// socketFD reports -1; the fallback does not need file descriptors.
func socketFD(net.Conn) int {
	return -1
}
