package service

import (
	"errors"
	"net"
	"sync"
)

// ListenerPipe returns a full-duplex in-memory connection, like net.Pipe.
// One end is wrapped in a net.Listener whose first Accept returns it; the
// terminal uses the other end to talk to an in-process server.
func ListenerPipe() (net.Listener, net.Conn) {
	conn0, conn1 := net.Pipe()
	return &pipeListener{conn: conn0, closed: make(chan struct{})}, conn1
}

type pipeListener struct {
	mu       sync.Mutex
	conn     net.Conn
	accepted bool

	once   sync.Once
	closed chan struct{}
}

// Accept returns the pipe on the first call and blocks until the listener
// is closed on every later call.
func (l *pipeListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if !l.accepted {
		l.accepted = true
		l.mu.Unlock()
		return l.conn, nil
	}
	l.mu.Unlock()
	<-l.closed
	return nil, errors.New("accept failed: listener closed")
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}
