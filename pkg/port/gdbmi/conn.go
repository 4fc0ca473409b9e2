package gdbmi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/pkg/logflags"
)

const miWireMaxLen = 120

// ErrTimeout is returned when GDB does not answer a command in time.
var ErrTimeout = errors.New("timed out waiting for GDB")

// MIError is an ^error result record.
type MIError struct {
	Cmd  string
	Msg  string
	Code string
}

func (err *MIError) Error() string {
	cmd := err.Cmd
	if len(cmd) > 40 {
		cmd = cmd[:40] + "..."
	}
	return fmt.Sprintf("%s: %s", cmd, err.Msg)
}

// Unwrap classifies the error for the kernel package. GDB reports a missing
// symbol, member or unreadable memory in many different ways; anything that
// is not about the inferior running or the remote link being gone is
// treated as unresolved.
func (err *MIError) Unwrap() error {
	if isUnavailableMsg(err.Msg) {
		return kernel.ErrUnavailable
	}
	return kernel.ErrUnresolved
}

// unavailableMsgs are fragments of the messages GDB uses when the target
// cannot be read right now.
var unavailableMsgs = []string{
	"is running",
	"target is executing",
	"remote connection closed",
	"target disconnected",
	"remote communication error",
	"no registers",
	"the program is not being run",
	"connection timed out",
}

func isUnavailableMsg(msg string) bool {
	msg = strings.ToLower(msg)
	for _, frag := range unavailableMsgs {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// miConn speaks GDB/MI over a pair of pipes. Output is read by a
// goroutine and result records are matched to commands by token.
type miConn struct {
	w io.Writer

	mu      sync.Mutex
	token   int
	results chan *record
	console strings.Builder
	running bool
	closed  error
	// pending is the token of the command waiting for its result, zero
	// when none is.
	pending int

	timeout time.Duration
	log     logflags.Logger
}

func newConn(r io.Reader, w io.Writer, timeout time.Duration) *miConn {
	conn := &miConn{
		w:       w,
		results: make(chan *record, 16),
		timeout: timeout,
		log:     logflags.GdbWireLogger(),
	}
	go conn.readLoop(r)
	return conn
}

func (conn *miConn) readLoop(r io.Reader) {
	rdr := bufio.NewReader(r)
	for {
		line, err := rdr.ReadString('\n')
		if line != "" {
			conn.dispatch(line)
		}
		if err != nil {
			conn.mu.Lock()
			conn.closed = err
			conn.mu.Unlock()
			close(conn.results)
			return
		}
	}
}

func (conn *miConn) dispatch(line string) {
	if logflags.GdbWire() {
		out := strings.TrimRight(line, "\r\n")
		if len(out) > miWireMaxLen {
			conn.log.Debugf("-> %s...", out[:miWireMaxLen])
		} else {
			conn.log.Debugf("-> %s", out)
		}
	}
	rec, err := parseRecord(line)
	if err != nil {
		conn.log.Warnf("%v", err)
		return
	}
	switch rec.kind {
	case kindResult:
		if rec.class == "running" {
			conn.setRunning(true)
		}
		conn.deliver(rec)
	case kindExec:
		switch rec.class {
		case "running":
			conn.setRunning(true)
		case "stopped":
			conn.setRunning(false)
		}
	case kindConsole:
		conn.mu.Lock()
		conn.console.WriteString(rec.stream)
		conn.mu.Unlock()
	case kindLog, kindTarget:
		conn.log.Debugf("gdb: %s", strings.TrimRight(rec.stream, "\n"))
	}
}

// deliver hands rec to the command waiting for it. Results of commands
// that already gave up are dropped so the read loop never blocks.
func (conn *miConn) deliver(rec *record) {
	conn.mu.Lock()
	want := conn.pending
	conn.mu.Unlock()
	if want == 0 || rec.token != want {
		conn.log.Debugf("dropping result %d^%s, waiting for %d", rec.token, rec.class, want)
		return
	}
	select {
	case conn.results <- rec:
	default:
		conn.log.Warnf("dropping result %d^%s, queue full", rec.token, rec.class)
	}
}

func (conn *miConn) setRunning(running bool) {
	conn.mu.Lock()
	conn.running = running
	conn.mu.Unlock()
}

func (conn *miConn) isRunning() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.running
}

// takeConsole returns and clears the console output collected so far.
func (conn *miConn) takeConsole() string {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	s := conn.console.String()
	conn.console.Reset()
	return s
}

// exec sends cmd and waits for its result record. An ^error record is
// returned as *MIError.
func (conn *miConn) exec(cmd string) (*record, error) {
	conn.mu.Lock()
	if conn.closed != nil {
		err := conn.closed
		conn.mu.Unlock()
		return nil, fmt.Errorf("GDB exited (%v): %w", err, kernel.ErrUnavailable)
	}
	conn.token++
	token := conn.token
	conn.pending = token
	conn.mu.Unlock()
	defer func() {
		conn.mu.Lock()
		if conn.pending == token {
			conn.pending = 0
		}
		conn.mu.Unlock()
	}()

	line := fmt.Sprintf("%d%s\n", token, cmd)
	if logflags.GdbWire() {
		conn.log.Debugf("<- %s", strings.TrimRight(line, "\n"))
	}
	if _, err := io.WriteString(conn.w, line); err != nil {
		return nil, fmt.Errorf("writing to GDB: %v: %w", err, kernel.ErrUnavailable)
	}

	var timeout <-chan time.Time
	if conn.timeout > 0 {
		t := time.NewTimer(conn.timeout)
		defer t.Stop()
		timeout = t.C
	}
	for {
		select {
		case rec, ok := <-conn.results:
			if !ok {
				return nil, fmt.Errorf("GDB exited: %w", kernel.ErrUnavailable)
			}
			if rec.token != token {
				// answer to a command that timed out earlier
				continue
			}
			if rec.class == "error" {
				return nil, &MIError{Cmd: cmd, Msg: rec.str("msg"), Code: rec.str("code")}
			}
			return rec, nil
		case <-timeout:
			return nil, fmt.Errorf("%s: %w: %v", cmd, kernel.ErrUnavailable, ErrTimeout)
		}
	}
}
