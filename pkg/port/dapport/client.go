// Package dapport implements kernel.Port on top of a Debug Adapter
// Protocol server, for example an embedded debug adapter attached to a
// probe.
package dapport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/pkg/logflags"
)

// ErrTimeout is returned when the adapter does not answer in time.
var ErrTimeout = errors.New("timed out waiting for debug adapter")

// ResponseError is an unsuccessful DAP response.
type ResponseError struct {
	Command string
	Message string
}

func (err *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", err.Command, err.Message)
}

// Unwrap classifies the error for the kernel package.
func (err *ResponseError) Unwrap() error {
	msg := strings.ToLower(err.Message)
	if strings.Contains(msg, "running") || strings.Contains(msg, "not stopped") || strings.Contains(msg, "not paused") {
		return kernel.ErrUnavailable
	}
	return kernel.ErrUnresolved
}

// client is a synchronous DAP client. Responses are matched to requests by
// sequence number; events update the execution state.
type client struct {
	w io.Writer

	mu      sync.Mutex
	seq     int
	pending map[int]chan dap.Message
	running bool
	closed  error

	timeout time.Duration
	log     logflags.Logger
}

func newClient(r io.Reader, w io.Writer, timeout time.Duration) *client {
	c := &client{
		w:       w,
		seq:     1,
		pending: make(map[int]chan dap.Message),
		timeout: timeout,
		log:     logflags.DAPWireLogger(),
	}
	go c.readLoop(bufio.NewReader(r))
	return c
}

func (c *client) readLoop(rdr *bufio.Reader) {
	for {
		m, err := dap.ReadProtocolMessage(rdr)
		var derr *dap.DecodeProtocolMessageFieldError
		if errors.As(err, &derr) {
			c.log.Warnf("%v", err)
			continue
		}
		if err != nil {
			c.mu.Lock()
			c.closed = err
			for seq, ch := range c.pending {
				close(ch)
				delete(c.pending, seq)
			}
			c.mu.Unlock()
			return
		}
		if logflags.DAPWire() {
			jsonmsg, _ := json.Marshal(m)
			c.log.Debugf("[<- adapter] %s", jsonmsg)
		}
		c.dispatch(m)
	}
}

// envelope is the part of a response common to every command.
type envelope struct {
	Type       string `json:"type"`
	RequestSeq int    `json:"request_seq"`
	Success    bool   `json:"success"`
	Command    string `json:"command"`
	Message    string `json:"message"`
}

func envelopeOf(m dap.Message) envelope {
	var e envelope
	if buf, err := json.Marshal(m); err == nil {
		json.Unmarshal(buf, &e)
	}
	return e
}

func (c *client) dispatch(m dap.Message) {
	switch m := m.(type) {
	case *dap.StoppedEvent:
		c.setRunning(false)
		return
	case *dap.ContinuedEvent:
		c.setRunning(true)
		return
	case *dap.TerminatedEvent, *dap.ExitedEvent:
		c.mu.Lock()
		c.closed = fmt.Errorf("debug session ended")
		c.mu.Unlock()
		return
	case *dap.OutputEvent:
		c.log.Debugf("adapter: %s", strings.TrimRight(m.Body.Output, "\n"))
		return
	}
	e := envelopeOf(m)
	if e.Type != "response" {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[e.RequestSeq]
	delete(c.pending, e.RequestSeq)
	c.mu.Unlock()
	if ok {
		ch <- m
	}
}

func (c *client) setRunning(running bool) {
	c.mu.Lock()
	c.running = running
	c.mu.Unlock()
}

func (c *client) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *client) newRequest(command string) *dap.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	request := &dap.Request{}
	request.Type = "request"
	request.Command = command
	request.Seq = c.seq
	c.seq++
	return request
}

// call sends req, built around r, and waits for its response. Unsuccessful
// responses are returned as *ResponseError.
func (c *client) call(r *dap.Request, req dap.Message) (dap.Message, error) {
	ch := make(chan dap.Message, 1)
	c.mu.Lock()
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		return nil, fmt.Errorf("%v: %w", err, kernel.ErrUnavailable)
	}
	c.pending[r.Seq] = ch
	c.mu.Unlock()

	if logflags.DAPWire() {
		jsonmsg, _ := json.Marshal(req)
		c.log.Debugf("[-> adapter] %s", jsonmsg)
	}
	if err := dap.WriteProtocolMessage(c.w, req); err != nil {
		c.forget(r.Seq)
		return nil, fmt.Errorf("%s: %v: %w", r.Command, err, kernel.ErrUnavailable)
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case m, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: connection closed: %w", r.Command, kernel.ErrUnavailable)
		}
		if e := envelopeOf(m); !e.Success {
			return nil, &ResponseError{Command: r.Command, Message: e.Message}
		}
		return m, nil
	case <-timeout:
		c.forget(r.Seq)
		return nil, fmt.Errorf("%s: %w: %v", r.Command, kernel.ErrUnavailable, ErrTimeout)
	}
}

func (c *client) forget(seq int) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed != nil
}
