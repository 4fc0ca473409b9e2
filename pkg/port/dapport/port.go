package dapport

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/kview/kview/pkg/kernel"
)

// DefaultAdapterID is sent in the initialize request when Config.AdapterID
// is empty.
const DefaultAdapterID = "kview"

// scanChunk is the number of bytes read at a time by ScanFill.
const scanChunk = 256

// Config describes how to attach to the debug adapter.
type Config struct {
	// Attach holds the adapter specific arguments of the attach request.
	Attach map[string]interface{}
	// AdapterID identifies the adapter type, see the DAP initialize request.
	AdapterID string
	// FrameID is the stack frame expressions are evaluated in, zero lets
	// the adapter choose.
	FrameID int
	// Timeout bounds every request, zero means no limit.
	Timeout time.Duration
}

// ErrNoReadMemory is returned by memory reads when the adapter did not
// advertise the readMemory request.
var ErrNoReadMemory = errors.New("debug adapter does not support readMemory")

// attachRequest carries adapter specific arguments, which the protocol
// leaves undefined.
type attachRequest struct {
	dap.Request
	Arguments map[string]interface{} `json:"arguments"`
}

// Port is a kernel.Port backed by a DAP session.
type Port struct {
	mu      sync.Mutex
	c       *client
	conn    io.Closer
	frameID int
	caps    dap.Capabilities
}

// Dial connects to the adapter listening at addr and attaches to its
// target.
func Dial(addr string, cfg Config) (*Port, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	p, err := New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// New runs the DAP handshake over rw. The target is assumed to be halted
// once attached, until the adapter sends a continued event.
func New(rw io.ReadWriter, cfg Config) (*Port, error) {
	p := &Port{c: newClient(rw, rw, cfg.Timeout), frameID: cfg.FrameID}
	if err := p.handshake(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Port) handshake(cfg Config) error {
	adapterID := cfg.AdapterID
	if adapterID == "" {
		adapterID = DefaultAdapterID
	}
	r := p.c.newRequest("initialize")
	m, err := p.c.call(r, &dap.InitializeRequest{
		Request: *r,
		Arguments: dap.InitializeRequestArguments{
			ClientID:                 "kview",
			ClientName:               "kview",
			AdapterID:                adapterID,
			LinesStartAt1:            true,
			ColumnsStartAt1:          true,
			SupportsMemoryReferences: true,
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %v", err)
	}
	if resp, ok := m.(*dap.InitializeResponse); ok {
		p.caps = resp.Body
	}

	r = p.c.newRequest("attach")
	args := cfg.Attach
	if args == nil {
		args = map[string]interface{}{}
	}
	if _, err := p.c.call(r, &attachRequest{Request: *r, Arguments: args}); err != nil {
		return fmt.Errorf("attach: %v", err)
	}

	if p.caps.SupportsConfigurationDoneRequest {
		r = p.c.newRequest("configurationDone")
		if _, err := p.c.call(r, &dap.ConfigurationDoneRequest{Request: *r}); err != nil {
			return fmt.Errorf("configurationDone: %v", err)
		}
	}
	return nil
}

func (p *Port) call(command string, build func(r *dap.Request) dap.Message) (dap.Message, error) {
	if p.c.isRunning() {
		return nil, fmt.Errorf("target is running: %w", kernel.ErrUnavailable)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.c.newRequest(command)
	return p.c.call(r, build(r))
}

func (p *Port) EvalText(expr string) (string, error) {
	m, err := p.call("evaluate", func(r *dap.Request) dap.Message {
		return &dap.EvaluateRequest{
			Request:   *r,
			Arguments: dap.EvaluateArguments{Expression: expr, FrameId: p.frameID, Context: "watch"},
		}
	})
	if err != nil {
		return "", err
	}
	resp, ok := m.(*dap.EvaluateResponse)
	if !ok {
		return "", fmt.Errorf("evaluate: unexpected response %T", m)
	}
	return resp.Body.Result, nil
}

func (p *Port) EvalNumber(expr string) (int64, error) {
	s, err := p.EvalText(expr)
	if err != nil {
		return 0, err
	}
	n, err := kernel.ParseNumber(s)
	if err != nil {
		return 0, fmt.Errorf("%s evaluated to %q: %w", expr, s, kernel.ErrUnresolved)
	}
	return n, nil
}

// readMemory reads up to n bytes at addr. Unreadable bytes at the end of
// the range shorten the result.
func (p *Port) readMemory(addr kernel.Address, n int) ([]byte, error) {
	if !p.caps.SupportsReadMemoryRequest {
		return nil, fmt.Errorf("%w: %w", kernel.ErrUnresolved, ErrNoReadMemory)
	}
	m, err := p.call("readMemory", func(r *dap.Request) dap.Message {
		return &dap.ReadMemoryRequest{
			Request:   *r,
			Arguments: dap.ReadMemoryArguments{MemoryReference: fmt.Sprintf("%#x", uint64(addr)), Count: n},
		}
	})
	if err != nil {
		return nil, err
	}
	resp, ok := m.(*dap.ReadMemoryResponse)
	if !ok {
		return nil, fmt.Errorf("readMemory: unexpected response %T", m)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Body.Data)
	if err != nil {
		return nil, fmt.Errorf("readMemory: bad data: %v", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot access memory at address %s: %w", addr, kernel.ErrUnresolved)
	}
	return data, nil
}

func (p *Port) ReadCString(addr kernel.Address, maxLen int) (string, error) {
	buf, err := p.readMemory(addr, maxLen)
	if err != nil {
		return "", err
	}
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

func (p *Port) ScanFill(start, end kernel.Address, fill byte) (int64, error) {
	var n int64
	for a := start; a < end; {
		sz := scanChunk
		if rem := int(end - a); rem < sz {
			sz = rem
		}
		buf, err := p.readMemory(a, sz)
		if err != nil {
			if n > 0 && errors.Is(err, kernel.ErrUnresolved) {
				return n, nil
			}
			return 0, err
		}
		for _, c := range buf {
			if c != fill {
				return n, nil
			}
			n++
		}
		if len(buf) < sz {
			break
		}
		a += kernel.Address(len(buf))
	}
	return n, nil
}

// Close detaches from the target, leaving it as it is, and closes the
// connection if Dial opened it.
func (p *Port) Close() error {
	if !p.c.isClosed() {
		p.mu.Lock()
		r := p.c.newRequest("disconnect")
		p.c.call(r, &dap.DisconnectRequest{Request: *r})
		p.mu.Unlock()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
