package dapport

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"

	"github.com/kview/kview/pkg/kernel"
)

// fakeAdapter answers DAP requests on one end of a pipe.
type fakeAdapter struct {
	caps   dap.Capabilities
	values map[string]string
	memory map[uint64][]byte

	wmu  sync.Mutex
	conn net.Conn

	mu       sync.Mutex
	commands []string
	attach   map[string]interface{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		caps:   dap.Capabilities{SupportsConfigurationDoneRequest: true, SupportsReadMemoryRequest: true},
		values: map[string]string{},
		memory: map[uint64][]byte{},
	}
}

func (f *fakeAdapter) send(m dap.Message) {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	dap.WriteProtocolMessage(f.conn, m)
}

func (f *fakeAdapter) event(name string) {
	e := dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: name}
	switch name {
	case "stopped":
		f.send(&dap.StoppedEvent{Event: e})
	case "continued":
		f.send(&dap.ContinuedEvent{Event: e})
	case "terminated":
		f.send(&dap.TerminatedEvent{Event: e})
	}
}

func response(seq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		RequestSeq:      seq,
		Success:         true,
		Command:         command,
	}
}

func errorResponse(seq int, command, msg string) *dap.ErrorResponse {
	r := response(seq, command)
	r.Success = false
	r.Message = msg
	return &dap.ErrorResponse{Response: r}
}

func (f *fakeAdapter) serve(conn net.Conn) {
	f.conn = conn
	defer conn.Close()
	rdr := bufio.NewReader(conn)
	for {
		m, err := dap.ReadProtocolMessage(rdr)
		if err != nil {
			return
		}
		var req struct {
			Seq       int                    `json:"seq"`
			Command   string                 `json:"command"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		buf, _ := json.Marshal(m)
		json.Unmarshal(buf, &req)
		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		f.mu.Unlock()

		switch req.Command {
		case "initialize":
			f.send(&dap.InitializeResponse{Response: response(req.Seq, req.Command), Body: f.caps})
		case "attach":
			f.mu.Lock()
			f.attach = req.Arguments
			f.mu.Unlock()
			f.send(&dap.AttachResponse{Response: response(req.Seq, req.Command)})
		case "configurationDone":
			f.send(&dap.ConfigurationDoneResponse{Response: response(req.Seq, req.Command)})
		case "evaluate":
			expr, _ := req.Arguments["expression"].(string)
			v, ok := f.values[expr]
			if !ok {
				f.send(errorResponse(req.Seq, req.Command, "Unable to evaluate expression: could not find symbol value for ch"))
				continue
			}
			resp := &dap.EvaluateResponse{Response: response(req.Seq, req.Command)}
			resp.Body.Result = v
			f.send(resp)
		case "readMemory":
			ref, _ := req.Arguments["memoryReference"].(string)
			count, _ := req.Arguments["count"].(float64)
			addr, _ := strconv.ParseUint(ref, 0, 64)
			data := f.memory[addr]
			if len(data) > int(count) {
				data = data[:int(count)]
			}
			resp := &dap.ReadMemoryResponse{Response: response(req.Seq, req.Command)}
			resp.Body.Address = ref
			resp.Body.Data = base64.StdEncoding.EncodeToString(data)
			resp.Body.UnreadableBytes = int(count) - len(data)
			f.send(resp)
		case "disconnect":
			f.send(&dap.DisconnectResponse{Response: response(req.Seq, req.Command)})
			return
		default:
			f.send(errorResponse(req.Seq, req.Command, "unsupported request"))
		}
	}
}

func (f *fakeAdapter) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func startFake(t *testing.T, f *fakeAdapter, cfg Config) *Port {
	t.Helper()
	client, server := net.Pipe()
	go f.serve(server)
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	p, err := New(client, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		p.Close()
		client.Close()
	})
	return p
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandshake(t *testing.T) {
	f := newFakeAdapter()
	p := startFake(t, f, Config{Attach: map[string]interface{}{"gdbTarget": ":3333"}})

	cmds := f.seen()
	want := []string{"initialize", "attach", "configurationDone"}
	if len(cmds) != len(want) {
		t.Fatalf("bad handshake %q", cmds)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Fatalf("bad handshake %q", cmds)
		}
	}
	if f.attach["gdbTarget"] != ":3333" {
		t.Fatalf("attach arguments not forwarded: %v", f.attach)
	}
	if !p.caps.SupportsReadMemoryRequest {
		t.Fatalf("capabilities not recorded")
	}
	if p.c.isRunning() {
		t.Fatalf("target should be halted after attach")
	}
}

func TestHandshakeWithoutConfigurationDone(t *testing.T) {
	f := newFakeAdapter()
	f.caps.SupportsConfigurationDoneRequest = false
	startFake(t, f, Config{})
	for _, c := range f.seen() {
		if c == "configurationDone" {
			t.Fatalf("configurationDone sent to adapter that does not support it")
		}
	}
}

func TestEval(t *testing.T) {
	f := newFakeAdapter()
	f.values["(uint32_t)ch.rlist.current"] = "536871936"
	f.values["(uint32_t)ch.rlist.current->name"] = "0x8001234 <main_name>"
	p := startFake(t, f, Config{})

	n, err := p.EvalNumber("(uint32_t)ch.rlist.current")
	if err != nil || n != 536871936 {
		t.Fatalf("EvalNumber: %d %v", n, err)
	}
	n, err = p.EvalNumber("(uint32_t)ch.rlist.current->name")
	if err != nil || n != 0x8001234 {
		t.Fatalf("EvalNumber with symbol: %#x %v", n, err)
	}
	_, err = p.EvalText("(uint32_t)ch.nothere")
	var rerr *ResponseError
	if !errors.As(err, &rerr) || !errors.Is(err, kernel.ErrUnresolved) {
		t.Fatalf("expected unresolved response error, got %v", err)
	}
	if rerr.Command != "evaluate" {
		t.Fatalf("bad command in error %q", rerr.Command)
	}
}

func TestMemory(t *testing.T) {
	f := newFakeAdapter()
	f.memory[0x08001000] = []byte("SysTick\x00garbage")
	fill := make([]byte, 300)
	for i := range fill {
		fill[i] = 0x55
	}
	fill[290] = 0
	f.memory[0x20000500] = fill[:256]
	f.memory[0x20000600] = fill[256:]
	p := startFake(t, f, Config{})

	s, err := p.ReadCString(0x08001000, 16)
	if err != nil || s != "SysTick" {
		t.Fatalf("ReadCString: %q %v", s, err)
	}
	s, err = p.ReadCString(0x08001000, 3)
	if err != nil || s != "Sys" {
		t.Fatalf("ReadCString truncated: %q %v", s, err)
	}
	if _, err := p.ReadCString(0x1000, 16); !errors.Is(err, kernel.ErrUnresolved) {
		t.Fatalf("expected unresolved, got %v", err)
	}

	n, err := p.ScanFill(0x20000500, 0x20000700, 0x55)
	if err != nil || n != 290 {
		t.Fatalf("ScanFill: %d %v", n, err)
	}
	n, err = p.ScanFill(0x20000500, 0x20000528, 0x55)
	if err != nil || n != 40 {
		t.Fatalf("bounded ScanFill: %d %v", n, err)
	}
}

func TestNoReadMemory(t *testing.T) {
	f := newFakeAdapter()
	f.caps.SupportsReadMemoryRequest = false
	p := startFake(t, f, Config{})
	_, err := p.ReadCString(0x08001000, 16)
	if !errors.Is(err, kernel.ErrUnresolved) || !errors.Is(err, ErrNoReadMemory) {
		t.Fatalf("expected unresolved ErrNoReadMemory, got %v", err)
	}
}

func TestRunningState(t *testing.T) {
	f := newFakeAdapter()
	f.values["(uint32_t)ch.rlist.current"] = "1"
	p := startFake(t, f, Config{})

	f.event("continued")
	waitFor(t, p.c.isRunning, "continued event")
	if _, err := p.EvalNumber("(uint32_t)ch.rlist.current"); !errors.Is(err, kernel.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while running, got %v", err)
	}
	if !errors.Is(kernel.New(p).CheckKernel(), kernel.ErrNotReady) {
		t.Fatalf("inspector should report not ready")
	}

	f.event("stopped")
	waitFor(t, func() bool { return !p.c.isRunning() }, "stopped event")
	if _, err := p.EvalNumber("(uint32_t)ch.rlist.current"); err != nil {
		t.Fatalf("EvalNumber after stop: %v", err)
	}
}

func TestTerminated(t *testing.T) {
	f := newFakeAdapter()
	p := startFake(t, f, Config{})
	f.event("terminated")
	waitFor(t, p.c.isClosed, "terminated event")
	if _, err := p.EvalText("x"); !errors.Is(err, kernel.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after termination, got %v", err)
	}
}

func TestResponseErrorClassification(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Unable to evaluate expression: target is running", kernel.ErrUnavailable},
		{"Target not stopped", kernel.ErrUnavailable},
		{"Unable to evaluate expression: no symbol \"ch\"", kernel.ErrUnresolved},
	}
	for _, tc := range tests {
		err := &ResponseError{Command: "evaluate", Message: tc.msg}
		if !errors.Is(err, tc.want) {
			t.Errorf("%q: not classified as %v", tc.msg, tc.want)
		}
	}
}
