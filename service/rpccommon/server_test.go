package rpccommon

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/pkg/kernel/kerneltest"
	"github.com/kview/kview/service"
	"github.com/kview/kview/service/api"
	"github.com/kview/kview/service/debugger"
	"github.com/kview/kview/service/rpc2"
)

func startServer(t *testing.T, target kernel.Port) (*rpc2.RPCClient, <-chan struct{}) {
	t.Helper()
	listener, clientConn := service.ListenerPipe()
	disconnectChan := make(chan struct{})
	server := NewServer(&service.Config{
		Listener:       listener,
		Debugger:       debugger.Config{Port: target},
		DisconnectChan: disconnectChan,
	})
	if err := server.Run(); err != nil {
		t.Fatalf("could not start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return rpc2.NewClientFromConn(clientConn), disconnectChan
}

func TestClientServer(t *testing.T) {
	client, _ := startServer(t, kerneltest.New())
	direct := kernel.New(kerneltest.New())

	if err := client.CheckKernel(); err != nil {
		t.Fatalf("CheckKernel: %v", err)
	}

	threads, err := client.Threads()
	if err != nil {
		t.Fatal(err)
	}
	wantThreads, _ := direct.Threads()
	if !reflect.DeepEqual(threads, api.ConvertThreads(wantThreads)) {
		t.Fatalf("threads mismatch:\n%v\n%v", threads, api.ConvertThreads(wantThreads))
	}
	if threads[0].Name != "main" || threads[1].Name != "idle" {
		t.Fatalf("bad registry order %v", threads)
	}

	timers, err := client.Timers()
	if err != nil {
		t.Fatal(err)
	}
	wantTimers, _ := direct.Timers()
	if !reflect.DeepEqual(timers, api.ConvertTimers(wantTimers)) {
		t.Fatalf("timers mismatch:\n%v\n%v", timers, api.ConvertTimers(wantTimers))
	}

	evs, err := client.Trace()
	if err != nil {
		t.Fatal(err)
	}
	wantEvs, _ := direct.Trace()
	if !reflect.DeepEqual(evs, api.ConvertTrace(wantEvs)) {
		t.Fatalf("trace mismatch:\n%v\n%v", evs, api.ConvertTrace(wantEvs))
	}

	globals, err := client.Globals()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := api.Lookup(globals, "r_current"); v != `0x20000400 "main"` {
		t.Fatalf("bad r_current %q", v)
	}

	stats, err := client.Statistics()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 4 || stats[0].Name != kernel.StatIRQ {
		t.Fatalf("bad statistics %v", stats)
	}

	v, err := client.GetVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v.APIVersion != APIVersion || v.Backend != "custom" {
		t.Fatalf("bad version %#v", v)
	}
	if client.IsMulticlient() {
		t.Fatalf("server should not be multiclient")
	}
}

func TestNotReadyFlag(t *testing.T) {
	target := kerneltest.New()
	client, _ := startServer(t, target)
	target.SetRunning(true)

	if err := client.CheckKernel(); !errors.Is(err, kernel.ErrNotReady) {
		t.Fatalf("CheckKernel: expected ErrNotReady, got %v", err)
	}
	threads, err := client.Threads()
	if !errors.Is(err, kernel.ErrNotReady) || threads != nil {
		t.Fatalf("Threads: expected ErrNotReady, got %v %v", threads, err)
	}
	if _, err := client.Statistics(); !errors.Is(err, kernel.ErrNotReady) {
		t.Fatalf("Statistics: expected ErrNotReady, got %v", err)
	}

	target.SetRunning(false)
	if _, err := client.Threads(); err != nil {
		t.Fatalf("Threads after halt: %v", err)
	}
}

func TestStructuralErrors(t *testing.T) {
	target := kerneltest.New()
	client, _ := startServer(t, target)

	target.Unset("(uint32_t)&ch.vtlist")
	_, err := client.Timers()
	if err == nil || err.Error() != kernel.ErrTimerListNotFound.Error() {
		t.Fatalf("expected %v, got %v", kernel.ErrTimerListNotFound, err)
	}

	target.Set(fmt.Sprintf("(uint32_t)((struct ch_thread *)%d)->older", uint64(kerneltest.IdleThread)), 0)
	_, err = client.Threads()
	if err == nil || errors.Is(err, kernel.ErrNotReady) {
		t.Fatalf("expected corruption error, got %v", err)
	}
}

func TestDetach(t *testing.T) {
	client, disconnectChan := startServer(t, kerneltest.New())
	if err := client.Detach(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-disconnectChan:
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not signal disconnection")
	}
}

func TestMulticlient(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	server := NewServer(&service.Config{
		Listener:    listener,
		Debugger:    debugger.Config{Port: kerneltest.New()},
		AcceptMulti: true,
	})
	if err := server.Run(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	for i := 0; i < 2; i++ {
		client, err := rpc2.NewClient(listener.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		if !client.IsMulticlient() {
			t.Fatalf("server should be multiclient")
		}
		if _, err := client.Globals(); err != nil {
			t.Fatalf("client %d: %v", i, err)
		}
		client.Disconnect()
	}
}

func TestUnknownMethod(t *testing.T) {
	client, _ := startServer(t, kerneltest.New())
	var out struct{}
	if err := client.CallAPI("Restart", struct{}{}, &out); err == nil {
		t.Fatalf("expected error for unknown method")
	}
	if err := client.CheckKernel(); err != nil {
		t.Fatalf("connection should survive an unknown method: %v", err)
	}
}
