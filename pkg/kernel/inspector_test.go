package kernel

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func assertCorrupt(t *testing.T, err error, reason CorruptReason) {
	t.Helper()
	var cerr *CorruptError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected corruption error, got %v", err)
	}
	if cerr.Reason != reason {
		t.Fatalf("expected %v got %v (%v)", reason, cerr.Reason, err)
	}
}

func TestCheckKernel(t *testing.T) {
	tgt := newFakeKernel()
	if err := New(tgt).CheckKernel(); err != nil {
		t.Fatalf("ready kernel: %v", err)
	}

	tgt.set(currentThreadExpr, 0)
	if err := New(tgt).CheckKernel(); err != ErrKernelNotInitialized {
		t.Fatalf("expected ErrKernelNotInitialized, got %v", err)
	}

	delete(tgt.exprs, currentThreadExpr)
	if err := New(tgt).CheckKernel(); err != ErrKernelNotFound {
		t.Fatalf("expected ErrKernelNotFound, got %v", err)
	}

	tgt.fail[currentThreadExpr] = fmt.Errorf("target running: %w", ErrUnavailable)
	if err := New(tgt).CheckKernel(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestReadersNotReady(t *testing.T) {
	tgt := newFakeKernel()
	tgt.setTrace(0, TraceSwitch)
	tgt.fail[currentThreadExpr] = ErrUnavailable
	in := New(tgt)

	check := func(name string, v interface{}, err error) {
		if !errors.Is(err, ErrNotReady) {
			t.Fatalf("%s: expected ErrNotReady, got %v", name, err)
		}
		if !reflect.ValueOf(v).IsNil() {
			t.Fatalf("%s: result returned while not ready: %#v", name, v)
		}
	}
	threads, err := in.Threads()
	check("Threads", threads, err)
	timers, err := in.Timers()
	check("Timers", timers, err)
	trace, err := in.Trace()
	check("Trace", trace, err)
	globals, err := in.Globals()
	check("Globals", globals, err)
	stats, err := in.Statistics()
	check("Statistics", stats, err)
}

func TestFlushPerCall(t *testing.T) {
	tgt := newFakeKernel()
	in := New(tgt)
	in.Threads()
	in.Timers()
	if tgt.flushes != 2 {
		t.Fatalf("expected one flush per reader call, got %d", tgt.flushes)
	}
}

func TestRootsNotFound(t *testing.T) {
	tgt := newFakeKernel()
	delete(tgt.exprs, registryExpr)
	delete(tgt.exprs, timerListExpr)
	in := New(tgt)

	if _, err := in.Threads(); err != ErrRegistryNotFound {
		t.Fatalf("Threads: expected ErrRegistryNotFound, got %v", err)
	}
	if _, err := in.Timers(); err != ErrTimerListNotFound {
		t.Fatalf("Timers: expected ErrTimerListNotFound, got %v", err)
	}
	if _, err := in.Trace(); err != ErrTraceBufferNotFound {
		t.Fatalf("Trace: expected ErrTraceBufferNotFound, got %v", err)
	}
	if _, err := in.Globals(); err != ErrGlobalStateNotFound {
		t.Fatalf("Globals: expected ErrGlobalStateNotFound, got %v", err)
	}
	if _, err := in.Statistics(); err != ErrStatisticsNotFound {
		t.Fatalf("Statistics: expected ErrStatisticsNotFound, got %v", err)
	}
}

func TestCorruptErrorMessage(t *testing.T) {
	err := &CorruptError{List: "registry", Reason: ListViolation, Addr: 0x20000400}
	const tgt = "registry integrity check failed at 0x20000400, double linked list violation"
	if err.Error() != tgt {
		t.Fatalf("got %q", err.Error())
	}
	if !IsCorrupt(fmt.Errorf("wrapped: %w", err)) {
		t.Fatalf("IsCorrupt did not see through wrapping")
	}
}

func TestStateLabel(t *testing.T) {
	tests := []struct {
		code int64
		want string
	}{
		{0, "READY"},
		{1, "CURRENT"},
		{8, "SLEEPING"},
		{15, "FINAL"},
		{16, UnknownState},
		{31, UnknownState},
		{9999, UnknownState},
		{-1, UnknownState},
	}
	for _, tc := range tests {
		if got := StateLabel(tc.code); got != tc.want {
			t.Errorf("StateLabel(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"42", 42},
		{" 42\n", 42},
		{"0x20000100", 0x20000100},
		{"0x8000abc <chThdSleep>", 0x8000abc},
		{"-5", -5},
		{"4294967295", 4294967295},
	}
	for _, tc := range tests {
		got, err := ParseNumber(tc.in)
		if err != nil {
			t.Fatalf("ParseNumber(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseNumber(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if _, err := ParseNumber("<optimized out>"); err == nil {
		t.Fatalf("expected error parsing non numeric text")
	}
}
