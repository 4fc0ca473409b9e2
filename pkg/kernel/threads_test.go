package kernel

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func threeThreads() []fakeThread {
	return []fakeThread{
		{addr: 0x20000400, name: "main", state: 1, prio: 128, wabase: 0x20000500, sp: 0x20000800, unused: 200, optionals: true},
		{addr: 0x20000900, name: "idle", state: 0, prio: 1, wabase: 0x20000a00, sp: 0x20000b00, unused: 64},
		{addr: 0x20000c00, state: 8, prio: 64},
	}
}

func TestThreadsWalk(t *testing.T) {
	tgt := newFakeKernel()
	tgt.linkThreads(threeThreads()...)

	threads, err := New(tgt).Threads()
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	if threads.Len() != 3 {
		t.Fatalf("expected 3 threads, got %d", threads.Len())
	}
	want := []Address{0x20000400, 0x20000900, 0x20000c00}
	if !reflect.DeepEqual(threads.Keys(), want) {
		t.Fatalf("discovery order mismatch %v %v", threads.Keys(), want)
	}
	if _, ok := threads.Get(rlistAddr); ok {
		t.Fatalf("registry head collected as a thread")
	}

	main, _ := threads.Get(0x20000400)
	if main.Name != "main" || main.StateLabel != "CURRENT" || main.Prio != 128 {
		t.Fatalf("bad main thread %#v", main)
	}
	if main.StackUnused.Text != "200" {
		t.Fatalf("bad unused stack %q", main.StackUnused.Text)
	}
	if main.StatsCumulative.Text != "5000000000" {
		t.Fatalf("bad cumulative %q", main.StatsCumulative.Text)
	}

	anon, _ := threads.Get(0x20000c00)
	if anon.Name != NoName {
		t.Fatalf("expected %q, got %q", NoName, anon.Name)
	}
	if anon.StateLabel != "SLEEPING" {
		t.Fatalf("bad state label %q", anon.StateLabel)
	}
}

func TestThreadFieldsComplete(t *testing.T) {
	tgt := newFakeKernel()
	tgt.linkThreads(threeThreads()...)
	threads, err := New(tgt).Threads()
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	keys := []string{"stack", "stklimit", "stkunused", "name", "state", "state_s", "flags", "prio", "refs", "time", "wtobjp", "stats_n", "stats_worst", "stats_cumulative"}
	for _, th := range threads.Values() {
		fields := th.Fields()
		if len(fields) != len(keys) {
			t.Fatalf("%s: expected %d fields, got %d", th.Address, len(keys), len(fields))
		}
		for i, kv := range fields {
			if kv.Key != keys[i] {
				t.Fatalf("%s: field %d is %q, expected %q", th.Address, i, kv.Key, keys[i])
			}
			if kv.Value == "" {
				t.Fatalf("%s: field %q is empty", th.Address, kv.Key)
			}
		}
	}

	anon, _ := threads.Get(0x20000c00)
	for _, kv := range anon.Fields() {
		switch kv.Key {
		case "stack", "stklimit", "stkunused", "refs", "time", "wtobjp", "stats_n", "stats_worst", "stats_cumulative":
			if kv.Value != NotAvailable {
				t.Fatalf("expected %q for %s, got %q", NotAvailable, kv.Key, kv.Value)
			}
		}
	}
}

func TestStackUnused(t *testing.T) {
	tests := []struct {
		name   string
		wabase int64
		sp     int64
		fill   int64
		want   string
	}{
		{"scan", 100, 150, 40, "40"},
		{"overflow", 150, 100, 0, Overflow},
		{"no limit", 0, 150, 0, NotAvailable},
		{"no sp", 100, 0, 0, NotAvailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tgt := newFakeKernel()
			tgt.linkThreads(fakeThread{addr: 0x20000400, state: 0, prio: 1, wabase: tc.wabase, sp: tc.sp, unused: tc.fill})
			threads, err := New(tgt).Threads()
			if err != nil {
				t.Fatalf("Threads: %v", err)
			}
			th, _ := threads.Get(0x20000400)
			if th.StackUnused.Text != tc.want {
				t.Fatalf("expected %q got %q", tc.want, th.StackUnused.Text)
			}
		})
	}
}

func TestStackPointerFallback(t *testing.T) {
	tgt := newFakeKernel()
	tgt.linkThreads(fakeThread{addr: 0x20000400, prio: 1, wabase: 100})
	tgt.set(threadField(0x20000400, "ctx.sp"), 150)
	tgt.fill[100] = 12
	threads, err := New(tgt).Threads()
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	th, _ := threads.Get(0x20000400)
	if th.Stack.Text != "150" || th.StackUnused.Text != "12" {
		t.Fatalf("bad stack fields %q %q", th.Stack.Text, th.StackUnused.Text)
	}
}

func TestThreadsListViolation(t *testing.T) {
	threads := threeThreads()
	for i := range threads {
		tgt := newFakeKernel()
		tgt.linkThreads(threads...)
		tgt.set(threadField(threads[i].addr, "older"), 0x20007000)
		list, err := New(tgt).Threads()
		assertCorrupt(t, err, ListViolation)
		if list != nil {
			t.Fatalf("partial list returned on corruption")
		}
	}
}

func TestThreadsNullLink(t *testing.T) {
	threads := threeThreads()
	for i := range threads {
		tgt := newFakeKernel()
		tgt.linkThreads(threads...)
		tgt.set(threadField(threads[i].addr, "newer"), 0)
		list, err := New(tgt).Threads()
		assertCorrupt(t, err, NullLink)
		if list != nil {
			t.Fatalf("partial list returned on corruption")
		}
	}

	tgt := newFakeKernel()
	tgt.linkThreads(threads...)
	tgt.set(threadField(threads[1].addr, "older"), 0)
	_, err := New(tgt).Threads()
	assertCorrupt(t, err, NullLink)
}

func TestThreadsCycle(t *testing.T) {
	// a -> b -> a, never returning to the head
	tgt := newFakeKernel()
	tgt.linkThreads(threeThreads()[:2]...)
	a, b := Address(0x20000400), Address(0x20000900)
	tgt.set(threadField(b, "newer"), int64(a))
	tgt.set(threadField(a, "older"), int64(b))
	_, err := New(tgt).Threads()
	assertCorrupt(t, err, ListViolation)
}

func TestRegistryDisabled(t *testing.T) {
	tgt := newFakeKernel()
	delete(tgt.exprs, threadField(rlistAddr, "newer"))
	if _, err := New(tgt).Threads(); err != ErrRegistryDisabled {
		t.Fatalf("expected ErrRegistryDisabled, got %v", err)
	}
}

func TestThreadsRequiredField(t *testing.T) {
	tgt := newFakeKernel()
	tgt.linkThreads(threeThreads()...)
	expr := threadField(0x20000900, "prio")
	delete(tgt.exprs, expr)
	_, err := New(tgt).Threads()
	var rerr *ReadError
	if !errors.As(err, &rerr) || rerr.Expr != expr {
		t.Fatalf("expected read error on %s, got %v", expr, err)
	}
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("read error does not unwrap to ErrUnresolved: %v", err)
	}
}

func TestThreadsTargetResumed(t *testing.T) {
	tgt := newFakeKernel()
	tgt.linkThreads(threeThreads()...)
	tgt.fail[threadField(0x20000900, "refs")] = fmt.Errorf("target is executing: %w", ErrUnavailable)
	list, err := New(tgt).Threads()
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if list != nil {
		t.Fatalf("partial list returned")
	}
}

func TestThreadsIdempotent(t *testing.T) {
	tgt := newFakeKernel()
	tgt.linkThreads(threeThreads()...)
	in := New(tgt)
	a, err := in.Threads()
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	b, err := in.Threads()
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("snapshots differ\n%#v\n%#v", a, b)
	}
}
