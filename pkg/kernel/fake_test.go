package kernel

import (
	"fmt"
	"strconv"
)

// fakeTarget is a scripted Port. Expressions not present in exprs do not
// resolve.
type fakeTarget struct {
	exprs   map[string]string
	strs    map[Address]string
	fill    map[Address]int64
	fail    map[string]error
	calls   int
	flushes int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		exprs: make(map[string]string),
		strs:  make(map[Address]string),
		fill:  make(map[Address]int64),
		fail:  make(map[string]error),
	}
}

func (t *fakeTarget) EvalText(expr string) (string, error) {
	t.calls++
	if err := t.fail[expr]; err != nil {
		return "", err
	}
	v, ok := t.exprs[expr]
	if !ok {
		return "", fmt.Errorf("no symbol in %q: %w", expr, ErrUnresolved)
	}
	return v, nil
}

func (t *fakeTarget) EvalNumber(expr string) (int64, error) {
	s, err := t.EvalText(expr)
	if err != nil {
		return 0, err
	}
	return ParseNumber(s)
}

func (t *fakeTarget) ReadCString(a Address, maxLen int) (string, error) {
	t.calls++
	s, ok := t.strs[a]
	if !ok {
		return "", fmt.Errorf("cannot access memory at %s: %w", a, ErrUnresolved)
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s, nil
}

func (t *fakeTarget) ScanFill(start, end Address, fill byte) (int64, error) {
	t.calls++
	if fill != stackFillByte {
		return 0, fmt.Errorf("unexpected fill byte %#x", fill)
	}
	n, ok := t.fill[start]
	if !ok {
		return 0, fmt.Errorf("cannot access memory at %s: %w", start, ErrUnresolved)
	}
	if limit := int64(end - start); n > limit {
		n = limit
	}
	return n, nil
}

func (t *fakeTarget) Flush() {
	t.flushes++
}

func (t *fakeTarget) set(expr string, v int64) {
	t.exprs[expr] = strconv.FormatInt(v, 10)
}

const (
	rlistAddr  Address = 0x20000100
	vtlistAddr Address = 0x20000200
	traceAddr  Address = 0x20001000
	statsAddr  Address = 0x20000300
)

// newFakeKernel returns a target with a started kernel and empty registry
// and timer list.
func newFakeKernel() *fakeTarget {
	t := newFakeTarget()
	t.set(registryExpr, int64(rlistAddr))
	t.set(timerListExpr, int64(vtlistAddr))
	t.linkThreads()
	t.linkTimers()
	t.set(currentThreadExpr, int64(rlistAddr))
	return t
}

type fakeThread struct {
	addr      Address
	name      string
	state     int64
	prio      int64
	wabase    int64
	sp        int64
	unused    int64
	optionals bool
}

// linkThreads makes the registry ring hold threads, in order.
func (t *fakeTarget) linkThreads(threads ...fakeThread) {
	addrs := []Address{rlistAddr}
	for _, th := range threads {
		addrs = append(addrs, th.addr)
	}
	for i, a := range addrs {
		t.set(threadField(a, "newer"), int64(addrs[(i+1)%len(addrs)]))
		t.set(threadField(a, "older"), int64(addrs[(i+len(addrs)-1)%len(addrs)]))
	}
	for _, th := range threads {
		a := th.addr
		t.set(threadField(a, "state"), th.state)
		t.set(threadField(a, "flags"), 0)
		t.set(threadField(a, "prio"), th.prio)
		if th.wabase != 0 {
			t.set(threadField(a, "wabase"), th.wabase)
		}
		if th.sp != 0 {
			t.set(threadField(a, "ctx.r13"), th.sp)
			t.fill[Address(th.wabase)] = th.unused
		}
		if th.name != "" {
			np := a + 0x80
			t.set(threadField(a, "name"), int64(np))
			t.strs[np] = th.name
		} else {
			t.set(threadField(a, "name"), 0)
		}
		if th.optionals {
			t.set(threadField(a, "refs"), 1)
			t.set(threadField(a, "time"), 1234)
			t.set(threadField(a, "u.wtobjp"), 0)
			t.set(threadField(a, "stats.n"), 10)
			t.set(threadField(a, "stats.worst"), 77)
			t.set(threadField64(a, "stats.cumulative"), 5000000000)
		}
	}
}

type fakeTimer struct {
	addr  Address
	delta int64
	fn    int64
	par   int64
}

// linkTimers makes the delta list ring hold timers, in order.
func (t *fakeTarget) linkTimers(timers ...fakeTimer) {
	addrs := []Address{vtlistAddr}
	for _, vt := range timers {
		addrs = append(addrs, vt.addr)
	}
	for i, a := range addrs {
		t.set(timerField(a, "next"), int64(addrs[(i+1)%len(addrs)]))
		t.set(timerField(a, "prev"), int64(addrs[(i+len(addrs)-1)%len(addrs)]))
	}
	for _, vt := range timers {
		t.set(timerField(vt.addr, "delta"), vt.delta)
		t.set(timerField(vt.addr, "func"), vt.fn)
		t.set(timerField(vt.addr, "par"), vt.par)
	}
}

const traceRecSize = 16

// setTrace lays out a trace ring whose slot i holds a record of type
// types[i]. The write cursor points to slot cursor.
func (t *fakeTarget) setTrace(cursor int, types ...TraceType) {
	size := int64(len(types))
	t.set(traceSizeExpr, size)
	t.set(traceRecSizeExpr, traceRecSize)
	t.set(traceStartExpr, int64(traceAddr))
	t.set(traceEndExpr(size), int64(traceAddr)+size*traceRecSize)
	t.set(tracePtrExpr, int64(traceAddr)+int64(cursor)*traceRecSize)
	for i, typ := range types {
		p := traceAddr + Address(i*traceRecSize)
		t.set(traceField(p, "type"), int64(typ))
		t.set(traceField(p, "state"), 1)
		t.set(traceField(p, "rtstamp"), int64(1000+i))
		t.set(traceField(p, "time"), int64(i))
		switch typ {
		case TraceReady:
			t.set(traceField(p, "u.rdy.tp"), 0x20002000)
			t.set(traceField(p, "u.rdy.msg"), 0)
		case TraceSwitch:
			t.set(traceField(p, "u.sw.ntp"), 0x20002000)
			t.set(traceField(p, "u.sw.wtobjp"), 0x20003000)
		case TraceISREnter, TraceISRLeave:
			t.set(traceField(p, "u.isr.name"), 0x08001000)
			t.strs[0x08001000] = "SysTick"
		case TraceHalt:
			t.set(traceField(p, "u.halt.reason"), 0x08002000)
			t.strs[0x08002000] = "stack overflow"
		case TraceUser:
			t.set(traceField(p, "u.user.up1"), 1)
			t.set(traceField(p, "u.user.up2"), 2)
		}
	}
}
