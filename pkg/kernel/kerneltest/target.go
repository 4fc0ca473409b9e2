// Package kerneltest provides a simulated ChibiOS/RT target for tests of
// the packages built on top of kernel.Inspector.
package kerneltest

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/kview/kview/pkg/kernel"
)

// Addresses of the simulated kernel structures.
const (
	RegistryAddr kernel.Address = 0x20000100
	TimersAddr   kernel.Address = 0x20000200
	StatsAddr    kernel.Address = 0x20000300
	TraceAddr    kernel.Address = 0x20001000

	MainThread kernel.Address = 0x20000400
	IdleThread kernel.Address = 0x20000900
	Timer1     kernel.Address = 0x20000600
	Timer2     kernel.Address = 0x20000640

	traceRecSize = 16
)

// Target is a kernel.Port answering from a table of expressions that
// models a small but complete kernel: two threads, two timers, a four slot
// trace buffer, globals and statistics.
type Target struct {
	mu      sync.Mutex
	exprs   map[string]string
	strs    map[kernel.Address]string
	fill    map[kernel.Address]int64
	running bool
	calls   int
}

// New returns a halted Target.
func New() *Target {
	t := &Target{
		exprs: make(map[string]string),
		strs:  make(map[kernel.Address]string),
		fill:  make(map[kernel.Address]int64),
	}
	t.build()
	return t
}

func thread(a kernel.Address, field string) string {
	return fmt.Sprintf("(uint32_t)((struct ch_thread *)%d)->%s", uint64(a), field)
}

func timer(a kernel.Address, field string) string {
	return fmt.Sprintf("(uint32_t)((struct ch_virtual_timer *)%d)->%s", uint64(a), field)
}

func trace(a kernel.Address, field string) string {
	return fmt.Sprintf("(uint32_t)(((trace_event_t *)%d)->%s)", uint64(a), field)
}

func (t *Target) set(expr string, v int64) {
	t.exprs[expr] = strconv.FormatInt(v, 10)
}

func (t *Target) build() {
	t.set("(uint32_t)ch.rlist.current", int64(MainThread))
	t.set("(uint32_t)&ch.rlist", int64(RegistryAddr))
	t.set("(uint32_t)&ch.vtlist", int64(TimersAddr))

	ring := []kernel.Address{RegistryAddr, MainThread, IdleThread}
	for i, a := range ring {
		t.set(thread(a, "newer"), int64(ring[(i+1)%len(ring)]))
		t.set(thread(a, "older"), int64(ring[(i+len(ring)-1)%len(ring)]))
	}
	threads := []struct {
		addr              kernel.Address
		name              string
		state, prio       int64
		wabase, sp, spare int64
	}{
		{MainThread, "main", 1, 128, 0x20000500, 0x20000800, 200},
		{IdleThread, "idle", 0, 1, 0x20000a00, 0x20000b00, 64},
	}
	for _, th := range threads {
		np := th.addr + 0x80
		t.set(thread(th.addr, "name"), int64(np))
		t.strs[np] = th.name
		t.set(thread(th.addr, "state"), th.state)
		t.set(thread(th.addr, "flags"), 0)
		t.set(thread(th.addr, "prio"), th.prio)
		t.set(thread(th.addr, "wabase"), th.wabase)
		t.set(thread(th.addr, "ctx.r13"), th.sp)
		t.set(thread(th.addr, "refs"), 1)
		t.fill[kernel.Address(th.wabase)] = th.spare
	}

	vts := []kernel.Address{TimersAddr, Timer1, Timer2}
	for i, a := range vts {
		t.set(timer(a, "next"), int64(vts[(i+1)%len(vts)]))
		t.set(timer(a, "prev"), int64(vts[(i+len(vts)-1)%len(vts)]))
	}
	t.set(timer(Timer1, "delta"), 10)
	t.set(timer(Timer1, "func"), 0x08000401)
	t.set(timer(Timer1, "par"), 0)
	t.set(timer(Timer2, "delta"), 5)
	t.set(timer(Timer2, "func"), 0x08000501)
	t.set(timer(Timer2, "par"), int64(MainThread))

	const size = 4
	t.set("(uint32_t)ch.trace_buffer.size", size)
	t.set("(uint32_t)sizeof (trace_event_t)", traceRecSize)
	t.set("(uint32_t)ch.trace_buffer.buffer", int64(TraceAddr))
	t.set(fmt.Sprintf("(uint32_t)&ch.trace_buffer.buffer[%d]", size), int64(TraceAddr)+size*traceRecSize)
	t.set("(uint32_t)ch.trace_buffer.ptr", int64(TraceAddr)+traceRecSize)
	types := []int64{2, 3, 0, 6}
	for i, typ := range types {
		p := TraceAddr + kernel.Address(i*traceRecSize)
		t.set(trace(p, "type"), typ)
		t.set(trace(p, "state"), 1)
		t.set(trace(p, "rtstamp"), int64(5000+i*10))
		t.set(trace(p, "time"), int64(100+i))
	}
	t.set(trace(TraceAddr, "u.sw.ntp"), int64(IdleThread))
	t.set(trace(TraceAddr, "u.sw.wtobjp"), 0)
	t.set(trace(TraceAddr+traceRecSize, "u.isr.name"), 0x08001000)
	t.strs[0x08001000] = "SysTick"
	t.set(trace(TraceAddr+3*traceRecSize, "u.user.up1"), 7)
	t.set(trace(TraceAddr+3*traceRecSize, "u.user.up2"), 8)

	t.set("(uint32_t)ch.vtlist.delta", 10)
	t.set("(uint32_t)ch.vtlist.lasttime", 1500)
	t.set("(uint32_t)ch.vtlist.systime", 1510)
	t.set("(uint32_t)ch.rlist.preempt", 20)
	t.set("(uint32_t)ch.dbg.panic_msg", 0)
	t.set("(uint32_t)ch.dbg.isr_cnt", 0)
	t.set("(uint32_t)ch.dbg.lock_cnt", 0)

	t.set("(uint32_t)&ch.kernel_stats", int64(StatsAddr))
	t.set("(uint32_t)ch.kernel_stats.n_irq", 345)
	t.set("(uint32_t)ch.kernel_stats.n_ctxswc", 1200)
	for _, blk := range []string{"m_crit_thd", "m_crit_isr"} {
		t.set("(uint32_t)ch.kernel_stats."+blk+".best", 2)
		t.set("(uint32_t)ch.kernel_stats."+blk+".worst", 90)
		t.set("(uint32_t)ch.kernel_stats."+blk+".n", 400)
		t.set("(uint64_t)ch.kernel_stats."+blk+".cumulative", 9000)
	}
}

// SetRunning simulates the target being resumed or halted.
func (t *Target) SetRunning(running bool) {
	t.mu.Lock()
	t.running = running
	t.mu.Unlock()
}

// Set overrides the value of expr.
func (t *Target) Set(expr string, v int64) {
	t.mu.Lock()
	t.set(expr, v)
	t.mu.Unlock()
}

// Unset makes expr unresolvable.
func (t *Target) Unset(expr string) {
	t.mu.Lock()
	delete(t.exprs, expr)
	t.mu.Unlock()
}

// Calls returns the number of Port calls served.
func (t *Target) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Target) check() error {
	t.calls++
	if t.running {
		return fmt.Errorf("target is running: %w", kernel.ErrUnavailable)
	}
	return nil
}

func (t *Target) EvalText(expr string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return "", err
	}
	v, ok := t.exprs[expr]
	if !ok {
		return "", fmt.Errorf("no symbol matches %q: %w", expr, kernel.ErrUnresolved)
	}
	return v, nil
}

func (t *Target) EvalNumber(expr string) (int64, error) {
	s, err := t.EvalText(expr)
	if err != nil {
		return 0, err
	}
	return kernel.ParseNumber(s)
}

func (t *Target) ReadCString(addr kernel.Address, maxLen int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return "", err
	}
	s, ok := t.strs[addr]
	if !ok {
		return "", fmt.Errorf("cannot access memory at address %s: %w", addr, kernel.ErrUnresolved)
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s, nil
}

func (t *Target) ScanFill(start, end kernel.Address, fill byte) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return 0, err
	}
	n, ok := t.fill[start]
	if !ok || fill != 0x55 {
		return 0, fmt.Errorf("cannot access memory at address %s: %w", start, kernel.ErrUnresolved)
	}
	if limit := int64(end - start); n > limit {
		n = limit
	}
	return n, nil
}
