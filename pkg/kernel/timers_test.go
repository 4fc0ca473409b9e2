package kernel

import (
	"reflect"
	"testing"
)

func someTimers() []fakeTimer {
	return []fakeTimer{
		{addr: 0x20000600, delta: 10, fn: 0x08000401, par: 0},
		{addr: 0x20000640, delta: 5, fn: 0x08000501, par: 0x20000400},
	}
}

func TestTimersWalk(t *testing.T) {
	tgt := newFakeKernel()
	tgt.linkTimers(someTimers()...)
	timers, err := New(tgt).Timers()
	if err != nil {
		t.Fatalf("Timers: %v", err)
	}
	if !reflect.DeepEqual(timers.Keys(), []Address{0x20000600, 0x20000640}) {
		t.Fatalf("bad order %v", timers.Keys())
	}
	if _, ok := timers.Get(vtlistAddr); ok {
		t.Fatalf("delta list head collected as a timer")
	}
	vt, _ := timers.Get(0x20000640)
	want := []KeyValue{{"delta", "5"}, {"func", "134219009"}, {"par", "536871936"}}
	if !reflect.DeepEqual(vt.Fields(), want) {
		t.Fatalf("bad fields %v", vt.Fields())
	}
}

func TestTimersEmpty(t *testing.T) {
	timers, err := New(newFakeKernel()).Timers()
	if err != nil {
		t.Fatalf("Timers: %v", err)
	}
	if timers.Len() != 0 {
		t.Fatalf("expected no timers, got %d", timers.Len())
	}
}

func TestTimersCorrupt(t *testing.T) {
	for _, vt := range someTimers() {
		tgt := newFakeKernel()
		tgt.linkTimers(someTimers()...)
		tgt.set(timerField(vt.addr, "prev"), 0x20007000)
		list, err := New(tgt).Timers()
		assertCorrupt(t, err, ListViolation)
		if list != nil {
			t.Fatalf("partial list returned on corruption")
		}

		tgt = newFakeKernel()
		tgt.linkTimers(someTimers()...)
		tgt.set(timerField(vt.addr, "next"), 0)
		_, err = New(tgt).Timers()
		assertCorrupt(t, err, NullLink)
	}
}
