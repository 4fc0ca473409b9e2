package kernel

import (
	"reflect"
	"testing"
)

func TestGlobalsAllEnabled(t *testing.T) {
	tgt := newFakeKernel()
	cur := Address(0x20000400)
	tgt.linkThreads(fakeThread{addr: cur, name: "main", state: 1, prio: 128})
	tgt.set(currentThreadExpr, int64(cur))
	tgt.set(vtDeltaExpr, 7)
	tgt.set(vtLasttimeExpr, 1500)
	tgt.set(vtSystimeExpr, 1510)
	tgt.set(preemptExpr, 20)
	tgt.set(panicMsgExpr, 0)
	tgt.set(isrCntExpr, 0)
	tgt.set(lockCntExpr, 1)

	g, err := New(tgt).Globals()
	if err != nil {
		t.Fatalf("Globals: %v", err)
	}
	want := GlobalSnapshot{
		{"vt_lasttime", "1500"},
		{"vt_systime", "1510"},
		{"r_current", `0x20000400 "main"`},
		{"r_preempt", "20"},
		{"dbg_panic_msg", NullString},
		{"dbg_isr_cnt", "not within ISR"},
		{"dbg_lock_cnt", "within lock"},
	}
	if !reflect.DeepEqual(g, want) {
		t.Fatalf("mismatch\n%v\n%v", g, want)
	}
}

func TestGlobalsNotEnabled(t *testing.T) {
	tgt := newFakeKernel()
	tgt.set(vtDeltaExpr, 7)

	g, err := New(tgt).Globals()
	if err != nil {
		t.Fatalf("Globals: %v", err)
	}
	if len(g) != 7 {
		t.Fatalf("expected the full key set, got %v", g)
	}
	for key, want := range map[string]string{
		"vt_lasttime":   "7",
		"vt_systime":    NotEnabled,
		"r_preempt":     NotEnabled,
		"dbg_panic_msg": NotEnabled,
		"dbg_isr_cnt":   NotEnabled,
		"dbg_lock_cnt":  NotEnabled,
	} {
		got, ok := g.Lookup(key)
		if !ok {
			t.Fatalf("key %s missing", key)
		}
		if got != want {
			t.Fatalf("%s: expected %q got %q", key, want, got)
		}
	}
}

func TestGlobalsPanicMessage(t *testing.T) {
	tgt := newFakeKernel()
	tgt.set(vtDeltaExpr, 7)
	tgt.set(panicMsgExpr, 0x08003000)
	tgt.strs[0x08003000] = "SV#4 misplaced chSysDisable() call"
	g, err := New(tgt).Globals()
	if err != nil {
		t.Fatalf("Globals: %v", err)
	}
	if msg, _ := g.Lookup("dbg_panic_msg"); msg != "SV#4 misplaced chSysDisable() ca" {
		t.Fatalf("bad panic message %q", msg)
	}
}
