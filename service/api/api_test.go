package api

import (
	"bytes"
	"testing"

	"github.com/kview/kview/pkg/kernel"
)

func TestConvertThread(t *testing.T) {
	th := &kernel.ThreadSnapshot{
		Address:         0x20000400,
		Stack:           kernel.Number(0x20000600),
		StackLimit:      kernel.Number(0x20000500),
		StackUnused:     kernel.Number(40),
		Name:            "main",
		State:           0,
		StateLabel:      kernel.StateLabel(0),
		Prio:            128,
		Refs:            kernel.Missing(kernel.NotAvailable),
		Time:            kernel.Missing(kernel.NotAvailable),
		WaitObject:      kernel.Missing(kernel.NotAvailable),
		StatsN:          kernel.Missing(kernel.NotAvailable),
		StatsWorst:      kernel.Missing(kernel.NotAvailable),
		StatsCumulative: kernel.Missing(kernel.NotAvailable),
	}
	a := ConvertThread(th)
	if a.Address != 0x20000400 || a.Name != "main" || a.Prio != 128 {
		t.Fatalf("bad thread %#v", a)
	}
	if len(a.Fields) != 14 {
		t.Fatalf("expected 14 fields, got %d", len(a.Fields))
	}
	if v, _ := Lookup(a.Fields, "stkunused"); v != "40" {
		t.Fatalf("bad stkunused %q", v)
	}
	if v, _ := Lookup(a.Fields, "refs"); v != "-" {
		t.Fatalf("bad refs %q", v)
	}
	if _, ok := Lookup(a.Fields, "nothere"); ok {
		t.Fatalf("lookup of missing key succeeded")
	}
}

func TestConvertTrace(t *testing.T) {
	evs := []kernel.TraceEvent{
		{Index: -1, Type: kernel.TraceISREnter, State: 0, StateLabel: "READY", RTStamp: kernel.Number(10), Time: kernel.Number(2), Payload: &kernel.ISRPayload{Name: "SysTick"}},
		{Index: 0, Type: 42, StateLabel: "READY", RTStamp: kernel.Number(11), Time: kernel.Number(2)},
	}
	r := ConvertTrace(evs)
	if len(r) != 2 || r[0].TypeName != "isr-enter" || r[1].Index != 0 {
		t.Fatalf("bad trace %#v", r)
	}
	if v, _ := Lookup(r[0].Fields, "isr_name_s"); v != "SysTick" {
		t.Fatalf("bad payload %q", v)
	}
	if len(r[1].Fields) != 5 {
		t.Fatalf("unknown tag should carry the common fields only: %v", r[1].Fields)
	}
}

func TestWriteFields(t *testing.T) {
	var buf bytes.Buffer
	WriteFields(&buf, []KeyValue{{"name", "<no name>"}, {"prio", "64"}, {"best", ""}})
	if s := buf.String(); s != `name="<no name>" prio=64 best=""` {
		t.Fatalf("bad output %s", s)
	}
	tm := Timer{Address: 0x20000a00, Fields: []KeyValue{{"delta", "10"}}}
	if s := tm.SinglelineString(); s != "0x20000a00 delta=10" {
		t.Fatalf("bad timer line %q", s)
	}
}
