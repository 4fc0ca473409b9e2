package api

import (
	"github.com/kview/kview/pkg/kernel"
)

// ConvertKeyValues converts an ordered field set.
func ConvertKeyValues(kvs []kernel.KeyValue) []KeyValue {
	r := make([]KeyValue, len(kvs))
	for i := range kvs {
		r[i] = KeyValue{Key: kvs[i].Key, Value: kvs[i].Value}
	}
	return r
}

// ConvertThread converts a registry snapshot entry to an API Thread.
func ConvertThread(th *kernel.ThreadSnapshot) Thread {
	return Thread{
		Address:    uint64(th.Address),
		Name:       th.Name,
		State:      th.State,
		StateLabel: th.StateLabel,
		Prio:       th.Prio,
		Fields:     ConvertKeyValues(th.Fields()),
	}
}

// ConvertThreads converts a registry snapshot, keeping its order.
func ConvertThreads(l *kernel.ThreadList) []Thread {
	r := make([]Thread, 0, l.Len())
	for _, th := range l.Values() {
		th := th
		r = append(r, ConvertThread(&th))
	}
	return r
}

// ConvertTimer converts a delta list entry to an API Timer.
func ConvertTimer(t *kernel.TimerSnapshot) Timer {
	return Timer{
		Address: uint64(t.Address),
		Delta:   t.Delta,
		Func:    uint64(t.Func),
		Par:     uint64(t.Par),
		Fields:  ConvertKeyValues(t.Fields()),
	}
}

// ConvertTimers converts a delta list snapshot, keeping its order.
func ConvertTimers(l *kernel.TimerList) []Timer {
	r := make([]Timer, 0, l.Len())
	for _, t := range l.Values() {
		t := t
		r = append(r, ConvertTimer(&t))
	}
	return r
}

// ConvertTraceEvent converts a trace record.
func ConvertTraceEvent(e *kernel.TraceEvent) TraceEvent {
	return TraceEvent{
		Index:      e.Index,
		Type:       int64(e.Type),
		TypeName:   e.Type.String(),
		State:      e.State,
		StateLabel: e.StateLabel,
		Fields:     ConvertKeyValues(e.Fields()),
	}
}

// ConvertTrace converts the trace buffer, keeping its order.
func ConvertTrace(evs []kernel.TraceEvent) []TraceEvent {
	r := make([]TraceEvent, len(evs))
	for i := range evs {
		r[i] = ConvertTraceEvent(&evs[i])
	}
	return r
}

// ConvertStatistics converts the statistics counters.
func ConvertStatistics(stats []kernel.StatCounter) []StatCounter {
	r := make([]StatCounter, len(stats))
	for i := range stats {
		r[i] = StatCounter{Name: stats[i].Name, Fields: ConvertKeyValues(stats[i].Fields())}
	}
	return r
}
