package kernel

import "errors"

// Bounds on the trace ring geometry. Anything larger is not a ring the
// kernel could have configured.
const (
	maxTraceRecords = 1 << 16
	maxTraceRecSize = 1 << 10
)

// traceLayout locates the trace ring in target memory.
type traceLayout struct {
	size    int64
	recSize int64
	start   Address
	end     Address
	ptr     Address
}

// Trace reads the whole trace buffer, oldest record first. Unused slots are
// skipped, so fewer than size events may be returned, but the indices still
// account for them: the slot under the write cursor is -(size-1) and the
// newest slot is 0.
func (in *Inspector) Trace() ([]TraceEvent, error) {
	if err := in.begin(); err != nil {
		return nil, err
	}
	tb, err := in.traceLayout()
	if err != nil {
		return nil, err
	}

	var events []TraceEvent
	p := tb.ptr
	for i := -tb.size + 1; i <= 0; i++ {
		ev, err := in.traceEvent(p)
		if err != nil {
			return nil, err
		}
		if ev.Type != TraceUnused {
			ev.Index = int(i)
			events = append(events, ev)
		}
		p += Address(tb.recSize)
		if p >= tb.end {
			p = tb.start
		}
	}
	return events, nil
}

func (in *Inspector) traceLayout() (traceLayout, error) {
	var tb traceLayout
	size, err := in.port.EvalNumber(traceSizeExpr)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return tb, ErrTraceBufferNotFound
		}
		return tb, notReady(err)
	}
	tb.size = size
	if tb.recSize, err = in.number(traceRecSizeExpr); err != nil {
		return tb, err
	}
	start, err := in.number(traceStartExpr)
	if err != nil {
		return tb, err
	}
	tb.start = Address(start)
	if tb.size < 0 || tb.size > maxTraceRecords || tb.recSize <= 0 || tb.recSize > maxTraceRecSize {
		return tb, tb.corrupt()
	}
	end, err := in.number(traceEndExpr(size))
	if err != nil {
		return tb, err
	}
	ptr, err := in.number(tracePtrExpr)
	if err != nil {
		return tb, err
	}
	tb.end, tb.ptr = Address(end), Address(ptr)

	if tb.end < tb.start || int64(tb.end-tb.start) != tb.size*tb.recSize {
		return tb, tb.corrupt()
	}
	if tb.size > 0 && (tb.ptr < tb.start || tb.ptr >= tb.end || int64(tb.ptr-tb.start)%tb.recSize != 0) {
		return tb, tb.corrupt()
	}
	return tb, nil
}

func (tb traceLayout) corrupt() error {
	return &CorruptError{List: "trace buffer", Reason: BadLayout, Addr: tb.start}
}

func (in *Inspector) traceEvent(p Address) (TraceEvent, error) {
	var ev TraceEvent
	tag, err := in.number(traceField(p, "type"))
	if err != nil {
		return ev, err
	}
	ev.Type = TraceType(tag)
	if ev.State, err = in.number(traceField(p, "state")); err != nil {
		return ev, err
	}
	ev.StateLabel = StateLabel(ev.State)
	if ev.RTStamp, err = in.text(traceField(p, "rtstamp")); err != nil {
		return ev, err
	}
	if ev.Time, err = in.text(traceField(p, "time")); err != nil {
		return ev, err
	}

	switch ev.Type {
	case TraceReady:
		tp, err := in.number(traceField(p, "u.rdy.tp"))
		if err != nil {
			return ev, err
		}
		msg, err := in.text(traceField(p, "u.rdy.msg"))
		if err != nil {
			return ev, err
		}
		ev.Payload = &ReadyPayload{Thread: Address(tp), Msg: msg}
	case TraceSwitch:
		ntp, err := in.number(traceField(p, "u.sw.ntp"))
		if err != nil {
			return ev, err
		}
		wtobjp, err := in.number(traceField(p, "u.sw.wtobjp"))
		if err != nil {
			return ev, err
		}
		ev.Payload = &SwitchPayload{Next: Address(ntp), WaitObject: Address(wtobjp)}
	case TraceISREnter, TraceISRLeave:
		name, err := in.traceString(traceField(p, "u.isr.name"), isrNameMaxLen)
		if err != nil {
			return ev, err
		}
		ev.Payload = &ISRPayload{Name: name}
	case TraceHalt:
		reason, err := in.traceString(traceField(p, "u.halt.reason"), haltReasonMaxLen)
		if err != nil {
			return ev, err
		}
		ev.Payload = &HaltPayload{Reason: reason}
	case TraceUser:
		up1, err := in.text(traceField(p, "u.user.up1"))
		if err != nil {
			return ev, err
		}
		up2, err := in.text(traceField(p, "u.user.up2"))
		if err != nil {
			return ev, err
		}
		ev.Payload = &UserPayload{Up1: up1, Up2: up2}
	}
	return ev, nil
}

// traceString reads the string pointed to by a required trace field.
func (in *Inspector) traceString(expr string, maxLen int) (string, error) {
	p, err := in.number(expr)
	if err != nil {
		return "", err
	}
	if p == 0 {
		return NullString, nil
	}
	s, err := in.port.ReadCString(Address(p), maxLen)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return NotAvailable, nil
		}
		return "", notReady(err)
	}
	return s, nil
}
