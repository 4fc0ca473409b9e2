package kernel

// ThreadSnapshot is the state of one thread found in the registry.
type ThreadSnapshot struct {
	Address     Address
	Stack       Field
	StackLimit  Field
	StackUnused Field
	Name        string
	State       int64
	StateLabel  string
	Flags       int64
	Prio        int64
	Refs        Field
	Time        Field
	WaitObject  Field

	StatsN          Field
	StatsWorst      Field
	StatsCumulative Field
}

// Fields returns the complete ordered field set of the thread.
func (t *ThreadSnapshot) Fields() []KeyValue {
	return []KeyValue{
		{"stack", t.Stack.Text},
		{"stklimit", t.StackLimit.Text},
		{"stkunused", t.StackUnused.Text},
		{"name", t.Name},
		{"state", Number(t.State).Text},
		{"state_s", t.StateLabel},
		{"flags", Number(t.Flags).Text},
		{"prio", Number(t.Prio).Text},
		{"refs", t.Refs.Text},
		{"time", t.Time.Text},
		{"wtobjp", t.WaitObject.Text},
		{"stats_n", t.StatsN.Text},
		{"stats_worst", t.StatsWorst.Text},
		{"stats_cumulative", t.StatsCumulative.Text},
	}
}

// TimerSnapshot is one armed virtual timer.
type TimerSnapshot struct {
	Address Address
	Delta   int64
	Func    Address
	Par     Address
}

// Fields returns the ordered field set of the timer.
func (t *TimerSnapshot) Fields() []KeyValue {
	return []KeyValue{
		{"delta", Number(t.Delta).Text},
		{"func", Number(int64(t.Func)).Text},
		{"par", Number(int64(t.Par)).Text},
	}
}

// TraceType is the tag of a trace record.
type TraceType int64

const (
	TraceUnused TraceType = iota
	TraceReady
	TraceSwitch
	TraceISREnter
	TraceISRLeave
	TraceHalt
	TraceUser
)

func (t TraceType) String() string {
	switch t {
	case TraceUnused:
		return "unused"
	case TraceReady:
		return "ready"
	case TraceSwitch:
		return "switch"
	case TraceISREnter:
		return "isr-enter"
	case TraceISRLeave:
		return "isr-leave"
	case TraceHalt:
		return "halt"
	case TraceUser:
		return "user"
	}
	return UnknownState
}

// TraceEvent is one record of the trace buffer. Index is zero for the
// newest slot and negative for older ones.
type TraceEvent struct {
	Index      int
	Type       TraceType
	State      int64
	StateLabel string
	RTStamp    Field
	Time       Field
	// Payload depends on Type and is nil for tags this package does not
	// know about.
	Payload TracePayload
}

// Fields returns the common fields followed by the payload fields.
func (e *TraceEvent) Fields() []KeyValue {
	kv := []KeyValue{
		{"type", Number(int64(e.Type)).Text},
		{"state", Number(e.State).Text},
		{"state_s", e.StateLabel},
		{"rtstamp", e.RTStamp.Text},
		{"time", e.Time.Text},
	}
	if e.Payload != nil {
		kv = append(kv, e.Payload.Fields()...)
	}
	return kv
}

// TracePayload is the type specific part of a trace record.
type TracePayload interface {
	Fields() []KeyValue
}

// ReadyPayload is carried by TraceReady records.
type ReadyPayload struct {
	Thread Address
	Msg    Field
}

func (p *ReadyPayload) Fields() []KeyValue {
	return []KeyValue{
		{"sw_tp", Number(int64(p.Thread)).Text},
		{"sw_msg", p.Msg.Text},
	}
}

// SwitchPayload is carried by TraceSwitch records.
type SwitchPayload struct {
	Next       Address
	WaitObject Address
}

func (p *SwitchPayload) Fields() []KeyValue {
	return []KeyValue{
		{"sw_ntp", Number(int64(p.Next)).Text},
		{"sw_wtobjp", Number(int64(p.WaitObject)).Text},
	}
}

// ISRPayload is carried by TraceISREnter and TraceISRLeave records.
type ISRPayload struct {
	Name string
}

func (p *ISRPayload) Fields() []KeyValue {
	return []KeyValue{{"isr_name_s", p.Name}}
}

// HaltPayload is carried by TraceHalt records.
type HaltPayload struct {
	Reason string
}

func (p *HaltPayload) Fields() []KeyValue {
	return []KeyValue{{"halt_reason_s", p.Reason}}
}

// UserPayload is carried by TraceUser records.
type UserPayload struct {
	Up1 Field
	Up2 Field
}

func (p *UserPayload) Fields() []KeyValue {
	return []KeyValue{
		{"user_up1", p.Up1.Text},
		{"user_up2", p.Up2.Text},
	}
}

// GlobalSnapshot is the ordered set of kernel globals.
type GlobalSnapshot []KeyValue

// Lookup returns the value stored under key.
func (g GlobalSnapshot) Lookup(key string) (string, bool) {
	for _, kv := range g {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// StatCounter is one kernel statistics block. Sub-fields the kernel does
// not track hold an empty, invalid Field.
type StatCounter struct {
	Name       string
	Best       Field
	Worst      Field
	N          Field
	Cumulative Field
}

// Fields returns the ordered field set of the counter.
func (c *StatCounter) Fields() []KeyValue {
	return []KeyValue{
		{"best", c.Best.Text},
		{"worst", c.Worst.Text},
		{"n", c.N.Text},
		{"cumulative", c.Cumulative.Text},
	}
}
