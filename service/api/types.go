package api

// KeyValue is one display-ready field.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Thread is a thread found in the kernel registry.
type Thread struct {
	// Address is the address of the thread structure in target memory.
	Address uint64 `json:"address"`
	// Name is the thread name, "<no name>" if it has none.
	Name string `json:"name"`
	// State is the raw state code and StateLabel its name.
	State      int64  `json:"state"`
	StateLabel string `json:"stateLabel"`
	Prio       int64  `json:"prio"`
	// Fields is the complete ordered field set, unreadable fields hold "-".
	Fields []KeyValue `json:"fields"`
}

// Timer is an armed virtual timer.
type Timer struct {
	Address uint64     `json:"address"`
	Delta   int64      `json:"delta"`
	Func    uint64     `json:"func"`
	Par     uint64     `json:"par"`
	Fields  []KeyValue `json:"fields"`
}

// TraceEvent is one record of the kernel trace buffer.
type TraceEvent struct {
	// Index is zero for the newest record and negative for older ones.
	Index int `json:"index"`
	// Type is the record tag and TypeName its name.
	Type       int64  `json:"type"`
	TypeName   string `json:"typeName"`
	State      int64  `json:"state"`
	StateLabel string `json:"stateLabel"`
	// Fields holds the common fields followed by the payload fields.
	Fields []KeyValue `json:"fields"`
}

// StatCounter is one kernel statistics block.
type StatCounter struct {
	Name   string     `json:"name"`
	Fields []KeyValue `json:"fields"`
}

// GetVersionIn is the argument of RPCServer.GetVersion.
type GetVersionIn struct {
}

// GetVersionOut is the result of RPCServer.GetVersion.
type GetVersionOut struct {
	KviewVersion string
	APIVersion   int
	Backend      string
	// BackendVersion is the version of the GDB being driven, if known.
	BackendVersion string
}
