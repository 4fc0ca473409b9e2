package kernel

// Port is the only path to target memory. Implementations evaluate C
// expressions against the halted target through a debug backend.
//
// Every method fails with an error wrapping ErrUnresolved when the symbol,
// field or memory does not exist on the target, and with an error wrapping
// ErrUnavailable when the backend cannot answer right now (disconnected,
// target running).
type Port interface {
	// EvalText evaluates expr and returns its value as printed by the
	// backend.
	EvalText(expr string) (string, error)
	// EvalNumber evaluates expr and returns it as an integer.
	EvalNumber(expr string) (int64, error)
	// ReadCString reads at most maxLen bytes at addr and decodes them as a
	// NUL terminated string.
	ReadCString(addr Address, maxLen int) (string, error)
	// ScanFill counts the contiguous bytes equal to fill found going from
	// start towards end.
	ScanFill(start, end Address, fill byte) (int64, error)
}

// Flusher is implemented by ports that memoize reads within a snapshot.
// Inspector calls Flush at the start of every read operation so that no
// state survives from one snapshot to the next.
type Flusher interface {
	Flush()
}
