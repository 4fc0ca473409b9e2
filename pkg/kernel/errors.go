package kernel

import (
	"errors"
	"fmt"
)

// Classification of Port failures.
var (
	ErrUnresolved  = errors.New("expression could not be resolved on target")
	ErrUnavailable = errors.New("debug backend unavailable")
)

// ErrNotReady is not a failure: the target is running or the backend had a
// transient problem and the caller should try again later.
var ErrNotReady = errors.New("target is running")

var (
	ErrKernelNotFound       = errors.New("ChibiOS/RT not found on target")
	ErrKernelNotInitialized = errors.New("ChibiOS/RT not yet initialized")
	ErrRegistryNotFound     = errors.New("ready list not found on target")
	ErrRegistryDisabled     = errors.New("ChibiOS/RT registry not enabled in kernel")
	ErrTimerListNotFound    = errors.New("virtual timers list not found on target")
	ErrTraceBufferNotFound  = errors.New("trace buffer not found on target")
	ErrGlobalStateNotFound  = errors.New("kernel globals not found on target")
	ErrStatisticsNotFound   = errors.New("statistics info structure not found on target")
)

// CorruptReason describes which integrity check failed.
type CorruptReason uint8

const (
	NullLink CorruptReason = iota
	ListViolation
	BadLayout
)

func (r CorruptReason) String() string {
	switch r {
	case NullLink:
		return "NULL pointer"
	case ListViolation:
		return "double linked list violation"
	case BadLayout:
		return "bad layout"
	}
	return fmt.Sprintf("CorruptReason(%d)", uint8(r))
}

// CorruptError is returned when a structure read from the target fails an
// integrity check. The snapshot that produced it cannot be trusted.
type CorruptError struct {
	List   string
	Reason CorruptReason
	Addr   Address
}

func (err *CorruptError) Error() string {
	return fmt.Sprintf("%s integrity check failed at %s, %s", err.List, err.Addr, err.Reason)
}

// ReadError is returned when a field required to complete a snapshot could
// not be read.
type ReadError struct {
	Expr string
	Err  error
}

func (err *ReadError) Error() string {
	return fmt.Sprintf("could not read %s: %v", err.Expr, err.Err)
}

func (err *ReadError) Unwrap() error {
	return err.Err
}

// IsCorrupt returns true if err reports a failed integrity check.
func IsCorrupt(err error) bool {
	var cerr *CorruptError
	return errors.As(err, &cerr)
}

// notReady converts a backend failure into ErrNotReady, keeping the cause
// in the message.
func notReady(err error) error {
	if errors.Is(err, ErrNotReady) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNotReady, err)
}
