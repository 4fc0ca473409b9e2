package service

import (
	"github.com/kview/kview/service/api"
)

// Client represents a kview service client. All client methods are
// synchronous. Readers return kernel.ErrNotReady when the target is not
// halted.
type Client interface {
	// GetVersion returns version information about the server.
	GetVersion() (*api.GetVersionOut, error)

	// CheckKernel reports whether the target kernel can be read.
	CheckKernel() error

	// Threads returns the thread registry, in registry order.
	Threads() ([]api.Thread, error)
	// Timers returns the armed virtual timers, in firing order.
	Timers() ([]api.Timer, error)
	// Trace returns the trace buffer, oldest event first.
	Trace() ([]api.TraceEvent, error)
	// Globals returns the kernel globals.
	Globals() ([]api.KeyValue, error)
	// Statistics returns the kernel statistics counters.
	Statistics() ([]api.StatCounter, error)

	// Detach disconnects the server from the backend and stops it.
	Detach() error

	// IsMulticlient returns true if the headless instance is multiclient.
	IsMulticlient() bool

	// Disconnect closes the connection to the server without sending a Detach request first.
	Disconnect() error
}
