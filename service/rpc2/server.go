package rpc2

import (
	"errors"

	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/service"
	"github.com/kview/kview/service/api"
	"github.com/kview/kview/service/debugger"
)

// RPCServer exposes the kernel readers of a Debugger.
type RPCServer struct {
	// config is all the information necessary to start the debugger and server.
	config *service.Config
	// debugger is a debugger service.
	debugger *debugger.Debugger
}

// NewServer creates a new RPCServer.
func NewServer(config *service.Config, debugger *debugger.Debugger) *RPCServer {
	return &RPCServer{config, debugger}
}

// notReady reports whether err means the target is running, in which case
// the reply carries the NotReady flag instead of an error.
func notReady(err error, flag *bool) error {
	if errors.Is(err, kernel.ErrNotReady) {
		*flag = true
		return nil
	}
	return err
}

type DetachIn struct {
}

type DetachOut struct {
}

// Detach disconnects from the backend and stops the server. The target is
// left as it is.
func (s *RPCServer) Detach(arg DetachIn, out *DetachOut) error {
	return s.debugger.Detach()
}

type IsMulticlientIn struct {
}

type IsMulticlientOut struct {
	// IsMulticlient returns true if the headless instance was started with --accept-multiclient
	IsMulticlient bool
}

func (s *RPCServer) IsMulticlient(arg IsMulticlientIn, out *IsMulticlientOut) error {
	*out = IsMulticlientOut{
		IsMulticlient: s.config.AcceptMulti,
	}
	return nil
}

type CheckKernelIn struct {
}

type CheckKernelOut struct {
	NotReady bool
}

// CheckKernel reports whether the target kernel can be read.
func (s *RPCServer) CheckKernel(arg CheckKernelIn, out *CheckKernelOut) error {
	return notReady(s.debugger.CheckKernel(), &out.NotReady)
}

type ThreadsIn struct {
}

type ThreadsOut struct {
	Threads  []api.Thread
	NotReady bool
}

// Threads returns the thread registry, in registry order.
func (s *RPCServer) Threads(arg ThreadsIn, out *ThreadsOut) error {
	l, err := s.debugger.Threads()
	if err != nil {
		return notReady(err, &out.NotReady)
	}
	out.Threads = api.ConvertThreads(l)
	return nil
}

type TimersIn struct {
}

type TimersOut struct {
	Timers   []api.Timer
	NotReady bool
}

// Timers returns the armed virtual timers, in firing order.
func (s *RPCServer) Timers(arg TimersIn, out *TimersOut) error {
	l, err := s.debugger.Timers()
	if err != nil {
		return notReady(err, &out.NotReady)
	}
	out.Timers = api.ConvertTimers(l)
	return nil
}

type TraceIn struct {
}

type TraceOut struct {
	Events   []api.TraceEvent
	NotReady bool
}

// Trace returns the trace buffer, oldest event first.
func (s *RPCServer) Trace(arg TraceIn, out *TraceOut) error {
	evs, err := s.debugger.Trace()
	if err != nil {
		return notReady(err, &out.NotReady)
	}
	out.Events = api.ConvertTrace(evs)
	return nil
}

type GlobalsIn struct {
}

type GlobalsOut struct {
	Globals  []api.KeyValue
	NotReady bool
}

// Globals returns the kernel globals.
func (s *RPCServer) Globals(arg GlobalsIn, out *GlobalsOut) error {
	g, err := s.debugger.Globals()
	if err != nil {
		return notReady(err, &out.NotReady)
	}
	out.Globals = api.ConvertKeyValues(g)
	return nil
}

type StatisticsIn struct {
}

type StatisticsOut struct {
	Counters []api.StatCounter
	NotReady bool
}

// Statistics returns the kernel statistics counters.
func (s *RPCServer) Statistics(arg StatisticsIn, out *StatisticsOut) error {
	stats, err := s.debugger.Statistics()
	if err != nil {
		return notReady(err, &out.NotReady)
	}
	out.Counters = api.ConvertStatistics(stats)
	return nil
}
