package debugger

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/kview/kview/pkg/config"
	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/pkg/logflags"
	"github.com/kview/kview/pkg/port/cache"
	"github.com/kview/kview/pkg/port/dapport"
	"github.com/kview/kview/pkg/port/gdbmi"
	"github.com/kview/kview/pkg/port/recorder"
)

// Debugger service.
//
// Debugger owns the backend connection and the kernel.Inspector reading
// through it. Calls are serialized, the Inspector is not safe for
// concurrent use.
type Debugger struct {
	config *Config

	targetMutex sync.Mutex
	port        kernel.Port
	inspector   *kernel.Inspector
	cache       *cache.Port
	recorder    *recorder.Recorder
	backend     io.Closer
	backendVer  string
	detached    bool

	log logflags.Logger
}

// Config provides the configuration to start a Debugger.
//
// Backend selects how the target is reached: GDB is started with
// GdbCommand and GdbInit, a debug adapter is reached at DAPAddr, a
// recording is replayed from ReplayFile.
type Config struct {
	// Backend is one of config.BackendGDB, config.BackendDAP or
	// config.BackendReplay.
	Backend string

	// Program is the ELF image of the firmware, loaded into GDB.
	Program string
	// GdbCommand is the command line used to start GDB.
	GdbCommand string
	// GdbInit is a list of commands run after GDB starts.
	GdbInit []string

	// DAPAddr is the address of the debug adapter.
	DAPAddr string
	// DAPAttach holds the arguments of the attach request.
	DAPAttach map[string]interface{}

	// ReplayFile is the recording served by the replay backend.
	ReplayFile string

	// RecordFile, when not empty, records every backend call.
	RecordFile string

	// Timeout bounds a single backend request.
	Timeout time.Duration

	// CacheSize is the number of strings cached during one reader call,
	// zero selects cache.DefaultSize.
	CacheSize int

	// Port, when not nil, is used instead of opening Backend.
	Port kernel.Port
}

// New creates a new Debugger connected to the backend described by config.
func New(config *Config) (*Debugger, error) {
	d := &Debugger{
		config: config,
		log:    logflags.DebuggerLogger(),
	}

	p, err := d.open()
	if err != nil {
		return nil, err
	}
	if c, ok := p.(io.Closer); ok {
		d.backend = c
	}
	if v, ok := p.(versioned); ok && v.Version() != nil {
		d.backendVer = v.Version().String()
		d.log.Infof("%s backend version %s", d.Backend(), d.backendVer)
	}

	if config.RecordFile != "" {
		d.log.Infof("recording session to %s", config.RecordFile)
		r, err := recorder.Create(config.RecordFile, p)
		if err != nil {
			d.closeBackend()
			return nil, fmt.Errorf("could not start recording: %v", err)
		}
		d.recorder = r
		p = r
	}

	size := config.CacheSize
	if size <= 0 {
		size = cache.DefaultSize
	}
	c, err := cache.New(p, size)
	if err != nil {
		d.Detach()
		return nil, err
	}
	d.cache = c
	d.port = c
	d.inspector = kernel.New(c)
	return d, nil
}

func (d *Debugger) open() (kernel.Port, error) {
	if d.config.Port != nil {
		return d.config.Port, nil
	}
	switch d.config.Backend {
	case config.BackendGDB, "":
		d.log.Infof("launching GDB with program %q", d.config.Program)
		p, err := gdbmi.Launch(gdbmi.Config{
			Command: d.config.GdbCommand,
			Program: d.config.Program,
			Init:    d.config.GdbInit,
			Timeout: d.config.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.BackendDAP:
		d.log.Infof("connecting to debug adapter at %s", d.config.DAPAddr)
		p, err := dapport.Dial(d.config.DAPAddr, dapport.Config{
			Attach:  d.config.DAPAttach,
			Timeout: d.config.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("could not attach to debug adapter: %v", err)
		}
		return p, nil
	case config.BackendReplay:
		d.log.Infof("replaying %s", d.config.ReplayFile)
		p, err := recorder.Open(d.config.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("could not open recording: %v", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown backend %q", d.config.Backend)
}

// Backend returns the name of the backend in use.
func (d *Debugger) Backend() string {
	if d.config.Port != nil {
		return "custom"
	}
	if d.config.Backend == "" {
		return config.BackendGDB
	}
	return d.config.Backend
}

// versioned is implemented by backends that know the version of the
// debugger they drive.
type versioned interface {
	Version() *semver.Version
}

// BackendVersion returns the version reported by the backend, or an empty
// string if it has none.
func (d *Debugger) BackendVersion() string {
	return d.backendVer
}

// Recording returns the path of the session recording, if any.
func (d *Debugger) Recording() string {
	return d.config.RecordFile
}

var errDetached = errors.New("debugger detached")

func (d *Debugger) lock() error {
	d.targetMutex.Lock()
	if d.detached {
		d.targetMutex.Unlock()
		return errDetached
	}
	return nil
}

func (d *Debugger) logCall(what string, n int, err error) {
	if !logflags.Debugger() {
		return
	}
	if err != nil {
		d.log.Debugf("%s: %v", what, err)
		return
	}
	hits, misses := d.cache.Stats()
	d.log.Debugf("%s: %d items (string cache %d hits, %d misses)", what, n, hits, misses)
}

// CheckKernel reports whether the target kernel can be read.
func (d *Debugger) CheckKernel() error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.targetMutex.Unlock()
	err := d.inspector.CheckKernel()
	d.logCall("check kernel", 0, err)
	return err
}

// Threads returns the thread registry.
func (d *Debugger) Threads() (*kernel.ThreadList, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.targetMutex.Unlock()
	l, err := d.inspector.Threads()
	d.logCall("threads", l.Len(), err)
	return l, err
}

// Timers returns the armed virtual timers.
func (d *Debugger) Timers() (*kernel.TimerList, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.targetMutex.Unlock()
	l, err := d.inspector.Timers()
	d.logCall("timers", l.Len(), err)
	return l, err
}

// Trace returns the trace buffer, oldest event first.
func (d *Debugger) Trace() ([]kernel.TraceEvent, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.targetMutex.Unlock()
	evs, err := d.inspector.Trace()
	d.logCall("trace", len(evs), err)
	return evs, err
}

// Globals returns the kernel globals.
func (d *Debugger) Globals() (kernel.GlobalSnapshot, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.targetMutex.Unlock()
	g, err := d.inspector.Globals()
	d.logCall("globals", len(g), err)
	return g, err
}

// Statistics returns the kernel statistics counters.
func (d *Debugger) Statistics() ([]kernel.StatCounter, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.targetMutex.Unlock()
	s, err := d.inspector.Statistics()
	d.logCall("statistics", len(s), err)
	return s, err
}

// Detach stops the recording and disconnects from the backend. The target
// is left as it is.
func (d *Debugger) Detach() error {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	if d.detached {
		return nil
	}
	d.detached = true
	var err error
	if d.recorder != nil {
		d.log.Infof("recorded %d calls to %s", d.recorder.Entries(), d.config.RecordFile)
		err = d.recorder.Close()
	}
	if cerr := d.closeBackend(); err == nil {
		err = cerr
	}
	return err
}

func (d *Debugger) closeBackend() error {
	if d.backend == nil || d.config.Port != nil {
		return nil
	}
	return d.backend.Close()
}
