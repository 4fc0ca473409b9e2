package recorder

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/pkg/logflags"
)

// Recorder is a kernel.Port that forwards every call to another port and
// appends the call and its outcome to a recording.
type Recorder struct {
	kernel.Port

	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	w       io.WriteCloser
	enc     *json.Encoder
	entries int
	werr    error
	log     logflags.Logger
}

// Create records the traffic of p into a new file at path.
func Create(path string, p kernel.Port) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f, p, ZstdCompression)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewRecorder records the traffic of p into w.
func NewRecorder(w io.Writer, p kernel.Port, c Compression) (*Recorder, error) {
	buf := bufio.NewWriter(w)
	cw, err := compressedWriter(buf, c)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		Port: p,
		buf:  buf,
		w:    cw,
		enc:  json.NewEncoder(cw),
		log:  logflags.RecorderLogger(),
	}, nil
}

func (r *Recorder) record(e *Entry, err error) {
	e.setErr(err)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.werr != nil {
		return
	}
	if r.werr = r.enc.Encode(e); r.werr != nil {
		r.log.Errorf("recording stopped: %v", r.werr)
		return
	}
	r.entries++
	if logflags.Recorder() {
		r.log.Debugf("%s %s", e.Op, e.key())
	}
}

func (r *Recorder) EvalText(expr string) (string, error) {
	s, err := r.Port.EvalText(expr)
	r.record(&Entry{Op: OpEvalText, Expr: expr, Text: s}, err)
	return s, err
}

func (r *Recorder) EvalNumber(expr string) (int64, error) {
	n, err := r.Port.EvalNumber(expr)
	r.record(&Entry{Op: OpEvalNumber, Expr: expr, Number: n}, err)
	return n, err
}

func (r *Recorder) ReadCString(addr kernel.Address, maxLen int) (string, error) {
	s, err := r.Port.ReadCString(addr, maxLen)
	r.record(&Entry{Op: OpReadCString, Addr: addr, MaxLen: maxLen, Text: s}, err)
	return s, err
}

func (r *Recorder) ScanFill(start, end kernel.Address, fill byte) (int64, error) {
	n, err := r.Port.ScanFill(start, end, fill)
	r.record(&Entry{Op: OpScanFill, Addr: start, End: end, Fill: fill, Number: n}, err)
	return n, err
}

// Flush implements kernel.Flusher for the wrapped port.
func (r *Recorder) Flush() {
	if f, ok := r.Port.(kernel.Flusher); ok {
		f.Flush()
	}
}

// Entries returns the number of entries written so far.
func (r *Recorder) Entries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}

// Close terminates the recording. The wrapped port is not closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.w.Close()
	if ferr := r.buf.Flush(); err == nil {
		err = ferr
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	if err == nil {
		err = r.werr
	}
	r.log.Infof("recorded %d entries", r.entries)
	return err
}
