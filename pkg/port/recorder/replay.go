package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kview/kview/pkg/kernel"
)

// Replayer is a kernel.Port answering from a recording. Calls that were
// never recorded fail with kernel.ErrUnresolved. When the same call was
// recorded more than once the last outcome wins.
type Replayer struct {
	entries map[string]*Entry
	misses  int
}

// Open loads the recording at path.
func Open(path string) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReplayer(f)
}

// NewReplayer loads a recording from r, compressed or not.
func NewReplayer(r io.Reader) (*Replayer, error) {
	cr, done, err := compressedReader(r)
	if err != nil {
		return nil, err
	}
	defer done()

	rp := &Replayer{entries: make(map[string]*Entry)}
	dec := json.NewDecoder(cr)
	for line := 1; ; line++ {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("recording entry %d: %w", line, err)
		}
		rp.entries[e.key()] = &e
	}
	return rp, nil
}

// Len returns the number of distinct calls in the recording.
func (rp *Replayer) Len() int {
	return len(rp.entries)
}

// Misses returns how many calls found no recorded answer.
func (rp *Replayer) Misses() int {
	return rp.misses
}

func (rp *Replayer) lookup(q *Entry) (*Entry, error) {
	e, ok := rp.entries[q.key()]
	if !ok {
		rp.misses++
		return nil, fmt.Errorf("%s not in recording: %w", q.key(), kernel.ErrUnresolved)
	}
	return e, e.err()
}

func (rp *Replayer) EvalText(expr string) (string, error) {
	e, err := rp.lookup(&Entry{Op: OpEvalText, Expr: expr})
	if err != nil {
		return "", err
	}
	return e.Text, nil
}

func (rp *Replayer) EvalNumber(expr string) (int64, error) {
	e, err := rp.lookup(&Entry{Op: OpEvalNumber, Expr: expr})
	if err != nil {
		return 0, err
	}
	return e.Number, nil
}

func (rp *Replayer) ReadCString(addr kernel.Address, maxLen int) (string, error) {
	e, err := rp.lookup(&Entry{Op: OpReadCString, Addr: addr, MaxLen: maxLen})
	if err != nil {
		return "", err
	}
	return e.Text, nil
}

func (rp *Replayer) ScanFill(start, end kernel.Address, fill byte) (int64, error) {
	e, err := rp.lookup(&Entry{Op: OpScanFill, Addr: start, End: end, Fill: fill})
	if err != nil {
		return 0, err
	}
	return e.Number, nil
}
