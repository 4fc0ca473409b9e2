// Package kernel reconstructs the state of a halted ChibiOS/RT kernel from
// its data structures in target memory.
//
// All reads go through a Port, one expression at a time. Nothing guarantees
// atomicity across reads: the target may have been halted in the middle of
// an update, may not be initialized yet or may be corrupted. Linked
// structures are therefore walked with explicit integrity checks and every
// read operation either returns a complete snapshot or an error, never a
// partial result.
package kernel

import (
	"errors"

	"github.com/kview/kview/pkg/logflags"
)

// Inspector reads kernel objects through a Port. Each read operation
// produces a fresh snapshot; no state is kept between calls.
// An Inspector is not safe for concurrent use.
type Inspector struct {
	port Port
	log  logflags.Logger
}

// New returns an Inspector reading through port.
func New(port Port) *Inspector {
	return &Inspector{port: port, log: logflags.KernelLogger()}
}

// CheckKernel verifies that the kernel is present and its scheduler has
// been started. It returns nil when the kernel can be inspected,
// ErrNotReady when the target cannot answer right now, ErrKernelNotFound or
// ErrKernelNotInitialized otherwise.
func (in *Inspector) CheckKernel() error {
	n, err := in.port.EvalNumber(currentThreadExpr)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return ErrKernelNotFound
		}
		return notReady(err)
	}
	if n == 0 {
		return ErrKernelNotInitialized
	}
	return nil
}

// begin starts a new snapshot.
func (in *Inspector) begin() error {
	if f, ok := in.port.(Flusher); ok {
		f.Flush()
	}
	return in.CheckKernel()
}

// root resolves the address of a root structure, returning notFound if the
// symbol does not exist.
func (in *Inspector) root(expr string, notFound error) (Address, error) {
	n, err := in.port.EvalNumber(expr)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return 0, notFound
		}
		return 0, notReady(err)
	}
	return Address(n), nil
}

// number reads a field the snapshot cannot do without.
func (in *Inspector) number(expr string) (int64, error) {
	n, err := in.port.EvalNumber(expr)
	if err != nil {
		return 0, in.required(expr, err)
	}
	return n, nil
}

// text reads a field the snapshot cannot do without, as printed by the
// backend.
func (in *Inspector) text(expr string) (Field, error) {
	s, err := in.port.EvalText(expr)
	if err != nil {
		return Field{}, in.required(expr, err)
	}
	return Text(s), nil
}

func (in *Inspector) required(expr string, err error) error {
	if errors.Is(err, ErrUnresolved) {
		return &ReadError{Expr: expr, Err: err}
	}
	return notReady(err)
}

// optional reads a field that some kernel configurations do not have. The
// returned Field carries sentinel if expr cannot be resolved; any other
// failure aborts the snapshot.
func (in *Inspector) optional(expr, sentinel string) (Field, error) {
	n, err := in.port.EvalNumber(expr)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return Missing(sentinel), nil
		}
		return Field{}, notReady(err)
	}
	return Number(n), nil
}

// optionalText is like optional but keeps the text printed by the
// backend.
func (in *Inspector) optionalText(expr, sentinel string) (Field, error) {
	s, err := in.port.EvalText(expr)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return Missing(sentinel), nil
		}
		return Field{}, notReady(err)
	}
	return Text(s), nil
}

// cstring reads a NUL terminated string pointed to by the field at expr.
// NULL pointers read as nullText. Unresolved fields and unreadable memory
// read as missing.
func (in *Inspector) cstring(expr string, maxLen int, nullText, missing string) (string, error) {
	p, err := in.port.EvalNumber(expr)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return missing, nil
		}
		return "", notReady(err)
	}
	if p == 0 {
		return nullText, nil
	}
	s, err := in.port.ReadCString(Address(p), maxLen)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return missing, nil
		}
		return "", notReady(err)
	}
	return s, nil
}

// ring describes a circular doubly linked list anchored by a sentinel head
// that is part of the ring but not an element.
type ring struct {
	name string
	head Address
	next func(Address) string
	prev func(Address) string
	// noNext is returned when the forward link field does not exist. If nil
	// the failure is reported as a ReadError.
	noNext error
}

// walk visits every element of r in forward order, stopping exactly when the
// head is reached again. Each element's backward link must point to the
// element visited before it.
func (in *Inspector) walk(r ring, visit func(Address) error) error {
	seen := make(map[Address]bool)
	current, previous := r.head, r.head
	for {
		expr := r.next(current)
		n, err := in.port.EvalNumber(expr)
		if err != nil {
			if r.noNext != nil && errors.Is(err, ErrUnresolved) {
				return r.noNext
			}
			return in.required(expr, err)
		}
		if n == 0 {
			return &CorruptError{List: r.name, Reason: NullLink, Addr: current}
		}
		current = Address(n)

		back, err := in.number(r.prev(current))
		if err != nil {
			return err
		}
		if back == 0 {
			return &CorruptError{List: r.name, Reason: NullLink, Addr: current}
		}
		if Address(back) != previous {
			return &CorruptError{List: r.name, Reason: ListViolation, Addr: current}
		}

		if current == r.head {
			return nil
		}
		if seen[current] {
			return &CorruptError{List: r.name, Reason: ListViolation, Addr: current}
		}
		seen[current] = true

		if logflags.Kernel() {
			in.log.Debugf("%s: visiting %s", r.name, current)
		}
		if err := visit(current); err != nil {
			return err
		}
		previous = current
	}
}
