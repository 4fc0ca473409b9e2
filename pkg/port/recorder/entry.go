// Package recorder saves the traffic between the kernel inspector and a
// debug backend so that a session can be replayed later without hardware.
//
// A recording is a zstd compressed stream of JSON lines, one entry per
// Port call.
package recorder

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/kview/kview/pkg/kernel"
)

// Op identifies a Port method.
type Op string

const (
	OpEvalText    Op = "eval-text"
	OpEvalNumber  Op = "eval-number"
	OpReadCString Op = "read-cstring"
	OpScanFill    Op = "scan-fill"
)

// Error classes stored in a recording.
const (
	errClassUnresolved  = "unresolved"
	errClassUnavailable = "unavailable"
	errClassOther       = "error"
)

// Entry is one recorded Port call and its outcome.
type Entry struct {
	Op     Op             `json:"op"`
	Expr   string         `json:"expr,omitempty"`
	Addr   kernel.Address `json:"addr,omitempty"`
	End    kernel.Address `json:"end,omitempty"`
	MaxLen int            `json:"maxLen,omitempty"`
	Fill   byte           `json:"fill,omitempty"`

	Text   string `json:"text,omitempty"`
	Number int64  `json:"number,omitempty"`

	ErrClass string `json:"errClass,omitempty"`
	ErrMsg   string `json:"errMsg,omitempty"`
}

func (e *Entry) key() string {
	switch e.Op {
	case OpEvalText, OpEvalNumber:
		return string(e.Op) + " " + e.Expr
	case OpReadCString:
		return fmt.Sprintf("%s %d %d", e.Op, e.Addr, e.MaxLen)
	case OpScanFill:
		return fmt.Sprintf("%s %d %d %d", e.Op, e.Addr, e.End, e.Fill)
	}
	return string(e.Op)
}

func (e *Entry) setErr(err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, kernel.ErrUnresolved):
		e.ErrClass = errClassUnresolved
	case errors.Is(err, kernel.ErrUnavailable):
		e.ErrClass = errClassUnavailable
	default:
		e.ErrClass = errClassOther
	}
	e.ErrMsg = err.Error()
}

// ReplayError is returned by a Replayer for a call that failed when it was
// recorded.
type ReplayError struct {
	Msg string
	Err error
}

func (err *ReplayError) Error() string {
	return err.Msg
}

func (err *ReplayError) Unwrap() error {
	return err.Err
}

func (e *Entry) err() error {
	switch e.ErrClass {
	case "":
		return nil
	case errClassUnresolved:
		return &ReplayError{Msg: e.ErrMsg, Err: kernel.ErrUnresolved}
	case errClassUnavailable:
		return &ReplayError{Msg: e.ErrMsg, Err: kernel.ErrUnavailable}
	}
	return &ReplayError{Msg: e.ErrMsg}
}

// Compression selects how a recording is stored.
type Compression int

const (
	NoCompression Compression = iota
	ZstdCompression
)

func compressedWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	if c == NoCompression {
		return nopCloser{w}, nil
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return zw, nil
}

func compressedReader(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, nil, err
	}
	if !isZstd(magic) {
		return br, func() {}, nil
	}
	zr, err := zstd.NewReader(br)
	if err != nil {
		return nil, nil, err
	}
	return zr, zr.Close, nil
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func isZstd(b []byte) bool {
	return bytes.HasPrefix(b, zstdMagic)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
