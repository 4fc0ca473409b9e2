// Package logflags configures the per-layer loggers of kview. Every layer
// (kernel object walker, backend wire protocols, RPC service, recorder)
// can be switched on independently with --log-output.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var kernel = false
var gdbWire = false
var dapWire = false
var rpc = false
var recorder = false
var debugger = false

var logOut io.WriteCloser

var textFormatterInstance = &textFormatter{}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

// makeFlaggableLogger returns a logger that only emits errors unless flag
// is set.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Kernel returns true if the kernel object walkers should log every
// structure they visit.
func Kernel() bool {
	return kernel
}

// KernelLogger returns a logger for the kernel package.
func KernelLogger() Logger {
	return makeFlaggableLogger(kernel, Fields{"layer": "kernel"})
}

// GdbWire returns true if the gdbmi package should log all the records
// exchanged with GDB.
func GdbWire() bool {
	return gdbWire
}

// GdbWireLogger returns a configured logger for the GDB/MI wire protocol.
func GdbWireLogger() Logger {
	return makeFlaggableLogger(gdbWire, Fields{"layer": "gdbmi"})
}

// DAPWire returns true if the dapport package should log every message
// exchanged with the debug adapter.
func DAPWire() bool {
	return dapWire
}

// DAPWireLogger returns a configured logger for the DAP wire protocol.
func DAPWireLogger() Logger {
	return makeFlaggableLogger(dapWire, Fields{"layer": "dapport"})
}

// RPC returns true if RPC messages should be logged.
func RPC() bool {
	return rpc
}

// RPCLogger returns a logger for RPC messages.
func RPCLogger() Logger {
	return makeFlaggableLogger(rpc, Fields{"layer": "rpc"})
}

// Recorder returns true if session recording and replay should be logged.
func Recorder() bool {
	return recorder
}

// RecorderLogger returns a logger for the recorder package.
func RecorderLogger() Logger {
	return makeFlaggableLogger(recorder, Fields{"layer": "recorder"})
}

// Debugger returns true if the session layer should log backend selection
// and reader calls.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the session layer.
func DebuggerLogger() Logger {
	return makeFlaggableLogger(debugger, Fields{"layer": "debugger"})
}

// Any returns true if any logging layer is enabled.
func Any() bool {
	return kernel || gdbWire || dapWire || rpc || recorder || debugger
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "kview-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "kernel"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "kernel":
			kernel = true
		case "gdbwire":
			gdbWire = true
		case "dapwire":
			dapWire = true
		case "rpc":
			rpc = true
		case "recorder":
			recorder = true
		case "debugger":
			debugger = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q\n", logcmd)
		}
	}
	return nil
}

// Output returns where logs and the headless listening message go,
// standard output when --log-dest was not used.
func Output() io.Writer {
	if logOut != nil {
		return logOut
	}
	return os.Stdout
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05Z07:00"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(&b, "%v ", layer)
	}
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
