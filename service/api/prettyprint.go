package api

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Lookup returns the value stored under key.
func Lookup(kvs []KeyValue, key string) (string, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// WriteFields writes kvs on a single line as key=value pairs. Values
// containing spaces or empty values are quoted.
func WriteFields(w io.Writer, kvs []KeyValue) {
	for i, kv := range kvs {
		if i > 0 {
			fmt.Fprint(w, " ")
		}
		v := kv.Value
		if v == "" || strings.ContainsAny(v, " \t\"") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(w, "%s=%s", kv.Key, v)
	}
}

// SinglelineString returns the fields of t on a single line.
func (t *Thread) SinglelineString() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "0x%08x ", t.Address)
	WriteFields(&buf, t.Fields)
	return buf.String()
}

// SinglelineString returns the fields of t on a single line.
func (t *Timer) SinglelineString() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "0x%08x ", t.Address)
	WriteFields(&buf, t.Fields)
	return buf.String()
}

// SinglelineString returns the fields of e on a single line.
func (e *TraceEvent) SinglelineString() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %s ", e.Index, e.TypeName)
	WriteFields(&buf, e.Fields)
	return buf.String()
}
