package kernel

import (
	"strconv"
	"strings"
)

// Sentinel texts used in place of values that could not be read.
const (
	NotAvailable = "-"
	Overflow     = "overflow"
	NotEnabled   = "<not enabled>"
	NoName       = "<no name>"
	NullString   = "<NULL>"
)

// Field is one display-ready value read from the target. When Valid is
// false Text holds a sentinel and Value is meaningless.
type Field struct {
	Value int64
	Text  string
	Valid bool
}

// Number returns a valid Field for n.
func Number(n int64) Field {
	return Field{Value: n, Text: strconv.FormatInt(n, 10), Valid: true}
}

// Text returns a Field for a value the backend printed as s. The numeric
// value is filled in when s parses as an integer.
func Text(s string) Field {
	s = strings.TrimSpace(s)
	f := Field{Text: s, Valid: true}
	if n, err := ParseNumber(s); err == nil {
		f.Value = n
	}
	return f
}

// Missing returns an invalid Field carrying sentinel.
func Missing(sentinel string) Field {
	return Field{Text: sentinel}
}

func (f Field) String() string {
	return f.Text
}

// KeyValue is one entry of an ordered, display-ready field set.
type KeyValue struct {
	Key   string
	Value string
}

// ParseNumber parses the way debug backends print integers: decimal, or
// hexadecimal with a 0x prefix, optionally followed by a symbolic
// annotation (GDB prints pointers as `0x8001234 <sym>`).
func ParseNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		return int64(n), err
	}
	if strings.HasPrefix(s, "-") {
		return strconv.ParseInt(s, 10, 64)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return int64(n), err
}
