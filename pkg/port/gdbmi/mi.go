package gdbmi

import (
	"fmt"
	"strconv"
	"strings"
)

// recordKind is the first character of an MI output record, after the
// optional token.
type recordKind byte

const (
	kindResult  recordKind = '^'
	kindExec    recordKind = '*'
	kindStatus  recordKind = '+'
	kindNotify  recordKind = '='
	kindConsole recordKind = '~'
	kindTarget  recordKind = '@'
	kindLog     recordKind = '&'
	kindPrompt  recordKind = '('
)

// record is one line of MI output.
type record struct {
	token   int
	kind    recordKind
	class   string
	results map[string]interface{}
	// stream is the decoded text of stream records.
	stream string
}

func (r *record) str(key string) string {
	s, _ := r.results[key].(string)
	return s
}

// MISyntaxError is returned for output lines that are not valid MI.
type MISyntaxError struct {
	Line string
	Pos  int
	Msg  string
}

func (err *MISyntaxError) Error() string {
	return fmt.Sprintf("malformed MI output at %d (%s): %q", err.Pos, err.Msg, err.Line)
}

// parseRecord parses one line of MI output. Values are strings, tuples are
// map[string]interface{} and lists are []interface{}.
func parseRecord(line string) (*record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "(gdb)") {
		return &record{kind: kindPrompt}, nil
	}
	p := &miParser{s: line}
	r := &record{token: -1}

	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if p.pos > start {
		r.token, _ = strconv.Atoi(p.s[start:p.pos])
	}
	if p.pos >= len(p.s) {
		return nil, p.errorf("missing record type")
	}
	r.kind = recordKind(p.s[p.pos])
	p.pos++

	switch r.kind {
	case kindConsole, kindTarget, kindLog:
		s, err := p.cstring()
		if err != nil {
			return nil, err
		}
		r.stream = s
		return r, nil
	case kindResult, kindExec, kindStatus, kindNotify:
	default:
		return nil, p.errorf("unknown record type")
	}

	r.class = p.ident()
	r.results = make(map[string]interface{})
	for p.pos < len(p.s) {
		if !p.accept(',') {
			return nil, p.errorf("expected ','")
		}
		k, v, err := p.result()
		if err != nil {
			return nil, err
		}
		r.results[k] = v
	}
	return r, nil
}

type miParser struct {
	s   string
	pos int
}

func (p *miParser) errorf(format string, args ...interface{}) error {
	return &MISyntaxError{Line: p.s, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *miParser) accept(c byte) bool {
	if p.pos < len(p.s) && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *miParser) ident() string {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '=' || c == ',' || c == '{' || c == '}' || c == '[' || c == ']' || c == '"' {
			break
		}
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *miParser) result() (string, interface{}, error) {
	k := p.ident()
	if !p.accept('=') {
		return "", nil, p.errorf("expected '=' after %q", k)
	}
	v, err := p.value()
	return k, v, err
}

func (p *miParser) value() (interface{}, error) {
	if p.pos >= len(p.s) {
		return nil, p.errorf("missing value")
	}
	switch p.s[p.pos] {
	case '"':
		return p.cstring()
	case '{':
		p.pos++
		t := make(map[string]interface{})
		if p.accept('}') {
			return t, nil
		}
		for {
			k, v, err := p.result()
			if err != nil {
				return nil, err
			}
			t[k] = v
			if p.accept('}') {
				return t, nil
			}
			if !p.accept(',') {
				return nil, p.errorf("expected ',' or '}'")
			}
		}
	case '[':
		p.pos++
		var l []interface{}
		if p.accept(']') {
			return l, nil
		}
		for {
			var v interface{}
			var err error
			if p.pos < len(p.s) && (p.s[p.pos] == '"' || p.s[p.pos] == '{' || p.s[p.pos] == '[') {
				v, err = p.value()
			} else {
				// lists of results, as in frame=..., frame=...
				_, v, err = p.result()
			}
			if err != nil {
				return nil, err
			}
			l = append(l, v)
			if p.accept(']') {
				return l, nil
			}
			if !p.accept(',') {
				return nil, p.errorf("expected ',' or ']'")
			}
		}
	}
	return nil, p.errorf("unexpected %q", p.s[p.pos])
}

// cstring decodes a C string literal starting at the current position.
func (p *miParser) cstring() (string, error) {
	if !p.accept('"') {
		return "", p.errorf("expected '\"'")
	}
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		p.pos++
		switch c {
		case '"':
			return b.String(), nil
		case '\\':
			if p.pos >= len(p.s) {
				return "", p.errorf("truncated escape")
			}
			e := p.s[p.pos]
			p.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0', '1', '2', '3', '4', '5', '6', '7':
				end := p.pos - 1
				for end < len(p.s) && end < p.pos+2 && p.s[end] >= '0' && p.s[end] <= '7' {
					end++
				}
				n, _ := strconv.ParseUint(p.s[p.pos-1:end], 8, 8)
				b.WriteByte(byte(n))
				p.pos = end
			default:
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", p.errorf("unterminated string")
}

// quote encodes s as an MI C string argument.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
