// Package gdbmi implements kernel.Port on top of a GDB process driven
// through the GDB Machine Interface.
package gdbmi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cosiner/argv"

	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/pkg/logflags"
)

// DefaultCommand is used when Config.Command is empty.
const DefaultCommand = "arm-none-eabi-gdb"

// MinVersion is the first GDB release with -data-read-memory-bytes.
const MinVersion = ">= 7.2"

// scanChunk is the number of bytes read at a time by ScanFill.
const scanChunk = 256

// Config describes how to start GDB.
type Config struct {
	// Command is the GDB command line, parsed with shell quoting rules.
	Command string
	// Program is the ELF image loaded into GDB, may be empty.
	Program string
	// Init is a list of commands executed after GDB starts, for example
	// "target extended-remote :3333".
	Init []string
	// Timeout bounds every command, zero means no limit.
	Timeout time.Duration
}

// ErrVersion is returned when the GDB version is too old.
var ErrVersion = errors.New("unsupported GDB version")

// Port is a kernel.Port backed by GDB.
type Port struct {
	mu   sync.Mutex
	conn *miConn

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	version *semver.Version
	log     logflags.Logger
}

// Launch starts GDB as described by cfg and prepares it to evaluate
// expressions.
func Launch(cfg Config) (*Port, error) {
	cmdline := cfg.Command
	if cmdline == "" {
		cmdline = DefaultCommand
	}
	v, err := argv.Argv(cmdline,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 || len(v[0]) == 0 {
		return nil, fmt.Errorf("illegal GDB command line '%s'", cmdline)
	}
	args := append(v[0][1:], "--nx", "--quiet", "--interpreter=mi2")
	if cfg.Program != "" {
		args = append(args, cfg.Program)
	}

	cmd := exec.Command(v[0][0], args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start GDB: %v", err)
	}

	p := newPort(stdout, stdin, cfg.Timeout)
	p.cmd = cmd
	p.stdin = stdin
	if err := p.init(cfg.Init); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// New drives an already running GDB/MI session over r and w.
func New(r io.Reader, w io.Writer, cfg Config) (*Port, error) {
	p := newPort(r, w, cfg.Timeout)
	if err := p.init(cfg.Init); err != nil {
		return nil, err
	}
	return p, nil
}

func newPort(r io.Reader, w io.Writer, timeout time.Duration) *Port {
	return &Port{
		conn: newConn(r, w, timeout),
		log:  logflags.GdbWireLogger(),
	}
}

func (p *Port) init(cmds []string) error {
	if err := p.checkVersion(); err != nil {
		return err
	}
	for _, c := range []string{"-gdb-set confirm off", "-gdb-set pagination off", "-gdb-set print pretty off"} {
		if _, err := p.conn.exec(c); err != nil {
			return err
		}
	}
	for _, c := range cmds {
		if len(c) == 0 || c[0] != '-' {
			c = "-interpreter-exec console " + quote(c)
		}
		if _, err := p.conn.exec(c); err != nil {
			return fmt.Errorf("init command %q: %v", c, err)
		}
	}
	return nil
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// parseVersion extracts the version from the first line of the
// -gdb-version banner. Vendor strings in parentheses may contain version
// numbers too, the GDB version is the last one.
func parseVersion(banner string) (*semver.Version, error) {
	line := banner
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	all := versionRe.FindAllStringSubmatch(line, -1)
	if !strings.HasPrefix(line, "GNU gdb") || len(all) == 0 {
		return nil, fmt.Errorf("%w: could not parse %q", ErrVersion, line)
	}
	m := all[len(all)-1]
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	return semver.NewVersion(fmt.Sprintf("%s.%s.%s", m[1], m[2], patch))
}

func (p *Port) checkVersion() error {
	p.conn.takeConsole()
	if _, err := p.conn.exec("-gdb-version"); err != nil {
		return err
	}
	v, err := parseVersion(p.conn.takeConsole())
	if err != nil {
		return err
	}
	c, err := semver.NewConstraint(MinVersion)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s, need %s", ErrVersion, v, MinVersion)
	}
	p.version = v
	p.log.Infof("GDB version %s", v)
	return nil
}

// Version returns the version of the GDB being driven.
func (p *Port) Version() *semver.Version {
	return p.version
}

func (p *Port) exec(cmd string) (*record, error) {
	if p.conn.isRunning() {
		return nil, fmt.Errorf("target is running: %w", kernel.ErrUnavailable)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.exec(cmd)
}

func (p *Port) EvalText(expr string) (string, error) {
	rec, err := p.exec("-data-evaluate-expression " + quote(expr))
	if err != nil {
		return "", err
	}
	return rec.str("value"), nil
}

func (p *Port) EvalNumber(expr string) (int64, error) {
	s, err := p.EvalText(expr)
	if err != nil {
		return 0, err
	}
	n, err := kernel.ParseNumber(s)
	if err != nil {
		return 0, fmt.Errorf("%s evaluated to %q: %w", expr, s, kernel.ErrUnresolved)
	}
	return n, nil
}

// readMemory reads n bytes at addr. Unreadable memory at the end of the
// range shortens the result.
func (p *Port) readMemory(addr kernel.Address, n int) ([]byte, error) {
	rec, err := p.exec(fmt.Sprintf("-data-read-memory-bytes %d %d", uint64(addr), n))
	if err != nil {
		return nil, err
	}
	blocks, _ := rec.results["memory"].([]interface{})
	var buf []byte
	for _, b := range blocks {
		blk, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		begin, _ := blk["begin"].(string)
		start, err := kernel.ParseNumber(begin)
		if err != nil || kernel.Address(start) != addr+kernel.Address(len(buf)) {
			break
		}
		contents, _ := blk["contents"].(string)
		data, err := hex.DecodeString(contents)
		if err != nil {
			return nil, fmt.Errorf("bad memory contents %q: %v", contents, err)
		}
		buf = append(buf, data...)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("cannot access memory at address %s: %w", addr, kernel.ErrUnresolved)
	}
	return buf, nil
}

func (p *Port) ReadCString(addr kernel.Address, maxLen int) (string, error) {
	buf, err := p.readMemory(addr, maxLen)
	if err != nil {
		return "", err
	}
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

func (p *Port) ScanFill(start, end kernel.Address, fill byte) (int64, error) {
	var n int64
	for a := start; a < end; {
		sz := scanChunk
		if rem := int(end - a); rem < sz {
			sz = rem
		}
		buf, err := p.readMemory(a, sz)
		if err != nil {
			if n > 0 && errors.Is(err, kernel.ErrUnresolved) {
				return n, nil
			}
			return 0, err
		}
		for _, c := range buf {
			if c != fill {
				return n, nil
			}
			n++
		}
		if len(buf) < sz {
			break
		}
		a += kernel.Address(len(buf))
	}
	return n, nil
}

// Close terminates the GDB session.
func (p *Port) Close() error {
	p.mu.Lock()
	p.conn.exec("-gdb-exit")
	p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	p.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		p.cmd.Process.Kill()
		return <-done
	}
}
