package debugger

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/kview/kview/pkg/config"
	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/pkg/kernel/kerneltest"
)

func TestReaders(t *testing.T) {
	d, err := New(&Config{Port: kerneltest.New()})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Detach()

	if err := d.CheckKernel(); err != nil {
		t.Fatalf("CheckKernel: %v", err)
	}
	threads, err := d.Threads()
	if err != nil || threads.Len() != 2 {
		t.Fatalf("Threads: %d %v", threads.Len(), err)
	}
	timers, err := d.Timers()
	if err != nil || timers.Len() != 2 {
		t.Fatalf("Timers: %d %v", timers.Len(), err)
	}
	evs, err := d.Trace()
	if err != nil || len(evs) != 3 {
		t.Fatalf("Trace: %d %v", len(evs), err)
	}
	g, err := d.Globals()
	if err != nil || len(g) != 7 {
		t.Fatalf("Globals: %d %v", len(g), err)
	}
	s, err := d.Statistics()
	if err != nil || len(s) != 4 {
		t.Fatalf("Statistics: %d %v", len(s), err)
	}
	if d.Backend() != "custom" {
		t.Fatalf("bad backend %q", d.Backend())
	}
}

type versionedTarget struct {
	*kerneltest.Target
}

func (versionedTarget) Version() *semver.Version {
	return semver.MustParse("12.1.0")
}

func TestBackendVersion(t *testing.T) {
	d, err := New(&Config{Port: versionedTarget{kerneltest.New()}})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Detach()
	if d.BackendVersion() != "12.1.0" {
		t.Fatalf("bad backend version %q", d.BackendVersion())
	}
	if _, err := d.Threads(); err != nil {
		t.Fatalf("Threads: %v", err)
	}

	plain, err := New(&Config{Port: kerneltest.New()})
	if err != nil {
		t.Fatal(err)
	}
	defer plain.Detach()
	if plain.BackendVersion() != "" {
		t.Fatalf("unexpected backend version %q", plain.BackendVersion())
	}
}

func TestNotReady(t *testing.T) {
	target := kerneltest.New()
	d, err := New(&Config{Port: target})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Detach()
	target.SetRunning(true)
	if _, err := d.Threads(); !errors.Is(err, kernel.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestDetach(t *testing.T) {
	d, err := New(&Config{Port: kerneltest.New()})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Detach(); err != nil {
		t.Fatal(err)
	}
	if err := d.Detach(); err != nil {
		t.Fatalf("second Detach: %v", err)
	}
	if _, err := d.Globals(); err != errDetached {
		t.Fatalf("expected errDetached, got %v", err)
	}
}

func TestRecordAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.kvr")

	rec, err := New(&Config{Port: kerneltest.New(), RecordFile: path})
	if err != nil {
		t.Fatal(err)
	}
	threads, err := rec.Threads()
	if err != nil {
		t.Fatal(err)
	}
	evs, err := rec.Trace()
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Detach(); err != nil {
		t.Fatal(err)
	}

	rp, err := New(&Config{Backend: config.BackendReplay, ReplayFile: path})
	if err != nil {
		t.Fatal(err)
	}
	defer rp.Detach()
	if rp.Backend() != config.BackendReplay {
		t.Fatalf("bad backend %q", rp.Backend())
	}
	threads2, err := rp.Threads()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(threads.Values(), threads2.Values()) {
		t.Fatalf("replayed threads differ:\n%v\n%v", threads.Values(), threads2.Values())
	}
	evs2, err := rp.Trace()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(evs, evs2) {
		t.Fatalf("replayed trace differs:\n%v\n%v", evs, evs2)
	}
	// never recorded
	if _, err := rp.Timers(); !errors.Is(err, kernel.ErrTimerListNotFound) {
		t.Fatalf("expected ErrTimerListNotFound from replay, got %v", err)
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := New(&Config{Backend: "jtag"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
