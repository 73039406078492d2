package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func writeFakeProc(t *testing.T, procs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for pid, comm := range procs {
		if err := os.MkdirAll(filepath.Join(dir, pid), 0o755); err != nil {
			t.Fatal(err)
		}
		if comm == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, pid, "comm"), []byte(comm+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Non-pid entries are ignored.
	if err := os.WriteFile(filepath.Join(dir, "uptime"), []byte("1 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

type killRecorder struct {
	mu   sync.Mutex
	pids []int
	err  error
}

func (k *killRecorder) kill(pid int, sig unix.Signal) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if sig != unix.SIGTERM {
		return errors.New("unexpected signal")
	}
	k.pids = append(k.pids, pid)
	return k.err
}

func TestNavApp_FindProcesses(t *testing.T) {
	dir := writeFakeProc(t, map[string]string{
		"100": "autoapp",
		"200": "bash",
		"300": "autoapp",
		"400": "", // exited before comm was read
	})
	app := NewNavApp(NavAppConfig{Command: "autoapp", ProcDir: dir}, nil, slog.Default())

	pids, err := app.findProcesses()
	if err != nil {
		t.Fatalf("findProcesses: %v", err)
	}
	sort.Ints(pids)
	if len(pids) != 2 || pids[0] != 100 || pids[1] != 300 {
		t.Fatalf("pids = %v, want [100 300]", pids)
	}
	if !app.Running() {
		t.Fatalf("Running() = false with matching processes")
	}
}

func TestNavApp_LongNamesMatchTruncatedComm(t *testing.T) {
	dir := writeFakeProc(t, map[string]string{"42": "openauto-autoap"})
	app := NewNavApp(NavAppConfig{Command: "/opt/bin/openauto-autoapp", ProcDir: dir}, nil, slog.Default())

	if !app.Running() {
		t.Fatalf("expected match on the 15-byte comm")
	}
}

func TestNavApp_ProcessNameDerivedFromCommand(t *testing.T) {
	cfg := DefaultConfig().NavApp
	cfg.Command = "/opt/x/foo"
	cfg.ProcDir = writeFakeProc(t, map[string]string{"10": "autoapp", "20": "foo"})
	app := NewNavApp(cfg, nil, slog.Default())

	pids, err := app.findProcesses()
	if err != nil {
		t.Fatalf("findProcesses: %v", err)
	}
	if len(pids) != 1 || pids[0] != 20 {
		t.Fatalf("pids = %v, want [20]", pids)
	}
}

func TestNavApp_MissingProcDir(t *testing.T) {
	app := NewNavApp(NavAppConfig{Command: "autoapp", ProcDir: filepath.Join(t.TempDir(), "nope")}, nil, slog.Default())
	if _, err := app.findProcesses(); err == nil {
		t.Fatalf("expected error for missing proc dir")
	}
	if app.Running() {
		t.Fatalf("Running() = true without a proc dir")
	}
}

func TestNavApp_NotRunning(t *testing.T) {
	dir := writeFakeProc(t, map[string]string{"1": "init"})
	app := NewNavApp(NavAppConfig{Command: "autoapp", ProcDir: dir}, nil, slog.Default())
	k := &killRecorder{}
	app.kill = k.kill

	if app.Running() {
		t.Fatalf("Running() = true without matching processes")
	}
	if err := app.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if len(k.pids) != 0 {
		t.Fatalf("signals sent with nothing running: %v", k.pids)
	}
}

func TestNavApp_TerminateSignalsEveryInstance(t *testing.T) {
	dir := writeFakeProc(t, map[string]string{"100": "autoapp", "300": "autoapp"})
	app := NewNavApp(NavAppConfig{Command: "autoapp", ProcDir: dir}, nil, slog.Default())
	k := &killRecorder{}
	app.kill = k.kill

	if err := app.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	sort.Ints(k.pids)
	if len(k.pids) != 2 || k.pids[0] != 100 || k.pids[1] != 300 {
		t.Fatalf("signalled %v, want [100 300]", k.pids)
	}
}

func TestNavApp_TerminateIgnoresVanishedProcess(t *testing.T) {
	dir := writeFakeProc(t, map[string]string{"100": "autoapp"})
	app := NewNavApp(NavAppConfig{Command: "autoapp", ProcDir: dir}, nil, slog.Default())
	app.kill = (&killRecorder{err: unix.ESRCH}).kill

	if err := app.Terminate(); err != nil {
		t.Fatalf("ESRCH should not be an error, got %v", err)
	}

	app.kill = (&killRecorder{err: unix.EPERM}).kill
	if err := app.Terminate(); !errors.Is(err, unix.EPERM) {
		t.Fatalf("Terminate err = %v, want EPERM", err)
	}
}

func TestNavApp_LaunchAndTerminateChild(t *testing.T) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	var running atomic.Bool
	var changes atomic.Int32
	onChange := func(r bool) {
		running.Store(r)
		changes.Add(1)
	}
	app := NewNavApp(NavAppConfig{
		Command:     sleepPath,
		Args:        []string{"30"},
		ProcessName: "vroom-test-none",
		ProcDir:     t.TempDir(),
	}, onChange, slog.Default())

	if err := app.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !app.Running() || !running.Load() {
		t.Fatalf("child should be running")
	}

	// A second launch while running is a no-op.
	if err := app.Launch(context.Background()); err != nil {
		t.Fatalf("second Launch: %v", err)
	}

	if err := app.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	waitUntil(t, 5*time.Second, func() bool { return !app.Running() && !running.Load() }, "child did not exit")
	if n := changes.Load(); n != 2 {
		t.Fatalf("onChange called %d times, want 2", n)
	}
}

func TestNavApp_LaunchFailure(t *testing.T) {
	app := NewNavApp(NavAppConfig{
		Command: filepath.Join(t.TempDir(), "missing"),
		ProcDir: t.TempDir(),
	}, nil, slog.Default())

	if err := app.Launch(context.Background()); err == nil {
		t.Fatalf("expected launch failure")
	}
	if app.Running() {
		t.Fatalf("failed launch reported running")
	}
}
