package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// taskCommLen is the kernel's comm buffer size, including the trailing NUL.
const taskCommLen = 16

// NavApp manages the external navigation application. Instances started
// elsewhere (a desktop launcher, a previous daemon) are found by scanning
// /proc/<pid>/comm so a long press can stop them too.
type NavApp struct {
	command     string
	args        []string
	processName string
	procDir     string
	logger      *slog.Logger

	// onChange is told when our own child starts or exits.
	onChange func(running bool)
	kill     func(pid int, sig unix.Signal) error

	mu    sync.Mutex
	child *exec.Cmd
}

func NewNavApp(cfg NavAppConfig, onChange func(running bool), logger *slog.Logger) *NavApp {
	name := cfg.ProcessName
	if name == "" {
		name = filepath.Base(cfg.Command)
	}
	procDir := cfg.ProcDir
	if procDir == "" {
		procDir = "/proc"
	}
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &NavApp{
		command:     cfg.Command,
		args:        cfg.Args,
		processName: name,
		procDir:     procDir,
		logger:      logger,
		onChange:    onChange,
		kill:        unix.Kill,
	}
}

// Running reports whether our child or any process with the configured name exists.
func (a *NavApp) Running() bool {
	if a.childPID() > 0 {
		return true
	}
	pids, err := a.findProcesses()
	if err != nil {
		a.logger.Debug("process scan failed", "dir", a.procDir, "error", err)
		return false
	}
	return len(pids) > 0
}

// Launch starts the app and watches it in the background. The process is not
// tied to ctx; it keeps running until it exits or is terminated.
func (a *NavApp) Launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	if a.child != nil {
		a.mu.Unlock()
		return nil
	}
	cmd := exec.Command(a.command, a.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("start %s: %w", a.command, err)
	}
	a.child = cmd
	a.mu.Unlock()

	a.logger.Info("external app started", "command", a.command, "pid", cmd.Process.Pid)
	a.onChange(true)

	go a.wait(cmd)
	return nil
}

func (a *NavApp) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	a.mu.Lock()
	if a.child == cmd {
		a.child = nil
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Info("external app exited", "pid", cmd.Process.Pid, "status", err)
	} else {
		a.logger.Info("external app exited", "pid", cmd.Process.Pid, "status", 0)
	}
	a.onChange(false)
}

// Terminate sends SIGTERM to our child and to every matching process.
func (a *NavApp) Terminate() error {
	targets := make(map[int]struct{})
	if pid := a.childPID(); pid > 0 {
		targets[pid] = struct{}{}
	}
	pids, err := a.findProcesses()
	if err != nil {
		a.logger.Debug("process scan failed", "dir", a.procDir, "error", err)
	}
	for _, pid := range pids {
		targets[pid] = struct{}{}
	}
	if len(targets) == 0 {
		return nil
	}

	var errs []error
	for pid := range targets {
		if err := a.kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			continue
		}
		a.logger.Debug("sent SIGTERM", "pid", pid)
	}
	return errors.Join(errs...)
}

// Stop terminates our own child only. Used on shutdown.
func (a *NavApp) Stop() {
	if pid := a.childPID(); pid > 0 {
		_ = a.kill(pid, unix.SIGTERM)
	}
}

func (a *NavApp) childPID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.child == nil || a.child.Process == nil {
		return 0
	}
	return a.child.Process.Pid
}

// findProcesses returns the pids whose comm equals the process name. The
// kernel truncates comm to 15 bytes, so the name is truncated the same way.
func (a *NavApp) findProcesses() ([]int, error) {
	want := a.processName
	if len(want) > taskCommLen-1 {
		want = want[:taskCommLen-1]
	}

	fs, err := procfs.NewFS(a.procDir)
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}
	self := os.Getpid()

	var pids []int
	for _, p := range procs {
		if p.PID == self {
			continue
		}
		comm, err := p.Comm()
		if err != nil {
			// process exited between the listing and the read
			continue
		}
		if comm == want {
			pids = append(pids, p.PID)
		}
	}
	return pids, nil
}
