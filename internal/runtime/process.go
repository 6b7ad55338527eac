package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/internal/resolver"
	"stackctl/pkg/logging"

	"al.essio.dev/pkg/shellescape"
)

// execCommand is swapped in tests.
var execCommand = exec.Command

const pollInterval = 50 * time.Millisecond

// Process runs each service's command in its own process group so the
// whole tree can be signalled at once.
type Process struct {
	opts Options

	mu    sync.Mutex
	procs map[int]*process
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// NewProcess returns a local process runtime.
func NewProcess(opts Options) *Process {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Process{opts: opts, procs: make(map[int]*process)}
}

// Name implements Runtime.
func (p *Process) Name() string { return NameProcess }

// Start launches svc.Command with env appended to the inherited
// environment.
func (p *Process) Start(_ context.Context, svc descriptor.Service, env resolver.Env) (Handle, error) {
	subsystem := "Process-" + svc.Name
	if len(svc.Command) == 0 {
		return Handle{}, fmt.Errorf("service %s has no command for the process runtime", svc.Name)
	}

	cmd := execCommand(svc.Command[0], svc.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, env.Environ()...)
	cmd.Dir = p.workdir(svc)

	var (
		logFile *os.File
		pipes   []io.ReadCloser
	)
	if p.opts.LogDir != "" {
		f, err := p.openLog(svc.Name)
		if err != nil {
			return Handle{}, err
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return Handle{}, fmt.Errorf("stdout pipe for %s: %w", svc.Name, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			stdout.Close()
			return Handle{}, fmt.Errorf("stderr pipe for %s: %w", svc.Name, err)
		}
		pipes = []io.ReadCloser{stdout, stderr}
	}

	logging.Info(subsystem, "Starting %s", shellescape.QuoteCommand(svc.Command))
	if err := cmd.Start(); err != nil {
		for _, r := range pipes {
			r.Close()
		}
		if logFile != nil {
			logFile.Close()
		}
		return Handle{}, fmt.Errorf("failed to start process for %s: %w", svc.Name, err)
	}

	pid := cmd.Process.Pid
	proc := &process{cmd: cmd, done: make(chan struct{})}
	p.mu.Lock()
	p.procs[pid] = proc
	p.mu.Unlock()

	var streams sync.WaitGroup
	for i, r := range pipes {
		stream := "STDOUT"
		if i == 1 {
			stream = "STDERR"
		}
		streams.Add(1)
		go func(r io.Reader, stream string) {
			defer streams.Done()
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				logging.Info(subsystem, "[%s] %s", stream, scanner.Text())
			}
		}(r, stream)
	}

	go func() {
		streams.Wait()
		proc.err = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		if proc.err != nil {
			logging.Debug(subsystem, "Process %d exited: %v", pid, proc.err)
		} else {
			logging.Debug(subsystem, "Process %d exited", pid)
		}
		close(proc.done)
	}()

	return Handle{
		ID:           strconv.Itoa(pid),
		Runtime:      NameProcess,
		Service:      svc.Name,
		PID:          pid,
		ProbeAddress: localAddress(svc.Port),
		StartedAt:    time.Now(),
	}, nil
}

// Stop sends SIGTERM to the process group and SIGKILL once the stop timeout
// passes. A process that is already gone is not an error.
func (p *Process) Stop(ctx context.Context, h Handle) error {
	if h.PID <= 0 {
		return fmt.Errorf("handle %s has no pid", h)
	}
	subsystem := "Process-" + h.Service

	p.mu.Lock()
	proc := p.procs[h.PID]
	p.mu.Unlock()

	exited := func() bool {
		if proc != nil {
			select {
			case <-proc.done:
				return true
			default:
				return false
			}
		}
		return !pidAlive(h.PID)
	}

	if exited() {
		p.forget(h.PID)
		return nil
	}

	if err := signalGroup(h.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop %s: %w", h, err)
	}
	logging.Debug(subsystem, "Sent SIGTERM to process group %d", h.PID)

	if waitExit(ctx, p.opts.StopTimeout, proc, exited) {
		p.forget(h.PID)
		return nil
	}

	logging.Warn(subsystem, "Process group %d did not exit within %s, killing", h.PID, p.opts.StopTimeout)
	if err := signalGroup(h.PID, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill %s: %w", h, err)
	}
	if !waitExit(context.WithoutCancel(ctx), p.opts.StopTimeout, proc, exited) {
		return fmt.Errorf("process %d of %s survived SIGKILL", h.PID, h.Service)
	}
	p.forget(h.PID)
	return nil
}

// Running implements Runtime.
func (p *Process) Running(_ context.Context, h Handle) (bool, error) {
	p.mu.Lock()
	proc := p.procs[h.PID]
	p.mu.Unlock()
	if proc != nil {
		select {
		case <-proc.done:
			return false, nil
		default:
			return true, nil
		}
	}
	return pidAlive(h.PID), nil
}

func (p *Process) forget(pid int) {
	p.mu.Lock()
	delete(p.procs, pid)
	p.mu.Unlock()
}

func (p *Process) workdir(svc descriptor.Service) string {
	switch {
	case svc.Workdir == "":
		return p.opts.BaseDir
	case filepath.IsAbs(svc.Workdir):
		return svc.Workdir
	default:
		return filepath.Join(p.opts.BaseDir, svc.Workdir)
	}
}

func (p *Process) openLog(service string) (*os.File, error) {
	if err := os.MkdirAll(p.opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	path := filepath.Join(p.opts.LogDir, service+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file for %s: %w", service, err)
	}
	return f, nil
}

// waitExit waits up to timeout for the process to exit. Owned processes
// signal through done; others are polled.
func waitExit(ctx context.Context, timeout time.Duration, proc *process, exited func() bool) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if proc != nil {
		select {
		case <-proc.done:
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return exited()
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if exited() {
			return true
		}
		select {
		case <-ticker.C:
		case <-timer.C:
			return exited()
		case <-ctx.Done():
			return exited()
		}
	}
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func localAddress(port int) string {
	if port <= 0 {
		return ""
	}
	return "localhost:" + strconv.Itoa(port)
}
