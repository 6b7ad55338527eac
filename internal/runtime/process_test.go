package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecCommand re-runs the test binary as TestHelperProcess.
func fakeExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

// TestHelperProcess is not a real test. It's used by fakeExecCommand.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}

	switch args[1] {
	case "serve":
		fmt.Println("listening")
		for {
			time.Sleep(time.Hour)
		}
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ignoring SIGTERM")
		for {
			time.Sleep(time.Hour)
		}
	case "crash":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(3)
	case "printenv":
		fmt.Printf("%s=%s\n", args[2], os.Getenv(args[2]))
		os.Exit(0)
	}
	os.Exit(2)
}

func useFakeExec(t *testing.T) {
	t.Helper()
	orig := execCommand
	execCommand = fakeExecCommand
	t.Cleanup(func() { execCommand = orig })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 20*time.Millisecond)
}

func TestProcess_StartStop(t *testing.T) {
	useFakeExec(t)
	rt := NewProcess(Options{StopTimeout: 2 * time.Second})

	svc := descriptor.Service{Name: "api", Port: 8000, Command: []string{"serve"}}
	h, err := rt.Start(context.Background(), svc, nil)
	require.NoError(t, err)

	assert.Equal(t, NameProcess, h.Runtime)
	assert.Equal(t, "api", h.Service)
	assert.Greater(t, h.PID, 0)
	assert.Equal(t, fmt.Sprint(h.PID), h.ID)
	assert.Equal(t, "localhost:8000", h.ProbeAddress)

	running, err := rt.Running(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, rt.Stop(context.Background(), h))
	running, err = rt.Running(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, running)

	// Stop is idempotent.
	assert.NoError(t, rt.Stop(context.Background(), h))
}

func TestProcess_StopEscalatesToKill(t *testing.T) {
	useFakeExec(t)
	rt := NewProcess(Options{StopTimeout: 200 * time.Millisecond})

	h, err := rt.Start(context.Background(), descriptor.Service{Name: "stubborn", Command: []string{"stubborn"}}, nil)
	require.NoError(t, err)

	// Give the helper time to install its signal handler.
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	require.NoError(t, rt.Stop(context.Background(), h))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	running, err := rt.Running(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestProcess_ExitedByItself(t *testing.T) {
	useFakeExec(t)
	rt := NewProcess(Options{})

	h, err := rt.Start(context.Background(), descriptor.Service{Name: "crash", Command: []string{"crash"}}, nil)
	require.NoError(t, err)

	waitFor(t, func() bool {
		running, _ := rt.Running(context.Background(), h)
		return !running
	})
	assert.NoError(t, rt.Stop(context.Background(), h))
}

func TestProcess_EnvAndLogFile(t *testing.T) {
	useFakeExec(t)
	logDir := t.TempDir()
	rt := NewProcess(Options{LogDir: logDir})

	env := resolver.Env{{Key: "NEXT_PUBLIC_API_URL", Value: "http://localhost:8000"}}
	h, err := rt.Start(context.Background(), descriptor.Service{Name: "frontend", Command: []string{"printenv", "NEXT_PUBLIC_API_URL"}}, env)
	require.NoError(t, err)

	logPath := filepath.Join(logDir, "frontend.log")
	waitFor(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(data), "NEXT_PUBLIC_API_URL=http://localhost:8000")
	})
	assert.NoError(t, rt.Stop(context.Background(), h))
}

func TestProcess_StartErrors(t *testing.T) {
	rt := NewProcess(Options{})

	_, err := rt.Start(context.Background(), descriptor.Service{Name: "api"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command")

	_, err = rt.Start(context.Background(), descriptor.Service{Name: "api", Command: []string{"/non/existent/command"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start process for api")
}

func TestProcess_StopUnownedProcess(t *testing.T) {
	useFakeExec(t)
	owner := NewProcess(Options{StopTimeout: 2 * time.Second})
	h, err := owner.Start(context.Background(), descriptor.Service{Name: "api", Command: []string{"serve"}}, nil)
	require.NoError(t, err)

	// A second runtime instance stands in for a later teardown invocation.
	other := NewProcess(Options{StopTimeout: 2 * time.Second})
	require.NoError(t, other.Stop(context.Background(), h))

	waitFor(t, func() bool {
		running, _ := owner.Running(context.Background(), h)
		return !running
	})
}

func TestProcess_Workdir(t *testing.T) {
	rt := NewProcess(Options{BaseDir: "/srv/stack"})
	assert.Equal(t, "/srv/stack", rt.workdir(descriptor.Service{}))
	assert.Equal(t, "/srv/stack/backend", rt.workdir(descriptor.Service{Workdir: "backend"}))
	assert.Equal(t, "/opt/app", rt.workdir(descriptor.Service{Workdir: "/opt/app"}))
}

func TestNew(t *testing.T) {
	rt, err := New("", Options{})
	require.NoError(t, err)
	assert.Equal(t, NameProcess, rt.Name())

	rt, err = New(NameDocker, Options{})
	require.NoError(t, err)
	assert.Equal(t, NameDocker, rt.Name())

	_, err = New("nomad", Options{})
	assert.Error(t, err)

	set := ByHandle{NameProcess: NewProcess(Options{})}
	_, err = set.For(Handle{Runtime: NameDocker, Service: "api", ID: "c1"})
	assert.Error(t, err)
}
