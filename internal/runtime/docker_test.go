package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"stackctl/internal/descriptor"
	"stackctl/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dockerRecorder struct {
	mu    sync.Mutex
	calls [][]string
	envs  [][]string
}

func (r *dockerRecorder) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	cs := append([]string{"-test.run=TestDockerHelperProcess", "--"}, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_DOCKER_HELPER=1"}
	return cmd
}

func (r *dockerRecorder) subcommands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		out = append(out, c[1])
	}
	return out
}

func useFakeDocker(t *testing.T) *dockerRecorder {
	t.Helper()
	rec := &dockerRecorder{}
	orig := dockerCommand
	dockerCommand = rec.command
	t.Cleanup(func() { dockerCommand = orig })
	return rec
}

// TestDockerHelperProcess is not a real test. It plays the docker CLI.
func TestDockerHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_DOCKER_HELPER") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]
	last := args[len(args)-1]

	switch args[0] {
	case "build":
		fmt.Println("Successfully built")
	case "run":
		if os.Getenv("NPS_API_KEY") != "secret" {
			fmt.Fprintln(os.Stderr, "missing env")
			os.Exit(125)
		}
		fmt.Println("Unable to find image locally")
		fmt.Println("c0ffee123")
	case "network":
		if args[1] == "inspect" && last == "missing" {
			fmt.Fprintf(os.Stderr, "Error: network %s not found\n", last)
			os.Exit(1)
		}
	case "stop", "rm", "inspect":
		if last == "gone" {
			fmt.Fprintf(os.Stderr, "Error: No such container: %s\n", last)
			os.Exit(1)
		}
		if last == "broken" {
			fmt.Fprintln(os.Stderr, "Cannot connect to the Docker daemon")
			os.Exit(1)
		}
		if args[0] == "inspect" {
			fmt.Println("true")
		}
	}
	os.Exit(0)
}

func TestDocker_StartWithImage(t *testing.T) {
	rec := useFakeDocker(t)
	rt := NewDocker(Options{Project: "parksphere", Network: "parksphere"})

	svc := descriptor.Service{Name: "api", Image: "parksphere/api:1", Port: 8000, Command: []string{"uvicorn", "main:app"}}
	env := resolver.Env{{Key: "NPS_API_KEY", Value: "secret", Secret: true}}
	h, err := rt.Start(context.Background(), svc, env)
	require.NoError(t, err)

	assert.Equal(t, "c0ffee123", h.ID)
	assert.Equal(t, "c0ffee123", h.ContainerID)
	assert.Equal(t, NameDocker, h.Runtime)
	assert.Equal(t, "localhost:8000", h.ProbeAddress)

	assert.Equal(t, []string{"network", "rm", "run"}, rec.subcommands())
	run := strings.Join(rec.calls[2], " ")
	assert.Contains(t, run, "--name parksphere-api")
	assert.Contains(t, run, "-p 8000:8000")
	assert.Contains(t, run, "--network parksphere --network-alias api")
	assert.Contains(t, run, "-e NPS_API_KEY parksphere/api:1 uvicorn main:app")
	assert.NotContains(t, run, "secret")
}

func TestDocker_StartBuildsImage(t *testing.T) {
	rec := useFakeDocker(t)
	dir := t.TempDir()
	rt := NewDocker(Options{Project: "parksphere", BaseDir: dir})

	svc := descriptor.Service{Name: "frontend", Build: "frontend", Port: 3000}
	env := resolver.Env{{Key: "NPS_API_KEY", Value: "secret"}}
	_, err := rt.Start(context.Background(), svc, env)
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "rm", "run"}, rec.subcommands())
	assert.Equal(t, []string{"docker", "build", "-t", "parksphere-frontend:latest", dir + "/frontend"}, rec.calls[0])
	assert.Contains(t, rec.calls[2], "parksphere-frontend:latest")
}

func TestDocker_StartErrors(t *testing.T) {
	useFakeDocker(t)
	rt := NewDocker(Options{})

	_, err := rt.Start(context.Background(), descriptor.Service{Name: "api"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs build or image")

	_, err = rt.Start(context.Background(), descriptor.Service{Name: "api", Image: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing env")
}

func TestDocker_StopAndRunning(t *testing.T) {
	rec := useFakeDocker(t)
	rt := NewDocker(Options{})

	require.NoError(t, rt.Stop(context.Background(), Handle{Service: "api", ContainerID: "c1"}))
	assert.Equal(t, []string{"stop", "rm"}, rec.subcommands())

	// Already removed containers count as stopped.
	assert.NoError(t, rt.Stop(context.Background(), Handle{Service: "api", ID: "gone"}))

	err := rt.Stop(context.Background(), Handle{Service: "api", ID: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot connect")

	running, err := rt.Running(context.Background(), Handle{ID: "c1"})
	require.NoError(t, err)
	assert.True(t, running)

	running, err = rt.Running(context.Background(), Handle{ID: "gone"})
	require.NoError(t, err)
	assert.False(t, running)
}

func TestDocker_EnsureNetwork(t *testing.T) {
	rec := useFakeDocker(t)

	require.NoError(t, NewDocker(Options{}).EnsureNetwork(context.Background()))
	assert.Empty(t, rec.calls, "no network configured")

	require.NoError(t, NewDocker(Options{Project: "parksphere", Network: "parksphere"}).EnsureNetwork(context.Background()))
	assert.Equal(t, []string{"network"}, rec.subcommands())
	assert.Equal(t, "inspect", rec.calls[0][2])

	require.NoError(t, NewDocker(Options{Project: "parksphere", Network: "missing"}).EnsureNetwork(context.Background()))
	require.Len(t, rec.calls, 3)
	assert.Equal(t, []string{"docker", "network", "create", "--label", projectLabel + "=parksphere", "missing"}, rec.calls[2])
}

func TestDocker_StartCreatesNetworkOnce(t *testing.T) {
	tests := []struct {
		name    string
		network string
		want    []string
	}{
		{
			name:    "existing network is inspected once",
			network: "parksphere",
			want:    []string{"network", "rm", "run", "rm", "run"},
		},
		{
			name:    "missing network is created before the first container",
			network: "missing",
			want:    []string{"network", "network", "rm", "run", "rm", "run"},
		},
		{
			name: "no network configured",
			want: []string{"rm", "run", "rm", "run"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := useFakeDocker(t)
			rt := NewDocker(Options{Project: "parksphere", Network: tt.network})
			env := resolver.Env{{Key: "NPS_API_KEY", Value: "secret"}}

			for _, name := range []string{"api", "frontend"} {
				_, err := rt.Start(context.Background(), descriptor.Service{Name: name, Image: "x"}, env)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, rec.subcommands())
		})
	}
}
