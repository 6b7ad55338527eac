package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/internal/resolver"
	"stackctl/pkg/logging"

	"al.essio.dev/pkg/shellescape"
)

// dockerCommand is swapped in tests.
var dockerCommand = exec.CommandContext

const projectLabel = "io.stackctl.project"

// Docker runs services as containers through the docker CLI.
type Docker struct {
	opts   Options
	binary string

	netMu    sync.Mutex
	netReady bool
}

// NewDocker returns a docker CLI runtime.
func NewDocker(opts Options) *Docker {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Docker{opts: opts, binary: "docker"}
}

// Name implements Runtime.
func (d *Docker) Name() string { return NameDocker }

// Start builds the service image unless one is given, then runs it
// detached with its port published on the host.
func (d *Docker) Start(ctx context.Context, svc descriptor.Service, env resolver.Env) (Handle, error) {
	if err := d.networkReady(ctx); err != nil {
		return Handle{}, err
	}

	image := svc.Image
	if image == "" {
		if svc.Build == "" {
			return Handle{}, fmt.Errorf("service %s needs build or image for the docker runtime", svc.Name)
		}
		image = d.imageTag(svc.Name)
		if _, err := d.run(ctx, svc.Name, nil, d.buildArgs(svc, image)...); err != nil {
			return Handle{}, fmt.Errorf("failed to build image for %s: %w", svc.Name, err)
		}
	}

	name := d.containerName(svc.Name)
	// A leftover container from an earlier run would block the name.
	_, _ = d.run(ctx, svc.Name, nil, "rm", "-f", name)

	args := []string{"run", "-d", "--name", name, "--label", projectLabel + "=" + d.opts.Project}
	if svc.Port > 0 {
		p := strconv.Itoa(svc.Port)
		args = append(args, "-p", p+":"+p)
	}
	if d.opts.Network != "" {
		args = append(args, "--network", d.opts.Network, "--network-alias", svc.Name)
	}
	// Values travel through the docker client's environment so they never
	// show up in argv or logs.
	for _, v := range env {
		args = append(args, "-e", v.Key)
	}
	args = append(args, image)
	args = append(args, svc.Command...)

	out, err := d.run(ctx, svc.Name, env.Environ(), args...)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to run container for %s: %w", svc.Name, err)
	}
	id := strings.TrimSpace(out)
	if i := strings.LastIndexByte(id, '\n'); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return Handle{}, fmt.Errorf("docker run for %s returned no container id", svc.Name)
	}

	return Handle{
		ID:           id,
		Runtime:      NameDocker,
		Service:      svc.Name,
		ContainerID:  id,
		ProbeAddress: localAddress(svc.Port),
		StartedAt:    time.Now(),
	}, nil
}

// Stop stops and removes the container. A container that no longer exists
// counts as stopped.
func (d *Docker) Stop(ctx context.Context, h Handle) error {
	id := h.ContainerID
	if id == "" {
		id = h.ID
	}
	timeout := strconv.Itoa(int(d.opts.StopTimeout.Seconds()))
	if _, err := d.run(ctx, h.Service, nil, "stop", "-t", timeout, id); err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	if _, err := d.run(ctx, h.Service, nil, "rm", "-f", id); err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// Running implements Runtime.
func (d *Docker) Running(ctx context.Context, h Handle) (bool, error) {
	id := h.ContainerID
	if id == "" {
		id = h.ID
	}
	out, err := d.run(ctx, h.Service, nil, "inspect", "-f", "{{.State.Running}}", id)
	if err != nil {
		if isNoSuchContainer(err) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

func (d *Docker) buildArgs(svc descriptor.Service, tag string) []string {
	src := svc.Build
	if !filepath.IsAbs(src) {
		src = filepath.Join(d.opts.BaseDir, src)
	}
	args := []string{"build", "-t", tag}
	if info, err := os.Stat(src); err == nil && !info.IsDir() {
		args = append(args, "-f", src, filepath.Dir(src))
	} else {
		args = append(args, src)
	}
	return args
}

func (d *Docker) imageTag(service string) string {
	return d.containerName(service) + ":latest"
}

func (d *Docker) containerName(service string) string {
	if d.opts.Project == "" {
		return "stackctl-" + service
	}
	return d.opts.Project + "-" + service
}

// dockerError carries the CLI's stderr.
type dockerError struct {
	args   []string
	stderr string
	err    error
}

func (e *dockerError) Error() string {
	msg := strings.TrimSpace(e.stderr)
	if msg == "" {
		return fmt.Sprintf("docker %s: %v", e.args[0], e.err)
	}
	return fmt.Sprintf("docker %s: %v: %s", e.args[0], e.err, msg)
}

func (e *dockerError) Unwrap() error { return e.err }

func isNoSuchContainer(err error) bool {
	de, ok := err.(*dockerError)
	return ok && strings.Contains(strings.ToLower(de.stderr), "no such container")
}

// EnsureNetwork creates the configured network unless it already exists.
func (d *Docker) EnsureNetwork(ctx context.Context) error {
	if d.opts.Network == "" {
		return nil
	}
	if _, err := d.run(ctx, "network", nil, "network", "inspect", d.opts.Network); err == nil {
		return nil
	}
	logging.Info("Docker", "Creating network %s", d.opts.Network)
	if _, err := d.run(ctx, "network", nil, "network", "create", "--label", projectLabel+"="+d.opts.Project, d.opts.Network); err != nil {
		return fmt.Errorf("failed to create docker network %s: %w", d.opts.Network, err)
	}
	return nil
}

// networkReady creates the network on the first Start. A failed attempt is
// retried by the next Start.
func (d *Docker) networkReady(ctx context.Context) error {
	d.netMu.Lock()
	defer d.netMu.Unlock()
	if d.netReady {
		return nil
	}
	if err := d.EnsureNetwork(ctx); err != nil {
		return err
	}
	d.netReady = true
	return nil
}

func (d *Docker) run(ctx context.Context, service string, extraEnv []string, args ...string) (string, error) {
	logging.Debug("Docker-"+service, "Running %s", shellescape.QuoteCommand(append([]string{d.binary}, args...)))

	cmd := dockerCommand(ctx, d.binary, args...)
	if len(extraEnv) > 0 {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, extraEnv...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &dockerError{args: args, stderr: stderr.String(), err: err}
	}
	return stdout.String(), nil
}
