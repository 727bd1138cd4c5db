package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/machflow/envsmith/internal/logging"
)

// DockerOptions selects the container commands run in. Either Container
// names a running container, or Image is started as a throwaway container
// with ProjectRoot bind-mounted at Workdir.
type DockerOptions struct {
	Container   string
	Image       string
	Platform    string // e.g. "linux/amd64"
	ProjectRoot string
	Workdir     string
}

// Docker runs commands inside a container through the Docker Engine API.
// Paths under the host project root are rewritten to the container workdir.
type Docker struct {
	client    *client.Client
	container string
	owned     bool
	hostRoot  string
	workdir   string
}

// NewDocker connects to the Docker daemon described by the environment and
// resolves or starts the target container.
func NewDocker(ctx context.Context, opts DockerOptions) (*Docker, error) {
	if opts.Container == "" && opts.Image == "" {
		return nil, fmt.Errorf("docker runner requires a container or an image")
	}

	d := &Docker{workdir: opts.Workdir}
	if d.workdir == "" {
		d.workdir = defaultWorkdir
	}
	if opts.ProjectRoot != "" {
		root, err := filepath.Abs(opts.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project root: %w", err)
		}
		d.hostRoot = root
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	d.client = cli

	if err := d.attachTarget(ctx, opts); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return d, nil
}

// attachTarget resolves the running container or starts one from the image.
func (d *Docker) attachTarget(ctx context.Context, opts DockerOptions) error {
	if opts.Container != "" {
		info, err := d.client.ContainerInspect(ctx, opts.Container)
		if err != nil {
			return fmt.Errorf("failed to inspect container %s: %w", opts.Container, err)
		}
		if info.State == nil || !info.State.Running {
			return fmt.Errorf("container %s is not running", opts.Container)
		}
		d.container = info.ID
		return nil
	}
	id, err := startContainer(ctx, d.client, opts.Image, opts.Platform, d.hostRoot, d.workdir)
	if err != nil {
		return err
	}
	d.container = id
	d.owned = true
	return nil
}

const defaultWorkdir = "/workspace"

func startContainer(ctx context.Context, cli *client.Client, ref, platformSpec, hostRoot, workdir string) (string, error) {
	platform, err := parsePlatform(platformSpec)
	if err != nil {
		return "", err
	}

	logging.Info("pulling image", "image", ref)
	reader, err := cli.ImagePull(ctx, ref, image.PullOptions{Platform: platformSpec})
	if err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	hostCfg := &container.HostConfig{}
	if hostRoot != "" {
		hostCfg.Binds = []string{hostRoot + ":" + workdir}
	}

	resp, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:      ref,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: workdir,
			Labels:     map[string]string{"io.machflow.envsmith": "runner"},
		},
		hostCfg,
		nil,
		platform,
		"",
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	logging.Debug("runner container started", "id", resp.ID[:12], "image", ref)
	return resp.ID, nil
}

// parsePlatform parses "os/arch[/variant]". An empty string means the daemon default.
func parsePlatform(s string) (*v1.Platform, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid platform %q, expected os/arch[/variant]", s)
	}
	p := &v1.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		p.Variant = parts[2]
	}
	return p, nil
}

// Run executes cmd in the container and waits for it to exit.
func (d *Docker) Run(ctx context.Context, cmd Cmd) (*Result, error) {
	argv := make([]string, 0, len(cmd.Args)+1)
	argv = append(argv, cmd.Name)
	for _, a := range cmd.Args {
		argv = append(argv, d.containerPath(a))
	}
	exec, err := d.client.ContainerExecCreate(ctx, d.container, container.ExecOptions{
		Cmd:          argv,
		Env:          cmd.Env,
		WorkingDir:   d.containerPath(cmd.Dir),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec for %s: %w", cmd.Name, err)
	}

	attach, err := d.client.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec for %s: %w", cmd.Name, err)
	}
	defer attach.Close()

	logw := logging.NewWriter(logging.Logger(), "cmd", filepath.Base(cmd.Name), "container", d.container[:min(12, len(d.container))])
	defer logw.Flush()

	logging.Debug("running command in container", "cmd", cmd.String())
	var stdout, stderr bytes.Buffer
	if err := streamOutput(ctx, attach.Reader, attach.Close, io.MultiWriter(&stdout, logw), io.MultiWriter(&stderr, logw)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", filepath.Base(cmd.Name), ctxErr)
		}
		return nil, fmt.Errorf("failed to read output of %s: %w", cmd.Name, err)
	}

	inspect, err := d.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec for %s: %w", cmd.Name, err)
	}

	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: inspect.ExitCode}
	if inspect.ExitCode != 0 {
		return res, newExitError(cmd, inspect.ExitCode, &stdout, &stderr)
	}
	return res, nil
}

// streamOutput demultiplexes an exec stream until it ends. The attach
// connection ignores ctx once dialed, so closeConn is called when ctx is
// done to unblock the copy.
func streamOutput(ctx context.Context, src io.Reader, closeConn func(), stdout, stderr io.Writer) error {
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()
	_, err := stdcopy.StdCopy(stdout, stderr, src)
	return err
}

// containerPath maps a host path under the project root to the bind mount.
// Anything else is returned unchanged.
func (d *Docker) containerPath(p string) string {
	if d.hostRoot == "" || p == "" {
		return p
	}
	if p == d.hostRoot {
		return d.workdir
	}
	if rest, ok := strings.CutPrefix(p, d.hostRoot+string(filepath.Separator)); ok {
		return path.Join(d.workdir, filepath.ToSlash(rest))
	}
	return p
}

// Close removes the container when it was started by this runner.
func (d *Docker) Close() error {
	defer d.client.Close()
	if !d.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.client.ContainerRemove(ctx, d.container, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove runner container: %w", err)
	}
	return nil
}
