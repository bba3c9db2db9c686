package figures

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	DefaultImage = "papershelf/pdffigures2:latest"

	// RunnerLabel marks containers started by the Docker runner.
	RunnerLabel = "papershelf.figures"
)

// DockerConfig configures the Docker runner.
type DockerConfig struct {
	Image   string            // default: DefaultImage
	Pull    bool              // pull the image when it is not present locally
	Timeout time.Duration     // per-run limit (default: 10m)
	Labels  map[string]string // extra container labels
	Logger  *slog.Logger
}

// DockerRunner runs pdffigures2 in a throwaway container. The image's
// entrypoint must be the batch CLI; the input and output directories are bind
// mounted at /in and /out.
type DockerRunner struct {
	cli    *client.Client
	image  string
	pull   bool
	labels map[string]string
	limit  time.Duration
	logger *slog.Logger
}

// NewDockerRunner creates a runner using the Docker client configured from
// the environment (DOCKER_HOST etc.).
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewDockerRunnerWithClient(cli, cfg), nil
}

// NewDockerRunnerWithClient creates a runner with an existing client.
func NewDockerRunnerWithClient(cli *client.Client, cfg DockerConfig) *DockerRunner {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	labels := map[string]string{RunnerLabel: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	return &DockerRunner{
		cli:    cli,
		image:  cfg.Image,
		pull:   cfg.Pull,
		labels: labels,
		limit:  cfg.Timeout,
		logger: cfg.Logger,
	}
}

func (r *DockerRunner) Name() string { return "docker" }

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

// EnsureImage makes the image available locally, pulling it if allowed.
func (r *DockerRunner) EnsureImage(ctx context.Context) error {
	if _, err := r.cli.ImageInspect(ctx, r.image); err == nil {
		return nil
	}
	if !r.pull {
		return fmt.Errorf("image %s not found locally and pulling is disabled", r.image)
	}

	r.logger.Info("pulling pdffigures2 image", "image", r.image)
	return retry.Do(
		func() error {
			reader, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
			if err != nil {
				return err
			}
			defer reader.Close()
			_, err = io.Copy(io.Discard, reader)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// Run starts a container over inputDir/outputDir and waits for it to exit.
// The container is always removed.
func (r *DockerRunner) Run(ctx context.Context, inputDir, outputDir string) error {
	if err := r.EnsureImage(ctx); err != nil {
		return &ToolError{Runner: r.Name(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.limit)
	defer cancel()

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  r.image,
			Cmd:    []string{"/in/", "-m", "/out/"},
			Labels: r.labels,
			User:   strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid()),
		},
		&container.HostConfig{
			Mounts: []mount.Mount{
				{Type: mount.TypeBind, Source: inputDir, Target: "/in", ReadOnly: true},
				{Type: mount.TypeBind, Source: outputDir, Target: "/out"},
			},
			NetworkMode: "none",
		},
		nil, nil, "")
	if err != nil {
		return &ToolError{Runner: r.Name(), Err: fmt.Errorf("create container: %w", err)}
	}
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer rmCancel()
		if err := r.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Warn("failed to remove pdffigures2 container", "id", resp.ID[:12], "error", err)
		}
	}()

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return &ToolError{Runner: r.Name(), Err: fmt.Errorf("start container: %w", err)}
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return &ToolError{Runner: r.Name(), Err: fmt.Errorf("wait for container: %w", err)}
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return &ToolError{
				Runner: r.Name(),
				Output: r.logs(resp.ID),
				Err:    fmt.Errorf("container exited with status %d", status.StatusCode),
			}
		}
	}
	return nil
}

func (r *DockerRunner) logs(id string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reader, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "20"})
	if err != nil {
		return ""
	}
	defer reader.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, reader); err != nil {
		return ""
	}
	return out.String()
}
