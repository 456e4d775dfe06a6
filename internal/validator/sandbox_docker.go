package validator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/bugbot-labs/bugbot/internal/store"
)

// DockerSandbox is the default C7 Sandbox: one ephemeral, bind-mounted
// container per job. Grounded on internal/dispatch/docker.go's container
// lifecycle (create, start, log capture via stdcopy, forced removal), but
// made synchronous — a validation job must run to completion or hit its
// wall-clock timeout before the HTTP/store layer can record a verdict,
// unlike the fire-and-forget agent sessions dispatch.DockerDispatcher
// manages.
type DockerSandbox struct {
	cli      *client.Client
	image    string
	memoryMB int64
	cpuQuota int64
}

// NewDockerSandbox builds a sandbox driver against the local Docker
// daemon (respecting the usual DOCKER_HOST/DOCKER_* env vars).
func NewDockerSandbox(image string, memoryMB, cpuQuota int64) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("validator: docker client: %w", err)
	}
	return &DockerSandbox{cli: cli, image: image, memoryMB: memoryMB, cpuQuota: cpuQuota}, nil
}

const (
	stateDiffBegin = "STATE_DIFF_BEGIN"
	stateDiffEnd   = "STATE_DIFF_END"
)

// Run launches one container for job, bind-mounts the PoC read-only,
// waits for it to exit (or ctx to expire), and returns its captured
// stdout/stderr as the trace plus any state-diff block it printed. The
// container is always force-removed on return.
func (d *DockerSandbox) Run(ctx context.Context, job *store.ValidationJob, poc, rpcEndpoint string) (string, string, error) {
	sessionName := fmt.Sprintf("bugbot-validate-%s-%d", job.JobID, time.Now().UnixNano())

	hostCtxDir, err := os.MkdirTemp("", "bugbot-validator-")
	if err != nil {
		return "", "", fmt.Errorf("validator: creating sandbox context dir: %w", err)
	}
	defer os.RemoveAll(hostCtxDir)

	if err := os.WriteFile(filepath.Join(hostCtxDir, "poc"), []byte(poc), 0o644); err != nil {
		return "", "", fmt.Errorf("validator: writing poc into sandbox context: %w", err)
	}

	containerConfig := &container.Config{
		Image: d.image,
		Cmd:   []string{"/sandbox/run.sh", "/poc/poc"},
		Env: []string{
			"FORKED_RPC_URL=" + rpcEndpoint,
			"ALLOW_LIVE=" + strconv.FormatBool(job.AllowLive),
			"SANDBOX_TYPE=" + job.SandboxType,
		},
		Tty: false,
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: hostCtxDir, Target: "/poc", ReadOnly: true},
		},
		Resources: container.Resources{
			Memory:   d.memoryMB * 1024 * 1024,
			CPUQuota: d.cpuQuota,
		},
		AutoRemove: false,
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, sessionName)
	if err != nil {
		return "", "", fmt.Errorf("validator: creating sandbox container: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.cli.ContainerRemove(cleanupCtx, resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", "", fmt.Errorf("validator: starting sandbox container: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			return "", "", fmt.Errorf("validator: waiting on sandbox container: %w", waitErr)
		}
	case <-statusCh:
	case <-ctx.Done():
		return "", "", ctx.Err()
	}

	logs, err := d.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("validator: fetching sandbox logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("validator: demuxing sandbox logs: %w", err)
	}

	trace := strings.TrimSpace(stdout.String())
	stateDiff := extractStateDiff(trace)
	if stderr.Len() > 0 {
		trace += "\n--- stderr ---\n" + strings.TrimSpace(stderr.String())
	}
	return trace, stateDiff, nil
}

// extractStateDiff pulls the text between the sandbox image's
// STATE_DIFF_BEGIN/STATE_DIFF_END markers out of its combined output, if
// present.
func extractStateDiff(trace string) string {
	i := strings.Index(trace, stateDiffBegin)
	j := strings.Index(trace, stateDiffEnd)
	if i < 0 || j < 0 || j < i {
		return ""
	}
	return strings.TrimSpace(trace[i+len(stateDiffBegin) : j])
}
