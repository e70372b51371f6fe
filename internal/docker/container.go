// container.go implements the Docker container lifecycle operations used
// by the meshing flow: image pull, container create/start/kill/remove, and
// the two archive copy primitives.
//
// These methods return plain wrapped errors. Which stage a failure belongs
// to (provisioning, staging, retrieval) is decided by the caller, so the
// same CopyFromContainer failure can be reported as a retrieval error by
// the orchestrator without this package knowing about stages.
//
// Listing and pruning managed containers is the exception: those are CLI
// entry points in their own right and return CLIErrors directly.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/shinji-kodama/ngmesh/internal/model"
)

// ImageExists reports whether ref is present in the local image store.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.inner.ImageInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspect image %s: %w", ref, err)
}

// PullImage pulls ref and renders the daemon's JSON progress stream as
// plain status lines on progress. A nil progress discards the lines but
// still drains the stream, which is required for the pull to complete.
//
// Errors reported inside the stream (for example "manifest unknown") are
// returned as errors even though the HTTP request itself succeeded.
func (c *Client) PullImage(ctx context.Context, ref string, progress io.Writer) error {
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()

	if progress == nil {
		progress = io.Discard
	}
	// terminalFd 0 with isTerminal=false prints one line per status
	// message instead of redrawing progress bars.
	if err := jsonmessage.DisplayJSONMessagesStream(rc, progress, 0, false, nil); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

// CreateContainer creates (but does not start) a container from spec and
// returns its ID. The container is labeled as managed by ngmesh and named
// "ngmesh-<random>" unless spec names it, so "ngmesh prune" can find it if
// it is ever leaked.
func (c *Client) CreateContainer(ctx context.Context, spec model.ContainerSpec) (string, error) {
	spec = withManagement(spec, time.Now())
	cfg := &container.Config{
		Image:  spec.Image.String(),
		Cmd:    spec.Cmd,
		Labels: spec.Labels,
	}
	resp, err := c.inner.ContainerCreate(ctx, cfg, &container.HostConfig{}, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container from %s: %w", spec.Image, err)
	}
	return resp.ID, nil
}

// StartContainer starts a created container by its ID.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	// container.StartOptions is empty for our use but required by the API.
	if err := c.inner.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", model.ShortID(containerID), err)
	}
	return nil
}

// KillContainer sends SIGKILL to the container's main process. The idle
// sleep runs as PID 1 and ignores SIGTERM, so a graceful stop would only
// wait out the stop timeout.
func (c *Client) KillContainer(ctx context.Context, containerID string) error {
	if err := c.inner.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		return fmt.Errorf("kill container %s: %w", model.ShortID(containerID), err)
	}
	return nil
}

// RemoveContainer force-removes a container by its ID. Force makes the
// removal succeed even if the preceding kill failed and the container is
// still running.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.inner.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force: true,
	})
	if err != nil {
		return fmt.Errorf("remove container %s: %w", model.ShortID(containerID), err)
	}
	return nil
}

// CopyTo extracts the tar stream content into dstDir inside the container.
// The daemon accepts plain, gzip, bzip2, xz and zstd compressed streams.
func (c *Client) CopyTo(ctx context.Context, containerID, dstDir string, content io.Reader) error {
	err := c.inner.CopyToContainer(ctx, containerID, dstDir, content, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("copy archive to %s:%s: %w", model.ShortID(containerID), dstDir, err)
	}
	return nil
}

// CopyFrom returns an uncompressed tar stream of srcPath. The caller must
// close it. A missing path yields an error matching errdefs.IsNotFound.
func (c *Client) CopyFrom(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	rc, _, err := c.inner.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		return nil, fmt.Errorf("copy %s:%s from container: %w", model.ShortID(containerID), srcPath, err)
	}
	return rc, nil
}

// ListManagedContainers queries the Docker daemon for all containers that
// carry the "ngmesh.managed-by=ngmesh" label, including stopped ones.
//
// In normal operation this list is empty: every generate call removes its
// container before returning. Entries here are leftovers from processes
// that were killed mid-run.
func ListManagedContainers(ctx context.Context, cli *Client) ([]model.ContainerInfo, error) {
	// Docker performs the label filtering server-side.
	filterArgs := filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
	)

	containers, err := cli.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	result := make([]model.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		if !IsManaged(c.Labels) {
			continue
		}
		result = append(result, containerToInfo(c))
	}

	return result, nil
}

// containerToInfo converts a Docker API container summary to our domain
// model ContainerInfo. This is a pure mapping function with no side effects.
//
// The Docker API returns container names with a leading "/" prefix
// (e.g., "/ngmesh-1a2b3c4d"), which we strip for cleaner display.
func containerToInfo(c container.Summary) model.ContainerInfo {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	// Prefer our own label over the daemon timestamp; the label survives
	// a container being recreated from a commit.
	createdAt, err := ParseCreatedAt(c.Labels)
	if err != nil {
		createdAt = time.Unix(c.Created, 0).UTC()
	}

	return model.ContainerInfo{
		ContainerID:   c.ID,
		ContainerName: name,
		Image:         c.Image,
		Status:        string(c.State),
		CreatedAt:     createdAt,
		Labels:        c.Labels,
	}
}

// SelectStale returns the containers created before cutoff. Containers of
// runs still in progress are younger than any sensible cutoff and are left
// alone.
func SelectStale(containers []model.ContainerInfo, cutoff time.Time) []model.ContainerInfo {
	stale := make([]model.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		if c.CreatedAt.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	return stale
}

// PruneContainer force-removes one leaked managed container.
func PruneContainer(ctx context.Context, cli *Client, containerID string) error {
	if err := cli.RemoveContainer(ctx, containerID); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to remove container %q", model.ShortID(containerID)),
			err,
		)
	}
	return nil
}
