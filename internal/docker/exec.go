package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shinji-kodama/ngmesh/internal/model"
)

// Exec runs req inside a running container and waits for it to finish.
//
// Without a TTY the daemon multiplexes stdout and stderr into one framed
// stream; both are demultiplexed into the same buffer so Output keeps the
// interleaving the process produced. When output is non-nil the frames are
// also copied there as they arrive.
//
// The exit status is read back with ExecInspect after the stream closes.
// A non-zero status is NOT an error here; the caller decides what it means.
func (c *Client) Exec(ctx context.Context, containerID string, req model.ExecRequest, output io.Writer) (model.ExecResult, error) {
	created, err := c.inner.ContainerExecCreate(ctx, containerID, buildExecOptions(req))
	if err != nil {
		return model.ExecResult{}, fmt.Errorf("create exec in %s: %w", model.ShortID(containerID), err)
	}

	attach, err := c.inner.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return model.ExecResult{}, fmt.Errorf("attach exec %s: %w", model.ShortID(created.ID), err)
	}
	defer attach.Close()

	var combined bytes.Buffer
	if err := demuxOutput(ctx, attach.Reader, &combined, output, attach.Close); err != nil {
		return model.ExecResult{}, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := c.inner.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return model.ExecResult{}, fmt.Errorf("inspect exec %s: %w", model.ShortID(created.ID), err)
	}

	return model.ExecResult{
		ExitCode: inspect.ExitCode,
		Output:   combined.Bytes(),
	}, nil
}

// buildExecOptions maps an ExecRequest to the Docker exec configuration.
// Stdin is never attached and no TTY is allocated, so the output stream is
// always multiplexed.
func buildExecOptions(req model.ExecRequest) container.ExecOptions {
	return container.ExecOptions{
		User:         req.User,
		Cmd:          req.Cmd,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
}

// demuxOutput copies the multiplexed stream src into combined (and echo,
// if set) until src ends. StdCopy does not observe ctx, so abort is
// called on cancellation to unblock the read.
func demuxOutput(ctx context.Context, src io.Reader, combined *bytes.Buffer, echo io.Writer, abort func()) error {
	var dst io.Writer = combined
	if echo != nil {
		dst = io.MultiWriter(combined, echo)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			abort()
		case <-done:
		}
	}()

	// Passing the same writer for stdout and stderr merges the streams.
	// StdCopy writes from a single goroutine, so no locking is needed.
	_, err := stdcopy.StdCopy(dst, dst, src)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
