// Package runtimetest provides an in-memory container runtime that records
// every call it receives. It mimics the Docker archive semantics closely
// enough (compressed uploads, base-name entries on download, NotFound for
// missing paths) for the transfer and orchestration layers to be tested
// without a daemon.
package runtimetest

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/shinji-kodama/ngmesh/internal/model"
)

// Operation names recorded in Runtime.Calls.
const (
	OpImageExists = "image-exists"
	OpPull        = "pull"
	OpCreate      = "create"
	OpStart       = "start"
	OpCopyTo      = "copy-to"
	OpExec        = "exec"
	OpCopyFrom    = "copy-from"
	OpKill        = "kill"
	OpRemove      = "remove"
)

// ExecFunc simulates a process run inside a container. It may read and
// write the container filesystem through rt.
type ExecFunc func(rt *Runtime, containerID string, req model.ExecRequest) (model.ExecResult, error)

// Container is the fake's view of one container.
type Container struct {
	Spec    model.ContainerSpec
	Running bool
	Removed bool
	Files   map[string][]byte
}

// Runtime is a fake container runtime. The zero value is not usable; call
// New.
type Runtime struct {
	mu         sync.Mutex
	calls      []string
	containers map[string]*Container
	nextID     int

	// LocalImages lists image references reported as present locally.
	LocalImages map[string]bool

	// PullOutput is written to the progress writer on every pull.
	PullOutput string

	// ExecHook simulates command execution. Nil succeeds with no output.
	ExecHook ExecFunc

	// Fail injects an error for the named operation.
	Fail map[string]error

	// Execs records every exec request in order.
	Execs []model.ExecRequest
}

// New returns an empty fake runtime.
func New() *Runtime {
	return &Runtime{
		containers:  make(map[string]*Container),
		LocalImages: make(map[string]bool),
		Fail:        make(map[string]error),
	}
}

// Record appends an arbitrary marker to the call log so tests can check
// where non-runtime steps (such as decoding) happen in the sequence.
func (r *Runtime) Record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op)
}

// Calls returns a copy of the call log.
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Count returns how many times op was called.
func (r *Runtime) Count(op string) int {
	n := 0
	for _, c := range r.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// Container returns the fake container with the given ID, or nil.
func (r *Runtime) Container(id string) *Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containers[id]
}

// ContainerIDs returns the IDs of all containers ever created, sorted.
func (r *Runtime) ContainerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddContainer registers a running container that was not created
// through the fake, for tests that reuse an existing container.
func (r *Runtime) AddContainer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[id] = &Container{Running: true, Files: make(map[string][]byte)}
}

// WriteFile places a file in a container's filesystem.
func (r *Runtime) WriteFile(containerID, p string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[containerID]
	if !ok {
		return fmt.Errorf("no such container: %s: %w", containerID, errdefs.ErrNotFound)
	}
	c.Files[path.Clean(p)] = append([]byte(nil), data...)
	return nil
}

// ReadFile returns a file from a container's filesystem.
func (r *Runtime) ReadFile(containerID, p string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[containerID]
	if !ok {
		return nil, false
	}
	data, ok := c.Files[path.Clean(p)]
	return data, ok
}

// begin records op and returns the injected failure for it, if any.
func (r *Runtime) begin(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op)
	return r.Fail[op]
}

func (r *Runtime) lookup(id string) (*Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok || c.Removed {
		return nil, fmt.Errorf("no such container: %s: %w", id, errdefs.ErrNotFound)
	}
	return c, nil
}

// ImageExists reports whether ref is listed in LocalImages.
func (r *Runtime) ImageExists(_ context.Context, ref string) (bool, error) {
	if err := r.begin(OpImageExists); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.LocalImages[ref], nil
}

// PullImage marks ref as local and writes PullOutput to progress.
func (r *Runtime) PullImage(_ context.Context, ref string, progress io.Writer) error {
	if err := r.begin(OpPull); err != nil {
		return err
	}
	if progress != nil && r.PullOutput != "" {
		_, _ = io.WriteString(progress, r.PullOutput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LocalImages[ref] = true
	return nil
}

// CreateContainer registers a new stopped container and returns its ID.
func (r *Runtime) CreateContainer(_ context.Context, spec model.ContainerSpec) (string, error) {
	if err := r.begin(OpCreate); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("%064d", r.nextID)
	r.containers[id] = &Container{Spec: spec, Files: make(map[string][]byte)}
	return id, nil
}

// StartContainer marks the container running.
func (r *Runtime) StartContainer(_ context.Context, id string) error {
	if err := r.begin(OpStart); err != nil {
		return err
	}
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	c.Running = true
	r.mu.Unlock()
	return nil
}

// Exec runs ExecHook and mirrors its output to output.
func (r *Runtime) Exec(_ context.Context, id string, req model.ExecRequest, output io.Writer) (model.ExecResult, error) {
	if err := r.begin(OpExec); err != nil {
		return model.ExecResult{}, err
	}
	c, err := r.lookup(id)
	if err != nil {
		return model.ExecResult{}, err
	}
	if !c.Running {
		return model.ExecResult{}, fmt.Errorf("container %s is not running", id)
	}
	r.mu.Lock()
	r.Execs = append(r.Execs, req)
	hook := r.ExecHook
	r.mu.Unlock()

	res := model.ExecResult{}
	if hook != nil {
		res, err = hook(r, id, req)
		if err != nil {
			return model.ExecResult{}, err
		}
	}
	if output != nil && len(res.Output) > 0 {
		_, _ = output.Write(res.Output)
	}
	return res, nil
}

// CopyTo extracts a plain, gzip or zstd tar stream into dstDir.
func (r *Runtime) CopyTo(_ context.Context, containerID, dstDir string, content io.Reader) error {
	if err := r.begin(OpCopyTo); err != nil {
		return err
	}
	if _, err := r.lookup(containerID); err != nil {
		return err
	}
	raw, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	plain, err := decompress(raw)
	if err != nil {
		return err
	}

	tr := tar.NewReader(bytes.NewReader(plain))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("invalid tar archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		if err := r.WriteFile(containerID, path.Join(dstDir, hdr.Name), data); err != nil {
			return err
		}
	}
}

// CopyFrom returns a tar stream with one entry named by the base name of
// srcPath, or a NotFound error if the file does not exist.
func (r *Runtime) CopyFrom(_ context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	if err := r.begin(OpCopyFrom); err != nil {
		return nil, err
	}
	if _, err := r.lookup(containerID); err != nil {
		return nil, err
	}
	data, ok := r.ReadFile(containerID, srcPath)
	if !ok {
		return nil, fmt.Errorf("Could not find the file %s in container %s: %w", srcPath, containerID, errdefs.ErrNotFound)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path.Base(srcPath),
		Mode:     0o644,
		Size:     int64(len(data)),
	}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

// KillContainer marks the container stopped.
func (r *Runtime) KillContainer(_ context.Context, id string) error {
	if err := r.begin(OpKill); err != nil {
		return err
	}
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !c.Running {
		return fmt.Errorf("container %s is not running", id)
	}
	c.Running = false
	return nil
}

// RemoveContainer marks the container removed, killing it if needed.
func (r *Runtime) RemoveContainer(_ context.Context, id string) error {
	if err := r.begin(OpRemove); err != nil {
		return err
	}
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Running = false
	c.Removed = true
	return nil
}

// Live returns the IDs of containers that were created and not removed.
func (r *Runtime) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, c := range r.containers {
		if !c.Removed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// decompress sniffs the stream header the way the Docker daemon does.
func decompress(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case bytes.HasPrefix(raw, zstdMagic):
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return raw, nil
	}
}

// String renders the call log compactly for assertion messages.
func (r *Runtime) String() string {
	return strings.Join(r.Calls(), " -> ")
}
