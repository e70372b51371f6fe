package netgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shinji-kodama/ngmesh/internal/mesh"
	"github.com/shinji-kodama/ngmesh/internal/model"
	"github.com/shinji-kodama/ngmesh/internal/transfer"
)

// reapTimeout bounds the kill and remove calls of the reaper. They run on
// a context detached from the caller, so a cancelled call still cleans up.
const reapTimeout = 30 * time.Second

// Runtime is the set of container operations the meshing flow needs.
// docker.Client implements it against a Docker daemon.
type Runtime interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string, progress io.Writer) error
	CreateContainer(ctx context.Context, spec model.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	Exec(ctx context.Context, containerID string, req model.ExecRequest, output io.Writer) (model.ExecResult, error)
	KillContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
	transfer.Copier
}

// DecodeFunc turns the fetched output file into a mesh.
type DecodeFunc func(data []byte) (*mesh.Mesh, error)

// Generator runs Netgen in a container. Runtime is required; the other
// fields have working defaults.
type Generator struct {
	Runtime Runtime

	// Stager moves the geometry in and the mesh out. Nil uses a plain tar
	// transfer.Archive over Runtime.
	Stager transfer.Stager

	// Logger receives step-level diagnostics. Nil disables logging.
	Logger *zap.Logger

	// Decode parses the output file. Nil uses mesh.ReadMSH.
	Decode DecodeFunc
}

// Generate meshes the geometry description geo with the default Generator
// on rt.
func Generate(ctx context.Context, rt Runtime, geo string, opts Options) (*mesh.Mesh, error) {
	g := &Generator{Runtime: rt}
	return g.Generate(ctx, geo, opts)
}

// Generate runs one full round trip and returns the decoded mesh.
//
// Errors are *model.CLIError values whose code identifies the failing
// stage; errors.Is matches them against model.ErrProvisioning,
// ErrStaging, ErrToolExecution and ErrRetrieval. If reaping the container
// also fails, that error is joined to the stage error.
func (g *Generator) Generate(ctx context.Context, geo string, opts Options) (m *mesh.Mesh, err error) {
	if g.Runtime == nil {
		return nil, model.NewCLIError(model.ExitGeneralError, "no container runtime configured")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidInput, "invalid options", err)
	}
	if strings.TrimSpace(geo) == "" {
		return nil, model.NewCLIError(model.ExitInvalidInput, "geometry description is empty")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logger := g.logger().With(zap.String("image", opts.Image.String()))
	stager := g.stager(logger)

	containerID := opts.ContainerID
	if containerID == "" {
		if err := g.ensureImage(ctx, opts, logger); err != nil {
			return nil, err
		}

		id, err := g.Runtime.CreateContainer(ctx, model.ContainerSpec{
			Image: opts.Image,
			Cmd:   opts.IdleCmd,
		})
		if err != nil {
			return nil, model.WrapCLIError(model.ExitProvisioningFailed,
				fmt.Sprintf("failed to create container from %s", opts.Image), err)
		}
		containerID = id
		logger = logger.With(zap.String("container", model.ShortID(id)))
		logger.Debug("container created")

		defer func() {
			m, err = g.release(id, m, err, logger)
		}()

		if err := g.Runtime.StartContainer(ctx, id); err != nil {
			return nil, model.WrapCLIError(model.ExitProvisioningFailed,
				fmt.Sprintf("failed to start container %s", model.ShortID(id)), err)
		}
		logger.Debug("container started")
	} else {
		logger = logger.With(zap.String("container", model.ShortID(containerID)))
		logger.Debug("reusing existing container")
	}

	geoPath, err := stager.Stage(ctx, containerID, []byte(geo), opts.Suffix)
	if err != nil {
		return nil, classify(err, model.ErrStaging, model.ExitStagingFailed, "failed to stage geometry")
	}

	if err := g.invoke(ctx, containerID, geoPath, opts, logger); err != nil {
		return nil, err
	}

	data, err := stager.Fetch(ctx, containerID, opts.OutputPath)
	if err != nil {
		return nil, classify(err, model.ErrRetrieval, model.ExitRetrievalFailed, "failed to fetch output mesh")
	}

	m, err = g.decode(data)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitRetrievalFailed,
			fmt.Sprintf("failed to decode %s", opts.OutputPath), err)
	}
	logger.Debug("mesh decoded",
		zap.Int("points", len(m.Points)),
		zap.Int("cells", m.NumCells()))
	return m, nil
}

// ensureImage applies the pull policy.
func (g *Generator) ensureImage(ctx context.Context, opts Options, logger *zap.Logger) error {
	ref := opts.Image.String()

	switch opts.PullPolicy {
	case model.PullNever:
		return nil
	case model.PullMissing:
		exists, err := g.Runtime.ImageExists(ctx, ref)
		if err != nil {
			return model.WrapCLIError(model.ExitProvisioningFailed,
				fmt.Sprintf("failed to inspect image %s", ref), err)
		}
		if exists {
			logger.Debug("image present locally, skipping pull")
			return nil
		}
	}

	logger.Debug("pulling image")
	if err := g.Runtime.PullImage(ctx, ref, opts.Progress); err != nil {
		return model.WrapCLIError(model.ExitProvisioningFailed,
			fmt.Sprintf("failed to pull image %s", ref), err)
	}
	return nil
}

// invoke runs the tool against the staged geometry and checks its exit
// status.
func (g *Generator) invoke(ctx context.Context, containerID, geoPath string, opts Options, logger *zap.Logger) error {
	line := BuildCommandLine(opts.Executable, opts.Params, geoPath, opts.OutputPath, opts.OutputFormat)
	argv, err := SplitCommandLine(line)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, "invalid tool command line", err)
	}

	logger.Debug("running tool", zap.String("command", line), zap.String("user", opts.User))
	start := time.Now()
	res, err := g.Runtime.Exec(ctx, containerID, model.ExecRequest{Cmd: argv, User: opts.User}, opts.Echo)
	if err != nil {
		return model.WrapCLIError(model.ExitToolFailed,
			fmt.Sprintf("failed to run %s", opts.Executable), err)
	}
	logger.Debug("tool finished",
		zap.Int("exitCode", res.ExitCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("outputBytes", len(res.Output)))

	if res.ExitCode != 0 {
		return model.WrapCLIError(model.ExitToolFailed,
			fmt.Sprintf("%s failed", opts.Executable),
			&model.ToolExitError{ExitCode: res.ExitCode, Output: res.Output})
	}
	return nil
}

// release reaps an owned container and folds the outcome into the result
// of Generate. A reap failure after a successful run is only logged; the
// mesh is still returned.
func (g *Generator) release(containerID string, m *mesh.Mesh, err error, logger *zap.Logger) (*mesh.Mesh, error) {
	reapErr := g.reap(containerID, logger)
	if reapErr == nil {
		return m, err
	}
	if err == nil {
		logger.Warn("failed to remove container", zap.Error(reapErr))
		return m, nil
	}
	return nil, errors.Join(err, reapErr)
}

// reap kills and force-removes the container. The kill may fail (the
// container never started, or already exited); removal is attempted
// regardless.
func (g *Generator) reap(containerID string, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()

	if err := g.Runtime.KillContainer(ctx, containerID); err != nil {
		logger.Debug("kill failed, removing anyway", zap.Error(err))
	}
	if err := g.Runtime.RemoveContainer(ctx, containerID); err != nil {
		return fmt.Errorf("reap container %s: %w", model.ShortID(containerID), err)
	}
	logger.Debug("container removed")
	return nil
}

func (g *Generator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *Generator) stager(logger *zap.Logger) transfer.Stager {
	if g.Stager != nil {
		return g.Stager
	}
	return transfer.NewArchive(g.Runtime, transfer.WithLogger(logger))
}

func (g *Generator) decode(data []byte) (*mesh.Mesh, error) {
	if g.Decode != nil {
		return g.Decode(data)
	}
	return mesh.ReadMSH(bytes.NewReader(data))
}

// classify wraps err in a CLIError for the given stage unless it already
// carries one.
func classify(err, sentinel error, code model.ExitCode, msg string) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return model.WrapCLIError(code, msg, err)
}
