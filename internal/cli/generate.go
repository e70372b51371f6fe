// Package cli: generate.go implements "ngmesh generate", the full meshing
// round trip against a Docker daemon.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/ngmesh/internal/config"
	"github.com/shinji-kodama/ngmesh/internal/docker"
	"github.com/shinji-kodama/ngmesh/internal/mesh"
	"github.com/shinji-kodama/ngmesh/internal/model"
	"github.com/shinji-kodama/ngmesh/internal/netgen"
	"github.com/shinji-kodama/ngmesh/internal/transfer"
)

// generateFlags holds the flag values for the generate command.
type generateFlags struct {
	params      string
	image       string
	tag         string
	suffix      string
	output      string
	pull        string
	containerID string
	timeout     string
	encoding    string
	quiet       bool
}

// runtimeClient is a container runtime the CLI owns and must close.
type runtimeClient interface {
	netgen.Runtime
	Close() error
}

// connectRuntime opens the runtime used by generate. Tests replace it.
var connectRuntime = func(ctx context.Context, host string) (runtimeClient, error) {
	return dialDocker(ctx, host)
}

// dialDocker resolves the daemon address, connects and pings.
func dialDocker(ctx context.Context, configured string) (*docker.Client, error) {
	host, err := docker.ResolveHost(configured)
	if err != nil {
		return nil, err
	}
	c, err := docker.NewClient(host)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	logger.Debug("connected to Docker daemon", zap.String("host", host))
	return c, nil
}

// NewGenerateCommand creates the "generate" cobra command.
func NewGenerateCommand() *cobra.Command {
	flags := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate [geo-file|-]",
		Short: "Mesh a geometry file with Netgen in a container",
		Long: `Mesh a CSG geometry description with Netgen running in a Docker container.

The geometry is read from the given file, or from stdin when the argument
is "-" or omitted. Netgen runs as:

  netgen <params> -geofile=<staged> -meshfile=/output.msh -meshfiletype="Gmsh2 Format" -batchmode

A summary of the resulting mesh is printed; use --output to keep the mesh
itself. Netgen's own output is streamed to stderr unless --quiet is set.

Examples:
  ngmesh generate cube.geo -o cube.msh
  ngmesh generate cube.geo --params "-fine" --tag 6.2.2404
  cat cube.geo | ngmesh generate --pull missing --json`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			input := "-"
			if len(args) == 1 {
				input = args[0]
			}
			return runGenerate(cmd, input, flags)
		},
	}

	cmd.Flags().StringVar(&flags.params, "params", "", "Extra netgen arguments, inserted before -geofile=")
	cmd.Flags().StringVar(&flags.image, "image", "", "Image containing netgen, optionally with :tag")
	cmd.Flags().StringVar(&flags.tag, "tag", "", "Image tag (overrides a tag given in --image)")
	cmd.Flags().StringVar(&flags.suffix, "suffix", "", "File suffix for the staged geometry (default .geo)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the mesh to this file (Gmsh 2.2 ASCII)")
	cmd.Flags().StringVar(&flags.pull, "pull", "", "Pull policy: always, missing, never")
	cmd.Flags().StringVar(&flags.containerID, "container", "", "Use this running container instead of creating one (it is not removed)")
	cmd.Flags().StringVar(&flags.timeout, "timeout", "", "Abort the run after this duration, e.g. 10m (default: no limit)")
	cmd.Flags().StringVar(&flags.encoding, "encoding", "", "Upload compression: identity, gzip, zstd")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Do not stream netgen or pull output")

	return cmd
}

func runGenerate(cmd *cobra.Command, input string, flags *generateFlags) error {
	ctx := cmd.Context()

	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	if err := applyGenerateFlags(cmd, &cfg, flags); err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, "invalid flags", err)
	}

	geo, err := readGeometry(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}

	rt, err := connectRuntime(ctx, cfg.DockerHost)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	opts := cfg.GenerateOptions()
	opts.Params = flags.params
	opts.ContainerID = flags.containerID
	if !flags.quiet && !IsJSONOutput() {
		opts.Echo = cmd.ErrOrStderr()
		opts.Progress = cmd.ErrOrStderr()
	}

	g := &netgen.Generator{
		Runtime: rt,
		Stager:  transfer.NewArchive(rt, transfer.WithEncoding(cfg.Encoding), transfer.WithLogger(logger)),
		Logger:  logger,
	}

	m, err := g.Generate(ctx, geo, opts)
	if err != nil {
		var toolErr *model.ToolExitError
		if opts.Echo == nil && errors.As(err, &toolErr) && len(toolErr.Output) > 0 {
			// The output was not streamed, so show it now.
			_, _ = cmd.ErrOrStderr().Write(toolErr.Output)
		}
		return err
	}

	if flags.output != "" {
		if err := writeMeshFile(flags.output, m); err != nil {
			return err
		}
		logger.Debug("mesh written", zap.String("path", flags.output))
	}

	printMeshSummary(cmd.OutOrStdout(), m, flags.output)
	return nil
}

// applyGenerateFlags overlays the flags the user set on cfg.
func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config, flags *generateFlags) error {
	changed := cmd.Flags().Changed

	if changed("image") {
		ref, err := model.ParseImageRef(flags.image)
		if err != nil {
			return err
		}
		cfg.Image = ref
	}
	if changed("tag") {
		cfg.Image.Tag = flags.tag
	}
	if changed("suffix") {
		cfg.Suffix = flags.suffix
	}
	if changed("pull") {
		p, err := model.ParsePullPolicy(flags.pull)
		if err != nil {
			return err
		}
		cfg.PullPolicy = p
	}
	if changed("encoding") {
		e, err := transfer.ParseEncoding(flags.encoding)
		if err != nil {
			return err
		}
		cfg.Encoding = e
	}
	if changed("timeout") {
		d, err := config.ParseTimeout(flags.timeout)
		if err != nil {
			return err
		}
		cfg.Timeout = d
	}
	if dockerHost != "" {
		cfg.DockerHost = dockerHost
	}
	return cfg.Validate()
}

// readGeometry reads the geometry from the named file, or from stdin for
// "-".
func readGeometry(stdin io.Reader, input string) (string, error) {
	if input == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", model.WrapCLIError(model.ExitInvalidInput, "failed to read geometry from stdin", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return "", model.WrapCLIError(model.ExitInvalidInput,
			fmt.Sprintf("failed to read geometry file %s", input), err)
	}
	return string(data), nil
}

// writeMeshFile writes m to path as Gmsh 2.2 ASCII.
func writeMeshFile(path string, m *mesh.Mesh) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, fmt.Sprintf("failed to create %s", path), err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = model.WrapCLIError(model.ExitGeneralError, fmt.Sprintf("failed to write %s", path), cerr)
		}
	}()

	if err := mesh.WriteMSH(f, m); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}
