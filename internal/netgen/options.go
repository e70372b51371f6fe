package netgen

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shinji-kodama/ngmesh/internal/model"
)

// DefaultImage is the image used when Options.Image is empty.
var DefaultImage = model.ImageRef{Name: "ngsolve/ngsolve", Tag: "latest"}

// Options configures one Generate call. The zero value is usable: every
// empty field falls back to its default.
type Options struct {
	// Image is the image containing the Netgen executable.
	Image model.ImageRef

	// Params is inserted verbatim before -geofile= on the command line.
	Params string

	// Suffix is appended to the staged geometry file name. Netgen picks
	// its geometry parser from the extension.
	Suffix string

	Executable   string
	OutputPath   string
	OutputFormat string

	// User runs the tool inside the container.
	User string

	// IdleCmd is the main process of a freshly created container.
	IdleCmd []string

	// PullPolicy decides whether the image is pulled before creating the
	// container.
	PullPolicy model.PullPolicy

	// ContainerID names an existing running container to use instead of
	// provisioning a new one. That container is neither pulled for nor
	// reaped: the caller keeps ownership.
	ContainerID string

	// Timeout bounds the whole call, tool run included. Zero means no
	// limit.
	Timeout time.Duration

	// Echo receives the tool's combined output as it is produced.
	Echo io.Writer

	// Progress receives image pull status lines.
	Progress io.Writer
}

// withDefaults returns a copy of o with empty fields filled in.
func (o Options) withDefaults() Options {
	if o.Image.Name == "" {
		o.Image = DefaultImage
	}
	if o.Suffix == "" {
		o.Suffix = DefaultSuffix
	}
	if o.Executable == "" {
		o.Executable = DefaultExecutable
	}
	if o.OutputPath == "" {
		o.OutputPath = DefaultOutputPath
	}
	if o.OutputFormat == "" {
		o.OutputFormat = DefaultOutputFormat
	}
	if o.User == "" {
		o.User = DefaultUser
	}
	if len(o.IdleCmd) == 0 {
		o.IdleCmd = DefaultIdleCmd
	}
	if o.PullPolicy == "" {
		o.PullPolicy = model.PullAlways
	}
	return o
}

// validate checks o after defaults have been applied. Everything that can
// be rejected without touching the runtime is rejected here, before a
// container exists.
func (o Options) validate() error {
	if err := o.Image.Validate(); err != nil {
		return err
	}
	if !o.PullPolicy.IsValid() {
		return fmt.Errorf("invalid pull policy %q", o.PullPolicy)
	}
	if strings.ContainsAny(o.Suffix, `/\`) {
		return fmt.Errorf("invalid file suffix %q: must not contain path separators", o.Suffix)
	}
	if err := CheckPathToken("file suffix", o.Suffix); err != nil {
		return err
	}
	if !strings.HasPrefix(o.OutputPath, "/") {
		return fmt.Errorf("output path %q must be absolute", o.OutputPath)
	}
	if err := CheckPathToken("output path", o.OutputPath); err != nil {
		return err
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	// A params string with an unterminated quote would only fail after the
	// container has been provisioned.
	if _, err := SplitCommandLine(BuildCommandLine(o.Executable, o.Params, "/x"+o.Suffix, o.OutputPath, o.OutputFormat)); err != nil {
		return err
	}
	return nil
}
