// Package config loads ngmesh settings.
//
// Settings are layered: built-in defaults, then an optional config file,
// then command-line flags (applied by the CLI). The file format is chosen
// by extension:
//
//	.toml         github.com/BurntSushi/toml
//	.yaml, .yml   gopkg.in/yaml.v3
//	.json, .jsonc github.com/tidwall/jsonc + encoding/json
//
// Unknown keys are rejected in every format so a typo does not silently
// fall back to a default.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/ngmesh/internal/model"
	"github.com/shinji-kodama/ngmesh/internal/netgen"
	"github.com/shinji-kodama/ngmesh/internal/transfer"
)

// EnvConfigPath names the environment variable consulted when no
// --config flag is given.
const EnvConfigPath = "NGMESH_CONFIG"

// Config is the resolved configuration.
type Config struct {
	Image        model.ImageRef
	Suffix       string
	Executable   string
	OutputPath   string
	OutputFormat string
	User         string
	PullPolicy   model.PullPolicy
	Encoding     transfer.Encoding

	// DockerHost overrides DOCKER_HOST and socket detection when set.
	DockerHost string

	// Timeout bounds one generate call. Zero means no limit.
	Timeout time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Image:        netgen.DefaultImage,
		Suffix:       netgen.DefaultSuffix,
		Executable:   netgen.DefaultExecutable,
		OutputPath:   netgen.DefaultOutputPath,
		OutputFormat: netgen.DefaultOutputFormat,
		User:         netgen.DefaultUser,
		PullPolicy:   model.PullAlways,
		Encoding:     transfer.EncodingIdentity,
	}
}

// fileConfig is the on-disk shape. Pointer fields distinguish "absent"
// from "set to the zero value".
type fileConfig struct {
	Image            *string `toml:"image" yaml:"image" json:"image"`
	Tag              *string `toml:"tag" yaml:"tag" json:"tag"`
	Suffix           *string `toml:"suffix" yaml:"suffix" json:"suffix"`
	Executable       *string `toml:"executable" yaml:"executable" json:"executable"`
	OutputPath       *string `toml:"output_path" yaml:"output_path" json:"output_path"`
	OutputFormat     *string `toml:"output_format" yaml:"output_format" json:"output_format"`
	User             *string `toml:"user" yaml:"user" json:"user"`
	PullPolicy       *string `toml:"pull_policy" yaml:"pull_policy" json:"pull_policy"`
	TransferEncoding *string `toml:"transfer_encoding" yaml:"transfer_encoding" json:"transfer_encoding"`
	DockerHost       *string `toml:"docker_host" yaml:"docker_host" json:"docker_host"`
	Timeout          *string `toml:"timeout" yaml:"timeout" json:"timeout"`
}

// ResolvePath returns the config file to load: flagValue if set, else
// $NGMESH_CONFIG, else "" (no file).
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv(EnvConfigPath))
}

// Load returns the defaults overlaid with the file at path. An empty path
// returns the defaults. All failures are CLIErrors with ExitInvalidInput.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, model.WrapCLIError(model.ExitInvalidInput,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	raw, err := decode(path, data)
	if err != nil {
		return Config{}, model.WrapCLIError(model.ExitInvalidInput,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	if err := raw.apply(&cfg); err != nil {
		return Config{}, model.WrapCLIError(model.ExitInvalidInput,
			fmt.Sprintf("invalid config file %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, model.WrapCLIError(model.ExitInvalidInput,
			fmt.Sprintf("invalid config file %s", path), err)
	}
	return cfg, nil
}

func decode(path string, data []byte) (*fileConfig, error) {
	var raw fileConfig

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
		}

	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported config format %q (use .toml, .yaml, .yml, .json or .jsonc)", ext)
	}
	return &raw, nil
}

// apply overlays the fields present in f onto cfg.
func (f *fileConfig) apply(cfg *Config) error {
	if f.Image != nil {
		ref, err := model.ParseImageRef(*f.Image)
		if err != nil {
			return fmt.Errorf("image: %w", err)
		}
		cfg.Image = ref
	}
	if f.Tag != nil {
		cfg.Image.Tag = strings.TrimSpace(*f.Tag)
	}
	setString(&cfg.Suffix, f.Suffix)
	setString(&cfg.Executable, f.Executable)
	setString(&cfg.OutputPath, f.OutputPath)
	setString(&cfg.OutputFormat, f.OutputFormat)
	setString(&cfg.User, f.User)
	setString(&cfg.DockerHost, f.DockerHost)

	if f.PullPolicy != nil {
		p, err := model.ParsePullPolicy(*f.PullPolicy)
		if err != nil {
			return err
		}
		cfg.PullPolicy = p
	}
	if f.TransferEncoding != nil {
		e, err := transfer.ParseEncoding(*f.TransferEncoding)
		if err != nil {
			return err
		}
		cfg.Encoding = e
	}
	if f.Timeout != nil {
		d, err := ParseTimeout(*f.Timeout)
		if err != nil {
			return err
		}
		cfg.Timeout = d
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

// ParseTimeout parses a Go duration string. "", "0" and "none" mean no
// limit.
func ParseTimeout(s string) (time.Duration, error) {
	switch s = strings.TrimSpace(s); s {
	case "", "0", "none":
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must not be negative", s)
	}
	return d, nil
}

// Validate checks the fields that have no safe fallback.
func (c Config) Validate() error {
	if err := c.Image.Validate(); err != nil {
		return err
	}
	if c.Executable == "" {
		return fmt.Errorf("executable must not be empty")
	}
	if !strings.HasPrefix(c.OutputPath, "/") {
		return fmt.Errorf("output_path %q must be an absolute container path", c.OutputPath)
	}
	if err := netgen.CheckPathToken("output_path", c.OutputPath); err != nil {
		return err
	}
	if c.OutputFormat == "" {
		return fmt.Errorf("output_format must not be empty")
	}
	if strings.ContainsAny(c.Suffix, `/\`) {
		return fmt.Errorf("suffix %q must not contain path separators", c.Suffix)
	}
	if err := netgen.CheckPathToken("suffix", c.Suffix); err != nil {
		return err
	}
	if !c.PullPolicy.IsValid() {
		return fmt.Errorf("invalid pull_policy %q", c.PullPolicy)
	}
	if _, err := transfer.ParseEncoding(c.Encoding.String()); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// GenerateOptions maps the configuration onto netgen.Options. Per-call
// fields (params, writers, container reuse) are left for the caller.
func (c Config) GenerateOptions() netgen.Options {
	return netgen.Options{
		Image:        c.Image,
		Suffix:       c.Suffix,
		Executable:   c.Executable,
		OutputPath:   c.OutputPath,
		OutputFormat: c.OutputFormat,
		User:         c.User,
		PullPolicy:   c.PullPolicy,
		Timeout:      c.Timeout,
	}
}
