package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/ngmesh/internal/model"
	"github.com/shinji-kodama/ngmesh/internal/transfer"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ngsolve/ngsolve:latest", cfg.Image.String())
	assert.Equal(t, ".geo", cfg.Suffix)
	assert.Equal(t, "netgen", cfg.Executable)
	assert.Equal(t, "/output.msh", cfg.OutputPath)
	assert.Equal(t, "Gmsh2 Format", cfg.OutputFormat)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, model.PullAlways, cfg.PullPolicy)
	assert.Equal(t, transfer.EncodingIdentity, cfg.Encoding)
	assert.Zero(t, cfg.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_Formats verifies that the same settings load identically from
// every supported format.
func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "ngmesh.toml",
			content: `
image = "registry.local:5000/netgen"
tag = "6.2.2404"
pull_policy = "missing"
transfer_encoding = "zstd"
timeout = "10m"
docker_host = "unix:///run/user/1000/docker.sock"
`,
		},
		{
			name: "yaml",
			file: "ngmesh.yaml",
			content: `
image: registry.local:5000/netgen
tag: "6.2.2404"
pull_policy: missing
transfer_encoding: zstd
timeout: 10m
docker_host: unix:///run/user/1000/docker.sock
`,
		},
		{
			name: "jsonc",
			file: "ngmesh.jsonc",
			content: `{
  // private mirror
  "image": "registry.local:5000/netgen",
  "tag": "6.2.2404",
  "pull_policy": "missing",
  "transfer_encoding": "zstd",
  "timeout": "10m",
  "docker_host": "unix:///run/user/1000/docker.sock", /* trailing comma */
}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, "registry.local:5000/netgen:6.2.2404", cfg.Image.String())
			assert.Equal(t, model.PullMissing, cfg.PullPolicy)
			assert.Equal(t, transfer.EncodingZstd, cfg.Encoding)
			assert.Equal(t, 10*time.Minute, cfg.Timeout)
			assert.Equal(t, "unix:///run/user/1000/docker.sock", cfg.DockerHost)

			// Unset keys keep their defaults.
			assert.Equal(t, "netgen", cfg.Executable)
			assert.Equal(t, ".geo", cfg.Suffix)
		})
	}
}

// TestLoad_ImageWithTag verifies that a tag embedded in image is used
// unless tag is set explicitly.
func TestLoad_ImageWithTag(t *testing.T) {
	cfg, err := Load(writeConfig(t, "a.toml", `image = "ngsolve/ngsolve:6.2"`))
	require.NoError(t, err)
	assert.Equal(t, "ngsolve/ngsolve:6.2", cfg.Image.String())

	cfg, err = Load(writeConfig(t, "b.toml", "image = \"ngsolve/ngsolve:6.2\"\ntag = \"6.3\""))
	require.NoError(t, err)
	assert.Equal(t, "ngsolve/ngsolve:6.3", cfg.Image.String())
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "empty.yml", "# nothing here\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantMsg string
	}{
		{"unknown toml key", "c.toml", `imgae = "x"`, "unknown key"},
		{"unknown yaml key", "c.yaml", "imgae: x\n", "imgae"},
		{"unknown json key", "c.json", `{"imgae": "x"}`, "imgae"},
		{"bad pull policy", "c.toml", `pull_policy = "sometimes"`, "pull policy"},
		{"bad encoding", "c.toml", `transfer_encoding = "brotli"`, "transfer encoding"},
		{"bad timeout", "c.toml", `timeout = "forever"`, "invalid timeout"},
		{"relative output", "c.toml", `output_path = "out.msh"`, "absolute"},
		{"output with space", "c.toml", `output_path = "/out put.msh"`, "whitespace"},
		{"suffix with space", "c.yaml", "suffix: \".my geo\"\n", "whitespace"},
		{"empty executable", "c.toml", `executable = ""`, "executable"},
		{"unsupported format", "c.ini", "image=x", "unsupported config format"},
		{"malformed toml", "c.toml", `image = `, "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)

			var cliErr *model.CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, model.ExitInvalidInput, cliErr.Code)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/ngmesh.toml")
	assert.Equal(t, "/tmp/flag.yaml", ResolvePath("/tmp/flag.yaml"))
	assert.Equal(t, "/etc/ngmesh.toml", ResolvePath(""))

	t.Setenv(EnvConfigPath, "")
	assert.Empty(t, ResolvePath(""))
}

func TestParseTimeout(t *testing.T) {
	for _, s := range []string{"", "0", "none", " none "} {
		d, err := ParseTimeout(s)
		require.NoError(t, err, s)
		assert.Zero(t, d, s)
	}

	d, err := ParseTimeout("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseTimeout("-5s")
	assert.Error(t, err)
}

func TestGenerateOptions(t *testing.T) {
	cfg := Default()
	cfg.User = "netgen"
	cfg.Timeout = time.Minute

	opts := cfg.GenerateOptions()
	assert.Equal(t, cfg.Image, opts.Image)
	assert.Equal(t, "netgen", opts.User)
	assert.Equal(t, time.Minute, opts.Timeout)
	assert.Equal(t, model.PullAlways, opts.PullPolicy)
	assert.Empty(t, opts.ContainerID)
}
