package netgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/ngmesh/internal/model"
)

func TestBuildCommandLine(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   string
	}{
		{
			name:   "no params",
			params: "",
			want:   `netgen -geofile=/a.geo -meshfile=/output.msh -meshfiletype="Gmsh2 Format" -batchmode`,
		},
		{
			name:   "single param",
			params: "-fine",
			want:   `netgen -fine -geofile=/a.geo -meshfile=/output.msh -meshfiletype="Gmsh2 Format" -batchmode`,
		},
		{
			name:   "params inserted verbatim",
			params: "-maxh=0.1  -secondorder",
			want:   `netgen -maxh=0.1  -secondorder -geofile=/a.geo -meshfile=/output.msh -meshfiletype="Gmsh2 Format" -batchmode`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildCommandLine(DefaultExecutable, tt.params, "/a.geo", DefaultOutputPath, DefaultOutputFormat)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestBuildCommandLine_EmptyParams verifies that nothing sits between the
// executable and -geofile= when no params are given.
func TestBuildCommandLine_EmptyParams(t *testing.T) {
	line := BuildCommandLine("netgen", "", "/x.geo", "/output.msh", "Gmsh2 Format")
	argv, err := SplitCommandLine(line)
	require.NoError(t, err)
	assert.Equal(t, "netgen", argv[0])
	assert.Equal(t, "-geofile=/x.geo", argv[1])
}

func TestSplitCommandLine(t *testing.T) {
	argv, err := SplitCommandLine(BuildCommandLine("netgen", `-meshsizefilename="/my sizes.msz"`, "/a.geo", "/output.msh", "Gmsh2 Format"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"netgen",
		"-meshsizefilename=/my sizes.msz",
		"-geofile=/a.geo",
		"-meshfile=/output.msh",
		"-meshfiletype=Gmsh2 Format",
		"-batchmode",
	}, argv)

	_, err = SplitCommandLine(`netgen -x "unterminated`)
	assert.Error(t, err)

	_, err = SplitCommandLine("   ")
	assert.Error(t, err)
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultImage, o.Image)
	assert.Equal(t, ".geo", o.Suffix)
	assert.Equal(t, "netgen", o.Executable)
	assert.Equal(t, "/output.msh", o.OutputPath)
	assert.Equal(t, "Gmsh2 Format", o.OutputFormat)
	assert.Equal(t, "root", o.User)
	assert.Equal(t, []string{"sleep", "infinity"}, o.IdleCmd)
	assert.Equal(t, model.PullAlways, o.PullPolicy)
	assert.NoError(t, o.validate())

	custom := Options{Suffix: ".stl", User: "netgen"}.withDefaults()
	assert.Equal(t, ".stl", custom.Suffix)
	assert.Equal(t, "netgen", custom.User)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"bad pull policy", func(o *Options) { o.PullPolicy = "sometimes" }},
		{"suffix with separator", func(o *Options) { o.Suffix = "/../x.geo" }},
		{"suffix with space", func(o *Options) { o.Suffix = ".my geo" }},
		{"suffix with quote", func(o *Options) { o.Suffix = `.g"eo` }},
		{"suffix with backslash", func(o *Options) { o.Suffix = `.g\eo` }},
		{"output path with tab", func(o *Options) { o.OutputPath = "/out\tput.msh" }},
		{"relative output path", func(o *Options) { o.OutputPath = "output.msh" }},
		{"negative timeout", func(o *Options) { o.Timeout = -1 }},
		{"unterminated quote in params", func(o *Options) { o.Params = `-x "oops` }},
		{"image with whitespace", func(o *Options) { o.Image.Name = "ngsolve ngsolve" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Options{}.withDefaults()
			tt.modify(&o)
			assert.Error(t, o.validate())
		})
	}
}
