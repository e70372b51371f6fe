package netgen

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shinji-kodama/ngmesh/internal/mesh"
	"github.com/shinji-kodama/ngmesh/internal/model"
	"github.com/shinji-kodama/ngmesh/internal/runtimetest"
)

const opDecode = "decode"

const toolOutput = "Meshing done, time = 0.01 sec\n"

// netgenHook simulates a successful Netgen run.
var netgenHook = runtimetest.MeshingHook([]byte(runtimetest.TetraMSH), toolOutput)

// newFixture returns a fake runtime with the Netgen hook installed and a
// generator that records decoding in the runtime's call log.
func newFixture(t *testing.T) (*runtimetest.Runtime, *Generator) {
	t.Helper()
	rt := runtimetest.New()
	rt.ExecHook = netgenHook
	g := &Generator{
		Runtime: rt,
		Decode: func(data []byte) (*mesh.Mesh, error) {
			rt.Record(opDecode)
			return mesh.ReadMSH(bytes.NewReader(data))
		},
	}
	return rt, g
}

// TestGenerate_CallOrder verifies the fixed operation sequence and the
// decoded result of a successful run.
func TestGenerate_CallOrder(t *testing.T) {
	rt, g := newFixture(t)

	m, err := g.Generate(context.Background(), "algebraic3d\n", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		runtimetest.OpPull,
		runtimetest.OpCreate,
		runtimetest.OpStart,
		runtimetest.OpCopyTo,
		runtimetest.OpExec,
		runtimetest.OpCopyFrom,
		opDecode,
		runtimetest.OpKill,
		runtimetest.OpRemove,
	}, rt.Calls(), rt.String())

	require.NotNil(t, m)
	assert.Len(t, m.Points, 4)
	assert.Equal(t, map[string]int{"triangle": 4, "tetra": 1}, m.CellCounts())
	assert.Empty(t, rt.Live(), "container must be removed")
}

// TestGenerate_ContainerSpec verifies the image and idle command of the
// provisioned container.
func TestGenerate_ContainerSpec(t *testing.T) {
	rt, g := newFixture(t)

	_, err := g.Generate(context.Background(), "algebraic3d\n", Options{
		Image: model.ImageRef{Name: "registry.local:5000/netgen", Tag: "6.2.2404"},
	})
	require.NoError(t, err)

	ids := rt.ContainerIDs()
	require.Len(t, ids, 1)
	spec := rt.Container(ids[0]).Spec
	assert.Equal(t, "registry.local:5000/netgen:6.2.2404", spec.Image.String())
	assert.Equal(t, []string{"sleep", "infinity"}, spec.Cmd)
	assert.True(t, rt.LocalImages["registry.local:5000/netgen:6.2.2404"], "image should have been pulled")
}

// TestGenerate_StagedGeometry verifies the staged path, its contents and
// the command line the tool receives.
func TestGenerate_StagedGeometry(t *testing.T) {
	rt, g := newFixture(t)

	_, err := g.Generate(context.Background(), "algebraic3d\n", Options{Params: "-fine"})
	require.NoError(t, err)

	require.Len(t, rt.Execs, 1)
	req := rt.Execs[0]
	assert.Equal(t, "root", req.User)
	require.Len(t, req.Cmd, 6)
	assert.Equal(t, "netgen", req.Cmd[0])
	assert.Equal(t, "-fine", req.Cmd[1])
	assert.Equal(t, []string{"-meshfile=/output.msh", "-meshfiletype=Gmsh2 Format", "-batchmode"}, req.Cmd[3:])

	geoPath, ok := strings.CutPrefix(req.Cmd[2], "-geofile=")
	require.True(t, ok, req.Cmd[2])
	assert.True(t, strings.HasPrefix(geoPath, "/"), geoPath)
	assert.True(t, strings.HasSuffix(geoPath, ".geo"), geoPath)
	assert.NotContains(t, strings.TrimPrefix(geoPath, "/"), "/", "geometry must be staged at the root")

	staged, ok := rt.ReadFile(rt.ContainerIDs()[0], geoPath)
	require.True(t, ok)
	assert.Equal(t, "algebraic3d\n", string(staged))
}

// TestGenerate_StagedGeometryCustomSuffix verifies that a non-default
// suffix reaches the tool as part of a single -geofile argument.
func TestGenerate_StagedGeometryCustomSuffix(t *testing.T) {
	rt, g := newFixture(t)

	_, err := g.Generate(context.Background(), "algebraic3d\n", Options{Suffix: ".in2d"})
	require.NoError(t, err)

	require.Len(t, rt.Execs, 1)
	cmd := rt.Execs[0].Cmd
	require.Len(t, cmd, 5)
	geoPath, ok := strings.CutPrefix(cmd[1], "-geofile=")
	require.True(t, ok, cmd[1])
	assert.True(t, strings.HasSuffix(geoPath, ".in2d"), geoPath)

	_, ok = rt.ReadFile(rt.ContainerIDs()[0], geoPath)
	assert.True(t, ok, "tool must be pointed at the staged file")
}

// TestGenerate_EmptyParams verifies that no parameter token appears
// between the executable and -geofile= by default.
func TestGenerate_EmptyParams(t *testing.T) {
	rt, g := newFixture(t)

	_, err := g.Generate(context.Background(), "algebraic3d\n", Options{})
	require.NoError(t, err)

	require.Len(t, rt.Execs, 1)
	cmd := rt.Execs[0].Cmd
	require.Len(t, cmd, 5)
	assert.True(t, strings.HasPrefix(cmd[1], "-geofile=/"), cmd[1])
}

// TestGenerate_CleanupOnFailure verifies that a created container is
// reaped exactly once whichever step fails, and that the error names the
// failing stage.
func TestGenerate_CleanupOnFailure(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		setup     func(rt *runtimetest.Runtime, g *Generator)
		wantStage error
		wantCode  model.ExitCode
		wantReap  bool
	}{
		{
			name:      "pull fails",
			setup:     func(rt *runtimetest.Runtime, _ *Generator) { rt.Fail[runtimetest.OpPull] = boom },
			wantStage: model.ErrProvisioning,
			wantCode:  model.ExitProvisioningFailed,
		},
		{
			name:      "create fails",
			setup:     func(rt *runtimetest.Runtime, _ *Generator) { rt.Fail[runtimetest.OpCreate] = boom },
			wantStage: model.ErrProvisioning,
			wantCode:  model.ExitProvisioningFailed,
		},
		{
			name:      "start fails",
			setup:     func(rt *runtimetest.Runtime, _ *Generator) { rt.Fail[runtimetest.OpStart] = boom },
			wantStage: model.ErrProvisioning,
			wantCode:  model.ExitProvisioningFailed,
			wantReap:  true,
		},
		{
			name:      "stage fails",
			setup:     func(rt *runtimetest.Runtime, _ *Generator) { rt.Fail[runtimetest.OpCopyTo] = boom },
			wantStage: model.ErrStaging,
			wantCode:  model.ExitStagingFailed,
			wantReap:  true,
		},
		{
			name:      "exec fails",
			setup:     func(rt *runtimetest.Runtime, _ *Generator) { rt.Fail[runtimetest.OpExec] = boom },
			wantStage: model.ErrToolExecution,
			wantCode:  model.ExitToolFailed,
			wantReap:  true,
		},
		{
			name: "tool exits non-zero",
			setup: func(rt *runtimetest.Runtime, _ *Generator) {
				rt.ExecHook = runtimetest.FailingHook(1, "Error: no solid defined\n")
			},
			wantStage: model.ErrToolExecution,
			wantCode:  model.ExitToolFailed,
			wantReap:  true,
		},
		{
			name: "output missing",
			setup: func(rt *runtimetest.Runtime, _ *Generator) {
				rt.ExecHook = nil
			},
			wantStage: model.ErrRetrieval,
			wantCode:  model.ExitRetrievalFailed,
			wantReap:  true,
		},
		{
			name:      "fetch fails",
			setup:     func(rt *runtimetest.Runtime, _ *Generator) { rt.Fail[runtimetest.OpCopyFrom] = boom },
			wantStage: model.ErrRetrieval,
			wantCode:  model.ExitRetrievalFailed,
			wantReap:  true,
		},
		{
			name: "decode fails",
			setup: func(_ *runtimetest.Runtime, g *Generator) {
				g.Decode = func([]byte) (*mesh.Mesh, error) { return nil, boom }
			},
			wantStage: model.ErrRetrieval,
			wantCode:  model.ExitRetrievalFailed,
			wantReap:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, g := newFixture(t)
			tt.setup(rt, g)

			m, err := g.Generate(context.Background(), "algebraic3d\n", Options{})
			require.Error(t, err)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, tt.wantStage)

			var cliErr *model.CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, tt.wantCode, cliErr.Code)

			wantCount := 0
			if tt.wantReap {
				wantCount = 1
			}
			assert.Equal(t, wantCount, rt.Count(runtimetest.OpKill), rt.String())
			assert.Equal(t, wantCount, rt.Count(runtimetest.OpRemove), rt.String())
			assert.Empty(t, rt.Live(), "no container may outlive the call")
		})
	}
}

// TestGenerate_ToolExitError verifies that a non-zero exit is reported
// with its status and output even when an output file exists.
func TestGenerate_ToolExitError(t *testing.T) {
	rt, g := newFixture(t)
	rt.ExecHook = func(rt *runtimetest.Runtime, id string, req model.ExecRequest) (model.ExecResult, error) {
		res, err := netgenHook(rt, id, req)
		res.ExitCode = 3
		res.Output = append(res.Output, "Segmentation fault\n"...)
		return res, err
	}

	_, err := g.Generate(context.Background(), "algebraic3d\n", Options{})
	require.Error(t, err)

	var toolErr *model.ToolExitError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Contains(t, err.Error(), "Segmentation fault")
	assert.Zero(t, rt.Count(runtimetest.OpCopyFrom), "output must not be fetched after a failed run")
}

// TestGenerate_ReapFailureAfterSuccess verifies that a failed removal is
// logged but does not discard a good mesh.
func TestGenerate_ReapFailureAfterSuccess(t *testing.T) {
	rt, g := newFixture(t)
	rt.Fail[runtimetest.OpRemove] = errors.New("daemon went away")
	core, logs := observer.New(zap.WarnLevel)
	g.Logger = zap.New(core)

	m, err := g.Generate(context.Background(), "algebraic3d\n", Options{})
	require.NoError(t, err)
	require.NotNil(t, m)

	entries := logs.FilterMessage("failed to remove container").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "daemon went away")
}

// TestGenerate_ReapFailureJoined verifies that a reap error is joined to
// the stage error on failure paths.
func TestGenerate_ReapFailureJoined(t *testing.T) {
	rt, g := newFixture(t)
	rt.Fail[runtimetest.OpExec] = errors.New("exec refused")
	rt.Fail[runtimetest.OpRemove] = errors.New("daemon went away")

	_, err := g.Generate(context.Background(), "algebraic3d\n", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrToolExecution)
	assert.Contains(t, err.Error(), "exec refused")
	assert.Contains(t, err.Error(), "daemon went away")
}

// TestGenerate_KillFailureStillRemoves verifies that removal is attempted
// after a failed kill.
func TestGenerate_KillFailureStillRemoves(t *testing.T) {
	rt, g := newFixture(t)
	rt.Fail[runtimetest.OpKill] = errors.New("already dead")

	_, err := g.Generate(context.Background(), "algebraic3d\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rt.Count(runtimetest.OpRemove))
	assert.Empty(t, rt.Live())
}

// TestGenerate_ReuseContainer verifies that a caller-owned container is
// neither provisioned nor reaped.
func TestGenerate_ReuseContainer(t *testing.T) {
	rt, g := newFixture(t)
	rt.AddContainer("existing")

	m, err := g.Generate(context.Background(), "algebraic3d\n", Options{ContainerID: "existing"})
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, []string{
		runtimetest.OpCopyTo,
		runtimetest.OpExec,
		runtimetest.OpCopyFrom,
		opDecode,
	}, rt.Calls())
	assert.True(t, rt.Container("existing").Running)
}

// TestGenerate_PullPolicy verifies which image operations each policy
// performs.
func TestGenerate_PullPolicy(t *testing.T) {
	ref := DefaultImage.String()

	tests := []struct {
		name      string
		policy    model.PullPolicy
		local     bool
		wantCalls []string
	}{
		{"always pulls even when present", model.PullAlways, true, []string{runtimetest.OpPull}},
		{"missing skips present image", model.PullMissing, true, []string{runtimetest.OpImageExists}},
		{"missing pulls absent image", model.PullMissing, false, []string{runtimetest.OpImageExists, runtimetest.OpPull}},
		{"never does not touch the registry", model.PullNever, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, g := newFixture(t)
			rt.LocalImages[ref] = tt.local

			_, err := g.Generate(context.Background(), "algebraic3d\n", Options{PullPolicy: tt.policy})
			require.NoError(t, err)

			calls := rt.Calls()
			idx := indexOf(calls, runtimetest.OpCreate)
			require.GreaterOrEqual(t, idx, 0)
			assert.Equal(t, tt.wantCalls, nilIfEmpty(calls[:idx]))
		})
	}
}

// TestGenerate_Writers verifies that pull progress and tool output reach
// the caller's writers.
func TestGenerate_Writers(t *testing.T) {
	rt, g := newFixture(t)
	rt.PullOutput = "latest: Pulling from ngsolve/ngsolve\n"

	var progress, echo bytes.Buffer
	_, err := g.Generate(context.Background(), "algebraic3d\n", Options{Progress: &progress, Echo: &echo})
	require.NoError(t, err)

	assert.Equal(t, "latest: Pulling from ngsolve/ngsolve\n", progress.String())
	assert.Equal(t, toolOutput, echo.String())
}

// TestGenerate_InvalidInput verifies that bad input is rejected before any
// runtime call.
func TestGenerate_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		geo  string
		opts Options
	}{
		{"empty geometry", "  \n", Options{}},
		{"unterminated quote", "algebraic3d\n", Options{Params: `-x "oops`}},
		{"bad policy", "algebraic3d\n", Options{PullPolicy: "sometimes"}},
		{"suffix with space", "algebraic3d\n", Options{Suffix: ".my geo"}},
		{"output path with space", "algebraic3d\n", Options{OutputPath: "/my output.msh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, g := newFixture(t)

			_, err := g.Generate(context.Background(), tt.geo, tt.opts)
			var cliErr *model.CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, model.ExitInvalidInput, cliErr.Code)
			assert.Empty(t, rt.Calls())
		})
	}
}

// TestGenerate_NoRuntime verifies the error for a zero Generator.
func TestGenerate_NoRuntime(t *testing.T) {
	_, err := (&Generator{}).Generate(context.Background(), "algebraic3d\n", Options{})
	assert.ErrorContains(t, err, "no container runtime")
}

// stringStager is a Stager that returns plain errors, to check that they
// are classified by stage.
type stringStager struct {
	stageErr, fetchErr error
}

func (s stringStager) Stage(context.Context, string, []byte, string) (string, error) {
	return "/in.geo", s.stageErr
}

func (s stringStager) Fetch(context.Context, string, string) ([]byte, error) {
	return []byte(runtimetest.TetraMSH), s.fetchErr
}

// TestGenerate_CustomStager verifies that an injected Stager replaces the
// archive transfer and that its plain errors are classified.
func TestGenerate_CustomStager(t *testing.T) {
	rt, g := newFixture(t)
	g.Stager = stringStager{}

	m, err := g.Generate(context.Background(), "algebraic3d\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, m.NumCells())
	assert.Zero(t, rt.Count(runtimetest.OpCopyTo))
	assert.Zero(t, rt.Count(runtimetest.OpCopyFrom))
	assert.Equal(t, "-geofile=/in.geo", rt.Execs[0].Cmd[1])

	_, g = newFixture(t)
	g.Stager = stringStager{stageErr: errors.New("disk full")}
	_, err = g.Generate(context.Background(), "algebraic3d\n", Options{})
	assert.ErrorIs(t, err, model.ErrStaging)

	_, g = newFixture(t)
	g.Stager = stringStager{fetchErr: errors.New("connection reset")}
	_, err = g.Generate(context.Background(), "algebraic3d\n", Options{})
	assert.ErrorIs(t, err, model.ErrRetrieval)
}

// TestGenerate_PackageFunc verifies the package-level entry point.
func TestGenerate_PackageFunc(t *testing.T) {
	rt := runtimetest.New()
	rt.ExecHook = netgenHook

	m, err := Generate(context.Background(), rt, "algebraic3d\n", Options{})
	require.NoError(t, err)
	assert.Len(t, m.Points, 4)
	assert.Equal(t, [][]int{{0, 1, 2, 3}}, m.CellsOfType("tetra"))
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
