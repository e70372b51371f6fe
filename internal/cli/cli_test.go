package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shinji-kodama/ngmesh/internal/config"
	"github.com/shinji-kodama/ngmesh/internal/runtimetest"
)

// fakeClient adapts the in-memory runtime to runtimeClient.
type fakeClient struct {
	*runtimetest.Runtime
	closed bool
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

// useFakeRuntime points generate at an in-memory runtime whose exec
// produces the tetrahedron fixture. The user's config file is ignored.
func useFakeRuntime(t *testing.T) *fakeClient {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")

	rt := runtimetest.New()
	rt.ExecHook = runtimetest.MeshingHook([]byte(runtimetest.TetraMSH), "Meshing done\n")
	fc := &fakeClient{Runtime: rt}

	prev := connectRuntime
	connectRuntime = func(context.Context, string) (runtimeClient, error) { return fc, nil }
	t.Cleanup(func() { connectRuntime = prev })
	return fc
}

// runCLI executes the root command with args and returns what it wrote.
func runCLI(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}
