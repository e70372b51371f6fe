package runtimetest

import (
	"strings"

	"github.com/shinji-kodama/ngmesh/internal/model"
)

// TetraMSH is a single tetrahedron with its four boundary triangles in
// Gmsh 2.2 ASCII, the shape Netgen writes for "Gmsh2 Format".
const TetraMSH = `$MeshFormat
2.2 0 8
$EndMeshFormat
$Nodes
4
1 0 0 0
2 1 0 0
3 0 1 0
4 0 0 1
$EndNodes
$Elements
5
1 2 2 1 1 1 3 2
2 2 2 1 2 1 2 4
3 2 2 1 3 1 4 3
4 2 2 1 4 2 3 4
5 4 2 1 1 1 2 3 4
$EndElements
`

// MeshingHook returns an ExecFunc that behaves like a successful Netgen
// run: it writes payload to the path given by the -meshfile= argument and
// reports output as the process output.
func MeshingHook(payload []byte, output string) ExecFunc {
	return func(rt *Runtime, containerID string, req model.ExecRequest) (model.ExecResult, error) {
		for _, arg := range req.Cmd {
			if p, ok := strings.CutPrefix(arg, "-meshfile="); ok {
				if err := rt.WriteFile(containerID, p, payload); err != nil {
					return model.ExecResult{}, err
				}
			}
		}
		return model.ExecResult{Output: []byte(output)}, nil
	}
}

// FailingHook returns an ExecFunc for a tool run that exits with code
// without producing a mesh.
func FailingHook(code int, output string) ExecFunc {
	return func(*Runtime, string, model.ExecRequest) (model.ExecResult, error) {
		return model.ExecResult{ExitCode: code, Output: []byte(output)}, nil
	}
}
