// Package docker provides Docker Engine API wrappers and container
// lifecycle management for the ngmesh CLI.
//
// This package handles:
//   - Docker client initialization with explicit host selection and
//     automatic socket detection as a CLI fallback (Linux, macOS, Windows)
//   - Container label management so leaked meshing containers can be
//     found and pruned
//   - The runtime operations the meshing flow needs: image pull, container
//     create/start/kill/remove, exec with combined output capture, and
//     archive copy in both directions
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
