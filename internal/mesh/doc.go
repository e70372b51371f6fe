// Package mesh holds the in-memory mesh representation returned by a
// meshing run and the Gmsh MSH 2.x codec used to decode Netgen's output.
//
// A Mesh is a list of points plus cell blocks, the same shape the meshio
// Python library produces: consecutive elements of one type form a block,
// and node references are 0-based indices into Points. Points use gonum's
// r3.Vec so callers can feed them straight into gonum geometry code.
//
// Supported input is MSH 2.0 through 2.2, ASCII and binary, which covers
// Netgen's "Gmsh2 Format" export. Gmsh 4 files are rejected explicitly.
package mesh
