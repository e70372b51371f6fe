// Package transfer moves files between the host and a container's
// filesystem using the two archive primitives every container runtime
// offers: "extract this tar stream at a directory" and "give me a tar
// stream of this path".
//
// The orchestrator only sees the Stager interface (stage bytes in, fetch
// bytes out), so the packing format and its compression can change without
// touching the meshing flow. Archive is the tar-based implementation; it
// optionally compresses uploads with gzip or zstd, both of which the Docker
// archive endpoint decompresses transparently.
package transfer
