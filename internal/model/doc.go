// Package model defines the domain types and value objects for the ngmesh
// CLI.
//
// This package contains pure data structures with no external dependencies.
// Containers created by ngmesh are short-lived: every handle, staged path and
// exec result described here lives only for the duration of one generate
// call. The only state that outlives a call is the set of Docker labels on a
// container that failed to be reaped, which "ngmesh prune" uses to find it.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling,
// together with the sentinel errors that classify which stage of the
// meshing round trip failed.
package model
