// Package netgen runs the Netgen mesher inside a throwaway container.
//
// A Generator drives one fixed sequence per call:
//
//	pull -> create -> start -> stage -> exec -> fetch -> decode -> reap
//
// The container runtime and the file transfer mechanism are both injected
// (Runtime and transfer.Stager), so the sequence can be exercised against
// the in-memory runtime in internal/runtimetest as well as a real Docker
// daemon. A container created by the call is always killed and removed
// before Generate returns, whichever step failed.
package netgen
