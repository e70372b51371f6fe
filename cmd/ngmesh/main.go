// Package main is the entry point for the ngmesh CLI.
//
// This binary runs the Netgen mesher in throwaway Docker containers. It
// delegates all functionality to the internal/cli package, which defines
// the cobra commands.
//
// Build-time variables (version, commit, date) are injected via ldflags.
// During development, they default to "dev", "none", and "unknown"
// respectively.
package main

import (
	"github.com/shinji-kodama/ngmesh/internal/cli"
)

// version, commit, and date are set at build time via ldflags, e.g.
//
//	go build -ldflags "-X main.version=1.2.0 -X main.commit=$(git rev-parse --short HEAD)" ./cmd/ngmesh
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
