// Package cli: prune.go implements "ngmesh prune", which removes meshing
// containers left behind by runs that were killed before they could clean
// up.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/ngmesh/internal/config"
	"github.com/shinji-kodama/ngmesh/internal/docker"
	"github.com/shinji-kodama/ngmesh/internal/model"
)

// pruneFlags holds the flag values for the prune command.
type pruneFlags struct {
	// dryRun lists what would be removed without removing anything.
	dryRun bool

	// olderThan spares containers younger than this, so runs still in
	// progress are not disturbed. Zero removes every managed container.
	olderThan time.Duration
}

// NewPruneCommand creates the "prune" cobra command.
func NewPruneCommand() *cobra.Command {
	flags := &pruneFlags{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove leaked ngmesh containers",
		Long: `Remove containers labeled ngmesh.managed-by=ngmesh that are older than
--older-than. Every generate run removes its own container, so these only
exist when a run was killed (for example with SIGKILL) mid-flight.

Examples:
  ngmesh prune --dry-run
  ngmesh prune --older-than 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "List containers without removing them")
	cmd.Flags().DurationVar(&flags.olderThan, "older-than", time.Hour, "Only remove containers created longer ago than this")

	return cmd
}

func runPrune(cmd *cobra.Command, flags *pruneFlags) error {
	ctx := cmd.Context()
	if flags.olderThan < 0 {
		return model.NewCLIError(model.ExitInvalidInput, "--older-than must not be negative")
	}

	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	host := cfg.DockerHost
	if dockerHost != "" {
		host = dockerHost
	}

	client, err := dialDocker(ctx, host)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	containers, err := docker.ListManagedContainers(ctx, client)
	if err != nil {
		return err
	}
	stale := docker.SelectStale(containers, time.Now().Add(-flags.olderThan))
	logger.Debug("managed containers",
		zap.Int("total", len(containers)),
		zap.Int("stale", len(stale)))

	result := pruneResult{DryRun: flags.dryRun, Containers: stale}
	if !flags.dryRun {
		result.Removed, err = removeAll(ctx, stale, func(ctx context.Context, id string) error {
			return docker.PruneContainer(ctx, client, id)
		})
	}

	printPruneResult(cmd.OutOrStdout(), result)
	return err
}

// removeAll removes each container in turn and returns the IDs that were
// removed. It keeps going after a failure and returns the first error.
func removeAll(ctx context.Context, containers []model.ContainerInfo, remove func(context.Context, string) error) ([]string, error) {
	removed := make([]string, 0, len(containers))
	var firstErr error
	for _, c := range containers {
		if err := remove(ctx, c.ContainerID); err != nil {
			logger.Warn("failed to remove container", zap.String("container", c.ContainerName), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed = append(removed, c.ContainerID)
	}
	return removed, firstErr
}

// pruneResult is what runPrune reports.
type pruneResult struct {
	DryRun     bool
	Containers []model.ContainerInfo
	Removed    []string
}

// printPruneResult outputs the prune result in text or JSON format.
func printPruneResult(w io.Writer, r pruneResult) {
	if IsJSONOutput() {
		type resultJSON struct {
			DryRun     bool                  `json:"dryRun"`
			Containers []model.ContainerInfo `json:"containers"`
			Removed    []string              `json:"removed"`
		}
		out := resultJSON{
			DryRun:     r.DryRun,
			Containers: r.Containers,
			Removed:    r.Removed,
		}
		// Empty slices print as [] rather than null.
		if out.Containers == nil {
			out.Containers = []model.ContainerInfo{}
		}
		if out.Removed == nil {
			out.Removed = []string{}
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if len(r.Containers) == 0 {
		fmt.Fprintln(w, "No leaked ngmesh containers found.")
		return
	}

	removed := make(map[string]bool, len(r.Removed))
	for _, id := range r.Removed {
		removed[id] = true
	}

	fmt.Fprintf(w, "%-20s %-14s %-10s %-22s %s\n", "NAME", "ID", "STATUS", "CREATED", "RESULT")
	for _, c := range r.Containers {
		result := "failed"
		switch {
		case r.DryRun:
			result = "would remove"
		case removed[c.ContainerID]:
			result = "removed"
		}
		fmt.Fprintf(w, "%-20s %-14s %-10s %-22s %s\n",
			c.ContainerName,
			model.ShortID(c.ContainerID),
			c.Status,
			c.CreatedAt.UTC().Format(time.RFC3339),
			result,
		)
	}
}
