package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ngmesh/internal/mesh"
	"github.com/shinji-kodama/ngmesh/internal/model"
)

// NewInfoCommand creates the "info" cobra command.
func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file.msh>",
		Short: "Summarize a Gmsh 2.x mesh file",
		Long: `Decode a local Gmsh MSH 2.x file (ASCII or binary) and print its point
count, element counts per type and bounding box.

Examples:
  ngmesh info cube.msh
  ngmesh info cube.msh --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd, args[0])
		},
	}
}

func runInfo(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidInput,
			fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	m, err := mesh.ReadMSH(f)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidInput,
			fmt.Sprintf("failed to decode %s", path), err)
	}

	printMeshSummary(cmd.OutOrStdout(), m, "")
	return nil
}
