// Package cli implements the cobra-based CLI commands for ngmesh.
//
// Each subcommand (generate, info, prune) is defined in its own file within
// this package. This file defines the root command that serves as the
// parent for all subcommands and handles global flags, logging setup and
// the mapping from errors to process exit codes.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/ngmesh/internal/logging"
	"github.com/shinji-kodama/ngmesh/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// Errors are reported as JSON on stderr as well.
	jsonOutput bool

	// verbose enables debug-level logging on stderr.
	verbose bool

	// configPath is the --config flag. See config.ResolvePath.
	configPath string

	// dockerHost is the --docker-host flag. It overrides docker_host from
	// the config file.
	dockerHost string
)

// logger is built in the root command's PersistentPreRun from the global
// flags. It discards everything until then.
var logger = zap.NewNop()

// Build information injected from the main package.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action; it only provides
// help text and global flags.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ngmesh",
		Short: "Run the Netgen mesher in a throwaway Docker container",
		Long: `ngmesh meshes a CSG geometry description with Netgen without installing
Netgen locally. Each run pulls an image that contains the netgen binary,
starts a fresh container, copies the geometry in, runs netgen in batch
mode and copies the resulting Gmsh mesh back out. The container is
always removed afterwards.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(logging.Options{
				Verbose: verbose,
				JSON:    jsonOutput,
				Writer:  cmd.ErrOrStderr(),
			})
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (.toml, .yaml or .json); defaults to $NGMESH_CONFIG")
	rootCmd.PersistentFlags().StringVar(&dockerHost, "docker-host", "",
		"Docker daemon address (default: config, $DOCKER_HOST, then the platform socket)")

	rootCmd.AddCommand(NewGenerateCommand())
	rootCmd.AddCommand(NewInfoCommand())
	rootCmd.AddCommand(NewPruneCommand())

	return rootCmd
}

// Execute runs the root command and exits the process with the code
// carried by the returned error. SIGINT and SIGTERM cancel the command's
// context; a running generate still removes its container before exiting.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()

	if err != nil {
		code := printError(os.Stderr, err)
		os.Exit(int(code))
	}
}

// printError writes err to w in the format selected by --json and
// returns the exit code for it. CLIErrors carry their own code (found
// through wrapping and errors.Join); anything else exits with 1.
func printError(w io.Writer, err error) model.ExitCode {
	code := model.ExitGeneralError
	message := err.Error()
	var detail error

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		code = cliErr.Code
		// A bare CLIError prints as "message: detail". Anything wrapped
		// around it (a joined cleanup failure, say) is printed whole.
		if err == error(cliErr) {
			message = cliErr.Message
			detail = cliErr.Err
		}
	}

	if jsonOutput {
		errObj := map[string]interface{}{
			"message": message,
			"code":    int(code),
		}
		if detail != nil {
			errObj["detail"] = detail.Error()
		}
		data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return code
	}

	if detail != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, detail)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
	return code
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}
