// Package commands implements the xcoderctl CLI commands.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sportsball-ai/go-xcoder-session/internal/cliutil/output"
)

// Flags stores global flag values accessible by subcommands, grounded on
// the teacher's cmdutil.GlobalFlags pattern.
var Flags = &GlobalFlags{}

// Version, Commit and Date are set by main from build-time ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// GlobalFlags holds the values of xcoderctl's persistent flags.
type GlobalFlags struct {
	ControlPlaneAddr string
	Output           string
	NoColor          bool
	Verbose          bool
}

var rootCmd = &cobra.Command{
	Use:   "xcoderctl",
	Short: "Operator CLI for the xcoder session runtime",
	Long: `xcoderctl is the command-line operator tool for the xcoder session
runtime: it drives local smoke-test sessions against the in-memory
simulated device for manual testing without real hardware, and queries a
running process's controlplane diagnostic service for live session state.

Use "xcoderctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		Flags.ControlPlaneAddr, _ = cmd.Flags().GetString("controlplane")
		Flags.Output, _ = cmd.Flags().GetString("output")
		Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
		Flags.Verbose, _ = cmd.Flags().GetBool("verbose")
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("controlplane", "localhost:9090", "controlplane gRPC diagnostic service address")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(recycleCmd)
}

// printer returns the Printer configured from the current global flags.
func printer() (*output.Printer, error) {
	format, err := output.ParseFormat(Flags.Output)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format, !Flags.NoColor), nil
}
