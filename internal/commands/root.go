package commands

import (
	"log/slog"

	"github.com/ppiankov/cx1export/internal/config"
	"github.com/ppiankov/cx1export/internal/export"
	"github.com/ppiankov/cx1export/internal/logging"
	"github.com/spf13/cobra"
)

var (
	debug   bool
	version string
	commit  string
	date    string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cx1export",
	Short: "cx1export - Checkmarx One audit and scan exporter",
	Long: `cx1export downloads audit events and scan results from a Checkmarx One
tenant and writes them as CSV files or an Excel workbook, one table per
source and scan engine.

Without a subcommand both audit events and scans are exported. Without
dates the last 30 days are exported.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(debug)
		loaded, err := config.Load(".")
		if err != nil {
			slog.Warn("Failed to load config file", "error", err)
		} else {
			cfg = loaded
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, export.ModeBoth)
	},
}

// Execute runs the root command with injected build info.
func Execute(v, c, d string) error {
	version = v
	commit = c
	date = d
	return rootCmd.Execute()
}

// GetVersion returns the current version.
func GetVersion() string {
	return version
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging, including replayable curl commands")
	addExportFlags(rootCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}
