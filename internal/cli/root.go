// Package cli wires the wdmirror commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mirrorkit/wikidot-mirror/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "wdmirror",
	Short: "Mirror a wiki's full edit history into a git repository",
	Long: `wdmirror crawls a Wikidot-style site's complete revision history
and replays every edit as a git commit with its original author,
timestamp and comment. Runs are crash-safe and resumable: interrupt a
crawl at any point and the next run picks up exactly where it left
off.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
