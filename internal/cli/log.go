package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorkit/wikidot-mirror/internal/config"
	"github.com/mirrorkit/wikidot-mirror/internal/wikidot"
)

var logDepth int

var logCmd = &cobra.Command{
	Use:   "log <site-url> <page>",
	Short: "Show a page's revision history",
	Args:  cobra.ExactArgs(2),
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntVar(&logDepth, "depth", 0, "show only the last N revisions (0 = all)")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	site, slug := args[0], args[1]

	client, err := newReadClient(site)
	if err != nil {
		return err
	}

	pageID, err := client.PageID(cmd.Context(), slug)
	if err != nil {
		return fmt.Errorf("resolving page %s: %w", slug, err)
	}

	revs, err := client.ListRevisions(cmd.Context(), pageID, logDepth)
	if err != nil {
		return fmt.Errorf("listing revisions of %s: %w", slug, err)
	}

	for _, rev := range revs {
		comment := rev.Comment
		if comment == "" {
			comment = "(no message)"
		}
		cmd.Printf("%4d  %s  %-20s %s\n",
			rev.Seq, rev.Timestamp.UTC().Format(time.RFC3339), rev.Author, comment)
	}
	return nil
}

// loadClientConfig resolves the client settings shared by the
// read-only commands.
func loadClientConfig(site string) (wikidot.ClientConfig, error) {
	cfg, err := config.Load("")
	if err != nil {
		return wikidot.ClientConfig{}, fmt.Errorf("loading config: %w", err)
	}
	return wikidot.ClientConfig{
		Site: site,
		RateLimit: wikidot.RateLimitConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			BurstSize:         cfg.Burst,
		},
		MaxAttempts: cfg.MaxAttempts,
	}, nil
}
