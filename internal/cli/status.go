package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorkit/wikidot-mirror/internal/checkpoint"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status <target-dir>",
	Short: "Show a mirror's checkpoint state and recent runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "how many recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := checkpoint.NewStore(filepath.Join(args[0], checkpoint.DirName))
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	pages, err := store.ListPages(ctx)
	if err != nil {
		return err
	}
	deleted := 0
	for _, page := range pages {
		if page.Deleted {
			deleted++
		}
	}
	cmd.Printf("Pages known: %d (%d deleted remotely)\n", len(pages), deleted)

	mark, err := store.LowWaterMark(ctx)
	if err != nil {
		return err
	}
	if mark.IsZero() {
		cmd.Println("Replay position: no commits yet")
	} else {
		cmd.Printf("Replay position: %s (the next run resumes from here)\n", mark.UTC().Format(time.RFC3339))
	}

	runs, err := store.RecentRuns(ctx, statusRuns)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		cmd.Println("Recent runs:")
	}
	for _, run := range runs {
		line := fmt.Sprintf("  %s  pages %d, commits %d",
			run.StartedAt.UTC().Format(time.RFC3339), run.PagesTotal, run.CommitsApplied)
		if run.FinishedAt.IsZero() {
			line += " (interrupted)"
		}
		if len(run.FailedSlugs) > 0 {
			line += ", failed: " + strings.Join(run.FailedSlugs, ", ")
		}
		cmd.Println(line)
	}
	return nil
}
